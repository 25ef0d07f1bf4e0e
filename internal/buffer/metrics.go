package buffer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type poolMetrics struct {
	hits        prometheus.Counter
	misses      prometheus.Counter
	evictions   prometheus.Counter
	flushes     prometheus.Counter
	pinTimeouts prometheus.Counter
	available   prometheus.Gauge
	resident    prometheus.Gauge
}

func newPoolMetrics(reg prometheus.Registerer) *poolMetrics {
	f := promauto.With(reg)
	return &poolMetrics{
		hits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "novapool", Subsystem: "buffer", Name: "hits_total",
			Help: "Pins served by a frame already holding the block.",
		}),
		misses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "novapool", Subsystem: "buffer", Name: "misses_total",
			Help: "Pins that had to allocate or evict a frame.",
		}),
		evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "novapool", Subsystem: "buffer", Name: "evictions_total",
			Help: "Resident blocks displaced to make room for another.",
		}),
		flushes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "novapool", Subsystem: "buffer", Name: "flushes_total",
			Help: "Dirty frames written back by FlushAll.",
		}),
		pinTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "novapool", Subsystem: "buffer", Name: "pin_timeouts_total",
			Help: "Pin attempts that gave up after the wait limit.",
		}),
		available: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "novapool", Subsystem: "buffer", Name: "available",
			Help: "Frames an incoming pin could claim without waiting.",
		}),
		resident: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "novapool", Subsystem: "buffer", Name: "resident",
			Help: "Blocks currently held in the pool.",
		}),
	}
}
