package buffer

import (
	"container/list"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tuannm99/novapool/internal/storage"
)

// ErrBufferAbort is returned by Pin when no frame could be acquired within
// the manager's wait limit. Callers typically abort the enclosing
// transaction.
var ErrBufferAbort = errors.New("buffer: no buffer available within the wait limit")

const (
	// DefaultCapacity is the pool size used when Options leaves it zero.
	DefaultCapacity = 1000

	// DefaultMaxWait bounds how long Pin blocks for a free frame.
	DefaultMaxWait = 10 * time.Second
)

// Options configures a Manager. Zero values fall back to defaults; a nil
// Registerer leaves the metrics unregistered.
type Options struct {
	Capacity   int
	MaxWait    time.Duration
	Logger     *zap.SugaredLogger
	Registerer prometheus.Registerer
}

// Manager is the buffer pool: a bounded table of frames keyed by block,
// serving concurrent pin requests and picking eviction victims by backward
// K-distance with the recency queue as tie-breaker.
//
// A single mutex guards the table, the queue, the access history, and all
// frame metadata. Block and log I/O run with the mutex held.
type Manager struct {
	mu   sync.Mutex
	wake chan struct{}

	store    BlockStore
	log      LogStore
	capacity int
	maxWait  time.Duration

	table     map[storage.BlockID]*Buffer
	queue     *list.List // *Buffer; tail = most recently touched
	hist      *accessHistory
	available int

	logger  *zap.SugaredLogger
	metrics *poolMetrics
}

// NewManager builds a pool over the given block and log stores.
func NewManager(store BlockStore, log LogStore, opts Options) *Manager {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	m := &Manager{
		wake:      make(chan struct{}),
		store:     store,
		log:       log,
		capacity:  capacity,
		maxWait:   maxWait,
		table:     make(map[storage.BlockID]*Buffer, capacity),
		queue:     list.New(),
		hist:      newAccessHistory(),
		available: capacity,
		logger:    logger,
		metrics:   newPoolMetrics(opts.Registerer),
	}
	m.metrics.available.Set(float64(capacity))
	return m
}

// Available returns the number of frames that a pin could claim right now:
// unpinned resident frames plus never-allocated slots.
func (m *Manager) Available() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// FindExisting returns the resident frame for blk, or nil when the block is
// not in the pool. Primarily a diagnostic; it does not pin.
func (m *Manager) FindExisting(blk storage.BlockID) *Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table[blk]
}

// Pin returns a pinned frame holding blk, reading the block in (and evicting
// a victim) if necessary. When every frame is pinned, Pin waits for an unpin
// wakeup, giving up with ErrBufferAbort once maxWait has elapsed.
func (m *Manager) Pin(blk storage.BlockID) (*Buffer, error) {
	deadline := time.Now().Add(m.maxWait)

	m.mu.Lock()
	for {
		buf, err := m.tryPin(blk)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		if buf != nil {
			m.mu.Unlock()
			return buf, nil
		}

		wake := m.wake
		m.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			m.metrics.pinTimeouts.Inc()
			m.logger.Warnw("pin aborted", "block", blk.String(), "waited", m.maxWait)
			return nil, ErrBufferAbort
		}
		select {
		case <-wake:
		case <-time.After(remaining):
		}
		m.mu.Lock()
	}
}

// Unpin releases one pin on buf. When the frame becomes unpinned it is
// eligible for eviction and every waiter is woken to retry.
func (m *Manager) Unpin(buf *Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf.unpin()
	if !buf.IsPinned() {
		m.available++
		m.metrics.available.Set(float64(m.available))
		m.broadcast()
	}
}

// FlushAll writes out every frame modified by txnum.
func (m *Manager) FlushAll(txnum int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, buf := range m.table {
		if buf.ModifyingTx() == txnum {
			if err := buf.flush(); err != nil {
				return err
			}
			m.metrics.flushes.Inc()
		}
	}
	return nil
}

// broadcast wakes every goroutine blocked in Pin. Callers hold m.mu.
func (m *Manager) broadcast() {
	close(m.wake)
	m.wake = make(chan struct{})
}

// tryPin attempts one pin of blk under the lock. It returns (nil, nil) when
// every frame is pinned and the caller should wait.
func (m *Manager) tryPin(blk storage.BlockID) (*Buffer, error) {
	buf, ok := m.table[blk]
	if ok {
		m.queue.MoveToBack(buf.elem)
		m.metrics.hits.Inc()
	} else {
		m.metrics.misses.Inc()
		var err error
		buf, err = m.allocate(blk)
		if err != nil {
			return nil, err
		}
		if buf == nil {
			return nil, nil
		}
	}

	if !buf.IsPinned() {
		m.available--
		m.metrics.available.Set(float64(m.available))
	}
	buf.pin()

	// Exactly one history record per successful pin, after the pin count is
	// up and after any eviction has erased the victim's entries. A freshly
	// read block therefore starts at +Inf distance.
	m.hist.record(blk)

	return buf, nil
}

// allocate finds a frame for blk on a miss: a fresh frame while the table is
// below capacity, otherwise an unpinned victim. Returns (nil, nil) when
// every resident frame is pinned.
func (m *Manager) allocate(blk storage.BlockID) (*Buffer, error) {
	var victim *Buffer
	if len(m.table) < m.capacity {
		victim = newBuffer(m.store, m.log)
	} else {
		victim = m.chooseUnpinned()
		if victim == nil {
			return nil, nil
		}
		old := *victim.Block()
		delete(m.table, old)
		m.queue.Remove(victim.elem)
		victim.elem = nil
		m.hist.remove(old)
		m.metrics.evictions.Inc()
		m.logger.Debugw("evicting block", "block", old.String(), "for", blk.String())
	}

	if err := victim.assignToBlock(blk); err != nil {
		// The frame was reset to unassigned; the table already shrank, so
		// the slot counts as unallocated and available stays correct.
		m.metrics.resident.Set(float64(len(m.table)))
		return nil, err
	}

	m.table[blk] = victim
	victim.elem = m.queue.PushBack(victim)
	m.metrics.resident.Set(float64(len(m.table)))
	return victim, nil
}

// chooseUnpinned scans the recency queue head to tail. The first unpinned
// frame whose block scores +Inf wins outright (oldest-touched first among
// under-sampled blocks); otherwise the unpinned frame with the greatest
// finite distance wins, earlier queue position breaking ties.
func (m *Manager) chooseUnpinned() *Buffer {
	var best *Buffer
	bestDist := math.Inf(-1)

	for e := m.queue.Front(); e != nil; e = e.Next() {
		buf := e.Value.(*Buffer)
		if buf.IsPinned() {
			continue
		}
		d := m.hist.distance(*buf.Block())
		if math.IsInf(d, 1) {
			return buf
		}
		if d > bestDist {
			best = buf
			bestDist = d
		}
	}
	return best
}
