// Command poolbench drives a NovaPool instance with a concurrent pin/unpin
// workload and reports what the pool did.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tuannm99/novapool"
	"github.com/tuannm99/novapool/internal"
	"github.com/tuannm99/novapool/internal/buffer"
	"github.com/tuannm99/novapool/internal/bx"
	"github.com/tuannm99/novapool/internal/storage"
)

const benchFile = "bench"

func main() {
	var (
		cfgPath string
		workers int
		blocks  int
		ops     int
	)
	flag.StringVar(&cfgPath, "config", "novapool.yaml", "Path to novapool yaml config")
	flag.IntVar(&workers, "workers", 8, "Concurrent workers")
	flag.IntVar(&blocks, "blocks", 64, "Distinct blocks in the working set")
	flag.IntVar(&ops, "ops", 10_000, "Pin/unpin cycles per worker")
	flag.Parse()

	cfg, err := internal.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.Sugar()

	reg := prometheus.NewRegistry()
	pool, err := novapool.Open(cfg, logger, reg)
	if err != nil {
		logger.Fatalw("open pool", "err", err)
	}
	defer func() { _ = pool.Close() }()

	addr := os.Getenv("NOVAPOOL_METRICS_ADDR")
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		go serveMetrics(logger, addr, reg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infow("starting workload",
		"workers", workers, "blocks", blocks, "ops", ops,
		"capacity", cfg.Pool.Capacity)

	var done, aborted atomic.Int64
	start := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(txnum int) {
			defer wg.Done()
			runWorker(ctx, pool, txnum, blocks, ops, &done, &aborted, logger)
		}(w + 1)
	}
	wg.Wait()

	elapsed := time.Since(start)
	logger.Infow("workload finished",
		"ops", done.Load(),
		"aborted", aborted.Load(),
		"elapsed", elapsed,
		"available", pool.Buffers.Available())
}

func runWorker(ctx context.Context, pool *novapool.Pool, txnum, blocks, ops int,
	done, aborted *atomic.Int64, logger *zap.SugaredLogger,
) {
	for i := 0; i < ops; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		blk := storage.NewBlockID(benchFile, rand.Intn(blocks))
		buf, err := pool.Buffers.Pin(blk)
		if err != nil {
			if errors.Is(err, buffer.ErrBufferAbort) {
				aborted.Add(1)
				continue
			}
			logger.Errorw("pin failed", "block", blk.String(), "err", err)
			return
		}

		// Bump a per-block counter and log the change before unpinning.
		n := buf.Contents().Uint64(0)
		buf.Contents().PutUint64(0, n+1)

		rec := make([]byte, 16)
		bx.PutU64At(rec, 0, uint64(blk.Number()))
		bx.PutU64At(rec, 8, n+1)
		lsn, err := pool.Log.Append(rec)
		if err != nil {
			pool.Buffers.Unpin(buf)
			logger.Errorw("wal append failed", "err", err)
			return
		}
		buf.SetModified(txnum, lsn)
		pool.Buffers.Unpin(buf)

		if i%100 == 99 {
			if err := pool.Buffers.FlushAll(txnum); err != nil {
				logger.Errorw("flush failed", "tx", txnum, "err", err)
				return
			}
		}
		done.Add(1)
	}

	if err := pool.Buffers.FlushAll(txnum); err != nil {
		logger.Errorw("final flush failed", "tx", txnum, "err", err)
	}
}

func serveMetrics(logger *zap.SugaredLogger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Infow("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warnw("metrics server stopped", "err", err)
	}
}
