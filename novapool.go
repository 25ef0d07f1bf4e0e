// Package novapool is a buffer pool manager for disk-backed storage engines:
// a bounded cache of block-sized frames with pin/unpin semantics, write-ahead
// logging of dirty frames, and LRU-K (K=3) victim selection.
package novapool

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tuannm99/novapool/internal"
	"github.com/tuannm99/novapool/internal/buffer"
	"github.com/tuannm99/novapool/internal/storage"
	"github.com/tuannm99/novapool/internal/wal"
)

var (
	_ buffer.BlockStore = (*storage.FileManager)(nil)
	_ buffer.LogStore   = (*wal.Manager)(nil)
)

// Pool bundles the file manager, the write-ahead log, and the buffer manager
// into one instance rooted at a data directory.
type Pool struct {
	mu     sync.Mutex
	closed bool

	FileMgr *storage.FileManager
	Log     *wal.Manager
	Buffers *buffer.Manager
}

// Open assembles a pool from cfg. logger and reg may be nil.
func Open(cfg *internal.Config, logger *zap.SugaredLogger, reg prometheus.Registerer) (*Pool, error) {
	fm, err := storage.NewFileManager(cfg.Storage.Dir, cfg.Storage.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("novapool: open file manager: %w", err)
	}

	lm, err := wal.Open(cfg.Storage.Dir, cfg.Wal.File)
	if err != nil {
		_ = fm.Close()
		return nil, fmt.Errorf("novapool: open wal: %w", err)
	}

	bm := buffer.NewManager(fm, lm, buffer.Options{
		Capacity:   cfg.Pool.Capacity,
		MaxWait:    cfg.MaxWait(),
		Logger:     logger,
		Registerer: reg,
	})

	return &Pool{FileMgr: fm, Log: lm, Buffers: bm}, nil
}

// Close syncs the log and closes every file handle. Dirty frames that no
// transaction flushed stay unwritten; recovery replays their log records.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	err := p.Log.Close()
	if cerr := p.FileMgr.Close(); err == nil {
		err = cerr
	}
	return err
}
