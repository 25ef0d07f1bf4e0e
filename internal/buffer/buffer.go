package buffer

import (
	"container/list"
	"fmt"

	"github.com/tuannm99/novapool/internal/storage"
)

// BlockStore is the slice of the file manager the pool consumes.
type BlockStore interface {
	BlockSize() int
	Read(blk storage.BlockID, p *storage.Page) error
	Write(blk storage.BlockID, p *storage.Page) error
}

// LogStore makes every log record with LSN <= lsn durable. Negative LSNs are
// a no-op.
type LogStore interface {
	Flush(lsn int) error
}

const (
	noTxNum = -1
	noLSN   = -1
)

// Buffer is one frame of the pool: the image of a single block plus the
// bookkeeping needed to decide when it can be reused and what must hit disk
// first. All mutators run under the pool mutex held by the Manager; the
// Buffer itself does no locking.
type Buffer struct {
	store BlockStore
	log   LogStore
	page  *storage.Page
	blk   *storage.BlockID
	pins  int
	dirty bool
	txnum int
	lsn   int

	// position in the manager's recency queue, owned by the Manager
	elem *list.Element
}

func newBuffer(store BlockStore, log LogStore) *Buffer {
	return &Buffer{
		store: store,
		log:   log,
		page:  storage.NewPage(store.BlockSize()),
		txnum: noTxNum,
		lsn:   noLSN,
	}
}

// Contents returns the page holding the block image. Callers coordinate
// their own access to it while the buffer is pinned.
func (b *Buffer) Contents() *storage.Page { return b.page }

// Block returns the identifier of the assigned block, or nil if the buffer
// is unassigned (never assigned, or reset after a failed assignToBlock).
func (b *Buffer) Block() *storage.BlockID { return b.blk }

func (b *Buffer) IsPinned() bool { return b.pins > 0 }

func (b *Buffer) IsDirty() bool { return b.dirty }

// ModifyingTx returns the transaction that last modified the buffer, or -1
// if the current contents match the block on disk.
func (b *Buffer) ModifyingTx() int { return b.txnum }

// SetModified records that txnum changed the page contents and that the log
// record covering the change has sequence number lsn. A negative lsn leaves
// the existing log dependency untouched.
func (b *Buffer) SetModified(txnum, lsn int) {
	if b.blk == nil {
		panic("buffer: SetModified on an unassigned buffer")
	}
	b.dirty = true
	b.txnum = txnum
	if lsn >= 0 && lsn > b.lsn {
		b.lsn = lsn
	}
}

func (b *Buffer) pin() { b.pins++ }

func (b *Buffer) unpin() {
	if b.pins <= 0 {
		panic("buffer: unpin of an unpinned buffer")
	}
	b.pins--
}

// flush writes the page back to its block if a transaction modified it,
// flushing the log up to the recorded LSN first. The log-before-data order
// is the write-ahead guarantee of this layer.
func (b *Buffer) flush() error {
	if b.txnum == noTxNum {
		return nil
	}
	if err := b.log.Flush(b.lsn); err != nil {
		return fmt.Errorf("buffer: flush log for %v: %w", b.blk, err)
	}
	if err := b.store.Write(*b.blk, b.page); err != nil {
		return fmt.Errorf("buffer: write %v: %w", b.blk, err)
	}
	b.txnum = noTxNum
	b.dirty = false
	return nil
}

// assignToBlock points the buffer at blk, flushing the previous contents if
// they were modified and reading the new block in. The caller guarantees the
// buffer is unpinned. On an I/O failure the buffer is left unassigned so the
// pool does not lose the slot.
func (b *Buffer) assignToBlock(blk storage.BlockID) error {
	if err := b.flush(); err != nil {
		b.reset()
		return err
	}
	b.blk = &blk
	if err := b.store.Read(blk, b.page); err != nil {
		b.reset()
		return fmt.Errorf("buffer: read %v: %w", blk, err)
	}
	b.pins = 0
	return nil
}

func (b *Buffer) reset() {
	b.blk = nil
	b.pins = 0
	b.dirty = false
	b.txnum = noTxNum
	b.lsn = noLSN
}
