package storage

import (
	"github.com/tuannm99/novapool/internal/bx"
)

// Page is the in-memory image of one disk block. Its buffer is allocated
// once, sized to the file manager's block size, and reused for the lifetime
// of the frame that owns it.
//
// Accessors address absolute offsets within the page. Callers lay out their
// own content; offsets are only checked by the slice bounds.
type Page struct {
	buf []byte
}

// NewPage allocates a zeroed page of the given size.
func NewPage(size int) *Page {
	return &Page{buf: make([]byte, size)}
}

// Size returns the page length in bytes.
func (p *Page) Size() int { return len(p.buf) }

// Contents exposes the raw backing buffer. The file manager reads and writes
// through it; callers must not resize it.
func (p *Page) Contents() []byte { return p.buf }

func (p *Page) Uint32(off int) uint32 { return bx.U32At(p.buf, off) }

func (p *Page) PutUint32(off int, v uint32) { bx.PutU32At(p.buf, off, v) }

func (p *Page) Uint64(off int) uint64 { return bx.U64At(p.buf, off) }

func (p *Page) PutUint64(off int, v uint64) { bx.PutU64At(p.buf, off, v) }

// Bytes reads a length-prefixed byte slice written by PutBytes. The returned
// slice is a copy.
func (p *Page) Bytes(off int) []byte {
	n := int(bx.U32At(p.buf, off))
	out := make([]byte, n)
	copy(out, p.buf[off+4:off+4+n])
	return out
}

// PutBytes writes v at off with a 4-byte length prefix and returns the number
// of bytes consumed.
func (p *Page) PutBytes(off int, v []byte) int {
	bx.PutU32At(p.buf, off, uint32(len(v)))
	copy(p.buf[off+4:], v)
	return 4 + len(v)
}

// String reads a length-prefixed string written by PutString.
func (p *Page) String(off int) string {
	return string(p.Bytes(off))
}

// PutString writes s at off with a 4-byte length prefix and returns the
// number of bytes consumed.
func (p *Page) PutString(off int, s string) int {
	return p.PutBytes(off, []byte(s))
}
