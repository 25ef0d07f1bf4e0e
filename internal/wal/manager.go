package wal

import (
	"bufio"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/tuannm99/novapool/internal/bx"
)

var (
	ErrBadMagic  = errors.New("wal: bad magic")
	ErrBadCRC    = errors.New("wal: bad crc")
	ErrBadRecord = errors.New("wal: bad record")
	ErrShortRead = errors.New("wal: short read")
	ErrNoWALFile = errors.New("wal: wal file not found")
)

const (
	magicU32   uint32 = 0x4C57504E // "NPWL"
	versionU16        = 1

	// fixed fields: magic(4) ver(2) rsv(2) totalLen(4) crc(4) lsn(8)
	headerSize = 4 + 2 + 2 + 4 + 4
	fixedSize  = headerSize + 8
)

// Manager is an append-only write-ahead log. Records are opaque byte slices;
// the manager frames them, assigns monotonically increasing LSNs starting at
// 1, and tracks a flushed watermark so that Flush(lsn) guarantees every
// record up to and including lsn is durable.
type Manager struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	lsn     int
	flushed int
}

// Open opens (creating if needed) the log file under dir and recovers the
// last assigned LSN from its tail.
func Open(dir, name string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	m := &Manager{f: f, path: path}
	_ = m.initLastLSN()
	return m, nil
}

func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	err := m.f.Sync()
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	m.f = nil
	return err
}

// Append frames rec, writes it to the log, and returns its LSN. The record
// is not durable until a Flush covering the returned LSN.
func (m *Manager) Append(rec []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.f == nil {
		return 0, ErrNoWALFile
	}

	m.lsn++
	lsn := m.lsn

	totalLen := fixedSize + len(rec)
	buf := make([]byte, totalLen)

	bx.PutU32At(buf, 0, magicU32)
	bx.PutU16At(buf, 4, versionU16)
	bx.PutU16At(buf, 6, 0) // reserved
	bx.PutU32At(buf, 8, uint32(totalLen))
	// crc at 12 filled below, over everything after it
	bx.PutU64At(buf, 16, uint64(lsn))
	copy(buf[fixedSize:], rec)

	crc := crc32.ChecksumIEEE(buf[headerSize:])
	bx.PutU32At(buf, 12, crc)

	if _, err := m.f.Write(buf); err != nil {
		return 0, err
	}
	return lsn, nil
}

// LastLSN returns the most recently assigned LSN, 0 if the log is empty.
func (m *Manager) LastLSN() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lsn
}

// Flush makes every record with LSN <= lsn durable. Negative LSNs and LSNs
// at or below the flushed watermark are no-ops.
func (m *Manager) Flush(lsn int) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	if lsn < 0 || lsn <= m.flushed {
		return nil
	}
	if err := m.f.Sync(); err != nil {
		return err
	}
	// Sync persists the whole file, so everything assigned so far is durable.
	m.flushed = m.lsn
	return nil
}

// Replay streams every record from the head of the log through fn in LSN
// order. A torn record at the tail ends the iteration without error.
func (m *Manager) Replay(fn func(lsn int, rec []byte) error) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	path := m.path
	m.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 1<<16)
	for {
		lsn, rec, err := readOne(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			// tolerate torn tail record
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, ErrShortRead) {
				return nil
			}
			return err
		}
		if err := fn(lsn, rec); err != nil {
			return err
		}
	}
}

func readOne(r *bufio.Reader) (int, []byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	if bx.U32At(hdr[:], 0) != magicU32 {
		return 0, nil, ErrBadMagic
	}
	if bx.U16At(hdr[:], 4) != versionU16 {
		return 0, nil, ErrBadRecord
	}
	totalLen := int(bx.U32At(hdr[:], 8))
	if totalLen < fixedSize {
		return 0, nil, ErrBadRecord
	}
	wantCRC := bx.U32At(hdr[:], 12)

	rest := make([]byte, totalLen-headerSize)
	if _, err := io.ReadFull(r, rest); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil, ErrShortRead
		}
		return 0, nil, err
	}
	if crc32.ChecksumIEEE(rest) != wantCRC {
		return 0, nil, ErrBadCRC
	}

	lsn := int(bx.U64(rest))
	rec := make([]byte, len(rest)-8)
	copy(rec, rest[8:])
	return lsn, rec, nil
}

func (m *Manager) initLastLSN() error {
	f, err := os.Open(m.path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 1<<16)
	var last int
	for {
		lsn, _, err := readOne(r)
		if err != nil {
			break
		}
		if lsn > last {
			last = lsn
		}
	}

	if last > 0 {
		m.lsn = last
		m.flushed = last
	}
	return nil
}
