package buffer

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, capacity int, maxWait time.Duration, events *[]string) (*Manager, *mockStore, *mockLog) {
	t.Helper()
	store := newMockStore(events)
	log := &mockLog{events: events}
	m := NewManager(store, log, Options{Capacity: capacity, MaxWait: maxWait})
	return m, store, log
}

// checkInvariants asserts the structural invariants that must hold after
// every public call returns.
func checkInvariants(t *testing.T, m *Manager) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	unpinned := 0
	for _, buf := range m.table {
		require.GreaterOrEqual(t, buf.pins, 0)
		if buf.pins == 0 {
			unpinned++
		}
	}
	require.Equal(t, (m.capacity-len(m.table))+unpinned, m.available)
	require.Equal(t, len(m.table), m.queue.Len())
	require.Equal(t, len(m.table), m.hist.len())
}

func TestManager_PinUnpin_AvailableAccounting(t *testing.T) {
	m, _, _ := newTestManager(t, 3, time.Second, nil)

	buf, err := m.Pin(blk(1))
	require.NoError(t, err)
	assert.True(t, buf.IsPinned())
	assert.Equal(t, 2, m.Available())
	checkInvariants(t, m)

	m.Unpin(buf)
	assert.False(t, buf.IsPinned())
	assert.Equal(t, 3, m.Available())
	checkInvariants(t, m)
}

func TestManager_Pin_SameBlockSharesFrame(t *testing.T) {
	m, store, _ := newTestManager(t, 3, time.Second, nil)

	a, err := m.Pin(blk(1))
	require.NoError(t, err)
	b, err := m.Pin(blk(1))
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, store.reads)
	assert.Equal(t, 2, m.Available())

	m.Unpin(a)
	assert.True(t, b.IsPinned())
	m.Unpin(b)
	assert.Equal(t, 3, m.Available())
	checkInvariants(t, m)
}

func TestManager_Pin_AbortsWhenAllPinned(t *testing.T) {
	m, _, _ := newTestManager(t, 3, 50*time.Millisecond, nil)

	for i := 1; i <= 3; i++ {
		_, err := m.Pin(blk(i))
		require.NoError(t, err)
	}
	require.Zero(t, m.Available())

	start := time.Now()
	_, err := m.Pin(blk(4))
	require.ErrorIs(t, err, ErrBufferAbort)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	checkInvariants(t, m)
}

func TestManager_Pin_EvictsOldestUnderSampledBlock(t *testing.T) {
	m, _, _ := newTestManager(t, 3, time.Second, nil)

	pinUnpin := func(n int) {
		buf, err := m.Pin(blk(n))
		require.NoError(t, err)
		m.Unpin(buf)
	}

	// b3 ends up the least recently touched of the under-sampled blocks.
	pinUnpin(1)
	pinUnpin(2)
	pinUnpin(3)
	pinUnpin(1)
	pinUnpin(2)

	buf, err := m.Pin(blk(4))
	require.NoError(t, err)
	defer m.Unpin(buf)

	assert.Nil(t, m.FindExisting(blk(3)))
	assert.NotNil(t, m.FindExisting(blk(1)))
	assert.NotNil(t, m.FindExisting(blk(2)))
	assert.NotNil(t, m.FindExisting(blk(4)))
	checkInvariants(t, m)
}

func TestManager_Pin_EvictsGreatestBackwardDistance(t *testing.T) {
	m, _, _ := newTestManager(t, 2, time.Second, nil)

	pinUnpin := func(n int) {
		buf, err := m.Pin(blk(n))
		require.NoError(t, err)
		m.Unpin(buf)
	}

	// Both blocks reach three accesses (finite distance). b1's window is
	// then aged by b2's accesses, so b1 scores higher and is the victim.
	pinUnpin(1)
	pinUnpin(1)
	pinUnpin(1)
	pinUnpin(2)
	pinUnpin(2)
	pinUnpin(2)

	buf, err := m.Pin(blk(3))
	require.NoError(t, err)
	defer m.Unpin(buf)

	assert.Nil(t, m.FindExisting(blk(1)))
	assert.NotNil(t, m.FindExisting(blk(2)))
	checkInvariants(t, m)
}

func TestManager_Eviction_SkipsPinnedFrames(t *testing.T) {
	m, _, _ := newTestManager(t, 2, time.Second, nil)

	held, err := m.Pin(blk(1))
	require.NoError(t, err)

	free, err := m.Pin(blk(2))
	require.NoError(t, err)
	m.Unpin(free)

	// Only b2 is evictable even though b1 was touched earlier.
	buf, err := m.Pin(blk(3))
	require.NoError(t, err)

	assert.NotNil(t, m.FindExisting(blk(1)))
	assert.Nil(t, m.FindExisting(blk(2)))

	m.Unpin(buf)
	m.Unpin(held)
	checkInvariants(t, m)
}

func TestManager_Eviction_FlushesLogBeforeData(t *testing.T) {
	var events []string
	m, _, _ := newTestManager(t, 3, time.Second, &events)

	buf, err := m.Pin(blk(1))
	require.NoError(t, err)
	buf.SetModified(1, 1)
	m.Unpin(buf)

	for i := 2; i <= 3; i++ {
		b, err := m.Pin(blk(i))
		require.NoError(t, err)
		m.Unpin(b)
	}

	// b1 is least recently pinned and under-sampled: evicted, and its log
	// record must be durable before its bytes are written.
	_, err = m.Pin(blk(4))
	require.NoError(t, err)

	wantFlush := "log.flush 1"
	wantWrite := fmt.Sprintf("write %v", blk(1))
	flushAt, writeAt := -1, -1
	for i, e := range events {
		switch e {
		case wantFlush:
			flushAt = i
		case wantWrite:
			writeAt = i
		}
	}
	require.NotEqual(t, -1, flushAt, "log flush never observed")
	require.NotEqual(t, -1, writeAt, "block write never observed")
	assert.Less(t, flushAt, writeAt)
}

func TestManager_FlushAll_OnlyTargetTransaction(t *testing.T) {
	m, store, _ := newTestManager(t, 3, time.Second, nil)

	b1, err := m.Pin(blk(1))
	require.NoError(t, err)
	b1.SetModified(7, 1)
	m.Unpin(b1)

	b2, err := m.Pin(blk(2))
	require.NoError(t, err)
	b2.SetModified(7, 2)
	m.Unpin(b2)

	b3, err := m.Pin(blk(3))
	require.NoError(t, err)
	b3.SetModified(8, 3)
	m.Unpin(b3)

	require.NoError(t, m.FlushAll(7))

	assert.Equal(t, 2, store.writes)
	assert.False(t, b1.IsDirty())
	assert.Equal(t, -1, b1.ModifyingTx())
	assert.False(t, b2.IsDirty())
	assert.True(t, b3.IsDirty())
	assert.Equal(t, 8, b3.ModifyingTx())
	checkInvariants(t, m)
}

func TestManager_FindExisting_NilWhenNotResident(t *testing.T) {
	m, _, _ := newTestManager(t, 3, time.Second, nil)
	assert.Nil(t, m.FindExisting(blk(42)))
}

func TestManager_Pin_IOErrorKeepsPoolConsistent(t *testing.T) {
	m, store, _ := newTestManager(t, 3, time.Second, nil)

	store.readErr = fmt.Errorf("disk gone")
	_, err := m.Pin(blk(1))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrBufferAbort)
	checkInvariants(t, m)

	store.readErr = nil
	buf, err := m.Pin(blk(1))
	require.NoError(t, err)
	assert.Equal(t, 2, m.Available())
	m.Unpin(buf)
	checkInvariants(t, m)
}

func TestManager_Pin_WaiterWokenByUnpin(t *testing.T) {
	m, _, _ := newTestManager(t, 1, 2*time.Second, nil)

	held, err := m.Pin(blk(1))
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		buf, err := m.Pin(blk(2))
		if err == nil {
			m.Unpin(buf)
		}
		got <- err
	}()

	time.Sleep(50 * time.Millisecond)
	m.Unpin(held)

	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up")
	}
	checkInvariants(t, m)
}

func TestManager_ConcurrentPinsShareFrame(t *testing.T) {
	m, _, _ := newTestManager(t, 3, time.Second, nil)

	bufs := make(chan *Buffer, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf, err := m.Pin(blk(1))
			assert.NoError(t, err)
			bufs <- buf
		}()
	}
	wg.Wait()
	close(bufs)

	a := <-bufs
	b := <-bufs
	require.Same(t, a, b)

	m.mu.Lock()
	require.Equal(t, 2, a.pins)
	m.mu.Unlock()

	m.Unpin(a)
	m.Unpin(b)
	assert.False(t, a.IsPinned())
	assert.Equal(t, 3, m.Available())
	checkInvariants(t, m)
}

func TestManager_Stress_PinUnpinCycles(t *testing.T) {
	m, _, _ := newTestManager(t, 3, 5*time.Second, nil)

	const (
		workers = 10
		cycles  = 100
		blocks  = 10
	)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < cycles; i++ {
				buf, err := m.Pin(blk((w + i) % blocks))
				if !assert.NoError(t, err) {
					return
				}
				m.Unpin(buf)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, m.Available())
	checkInvariants(t, m)
}
