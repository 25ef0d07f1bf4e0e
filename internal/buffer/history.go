package buffer

import (
	"math"

	"github.com/tuannm99/novapool/internal/storage"
)

// historyDepth is the K of the backward K-distance replacement policy.
const historyDepth = 3

const noAccess = -1

// accessHistory tracks the last historyDepth access times of every resident
// block, plus a backward-distance score per block. A block seen fewer than
// historyDepth times scores +Inf and is the preferred eviction victim; once
// the window is full, the score is the span between the oldest and newest
// retained accesses, aged by one for every access to any other block.
//
// Timestamps come from a pool-wide counter that starts at 1 and advances on
// every recorded access.
type accessHistory struct {
	clock    int64
	accesses map[storage.BlockID][historyDepth]int64
	dist     map[storage.BlockID]float64
}

func newAccessHistory() *accessHistory {
	return &accessHistory{
		clock:    1,
		accesses: make(map[storage.BlockID][historyDepth]int64),
		dist:     make(map[storage.BlockID]float64),
	}
}

// record notes one access of blk, then ages every other tracked block.
func (h *accessHistory) record(blk storage.BlockID) {
	slots, ok := h.accesses[blk]
	switch {
	case !ok:
		slots = [historyDepth]int64{h.clock, noAccess, noAccess}
		h.dist[blk] = math.Inf(1)
	case slots[1] == noAccess:
		slots[1] = h.clock
		h.dist[blk] = math.Inf(1)
	case slots[2] == noAccess:
		slots[2] = h.clock
		h.dist[blk] = float64(slots[2] - slots[0])
	default:
		slots = [historyDepth]int64{slots[1], slots[2], h.clock}
		h.dist[blk] = float64(slots[2] - slots[0])
	}
	h.accesses[blk] = slots
	h.clock++

	for other := range h.dist {
		if other != blk {
			h.dist[other]++ // +Inf stays +Inf
		}
	}
}

// distance returns the current backward-distance score of blk. Only tracked
// blocks may be asked for.
func (h *accessHistory) distance(blk storage.BlockID) float64 {
	return h.dist[blk]
}

// remove forgets blk entirely; the next access starts a fresh window.
func (h *accessHistory) remove(blk storage.BlockID) {
	delete(h.accesses, blk)
	delete(h.dist, blk)
}

func (h *accessHistory) len() int { return len(h.dist) }
