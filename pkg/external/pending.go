package external

import (
	"github.com/thcristo/planesweep-knn/pkg/heap"
	"github.com/thcristo/planesweep-knn/pkg/point"
)

// pendingEntry carries one input point's partial search state across
// window boundaries: its coordinates (needed to resume the sweep) and the
// heap it has accumulated so far.
type pendingEntry struct {
	p point.Point
	h *heap.NeighborHeap
}

// pendingMap owns the heaps of every input point whose search has not yet
// examined every stripe it needs. It is mutated only during the
// single-threaded commit phase between windows; workers never touch it
// directly during parallel processing of a window.
type pendingMap struct {
	entries map[uint64]*pendingEntry
}

func newPendingMap() *pendingMap {
	return &pendingMap{entries: make(map[uint64]*pendingEntry)}
}

func (m *pendingMap) put(p point.Point, h *heap.NeighborHeap) {
	m.entries[p.Id] = &pendingEntry{p: p, h: h}
}

func (m *pendingMap) get(id uint64) (*pendingEntry, bool) {
	e, ok := m.entries[id]
	return e, ok
}

func (m *pendingMap) delete(id uint64) {
	delete(m.entries, id)
}

func (m *pendingMap) len() int {
	return len(m.entries)
}

// complete reports whether a heap's stripe bookkeeping shows the search as
// finished: every stripe from 0 to N-1 has been considered.
func complete(h *heap.NeighborHeap, numStripes int) bool {
	return h.LowStripe() <= 0 && h.HighStripe() >= numStripes-1
}
