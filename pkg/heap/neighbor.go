// Package heap implements the bounded max-heap of candidate neighbors each
// input point accumulates while being swept against a training set.
package heap

import "math"

// Sentinel is the placeholder neighbor a fresh heap is filled with: training
// id 0 can never occur (training ids are 1-based), and +Inf sorts last, so
// every real candidate always wins the first comparison against it.
var Sentinel = Neighbor{TrainingID: 0, DistSq: math.Inf(1)}

// Neighbor is one candidate nearest-neighbor result: a training point id and
// its squared distance from the input point being processed.
type Neighbor struct {
	TrainingID uint64
	DistSq     float64
}

// NeighborHeap is a fixed-capacity max-heap of the k closest neighbors found
// so far for one input point. It is array-backed and manually sifted rather
// than built on container/heap: CheckAdd runs once per training point
// examined and must not box or allocate.
type NeighborHeap struct {
	items []Neighbor

	// additions counts successful replacements, exposed for the
	// numAdditions statistic the CLI reports.
	additions uint64

	// lowStripe/highStripe bound the stripe range already searched for
	// this input point; used by the windowed external-memory scheduler
	// to resume a carried-over pending heap without re-scanning stripes
	// it has already exhausted.
	lowStripe, highStripe int

	// deterministicTies breaks exact d² ties by training id instead of
	// letting the later-visited candidate replace the incumbent, so results
	// no longer depend on stripe visitation order.
	deterministicTies bool
}

// SetDeterministicTies enables or disables the trainingId tie-break.
func (h *NeighborHeap) SetDeterministicTies(v bool) { h.deterministicTies = v }

// New returns a heap of capacity k, filled with Sentinel entries.
func New(k int) *NeighborHeap {
	items := make([]Neighbor, k)
	for i := range items {
		items[i] = Sentinel
	}
	return &NeighborHeap{items: items}
}

// Len returns the heap's capacity (always k, never fewer: unfilled slots
// hold Sentinel).
func (h *NeighborHeap) Len() int { return len(h.items) }

// Max returns the current worst (largest) squared distance held, i.e. the
// pruning threshold for CheckAdd.
func (h *NeighborHeap) Max() float64 { return h.items[0].DistSq }

// Additions returns the number of times a candidate has displaced the
// current maximum.
func (h *NeighborHeap) Additions() uint64 { return h.additions }

// LowStripe and HighStripe report the stripe range already searched for the
// heap's owning input point (external scheduler bookkeeping).
func (h *NeighborHeap) LowStripe() int  { return h.lowStripe }
func (h *NeighborHeap) HighStripe() int { return h.highStripe }

// SetLowStripe and SetHighStripe update that bookkeeping.
func (h *NeighborHeap) SetLowStripe(s int)  { h.lowStripe = s }
func (h *NeighborHeap) SetHighStripe(s int) { h.highStripe = s }

// Add unconditionally replaces the current max with a new candidate. CheckAdd
// and CheckAddStripe call it once they have decided the candidate wins.
func (h *NeighborHeap) Add(trainingID uint64, distSq float64) {
	h.items[0] = Neighbor{TrainingID: trainingID, DistSq: distSq}
	h.additions++
	h.siftDown(0)
}

// CheckAdd is the fused compare-and-prune primitive the sweep kernel calls
// for every candidate training point. If distSq improves on the current
// worst neighbor, the candidate replaces it. Otherwise, if dx alone (the
// x-axis separation already swept past) guarantees no closer point remains
// in this direction, CheckAdd returns false and the caller should stop
// sweeping further in that direction.
func (h *NeighborHeap) CheckAdd(trainingID uint64, distSq, dx float64) bool {
	max := h.items[0].DistSq
	if distSq < max || (distSq == max && h.tieWins(trainingID)) {
		h.Add(trainingID, distSq)
		return true
	}
	return dx*dx < max
}

// CheckAddStripe is CheckAdd with an extra mindy term: the distance from the
// input point to the nearer edge of a training stripe not yet visited. Used
// when deciding whether to expand the stripe search further.
func (h *NeighborHeap) CheckAddStripe(trainingID uint64, distSq, dx, mindy float64) bool {
	max := h.items[0].DistSq
	if distSq < max || (distSq == max && h.tieWins(trainingID)) {
		h.Add(trainingID, distSq)
		return true
	}
	return dx*dx+mindy*mindy < max
}

// tieWins decides whether a candidate at exactly the current k-th distance
// replaces the incumbent. Normally the later candidate wins, so tie
// resolution is a pure function of visitation order; with deterministic
// ties the smaller training id wins instead, independent of order.
func (h *NeighborHeap) tieWins(trainingID uint64) bool {
	if h.deterministicTies {
		return trainingID < h.items[0].TrainingID
	}
	return true
}

// DrainSorted empties the heap into a slice ordered by ascending distance,
// nearest neighbor first, consuming the heap in the process.
func (h *NeighborHeap) DrainSorted() []Neighbor {
	n := len(h.items)
	out := make([]Neighbor, n)
	size := n
	for i := n - 1; i >= 0; i-- {
		out[i] = h.items[0]
		size--
		h.items[0] = h.items[size]
		siftDownItems(h.items[:size], 0)
	}
	h.items = out
	return out
}

// Refill replaces the heap's contents with a previously-removed neighbor
// set and re-establishes the heap invariant. The windowed scheduler does not
// call it: its pending entries keep the heap itself between windows.
func (h *NeighborHeap) Refill(neighbors []Neighbor) {
	h.items = append(h.items[:0], neighbors...)
	for len(h.items) < cap(h.items) {
		h.items = append(h.items, Sentinel)
	}
	n := len(h.items)
	for i := n/2 - 1; i >= 0; i-- {
		h.siftDown(i)
	}
}

func (h *NeighborHeap) siftDown(i int) { siftDownItems(h.items, i) }

func siftDownItems(items []Neighbor, i int) {
	n := len(items)
	for {
		largest := i
		left := 2*i + 1
		right := 2*i + 2
		if left < n && items[left].DistSq > items[largest].DistSq {
			largest = left
		}
		if right < n && items[right].DistSq > items[largest].DistSq {
			largest = right
		}
		if largest == i {
			return
		}
		items[i], items[largest] = items[largest], items[i]
		i = largest
	}
}
