package heap

import (
	"math"
	"sort"
	"testing"
)

func TestNewFillsSentinel(t *testing.T) {
	h := New(3)
	if h.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", h.Len())
	}
	if h.Max() != math.Inf(1) {
		t.Fatalf("Max() = %v, want +Inf", h.Max())
	}
	if h.Additions() != 0 {
		t.Fatalf("Additions() = %d, want 0", h.Additions())
	}
}

func TestCheckAddReplacesWorst(t *testing.T) {
	h := New(2)
	if !h.CheckAdd(1, 4.0, 2.0) {
		t.Fatalf("expected first CheckAdd to report continue")
	}
	if !h.CheckAdd(2, 1.0, 1.0) {
		t.Fatalf("expected second CheckAdd to report continue")
	}
	if h.Additions() != 2 {
		t.Fatalf("Additions() = %d, want 2", h.Additions())
	}
	if h.Max() != 4.0 {
		t.Fatalf("Max() = %v, want 4.0", h.Max())
	}

	// a worse candidate must not replace anything, and should signal
	// the caller to stop once dx alone exceeds the current worst.
	if h.CheckAdd(3, 9.0, 3.0) {
		t.Fatalf("expected CheckAdd to signal stop when dx^2 >= max")
	}
	if h.Additions() != 2 {
		t.Fatalf("Additions() changed on a rejected candidate")
	}

	// a closer candidate replaces the current worst (4.0).
	if !h.CheckAdd(4, 2.0, 1.0) {
		t.Fatalf("expected closer candidate to be accepted")
	}
	got := sortedDistances(h.DrainSorted())
	want := []float64{1.0, 2.0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("DrainSorted()[%d] = %v, want %v (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestCheckAddStripePrunesOnCombinedDistance(t *testing.T) {
	h := New(1)
	h.CheckAdd(1, 1.0, 0.0)
	// dx=0.6, mindy=0.6 -> dx^2+mindy^2 = 0.72 < 1.0, continue searching.
	if !h.CheckAddStripe(2, 5.0, 0.6, 0.6) {
		t.Fatalf("expected CheckAddStripe to continue when combined distance is within bound")
	}
	// dx=1.1, mindy=0 -> 1.21 >= 1.0, stop.
	if h.CheckAddStripe(3, 5.0, 1.1, 0.0) {
		t.Fatalf("expected CheckAddStripe to signal stop when combined distance exceeds bound")
	}
}

func TestDrainSortedOrdersAscending(t *testing.T) {
	h := New(4)
	dists := []float64{9, 1, 5, 3}
	for i, d := range dists {
		h.Add(uint64(i+1), d)
	}
	out := h.DrainSorted()
	if len(out) != 4 {
		t.Fatalf("len(DrainSorted()) = %d, want 4", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].DistSq < out[i-1].DistSq {
			t.Fatalf("DrainSorted() not ascending: %v", out)
		}
	}
}

func TestRefillRestoresHeapInvariant(t *testing.T) {
	h := New(3)
	h.SetLowStripe(2)
	h.SetHighStripe(5)

	carried := []Neighbor{{TrainingID: 10, DistSq: 4.0}, {TrainingID: 11, DistSq: 1.0}}
	h.Refill(carried)

	if h.Max() != math.Inf(1) {
		t.Fatalf("Max() after partial refill = %v, want +Inf (unfilled slot still sentinel)", h.Max())
	}
	if h.LowStripe() != 2 || h.HighStripe() != 5 {
		t.Fatalf("stripe bookkeeping lost across Refill: low=%d high=%d", h.LowStripe(), h.HighStripe())
	}

	if !h.CheckAdd(12, 0.5, 0.1) {
		t.Fatalf("expected CheckAdd against sentinel slot to continue")
	}
	out := sortedDistances(h.DrainSorted())
	want := []float64{0.5, 1.0, 4.0}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("got %v, want %v", out, want)
		}
	}
}

func TestDeterministicTiesPreferSmallerTrainingID(t *testing.T) {
	h := New(1)
	h.SetDeterministicTies(true)
	h.CheckAdd(5, 1.0, 0.0)
	if !h.CheckAdd(2, 1.0, 0.0) {
		t.Fatalf("expected tie to be accepted when candidate id is smaller")
	}
	additionsBefore := h.Additions()
	h.CheckAdd(9, 1.0, 0.0)
	if h.Additions() != additionsBefore {
		t.Fatalf("tie with a larger candidate id must not replace the winner")
	}
	out := h.DrainSorted()
	if out[0].TrainingID != 2 {
		t.Fatalf("winner = %d, want 2", out[0].TrainingID)
	}
}

func sortedDistances(ns []Neighbor) []float64 {
	out := make([]float64, len(ns))
	for i, n := range ns {
		out[i] = n.DistSq
	}
	sort.Float64s(out)
	return out
}
