package stripe

import (
	"testing"

	"github.com/thcristo/planesweep-knn/pkg/heap"
	"github.com/thcristo/planesweep-knn/pkg/point"
)

// TestSweepOneSinglePoint checks a single input point against three
// training points, k=2, with hand-computed distances.
func TestSweepOneSinglePoint(t *testing.T) {
	input := point.Point{Id: 1, X: 0.5, Y: 0.5}
	training := mkSet(
		[3]float64{1, 0.0, 0.0},
		[3]float64{2, 1.0, 1.0},
		[3]float64{3, 0.25, 0.75},
	)

	data := Build(point.Set{input}, training, 2, WithStripes(1))
	h := heap.New(2)
	SweepOne(input, data, 0, h)

	got := h.DrainSorted()
	if len(got) != 2 {
		t.Fatalf("got %d neighbors, want 2", len(got))
	}
	if got[0].TrainingID != 3 || got[0].DistSq != 0.125 {
		t.Errorf("nearest = %+v, want {3 0.125}", got[0])
	}
	if got[1].TrainingID != 1 || got[1].DistSq != 0.5 {
		t.Errorf("second = %+v, want {1 0.5}", got[1])
	}
}

// TestSweepOneCollinear puts every point on y=0 so both walk directions
// prune purely on dx.
func TestSweepOneCollinear(t *testing.T) {
	input := mkSet([3]float64{1, 0.0, 0.0}, [3]float64{2, 1.0, 0.0})
	training := mkSet(
		[3]float64{1, 0.25, 0.0},
		[3]float64{2, 0.5, 0.0},
		[3]float64{3, 0.75, 0.0},
	)

	data := Build(input, training, 2, WithStripes(1))

	h1 := heap.New(2)
	SweepOne(input[0], data, 0, h1)
	got1 := h1.DrainSorted()
	if got1[0].TrainingID != 1 || got1[0].DistSq != 0.0625 {
		t.Errorf("neighbor[1] nearest = %+v, want {1 0.0625}", got1[0])
	}
	if got1[1].TrainingID != 2 || got1[1].DistSq != 0.25 {
		t.Errorf("neighbor[1] second = %+v, want {2 0.25}", got1[1])
	}

	h2 := heap.New(2)
	SweepOne(input[1], data, 0, h2)
	got2 := h2.DrainSorted()
	if got2[0].TrainingID != 3 || got2[0].DistSq != 0.0625 {
		t.Errorf("neighbor[2] nearest = %+v, want {3 0.0625}", got2[0])
	}
	if got2[1].TrainingID != 2 || got2[1].DistSq != 0.25 {
		t.Errorf("neighbor[2] second = %+v, want {2 0.25}", got2[1])
	}
}

// TestSweepOneMultiStripeMatchesSingleStripe checks that splitting the
// training set across several stripes doesn't change the result versus a
// single stripe, for a small but non-trivial dataset.
func TestSweepOneMultiStripeMatchesSingleStripe(t *testing.T) {
	input := point.Point{Id: 1, X: 0.5, Y: 0.5}
	training := mkSet(
		[3]float64{1, 0.1, 0.1},
		[3]float64{2, 0.2, 0.9},
		[3]float64{3, 0.9, 0.2},
		[3]float64{4, 0.5, 0.5},
		[3]float64{5, 0.4, 0.6},
		[3]float64{6, 0.6, 0.4},
	)

	single := Build(point.Set{input}, training, 2, WithStripes(1))
	hSingle := heap.New(2)
	SweepOne(input, single, 0, hSingle)
	wantDists := distances(hSingle.DrainSorted())

	multi := Build(point.Set{input}, training, 2, WithStripes(4), WithSplitByTraining(true))
	homeIdx := 0
	for i, s := range multi.Stripes {
		if input.Y >= s.Bounds.MinY && input.Y <= s.Bounds.MaxY {
			homeIdx = i
		}
	}
	hMulti := heap.New(2)
	SweepOne(input, multi, homeIdx, hMulti)
	gotDists := distances(hMulti.DrainSorted())

	if len(gotDists) != len(wantDists) {
		t.Fatalf("got %d distances, want %d", len(gotDists), len(wantDists))
	}
	for i := range wantDists {
		if gotDists[i] != wantDists[i] {
			t.Errorf("distance[%d] = %v, want %v (full: got=%v want=%v)", i, gotDists[i], wantDists[i], gotDists, wantDists)
		}
	}
}

func distances(ns []heap.Neighbor) []float64 {
	out := make([]float64, len(ns))
	for i, n := range ns {
		out[i] = n.DistSq
	}
	return out
}
