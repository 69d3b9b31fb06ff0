package knn

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/thcristo/planesweep-knn/pkg/point"
)

// bruteForce computes the k nearest training points for every input point
// by exhaustive O(|I|*|T|) comparison. It exists only to check the stripe
// algorithm against an independent reference and is never exported or
// CLI-selectable.
func bruteForce(input, training point.Set, k int) [][]float64 {
	out := make([][]float64, len(input))
	for _, p := range input {
		dists := make([]float64, len(training))
		for j, q := range training {
			dists[j] = point.DistanceSquared(p, q)
		}
		sort.Float64s(dists)
		if len(dists) > k {
			dists = dists[:k]
		}
		for len(dists) < k {
			dists = append(dists, math.Inf(1))
		}
		out[p.Id-1] = dists
	}
	return out
}

func randomSet(n int, seed int64) point.Set {
	r := rand.New(rand.NewSource(seed))
	out := make(point.Set, n)
	for i := 0; i < n; i++ {
		out[i] = point.Point{Id: uint64(i + 1), X: r.Float64(), Y: r.Float64()}
	}
	return out
}

func TestRunInternalCardinalityAndMonotonicity(t *testing.T) {
	input := randomSet(200, 1)
	training := randomSet(500, 2)
	k := 5

	result, err := RunInternal(context.Background(), input, training, k)
	if err != nil {
		t.Fatalf("RunInternal: %v", err)
	}

	if len(result.Neighbors) != len(input) {
		t.Fatalf("len(Neighbors) = %d, want %d", len(result.Neighbors), len(input))
	}
	for id, ns := range result.Neighbors {
		if len(ns) != k {
			t.Fatalf("input %d: got %d neighbors, want %d", id+1, len(ns), k)
		}
		for i := 1; i < len(ns); i++ {
			if ns[i].DistSq < ns[i-1].DistSq {
				t.Fatalf("input %d: neighbors not monotonically non-decreasing: %v", id+1, ns)
			}
		}
	}
}

func TestRunInternalMatchesBruteForce(t *testing.T) {
	input := randomSet(150, 3)
	training := randomSet(300, 4)
	k := 4

	result, err := RunInternal(context.Background(), input, training, k)
	if err != nil {
		t.Fatalf("RunInternal: %v", err)
	}
	want := bruteForce(input, training, k)

	const eps = 1e-9
	for id := range result.Neighbors {
		got := make([]float64, k)
		for i, n := range result.Neighbors[id] {
			got[i] = n.DistSq
		}
		for i := range want[id] {
			if math.Abs(got[i]-want[id][i]) > eps {
				t.Fatalf("input %d: distance[%d] = %v, want %v (got=%v want=%v)", id+1, i, got[i], want[id][i], got, want[id])
			}
		}
	}
}

func TestRunInternalHeapAccounting(t *testing.T) {
	input := randomSet(80, 5)
	training := randomSet(120, 6)
	k := 3

	result, err := RunInternal(context.Background(), input, training, k)
	if err != nil {
		t.Fatalf("RunInternal: %v", err)
	}

	if result.MinAdditions > result.MaxAdditions {
		t.Fatalf("MinAdditions (%d) > MaxAdditions (%d)", result.MinAdditions, result.MaxAdditions)
	}
	if result.MaxAdditions == 0 {
		t.Fatalf("MaxAdditions = 0, expected at least one addition per point")
	}
}

func TestRunInternalAutoStripeCountSanity(t *testing.T) {
	input := randomSet(10000, 7)
	training := randomSet(10000, 8)
	k := 5

	result, err := RunInternal(context.Background(), input, training, k)
	if err != nil {
		t.Fatalf("RunInternal: %v", err)
	}
	if result.NumStripes < 40 || result.NumStripes > 50 {
		t.Errorf("NumStripes = %d, want approximately 45", result.NumStripes)
	}

	want := bruteForce(input, training, k)
	const eps = 1e-9
	for id := range result.Neighbors {
		for i, n := range result.Neighbors[id] {
			if math.Abs(n.DistSq-want[id][i]) > eps {
				t.Fatalf("input %d: distance[%d] = %v, want %v", id+1, i, n.DistSq, want[id][i])
			}
		}
	}
}

func TestRunInternalParallelDeterminism(t *testing.T) {
	input := randomSet(300, 9)
	training := randomSet(600, 10)
	k := 6

	serial, err := RunInternal(context.Background(), input, training, k, WithThreads(1))
	if err != nil {
		t.Fatalf("RunInternal (threads=1): %v", err)
	}
	parallel, err := RunInternal(context.Background(), input, training, k, WithThreads(8))
	if err != nil {
		t.Fatalf("RunInternal (threads=8): %v", err)
	}

	for id := range serial.Neighbors {
		a, b := serial.Neighbors[id], parallel.Neighbors[id]
		if len(a) != len(b) {
			t.Fatalf("input %d: length mismatch %d vs %d", id+1, len(a), len(b))
		}
		for i := range a {
			if a[i].DistSq != b[i].DistSq {
				t.Fatalf("input %d neighbor %d: distance differs across thread counts: %v vs %v", id+1, i, a[i].DistSq, b[i].DistSq)
			}
		}
	}
}

// TestRunInternalEqualYStripeBoundary uses three points sharing y=0.5,
// k=2, self included in both input and training sets. Every point's
// nearest neighbor is itself (d²=0); the second nearest is the center
// point for points 1 and 2, and either of {1,2} for point 3 depending on
// stripe-visitation tie order.
func TestRunInternalEqualYStripeBoundary(t *testing.T) {
	set := point.Set{
		{Id: 1, X: 0.1, Y: 0.5},
		{Id: 2, X: 0.9, Y: 0.5},
		{Id: 3, X: 0.5, Y: 0.5},
	}
	k := 2

	result, err := RunInternal(context.Background(), set, set, k)
	if err != nil {
		t.Fatalf("RunInternal: %v", err)
	}

	for id, ns := range result.Neighbors {
		if len(ns) != k {
			t.Fatalf("input %d: got %d neighbors, want %d", id+1, len(ns), k)
		}
		if ns[0].TrainingID != uint64(id+1) || ns[0].DistSq != 0 {
			t.Fatalf("input %d: nearest = %+v, want self at d²=0", id+1, ns[0])
		}
	}
	if result.Neighbors[0][1].TrainingID != 3 {
		t.Errorf("point 1 second neighbor = %d, want 3", result.Neighbors[0][1].TrainingID)
	}
	if result.Neighbors[1][1].TrainingID != 3 {
		t.Errorf("point 2 second neighbor = %d, want 3", result.Neighbors[1][1].TrainingID)
	}
	third := result.Neighbors[2][1].TrainingID
	if third != 1 && third != 2 {
		t.Errorf("point 3 second neighbor = %d, want 1 or 2", third)
	}
}

func TestRunInternalStripeCountIdempotence(t *testing.T) {
	input := randomSet(120, 11)
	training := randomSet(240, 12)
	k := 3

	auto, err := RunInternal(context.Background(), input, training, k)
	if err != nil {
		t.Fatalf("RunInternal (auto): %v", err)
	}
	fixed, err := RunInternal(context.Background(), input, training, k, WithStripes(7))
	if err != nil {
		t.Fatalf("RunInternal (stripes=7): %v", err)
	}

	want := bruteForce(input, training, k)
	const eps = 1e-9
	for _, result := range []*Result{auto, fixed} {
		for id := range result.Neighbors {
			for i, n := range result.Neighbors[id] {
				if math.Abs(n.DistSq-want[id][i]) > eps {
					t.Fatalf("algorithm %q input %d: distance[%d] = %v, want %v", result.Algorithm, id+1, i, n.DistSq, want[id][i])
				}
			}
		}
	}
}
