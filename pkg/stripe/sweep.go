package stripe

import (
	"sort"

	"github.com/thcristo/planesweep-knn/pkg/heap"
	"github.com/thcristo/planesweep-knn/pkg/point"
)

// SweepOne searches d.Stripes for the k nearest training points to p,
// starting at stripe homeIdx (the stripe p itself belongs to), and fills h
// with the result. It first exhausts the home stripe, then alternates
// outward to lower- and higher-y stripes, stopping in each direction as
// soon as the stripe's y-distance from p alone can't beat the current
// worst neighbor.
func SweepOne(p point.Point, d Data, homeIdx int, h *heap.NeighborHeap) {
	sweepStripe(p, d.Stripes[homeIdx].Training, h, 0)

	low := homeIdx - 1
	high := homeIdx + 1
	lowDone := low < 0
	highDone := high >= len(d.Stripes)

	for !lowDone || !highDone {
		if !lowDone {
			dy := p.Y - d.Stripes[low].Bounds.MaxY
			if dy*dy < h.Max() {
				sweepStripe(p, d.Stripes[low].Training, h, dy)
				low--
				lowDone = low < 0
			} else {
				lowDone = true
			}
		}

		if !highDone {
			dy := d.Stripes[high].Bounds.MinY - p.Y
			if dy*dy < h.Max() {
				sweepStripe(p, d.Stripes[high].Training, h, dy)
				high++
				highDone = high >= len(d.Stripes)
			} else {
				highDone = true
			}
		}
	}
}

// SweepStripe examines one x-sorted stripe of training points for
// candidates near p, given mindy, the y-distance from p to the nearest
// boundary of that stripe (0 when the stripe is p's own). It is exported
// so the windowed external scheduler can drive the same kernel one stripe
// at a time, bounded by whichever stripe range is currently resident in
// memory, without needing a full in-memory Data.
func SweepStripe(p point.Point, training point.Set, h *heap.NeighborHeap, mindy float64) {
	sweepStripe(p, training, h, mindy)
}

// sweepStripe examines training, an x-sorted stripe, for candidates near p.
// It binary-searches to the insertion point of p.X, then walks outward to
// the left and right, pruning each direction independently via
// CheckAddStripe's dx/mindy test (the kernel squares both terms itself).
func sweepStripe(p point.Point, training point.Set, h *heap.NeighborHeap, mindy float64) {
	next := sort.Search(len(training), func(i int) bool { return training[i].X >= p.X })
	prev := next - 1

	lowStop := prev < 0
	highStop := next >= len(training)

	for !lowStop || !highStop {
		if !lowStop {
			q := training[prev]
			distSq, dx := point.DistanceSquaredDX(p, q)
			if h.CheckAddStripe(q.Id, distSq, dx, mindy) {
				prev--
				lowStop = prev < 0
			} else {
				lowStop = true
			}
		}

		if !highStop {
			q := training[next]
			distSq, dx := point.DistanceSquaredDX(p, q)
			if h.CheckAddStripe(q.Id, distSq, dx, mindy) {
				next++
				highStop = next >= len(training)
			} else {
				highStop = true
			}
		}
	}
}
