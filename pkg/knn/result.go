package knn

import (
	"time"

	"github.com/thcristo/planesweep-knn/pkg/heap"
)

// Result is the output of one algorithm run: the k-nearest-neighbor lists
// for every input point plus the statistics the CLI's CSV report needs.
// An algorithm's failure is encapsulated here rather than returned as an
// error: HasAllocationError marks the neighbor lists invalid when set.
type Result struct {
	Algorithm string
	K         int

	// Neighbors is indexed by inputId-1, each entry sorted ascending by
	// d² (heap.DrainSorted order). Left nil by RunExternalFromFiles,
	// which streams results to disk instead; see NeighborsPath.
	Neighbors [][]heap.Neighbor

	// NeighborsPath, set only by RunExternalFromFiles, names an
	// ascending-id-ordered on-disk neighbor stream (see
	// external.OpenNeighborResultStream) holding what Neighbors would
	// otherwise have held in memory.
	NeighborsPath string

	// InputCount is the number of input points processed. Derived from
	// len(Neighbors) when that slice is populated; RunExternalFromFiles
	// sets it explicitly since Neighbors stays nil on that path.
	InputCount int

	NumStripes int

	TotalAdditions uint64
	MinAdditions   uint64
	MaxAdditions   uint64

	DurationTotal    time.Duration
	DurationSorting  time.Duration
	DurationCommit   time.Duration
	DurationFinalize time.Duration

	// HasAllocationError marks this result invalid: the external
	// scheduler could not fit even one stripe in its memory budget.
	// Neighbors must not be saved or compared when this is set.
	HasAllocationError bool

	// Only meaningful for the external variant.
	PendingPointsPeak int
	FirstPassWindows  int
	SecondPassWindows int
}

// addAdditions folds one input point's heap.Additions() count into the
// running total/min/max statistics.
func (r *Result) addAdditions(n uint64) {
	r.TotalAdditions += n
	if r.MinAdditions == 0 || n < r.MinAdditions {
		r.MinAdditions = n
	}
	if n > r.MaxAdditions {
		r.MaxAdditions = n
	}
}

// AverageAdditions returns TotalAdditions / count, or 0 for an empty input
// set. count is InputCount when set, else len(Neighbors).
func (r *Result) AverageAdditions() float64 {
	count := r.InputCount
	if count == 0 {
		count = len(r.Neighbors)
	}
	if count == 0 {
		return 0
	}
	return float64(r.TotalAdditions) / float64(count)
}
