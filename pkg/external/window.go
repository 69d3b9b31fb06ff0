package external

import "fmt"

const (
	pointSize    = 24 // id uint64 + x,y float64
	neighborSize = 16 // trainingId uint64 + d² float64
	heapFixed    = 32 // slice header + bookkeeping overhead, approximated
)

// AllocationError is returned when the window loader cannot fit even a
// single stripe within the configured memory budget. Callers should
// surface it as Result.HasAllocationError rather than propagate a bare
// error up an arbitrary number of frames; RunExternal does exactly that.
type AllocationError struct {
	Stripe       int
	BudgetBytes  uint64
	NeededBytes  uint64
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("stripe %d needs %d bytes but only %d remain in the memory budget",
		e.Stripe, e.NeededBytes, e.BudgetBytes)
}

// getWindow loads stripes starting at `start` (ascending when !descending,
// otherwise walking backward from `start` down to 0) while the estimated
// memory cost of points already pending plus newly loaded stripes stays
// under 90% of budgetBytes. k is needed because every input point in the
// window carries a k-sized heap.
func getWindow(store *Store, start int, descending bool, k int, pendingBytes uint64, budgetBytes uint64) (lo, hi int, err error) {
	limit := budgetBytes * 9 / 10
	used := pendingBytes

	if descending {
		hi = start
		lo = start
		for lo >= 0 {
			cost := store.EstimatedBytes(lo) + perInputHeapCost(store, lo, k)
			if used+cost > limit {
				if lo == hi {
					return 0, 0, &AllocationError{Stripe: lo, BudgetBytes: limit, NeededBytes: used + cost}
				}
				break
			}
			used += cost
			lo--
		}
		lo++
		return lo, hi, nil
	}

	lo = start
	hi = start
	for hi < store.NumStripes() {
		cost := store.EstimatedBytes(hi) + perInputHeapCost(store, hi, k)
		if used+cost > limit {
			if hi == lo {
				return 0, 0, &AllocationError{Stripe: hi, BudgetBytes: limit, NeededBytes: used + cost}
			}
			break
		}
		used += cost
		hi++
	}
	return lo, hi, nil
}

func perInputHeapCost(store *Store, stripeIdx, k int) uint64 {
	inputCount := store.offsets[stripeIdx].inputCount
	return inputCount * uint64(heapFixed+k*neighborSize)
}
