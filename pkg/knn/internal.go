package knn

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thcristo/planesweep-knn/pkg/heap"
	"github.com/thcristo/planesweep-knn/pkg/point"
	"github.com/thcristo/planesweep-knn/pkg/stripe"
)

// workItem is one input point paired with the stripe it belongs to.
type workItem struct {
	stripeIdx int
	p         point.Point
}

// RunInternal computes, for every point of input, the k nearest points of
// training using the in-memory planesweep-stripes algorithm. Work is
// flattened across all (stripe, input point) pairs and workers claim the
// next item from a shared atomic cursor, so scheduling stays dynamic
// whether stripe count or CPU count is larger.
//
// Point arrays and stripe slices are shared read-only across workers; each
// worker writes only the heap belonging to the input point it currently
// owns, so no locking is required beyond the claim cursor and the result
// statistics accumulation.
func RunInternal(ctx context.Context, input, training point.Set, k int, opts ...Option) (*Result, error) {
	cfg := Apply(opts...)

	start := time.Now()
	data := stripe.Build(input, training, k,
		stripe.WithStripes(cfg.Stripes),
		stripe.WithSplitByTraining(cfg.SplitByTraining),
		stripe.WithParallelSplit(cfg.ParallelSplit),
		stripe.WithParallelSort(cfg.ParallelSort),
	)
	sortDuration := time.Since(start)
	if cfg.Verbose {
		log.Printf("knn: split into %d stripes in %s", len(data.Stripes), sortDuration)
	}

	items := make([]workItem, 0, len(input))
	for i, s := range data.Stripes {
		for _, p := range s.Input {
			items = append(items, workItem{stripeIdx: i, p: p})
		}
	}

	result := &Result{
		Algorithm:       "planesweep_stripes",
		K:               k,
		Neighbors:       make([][]heap.Neighbor, len(input)),
		InputCount:      len(input),
		NumStripes:      len(data.Stripes),
		DurationSorting: sortDuration,
	}

	var cursor int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	threads := cfg.Threads
	if threads > len(items) && len(items) > 0 {
		threads = len(items)
	}
	if threads < 1 {
		threads = 1
	}

	for w := 0; w < threads; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := atomic.AddInt64(&cursor, 1) - 1
				if i >= int64(len(items)) {
					return
				}
				select {
				case <-ctx.Done():
					mu.Lock()
					if firstErr == nil {
						firstErr = ctx.Err()
					}
					mu.Unlock()
					return
				default:
				}

				item := items[i]
				h := heap.New(k)
				h.SetDeterministicTies(cfg.DeterministicTies)
				stripe.SweepOne(item.p, data, item.stripeIdx, h)

				neighbors := h.DrainSorted()
				additions := h.Additions()

				mu.Lock()
				result.Neighbors[item.p.Id-1] = neighbors
				result.addAdditions(additions)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	result.DurationTotal = time.Since(start)
	if cfg.Verbose {
		log.Printf("knn: processed %d input points in %s (%d additions)", len(items), result.DurationTotal, result.TotalAdditions)
	}
	return result, nil
}
