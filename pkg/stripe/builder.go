// Package stripe partitions input and training point sets into horizontal
// bands ("stripes") and sweeps each band for nearest-neighbor candidates.
package stripe

import (
	"math"
	"sort"
	"sync"

	"github.com/thcristo/planesweep-knn/pkg/point"
)

// Bounds is the [minY, maxY] y-range a stripe covers.
type Bounds struct {
	MinY float64
	MaxY float64
}

// Stripe holds the input and training points that fall in one horizontal
// band, each sorted by x so the sweep kernel can binary-search into them.
type Stripe struct {
	Input    point.Set
	Training point.Set
	Bounds   Bounds
}

// Data is the full result of partitioning a problem into stripes: every
// stripe, in ascending-y order.
type Data struct {
	Stripes []Stripe
}

// Options controls how Build partitions the datasets.
type Options struct {
	// NumStripes requests a specific stripe count. Zero means use the
	// automatic heuristic (AutoStripes).
	NumStripes int

	// SplitByTraining partitions so each stripe holds a fixed share of
	// the training set rather than the input set.
	SplitByTraining bool

	// ParallelSplit computes each stripe's paired-set bounds with an
	// independent binary search instead of a shared running cursor, so
	// stripes are order-independent and can be built concurrently. Produces
	// the same partition as the serial cursor path.
	ParallelSplit bool

	// ParallelSort sorts the input and training copies by y concurrently
	// instead of sequentially.
	ParallelSort bool
}

// Option configures Build.
type Option func(*Options)

// DefaultOptions returns the zero-value configuration: automatic stripe
// count, split by input dataset.
func DefaultOptions() Options {
	return Options{}
}

// WithStripes requests exactly n stripes (n <= 0 falls back to automatic).
func WithStripes(n int) Option {
	return func(o *Options) { o.NumStripes = n }
}

// WithSplitByTraining partitions by training-point count instead of
// input-point count.
func WithSplitByTraining(v bool) Option {
	return func(o *Options) { o.SplitByTraining = v }
}

// WithParallelSplit selects the binary-search, order-independent stripe
// split over the default cursor-based one.
func WithParallelSplit(v bool) Option {
	return func(o *Options) { o.ParallelSplit = v }
}

// WithParallelSort sorts the input and training copies by y on separate
// goroutines instead of one after another.
func WithParallelSort(v bool) Option {
	return func(o *Options) { o.ParallelSort = v }
}

// AutoStripes computes the default stripe count for n training points and k
// requested neighbors: round(sqrt(n)/sqrt(k)), balancing per-stripe sweep
// work against vertical-pruning cost.
func AutoStripes(numTraining, k int) int {
	if numTraining <= 0 || k <= 0 {
		return 1
	}
	n := math.Round(math.Sqrt(float64(numTraining)) / math.Sqrt(float64(k)))
	if n < 1 {
		return 1
	}
	return int(n)
}

// Build partitions input and training into stripes according to opts. Both
// sets are copied and sorted internally; the caller's slices are untouched.
func Build(input, training point.Set, k int, opts ...Option) Data {
	o := DefaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	var inputSortedY, trainingSortedY point.Set
	if o.ParallelSort {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			inputSortedY = input.SortedByY()
		}()
		go func() {
			defer wg.Done()
			trainingSortedY = training.SortedByY()
		}()
		wg.Wait()
	} else {
		inputSortedY = input.SortedByY()
		trainingSortedY = training.SortedByY()
	}

	numStripes := o.NumStripes
	if numStripes <= 0 {
		numStripes = AutoStripes(len(trainingSortedY), k)
	}

	if o.SplitByTraining {
		if o.ParallelSplit {
			return splitByTrainingParallel(numStripes, inputSortedY, trainingSortedY)
		}
		return splitByTraining(numStripes, inputSortedY, trainingSortedY)
	}
	if o.ParallelSplit {
		return splitByInputParallel(numStripes, inputSortedY, trainingSortedY)
	}
	return splitByInput(numStripes, inputSortedY, trainingSortedY)
}

// splitByInput fixes the number of input points per stripe: walk
// inputSortedY in contiguous runs of that size (widened to keep equal-y
// points together), then assign each run's matching training points by
// y-range.
func splitByInput(numStripes int, inputSortedY, trainingSortedY point.Set) Data {
	var data Data
	if len(inputSortedY) == 0 {
		return data
	}

	stripeSize := len(inputSortedY)/numStripes + 1
	inputStart := 0
	trainingStart := 0

	for inputStart < len(inputSortedY) {
		inputEnd := inputStart + stripeSize
		if inputEnd > len(inputSortedY) {
			inputEnd = len(inputSortedY)
		}
		// widen to include every point sharing the boundary y value, so
		// no two points with equal y are split across stripes.
		for inputEnd < len(inputSortedY) && inputSortedY[inputEnd-1].Y == inputSortedY[inputEnd].Y {
			inputEnd++
		}

		inputStripe := append(point.Set(nil), inputSortedY[inputStart:inputEnd]...)
		inputStripe.SortByX()

		minY := inputSortedY[inputStart].Y
		if trainingStart < len(trainingSortedY) && trainingSortedY[trainingStart].Y < minY {
			minY = trainingSortedY[trainingStart].Y
		}

		var trainingStripe point.Set
		maxY := minY
		if trainingStart < len(trainingSortedY) {
			trainingEnd := len(trainingSortedY)
			if inputEnd != len(inputSortedY) {
				yLimit := inputSortedY[inputEnd-1].Y
				trainingEnd = trainingStart
				for trainingEnd < len(trainingSortedY) && trainingSortedY[trainingEnd].Y <= yLimit {
					trainingEnd++
				}
			}

			trainingStripe = append(point.Set(nil), trainingSortedY[trainingStart:trainingEnd]...)
			trainingStripe.SortByX()

			maxY = inputSortedY[inputEnd-1].Y
			if trainingEnd > trainingStart && trainingSortedY[trainingEnd-1].Y > maxY {
				maxY = trainingSortedY[trainingEnd-1].Y
			}
			trainingStart = trainingEnd
		} else {
			maxY = inputSortedY[inputEnd-1].Y
		}

		data.Stripes = append(data.Stripes, Stripe{
			Input:    inputStripe,
			Training: trainingStripe,
			Bounds:   Bounds{MinY: minY, MaxY: maxY},
		})

		inputStart = inputEnd
	}

	return data
}

// splitByTraining mirrors splitByInput with the input/training roles
// swapped.
func splitByTraining(numStripes int, inputSortedY, trainingSortedY point.Set) Data {
	var data Data
	if len(trainingSortedY) == 0 {
		return data
	}

	stripeSize := len(trainingSortedY)/numStripes + 1
	trainingStart := 0
	inputStart := 0

	for trainingStart < len(trainingSortedY) {
		trainingEnd := trainingStart + stripeSize
		if trainingEnd > len(trainingSortedY) {
			trainingEnd = len(trainingSortedY)
		}
		for trainingEnd < len(trainingSortedY) && trainingSortedY[trainingEnd-1].Y == trainingSortedY[trainingEnd].Y {
			trainingEnd++
		}

		trainingStripe := append(point.Set(nil), trainingSortedY[trainingStart:trainingEnd]...)
		trainingStripe.SortByX()

		minY := trainingSortedY[trainingStart].Y
		if inputStart < len(inputSortedY) && inputSortedY[inputStart].Y < minY {
			minY = inputSortedY[inputStart].Y
		}

		var inputStripe point.Set
		maxY := minY
		if inputStart < len(inputSortedY) {
			inputEnd := len(inputSortedY)
			if trainingEnd != len(trainingSortedY) {
				yLimit := trainingSortedY[trainingEnd-1].Y
				inputEnd = inputStart
				for inputEnd < len(inputSortedY) && inputSortedY[inputEnd].Y <= yLimit {
					inputEnd++
				}
			}

			inputStripe = append(point.Set(nil), inputSortedY[inputStart:inputEnd]...)
			inputStripe.SortByX()

			maxY = trainingSortedY[trainingEnd-1].Y
			if inputEnd > inputStart && inputSortedY[inputEnd-1].Y > maxY {
				maxY = inputSortedY[inputEnd-1].Y
			}
			inputStart = inputEnd
		} else {
			maxY = trainingSortedY[trainingEnd-1].Y
		}

		data.Stripes = append(data.Stripes, Stripe{
			Input:    inputStripe,
			Training: trainingStripe,
			Bounds:   Bounds{MinY: minY, MaxY: maxY},
		})

		trainingStart = trainingEnd
	}

	return data
}

// primaryRange is a contiguous, equal-y-widened slice of a primary sorted
// set (the one the stripe count is fixed against).
type primaryRange struct {
	start, end int
}

// primaryRanges walks sortedY once to find the fixed-size, widened stripe
// boundaries. This is the cheap, sequential part shared by both the serial
// and parallel split paths; what differs is how the paired set's matching
// slice is found for each boundary.
func primaryRanges(numStripes int, sortedY point.Set) []primaryRange {
	if len(sortedY) == 0 {
		return nil
	}
	stripeSize := len(sortedY)/numStripes + 1
	var ranges []primaryRange
	start := 0
	for start < len(sortedY) {
		end := start + stripeSize
		if end > len(sortedY) {
			end = len(sortedY)
		}
		for end < len(sortedY) && sortedY[end-1].Y == sortedY[end].Y {
			end++
		}
		ranges = append(ranges, primaryRange{start: start, end: end})
		start = end
	}
	return ranges
}

// splitByInputParallel is splitByInput's order-independent counterpart: each
// stripe's matching training slice is found with two independent binary
// searches against the boundary y value, rather than a cursor carried over
// from the previous stripe, so every stripe can be built on its own
// goroutine.
func splitByInputParallel(numStripes int, inputSortedY, trainingSortedY point.Set) Data {
	ranges := primaryRanges(numStripes, inputSortedY)
	if len(ranges) == 0 {
		return Data{}
	}

	stripes := make([]Stripe, len(ranges))
	var wg sync.WaitGroup
	wg.Add(len(ranges))
	for i, r := range ranges {
		go func(i int, r primaryRange) {
			defer wg.Done()

			trainingStart := 0
			if i > 0 {
				prevLimit := inputSortedY[ranges[i-1].end-1].Y
				trainingStart = sort.Search(len(trainingSortedY), func(j int) bool {
					return trainingSortedY[j].Y > prevLimit
				})
			}

			trainingEnd := len(trainingSortedY)
			if r.end != len(inputSortedY) {
				yLimit := inputSortedY[r.end-1].Y
				trainingEnd = sort.Search(len(trainingSortedY), func(j int) bool {
					return trainingSortedY[j].Y > yLimit
				})
				if trainingEnd < trainingStart {
					trainingEnd = trainingStart
				}
			}

			inputStripe := append(point.Set(nil), inputSortedY[r.start:r.end]...)
			inputStripe.SortByX()

			minY := inputSortedY[r.start].Y
			if trainingStart < trainingEnd && trainingSortedY[trainingStart].Y < minY {
				minY = trainingSortedY[trainingStart].Y
			}

			var trainingStripe point.Set
			maxY := inputSortedY[r.end-1].Y
			if trainingStart < trainingEnd {
				trainingStripe = append(point.Set(nil), trainingSortedY[trainingStart:trainingEnd]...)
				trainingStripe.SortByX()
				if trainingStripe[len(trainingStripe)-1].Y > maxY {
					maxY = trainingStripe[len(trainingStripe)-1].Y
				}
			}

			stripes[i] = Stripe{
				Input:    inputStripe,
				Training: trainingStripe,
				Bounds:   Bounds{MinY: minY, MaxY: maxY},
			}
		}(i, r)
	}
	wg.Wait()

	return Data{Stripes: stripes}
}

// splitByTrainingParallel mirrors splitByInputParallel with the input and
// training roles swapped, the order-independent counterpart of
// splitByTraining.
func splitByTrainingParallel(numStripes int, inputSortedY, trainingSortedY point.Set) Data {
	ranges := primaryRanges(numStripes, trainingSortedY)
	if len(ranges) == 0 {
		return Data{}
	}

	stripes := make([]Stripe, len(ranges))
	var wg sync.WaitGroup
	wg.Add(len(ranges))
	for i, r := range ranges {
		go func(i int, r primaryRange) {
			defer wg.Done()

			inputStart := 0
			if i > 0 {
				prevLimit := trainingSortedY[ranges[i-1].end-1].Y
				inputStart = sort.Search(len(inputSortedY), func(j int) bool {
					return inputSortedY[j].Y > prevLimit
				})
			}

			inputEnd := len(inputSortedY)
			if r.end != len(trainingSortedY) {
				yLimit := trainingSortedY[r.end-1].Y
				inputEnd = sort.Search(len(inputSortedY), func(j int) bool {
					return inputSortedY[j].Y > yLimit
				})
				if inputEnd < inputStart {
					inputEnd = inputStart
				}
			}

			trainingStripe := append(point.Set(nil), trainingSortedY[r.start:r.end]...)
			trainingStripe.SortByX()

			minY := trainingSortedY[r.start].Y
			if inputStart < inputEnd && inputSortedY[inputStart].Y < minY {
				minY = inputSortedY[inputStart].Y
			}

			var inputStripe point.Set
			maxY := trainingSortedY[r.end-1].Y
			if inputStart < inputEnd {
				inputStripe = append(point.Set(nil), inputSortedY[inputStart:inputEnd]...)
				inputStripe.SortByX()
				if inputStripe[len(inputStripe)-1].Y > maxY {
					maxY = inputStripe[len(inputStripe)-1].Y
				}
			}

			stripes[i] = Stripe{
				Input:    inputStripe,
				Training: trainingStripe,
				Bounds:   Bounds{MinY: minY, MaxY: maxY},
			}
		}(i, r)
	}
	wg.Wait()

	return Data{Stripes: stripes}
}
