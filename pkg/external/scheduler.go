package external

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/thcristo/planesweep-knn/pkg/heap"
	"github.com/thcristo/planesweep-knn/pkg/knn"
	"github.com/thcristo/planesweep-knn/pkg/point"
	"github.com/thcristo/planesweep-knn/pkg/stripe"
)

// Config controls one run of the windowed (out-of-core) algorithm. It
// mirrors knn.Config plus two settings the internal variant has no use
// for: the memory budget the window loader must respect, and gzip
// compression of the on-disk neighbor streams and sort runs.
type Config struct {
	Stripes           int
	Threads           int
	SplitByTraining   bool
	DeterministicTies bool
	Verbose           bool

	// ParallelSplit has the stripe builder locate each stripe's
	// paired-set bounds by independent binary search instead of a
	// shared cursor. RunExternalFromFiles' streaming builder always
	// uses the forward-cursor path regardless of this flag (a
	// streaming source has no index to binary-search into); it only
	// affects RunExternal's in-memory stripe.Build call.
	ParallelSplit bool

	// ParallelSort sorts the in-memory stripe builder's input/training
	// copies concurrently. Like ParallelSplit, only RunExternal's
	// in-memory path honors it.
	ParallelSort bool

	// Compress gzip-wraps the sequential-access files this package
	// writes on RunExternalFromFiles' path: the external-sort run and
	// merged files, and the unsorted/sorted neighbor streams. The
	// random-access stripe Store itself is never compressed (Store's
	// doc comment explains why).
	Compress bool

	// MemoryBudgetBytes bounds the estimated footprint of one loaded
	// window plus the pending map. Zero selects a generous default
	// suitable for tests and small datasets. It also sizes the
	// external-sort run length on the streaming build path.
	MemoryBudgetBytes uint64
}

// Option configures a Config.
type Option func(*Config)

// DefaultConfig returns one worker per CPU core and a 256 MiB budget.
func DefaultConfig() Config {
	return Config{Threads: runtime.NumCPU(), MemoryBudgetBytes: 256 << 20}
}

func WithStripes(n int) Option            { return func(c *Config) { c.Stripes = n } }
func WithThreads(n int) Option            { return func(c *Config) { c.Threads = n } }
func WithSplitByTraining(v bool) Option   { return func(c *Config) { c.SplitByTraining = v } }
func WithParallelSplit(v bool) Option     { return func(c *Config) { c.ParallelSplit = v } }
func WithParallelSort(v bool) Option      { return func(c *Config) { c.ParallelSort = v } }
func WithCompression(v bool) Option       { return func(c *Config) { c.Compress = v } }
func WithDeterministicTies(v bool) Option { return func(c *Config) { c.DeterministicTies = v } }
func WithVerbose(v bool) Option           { return func(c *Config) { c.Verbose = v } }
func WithMemoryBudgetBytes(n uint64) Option {
	return func(c *Config) { c.MemoryBudgetBytes = n }
}

func apply(opts ...Option) Config {
	c := DefaultConfig()
	for _, fn := range opts {
		fn(&c)
	}
	if c.Threads <= 0 {
		c.Threads = runtime.NumCPU()
	}
	if c.MemoryBudgetBytes == 0 {
		c.MemoryBudgetBytes = DefaultConfig().MemoryBudgetBytes
	}
	return c
}

// RunExternal computes, for every point of input, the k nearest points of
// training using the windowed two-pass scheduler: the combined stripe data
// is spilled to a temporary on-disk store, then processed one bounded
// window at a time so peak memory stays proportional to the window plus
// the pending map rather than to the whole training set.
func RunExternal(ctx context.Context, input, training point.Set, k int, opts ...Option) (*knn.Result, error) {
	cfg := apply(opts...)
	start := time.Now()

	data := stripe.Build(input, training, k,
		stripe.WithStripes(cfg.Stripes),
		stripe.WithSplitByTraining(cfg.SplitByTraining),
		stripe.WithParallelSplit(cfg.ParallelSplit),
		stripe.WithParallelSort(cfg.ParallelSort),
	)
	sortDuration := time.Since(start)

	tmpDir, err := os.MkdirTemp("", "aknn-external-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	storePath := filepath.Join(tmpDir, "stripes.bin")
	if err := WriteStore(storePath, data); err != nil {
		return nil, fmt.Errorf("spill stripes to disk: %w", err)
	}
	data = stripe.Data{} // drop the in-memory copy; the search phase reads only from disk windows

	store, err := OpenStore(storePath)
	if err != nil {
		return nil, fmt.Errorf("open stripe store: %w", err)
	}
	defer store.Close()

	result := &knn.Result{
		Algorithm:       "planesweep_stripes_external",
		K:               k,
		Neighbors:       make([][]heap.Neighbor, len(input)),
		InputCount:      len(input),
		NumStripes:      store.NumStripes(),
		DurationSorting: sortDuration,
	}

	commit := func(id uint64, neighbors []heap.Neighbor) {
		result.Neighbors[id-1] = neighbors
	}

	hasAllocErr, err := runWindowed(ctx, cfg, store, k, start, result, commit)
	if err != nil {
		return nil, err
	}
	if hasAllocErr {
		result.HasAllocationError = true
	}
	return result, nil
}

// RunExternalFromFiles is RunExternal's genuinely out-of-core entry point:
// input and training are never loaded as in-memory point.Sets. The stripe
// store is built straight from the dataset files via external sort plus
// streaming stripe assembly (BuildStoreFromFiles), and every resolved
// input point's neighbor list is appended to an on-disk stream the instant
// it is found rather than collected into one large in-memory slice. A
// final external merge-sort pass (sortNeighborStreamByID) restores
// ascending id order before the stream is handed to the caller at
// neighborsOutPath, an out-of-core merge rather than an in-memory sort of
// Result.Neighbors.
//
// Result.Neighbors is left nil; callers read the resolved, sorted output
// from NeighborsPath (see OpenNeighborResultStream) instead.
func RunExternalFromFiles(ctx context.Context, inputPath, trainingPath, neighborsOutPath string, k int, opts ...Option) (*knn.Result, error) {
	cfg := apply(opts...)
	start := time.Now()

	tmpDir, err := os.MkdirTemp("", "aknn-external-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	inputCount, err := point.CountRecords(inputPath, point.BinaryOptions{})
	if err != nil {
		return nil, fmt.Errorf("count input records: %w", err)
	}

	storePath := filepath.Join(tmpDir, "stripes.bin")
	if _, err := BuildStoreFromFiles(inputPath, trainingPath, storePath, tmpDir, k, cfg); err != nil {
		return nil, fmt.Errorf("build stripe store from files: %w", err)
	}
	sortDuration := time.Since(start)

	store, err := OpenStore(storePath)
	if err != nil {
		return nil, fmt.Errorf("open stripe store: %w", err)
	}
	defer store.Close()

	result := &knn.Result{
		Algorithm:       "planesweep_stripes_external",
		K:               k,
		InputCount:      int(inputCount),
		NumStripes:      store.NumStripes(),
		DurationSorting: sortDuration,
	}

	neighborsRawPath := filepath.Join(tmpDir, "neighbors.raw")
	nw, err := createNeighborStream(neighborsRawPath, k, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("create neighbor stream: %w", err)
	}
	var commitErr error
	commit := func(id uint64, neighbors []heap.Neighbor) {
		if commitErr != nil {
			return
		}
		if err := nw.Write(id, neighbors); err != nil {
			commitErr = fmt.Errorf("append neighbor record: %w", err)
		}
	}

	hasAllocErr, runErr := runWindowed(ctx, cfg, store, k, start, result, commit)
	if closeErr := nw.Close(); closeErr != nil && runErr == nil && commitErr == nil {
		runErr = fmt.Errorf("close neighbor stream: %w", closeErr)
	}
	if runErr != nil {
		return nil, runErr
	}
	if commitErr != nil {
		return nil, commitErr
	}
	if hasAllocErr {
		result.HasAllocationError = true
		return result, nil
	}

	finalizeStart := time.Now()
	sortedPath, err := sortNeighborStreamByID(neighborsRawPath, tmpDir, k, runLengthFor(cfg), cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("sort neighbor stream by id: %w", err)
	}
	if err := moveFile(sortedPath, neighborsOutPath); err != nil {
		return nil, fmt.Errorf("move sorted neighbor stream to %s: %w", neighborsOutPath, err)
	}
	result.DurationFinalize = time.Since(finalizeStart)
	result.NeighborsPath = neighborsOutPath

	result.DurationTotal = time.Since(start)
	if cfg.Verbose {
		log.Printf("external: done in %s, neighbor stream at %s", result.DurationTotal, neighborsOutPath)
	}
	return result, nil
}

// runWindowed runs the shared two-pass windowed search (the part of
// RunExternal/RunExternalFromFiles that differs only in where a resolved
// point's neighbor list ends up) against an already-open store, calling
// commit for every point whose search completes. It reports whether the
// memory budget could not fit even one stripe (mirroring RunExternal's
// previous HasAllocationError-and-return-nil-error behavior) separately
// from a hard error, so callers can tell the two apart.
func runWindowed(ctx context.Context, cfg Config, store *Store, k int, start time.Time, result *knn.Result, commit commitFunc) (hasAllocErr bool, err error) {
	numStripes := store.NumStripes()
	pending := newPendingMap()
	commitDuration := time.Duration(0)

	// Pass 1: ascending windows, home-stripe processing plus bidirectional
	// expansion bounded to each window, carrying incomplete searches into
	// pending for either pass 2 (downward tail) or a later window
	// (upward tail, resumed in step 3 below).
	for windowStart := 0; windowStart < numStripes; {
		lo, hi, werr := getWindow(store, windowStart, false, k, pendingBytes(pending, k), cfg.MemoryBudgetBytes)
		if werr != nil {
			return true, nil
		}
		if cfg.Verbose {
			log.Printf("external: pass 1 window [%d,%d)", lo, hi)
		}

		loaded, err := loadWindow(store, lo, hi)
		if err != nil {
			return false, fmt.Errorf("load window [%d,%d): %w", lo, hi, err)
		}

		fresh := collectFresh(loaded, lo, hi)

		if err := ctx.Err(); err != nil {
			return false, err
		}

		heaps := make([]*heap.NeighborHeap, len(fresh))
		processParallel(cfg, indices(len(fresh)), func(i int) {
			h := heap.New(k)
			h.SetDeterministicTies(cfg.DeterministicTies)
			processFreshPoint(fresh[i].p, fresh[i].homeIdx, loaded, lo, hi, numStripes, h)
			heaps[i] = h
		})
		// commit phase: single-threaded; only here is the pending map
		// mutated and result statistics accumulated.
		commitStart := time.Now()
		for i, item := range fresh {
			finishOrPend(commit, result, pending, item.p, heaps[i], numStripes)
		}
		resumeUpwardPending(cfg, commit, pending, loaded, hi, numStripes, result)
		commitDuration += time.Since(commitStart)

		result.FirstPassWindows++
		windowStart = hi
	}

	// Pass 2: descending windows, closing the downward tail for points
	// still pending after pass 1.
	for windowStart := numStripes - 1; windowStart >= 0 && pending.len() > 0; {
		needsDown := false
		for _, e := range pending.entries {
			if e.h.LowStripe() > 0 {
				needsDown = true
				break
			}
		}
		if !needsDown {
			break
		}

		lo, hi, werr := getWindow(store, windowStart, true, k, pendingBytes(pending, k), cfg.MemoryBudgetBytes)
		if werr != nil {
			return true, nil
		}
		if cfg.Verbose {
			log.Printf("external: pass 2 window [%d,%d]", lo, hi)
		}

		loaded, err := loadWindow(store, lo, hi+1)
		if err != nil {
			return false, fmt.Errorf("load window [%d,%d]: %w", lo, hi, err)
		}

		if err := ctx.Err(); err != nil {
			return false, err
		}

		resumeDownwardPending(cfg, commit, pending, loaded, lo, numStripes, result)

		result.SecondPassWindows++
		windowStart = lo - 1
	}

	result.DurationCommit = commitDuration
	result.DurationTotal = time.Since(start)
	if cfg.Verbose {
		log.Printf("external: done in %s, %d pending left unresolved", result.DurationTotal, pending.len())
	}
	return false, nil
}

func pendingBytes(p *pendingMap, k int) uint64 {
	return uint64(p.len()) * uint64(pointSize+heapFixed+k*neighborSize)
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

type freshItem struct {
	p       point.Point
	homeIdx int
}

func loadWindow(store *Store, lo, hi int) (map[int]stripe.Stripe, error) {
	out := make(map[int]stripe.Stripe, hi-lo)
	for i := lo; i < hi; i++ {
		s, err := store.LoadStripe(i)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func collectFresh(loaded map[int]stripe.Stripe, lo, hi int) []freshItem {
	var out []freshItem
	for i := lo; i < hi; i++ {
		for _, p := range loaded[i].Input {
			out = append(out, freshItem{p: p, homeIdx: i})
		}
	}
	return out
}

func processParallel[T any](cfg Config, items []T, fn func(T)) {
	if len(items) == 0 {
		return
	}
	threads := cfg.Threads
	if threads > len(items) {
		threads = len(items)
	}
	if threads < 1 {
		threads = 1
	}

	ch := make(chan T)
	var wg sync.WaitGroup
	for w := 0; w < threads; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range ch {
				fn(item)
			}
		}()
	}
	for _, item := range items {
		ch <- item
	}
	close(ch)
	wg.Wait()
}

// processFreshPoint sweeps a newly-encountered input point's home stripe,
// then expands both directions bounded by the currently loaded window.
func processFreshPoint(p point.Point, homeIdx int, loaded map[int]stripe.Stripe, lo, hi, numStripes int, h *heap.NeighborHeap) {
	stripe.SweepStripe(p, loaded[homeIdx].Training, h, 0)
	h.SetLowStripe(homeIdx)
	h.SetHighStripe(homeIdx)

	expandDown(p, loaded, lo, homeIdx-1, h)
	expandUp(p, loaded, hi, numStripes, homeIdx+1, h)
}

// expandDown walks stripes (from) down to (lo), the bottom edge of the
// loaded window, pruning as soon as a stripe's y-gap can't beat the
// current worst neighbor. It records whether the downward search
// completed (reached stripe 0 cleanly) or must resume in a later,
// lower-indexed window (pass 2).
func expandDown(p point.Point, loaded map[int]stripe.Stripe, lo, from int, h *heap.NeighborHeap) {
	idx := from
	for idx >= lo {
		dy := p.Y - loaded[idx].Bounds.MaxY
		if dy*dy >= h.Max() {
			h.SetLowStripe(0)
			return
		}
		stripe.SweepStripe(p, loaded[idx].Training, h, dy)
		idx--
	}
	if idx < 0 {
		h.SetLowStripe(0)
		return
	}
	h.SetLowStripe(lo)
}

// expandUp is expandDown's mirror image, bounded by the window's top edge.
func expandUp(p point.Point, loaded map[int]stripe.Stripe, hi, numStripes, from int, h *heap.NeighborHeap) {
	idx := from
	for idx < hi {
		dy := loaded[idx].Bounds.MinY - p.Y
		if dy*dy >= h.Max() {
			h.SetHighStripe(numStripes - 1)
			return
		}
		stripe.SweepStripe(p, loaded[idx].Training, h, dy)
		idx++
	}
	if idx >= numStripes {
		h.SetHighStripe(numStripes - 1)
		return
	}
	h.SetHighStripe(hi - 1)
}

// commitFunc persists one input point's finished neighbor list. RunExternal
// writes it into a pre-sized in-memory slice; RunExternalFromFiles appends
// it to an on-disk stream instead.
type commitFunc func(id uint64, neighbors []heap.Neighbor)

// finishOrPend commits a heap whose search is complete, or parks it in the
// pending map for a later window/pass.
func finishOrPend(commit commitFunc, result *knn.Result, pending *pendingMap, p point.Point, h *heap.NeighborHeap, numStripes int) {
	if complete(h, numStripes) {
		commit(p.Id, h.DrainSorted())
		addAdditions(result, h.Additions())
		return
	}
	pending.put(p, h)
	if pending.len() > result.PendingPointsPeak {
		result.PendingPointsPeak = pending.len()
	}
}

// resumeUpwardPending continues every pending point whose upward search
// has not yet reached the top of the dataset and lies behind the current
// window's top edge.
func resumeUpwardPending(cfg Config, commit commitFunc, pending *pendingMap, loaded map[int]stripe.Stripe, hi, numStripes int, result *knn.Result) {
	var items []*pendingEntry
	for _, e := range pending.entries {
		if e.h.HighStripe() < hi-1 {
			items = append(items, e)
		}
	}
	processParallel(cfg, items, func(e *pendingEntry) {
		expandUp(e.p, loaded, hi, numStripes, e.h.HighStripe()+1, e.h)
	})
	for _, e := range items {
		if complete(e.h, numStripes) {
			commit(e.p.Id, e.h.DrainSorted())
			addAdditions(result, e.h.Additions())
			pending.delete(e.p.Id)
		}
	}
}

// resumeDownwardPending is resumeUpwardPending's pass-2 mirror image.
func resumeDownwardPending(cfg Config, commit commitFunc, pending *pendingMap, loaded map[int]stripe.Stripe, lo int, numStripes int, result *knn.Result) {
	var items []*pendingEntry
	for _, e := range pending.entries {
		if e.h.LowStripe() > lo {
			items = append(items, e)
		}
	}
	processParallel(cfg, items, func(e *pendingEntry) {
		expandDown(e.p, loaded, lo, e.h.LowStripe()-1, e.h)
	})
	for _, e := range items {
		if complete(e.h, numStripes) {
			commit(e.p.Id, e.h.DrainSorted())
			addAdditions(result, e.h.Additions())
			pending.delete(e.p.Id)
		}
	}
}

func addAdditions(result *knn.Result, n uint64) {
	result.TotalAdditions += n
	if result.MinAdditions == 0 || n < result.MinAdditions {
		result.MinAdditions = n
	}
	if n > result.MaxAdditions {
		result.MaxAdditions = n
	}
}
