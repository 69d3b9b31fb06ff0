package knn

import "runtime"

// Config controls one run of the internal (in-memory) stripe algorithm.
// There is no global mutable state: every run is driven entirely by the
// Config value passed to it.
type Config struct {
	// Stripes requests a fixed stripe count; zero means automatic
	// (stripe.AutoStripes).
	Stripes int

	// Threads is the number of worker goroutines sweeping stripes
	// concurrently. Zero means runtime.NumCPU().
	Threads int

	// SplitByTraining partitions stripes by training-point count
	// instead of input-point count.
	SplitByTraining bool

	// ParallelSplit has the stripe builder locate each stripe's paired-set
	// bounds by independent binary search instead of a shared cursor, so
	// stripes can be built concurrently.
	ParallelSplit bool

	// ParallelSort sorts the input and training copies by y on separate
	// goroutines before stripe building.
	ParallelSort bool

	// DeterministicTies breaks exact d² ties by training id instead of
	// insertion order, so results are identical across thread counts.
	// Off by default: tie order then depends on stripe visitation order.
	DeterministicTies bool

	// Verbose emits stage-by-stage log.Printf progress lines.
	Verbose bool
}

// Option configures a Config.
type Option func(*Config)

// DefaultConfig returns automatic stripe count, one worker per CPU core,
// split by input dataset, non-deterministic ties, quiet.
func DefaultConfig() Config {
	return Config{Threads: runtime.NumCPU()}
}

// WithStripes requests a fixed stripe count (<=0 restores automatic).
func WithStripes(n int) Option { return func(c *Config) { c.Stripes = n } }

// WithThreads sets the worker goroutine count (<=0 restores NumCPU).
func WithThreads(n int) Option { return func(c *Config) { c.Threads = n } }

// WithSplitByTraining partitions stripes by the training set instead of
// the input set.
func WithSplitByTraining(v bool) Option { return func(c *Config) { c.SplitByTraining = v } }

// WithParallelSplit selects the binary-search, order-independent stripe
// split over the default cursor-based one.
func WithParallelSplit(v bool) Option { return func(c *Config) { c.ParallelSplit = v } }

// WithParallelSort sorts the stripe builder's input/training copies
// concurrently instead of one after another.
func WithParallelSort(v bool) Option { return func(c *Config) { c.ParallelSort = v } }

// WithDeterministicTies enables the trainingId tie-break.
func WithDeterministicTies(v bool) Option { return func(c *Config) { c.DeterministicTies = v } }

// WithVerbose toggles progress logging.
func WithVerbose(v bool) Option { return func(c *Config) { c.Verbose = v } }

// Apply builds a Config starting from DefaultConfig and layering opts on
// top, normalizing zero/negative Threads to NumCPU.
func Apply(opts ...Option) Config {
	c := DefaultConfig()
	for _, fn := range opts {
		fn(&c)
	}
	if c.Threads <= 0 {
		c.Threads = runtime.NumCPU()
	}
	return c
}
