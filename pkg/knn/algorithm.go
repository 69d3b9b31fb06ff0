package knn

import (
	"context"

	"github.com/thcristo/planesweep-knn/pkg/point"
)

// Algorithm is implemented by every AkNN variant this module provides. Per
// design, variants differ only by configuration, not by inheritance: the
// internal and external schedulers are plain functions wrapped in a small
// value that carries their name and memory-model metadata.
type Algorithm interface {
	// Name identifies the algorithm for statistics reporting, e.g.
	// "planesweep_stripes" or "planesweep_stripes_external".
	Name() string

	// UsesExternalMemory reports whether this variant processes the
	// training set out-of-core.
	UsesExternalMemory() bool

	// Run computes the k nearest neighbors of every input point.
	Run(ctx context.Context, input, training point.Set, k int) (*Result, error)
}

// Internal wraps RunInternal as an Algorithm value, configured once at
// construction time with functional options.
type Internal struct {
	opts []Option
}

// NewInternal returns an Internal algorithm configured by opts.
func NewInternal(opts ...Option) Internal {
	return Internal{opts: opts}
}

func (a Internal) Name() string             { return "planesweep_stripes" }
func (a Internal) UsesExternalMemory() bool { return false }

func (a Internal) Run(ctx context.Context, input, training point.Set, k int) (*Result, error) {
	result, err := RunInternal(ctx, input, training, k, a.opts...)
	if result != nil {
		result.Algorithm = a.Name()
	}
	return result, err
}
