package external

import (
	"context"

	"github.com/thcristo/planesweep-knn/pkg/knn"
	"github.com/thcristo/planesweep-knn/pkg/point"
)

// Algorithm wraps the windowed scheduler as a knn.Algorithm value,
// configured once at construction time with functional options. It lives
// in this package rather than pkg/knn because the scheduler depends on
// pkg/knn.Result and a wrapper here avoids an import cycle.
type Algorithm struct {
	opts []Option
}

var _ knn.Algorithm = Algorithm{}

// NewAlgorithm returns an External algorithm configured by opts.
func NewAlgorithm(opts ...Option) Algorithm {
	return Algorithm{opts: opts}
}

func (a Algorithm) Name() string             { return "planesweep_stripes_external" }
func (a Algorithm) UsesExternalMemory() bool { return true }

// Run computes the k nearest neighbors of every input point from
// in-memory sets, spilling them to a temporary stripe store first (see
// RunExternal).
func (a Algorithm) Run(ctx context.Context, input, training point.Set, k int) (*knn.Result, error) {
	return RunExternal(ctx, input, training, k, a.opts...)
}

// RunFromFiles is the fully out-of-core entry point: neither dataset is
// materialized in memory and resolved neighbor lists stream to
// neighborsOutPath (see RunExternalFromFiles). The CLI drives the
// external variant through this method.
func (a Algorithm) RunFromFiles(ctx context.Context, inputPath, trainingPath, neighborsOutPath string, k int) (*knn.Result, error) {
	return RunExternalFromFiles(ctx, inputPath, trainingPath, neighborsOutPath, k, a.opts...)
}
