package knn

import "math"

// FindDifferences compares r against a reference result for every input
// point and returns the ids of points whose neighbor distances diverge by
// more than accuracy: it walks each point's neighbor list in order and
// compares d² pairwise, stopping at the first divergence (or at a length
// mismatch) for that point.
func FindDifferences(r, reference *Result, accuracy float64) []uint64 {
	var diffs []uint64
	n := len(r.Neighbors)
	if len(reference.Neighbors) < n {
		n = len(reference.Neighbors)
	}

	for i := 0; i < n; i++ {
		a := r.Neighbors[i]
		b := reference.Neighbors[i]

		m := len(a)
		if len(b) < m {
			m = len(b)
		}

		diverged := false
		for j := 0; j < m; j++ {
			if math.Abs(a[j].DistSq-b[j].DistSq) > accuracy {
				diverged = true
				break
			}
		}
		if !diverged && len(a) != len(b) {
			diverged = true
		}

		if diverged {
			diffs = append(diffs, uint64(i+1))
		}
	}

	return diffs
}
