// Package point defines the Point type and in-memory point sets used by
// the planesweep-stripes k-nearest-neighbor algorithms.
package point

import "sort"

// Point is a single entry of an input or training set.
//
// Id is 1-based; for the input set, Id-1 is also the point's position in
// Set, which is how result slots are indexed.
type Point struct {
	Id uint64
	X  float64
	Y  float64
}

// Set is an in-memory, ordered sequence of points.
type Set []Point

// SortedByY returns a copy of s sorted by Y ascending (stable).
func (s Set) SortedByY() Set {
	out := make(Set, len(s))
	copy(out, s)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Y < out[j].Y })
	return out
}

// SortByX sorts s in place by X ascending (stable).
func (s Set) SortByX() {
	sort.SliceStable(s, func(i, j int) bool { return s[i].X < s[j].X })
}

// DistanceSquared returns the squared Euclidean distance between p and q.
func DistanceSquared(p, q Point) float64 {
	dx := q.X - p.X
	dy := q.Y - p.Y
	return dx*dx + dy*dy
}

// DistanceSquaredDX is DistanceSquared but also returns dx = q.X - p.X,
// which callers need separately for the planesweep pruning test.
func DistanceSquaredDX(p, q Point) (distSq, dx float64) {
	dx = q.X - p.X
	dy := q.Y - p.Y
	return dx*dx + dy*dy, dx
}
