// Package distance computes the bidirectional nearest-neighbour statistics
// used for the face match decision.
//
// For point sets A and B it reports the mean nearest distance from every
// point of A to B, the mean from every point of B to A, and the largest of all
// those per-point distances (the symmetric Hausdorff distance). Distances are
// in whatever metric units the points are expressed in.
package distance

import (
	"errors"
	"math"

	"veriface/internal/geometry"
)

// ErrEmptyPointSet is returned when either input has no points.
var ErrEmptyPointSet = errors.New("distance: empty point set")

// Result holds the directional means and the symmetric maximum.
type Result struct {
	Max      float64
	MeanAToB float64
	MeanBToA float64
}

// Evaluate returns the nearest-neighbour statistics between a and b.
func Evaluate(a, b []geometry.Vec3) (Result, error) {
	if len(a) == 0 || len(b) == 0 {
		return Result{}, ErrEmptyPointSet
	}
	treeA := NewKDTree(a)
	treeB := NewKDTree(b)

	meanAB, maxAB := directed(a, treeB)
	meanBA, maxBA := directed(b, treeA)

	return Result{
		Max:      math.Max(maxAB, maxBA),
		MeanAToB: meanAB,
		MeanBToA: meanBA,
	}, nil
}

// Hausdorff returns only the symmetric maximum.
func Hausdorff(a, b []geometry.Vec3) (float64, error) {
	r, err := Evaluate(a, b)
	if err != nil {
		return 0, err
	}
	return r.Max, nil
}

func directed(from []geometry.Vec3, to *KDTree) (mean, max float64) {
	var sum float64
	for _, p := range from {
		_, d := to.Nearest(p)
		sum += d
		if d > max {
			max = d
		}
	}
	return sum / float64(len(from)), max
}
