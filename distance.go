package bhtsne

import (
	"math"

	"github.com/viterin/vek"
)

// DistanceMetric computes the distance between two points of equal
// dimensionality. Implementations used with the vantage-point tree must be
// true metrics: non-negative, symmetric, zero only for identical points and
// satisfying the triangle inequality. Squared Euclidean distance is not a
// metric and breaks the tree's pruning.
type DistanceMetric interface {
	Distance(a, b []float64) float64
}

// DistanceFunc adapts a plain function into a DistanceMetric.
type DistanceFunc func(a, b []float64) float64

func (f DistanceFunc) Distance(a, b []float64) float64 { return f(a, b) }

// EuclideanMetric computes the Euclidean (L2) distance.
type EuclideanMetric struct{}

func (EuclideanMetric) Distance(a, b []float64) float64 {
	return vek.Distance(a, b)
}

// ManhattanMetric computes the Manhattan (L1 / city-block) distance.
type ManhattanMetric struct{}

func (ManhattanMetric) Distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return sum
}

// squaredDistance returns the squared Euclidean distance between a and b.
// It is used on embedding coordinates, where the Student-t kernel needs the
// squared value and the loop is short (dims is 2 or 3 in practice).
func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
