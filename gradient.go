package bhtsne

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// costEpsilon guards the logarithm in the KL divergence against zero
// similarities; it is the smallest normal float32.
const costEpsilon = 1.1754943508222875e-38

// GradientEngine computes Barnes-Hut t-SNE gradients. It owns the tree and
// the force buffers and reuses them across calls, so one engine should
// serve a whole optimization run. An engine is not safe for concurrent use;
// the parallelism happens inside each call.
type GradientEngine struct {
	pool *Pool
	tree SPTree

	posF []float64
	negF []float64
	sumQ []float64
}

// NewGradientEngine returns an engine that runs its per-point work on pool
// (nil means sequential).
func NewGradientEngine(pool *Pool) *GradientEngine {
	if pool == nil {
		pool = NewPool(1)
	}
	return &GradientEngine{pool: pool}
}

// ComputeGradient is a convenience wrapper that allocates an engine and
// returns the gradient of the cost at Y.
func ComputeGradient(P *SparseMatrix, Y []float64, dims int, theta float64, pool *Pool) ([]float64, error) {
	dC := make([]float64, len(Y))
	if err := NewGradientEngine(pool).Gradient(P, Y, dims, theta, dC); err != nil {
		return nil, err
	}
	return dC, nil
}

func (e *GradientEngine) check(P *SparseMatrix, Y []float64, dims int, theta float64) (int, error) {
	if P == nil || P.N == 0 {
		return 0, ErrEmptyInput
	}
	if dims < 1 {
		return 0, fmt.Errorf("%w: output dims must be >= 1, got %d", ErrInvalidConfig, dims)
	}
	if theta < 0 || math.IsNaN(theta) {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidTheta, theta)
	}
	n := P.N
	if err := checkLen("embedding", Y, n*dims); err != nil {
		return 0, err
	}
	return n, nil
}

func (e *GradientEngine) prepare(n, dims int) {
	size := n * dims
	if cap(e.posF) < size {
		e.posF = make([]float64, size)
		e.negF = make([]float64, size)
	}
	e.posF = e.posF[:size]
	e.negF = e.negF[:size]
	if cap(e.sumQ) < n {
		e.sumQ = make([]float64, n)
	}
	e.sumQ = e.sumQ[:n]
}

// nonEdgePhase fills negF and sumQ for every point concurrently and returns
// the total normalizer Σ_ij q_ij. The per-point sums are reduced in index
// order only after every task has joined, so the total does not depend on
// scheduling.
func (e *GradientEngine) nonEdgePhase(n, dims int, theta float64) (float64, error) {
	err := e.pool.Range(0, n, e.pool.Grain(n), func(lo, hi int) error {
		buf := make([]float64, dims)
		for i := lo; i < hi; i++ {
			e.sumQ[i] = e.tree.NonEdgeForces(i, theta, e.negF[i*dims:(i+1)*dims], buf)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return floats.Sum(e.sumQ), nil
}

// Gradient writes into dC the Barnes-Hut approximation of the gradient of
// KL(P‖Q) at the embedding Y (N×dims, row-major):
//
//	dC[n,d] = posF[n,d] - negF[n,d] / Σ q
//
// The tree is rebuilt from Y on every call.
func (e *GradientEngine) Gradient(P *SparseMatrix, Y []float64, dims int, theta float64, dC []float64) error {
	n, err := e.check(P, Y, dims, theta)
	if err != nil {
		return err
	}
	if err := checkLen("gradient", dC, n*dims); err != nil {
		return err
	}

	e.prepare(n, dims)
	if err := e.tree.Reset(Y, n, dims); err != nil {
		return err
	}

	for i := range e.posF {
		e.posF[i] = 0
	}
	err = e.pool.Range(0, n, e.pool.Grain(n), func(lo, hi int) error {
		e.tree.EdgeForces(P, lo, hi, e.posF)
		return nil
	})
	if err != nil {
		return err
	}

	sumQ, err := e.nonEdgePhase(n, dims, theta)
	if err != nil {
		return err
	}

	for i := range dC {
		dC[i] = e.posF[i] - e.negF[i]/sumQ
	}
	return nil
}

// Cost returns the Barnes-Hut estimate of KL(P‖Q) at Y.
func (e *GradientEngine) Cost(P *SparseMatrix, Y []float64, dims int, theta float64) (float64, error) {
	n, err := e.check(P, Y, dims, theta)
	if err != nil {
		return 0, err
	}

	e.prepare(n, dims)
	if err := e.tree.Reset(Y, n, dims); err != nil {
		return 0, err
	}

	sumQ, err := e.nonEdgePhase(n, dims, theta)
	if err != nil {
		return 0, err
	}

	var c float64
	for i := 0; i < n; i++ {
		yi := Y[i*dims : (i+1)*dims]
		cols, vals := P.Row(i)
		for k, j := range cols {
			q := 1 / (1 + squaredDistance(yi, Y[j*dims:(j+1)*dims])) / sumQ
			c += vals[k] * math.Log((vals[k]+costEpsilon)/(q+costEpsilon))
		}
	}
	return c, nil
}
