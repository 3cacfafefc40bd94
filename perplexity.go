package bhtsne

import (
	"fmt"
	"math"
)

const (
	// perplexityTol is the accepted gap between the row entropy and
	// log(perplexity).
	perplexityTol = 1e-5

	// perplexityMaxIter caps the binary search on beta. A row that has not
	// converged by then keeps its last beta.
	perplexityMaxIter = 200
)

// calibration summarizes the per-row binary searches of one matrix build.
type calibration struct {
	Betas       []float64 // final precision per row
	Iterations  []int     // binary-search steps per row
	Unconverged int       // rows that hit perplexityMaxIter without converging
}

// BuildSimilarityMatrix computes the sparse input similarities P: for each
// point, its k nearest neighbors under metric (nil means Euclidean) are
// found with a VP-tree, and a Gaussian kernel over them is calibrated to
// the target perplexity. Every row holds exactly k entries summing to one
// and never references its own point. Column indices are Point.Index
// values, so points[i].Index must equal i (as produced by NewPoints).
//
// Rows are computed concurrently on pool (nil means sequential). The result
// does not depend on the number of workers.
func BuildSimilarityMatrix(points []Point, metric DistanceMetric, perplexity float64, k int, pool *Pool) (*SparseMatrix, error) {
	p, _, err := computeGaussianPerplexity(points, metric, perplexity, k, pool, 0)
	return p, err
}

func computeGaussianPerplexity(points []Point, metric DistanceMetric, perplexity float64, k int, pool *Pool, grain int) (*SparseMatrix, *calibration, error) {
	n := len(points)
	if n == 0 {
		return nil, nil, ErrEmptyInput
	}
	if k < 1 || k >= n {
		return nil, nil, fmt.Errorf("%w: k=%d requires 1 <= k < n=%d", ErrInvalidNeighbors, k, n)
	}
	if !(perplexity > 0) || math.IsInf(perplexity, 0) {
		return nil, nil, fmt.Errorf("%w: got %v", ErrInvalidPerplexity, perplexity)
	}
	for i := range points {
		if points[i].Index != i {
			return nil, nil, fmt.Errorf("%w: point at position %d has index %d", ErrInvalidConfig, i, points[i].Index)
		}
	}
	if pool == nil {
		pool = NewPool(1)
	}

	tree, err := NewVPTree(points, metric, pool, grain)
	if err != nil {
		return nil, nil, err
	}
	results, err := tree.SearchAll(k+1, pool)
	if err != nil {
		return nil, nil, err
	}

	P := newUniformSparse(n, k)
	cal := &calibration{
		Betas:      make([]float64, n),
		Iterations: make([]int, n),
	}
	converged := make([]bool, n)
	logPerp := math.Log(perplexity)

	err = pool.Range(0, n, pool.Grain(n), func(lo, hi int) error {
		sqDist := make([]float64, k)
		for i := lo; i < hi; i++ {
			row := P.RowP[i]
			cols := P.ColP[row : row+k]
			vals := P.ValP[row : row+k]
			if err := collectNeighbors(results[i], k, cols, sqDist); err != nil {
				return err
			}
			var ok bool
			cal.Betas[i], cal.Iterations[i], ok = calibrateRow(sqDist, logPerp, vals)
			converged[i] = ok
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	for _, ok := range converged {
		if !ok {
			cal.Unconverged++
		}
	}
	return P, cal, nil
}

// collectNeighbors copies the k non-self neighbors of res into cols and
// their squared distances into sqDist.
func collectNeighbors(res SearchResult, k int, cols []int, sqDist []float64) error {
	m := 0
	for _, nb := range res.Neighbors {
		if nb.Index == res.Query {
			continue
		}
		if m == k {
			break
		}
		cols[m] = nb.Index
		sqDist[m] = nb.Distance * nb.Distance
		m++
	}
	if m < k {
		return fmt.Errorf("%w: point %d has %d neighbors, need %d", ErrInvalidNeighbors, res.Query, m, k)
	}
	return nil
}

// calibrateRow binary-searches the precision beta of a Gaussian kernel
// over the given squared distances until the entropy of the normalized
// row matches logPerp, then writes the normalized row into out. It returns
// the beta that produced out, the number of kernel evaluations, and whether
// the entropy landed within perplexityTol. Running out of iterations is not
// an error: the last row is kept.
//
// The kernel is evaluated on distances relative to the smallest one. This
// leaves the normalized row and its entropy unchanged and keeps the row sum
// at or above one, so it cannot underflow for large beta.
func calibrateRow(sqDist []float64, logPerp float64, out []float64) (used float64, iter int, converged bool) {
	minDist := math.Inf(1)
	for _, d := range sqDist {
		minDist = min(minDist, d)
	}

	beta := 1.0
	minBeta := math.Inf(-1)
	maxBeta := math.Inf(1)

	var sumP float64
	for iter < perplexityMaxIter {
		used = beta
		sumP = 0
		var h float64
		for m, d := range sqDist {
			shifted := d - minDist
			out[m] = math.Exp(-beta * shifted)
			sumP += out[m]
			h += shifted * out[m]
		}
		h = beta*h/sumP + math.Log(sumP)

		iter++
		diff := h - logPerp
		if math.Abs(diff) < perplexityTol {
			converged = true
			break
		}
		if diff > 0 {
			minBeta = beta
			if math.IsInf(maxBeta, 1) {
				beta *= 2
			} else {
				beta = (beta + maxBeta) / 2
			}
		} else {
			maxBeta = beta
			if math.IsInf(minBeta, -1) {
				beta /= 2
			} else {
				beta = (beta + minBeta) / 2
			}
		}
	}

	for m := range out {
		out[m] /= sumP
	}
	return used, iter, converged
}
