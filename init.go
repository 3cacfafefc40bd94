package bhtsne

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// initScale is the standard deviation of the initial embedding.
const initScale = 1e-4

// centerColumns subtracts each column's mean from flat row-major data.
func centerColumns(data []float64, n, dims int) {
	if n == 0 {
		return
	}
	m := mat.NewDense(n, dims, data)
	col := make([]float64, n)
	for j := 0; j < dims; j++ {
		mat.Col(col, j, m)
		mean := stat.Mean(col, nil)
		for i := 0; i < n; i++ {
			data[i*dims+j] -= mean
		}
	}
}

// initEmbedding returns the starting n×outDims embedding for X (n×dims,
// already centered).
func initEmbedding(mode Init, X []float64, n, dims, outDims int, seed uint64) ([]float64, error) {
	switch mode {
	case InitPCA:
		return pcaEmbedding(X, n, dims, outDims)
	default:
		return randomEmbedding(n, outDims, seed), nil
	}
}

// randomEmbedding draws every coordinate from N(0, initScale²).
func randomEmbedding(n, outDims int, seed uint64) []float64 {
	dist := distuv.Normal{Mu: 0, Sigma: initScale, Src: rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)}
	Y := make([]float64, n*outDims)
	for i := range Y {
		Y[i] = dist.Rand()
	}
	return Y
}

// pcaEmbedding projects X onto its first outDims principal components and
// rescales the result so the first component has standard deviation
// initScale.
func pcaEmbedding(X []float64, n, dims, outDims int) ([]float64, error) {
	if outDims > min(n, dims) {
		return nil, fmt.Errorf("%w: PCA init needs OutputDims <= min(points, input dims) = %d, got %d",
			ErrInvalidConfig, min(n, dims), outDims)
	}

	x := mat.NewDense(n, dims, X)
	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, fmt.Errorf("%w: PCA init: decomposition failed", ErrInvalidConfig)
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	Y := make([]float64, n*outDims)
	proj := mat.NewDense(n, outDims, Y)
	proj.Mul(x, vecs.Slice(0, dims, 0, outDims))

	first := make([]float64, n)
	mat.Col(first, 0, proj)
	if sd := stat.StdDev(first, nil); sd > 0 {
		floats.Scale(initScale/sd, Y)
	}
	return Y, nil
}
