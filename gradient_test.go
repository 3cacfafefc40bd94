package bhtsne

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// squareFixture returns P for the unit vectors e1..e4 at perplexity 1 with
// K = 3, and an embedding on the corners of a square: A(1,1), B(-1,1),
// C(-1,-1), D(1,-1). The points are equidistant, so perplexity 1 is out of
// reach and every row keeps the uniform weights 1/3.
func squareFixture(t *testing.T) (*SparseMatrix, []float64) {
	t.Helper()
	X := []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
	P, cal, err := computeGaussianPerplexity(NewPoints(X, 4, 4), nil, 1, 3, nil, 0)
	require.NoError(t, err)
	require.Equal(t, 4, cal.Unconverged)
	for i := 0; i < 4; i++ {
		_, vals := P.Row(i)
		for _, v := range vals {
			require.InDelta(t, 1.0/3, v, 1e-15)
		}
	}
	Y := []float64{1, 1, -1, 1, -1, -1, 1, -1}
	return P, Y
}

// exactGradient evaluates the t-SNE gradient with every pair computed
// directly.
func exactGradient(P *SparseMatrix, Y []float64, dims int) []float64 {
	n := P.N
	posF := make([]float64, n*dims)
	negF := make([]float64, n*dims)
	var sumQ float64
	for i := 0; i < n; i++ {
		yi := Y[i*dims : (i+1)*dims]
		cols, vals := P.Row(i)
		for k, j := range cols {
			yj := Y[j*dims : (j+1)*dims]
			q := 1 / (1 + squaredDistance(yi, yj))
			for d := 0; d < dims; d++ {
				posF[i*dims+d] += vals[k] * q * (yi[d] - yj[d])
			}
		}
		f, s := exactRepulsion(Y, n, dims, i)
		copy(negF[i*dims:], f)
		sumQ += s
	}
	dC := make([]float64, n*dims)
	for i := range dC {
		dC[i] = posF[i] - negF[i]/sumQ
	}
	return dC
}

func TestGradient_SquareLiteral(t *testing.T) {
	P, Y := squareFixture(t)

	// posF_A = 1/3·(1/5·(2,0) + 1/5·(0,2) + 1/9·(2,2)) = (28/135, 28/135)
	// negF_A = 1/25·(2,0) + 1/25·(0,2) + 1/81·(2,2)    = (212/2025, 212/2025)
	// Σq     = 4·(1/5 + 1/5 + 1/9)                      = 92/45
	// dC_A   = 28/135 - (212/2025)/(92/45)              = 97/621
	g := 97.0 / 621
	want := []float64{g, g, -g, g, -g, -g, g, -g}

	for _, theta := range []float64{0, 0.5} {
		dC, err := ComputeGradient(P, Y, 2, theta, NewPool(2))
		require.NoError(t, err)
		for i := range want {
			assert.InDelta(t, want[i], dC[i], 1e-12, "theta=%v i=%d", theta, i)
		}
	}
}

func TestGradient_ZeroThetaMatchesExact(t *testing.T) {
	for _, dims := range []int{2, 3} {
		n := 150
		data := generateFlatData(n, 5, 3)
		P, err := BuildSimilarityMatrix(NewPoints(data, n, 5), nil, 5, 15, nil)
		require.NoError(t, err)
		P = P.Symmetrize()

		Y := generateFlatData(n, dims, 9)
		for i := range Y {
			Y[i] = Y[i]/50 - 1
		}

		dC, err := ComputeGradient(P, Y, dims, 0, NewPool(4))
		require.NoError(t, err)
		want := exactGradient(P, Y, dims)
		for i := range want {
			assert.InDelta(t, want[i], dC[i], 1e-12, "dims=%d i=%d", dims, i)
		}
	}
}

func TestGradient_ParallelMatchesSequential(t *testing.T) {
	n, dims := 600, 2
	data := generateFlatData(n, 8, 31)
	P, err := BuildSimilarityMatrix(NewPoints(data, n, 8), nil, 10, 30, NewPool(4))
	require.NoError(t, err)
	P = P.Symmetrize()
	Y := generateFlatData(n, dims, 32)

	seq, err := ComputeGradient(P, Y, dims, 0.5, NewPool(1))
	require.NoError(t, err)
	for _, workers := range []int{2, 3, 8} {
		par, err := ComputeGradient(P, Y, dims, 0.5, NewPool(workers))
		require.NoError(t, err)
		assert.Equal(t, seq, par, "workers=%d", workers)
	}
}

func TestGradientEngine_ReusesBuffers(t *testing.T) {
	P, Y := squareFixture(t)
	engine := NewGradientEngine(nil)

	first := make([]float64, len(Y))
	require.NoError(t, engine.Gradient(P, Y, 2, 0.5, first))
	second := make([]float64, len(Y))
	require.NoError(t, engine.Gradient(P, Y, 2, 0.5, second))
	assert.Equal(t, first, second)
}

func TestGradient_Errors(t *testing.T) {
	P, Y := squareFixture(t)
	engine := NewGradientEngine(nil)
	dC := make([]float64, len(Y))

	assert.ErrorIs(t, engine.Gradient(nil, Y, 2, 0.5, dC), ErrEmptyInput)
	assert.ErrorIs(t, engine.Gradient(&SparseMatrix{}, Y, 2, 0.5, dC), ErrEmptyInput)
	assert.ErrorIs(t, engine.Gradient(P, Y, 2, -0.1, dC), ErrInvalidTheta)
	assert.ErrorIs(t, engine.Gradient(P, Y, 2, math.NaN(), dC), ErrInvalidTheta)
	assert.ErrorIs(t, engine.Gradient(P, Y, 0, 0.5, dC), ErrInvalidConfig)

	var dimErr *DimensionMismatchError
	require.ErrorAs(t, engine.Gradient(P, Y[:6], 2, 0.5, dC), &dimErr)
	assert.Equal(t, 8, dimErr.Expected)
	assert.Equal(t, 6, dimErr.Actual)

	require.ErrorAs(t, engine.Gradient(P, Y, 2, 0.5, dC[:4]), &dimErr)
	assert.Equal(t, "gradient", dimErr.What)
}

func TestCost_MatchesExactKL(t *testing.T) {
	n, dims := 100, 2
	data := generateFlatData(n, 4, 44)
	P, err := BuildSimilarityMatrix(NewPoints(data, n, 4), nil, 5, 15, nil)
	require.NoError(t, err)
	P = P.Symmetrize()
	Y := generateFlatData(n, dims, 45)
	for i := range Y {
		Y[i] /= 20
	}

	var sumQ float64
	for i := 0; i < n; i++ {
		_, s := exactRepulsion(Y, n, dims, i)
		sumQ += s
	}
	var want float64
	for i := 0; i < n; i++ {
		cols, vals := P.Row(i)
		for k, j := range cols {
			q := 1 / (1 + squaredDistance(Y[i*dims:(i+1)*dims], Y[j*dims:(j+1)*dims])) / sumQ
			want += vals[k] * math.Log(vals[k]/q)
		}
	}

	engine := NewGradientEngine(NewPool(3))
	got, err := engine.Cost(P, Y, dims, 0)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-9)
	assert.GreaterOrEqual(t, got, 0.0)

	approx, err := engine.Cost(P, Y, dims, 0.5)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(approx) || math.IsInf(approx, 0))
	assert.InEpsilon(t, want, approx, 0.05)
}
