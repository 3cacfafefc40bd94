package bhtsne

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// denseOf expands m into a dense N×N matrix.
func denseOf(m *SparseMatrix) [][]float64 {
	d := make([][]float64, m.N)
	for i := range d {
		d[i] = make([]float64, m.N)
		cols, vals := m.Row(i)
		for k, j := range cols {
			d[i][j] += vals[k]
		}
	}
	return d
}

func TestSparseMatrix_Accessors(t *testing.T) {
	m := newUniformSparse(3, 2)
	copy(m.ColP, []int{1, 2, 0, 2, 0, 1})
	copy(m.ValP, []float64{0.25, 0.75, 0.5, 0.5, 0.9, 0.1})

	assert.Equal(t, []int{0, 2, 4, 6}, m.RowP)
	assert.Equal(t, 6, m.NNZ())
	assert.InDelta(t, 3.0, m.Sum(), floatTol)

	cols, vals := m.Row(1)
	assert.Equal(t, []int{0, 2}, cols)
	assert.Equal(t, []float64{0.5, 0.5}, vals)

	m.Scale(2)
	assert.InDelta(t, 6.0, m.Sum(), floatTol)
	_, vals = m.Row(2)
	assert.InDelta(t, 1.8, vals[0], floatTol)
}

func TestSparseMatrix_Validate(t *testing.T) {
	valid := func() *SparseMatrix {
		m := newUniformSparse(3, 1)
		copy(m.ColP, []int{1, 2, 0})
		copy(m.ValP, []float64{1, 1, 1})
		return m
	}
	require.NoError(t, valid().Validate())

	m := valid()
	m.ColP[1] = 1
	assert.Error(t, m.Validate(), "self loop")

	m = valid()
	m.ColP[0] = 3
	assert.Error(t, m.Validate(), "column out of range")

	m = valid()
	m.ValP[2] = -0.5
	assert.Error(t, m.Validate(), "negative weight")

	m = valid()
	m.RowP = m.RowP[:3]
	var dimErr *DimensionMismatchError
	assert.ErrorAs(t, m.Validate(), &dimErr)

	m = valid()
	m.ValP = m.ValP[:2]
	assert.Error(t, m.Validate(), "value count")
}

func TestSparseMatrix_SymmetrizeAsymmetricPairs(t *testing.T) {
	// 0→1 (0.6) and 1→0 (0.2) are mutual; 2→0 (1.0) has no reverse.
	m := &SparseMatrix{
		N:    3,
		RowP: []int{0, 1, 2, 3},
		ColP: []int{1, 0, 0},
		ValP: []float64{0.6, 0.2, 1.0},
	}
	sym := m.Symmetrize()
	require.NoError(t, sym.Validate())

	// P + Pᵀ has off-diagonal sum 2*(0.6+0.2+1.0) = 3.6.
	d := denseOf(sym)
	assert.InDelta(t, 0.8/3.6, d[0][1], floatTol)
	assert.InDelta(t, 0.8/3.6, d[1][0], floatTol)
	assert.InDelta(t, 1.0/3.6, d[0][2], floatTol)
	assert.InDelta(t, 1.0/3.6, d[2][0], floatTol)
	assert.Zero(t, d[1][2])
	assert.InDelta(t, 1.0, sym.Sum(), floatTol)

	cols, _ := sym.Row(0)
	assert.Equal(t, []int{1, 2}, cols, "columns sorted ascending")
}

func TestSparseMatrix_SymmetrizeCalibrated(t *testing.T) {
	n, dims, k := 80, 4, 10
	data := generateFlatData(n, dims, 17)
	P, err := BuildSimilarityMatrix(NewPoints(data, n, dims), nil, 3, k, NewPool(2))
	require.NoError(t, err)

	sym := P.Symmetrize()
	require.NoError(t, sym.Validate())
	assert.InDelta(t, 1.0, sym.Sum(), 1e-9)

	d := denseOf(sym)
	for i := 0; i < n; i++ {
		cols, _ := sym.Row(i)
		for c := 1; c < len(cols); c++ {
			assert.Less(t, cols[c-1], cols[c], "row %d not sorted or has duplicates", i)
		}
		for j := 0; j < n; j++ {
			assert.Equal(t, d[i][j], d[j][i], "asymmetric at (%d,%d)", i, j)
		}
	}
	// The input matrix is left untouched.
	assert.Equal(t, n*k, P.NNZ())
}
