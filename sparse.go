package bhtsne

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// SparseMatrix is an N×N matrix in compressed sparse row form. Row n holds
// columns ColP[RowP[n]:RowP[n+1]] with weights ValP[RowP[n]:RowP[n+1]].
type SparseMatrix struct {
	N    int
	RowP []int
	ColP []int
	ValP []float64
}

// newUniformSparse allocates a matrix with exactly k entries per row.
func newUniformSparse(n, k int) *SparseMatrix {
	m := &SparseMatrix{
		N:    n,
		RowP: make([]int, n+1),
		ColP: make([]int, n*k),
		ValP: make([]float64, n*k),
	}
	for i := 0; i < n; i++ {
		m.RowP[i+1] = m.RowP[i] + k
	}
	return m
}

// Row returns the column indices and weights of row n. The slices alias
// the matrix storage.
func (m *SparseMatrix) Row(n int) ([]int, []float64) {
	lo, hi := m.RowP[n], m.RowP[n+1]
	return m.ColP[lo:hi], m.ValP[lo:hi]
}

// NNZ returns the number of stored entries.
func (m *SparseMatrix) NNZ() int { return m.RowP[m.N] }

// Sum returns the sum of all stored weights.
func (m *SparseMatrix) Sum() float64 { return floats.Sum(m.ValP) }

// Scale multiplies every stored weight by f in place.
func (m *SparseMatrix) Scale(f float64) { floats.Scale(f, m.ValP) }

// Validate checks the structural invariants: monotone row offsets, column
// indices in range, no self loops, finite non-negative weights.
func (m *SparseMatrix) Validate() error {
	if len(m.RowP) != m.N+1 {
		return &DimensionMismatchError{What: "row offsets", Expected: m.N + 1, Actual: len(m.RowP)}
	}
	if m.RowP[0] != 0 {
		return fmt.Errorf("bhtsne: sparse matrix: first row offset is %d", m.RowP[0])
	}
	nnz := m.RowP[m.N]
	if len(m.ColP) != nnz || len(m.ValP) != nnz {
		return fmt.Errorf("bhtsne: sparse matrix: %d offsets but %d columns and %d values", nnz, len(m.ColP), len(m.ValP))
	}
	for n := 0; n < m.N; n++ {
		if m.RowP[n+1] < m.RowP[n] {
			return fmt.Errorf("bhtsne: sparse matrix: row %d has negative length", n)
		}
		cols, vals := m.Row(n)
		for i, c := range cols {
			switch {
			case c < 0 || c >= m.N:
				return fmt.Errorf("bhtsne: sparse matrix: row %d: column %d out of range", n, c)
			case c == n:
				return fmt.Errorf("bhtsne: sparse matrix: row %d: self loop", n)
			case vals[i] < 0 || math.IsNaN(vals[i]) || math.IsInf(vals[i], 0):
				return fmt.Errorf("bhtsne: sparse matrix: row %d: invalid weight %v", n, vals[i])
			}
		}
	}
	return nil
}

// Symmetrize returns (P + Pᵀ) normalized so that all weights sum to one.
// Columns within each row of the result are sorted ascending.
func (m *SparseMatrix) Symmetrize() *SparseMatrix {
	n := m.N

	// Count entries per row of P + Pᵀ: every (i,j) contributes to row i,
	// and to row j unless (j,i) is also present.
	rowCounts := make([]int, n)
	for i := 0; i < n; i++ {
		cols, _ := m.Row(i)
		for _, j := range cols {
			rowCounts[i]++
			if !m.has(j, i) {
				rowCounts[j]++
			}
		}
	}

	sym := &SparseMatrix{N: n, RowP: make([]int, n+1)}
	for i := 0; i < n; i++ {
		sym.RowP[i+1] = sym.RowP[i] + rowCounts[i]
	}
	nnz := sym.RowP[n]
	sym.ColP = make([]int, nnz)
	sym.ValP = make([]float64, nnz)

	offset := make([]int, n)
	for i := 0; i < n; i++ {
		cols, vals := m.Row(i)
		for k, j := range cols {
			v, present := m.lookup(j, i)
			if present {
				// Emit the pair once, from the smaller row, into both rows.
				if i < j {
					sym.ColP[sym.RowP[i]+offset[i]] = j
					sym.ValP[sym.RowP[i]+offset[i]] = vals[k] + v
					offset[i]++
					sym.ColP[sym.RowP[j]+offset[j]] = i
					sym.ValP[sym.RowP[j]+offset[j]] = vals[k] + v
					offset[j]++
				}
				continue
			}
			sym.ColP[sym.RowP[i]+offset[i]] = j
			sym.ValP[sym.RowP[i]+offset[i]] = vals[k]
			offset[i]++
			sym.ColP[sym.RowP[j]+offset[j]] = i
			sym.ValP[sym.RowP[j]+offset[j]] = vals[k]
			offset[j]++
		}
	}

	for i := 0; i < n; i++ {
		sym.sortRow(i)
	}
	if total := sym.Sum(); total > 0 {
		sym.Scale(1 / total)
	}
	return sym
}

func (m *SparseMatrix) has(row, col int) bool {
	_, ok := m.lookup(row, col)
	return ok
}

func (m *SparseMatrix) lookup(row, col int) (float64, bool) {
	cols, vals := m.Row(row)
	for k, c := range cols {
		if c == col {
			return vals[k], true
		}
	}
	return 0, false
}

// sortRow orders row n by column index, keeping weights aligned.
func (m *SparseMatrix) sortRow(n int) {
	cols, vals := m.Row(n)
	perm := make([]int, len(cols))
	for i := range perm {
		perm[i] = i
	}
	slices.SortFunc(perm, func(a, b int) int { return cols[a] - cols[b] })

	sortedCols := make([]int, len(cols))
	sortedVals := make([]float64, len(vals))
	for i, p := range perm {
		sortedCols[i] = cols[p]
		sortedVals[i] = vals[p]
	}
	copy(cols, sortedCols)
	copy(vals, sortedVals)
}
