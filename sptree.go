package bhtsne

import (
	"fmt"
	"math"
)

// SPTree is a Barnes-Hut space-partitioning tree over an embedding: a
// quadtree in two dimensions, an octree in three, 2^dims-ary in general.
// Every cell records how many points it contains and their center of mass,
// so a distant cell can stand in for all of its points at once.
//
// Cells are kept in flat arrays indexed by cell number; the 2^dims children
// of a cell occupy consecutive numbers starting at firstChild. Reset
// rebuilds the tree for new coordinates while reusing the arrays.
//
// Building is sequential. Once built, the tree is read-only and its force
// methods may be called concurrently.
type SPTree struct {
	dims     int
	children int // 2^dims
	y        []float64
	n        int

	cumSize    []int
	point      []int // point held by a leaf, -1 if none
	lodged     []int // per point: leaf counting it without storing it, -1 if none
	firstChild []int // -1 for leaves
	corner     []float64
	width      []float64 // half-width per dimension
	com        []float64 // center of mass
}

// NewSPTree builds a tree over the n points of dims dimensions stored
// row-major in y. The tree keeps a reference to y.
func NewSPTree(y []float64, n, dims int) (*SPTree, error) {
	t := &SPTree{}
	if err := t.Reset(y, n, dims); err != nil {
		return nil, err
	}
	return t, nil
}

// Reset discards the current cells and rebuilds the tree over y. Every
// coordinate must be finite.
func (t *SPTree) Reset(y []float64, n, dims int) error {
	t.dims = dims
	t.children = 1 << dims
	t.y = y
	t.n = n

	t.cumSize = t.cumSize[:0]
	t.point = t.point[:0]
	t.firstChild = t.firstChild[:0]
	t.corner = t.corner[:0]
	t.width = t.width[:0]
	t.com = t.com[:0]

	if n == 0 {
		return nil
	}
	for k, v := range y[:n*dims] {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: point %d has coordinate %v", ErrNonFinite, k/dims, v)
		}
	}
	if cap(t.lodged) < n {
		t.lodged = make([]int, n)
	}
	t.lodged = t.lodged[:n]
	for i := range t.lodged {
		t.lodged[i] = -1
	}

	// Root cell: centered on the mean, wide enough to hold every point.
	mean := make([]float64, dims)
	minY := make([]float64, dims)
	maxY := make([]float64, dims)
	for d := 0; d < dims; d++ {
		minY[d] = math.Inf(1)
		maxY[d] = math.Inf(-1)
	}
	for i := 0; i < n; i++ {
		for d := 0; d < dims; d++ {
			v := y[i*dims+d]
			mean[d] += v
			minY[d] = min(minY[d], v)
			maxY[d] = max(maxY[d], v)
		}
	}
	width := make([]float64, dims)
	for d := 0; d < dims; d++ {
		mean[d] /= float64(n)
		width[d] = max(maxY[d]-mean[d], mean[d]-minY[d]) + 1e-5
	}
	t.addCell(mean, width)

	for i := 0; i < n; i++ {
		if !t.insert(i) {
			return fmt.Errorf("bhtsne: point %d lies outside the root cell", i)
		}
	}
	return nil
}

// Len returns the number of points the tree was built over.
func (t *SPTree) Len() int { return t.n }

// NumCells returns the number of allocated cells.
func (t *SPTree) NumCells() int { return len(t.cumSize) }

// CellSize returns the cumulative point count of the root cell.
func (t *SPTree) CellSize() int {
	if len(t.cumSize) == 0 {
		return 0
	}
	return t.cumSize[0]
}

// CenterOfMass returns the root cell's center of mass.
func (t *SPTree) CenterOfMass() []float64 {
	if len(t.com) == 0 {
		return nil
	}
	return t.com[:t.dims]
}

func (t *SPTree) addCell(corner, width []float64) int {
	c := len(t.cumSize)
	t.cumSize = append(t.cumSize, 0)
	t.point = append(t.point, -1)
	t.firstChild = append(t.firstChild, -1)
	t.corner = append(t.corner, corner...)
	t.width = append(t.width, width...)
	t.com = append(t.com, make([]float64, t.dims)...)
	return c
}

func (t *SPTree) coords(i int) []float64 {
	return t.y[i*t.dims : (i+1)*t.dims]
}

func (t *SPTree) contains(cell int, p []float64) bool {
	base := cell * t.dims
	for d, v := range p {
		if t.corner[base+d]-t.width[base+d] > v || t.corner[base+d]+t.width[base+d] < v {
			return false
		}
	}
	return true
}

// insert adds point i, descending from the root and splitting occupied
// leaves on the way. Points identical to a leaf's point are counted in the
// leaf without splitting it.
func (t *SPTree) insert(i int) bool {
	p := t.coords(i)
	cell := 0
	if !t.contains(cell, p) {
		return false
	}
	for {
		t.cumSize[cell]++
		t.accumulate(cell, p)

		if t.firstChild[cell] < 0 {
			if t.point[cell] < 0 {
				t.point[cell] = i
				return true
			}
			if equalCoords(t.coords(t.point[cell]), p) {
				return true
			}
			if !t.subdivide(cell) {
				// Too small to split further; the point is counted in the
				// cell's mass without being stored.
				t.lodged[i] = cell
				return true
			}
		}

		cell = t.childContaining(cell, p)
	}
}

// accumulate folds p into the running center of mass of cell, whose
// cumulative size has already been incremented.
func (t *SPTree) accumulate(cell int, p []float64) {
	size := float64(t.cumSize[cell])
	base := cell * t.dims
	for d, v := range p {
		t.com[base+d] = t.com[base+d]*(size-1)/size + v/size
	}
}

// subdivide turns leaf cell into an interior cell with 2^dims empty
// children and moves its point down. It reports false, leaving the cell a
// leaf, when halving the cell no longer changes its bounds.
func (t *SPTree) subdivide(cell int) bool {
	base := cell * t.dims
	corner := make([]float64, t.dims)
	width := make([]float64, t.dims)
	for d := 0; d < t.dims; d++ {
		width[d] = t.width[base+d] / 2
		if t.corner[base+d]+width[d] == t.corner[base+d] {
			return false
		}
	}

	first := len(t.cumSize)
	for c := 0; c < t.children; c++ {
		for d := 0; d < t.dims; d++ {
			if c>>d&1 == 1 {
				corner[d] = t.corner[base+d] - width[d]
			} else {
				corner[d] = t.corner[base+d] + width[d]
			}
		}
		t.addCell(corner, width)
	}
	t.firstChild[cell] = first

	// The leaf's point and its duplicates move down together. The point
	// being inserted is already counted in cumSize[cell].
	if old := t.point[cell]; old >= 0 {
		t.point[cell] = -1
		q := t.coords(old)
		child := t.childContaining(cell, q)
		t.cumSize[child] = t.cumSize[cell] - 1
		t.point[child] = old
		copy(t.com[child*t.dims:(child+1)*t.dims], q)
	}
	return true
}

// childContaining picks the child of an interior cell by comparing p with
// the cell center, so every point inside the cell lands in exactly one
// child regardless of rounding in the child bounds.
func (t *SPTree) childContaining(cell int, p []float64) int {
	base := cell * t.dims
	c := 0
	for d, v := range p {
		if v < t.corner[base+d] {
			c |= 1 << d
		}
	}
	return t.firstChild[cell] + c
}

func equalCoords(a, b []float64) bool {
	for d := range a {
		if a[d] != b[d] {
			return false
		}
	}
	return true
}

// EdgeForces accumulates into posF the attractive forces along the sparse
// pairs of P for rows [lo, hi): for each (n, m) with weight p,
// posF[n] += p·q·(y_n - y_m) with q = 1/(1 + ‖y_n - y_m‖²). Only posF rows
// in [lo, hi) are written.
func (t *SPTree) EdgeForces(P *SparseMatrix, lo, hi int, posF []float64) {
	dims := t.dims
	for n := lo; n < hi; n++ {
		yn := t.coords(n)
		out := posF[n*dims : (n+1)*dims]
		cols, vals := P.Row(n)
		for k, m := range cols {
			ym := t.coords(m)
			q := vals[k] / (1 + squaredDistance(yn, ym))
			for d := range out {
				out[d] += q * (yn[d] - ym[d])
			}
		}
	}
}

// NonEdgeForces computes the repulsive force on point i, writing
// Σ_j q_ij²·(y_i - y_j) into negF (unnormalized, q_ij = 1/(1 + ‖y_i - y_j‖²))
// and returning Σ_j q_ij. A cell whose largest half-width is below theta
// times its distance from y_i is treated as one point of its full mass at
// its center of mass. theta = 0 visits every leaf and gives exact sums.
//
// buf is scratch of length dims; callers running concurrently must each
// pass their own.
func (t *SPTree) NonEdgeForces(i int, theta float64, negF, buf []float64) float64 {
	for d := range negF {
		negF[d] = 0
	}
	if len(t.cumSize) == 0 {
		return 0
	}
	return t.nonEdge(0, i, t.coords(i), theta*theta, negF, buf)
}

func (t *SPTree) nonEdge(cell, i int, yi []float64, theta2 float64, negF, buf []float64) float64 {
	size := t.cumSize[cell]
	if size == 0 {
		return 0
	}
	leaf := t.firstChild[cell] < 0
	if leaf && (t.lodged[i] == cell || equalCoords(t.coords(t.point[cell]), yi)) {
		// The leaf counts y_i itself. Its other points are duplicates or
		// lie closer than the cell can resolve: q = 1 each, no force.
		return float64(size - 1)
	}

	base := cell * t.dims
	com := t.com[base : base+t.dims]
	var dist2, maxWidth float64
	for d := range buf {
		buf[d] = yi[d] - com[d]
		dist2 += buf[d] * buf[d]
		maxWidth = max(maxWidth, t.width[base+d])
	}

	if leaf || maxWidth*maxWidth < theta2*dist2 {
		q := 1 / (1 + dist2)
		mult := float64(size) * q
		sumQ := mult
		mult *= q
		for d := range negF {
			negF[d] += mult * buf[d]
		}
		return sumQ
	}

	var sumQ float64
	first := t.firstChild[cell]
	for c := first; c < first+t.children; c++ {
		sumQ += t.nonEdge(c, i, yi, theta2, negF, buf)
	}
	return sumQ
}
