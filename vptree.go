package bhtsne

import (
	"container/heap"
	"fmt"
	"math"
)

// DefaultVPTreeGrain is the subtree size below which VP-tree construction
// stops forking and recurses sequentially.
const DefaultVPTreeGrain = 512

// VPTree is a vantage-point tree over a fixed set of points.
//
// Nodes live in an array indexed by position in the item permutation: the
// subtree built over items[lo:hi] has its pivot at items[lo] and its node at
// nodes[lo]. Sibling subtrees own disjoint ranges of both arrays, so they
// can be built concurrently without locking.
type VPTree struct {
	points []Point
	metric DistanceMetric
	items  []int     // permutation of point positions
	dist   []float64 // build scratch: dist[i] = distance of items[i] to its current pivot
	nodes  []vpNode
	seed   uint64
}

type vpNode struct {
	threshold   float64 // distance from pivot to the median item
	left, right int     // node positions; -1 if absent
}

// Neighbor is one k-NN search hit.
type Neighbor struct {
	Index    int // Point.Index of the hit
	Distance float64
}

// SearchResult holds the neighbors of one query point, nearest first.
type SearchResult struct {
	Query     int
	Neighbors []Neighbor
}

// NewVPTree indexes points under metric (nil means EuclideanMetric). The two
// subtrees of every split are built concurrently on pool when they hold more
// than grain points (grain <= 0 means DefaultVPTreeGrain). The pivot choice
// is a hash of the subtree range, so the tree shape does not depend on
// scheduling.
func NewVPTree(points []Point, metric DistanceMetric, pool *Pool, grain int) (*VPTree, error) {
	if len(points) == 0 {
		return nil, ErrEmptyInput
	}
	if metric == nil {
		metric = EuclideanMetric{}
	}
	if pool == nil {
		pool = NewPool(1)
	}
	if grain <= 0 {
		grain = DefaultVPTreeGrain
	}

	dims := points[0].Dims()
	for i := range points {
		if points[i].Dims() != dims {
			return nil, &DimensionMismatchError{What: fmt.Sprintf("point %d", i), Expected: dims, Actual: points[i].Dims()}
		}
	}

	n := len(points)
	t := &VPTree{
		points: points,
		metric: metric,
		items:  make([]int, n),
		dist:   make([]float64, n),
		nodes:  make([]vpNode, n),
		seed:   0x5EED_7E5E,
	}
	for i := range t.items {
		t.items[i] = i
	}

	if err := t.build(pool, grain, 0, n); err != nil {
		return nil, err
	}
	t.dist = nil
	return t, nil
}

// Len returns the number of indexed points.
func (t *VPTree) Len() int { return len(t.points) }

// build constructs the subtree over items[lo:hi].
func (t *VPTree) build(pool *Pool, grain, lo, hi int) error {
	if hi-lo == 1 {
		t.nodes[lo] = vpNode{left: -1, right: -1}
		return nil
	}

	pick := lo + int(splitmix64(t.seed^uint64(lo)<<32^uint64(hi))%uint64(hi-lo))
	t.items[lo], t.items[pick] = t.items[pick], t.items[lo]

	pivot := t.points[t.items[lo]].Coords
	for i := lo + 1; i < hi; i++ {
		t.dist[i] = t.metric.Distance(pivot, t.points[t.items[i]].Coords)
	}

	median := (lo + hi) / 2
	t.selectNth(lo+1, hi, median)

	node := vpNode{threshold: t.dist[median], left: -1, right: -1}
	if median > lo+1 {
		node.left = lo + 1
	}
	node.right = median
	t.nodes[lo] = node

	buildLeft := func() error {
		if node.left < 0 {
			return nil
		}
		return t.build(pool, grain, lo+1, median)
	}
	buildRight := func() error { return t.build(pool, grain, median, hi) }

	if hi-lo > grain {
		return pool.Fork(buildLeft, buildRight)
	}
	if err := buildLeft(); err != nil {
		return err
	}
	return buildRight()
}

// selectNth partially orders items[lo:hi] by (distance to pivot, index) so
// that position nth holds the element it would hold if the range were
// sorted, everything before it is smaller and everything after it larger.
func (t *VPTree) selectNth(lo, hi, nth int) {
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		last := hi - 1
		// Median of three, moved to last.
		if t.itemLess(mid, lo) {
			t.swapItems(mid, lo)
		}
		if t.itemLess(last, lo) {
			t.swapItems(last, lo)
		}
		if t.itemLess(mid, last) {
			t.swapItems(mid, last)
		}

		store := lo
		for i := lo; i < last; i++ {
			if t.itemLess(i, last) {
				t.swapItems(i, store)
				store++
			}
		}
		t.swapItems(store, last)

		switch {
		case nth == store:
			return
		case nth < store:
			hi = store
		default:
			lo = store + 1
		}
	}
}

func (t *VPTree) itemLess(i, j int) bool {
	if t.dist[i] != t.dist[j] {
		return t.dist[i] < t.dist[j]
	}
	return t.points[t.items[i]].Index < t.points[t.items[j]].Index
}

func (t *VPTree) swapItems(i, j int) {
	t.items[i], t.items[j] = t.items[j], t.items[i]
	t.dist[i], t.dist[j] = t.dist[j], t.dist[i]
}

// Search returns the k points nearest to query, nearest first. Ties are
// broken by Point.Index.
func (t *VPTree) Search(query []float64, k int) []Neighbor {
	return t.search(query, k, -1)
}

// SearchPoint returns the k points nearest to the indexed point at position
// i. The point itself is always ranked first among points at distance zero.
func (t *VPTree) SearchPoint(i, k int) []Neighbor {
	p := t.points[i]
	return t.search(p.Coords, k, p.Index)
}

// SearchAll runs SearchPoint for every indexed point concurrently on pool
// and returns one result per point, in point order.
func (t *VPTree) SearchAll(k int, pool *Pool) ([]SearchResult, error) {
	if k < 1 || k > len(t.points) {
		return nil, fmt.Errorf("%w: k=%d with %d indexed points", ErrInvalidNeighbors, k, len(t.points))
	}
	if pool == nil {
		pool = NewPool(1)
	}
	results := make([]SearchResult, len(t.points))
	err := pool.Range(0, len(t.points), pool.Grain(len(t.points)), func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			results[i] = SearchResult{Query: t.points[i].Index, Neighbors: t.SearchPoint(i, k)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (t *VPTree) search(query []float64, k int, self int) []Neighbor {
	if k < 1 || len(t.points) == 0 {
		return nil
	}
	h := &neighborHeap{self: self, items: make([]Neighbor, 0, k)}
	tau := math.Inf(1)
	t.searchNode(0, query, k, h, &tau)

	out := make([]Neighbor, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Neighbor)
	}
	return out
}

// searchNode is a branch-and-bound descent. tau is the distance of the
// current k-th best candidate, or +Inf while fewer than k are known.
func (t *VPTree) searchNode(pos int, query []float64, k int, h *neighborHeap, tau *float64) {
	p := t.points[t.items[pos]]
	d := t.metric.Distance(query, p.Coords)

	cand := Neighbor{Index: p.Index, Distance: d}
	if h.Len() < k {
		heap.Push(h, cand)
	} else if h.better(cand, h.items[0]) {
		h.items[0] = cand
		heap.Fix(h, 0)
	}
	if h.Len() == k {
		*tau = h.items[0].Distance
	}

	node := t.nodes[pos]
	if node.left < 0 && node.right < 0 {
		return
	}

	if d < node.threshold {
		if node.left >= 0 && d-*tau <= node.threshold {
			t.searchNode(node.left, query, k, h, tau)
		}
		if node.right >= 0 && d+*tau >= node.threshold {
			t.searchNode(node.right, query, k, h, tau)
		}
	} else {
		if node.right >= 0 && d+*tau >= node.threshold {
			t.searchNode(node.right, query, k, h, tau)
		}
		if node.left >= 0 && d-*tau <= node.threshold {
			t.searchNode(node.left, query, k, h, tau)
		}
	}
}

// neighborHeap is a max-heap of candidates (worst on top) used as a bounded
// priority queue during search.
type neighborHeap struct {
	self  int
	items []Neighbor
}

// better reports whether a ranks ahead of b.
func (h *neighborHeap) better(a, b Neighbor) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return h.rank(a.Index) < h.rank(b.Index)
}

func (h *neighborHeap) rank(index int) int {
	if index == h.self {
		return -1
	}
	return index
}

func (h *neighborHeap) Len() int           { return len(h.items) }
func (h *neighborHeap) Less(i, j int) bool { return h.better(h.items[j], h.items[i]) }
func (h *neighborHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *neighborHeap) Push(x any)         { h.items = append(h.items, x.(Neighbor)) }
func (h *neighborHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// splitmix64 is a bijective 64-bit mixer used to derive pivot positions.
func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}
