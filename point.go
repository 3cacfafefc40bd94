package bhtsne

// Point is an indexed input vector. Coords aliases the caller's storage;
// the trees only ever hold Points by value, which copies the slice header
// and never the coordinates.
type Point struct {
	Index  int
	Coords []float64
}

// Dims returns the dimensionality of p.
func (p Point) Dims() int { return len(p.Coords) }

// NewPoints wraps flat row-major data with n rows and dims columns as a
// slice of Points. Each Point's Coords is a sub-slice of data.
func NewPoints(data []float64, n, dims int) []Point {
	points := make([]Point, n)
	for i := range points {
		points[i] = Point{Index: i, Coords: data[i*dims : (i+1)*dims : (i+1)*dims]}
	}
	return points
}
