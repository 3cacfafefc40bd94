package bhtsne

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is returned when there are no points to embed or index.
	ErrEmptyInput = errors.New("bhtsne: empty input")

	// ErrInvalidNeighbors is returned when the neighbor count K is not in [1, N).
	ErrInvalidNeighbors = errors.New("bhtsne: invalid neighbor count")

	// ErrInvalidPerplexity is returned when perplexity is not positive.
	ErrInvalidPerplexity = errors.New("bhtsne: perplexity must be > 0")

	// ErrInvalidTheta is returned when the Barnes-Hut theta is negative.
	ErrInvalidTheta = errors.New("bhtsne: theta must be >= 0")

	// ErrNonFinite is returned when an embedding coordinate is NaN or infinite.
	ErrNonFinite = errors.New("bhtsne: non-finite coordinate")

	// ErrInvalidConfig is returned for any other invalid Config field.
	ErrInvalidConfig = errors.New("bhtsne: invalid config")

	// ErrTaskPanic wraps a panic recovered from a worker task.
	ErrTaskPanic = errors.New("bhtsne: worker task panicked")
)

// DimensionMismatchError reports a vector or buffer whose length does not
// match what the operation expects.
type DimensionMismatchError struct {
	What     string
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("bhtsne: %s: dimension mismatch: expected %d, got %d", e.What, e.Expected, e.Actual)
}

func checkLen(what string, buf []float64, want int) error {
	if len(buf) != want {
		return &DimensionMismatchError{What: what, Expected: want, Actual: len(buf)}
	}
	return nil
}
