package vector

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmptyVector is returned when a vector has no components.
	ErrEmptyVector = errors.New("empty vector")
	// ErrDimensionMismatch is returned when a vector is not the expected length.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrNonFinite is returned when a vector contains NaN or Inf.
	ErrNonFinite = errors.New("vector contains non-finite value")
)

// Validate checks that v is non-empty, finite, and, when dim > 0, exactly dim long.
func Validate(v []float32, dim int) error {
	if len(v) == 0 {
		return ErrEmptyVector
	}
	if dim > 0 && len(v) != dim {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(v), dim)
	}
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w at index %d", ErrNonFinite, i)
		}
	}
	return nil
}
