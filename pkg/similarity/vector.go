// Package similarity provides embedding-vector similarity utilities.
package similarity

import (
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when two vectors of different lengths are
// compared.
var ErrDimensionMismatch = fmt.Errorf("embedding dimension mismatch")

// Cosine returns the cosine similarity between two vectors in [-1, 1].
// A zero vector yields 0 against anything.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Float error can push the result a hair past the bound.
	return math.Max(-1, math.Min(1, sim)), nil
}

// ValidateDimension checks a vector against the deployment's fixed dimension.
func ValidateDimension(v []float32, dim int) error {
	if len(v) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), dim)
	}
	return nil
}

// IsZero reports whether every component of the vector is zero. Blocked
// articles are stored with a zero vector and must never match candidates.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
