// Package embedding turns text into fixed-dimension vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrUnavailable indicates the embedding backend could not serve the
// request, including malformed responses and exhausted retries.
var ErrUnavailable = errors.New("embedding backend unavailable")

// Embedder produces one vector per input text, in input order. Repeated
// calls with the same inputs must return the same vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// CheckBatch validates a backend response against the inputs that produced
// it: exactly one vector per text, all vectors the same dimension, no
// non-finite components.
func CheckBatch(texts []string, vectors [][]float32) error {
	if len(vectors) != len(texts) {
		return fmt.Errorf("%w: backend returned %d vectors for %d texts",
			ErrUnavailable, len(vectors), len(texts))
	}
	dim := 0
	for i, vec := range vectors {
		if len(vec) == 0 {
			return fmt.Errorf("%w: empty vector at position %d", ErrUnavailable, i)
		}
		if dim == 0 {
			dim = len(vec)
		} else if len(vec) != dim {
			return fmt.Errorf("%w: vector %d has dimension %d, batch started with %d",
				ErrUnavailable, i, len(vec), dim)
		}
		for _, v := range vec {
			if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
				return fmt.Errorf("%w: non-finite component in vector %d", ErrUnavailable, i)
			}
		}
	}
	return nil
}
