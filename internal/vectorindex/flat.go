package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Flat is an exact brute-force cosine index. Vectors are L2-normalized
// on insert so search reduces to a dot product scan. Safe for concurrent
// use.
type Flat struct {
	mu      sync.RWMutex
	dim     int
	vectors [][]float32
}

var _ Searcher = (*Flat)(nil)

// NewFlat returns an empty index. The dimension is fixed by the first
// vector added.
func NewFlat() *Flat {
	return &Flat{}
}

// Add appends vectors and returns the position of the first one. The
// batch is validated up front so a bad vector leaves the index unchanged.
func (f *Flat) Add(vectors [][]float32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dim := f.dim
	for i, vec := range vectors {
		if len(vec) == 0 {
			return 0, fmt.Errorf("%w: empty vector at position %d", ErrDimensionMismatch, i)
		}
		if dim == 0 {
			dim = len(vec)
		}
		if len(vec) != dim {
			return 0, fmt.Errorf("%w: vector %d has dimension %d, index holds %d",
				ErrDimensionMismatch, i, len(vec), dim)
		}
	}

	start := len(f.vectors)
	for _, vec := range vectors {
		f.vectors = append(f.vectors, normalize(vec))
	}
	f.dim = dim
	return start, nil
}

// Len reports how many vectors the index holds.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Search implements Searcher.
func (f *Flat) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if k <= 0 || len(f.vectors) == 0 {
		return nil, nil
	}
	if len(vector) != f.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index holds %d",
			ErrDimensionMismatch, len(vector), f.dim)
	}

	q := normalize(vector)
	hits := make([]Hit, len(f.vectors))
	for i, vec := range f.vectors {
		hits[i] = Hit{Position: i, Score: dot(q, vec)}
	}

	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].Position < hits[b].Position
	})

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// normalize returns an L2-normalized copy. The zero vector comes back
// unchanged so it scores zero against everything.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	out := make([]float32, len(vec))
	norm := math.Sqrt(sum)
	if norm == 0 {
		copy(out, vec)
		return out
	}
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}
