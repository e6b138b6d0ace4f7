// Package vectorindex provides similarity search over dense vectors.
//
// Positions are insertion order: the caller keeps whatever payload it
// wants (chunk text, offsets) in its own slice and maps hits back by
// position.
package vectorindex

import (
	"context"
	"errors"
)

// ErrDimensionMismatch indicates a vector whose dimension differs from
// the vectors already in the index.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Hit is a single search result: the insertion position of the matched
// vector and its cosine similarity to the query.
type Hit struct {
	Position int
	Score    float32
}

// Searcher answers nearest-neighbour queries. Results come back ordered
// by descending score; equal scores resolve to the lower position. A k
// larger than the index is clamped, and searching an empty index returns
// no hits rather than an error.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
}
