package docstore

import (
	"context"

	"github.com/docquery-dev/docquery/internal/vectorindex"
)

// IndexBackend builds and tears down per-document vector indexes. The
// documentID passed in is the resident key, unique per document and
// config variant.
type IndexBackend interface {
	Build(ctx context.Context, documentID string, vectors [][]float32) (vectorindex.Searcher, error)
	Drop(ctx context.Context, documentID string) error
}

// MemoryBackend builds in-process brute-force cosine indexes. It is the
// default; indexes vanish with the resident.
type MemoryBackend struct{}

var _ IndexBackend = MemoryBackend{}

// Build implements IndexBackend.
func (MemoryBackend) Build(ctx context.Context, documentID string, vectors [][]float32) (vectorindex.Searcher, error) {
	f := vectorindex.NewFlat()
	if _, err := f.Add(vectors); err != nil {
		return nil, err
	}
	return f, nil
}

// Drop implements IndexBackend. Nothing to release for in-process
// indexes.
func (MemoryBackend) Drop(ctx context.Context, documentID string) error {
	return nil
}
