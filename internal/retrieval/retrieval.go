// Package retrieval turns a question into the most relevant chunks of a
// resident document.
package retrieval

import (
	"context"
	"fmt"

	"github.com/docquery-dev/docquery/internal/chunker"
	"github.com/docquery-dev/docquery/internal/docstore"
	"github.com/docquery-dev/docquery/internal/embedding"
)

// Result is one retrieved chunk with its similarity score. Results come
// back in rank order.
type Result struct {
	Chunk chunker.Chunk
	Score float32
}

// Retriever embeds questions and searches a document's index.
type Retriever struct {
	embedder embedding.Embedder
	topK     int
}

// New returns a Retriever that asks the index for up to topK chunks.
func New(embedder embedding.Embedder, topK int) *Retriever {
	return &Retriever{embedder: embedder, topK: topK}
}

// TopK reports the configured result budget.
func (r *Retriever) TopK() int {
	return r.topK
}

// Retrieve returns up to topK chunks of the resident document ranked by
// similarity to the question. A document with no chunks yields no
// results and no error.
func (r *Retriever) Retrieve(ctx context.Context, doc *docstore.Resident, question string) ([]Result, error) {
	if len(doc.Chunks) == 0 {
		return nil, nil
	}

	vectors, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for one question",
			embedding.ErrUnavailable, len(vectors))
	}

	hits, err := doc.Searcher.Search(ctx, vectors[0], r.topK)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		if hit.Position < 0 || hit.Position >= len(doc.Chunks) {
			return nil, fmt.Errorf("index returned position %d outside %d chunks",
				hit.Position, len(doc.Chunks))
		}
		results = append(results, Result{Chunk: doc.Chunks[hit.Position], Score: hit.Score})
	}
	return results, nil
}
