// Package docstore ingests documents and keeps them resident for
// retrieval: the chunks plus a ready vector index, bounded by an LRU over
// recently used documents.
package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/docquery-dev/docquery/internal/chunker"
	"github.com/docquery-dev/docquery/internal/embedding"
	"github.com/docquery-dev/docquery/internal/vectorindex"
)

// ErrIngestionFailed indicates a document could not be prepared for
// retrieval. The cause is wrapped.
var ErrIngestionFailed = errors.New("document ingestion failed")

// Config is the slice of pipeline configuration that changes what an
// ingested document looks like. Residency is keyed by document identity
// plus config fingerprint, so changing any field re-ingests.
type Config struct {
	ChunkSize      int
	ChunkOverlap   int
	ChunkBoundary  string
	EmbeddingModel string
}

// Fingerprint returns a stable hash of the config.
func (c Config) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%d|%s|%s", c.ChunkSize, c.ChunkOverlap, c.ChunkBoundary, c.EmbeddingModel)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Resident is a document prepared for retrieval.
type Resident struct {
	DocumentID  string
	Fingerprint string
	Chunks      []chunker.Chunk
	Searcher    vectorindex.Searcher
	IngestedAt  time.Time
}

// Store ingests documents and keeps the most recently used ones resident.
// Safe for concurrent use; concurrent ingests of the same document and
// config collapse into a single chunk-embed-index pass.
type Store struct {
	embedder  embedding.Embedder
	backend   IndexBackend
	snapshots *Snapshots
	logger    *slog.Logger

	residents *lru.Cache[string, *Resident]
	group     singleflight.Group
}

// Option adjusts a Store.
type Option func(*Store)

// WithBackend replaces the in-process index backend.
func WithBackend(b IndexBackend) Option {
	return func(s *Store) { s.backend = b }
}

// WithSnapshots persists ingested documents so a restart skips
// re-embedding.
func WithSnapshots(snaps *Snapshots) Option {
	return func(s *Store) { s.snapshots = snaps }
}

// WithLogger replaces slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New builds a Store that keeps at most maxDocuments resident document
// variants; the least recently used is evicted beyond that.
func New(embedder embedding.Embedder, maxDocuments int, opts ...Option) (*Store, error) {
	if maxDocuments <= 0 {
		return nil, fmt.Errorf("max documents must be positive, got %d", maxDocuments)
	}

	s := &Store{
		embedder: embedder,
		backend:  MemoryBackend{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cache, err := lru.NewWithEvict[string, *Resident](maxDocuments, s.onEvict)
	if err != nil {
		return nil, err
	}
	s.residents = cache
	return s, nil
}

// Ingest prepares a document for retrieval. It is idempotent: ingesting a
// document that is already resident under the same config returns the
// existing Resident without touching the embedding backend.
func (s *Store) Ingest(ctx context.Context, documentID, text string, cfg Config) (*Resident, error) {
	fp := cfg.Fingerprint()
	key := residentKey(documentID, fp)

	if r, ok := s.residents.Get(key); ok {
		return r, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		// A caller that lost the race can enter here after the winner
		// already finished; the second lookup keeps ingestion
		// single-pass.
		if r, ok := s.residents.Get(key); ok {
			return r, nil
		}

		r, err := s.build(ctx, documentID, text, cfg, fp)
		if err != nil {
			return nil, err
		}
		s.residents.Add(key, r)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Resident), nil
}

func (s *Store) build(ctx context.Context, documentID, text string, cfg Config, fp string) (*Resident, error) {
	start := time.Now()

	if r := s.restoreSnapshot(ctx, documentID, fp); r != nil {
		s.logger.Info("document restored from snapshot",
			"document_id", documentID, "chunks", len(r.Chunks))
		return r, nil
	}

	ck, err := newChunker(cfg, text)
	if err != nil {
		return nil, err
	}
	chunks := ck.Split(documentID, text)

	// An empty document is valid: it gets an empty index and never
	// touches the embedding backend.
	var vectors [][]float32
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, err = s.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("%w: embedding %d chunks: %w", ErrIngestionFailed, len(chunks), err)
		}
	}

	searcher, err := s.backend.Build(ctx, residentKey(documentID, fp), vectors)
	if err != nil {
		return nil, fmt.Errorf("%w: building index: %w", ErrIngestionFailed, err)
	}

	r := &Resident{
		DocumentID:  documentID,
		Fingerprint: fp,
		Chunks:      chunks,
		Searcher:    searcher,
		IngestedAt:  time.Now(),
	}

	if s.snapshots != nil {
		if err := s.snapshots.Save(r, vectors); err != nil {
			s.logger.Warn("failed to save snapshot", "document_id", documentID, "error", err)
		}
	}

	s.logger.Info("document ingested",
		"document_id", documentID, "chunks", len(chunks), "took", time.Since(start))
	return r, nil
}

// restoreSnapshot rebuilds a resident from a persisted snapshot, skipping
// the embedding backend entirely. Any failure falls through to a full
// ingest.
func (s *Store) restoreSnapshot(ctx context.Context, documentID, fp string) *Resident {
	if s.snapshots == nil {
		return nil
	}
	snap, err := s.snapshots.Load(documentID, fp)
	if err != nil {
		if !errors.Is(err, errSnapshotMissing) {
			s.logger.Warn("failed to load snapshot", "document_id", documentID, "error", err)
		}
		return nil
	}

	searcher, err := s.backend.Build(ctx, residentKey(documentID, fp), snap.Vectors)
	if err != nil {
		s.logger.Warn("failed to rebuild index from snapshot",
			"document_id", documentID, "error", err)
		return nil
	}

	return &Resident{
		DocumentID:  documentID,
		Fingerprint: fp,
		Chunks:      snap.Chunks,
		Searcher:    searcher,
		IngestedAt:  snap.IngestedAt,
	}
}

// Evict removes every resident variant of a document. Unknown documents
// are a no-op.
func (s *Store) Evict(documentID string) {
	prefix := documentID + ":"
	for _, key := range s.residents.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.residents.Remove(key)
		}
	}
}

// Residents returns the currently resident document variants, least
// recently used first.
func (s *Store) Residents() []*Resident {
	return s.residents.Values()
}

// Len reports how many document variants are resident.
func (s *Store) Len() int {
	return s.residents.Len()
}

func (s *Store) onEvict(key string, r *Resident) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.backend.Drop(ctx, key); err != nil {
		s.logger.Warn("failed to drop evicted index", "key", key, "error", err)
	}
	s.logger.Debug("document evicted", "document_id", r.DocumentID)
}

// newChunker maps a Config onto a chunker with the configured boundary
// strategy.
func newChunker(cfg Config, text string) (*chunker.Chunker, error) {
	var opts []chunker.Option
	switch cfg.ChunkBoundary {
	case "", "none":
	case "sentence":
		opts = append(opts, chunker.WithBoundary(chunker.Sentences()))
	case "markdown":
		b, err := chunker.NewMarkdownBoundary(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", chunker.ErrInvalidConfig, err)
		}
		opts = append(opts, chunker.WithBoundary(b))
	default:
		return nil, fmt.Errorf("%w: unknown chunk boundary %q", chunker.ErrInvalidConfig, cfg.ChunkBoundary)
	}
	return chunker.New(cfg.ChunkSize, cfg.ChunkOverlap, opts...)
}

func residentKey(documentID, fingerprint string) string {
	return documentID + ":" + fingerprint
}
