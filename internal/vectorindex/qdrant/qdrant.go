// Package qdrant backs the vector index with a Qdrant collection so chunk
// vectors can outlive the process. One collection holds the chunks of
// every resident document, scoped by document_id at query time.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/docquery-dev/docquery/internal/vectorindex"
)

// CollectionName is the Qdrant collection holding all chunk vectors.
const CollectionName = "docquery_chunks"

// vectorName is the named vector under which chunk embeddings are stored.
const vectorName = "content"

// upsertBatchSize bounds a single upsert request.
const upsertBatchSize = 100

// ErrUnreachable indicates Qdrant did not answer health checks.
var ErrUnreachable = errors.New("qdrant unreachable")

// Store wraps the Qdrant client with connection management and health
// checks.
type Store struct {
	client *qdrant.Client
	host   string
	port   int
}

// New creates a Qdrant client and fails fast when the server is
// unreachable, retrying the initial health check with backoff.
func New(host string, port int) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	s := &Store{client: client, host: host, port: port}
	if err := s.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, err)
	}
	return s, nil
}

func (s *Store) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return s.Health(ctx)
	}, backoff.WithContext(b, ctx))
}

// Health performs a single health check.
func (s *Store) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// Close closes the underlying client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) collectionExists(ctx context.Context) (bool, error) {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range collections {
		if name == CollectionName {
			return true, nil
		}
	}
	return false, nil
}

// EnsureCollection creates the chunk collection for the given vector
// dimension if it does not exist yet. Idempotent.
func (s *Store) EnsureCollection(ctx context.Context, dim int) error {
	exists, err := s.collectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: CollectionName,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Without these indexes per-document filtering degrades badly.
	if _, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: CollectionName,
		FieldName:      "document_id",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	}); err != nil {
		return fmt.Errorf("failed to create document_id index: %w", err)
	}
	if _, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: CollectionName,
		FieldName:      "position",
		FieldType:      qdrant.FieldType_FieldTypeInteger.Enum(),
	}); err != nil {
		return fmt.Errorf("failed to create position index: %w", err)
	}
	return nil
}

// Build replaces a document's vectors and returns a searcher scoped to
// that document. Points carry the chunk position in their payload so hits
// map back to chunks.
func (s *Store) Build(ctx context.Context, documentID string, vectors [][]float32) (vectorindex.Searcher, error) {
	if len(vectors) > 0 {
		if err := s.EnsureCollection(ctx, len(vectors[0])); err != nil {
			return nil, err
		}
	}
	if err := s.Drop(ctx, documentID); err != nil {
		return nil, err
	}

	for i := 0; i < len(vectors); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(vectors))
		batch := vectors[i:end]

		points := make([]*qdrant.PointStruct, len(batch))
		for j, vec := range batch {
			points[j] = &qdrant.PointStruct{
				Id: qdrant.NewIDUUID(pointID(documentID, i+j)),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
					vectorName: qdrant.NewVector(vec...),
				}),
				Payload: qdrant.NewValueMap(map[string]any{
					"document_id": documentID,
					"position":    i + j,
				}),
			}
		}

		if err := s.upsertWithRetry(ctx, points); err != nil {
			return nil, fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}

	return &documentSearcher{store: s, documentID: documentID}, nil
}

// pointID derives a stable UUID from document and position, so
// rebuilding a document overwrites its points instead of duplicating
// them.
func pointID(documentID string, position int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%d", documentID, position))).String()
}

// Drop removes every vector belonging to a document. Dropping a document
// that was never built is not an error.
func (s *Store) Drop(ctx context.Context, documentID string) error {
	exists, err := s.collectionExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: CollectionName,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("document_id", documentID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to delete document vectors: %w", err)
	}
	return nil
}

// Count returns the total number of stored chunk vectors.
func (s *Store) Count(ctx context.Context) (uint64, error) {
	exists, err := s.collectionExists(ctx)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	collection, err := s.client.GetCollectionInfo(ctx, CollectionName)
	if err != nil {
		return 0, fmt.Errorf("failed to get collection: %w", err)
	}
	return collection.GetPointsCount(), nil
}

// upsertWithRetry performs an upsert with exponential backoff.
func (s *Store) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: CollectionName,
			Points:         points,
		})
		return err
	}, backoff.WithContext(b, ctx))
}

// documentSearcher scopes similarity queries to one document's chunks.
type documentSearcher struct {
	store      *Store
	documentID string
}

var _ vectorindex.Searcher = (*documentSearcher)(nil)

// Search implements vectorindex.Searcher.
func (d *documentSearcher) Search(ctx context.Context, vector []float32, k int) ([]vectorindex.Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	using := vectorName
	results, err := d.store.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: CollectionName,
		Query:          qdrant.NewQuery(vector...),
		Using:          &using,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("document_id", d.documentID),
			},
		},
		Limit:       qdrant.PtrOf(uint64(k)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	hits := make([]vectorindex.Hit, 0, len(results))
	for _, result := range results {
		hits = append(hits, vectorindex.Hit{
			Position: int(result.Payload["position"].GetIntegerValue()),
			Score:    result.Score,
		})
	}

	// Qdrant breaks score ties by internal point ID; re-sort so equal
	// scores resolve to the lower chunk position.
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].Position < hits[b].Position
	})
	return hits, nil
}
