package vectorindex

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestFlat_SearchOrdersByScore(t *testing.T) {
	f := NewFlat()
	_, err := f.Add([][]float32{
		{1, 0, 0},     // position 0
		{0, 1, 0},     // position 1
		{0.9, 0.1, 0}, // position 2, nearly aligned with position 0
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	hits, err := f.Search(context.Background(), []float32{1, 0.05, 0}, 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(hits) != 3 {
		t.Fatalf("got %d hits, expected 3", len(hits))
	}
	if hits[0].Position != 0 && hits[0].Position != 2 {
		t.Errorf("top hit position %d, expected one of the aligned vectors", hits[0].Position)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("hits not in descending score order: %v", hits)
		}
	}
	if hits[2].Position != 1 {
		t.Errorf("orthogonal vector should rank last, got %v", hits)
	}
}

func TestFlat_TieBreaksOnLowerPosition(t *testing.T) {
	f := NewFlat()
	// Identical vectors at positions 0, 1 and 2 produce identical scores.
	_, err := f.Add([][]float32{
		{0.5, 0.5},
		{0.5, 0.5},
		{0.5, 0.5},
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	hits, err := f.Search(context.Background(), []float32{1, 1}, 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	for i, hit := range hits {
		if hit.Position != i {
			t.Errorf("hit %d has position %d, tie must resolve to lower position", i, hit.Position)
		}
	}
}

func TestFlat_ClampsK(t *testing.T) {
	f := NewFlat()
	if _, err := f.Add([][]float32{{1, 0}, {0, 1}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	hits, err := f.Search(context.Background(), []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("got %d hits, expected clamp to index size 2", len(hits))
	}
}

func TestFlat_EmptyIndex(t *testing.T) {
	f := NewFlat()

	hits, err := f.Search(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Search on empty index must not fail: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits from empty index", len(hits))
	}
}

func TestFlat_ZeroK(t *testing.T) {
	f := NewFlat()
	if _, err := f.Add([][]float32{{1, 0}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	hits, err := f.Search(context.Background(), []float32{1, 0}, 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits for k=0", len(hits))
	}
}

func TestFlat_DimensionMismatch(t *testing.T) {
	f := NewFlat()
	if _, err := f.Add([][]float32{{1, 0, 0}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if _, err := f.Add([][]float32{{1, 0}}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Add error = %v, expected ErrDimensionMismatch", err)
	}
	if _, err := f.Search(context.Background(), []float32{1, 0}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Search error = %v, expected ErrDimensionMismatch", err)
	}
}

func TestFlat_BadBatchLeavesIndexUnchanged(t *testing.T) {
	f := NewFlat()
	_, err := f.Add([][]float32{
		{1, 0},
		{1, 0, 0},
	})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("Add error = %v, expected ErrDimensionMismatch", err)
	}
	if f.Len() != 0 {
		t.Errorf("index holds %d vectors after failed batch, expected 0", f.Len())
	}
}

func TestFlat_CosineIgnoresMagnitude(t *testing.T) {
	f := NewFlat()
	if _, err := f.Add([][]float32{{100, 0}, {0, 0.001}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	hits, err := f.Search(context.Background(), []float32{0, 5}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if hits[0].Position != 1 {
		t.Errorf("top hit %d, expected the direction-aligned vector regardless of magnitude", hits[0].Position)
	}
	if math.Abs(float64(hits[0].Score)-1) > 1e-5 {
		t.Errorf("aligned score = %f, expected ~1", hits[0].Score)
	}
}

func TestFlat_Deterministic(t *testing.T) {
	f := NewFlat()
	if _, err := f.Add([][]float32{{0.3, 0.7}, {0.7, 0.3}, {0.5, 0.5}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	first, err := f.Search(context.Background(), []float32{0.6, 0.4}, 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := f.Search(context.Background(), []float32{0.6, 0.4}, 3)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d diverged: %v vs %v", i, again, first)
			}
		}
	}
}
