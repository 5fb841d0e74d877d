package index

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/memini-ai/memini/pkg/cache/memory"
	"github.com/memini-ai/memini/pkg/models"
)

func newTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	ix, err := New(filepath.Join(t.TempDir(), "index_test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func chunk(source string, seq int, content string) models.Chunk {
	return models.Chunk{
		ID:      fmt.Sprintf("%s:%d", source, seq),
		Source:  source,
		Seq:     seq,
		Content: content,
		Type:    models.ChunkTypeText,
	}
}

func mustAdd(t *testing.T, ix *SQLiteIndex, chunks []models.Chunk, embeddings [][]float64) {
	t.Helper()
	if err := ix.AddChunks(context.Background(), chunks, embeddings); err != nil {
		t.Fatalf("AddChunks: %v", err)
	}
}

func TestAddAndSearch(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	mustAdd(t, ix,
		[]models.Chunk{chunk("doc.md", 0, "about cats"), chunk("doc.md", 1, "about dogs"), chunk("doc.md", 2, "about fish")},
		[][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
	)

	results, err := ix.Search(ctx, []float64{0.9, 0.1, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Content != "about cats" {
		t.Errorf("expected best match first, got %q", results[0].Content)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("expected descending scores, got %v then %v", results[0].Score, results[1].Score)
	}
}

func TestSearchDimensionMismatch(t *testing.T) {
	ix := newTestIndex(t)

	mustAdd(t, ix, []models.Chunk{chunk("doc.md", 0, "text")}, [][]float64{{1, 2, 3}})

	_, err := ix.Search(context.Background(), []float64{1, 2}, 5)
	if !errors.Is(err, memory.ErrInvalidEmbedding) {
		t.Fatalf("expected ErrInvalidEmbedding, got %v", err)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	ix := newTestIndex(t)

	results, err := ix.Search(context.Background(), []float64{1, 2}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestAddChunksReplacesByID(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	mustAdd(t, ix, []models.Chunk{chunk("doc.md", 0, "old text")}, [][]float64{{1, 0}})
	mustAdd(t, ix, []models.Chunk{chunk("doc.md", 0, "new text")}, [][]float64{{1, 0}})

	n, err := ix.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 chunk after replace, got %d", n)
	}

	results, err := ix.Search(ctx, []float64{1, 0}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results[0].Content != "new text" {
		t.Errorf("expected replaced content, got %q", results[0].Content)
	}
}

func TestAddChunksLengthMismatch(t *testing.T) {
	ix := newTestIndex(t)

	err := ix.AddChunks(context.Background(), []models.Chunk{chunk("doc.md", 0, "text")}, nil)
	if err == nil {
		t.Error("expected error for mismatched lengths")
	}
}

func TestSourcesAndDelete(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	mustAdd(t, ix,
		[]models.Chunk{chunk("a.md", 0, "x"), chunk("a.md", 1, "y"), chunk("b.md", 0, "z")},
		[][]float64{{1}, {2}, {3}},
	)

	sources, err := ix.Sources(ctx)
	if err != nil {
		t.Fatalf("Sources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[0].Source != "a.md" || sources[0].Chunks != 2 {
		t.Errorf("unexpected first source: %+v", sources[0])
	}
	if sources[0].AddedAt == "" {
		t.Error("expected added_at to be set")
	}

	if err := ix.DeleteSource(ctx, "a.md"); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	n, err := ix.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 chunk left, got %d", n)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	v := []float64{0.25, -1.5, 3.14159, 0}
	decoded, err := decodeVector(encodeVector(v))
	if err != nil {
		t.Fatalf("decodeVector: %v", err)
	}
	for i := range v {
		if decoded[i] != v[i] {
			t.Fatalf("component %d changed: %v != %v", i, decoded[i], v[i])
		}
	}

	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for malformed blob")
	}
}
