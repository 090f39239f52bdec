package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 3

type storeFactory func(t *testing.T) Store

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(SQLiteConfig{
		Path:      filepath.Join(t.TempDir(), "rag.db"),
		Dimension: testDim,
		Model:     "test-model",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func newTestChromem(t *testing.T) Store {
	t.Helper()
	s, err := NewChromemStore(ChromemConfig{Dimension: testDim, Model: "test-model"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestChromemPersistent(t *testing.T) Store {
	t.Helper()
	s, err := NewChromemStore(ChromemConfig{
		Path:      t.TempDir(),
		Dimension: testDim,
		Model:     "test-model",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"sqlite":             newTestSQLite,
		"chromem":            newTestChromem,
		"chromem_persistent": newTestChromemPersistent,
	}
}

// seed inserts one document with a chunk per vector.
func seed(t *testing.T, s Store, docID string, vectors ...[]float32) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.InsertDocument(ctx, Document{
		ID:         docID,
		Title:      "title " + docID,
		SourceType: "text",
		URL:        "https://example.com/" + docID,
		Metadata:   map[string]any{"lang": "en"},
	}))
	for i, v := range vectors {
		require.NoError(t, s.InsertChunk(ctx, Chunk{
			ID:         fmt.Sprintf("%s-c%d", docID, i),
			DocumentID: docID,
			Index:      i,
			Text:       fmt.Sprintf("%s chunk %d", docID, i),
			Embedding:  v,
			Metadata:   map[string]any{"start": i * 10},
		}))
	}
}

func TestStore_Search(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			seed(t, s, "doc1",
				[]float32{1, 0, 0},
				[]float32{0, 1, 0},
				[]float32{0.9, 0.1, 0},
			)

			t.Run("k >= N returns all ordered", func(t *testing.T) {
				results, err := s.Search(ctx, []float32{1, 0, 0}, 10)
				require.NoError(t, err)
				require.Len(t, results, 3)

				assert.Equal(t, "doc1-c0", results[0].ChunkID)
				assert.Equal(t, "doc1-c2", results[1].ChunkID)
				assert.Equal(t, "doc1-c1", results[2].ChunkID)
				for i := 1; i < len(results); i++ {
					assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
				}
				assert.InDelta(t, 1.0, results[0].Score, 1e-5)
				assert.InDelta(t, 0.0, results[2].Score, 1e-5)
			})

			t.Run("joins document fields", func(t *testing.T) {
				results, err := s.Search(ctx, []float32{0, 1, 0}, 1)
				require.NoError(t, err)
				require.Len(t, results, 1)
				r := results[0]
				assert.Equal(t, "doc1", r.DocumentID)
				assert.Equal(t, 1, r.Index)
				assert.Equal(t, "doc1 chunk 1", r.Text)
				assert.Equal(t, "title doc1", r.Title)
				assert.Equal(t, "https://example.com/doc1", r.URL)
			})

			t.Run("k <= 0 returns empty", func(t *testing.T) {
				for _, k := range []int{0, -1} {
					results, err := s.Search(ctx, []float32{1, 0, 0}, k)
					require.NoError(t, err)
					assert.Empty(t, results)
				}
			})

			t.Run("query dimension mismatch", func(t *testing.T) {
				_, err := s.Search(ctx, []float32{1, 0}, 3)
				assert.ErrorIs(t, err, ErrDimensionMismatch)
			})
		})
	}
}

func TestStore_SearchEmpty(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			results, err := newStore(t).Search(context.Background(), []float32{1, 0, 0}, 5)
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}
}

func TestStore_TiesKeepInsertionOrder(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			same := []float32{0, 0, 1}
			seed(t, s, "a", same, same)
			seed(t, s, "b", same)

			results, err := s.Search(context.Background(), same, 3)
			require.NoError(t, err)
			require.Len(t, results, 3)
			assert.Equal(t, []string{"a-c0", "a-c1", "b-c0"},
				[]string{results[0].ChunkID, results[1].ChunkID, results[2].ChunkID})
		})
	}
}

func TestStore_ZeroQueryVectorScoresZero(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			seed(t, s, "doc", []float32{1, 0, 0}, []float32{0, 1, 0})

			results, err := s.Search(context.Background(), []float32{0, 0, 0}, 2)
			require.NoError(t, err)
			require.Len(t, results, 2)
			for _, r := range results {
				assert.False(t, math.IsNaN(r.Score))
				assert.Zero(t, r.Score)
			}
			_, err = json.Marshal(results)
			assert.NoError(t, err)
		})
	}
}

func TestFiniteScore(t *testing.T) {
	assert.Zero(t, finiteScore(float32(math.NaN())))
	assert.Zero(t, finiteScore(float32(math.Inf(1))))
	assert.InDelta(t, 0.25, finiteScore(0.25), 1e-9)
}

func TestStore_DeleteCascades(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			seed(t, s, "keep", []float32{1, 0, 0})
			seed(t, s, "drop", []float32{1, 0, 0}, []float32{0, 1, 0})

			require.NoError(t, s.DeleteDocument(ctx, "drop"))

			results, err := s.Search(ctx, []float32{1, 0, 0}, 10)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "keep", results[0].DocumentID)

			chunks, err := s.ListChunks(ctx, "drop")
			require.NoError(t, err)
			assert.Empty(t, chunks)

			_, err = s.GetDocument(ctx, "drop")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.ErrorIs(t, s.DeleteDocument(ctx, "drop"), ErrNotFound)
		})
	}
}

func TestStore_GetDocumentAndListChunks(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			seed(t, s, "doc", []float32{1, 0, 0}, []float32{0, 1, 0}, []float32{0, 0, 1})

			doc, err := s.GetDocument(ctx, "doc")
			require.NoError(t, err)
			assert.Equal(t, "title doc", doc.Title)
			assert.Equal(t, "text", doc.SourceType)
			assert.Equal(t, "en", doc.Metadata["lang"])
			assert.False(t, doc.CreatedAt.IsZero())

			chunks, err := s.ListChunks(ctx, "doc")
			require.NoError(t, err)
			require.Len(t, chunks, 3)
			for i, c := range chunks {
				assert.Equal(t, i, c.Index)
				assert.Equal(t, fmt.Sprintf("doc chunk %d", i), c.Text)
				assert.Len(t, c.Embedding, testDim)
			}
			// JSON numbers decode as float64.
			assert.Equal(t, float64(20), chunks[2].Metadata["start"])
		})
	}
}

func TestStore_InsertValidation(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			seed(t, s, "doc")

			err := s.InsertChunk(ctx, Chunk{ID: "x", DocumentID: "doc", Embedding: []float32{1, 2}})
			assert.ErrorIs(t, err, ErrDimensionMismatch)

			err = s.InsertChunk(ctx, Chunk{ID: "y", DocumentID: "missing", Embedding: []float32{1, 0, 0}})
			assert.Error(t, err)

			err = s.InsertDocument(ctx, Document{SourceType: "text"})
			assert.ErrorIs(t, err, ErrInvalidDocument)

			err = s.InsertDocument(ctx, Document{ID: "doc", SourceType: "text"})
			assert.Error(t, err, "documents are append-only")
		})
	}
}

func TestSQLiteStore_EnsureSchemaIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	seed(t, s, "doc", []float32{1, 0, 0})

	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.EnsureSchema(ctx))

	chunks, err := s.ListChunks(ctx, "doc")
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestSQLiteStore_SkipsVectorsOfOtherDimension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rag.db")
	ctx := context.Background()

	old, err := NewSQLiteStore(SQLiteConfig{Path: path, Dimension: 2, Model: "old"}, nil)
	require.NoError(t, err)
	require.NoError(t, old.EnsureSchema(ctx))
	require.NoError(t, old.InsertDocument(ctx, Document{ID: "old", SourceType: "text"}))
	require.NoError(t, old.InsertChunk(ctx, Chunk{ID: "old-c0", DocumentID: "old", Embedding: []float32{1, 0}}))
	require.NoError(t, old.Close())

	current, err := NewSQLiteStore(SQLiteConfig{Path: path, Dimension: testDim, Model: "new"}, nil)
	require.NoError(t, err)
	defer current.Close()
	require.NoError(t, current.EnsureSchema(ctx))
	seed(t, current, "new", []float32{1, 0, 0})

	results, err := current.Search(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].DocumentID)
}

func TestSQLiteConfig_Validate(t *testing.T) {
	assert.ErrorIs(t, SQLiteConfig{Dimension: 3}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, SQLiteConfig{Path: "x.db"}.Validate(), ErrInvalidConfig)
	assert.NoError(t, SQLiteConfig{Path: "x.db", Dimension: 3}.Validate())
}

func TestChromemStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewChromemStore(ChromemConfig{Path: dir, Dimension: testDim}, nil)
	require.NoError(t, err)
	seed(t, first, "doc", []float32{1, 0, 0})

	second, err := NewChromemStore(ChromemConfig{Path: dir, Dimension: testDim}, nil)
	require.NoError(t, err)
	results, err := second.Search(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-c0", results[0].ChunkID)
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0, -1.5, 3.25, 1e-7}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
	assert.Nil(t, decodeVector([]byte{1, 2, 3}))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}
