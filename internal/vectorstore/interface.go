// Package vectorstore persists RAG documents and their embedded chunks and
// answers nearest-neighbour queries over the chunk vectors.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrDimensionMismatch is returned when a vector's length differs from
	// the dimension the store was opened with.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidDocument indicates a document or chunk missing required fields.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to Qdrant")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// Store is the interface for RAG storage.
//
// Documents and chunks are append-only: there is no update path. A chunk
// belongs to exactly one document and is removed with it.
//
// Implementations:
//   - SQLiteStore: embedded pure-Go SQLite (default)
//   - ChromemStore: embedded chromem-go, in memory or persisted to a directory
//   - QdrantStore: external Qdrant over gRPC
type Store interface {
	// EnsureSchema creates the persistent structures if they are missing.
	// It is idempotent.
	EnsureSchema(ctx context.Context) error

	// InsertDocument stores a new document. CreatedAt defaults to now.
	InsertDocument(ctx context.Context, doc Document) error

	// InsertChunk stores one chunk of an existing document. The embedding
	// length must equal the store's dimension.
	InsertChunk(ctx context.Context, chunk Chunk) error

	// Search returns up to k chunks ordered by descending cosine similarity
	// to vector. Equal scores keep insertion order. k <= 0 returns nothing.
	Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error)

	// GetDocument returns ErrNotFound for unknown IDs.
	GetDocument(ctx context.Context, id string) (*Document, error)

	// ListChunks returns a document's chunks ordered by index.
	ListChunks(ctx context.Context, documentID string) ([]Chunk, error)

	// DeleteDocument removes a document and all of its chunks.
	DeleteDocument(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}
