package vectorstore

import (
	"fmt"

	"github.com/fyrsmithlabs/augmentd/internal/config"
	"go.uber.org/zap"
)

// NewStore creates the Store selected by cfg.VectorStore.Provider:
//   - "sqlite" (default): a single-file pure-Go database, no external deps
//   - "chromem": embedded chromem-go, in memory when no path is set
//   - "qdrant": an external Qdrant server over gRPC
//
// The embedding dimension and model come from cfg.Embeddings and are
// enforced on every stored and query vector.
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	vs := cfg.VectorStore
	dim := cfg.Embeddings.Dimension
	model := cfg.Embeddings.Model

	switch vs.Provider {
	case config.VectorStoreSQLite, "":
		path, err := expandPath(vs.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		store, err := NewSQLiteStore(SQLiteConfig{Path: path, Dimension: dim, Model: model}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	case config.VectorStoreChromem:
		store, err := NewChromemStore(ChromemConfig{
			Path:       vs.Path,
			Collection: vs.Collection,
			Dimension:  dim,
			Model:      model,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	case config.VectorStoreQdrant:
		store, err := NewQdrantStore(QdrantConfig{
			Host:       vs.QdrantHost,
			Port:       vs.QdrantPort,
			APIKey:     vs.QdrantAPIKey.Value(),
			UseTLS:     vs.QdrantUseTLS,
			Collection: vs.Collection,
			Dimension:  dim,
			Model:      model,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider: %s (supported: sqlite, chromem, qdrant)",
			ErrInvalidConfig, vs.Provider)
	}
}
