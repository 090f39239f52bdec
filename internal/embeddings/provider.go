// Package embeddings turns text into fixed-dimension vectors through an
// external provider: an OpenAI-compatible API, a Text Embeddings Inference
// server, or local ONNX models via FastEmbed.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/augmentd/internal/config"
	"github.com/fyrsmithlabs/augmentd/internal/logging"
	"go.uber.org/zap"
)

var (
	// ErrEmbeddingUnavailable means no provider credential is configured.
	// It is returned before any network call is attempted.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable: no credential configured")

	// ErrProviderError wraps network and provider failures.
	ErrProviderError = errors.New("embedding provider error")

	// ErrDimensionMismatch means a vector's length differs from the
	// configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	ErrEmptyInput    = errors.New("empty or nil input texts")
	ErrInvalidConfig = errors.New("invalid embeddings configuration")
)

// Provider generates embeddings. EmbedDocuments returns one vector per
// input, in input order.
type Provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Close() error
}

// CheckDimension returns ErrDimensionMismatch unless len(vec) == want.
func CheckDimension(vec []float32, want int) error {
	if len(vec) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), want)
	}
	return nil
}

// NewProvider builds the provider selected by cfg.Provider, wrapped with
// dimension checks, metrics and, when cfg.CacheSize > 0, a query cache.
// It returns ErrEmbeddingUnavailable for the openai provider without a key.
func NewProvider(cfg config.EmbeddingsConfig, logger *logging.Logger) (Provider, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}

	var (
		base Provider
		err  error
	)
	switch cfg.Provider {
	case config.EmbeddingsOpenAI, "":
		base, err = NewOpenAIProvider(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Dimension: cfg.Dimension,
			BatchSize: cfg.BatchSize,
		})
	case config.EmbeddingsTEI:
		base, err = NewTEIProvider(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		})
	case config.EmbeddingsFastEmbed:
		base, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if d := base.Dimension(); d > 0 && d != cfg.Dimension {
		_ = base.Close()
		return nil, fmt.Errorf("%w: model %q produces %d dimensions, configured %d",
			ErrDimensionMismatch, cfg.Model, d, cfg.Dimension)
	}

	var p Provider = newInstrumented(base, cfg.Model, cfg.Dimension, logger)
	if cfg.CacheSize > 0 {
		cached, err := NewCachedProvider(p, cfg.Model, cfg.CacheSize)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p = cached
	}
	return p, nil
}

// instrumented enforces the configured dimension on every vector,
// wraps failures in ErrProviderError and records metrics.
type instrumented struct {
	Provider
	model     string
	dimension int
	metrics   *Metrics
	logger    *logging.Logger
}

func newInstrumented(p Provider, model string, dimension int, logger *logging.Logger) *instrumented {
	if logger == nil {
		logger = logging.Nop()
	}
	return &instrumented{
		Provider:  p,
		model:     model,
		dimension: dimension,
		metrics:   NewMetrics(logger.Underlying()),
		logger:    logger,
	}
}

func (i *instrumented) EmbedDocuments(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	start := time.Now()
	defer func() {
		i.metrics.RecordGeneration(ctx, i.model, "embed_documents", time.Since(start), len(texts), err)
	}()

	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	vectors, err = i.Provider.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, wrapProviderError(err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrProviderError, len(vectors), len(texts))
	}
	for idx, v := range vectors {
		if err = CheckDimension(v, i.dimension); err != nil {
			i.logger.Error(ctx, "embedding dimension does not match configuration",
				zap.String("model", i.model), zap.Int("index", idx), zap.Int("got", len(v)), zap.Int("want", i.dimension))
			return nil, err
		}
	}
	return vectors, nil
}

func (i *instrumented) EmbedQuery(ctx context.Context, text string) (vector []float32, err error) {
	start := time.Now()
	defer func() {
		i.metrics.RecordGeneration(ctx, i.model, "embed_query", time.Since(start), 1, err)
	}()

	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	vector, err = i.Provider.EmbedQuery(ctx, text)
	if err != nil {
		return nil, wrapProviderError(err)
	}
	if err = CheckDimension(vector, i.dimension); err != nil {
		return nil, err
	}
	return vector, nil
}

func (i *instrumented) Dimension() int {
	return i.dimension
}

// wrapProviderError leaves the configuration sentinels and context errors
// recognisable and tags everything else as a provider failure.
func wrapProviderError(err error) error {
	switch {
	case errors.Is(err, ErrProviderError),
		errors.Is(err, ErrEmbeddingUnavailable),
		errors.Is(err, ErrEmptyInput),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %v", ErrProviderError, err)
}
