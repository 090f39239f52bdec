package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/augmentd/internal/config"
	"github.com/fyrsmithlabs/augmentd/internal/embeddings"
	"github.com/fyrsmithlabs/augmentd/internal/logging"
	"github.com/fyrsmithlabs/augmentd/internal/memory"
	"github.com/fyrsmithlabs/augmentd/internal/rag"
	"github.com/fyrsmithlabs/augmentd/internal/telemetry"
	"github.com/fyrsmithlabs/augmentd/internal/vectorstore"
	"go.uber.org/zap"
)

// appOptions select what a command needs.
type appOptions struct {
	telemetry bool // install OTLP providers
	rag       bool // open the embedder and vector store
	logStderr bool // keep stdout free for command output
}

// app holds the wired components shared by all commands.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	tel      *telemetry.Telemetry
	embedder embeddings.Provider
	store    vectorstore.Store
	pipeline *rag.Pipeline
	memory   memory.Gateway
}

// newApp initializes components in dependency order:
//  1. Telemetry, so the logger can bridge to it
//  2. Logger
//  3. Embedder and vector store, only when RAG is enabled
//  4. RAG pipeline and memory gateway
//
// A missing embedding credential disables RAG with a warning instead of
// failing, matching how the memory gateway treats a missing key.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg}

	if opts.telemetry {
		tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Observability, version))
		if err != nil {
			return nil, fmt.Errorf("initializing telemetry: %w", err)
		}
		a.tel = tel
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	if opts.logStderr {
		logCfg.Output.Stdout = false
		logCfg.Output.Stderr = true
	}
	if a.tel.LoggerProvider() != nil {
		logCfg.Output.OTEL = true
	}
	logger, err := logging.NewLogger(logCfg, a.tel.LoggerProvider())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	a.logger = logger

	if a.tel != nil {
		if health := a.tel.Health(); health.Degraded {
			logger.Warn(ctx, "telemetry degraded", zap.Strings("problems", health.Problems))
		}
	}

	if opts.rag && cfg.RAG.Enabled {
		if err := a.openRAG(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.pipeline = rag.NewPipeline(cfg.RAG, a.embedder, a.store, logger)
	a.memory = memory.NewGateway(cfg.Memory, logger)

	logger.Debug(ctx, "components initialized",
		zap.Bool("rag_enabled", a.pipeline.Enabled()),
		zap.Bool("memory_enabled", a.memory.Enabled()),
		zap.Bool("telemetry_enabled", a.tel.IsEnabled()),
	)
	return a, nil
}

func (a *app) openRAG(ctx context.Context) error {
	embedder, err := embeddings.NewProvider(a.cfg.Embeddings, a.logger)
	switch {
	case errors.Is(err, embeddings.ErrEmbeddingUnavailable):
		a.logger.Warn(ctx, "embeddings unavailable, rag disabled", zap.Error(err))
		return nil
	case err != nil:
		return fmt.Errorf("initializing embeddings: %w", err)
	}

	store, err := vectorstore.NewStore(a.cfg, a.logger.Underlying())
	if err != nil {
		_ = embedder.Close()
		return fmt.Errorf("initializing vector store: %w", err)
	}

	a.embedder = embedder
	a.store = store
	a.logger.Info(ctx, "rag initialized",
		zap.String("embeddings", a.cfg.Embeddings.Provider),
		zap.String("model", a.cfg.Embeddings.Model),
		zap.Int("dimension", a.cfg.Embeddings.Dimension),
		zap.String("vectorstore", a.cfg.VectorStore.Provider),
	)
	return nil
}

// Close releases resources in reverse order of creation.
func (a *app) Close() {
	ctx := context.Background()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn(ctx, "closing vector store", zap.Error(err))
		}
	}
	if a.embedder != nil {
		if err := a.embedder.Close(); err != nil {
			a.logger.Warn(ctx, "closing embeddings", zap.Error(err))
		}
	}
	if a.tel != nil {
		if err := a.tel.Shutdown(ctx); err != nil && a.logger != nil {
			a.logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
