// Package rag ingests text into the vector store and retrieves the chunks
// most similar to a query.
//
// Ingestion chunks the text, embeds every chunk in one batch, then stores
// the document followed by its chunks in index order. Retrieval embeds the
// query, runs a k-NN search and trims each hit to a short snippet.
//
// Failures follow two rules. Indexing reports every failure to the caller,
// who asked for the document to be stored. Retrieval never fails: errors
// are logged and produce an empty result.
package rag

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/augmentd/internal/chunker"
	"github.com/fyrsmithlabs/augmentd/internal/config"
	"github.com/fyrsmithlabs/augmentd/internal/embeddings"
	"github.com/fyrsmithlabs/augmentd/internal/logging"
	"github.com/fyrsmithlabs/augmentd/internal/vectorstore"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("augmentd.rag")

// SourceText is the source type recorded for text ingestion.
const SourceText = "text"

// Item is one retrieved chunk as handed to the agent.
type Item struct {
	ID      string   `json:"id"`
	Title   string   `json:"title,omitempty"`
	Snippet string   `json:"snippet"`
	URL     string   `json:"url,omitempty"`
	Score   *float64 `json:"score,omitempty"`
}

// IndexRequest describes text to ingest. A zero ChunkSize and a nil
// Overlap use the configured values.
type IndexRequest struct {
	Text      string         `json:"text"`
	Title     string         `json:"title,omitempty"`
	URL       string         `json:"url,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ChunkSize int            `json:"chunkSize,omitempty"`
	Overlap   *int           `json:"overlap,omitempty"`
}

// IndexResult reports what was stored. ChunkCount counts chunks actually
// written, which is less than the chunk total when storage failed midway.
type IndexResult struct {
	DocumentID string `json:"documentId"`
	ChunkCount int    `json:"chunks"`
}

// DocumentView is a stored document with its text rebuilt from its chunks.
type DocumentView struct {
	vectorstore.Document
	ChunkCount int    `json:"chunks"`
	Text       string `json:"text"`
}

// Pipeline wires chunking, embedding and storage together. The zero value
// is not usable; construct with NewPipeline.
type Pipeline struct {
	cfg      config.RAGConfig
	embedder embeddings.Provider
	store    vectorstore.Store
	logger   *logging.Logger

	schemaOnce sync.Once
}

// NewPipeline builds a pipeline. It is enabled only when cfg.Enabled is set
// and both embedder and store are non-nil; otherwise every call is a no-op.
func NewPipeline(cfg config.RAGConfig, embedder embeddings.Provider, store vectorstore.Store, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 8
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunker.DefaultSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = chunker.DefaultOverlap
	}
	if cfg.SnippetLength <= 0 {
		cfg.SnippetLength = 400
	}
	return &Pipeline{
		cfg:      cfg,
		embedder: embedder,
		store:    store,
		logger:   logger.Named("rag"),
	}
}

// Enabled reports whether the pipeline does any work.
func (p *Pipeline) Enabled() bool {
	return p.cfg.Enabled && p.embedder != nil && p.store != nil
}

// ensureSchema runs once per process. A failure is logged and not retried;
// later operations fail on their own if the schema is really missing.
func (p *Pipeline) ensureSchema(ctx context.Context) {
	p.schemaOnce.Do(func() {
		if err := p.store.EnsureSchema(ctx); err != nil {
			p.logger.Warn(ctx, "ensure schema failed", zap.Error(err))
		}
	})
}

// IndexText chunks, embeds and stores req.Text as a new document. It
// returns nil, nil when the pipeline is disabled.
//
// Embedding failures are returned before anything is stored. A storage
// failure after the document row was written returns the partial result
// alongside the error.
func (p *Pipeline) IndexText(ctx context.Context, req IndexRequest) (*IndexResult, error) {
	if !p.Enabled() {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "Pipeline.IndexText")
	defer span.End()

	size := req.ChunkSize
	if size == 0 {
		size = p.cfg.ChunkSize
	}
	// The configured overlap applies even to a smaller request size, so
	// a size at or below it is rejected rather than silently unshared.
	overlap := p.cfg.ChunkOverlap
	if req.Overlap != nil {
		overlap = *req.Overlap
	}

	windows, err := chunker.Windows(req.Text, size, overlap)
	if err != nil {
		DocumentsIndexed.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("chunking text: %w", err)
	}
	if len(windows) == 0 {
		DocumentsIndexed.WithLabelValues("error").Inc()
		return nil, ErrEmptyText
	}
	span.SetAttributes(attribute.Int("chunks", len(windows)))

	p.ensureSchema(ctx)

	texts := make([]string, len(windows))
	for i, w := range windows {
		texts[i] = w.Text
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		DocumentsIndexed.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vectors) != len(windows) {
		DocumentsIndexed.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embedding chunks: %w: got %d vectors for %d chunks",
			embeddings.ErrProviderError, len(vectors), len(windows))
	}

	now := time.Now().UTC()
	doc := vectorstore.Document{
		ID:         uuid.NewString(),
		Title:      req.Title,
		SourceType: SourceText,
		URL:        req.URL,
		Metadata:   req.Metadata,
		CreatedAt:  now,
	}
	if err := p.store.InsertDocument(ctx, doc); err != nil {
		DocumentsIndexed.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("storing document: %w", err)
	}

	result := &IndexResult{DocumentID: doc.ID}
	for i, w := range windows {
		err := p.store.InsertChunk(ctx, vectorstore.Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Index:      w.Index,
			Text:       w.Text,
			Embedding:  vectors[i],
			Metadata: map[string]any{
				"start":         w.Start,
				"end":           w.End,
				"chunk_size":    size,
				"chunk_overlap": overlap,
				"dim":           len(vectors[i]),
			},
			CreatedAt: now,
		})
		if err != nil {
			DocumentsIndexed.WithLabelValues("partial").Inc()
			ChunksStored.Add(float64(result.ChunkCount))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.logger.Error(ctx, "storing chunk failed; document is partially indexed",
				zap.String("document_id", doc.ID),
				zap.Int("stored", result.ChunkCount),
				zap.Int("total", len(windows)),
				zap.Error(err))
			return result, fmt.Errorf("storing chunk %d of %d: %w", w.Index, len(windows), err)
		}
		result.ChunkCount++
	}

	DocumentsIndexed.WithLabelValues("success").Inc()
	ChunksStored.Add(float64(result.ChunkCount))
	p.logger.Info(ctx, "indexed document",
		zap.String("document_id", doc.ID),
		zap.Int("chunks", result.ChunkCount))
	return result, nil
}

// Retrieve returns up to topK chunks similar to query. topK == 0 uses the
// configured default and a negative topK returns nothing. It never returns
// an error: a disabled pipeline or any failure yields an empty slice.
func (p *Pipeline) Retrieve(ctx context.Context, query string, topK int) []Item {
	if !p.Enabled() {
		Retrievals.WithLabelValues("disabled").Inc()
		return []Item{}
	}
	if topK < 0 || query == "" {
		Retrievals.WithLabelValues("empty").Inc()
		return []Item{}
	}
	if topK == 0 {
		topK = p.cfg.TopK
	}

	ctx, span := tracer.Start(ctx, "Pipeline.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("top_k", topK))

	p.ensureSchema(ctx)

	vector, err := p.embedder.EmbedQuery(ctx, query)
	if err != nil {
		Retrievals.WithLabelValues("error").Inc()
		span.RecordError(err)
		p.logger.Warn(ctx, "embedding query failed", zap.Error(err))
		return []Item{}
	}

	results, err := p.store.Search(ctx, vector, topK)
	if err != nil {
		Retrievals.WithLabelValues("error").Inc()
		span.RecordError(err)
		p.logger.Warn(ctx, "vector search failed", zap.Error(err))
		return []Item{}
	}

	items := make([]Item, 0, len(results))
	for _, r := range results {
		snippet := truncate(r.Text, p.cfg.SnippetLength)
		if r.ChunkID == "" || snippet == "" {
			continue
		}
		score := r.Score
		items = append(items, Item{
			ID:      r.ChunkID,
			Title:   r.Title,
			Snippet: snippet,
			URL:     r.URL,
			Score:   &score,
		})
	}

	if len(items) == 0 {
		Retrievals.WithLabelValues("empty").Inc()
	} else {
		Retrievals.WithLabelValues("hit").Inc()
	}
	span.SetAttributes(attribute.Int("results", len(items)))
	return items
}

// DeleteDocument removes a document and its chunks.
func (p *Pipeline) DeleteDocument(ctx context.Context, id string) error {
	if !p.Enabled() {
		return ErrDisabled
	}
	p.ensureSchema(ctx)
	if err := p.store.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	p.logger.Info(ctx, "deleted document", zap.String("document_id", id))
	return nil
}

// Document returns a stored document with its text rebuilt from its chunks.
func (p *Pipeline) Document(ctx context.Context, id string) (*DocumentView, error) {
	if !p.Enabled() {
		return nil, ErrDisabled
	}
	p.ensureSchema(ctx)

	doc, err := p.store.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	chunks, err := p.store.ListChunks(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}

	view := &DocumentView{Document: *doc, ChunkCount: len(chunks)}
	if len(chunks) == 0 {
		return view, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	size := metaInt(chunks[0].Metadata, "chunk_size", p.cfg.ChunkSize)
	overlap := metaInt(chunks[0].Metadata, "chunk_overlap", p.cfg.ChunkOverlap)
	view.Text, err = chunker.Reconstruct(texts, size, overlap)
	if err != nil {
		return nil, fmt.Errorf("reconstructing text: %w", err)
	}
	return view, nil
}

// truncate keeps at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// metaInt reads an integer from decoded JSON metadata, where numbers
// arrive as float64.
func metaInt(m map[string]any, key string, fallback int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return fallback
}
