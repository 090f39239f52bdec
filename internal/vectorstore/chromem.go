package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("augmentd.vectorstore.chromem")

const providerChromem = "chromem"

// errCallerEmbeds is returned if chromem ever tries to embed on its own;
// every vector is supplied by the pipeline.
var errCallerEmbeds = errors.New("chromem: embeddings must be supplied by the caller")

// ChromemConfig holds configuration for the chromem-go embedded store.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty keeps everything
	// in memory.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection holds chunks. Documents live in Collection + "_documents".
	Collection string

	// Dimension must match the embedder's output dimension.
	Dimension int

	// Model is recorded on every chunk.
	Model string
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "rag_chunks"
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// ChromemStore implements Store using chromem-go.
//
// Documents are kept in a side collection with a one-element placeholder
// vector; chunks carry their document's title and URL in metadata so a
// search needs no join. chromem metadata is string-valued, so structured
// metadata is stored as JSON.
type ChromemStore struct {
	db        *chromem.DB
	config    ChromemConfig
	logger    *zap.Logger
	chunks    *chromem.Collection
	documents *chromem.Collection

	mu      sync.Mutex
	lastSeq int64
}

// NewChromemStore creates a new ChromemStore with the given configuration.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		expandedPath, err := expandPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(expandedPath, 0700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
		}
		db, err = chromem.NewPersistentDB(expandedPath, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		config.Path = expandedPath
	}

	store := &ChromemStore{db: db, config: config, logger: logger}
	if err := store.EnsureSchema(context.Background()); err != nil {
		return nil, err
	}

	logger.Info("ChromemStore initialized",
		zap.String("path", config.Path),
		zap.Bool("compress", config.Compress),
		zap.Int("dimension", config.Dimension),
		zap.String("collection", config.Collection),
	)
	return store, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func embedNothing(context.Context, string) ([]float32, error) {
	return nil, errCallerEmbeds
}

// EnsureSchema gets or creates both collections.
func (s *ChromemStore) EnsureSchema(_ context.Context) (err error) {
	start := time.Now()
	defer func() { observe(providerChromem, "ensure_schema", start, err) }()

	meta := map[string]string{
		"dimension": strconv.Itoa(s.config.Dimension),
		"model":     s.config.Model,
	}
	chunks, err := s.db.GetOrCreateCollection(s.config.Collection, meta, embedNothing)
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}
	documents, err := s.db.GetOrCreateCollection(s.config.Collection+"_documents", nil, embedNothing)
	if err != nil {
		return fmt.Errorf("creating collection %s_documents: %w", s.config.Collection, err)
	}

	s.mu.Lock()
	s.chunks, s.documents = chunks, documents
	s.mu.Unlock()
	return nil
}

// nextSeq returns a strictly increasing insertion stamp that survives
// reopening a persistent store.
func (s *ChromemStore) nextSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := time.Now().UnixNano()
	if seq <= s.lastSeq {
		seq = s.lastSeq + 1
	}
	s.lastSeq = seq
	return seq
}

// InsertDocument stores a new document.
func (s *ChromemStore) InsertDocument(ctx context.Context, doc Document) (err error) {
	start := time.Now()
	defer func() { observe(providerChromem, "insert_document", start, err) }()

	if err := validateDocument(doc); err != nil {
		return err
	}
	if _, err := s.documents.GetByID(ctx, doc.ID); err == nil {
		return fmt.Errorf("%w: document %s already exists", ErrInvalidDocument, doc.ID)
	}
	meta, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}

	err = s.documents.AddDocument(ctx, chromem.Document{
		ID:        doc.ID,
		Embedding: []float32{1},
		Content:   doc.Title,
		Metadata: map[string]string{
			"title":       doc.Title,
			"url":         doc.URL,
			"source_type": doc.SourceType,
			"metadata":    meta,
			"created_at":  createdAtOrNow(doc.CreatedAt).Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return fmt.Errorf("inserting document %s: %w", doc.ID, err)
	}
	return nil
}

// InsertChunk stores one chunk. The owning document must exist.
func (s *ChromemStore) InsertChunk(ctx context.Context, chunk Chunk) (err error) {
	start := time.Now()
	defer func() { observe(providerChromem, "insert_chunk", start, err) }()

	if err := validateChunk(chunk, s.config.Dimension); err != nil {
		return err
	}
	doc, err := s.GetDocument(ctx, chunk.DocumentID)
	if err != nil {
		return fmt.Errorf("inserting chunk %d: %w", chunk.Index, err)
	}
	meta, err := marshalMetadata(chunk.Metadata)
	if err != nil {
		return err
	}

	err = s.chunks.AddDocument(ctx, chromem.Document{
		ID:        chunk.ID,
		Embedding: chunk.Embedding,
		Content:   chunk.Text,
		Metadata: map[string]string{
			"document_id": chunk.DocumentID,
			"chunk_index": strconv.Itoa(chunk.Index),
			"seq":         strconv.FormatInt(s.nextSeq(), 10),
			"dim":         strconv.Itoa(len(chunk.Embedding)),
			"model":       s.config.Model,
			"title":       doc.Title,
			"url":         doc.URL,
			"metadata":    meta,
			"created_at":  createdAtOrNow(chunk.CreatedAt).Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return fmt.Errorf("inserting chunk %d of document %s: %w", chunk.Index, chunk.DocumentID, err)
	}
	return nil
}

// Search ranks every chunk and keeps the top k. chromem returns results
// in similarity order only, so ties are re-sorted by insertion stamp.
func (s *ChromemStore) Search(ctx context.Context, vector []float32, k int) (results []SearchResult, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	start := time.Now()
	defer func() { observe(providerChromem, "search", start, err) }()

	if k <= 0 {
		return []SearchResult{}, nil
	}
	if err := checkDimension(vector, s.config.Dimension); err != nil {
		return nil, err
	}

	// chromem requires nResults <= doc count
	count := s.chunks.Count()
	if count == 0 {
		return []SearchResult{}, nil
	}

	found, err := s.chunks.QueryEmbedding(ctx, vector, count, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	type ranked struct {
		SearchResult
		seq int64
	}
	all := make([]ranked, 0, len(found))
	for _, r := range found {
		index, _ := strconv.Atoi(r.Metadata["chunk_index"])
		seq, _ := strconv.ParseInt(r.Metadata["seq"], 10, 64)
		all = append(all, ranked{
			SearchResult: SearchResult{
				ChunkID:    r.ID,
				DocumentID: r.Metadata["document_id"],
				Index:      index,
				Text:       r.Content,
				Title:      r.Metadata["title"],
				URL:        r.Metadata["url"],
				Score:      finiteScore(r.Similarity),
			},
			seq: seq,
		})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].seq < all[j].seq
	})
	if len(all) > k {
		all = all[:k]
	}

	results = make([]SearchResult, len(all))
	for i, r := range all {
		results[i] = r.SearchResult
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("searched chromem collection",
		zap.String("collection", s.config.Collection),
		zap.Int("k", k),
		zap.Int("results", len(results)),
	)
	return results, nil
}

// GetDocument returns ErrNotFound for unknown IDs.
func (s *ChromemStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	d, err := s.documents.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	doc := &Document{
		ID:         d.ID,
		Title:      d.Metadata["title"],
		SourceType: d.Metadata["source_type"],
		URL:        d.Metadata["url"],
		Metadata:   unmarshalMetadata(d.Metadata["metadata"]),
	}
	doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, d.Metadata["created_at"])
	return doc, nil
}

// ListChunks returns the document's chunks ordered by index.
func (s *ChromemStore) ListChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	count := s.chunks.Count()
	if count == 0 {
		return nil, nil
	}

	// A filtered query with any unit vector returns every match.
	probe := make([]float32, s.config.Dimension)
	probe[0] = 1
	found, err := s.chunks.QueryEmbedding(ctx, probe, count, map[string]string{"document_id": documentID}, nil)
	if err != nil {
		return nil, fmt.Errorf("listing chunks of %s: %w", documentID, err)
	}

	chunks := make([]Chunk, 0, len(found))
	for _, r := range found {
		index, _ := strconv.Atoi(r.Metadata["chunk_index"])
		c := Chunk{
			ID:         r.ID,
			DocumentID: documentID,
			Index:      index,
			Text:       r.Content,
			Embedding:  r.Embedding,
			Metadata:   unmarshalMetadata(r.Metadata["metadata"]),
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, r.Metadata["created_at"])
		chunks = append(chunks, c)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}

// DeleteDocument removes the document's chunks, then the document.
func (s *ChromemStore) DeleteDocument(ctx context.Context, id string) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteDocument")
	defer span.End()

	start := time.Now()
	defer func() { observe(providerChromem, "delete_document", start, err) }()

	if _, err := s.documents.GetByID(ctx, id); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := s.chunks.Delete(ctx, map[string]string{"document_id": id}, nil); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting chunks of %s: %w", id, err)
	}
	if err := s.documents.Delete(ctx, nil, nil, id); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	return nil
}

// Close is a no-op; chromem persists on every write.
func (s *ChromemStore) Close() error {
	return nil
}
