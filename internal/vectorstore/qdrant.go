package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("augmentd.vectorstore.qdrant")

const providerQdrant = "qdrant"

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// QdrantConfig holds configuration for Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (NOT HTTP REST port).
	// Default: 6334 (gRPC), not 6333 (HTTP)
	Port int

	// APIKey is sent on every call when set.
	APIKey string

	// UseTLS enables TLS encryption for gRPC connection.
	UseTLS bool

	// Collection holds chunks. Documents live in Collection + "_documents".
	Collection string

	// Dimension is the chunk vector size. MUST match the embedder.
	Dimension int

	// Model is recorded in every chunk payload.
	Model string

	// MaxRetries is the maximum number of retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries.
	// Doubles on each retry (exponential backoff).
	// Default: 1 second
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int

	// CircuitBreakerThreshold is the number of failures before opening circuit.
	// Default: 5
	CircuitBreakerThreshold int
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "rag_chunks"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024 // 50MB
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
}

// ValidateCollectionName validates a collection name against security rules.
// Pattern: ^[a-z0-9_]{1,64}$
// Rejects: uppercase, special chars, path traversal, spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// IsTransientError checks if an error is transient (should retry).
// Returns true for network timeouts, temporary unavailability.
// Returns false for invalid config, not found, permission denied.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// pointID maps a record ID onto a Qdrant UUID point ID. Non-UUID IDs are
// hashed so the mapping is stable; the original ID stays in the payload.
func pointID(id string) *qdrant.PointId {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(id)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String())
}

func matchKeyword(key, value string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: key,
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: value},
						},
					},
				},
			},
		},
	}
}

func stringValue(v string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
}

func intValue(v int64) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: v}}
}

func payloadString(p map[string]*qdrant.Value, key string) string {
	if v, ok := p[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func payloadInt(p map[string]*qdrant.Value, key string) int64 {
	if v, ok := p[key]; ok {
		return v.GetIntegerValue()
	}
	return 0
}

// QdrantStore is a Store implementation using Qdrant's native gRPC client.
//
// Chunks are points in the chunk collection with the chunk vector and a
// payload carrying document_id, chunk_index, seq, title and url. Documents
// are points with a one-element vector in a side collection.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger

	seqMu   sync.Mutex
	lastSeq int64

	// circuitBreaker tracks failures for circuit breaker pattern
	circuitBreaker struct {
		failures int
		lastFail time.Time
		mu       sync.Mutex
	}
}

// NewQdrantStore creates a new QdrantStore with the given configuration.
//
// The constructor performs the following steps:
//  1. Validates configuration
//  2. Creates Qdrant gRPC client
//  3. Performs health check
//  4. Returns ready-to-use store
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS {
		fmt.Fprintf(os.Stderr, "WARNING: Qdrant gRPC using plaintext (TLS disabled). Insecure for production.\n")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{client: client, config: config, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.healthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	return store, nil
}

func (s *QdrantStore) documentsCollection() string {
	return s.config.Collection + "_documents"
}

// Close closes the Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// healthCheck performs a health check on the Qdrant connection.
func (s *QdrantStore) healthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.HealthCheck")
	defer span.End()

	_, err := s.client.HealthCheck(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("health check failed: %w", err)
	}

	span.SetStatus(codes.Ok, "healthy")
	return nil
}

// retryOperation retries an operation with exponential backoff.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			s.resetCircuitBreaker()
			return nil
		}

		if s.isCircuitOpen() {
			return fmt.Errorf("%s: circuit breaker open", operationName)
		}

		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		s.recordFailure()

		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, s.config.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (s *QdrantStore) recordFailure() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures++
	s.circuitBreaker.lastFail = time.Now()
}

func (s *QdrantStore) resetCircuitBreaker() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures = 0
}

func (s *QdrantStore) isCircuitOpen() bool {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()

	if s.circuitBreaker.failures >= s.config.CircuitBreakerThreshold {
		// Allow retry after 30 seconds
		if time.Since(s.circuitBreaker.lastFail) > 30*time.Second {
			s.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

func (s *QdrantStore) nextSeq() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	seq := time.Now().UnixNano()
	if seq <= s.lastSeq {
		seq = s.lastSeq + 1
	}
	s.lastSeq = seq
	return seq
}

// EnsureSchema creates both collections and the document_id payload index.
func (s *QdrantStore) EnsureSchema(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.EnsureSchema")
	defer span.End()

	start := time.Now()
	defer func() { observe(providerQdrant, "ensure_schema", start, err) }()

	if err := s.ensureCollection(ctx, s.config.Collection, uint64(s.config.Dimension)); err != nil {
		span.RecordError(err)
		return err
	}
	if err := s.ensureCollection(ctx, s.documentsCollection(), 1); err != nil {
		span.RecordError(err)
		return err
	}

	err = s.retryOperation(ctx, "create_field_index", func() error {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.config.Collection,
			FieldName:      "document_id",
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		return err
	})
	if err != nil {
		// An existing index is not an error worth failing startup for.
		s.logger.Debug("creating document_id index", zap.Error(err))
	}
	return nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, name string, size uint64) error {
	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func() error {
		var err error
		exists, err = s.client.CollectionExists(ctx, name)
		return err
	})
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if exists {
		return nil
	}

	err = s.retryOperation(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     size,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	s.logger.Info("created qdrant collection", zap.String("collection", name), zap.Uint64("vector_size", size))
	return nil
}

func (s *QdrantStore) upsert(ctx context.Context, collection string, point *qdrant.PointStruct) error {
	return s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         []*qdrant.PointStruct{point},
		})
		return err
	})
}

// InsertDocument stores a new document.
func (s *QdrantStore) InsertDocument(ctx context.Context, doc Document) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.InsertDocument")
	defer span.End()

	start := time.Now()
	defer func() { observe(providerQdrant, "insert_document", start, err) }()

	if err := validateDocument(doc); err != nil {
		return err
	}
	// Upsert would overwrite silently.
	switch _, err := s.GetDocument(ctx, doc.ID); {
	case err == nil:
		return fmt.Errorf("%w: document %s already exists", ErrInvalidDocument, doc.ID)
	case !errors.Is(err, ErrNotFound):
		return fmt.Errorf("checking document %s: %w", doc.ID, err)
	}
	meta, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}

	err = s.upsert(ctx, s.documentsCollection(), &qdrant.PointStruct{
		Id:      pointID(doc.ID),
		Vectors: qdrant.NewVectors(1),
		Payload: map[string]*qdrant.Value{
			"id":          stringValue(doc.ID),
			"title":       stringValue(doc.Title),
			"url":         stringValue(doc.URL),
			"source_type": stringValue(doc.SourceType),
			"metadata":    stringValue(meta),
			"created_at":  stringValue(createdAtOrNow(doc.CreatedAt).Format(time.RFC3339Nano)),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("inserting document %s: %w", doc.ID, err)
	}
	return nil
}

// InsertChunk stores one chunk. The owning document must exist.
func (s *QdrantStore) InsertChunk(ctx context.Context, chunk Chunk) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.InsertChunk")
	defer span.End()

	start := time.Now()
	defer func() { observe(providerQdrant, "insert_chunk", start, err) }()

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

	err = s.upsert(ctx, s.config.Collection, &qdrant.PointStruct{
		Id:      pointID(chunk.ID),
		Vectors: qdrant.NewVectors(chunk.Embedding...),
		Payload: map[string]*qdrant.Value{
			"id":          stringValue(chunk.ID),
			"document_id": stringValue(chunk.DocumentID),
			"chunk_index": intValue(int64(chunk.Index)),
			"seq":         intValue(s.nextSeq()),
			"dim":         intValue(int64(len(chunk.Embedding))),
			"model":       stringValue(s.config.Model),
			"text":        stringValue(chunk.Text),
			"title":       stringValue(doc.Title),
			"url":         stringValue(doc.URL),
			"metadata":    stringValue(meta),
			"created_at":  stringValue(createdAtOrNow(chunk.CreatedAt).Format(time.RFC3339Nano)),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("inserting chunk %d of document %s: %w", chunk.Index, chunk.DocumentID, err)
	}
	return nil
}

// Search queries the chunk collection. Qdrant does not order ties, so it
// fetches tieSlack extra points and re-sorts equal scores by insertion
// stamp before cutting to k. A tie group wider than tieSlack at the k-th
// position can still lose its earliest members.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, k int) (results []SearchResult, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k), attribute.String("collection", s.config.Collection))

	start := time.Now()
	defer func() { observe(providerQdrant, "search", start, err) }()

	if k <= 0 {
		return []SearchResult{}, nil
	}
	if err := checkDimension(vector, s.config.Dimension); err != nil {
		return nil, err
	}

	var points []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k + tieSlack)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", s.config.Collection, err)
	}

	results = scoredPointsToResults(points, k)
	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// tieSlack is how many points past k a search over-fetches.
const tieSlack = 32

func scoredPointsToResults(points []*qdrant.ScoredPoint, k int) []SearchResult {
	sort.SliceStable(points, func(i, j int) bool {
		si, sj := finiteScore(points[i].Score), finiteScore(points[j].Score)
		if si != sj {
			return si > sj
		}
		return payloadInt(points[i].Payload, "seq") < payloadInt(points[j].Payload, "seq")
	})
	if len(points) > k {
		points = points[:k]
	}

	results := make([]SearchResult, len(points))
	for i, p := range points {
		results[i] = SearchResult{
			ChunkID:    payloadString(p.Payload, "id"),
			DocumentID: payloadString(p.Payload, "document_id"),
			Index:      int(payloadInt(p.Payload, "chunk_index")),
			Text:       payloadString(p.Payload, "text"),
			Title:      payloadString(p.Payload, "title"),
			URL:        payloadString(p.Payload, "url"),
			Score:      finiteScore(p.Score),
		}
	}
	return results
}

// GetDocument returns ErrNotFound for unknown IDs.
func (s *QdrantStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	var points []*qdrant.RetrievedPoint
	err := s.retryOperation(ctx, "get", func() error {
		res, err := s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: s.documentsCollection(),
			Ids:            []*qdrant.PointId{pointID(id)},
			WithPayload:    qdrant.NewWithPayload(true),
		})
		points = res
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("getting document %s: %w", id, err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	p := points[0].Payload
	doc := &Document{
		ID:         payloadString(p, "id"),
		Title:      payloadString(p, "title"),
		SourceType: payloadString(p, "source_type"),
		URL:        payloadString(p, "url"),
		Metadata:   unmarshalMetadata(payloadString(p, "metadata")),
	}
	doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, payloadString(p, "created_at"))
	return doc, nil
}

// ListChunks returns the document's chunks ordered by index.
func (s *QdrantStore) ListChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	filter := matchKeyword("document_id", documentID)

	var count uint64
	err := s.retryOperation(ctx, "count", func() error {
		var err error
		count, err = s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.config.Collection,
			Filter:         filter,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("counting chunks of %s: %w", documentID, err)
	}
	if count == 0 {
		return nil, nil
	}

	var points []*qdrant.RetrievedPoint
	err = s.retryOperation(ctx, "scroll", func() error {
		res, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.config.Collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(count)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		points = res
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing chunks of %s: %w", documentID, err)
	}

	chunks := make([]Chunk, len(points))
	for i, p := range points {
		chunks[i] = Chunk{
			ID:         payloadString(p.Payload, "id"),
			DocumentID: documentID,
			Index:      int(payloadInt(p.Payload, "chunk_index")),
			Text:       payloadString(p.Payload, "text"),
			Metadata:   unmarshalMetadata(payloadString(p.Payload, "metadata")),
		}
		chunks[i].CreatedAt, _ = time.Parse(time.RFC3339Nano, payloadString(p.Payload, "created_at"))
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}

// DeleteDocument removes the document's chunks by filter, then the document.
func (s *QdrantStore) DeleteDocument(ctx context.Context, id string) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteDocument")
	defer span.End()

	start := time.Now()
	defer func() { observe(providerQdrant, "delete_document", start, err) }()

	if _, err := s.GetDocument(ctx, id); err != nil {
		return err
	}

	err = s.retryOperation(ctx, "delete_chunks", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: matchKeyword("document_id", id),
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting chunks of %s: %w", id, err)
	}

	err = s.retryOperation(ctx, "delete_document", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.documentsCollection(),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{pointID(id)}},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	return nil
}
