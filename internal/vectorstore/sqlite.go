package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

var sqliteTracer = otel.Tracer("augmentd.vectorstore.sqlite")

const providerSQLite = "sqlite"

// schema is applied statement by statement. Chunks carry an autoincrement
// seq so ties in search keep insertion order.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS rag_document (
		id          TEXT PRIMARY KEY,
		title       TEXT,
		source_type TEXT NOT NULL,
		url         TEXT,
		metadata    TEXT NOT NULL DEFAULT '{}',
		created_at  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rag_chunk (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		id          TEXT NOT NULL UNIQUE,
		document_id TEXT NOT NULL REFERENCES rag_document(id) ON DELETE CASCADE,
		chunk_index INTEGER NOT NULL,
		text        TEXT NOT NULL,
		embedding   BLOB NOT NULL,
		dim         INTEGER NOT NULL,
		metadata    TEXT NOT NULL DEFAULT '{}',
		created_at  TEXT NOT NULL,
		UNIQUE (document_id, chunk_index)
	)`,
	`CREATE INDEX IF NOT EXISTS rag_chunk_document_idx ON rag_chunk(document_id, chunk_index)`,
	`CREATE TABLE IF NOT EXISTS rag_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// SQLiteConfig holds configuration for the SQLite store.
type SQLiteConfig struct {
	// Path is the database file. Parent directories are created.
	Path string

	// Dimension is the embedding length every stored and query vector must have.
	Dimension int

	// Model names the embedding model. It is recorded alongside the dimension.
	Model string
}

// Validate validates the configuration.
func (c SQLiteConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: sqlite path required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// SQLiteStore is the default Store. Vectors are stored as float32 blobs and
// search is an exact cosine scan joined with the owning document.
type SQLiteStore struct {
	db     *sql.DB
	config SQLiteConfig
	logger *zap.Logger
}

// NewSQLiteStore opens (creating if needed) the database at cfg.Path.
// Call EnsureSchema before use.
func NewSQLiteStore(cfg SQLiteConfig, logger *zap.Logger) (*SQLiteStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	// foreign_keys is per connection, so it goes in the DSN.
	dsn := cfg.Path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return &SQLiteStore{db: db, config: cfg, logger: logger}, nil
}

// EnsureSchema creates the tables and records the embedding dimension. A
// database created with another dimension is reported but still opened;
// its old vectors are skipped by Search.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { observe(providerSQLite, "ensure_schema", start, err) }()

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}

	want := strconv.Itoa(s.config.Dimension)
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO rag_meta (key, value) VALUES ('dimension', ?), ('model', ?)`,
		want, s.config.Model); err != nil {
		return fmt.Errorf("recording embedding dimension: %w", err)
	}

	var stored string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM rag_meta WHERE key = 'dimension'`).Scan(&stored); err != nil {
		return fmt.Errorf("reading embedding dimension: %w", err)
	}
	if stored != want {
		s.logger.Warn("store was created with a different embedding dimension; existing vectors will not match",
			zap.String("stored_dimension", stored),
			zap.Int("dimension", s.config.Dimension),
			zap.String("model", s.config.Model),
		)
	}
	return nil
}

// InsertDocument stores a new document.
func (s *SQLiteStore) InsertDocument(ctx context.Context, doc Document) (err error) {
	start := time.Now()
	defer func() { observe(providerSQLite, "insert_document", start, err) }()

	if err := validateDocument(doc); err != nil {
		return err
	}
	meta, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rag_document (id, title, source_type, url, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, nullString(doc.Title), doc.SourceType, nullString(doc.URL), meta,
		createdAtOrNow(doc.CreatedAt).Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting document %s: %w", doc.ID, err)
	}
	return nil
}

// InsertChunk stores one chunk. The owning document must exist.
func (s *SQLiteStore) InsertChunk(ctx context.Context, chunk Chunk) (err error) {
	start := time.Now()
	defer func() { observe(providerSQLite, "insert_chunk", start, err) }()

	if err := validateChunk(chunk, s.config.Dimension); err != nil {
		return err
	}
	meta, err := marshalMetadata(chunk.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rag_chunk (id, document_id, chunk_index, text, embedding, dim, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.DocumentID, chunk.Index, chunk.Text, encodeVector(chunk.Embedding),
		len(chunk.Embedding), meta, createdAtOrNow(chunk.CreatedAt).Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting chunk %d of document %s: %w", chunk.Index, chunk.DocumentID, err)
	}
	return nil
}

// Search scores every stored chunk against vector.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, k int) (results []SearchResult, err error) {
	ctx, span := sqliteTracer.Start(ctx, "SQLiteStore.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	start := time.Now()
	defer func() { observe(providerSQLite, "search", start, err) }()

	if k <= 0 {
		return []SearchResult{}, nil
	}
	if err := checkDimension(vector, s.config.Dimension); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.chunk_index, c.text, c.embedding, c.dim, d.title, d.url
		FROM rag_chunk c
		JOIN rag_document d ON d.id = c.document_id
		ORDER BY c.seq`)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var skipped int
	for rows.Next() {
		var (
			r          SearchResult
			blob       []byte
			dim        int
			title, url sql.NullString
		)
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Index, &r.Text, &blob, &dim, &title, &url); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if dim != s.config.Dimension {
			skipped++
			continue
		}
		r.Title = title.String
		r.URL = url.String
		r.Score = cosineSimilarity(vector, decodeVector(blob))
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	if skipped > 0 {
		StaleVectorsSkipped.WithLabelValues(providerSQLite).Add(float64(skipped))
		s.logger.Warn("skipped stored vectors with a different dimension",
			zap.Int("skipped", skipped), zap.Int("dimension", s.config.Dimension))
	}

	// Rows arrive in seq order, so a stable sort keeps insertion order on ties.
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	if results == nil {
		results = []SearchResult{}
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// GetDocument returns ErrNotFound for unknown IDs.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	var (
		doc             Document
		title, url      sql.NullString
		meta, createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, source_type, url, metadata, created_at FROM rag_document WHERE id = ?`, id,
	).Scan(&doc.ID, &title, &doc.SourceType, &url, &meta, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting document %s: %w", id, err)
	}

	doc.Title = title.String
	doc.URL = url.String
	doc.Metadata = unmarshalMetadata(meta)
	doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &doc, nil
}

// ListChunks returns the document's chunks ordered by index.
func (s *SQLiteStore) ListChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, text, embedding, metadata, created_at
		FROM rag_chunk WHERE document_id = ? ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks of %s: %w", documentID, err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var (
			c               Chunk
			blob            []byte
			meta, createdAt string
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Text, &blob, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		c.Embedding = decodeVector(blob)
		c.Metadata = unmarshalMetadata(meta)
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteDocument removes the document; its chunks go with it via the
// foreign key cascade.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { observe(providerSQLite, "delete_document", start, err) }()

	res, err := s.db.ExecContext(ctx, `DELETE FROM rag_document WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func marshalMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("%w: metadata: %v", ErrInvalidDocument, err)
	}
	return string(b), nil
}

// unmarshalMetadata tolerates corrupt rows by returning nil.
func unmarshalMetadata(s string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil || len(m) == 0 {
		return nil
	}
	return m
}
