package vectorstore

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Document is an ingested source. It is immutable once stored.
type Document struct {
	ID         string         `json:"id"`
	Title      string         `json:"title,omitempty"`
	SourceType string         `json:"source_type"`
	URL        string         `json:"url,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Chunk is one window of a document's text together with its embedding.
// Index is contiguous per document starting at 0.
type Chunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Index      int            `json:"index"`
	Text       string         `json:"text"`
	Embedding  []float32      `json:"-"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// SearchResult is a chunk ranked against a query vector, joined with its
// document's title and URL.
type SearchResult struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Index      int     `json:"index"`
	Text       string  `json:"text"`
	Title      string  `json:"title,omitempty"`
	URL        string  `json:"url,omitempty"`
	Score      float64 `json:"score"`
}

func validateDocument(doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: document id required", ErrInvalidDocument)
	}
	if doc.SourceType == "" {
		return fmt.Errorf("%w: source type required", ErrInvalidDocument)
	}
	return nil
}

func validateChunk(c Chunk, dimension int) error {
	if c.ID == "" || c.DocumentID == "" {
		return fmt.Errorf("%w: chunk and document id required", ErrInvalidDocument)
	}
	if c.Index < 0 {
		return fmt.Errorf("%w: negative chunk index %d", ErrInvalidDocument, c.Index)
	}
	return checkDimension(c.Embedding, dimension)
}

func checkDimension(vec []float32, dimension int) error {
	if len(vec) != dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), dimension)
	}
	return nil
}

// cosineSimilarity returns 1 - cosine distance. Zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// finiteScore maps the NaN a zero-norm query yields to 0, the value
// cosineSimilarity gives for the same input.
func finiteScore(score float32) float64 {
	f := float64(score)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// encodeVector packs a vector as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) []float32 {
	if len(data)%4 != 0 {
		return nil
	}
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return v
}

func createdAtOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
