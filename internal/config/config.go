// Package config provides configuration loading for augmentd.
//
// Values come from (lowest to highest precedence) built-in defaults, an
// optional YAML file, legacy environment names kept for compatibility with
// existing deployments, and canonical SECTION_FIELD environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Embedding providers.
const (
	EmbeddingsOpenAI    = "openai"
	EmbeddingsTEI       = "tei"
	EmbeddingsFastEmbed = "fastembed"
)

// Vector store providers.
const (
	VectorStoreSQLite  = "sqlite"
	VectorStoreChromem = "chromem"
	VectorStoreQdrant  = "qdrant"
)

// Config holds the complete augmentd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
	Memory        MemoryConfig        `koanf:"memory"`
	RAG           RAGConfig           `koanf:"rag"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	Endpoint        string  `koanf:"otlp_endpoint"`
	Protocol        string  `koanf:"otlp_protocol"` // grpc or http
	Insecure        bool    `koanf:"otlp_insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// LoggingConfig selects level and encoding. The rest of the logger
// settings use logging.NewDefaultConfig.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MemoryConfig configures the external memory backend gateway.
// The gateway only talks to the backend when Enabled and APIKey are both set.
type MemoryConfig struct {
	Enabled   bool     `koanf:"enabled"`
	APIKey    Secret   `koanf:"api_key"`
	BaseURL   string   `koanf:"base_url"`
	Timeout   Duration `koanf:"timeout"`
	TopKTask  int      `koanf:"top_k_task"`
	TopKUser  int      `koanf:"top_k_user"`
	RateLimit float64  `koanf:"rate_limit"` // requests/sec, 0 disables limiting
	RateBurst int      `koanf:"rate_burst"`
}

// Active reports whether the gateway should issue backend calls.
func (m MemoryConfig) Active() bool {
	return m.Enabled && m.APIKey.IsSet()
}

// RAGConfig configures ingestion and retrieval.
type RAGConfig struct {
	Enabled       bool `koanf:"enabled"`
	TopK          int  `koanf:"top_k"`
	ChunkSize     int  `koanf:"chunk_size"`
	ChunkOverlap  int  `koanf:"chunk_overlap"`
	SnippetLength int  `koanf:"snippet_length"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    Secret `koanf:"api_key"`
	Dimension int    `koanf:"dimension"`
	BatchSize int    `koanf:"batch_size"`
	CacheSize int    `koanf:"cache_size"` // query vectors kept in memory, 0 disables
	CacheDir  string `koanf:"cache_dir"`  // fastembed model cache
}

// VectorStoreConfig selects and configures the chunk store.
type VectorStoreConfig struct {
	Provider     string `koanf:"provider"`
	Path         string `koanf:"path"` // sqlite file or chromem directory; empty keeps chromem in memory
	Collection   string `koanf:"collection"`
	QdrantHost   string `koanf:"qdrant_host"`
	QdrantPort   int    `koanf:"qdrant_port"`
	QdrantUseTLS bool   `koanf:"qdrant_use_tls"`
	QdrantAPIKey Secret `koanf:"qdrant_api_key"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: false,
			ServiceName:     "augmentd",
			Endpoint:        "localhost:4317",
			Protocol:        "grpc",
			Insecure:        true,
			SampleRate:      1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Memory: MemoryConfig{
			BaseURL:  "https://api.mem0.ai/v1",
			Timeout:  Duration(1500 * time.Millisecond),
			TopKTask: 8,
			TopKUser: 3,
		},
		RAG: RAGConfig{
			TopK:          8,
			ChunkSize:     1200,
			ChunkOverlap:  150,
			SnippetLength: 400,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  EmbeddingsOpenAI,
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			BatchSize: 512,
			CacheSize: 1024,
		},
		VectorStore: VectorStoreConfig{
			Provider:   VectorStoreSQLite,
			Path:       "augmentd.db",
			Collection: "rag_chunks",
			QdrantHost: "localhost",
			QdrantPort: 6334,
		},
	}
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Observability.EnableTelemetry {
		if c.Observability.ServiceName == "" {
			return errors.New("service name required when telemetry is enabled")
		}
		if p := c.Observability.Protocol; p != "grpc" && p != "http" {
			return fmt.Errorf("otlp protocol must be grpc or http, got %q", p)
		}
	}

	if c.Memory.Timeout <= 0 {
		return errors.New("memory timeout must be positive")
	}
	if c.Memory.TopKTask < 0 || c.Memory.TopKUser < 0 {
		return errors.New("memory top-k values must be >= 0")
	}
	if c.Memory.RateLimit < 0 {
		return errors.New("memory rate limit must be >= 0")
	}
	if c.Memory.Active() && c.Memory.BaseURL == "" {
		return errors.New("memory base url required when memory is enabled")
	}

	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag chunk size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag chunk overlap must be in [0, %d), got %d", c.RAG.ChunkSize, c.RAG.ChunkOverlap)
	}
	if c.RAG.TopK < 0 {
		return errors.New("rag top-k must be >= 0")
	}
	if c.RAG.SnippetLength <= 0 {
		return errors.New("rag snippet length must be positive")
	}

	switch c.Embeddings.Provider {
	case EmbeddingsOpenAI, EmbeddingsTEI, EmbeddingsFastEmbed:
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension <= 0 {
		return errors.New("embedding dimension must be positive")
	}

	switch c.VectorStore.Provider {
	case VectorStoreSQLite, VectorStoreChromem, VectorStoreQdrant:
	default:
		return fmt.Errorf("unknown vectorstore provider %q", c.VectorStore.Provider)
	}
	if c.VectorStore.Provider == VectorStoreSQLite && c.VectorStore.Path == "" {
		return errors.New("vectorstore path required for sqlite")
	}

	return nil
}

// legacyEnv maps environment names used by earlier deployments onto the
// config. A legacy name is ignored when its canonical variable is also set.
var legacyEnv = []struct {
	name      string
	canonical string
	apply     func(c *Config, v string)
}{
	{"ENABLE_MEM0", "MEMORY_ENABLED", func(c *Config, v string) { c.Memory.Enabled = truthy(v) }},
	{"MEM0_API_KEY", "MEMORY_API_KEY", func(c *Config, v string) { c.Memory.APIKey = Secret(v) }},
	{"MEM0_BASE_URL", "MEMORY_BASE_URL", func(c *Config, v string) { c.Memory.BaseURL = v }},
	{"MEM0_TIMEOUT_MS", "MEMORY_TIMEOUT", func(c *Config, v string) {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Memory.Timeout = Duration(time.Duration(ms) * time.Millisecond)
		}
	}},
	{"ENABLE_RAG", "RAG_ENABLED", func(c *Config, v string) { c.RAG.Enabled = truthy(v) }},
	{"RAG_TOPK", "RAG_TOP_K", func(c *Config, v string) {
		if k, err := strconv.Atoi(v); err == nil {
			c.RAG.TopK = k
		}
	}},
	{"RAG_EMBED_MODEL", "EMBEDDINGS_MODEL", func(c *Config, v string) { c.Embeddings.Model = v }},
	{"OPENAI_API_KEY", "EMBEDDINGS_API_KEY", func(c *Config, v string) { c.Embeddings.APIKey = Secret(v) }},
}

func applyLegacyEnv(c *Config) {
	for _, l := range legacyEnv {
		if os.Getenv(l.canonical) != "" {
			continue
		}
		if v := getEnvString(l.name, ""); v != "" {
			l.apply(c, v)
		}
	}
}

// truthy matches the flag convention of the legacy variables: "true" or "1".
func truthy(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	return v == "true" || v == "1"
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
