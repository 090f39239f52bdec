package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the allowed config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "augmentd")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
server:
  http_port: 8081
memory:
  enabled: true
  api_key: yaml-key
  base_url: http://memory.internal
  timeout: 750ms
  top_k_task: 4
rag:
  enabled: true
  chunk_size: 800
  chunk_overlap: 100
embeddings:
  provider: tei
  base_url: http://tei:8080
  dimension: 384
vectorstore:
  provider: chromem
  path: ""
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.True(t, cfg.Memory.Active())
	assert.Equal(t, "yaml-key", cfg.Memory.APIKey.Value())
	assert.Equal(t, 750*time.Millisecond, cfg.Memory.Timeout.Duration())
	assert.Equal(t, 4, cfg.Memory.TopKTask)
	assert.Equal(t, 3, cfg.Memory.TopKUser, "unset keys keep defaults")
	assert.Equal(t, 800, cfg.RAG.ChunkSize)
	assert.Equal(t, EmbeddingsTEI, cfg.Embeddings.Provider)
	assert.Equal(t, 384, cfg.Embeddings.Dimension)
	assert.Equal(t, VectorStoreChromem, cfg.VectorStore.Provider)
	assert.Empty(t, cfg.VectorStore.Path)
}

func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
server:
  http_port: 9090
observability:
  service_name: yaml-service
memory:
  base_url: http://from-yaml
`, 0600)

	t.Setenv("SERVER_HTTP_PORT", "7777")
	t.Setenv("OBSERVABILITY_SERVICE_NAME", "env-service")
	t.Setenv("MEM0_BASE_URL", "http://from-legacy")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "env-service", cfg.Observability.ServiceName)
	assert.Equal(t, "http://from-legacy", cfg.Memory.BaseURL, "legacy env beats file")
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	dir := setupTestHome(t)

	cfg, err := LoadWithFile(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadWithFile_DefaultPath(t *testing.T) {
	dir := setupTestHome(t)
	writeConfig(t, dir, "rag:\n  top_k: 12\n", 0600)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.RAG.TopK)
}

func TestLoadWithFile_InvalidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server: [unclosed\n", 0600)

	_, err := LoadWithFile(path)
	assert.Error(t, err)
}

func TestLoadWithFile_ValidationFailure(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "rag:\n  chunk_size: 100\n  chunk_overlap: 100\n", 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk overlap")
}

func TestLoadWithFile_PathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)
	other := filepath.Join(t.TempDir(), "config.yaml")

	_, err := LoadWithFile(other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be in")
}

func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 9090\n", 0644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_FileTooLarge(t *testing.T) {
	dir := setupTestHome(t)
	big := "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
	path := writeConfig(t, dir, big, 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"SERVER_HTTP_PORT":        "server.http_port",
		"VECTORSTORE_QDRANT_HOST": "vectorstore.qdrant_host",
		"MEMORY_TOP_K_TASK":       "memory.top_k_task",
		"PATH":                    "",
		"HOME_DIR":                "",
		"MEM0_API_KEY":            "",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}
