package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	threshold, err := cfg.ChunkedThresholdBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(10<<20), threshold)

	chunk, err := cfg.ChunkSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(5<<20), chunk)

	assert.Equal(t, 4, cfg.Upload.ChunkConcurrency)
	assert.Equal(t, 100, cfg.Queue.MaxSize)
	assert.Equal(t, 5, cfg.Queue.MaxRetryAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Lock.Expiry)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
registry:
  base_url: https://registry.example.com
  token: tok-123
upload:
  chunk_size: 1MB
  chunked_threshold: 2MB
  chunk_concurrency: 8
queue:
  max_size: 10
  max_retry_attempts: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://registry.example.com", cfg.Registry.BaseURL)
	assert.Equal(t, "tok-123", cfg.Registry.Token)

	chunk, err := cfg.ChunkSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), chunk)

	assert.Equal(t, 8, cfg.Upload.ChunkConcurrency)
	assert.Equal(t, 10, cfg.Queue.MaxSize)
	assert.Equal(t, 3, cfg.Queue.MaxRetryAttempts)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TAPTIK_REGISTRY_URL", "https://env.example.com")
	t.Setenv("TAPTIK_TOKEN", "env-token")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.Registry.BaseURL)
	assert.Equal(t, "env-token", cfg.Registry.Token)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad chunk size", "upload:\n  chunk_size: nonsense\n"},
		{"zero concurrency", "upload:\n  chunk_concurrency: 0\n"},
		{"huge concurrency", "upload:\n  chunk_concurrency: 64\n"},
		{"zero queue size", "queue:\n  max_size: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestResolveToken_FromFile(t *testing.T) {
	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(tokenPath, []byte("file-token\n"), 0o600))

	cfg := defaults()
	cfg.Registry.TokenFile = tokenPath

	tok, err := cfg.ResolveToken()
	require.NoError(t, err)
	assert.Equal(t, "file-token", tok)
}
