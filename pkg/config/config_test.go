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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  root: /tmp/ov-test
embedding:
  provider: mock
vlm:
  provider: mock
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1933, cfg.Server.Port)
	assert.Equal(t, "chromem", cfg.Storage.VectorDB.Provider)
	assert.Equal(t, "context", cfg.Storage.VectorDB.Collection)
	assert.Equal(t, 1536, cfg.Embedding.Dimension)
	assert.Equal(t, 10000, cfg.Queue.Capacity)
	assert.Equal(t, 4, cfg.Queue.EmbeddingWorkers)
	assert.Equal(t, 2, cfg.Queue.SemanticWorkers)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 0.90, cfg.Memory.DedupThreshold)
	assert.Equal(t, "en", cfg.LanguageFallback)
	assert.Equal(t, 10*time.Second, cfg.Server.Timeout)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("OV_TEST_KEY", "sk-secret")
	path := writeConfig(t, `
storage:
  root: /tmp/ov-test
embedding:
  provider: openai
  api_key: ${OV_TEST_KEY}
vlm:
  provider: mock
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", cfg.Embedding.APIKey)
}

func TestLoadRejectsBadProvider(t *testing.T) {
	path := writeConfig(t, `
storage:
  vectordb:
    provider: cassandra
embedding:
  provider: mock
vlm:
  provider: mock
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vectordb.provider")
}

func TestLoadMissingKeyIsActionable(t *testing.T) {
	path := writeConfig(t, `
embedding:
  provider: openai
vlm:
  provider: mock
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding.api_key")
}

func TestLoadUnknownKeysIgnored(t *testing.T) {
	path := writeConfig(t, `
storage:
  root: /tmp/ov-test
embedding:
  provider: mock
vlm:
  provider: mock
flux_capacitor: 88
`)
	_, err := Load(path)
	require.NoError(t, err)
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "/etc/ov.yaml", ResolvePath("/etc/ov.yaml"))

	t.Setenv(EnvConfigPath, "/env/ov.yaml")
	assert.Equal(t, "/env/ov.yaml", ResolvePath(""))
}

func TestJSONConfigAccepted(t *testing.T) {
	path := writeConfig(t, `{"storage":{"root":"/tmp/ov-test"},"embedding":{"provider":"mock"},"vlm":{"provider":"mock"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ov-test", cfg.Storage.Root)
}
