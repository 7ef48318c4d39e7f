package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 384, cfg.Embedding.Dims)
	assert.Equal(t, "sqlite", cfg.Vector.Backend)
	assert.Equal(t, "*/15 * * * *", cfg.Retention.Cron)
	assert.Equal(t, []string{"/", "/manifest.json", "/offline.html", "/icon.svg"}, cfg.Offline.Manifest)
	assert.Equal(t, "aangan.db", filepath.Base(cfg.DB.Path))
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aangan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db:
  path: /tmp/courtyard.db
embedding:
  provider: ollama
  dims: 768
vector:
  backend: qdrant
  collection: courtyard
log:
  level: debug
`), 0o644))
	t.Setenv("AANGAN_HTTP_ADDR", ":9090")
	t.Setenv("AANGAN_EMBEDDING_DIMS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/courtyard.db", cfg.DB.Path)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, 3, cfg.Embedding.Dims, "env overrides file")
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "courtyard", cfg.Vector.Collection)
	assert.Equal(t, 6334, cfg.Vector.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero dims", func(c *Config) { c.Embedding.Dims = 0 }, "embedding.dims"},
		{"bad backend", func(c *Config) { c.Vector.Backend = "faiss" }, "vector.backend"},
		{"bad provider", func(c *Config) { c.Embedding.Provider = "word2vec" }, "embedding.provider"},
		{"bad cron", func(c *Config) { c.Retention.Cron = "every tuesday" }, "retention.cron"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Check()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCheckIgnoresCronWhenDisabled(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Retention.Enabled = false
	cfg.Retention.Cron = "nonsense"
	assert.NoError(t, cfg.Check())
}

func TestValidateWarnings(t *testing.T) {
	cfg := &Config{
		Embedding: EmbeddingConfig{Provider: "openai", Dims: 3},
		Vector:    VectorConfig{Backend: "sqlite", Overfetch: 50},
	}
	warnings := cfg.Validate()
	assert.Len(t, warnings, 3)

	ok, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, ok.Validate())
}
