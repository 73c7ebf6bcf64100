package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ROOMSCAN_OPENAI_API_KEY", "sk-test")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.SceneModel)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.ExtractModel)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.JudgeModel)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, time.Second, cfg.Poller.Interval)
	assert.Equal(t, 30, cfg.Poller.MaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Ingest.InheritWindow)
	assert.InDelta(t, 0.1, cfg.Search.SceneThreshold, 1e-9)
	assert.InDelta(t, 0.5, cfg.Search.ObjectThreshold, 1e-9)
	assert.Equal(t, 5, cfg.Search.SceneLimit)
	assert.Equal(t, 50, cfg.Search.ObjectScanWindow)
	assert.Equal(t, 5, cfg.Search.ObjectLimit)
	assert.Equal(t, 5, cfg.Search.MergeLimit)
	assert.Equal(t, 20, cfg.Search.EvidenceLabelLimit)
	assert.Equal(t, "scans.created", cfg.NATS.Subject)
	assert.Empty(t, cfg.NATS.URL)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".roomscan", "roomscan.db"), cfg.Storage.Path)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ROOMSCAN_OPENAI_API_KEY", "sk-test")
	t.Setenv("ROOMSCAN_EMBEDDING_PROVIDER", "LOCAL")
	t.Setenv("ROOMSCAN_POLLER_INTERVAL", "250ms")
	t.Setenv("ROOMSCAN_POLLER_MAX_ATTEMPTS", "4")
	t.Setenv("ROOMSCAN_STORAGE_PATH", "/tmp/scans.db")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, EmbeddingLocal, cfg.Embedding.Provider)
	assert.Equal(t, 250*time.Millisecond, cfg.Poller.Interval)
	assert.Equal(t, 4, cfg.Poller.MaxAttempts)
	assert.Equal(t, "/tmp/scans.db", cfg.Storage.Path)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roomscan.yaml")
	content := []byte("openai:\n  api_key: sk-file\nembedding:\n  provider: local\nsearch:\n  merge_limit: 3\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	v := viper.New()
	v.SetConfigFile(path)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Search.MergeLimit)
	assert.Equal(t, EmbeddingLocal, cfg.Embedding.Provider)
	assert.Equal(t, "sk-file", cfg.OpenAI.APIKey)
}

func TestLoadRequiresAPIKey(t *testing.T) {
	for _, provider := range []string{EmbeddingOpenAI, EmbeddingLocal} {
		t.Run(provider, func(t *testing.T) {
			t.Setenv("ROOMSCAN_OPENAI_API_KEY", "")
			t.Setenv("ROOMSCAN_EMBEDDING_PROVIDER", provider)

			_, err := Load(viper.New())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), "openai.api_key is required")
		})
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("ROOMSCAN_EMBEDDING_PROVIDER", "local")
	t.Setenv("ROOMSCAN_OPENAI_API_KEY", "sk-test")

	valid := func() *Config {
		cfg, err := Load(viper.New())
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantMsg string
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, "unknown storage.driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = DriverPostgres }, "storage.dsn is required"},
		{"openai embeddings without key", func(c *Config) { c.Embedding.Provider = EmbeddingOpenAI; c.OpenAI.APIKey = "" }, "openai.api_key is required"},
		{"local embeddings without key", func(c *Config) { c.OpenAI.APIKey = "" }, "openai.api_key is required"},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "jina" }, "unknown embedding.provider"},
		{"zero interval", func(c *Config) { c.Poller.Interval = 0 }, "poller.interval"},
		{"zero attempts", func(c *Config) { c.Poller.MaxAttempts = 0 }, "poller.max_attempts"},
		{"threshold out of range", func(c *Config) { c.Search.ObjectThreshold = 1.5 }, "search.object_threshold"},
		{"zero merge limit", func(c *Config) { c.Search.MergeLimit = 0 }, "search.merge_limit"},
		{"nats without subject", func(c *Config) { c.NATS.URL = "nats://localhost:4222"; c.NATS.Subject = "" }, "nats.subject"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/x/y.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x", "y.db"), got)

	got, err = ExpandPath("/abs/path.db")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path.db", got)

	got, err = ExpandPath(":memory:")
	require.NoError(t, err)
	assert.Equal(t, ":memory:", got)
}
