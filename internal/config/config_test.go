package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8086, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, "all-minilm-l6-v2", cfg.Embedding.Model)
	assert.Equal(t, 384, cfg.Embedding.Dimension)
	assert.Equal(t, 0.65, cfg.Retrieval.DistanceThreshold)
	assert.Equal(t, 128, cfg.Retrieval.CacheCapacity)
	assert.True(t, cfg.Retrieval.FallbackEnabled)
	assert.Equal(t, 0.85, cfg.Normalizer.FuzzyThreshold)
	assert.Equal(t, 0.7, cfg.Normalizer.LowConfidenceThreshold)
	assert.Equal(t, 10, cfg.Mining.MinFrequency)
	assert.Equal(t, 2, cfg.Mining.NgramMin)
	assert.Equal(t, 5, cfg.Mining.NgramMax)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: 9090
database:
  driver: postgres
  postgres:
    dsn: postgres://localhost/vidya
retrieval:
  max_results: 3
normalizer:
  fuzzy_threshold: 0.9
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Retrieval.MaxResults)
	assert.Equal(t, 0.9, cfg.Normalizer.FuzzyThreshold)
	// Untouched fields keep their defaults.
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, 0.65, cfg.Retrieval.DistanceThreshold)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("SERVER_HOST", "127.0.0.1")
	t.Setenv("DATABASE_URL", "postgres://db.internal/vidya")
	t.Setenv("REDIS_URL", "redis://cache.internal:6379")
	t.Setenv("EMBEDDING_URL", "http://embed.internal:8090")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://db.internal/vidya", cfg.Database.Postgres.DSN)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, "cache.internal:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, "http://embed.internal:8090", cfg.Embedding.BaseURL)
	assert.Equal(t, "warn", cfg.Observability.LogLevel)
}

func TestEnvOverrideSQLite(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite:/var/lib/vidya/qe.db")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/var/lib/vidya/qe.db", cfg.Database.SQLite.Path)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(c *Config) {}, false},
		{"zero port", func(c *Config) { c.Server.Port = 0 }, true},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, true},
		{"bad database driver", func(c *Config) { c.Database.Driver = "mysql" }, true},
		{"bad cache driver", func(c *Config) { c.Cache.Driver = "disk" }, true},
		{"zero distance threshold", func(c *Config) { c.Retrieval.DistanceThreshold = 0 }, true},
		{"threshold above one", func(c *Config) { c.Retrieval.DistanceThreshold = 1.5 }, true},
		{"zero cache capacity", func(c *Config) { c.Retrieval.CacheCapacity = 0 }, true},
		{"inverted ngram range", func(c *Config) { c.Mining.NgramMin = 4; c.Mining.NgramMax = 2 }, true},
		{"zero min frequency", func(c *Config) { c.Mining.MinFrequency = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, cfg.Database.SQLite.Path, cfg.DatabaseDSN())

	cfg.Database.Driver = "postgres"
	cfg.Database.Postgres.DSN = "postgres://localhost/vidya"
	assert.Equal(t, "postgres://localhost/vidya", cfg.DatabaseDSN())
}
