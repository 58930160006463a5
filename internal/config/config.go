// Package config provides unified configuration loading for the query engine.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the query engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Normalizer    NormalizerConfig    `yaml:"normalizer"`
	Mining        MiningConfig        `yaml:"mining"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds shared cache backend settings (correction cache,
// pattern-reload pub/sub). The retrieval result cache is a separate
// in-process LRU configured under RetrievalConfig.
type CacheConfig struct {
	Driver string        `yaml:"driver"` // memory or redis
	TTL    time.Duration `yaml:"ttl"`
	Redis  RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
}

// RetrievalConfig holds retrieval engine settings.
type RetrievalConfig struct {
	MaxResults        int     `yaml:"max_results"`
	DistanceThreshold float64 `yaml:"distance_threshold"`
	CacheCapacity     int     `yaml:"cache_capacity"`
	MinContextChars   int     `yaml:"min_context_chars"`
	FallbackEnabled   bool    `yaml:"fallback_enabled"`
}

// NormalizerConfig holds normalization settings. The stage penalties feed
// the confidence accumulator; they are tunables, not contract values.
type NormalizerConfig struct {
	FuzzyThreshold         float64 `yaml:"fuzzy_threshold"`
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"`
	ContextPenalty         float64 `yaml:"context_penalty"`
	IntentPenalty          float64 `yaml:"intent_penalty"`
	HeavyRewritePenalty    float64 `yaml:"heavy_rewrite_penalty"`
	SpellCheckEnabled      bool    `yaml:"spell_check_enabled"`
}

// MiningConfig holds pattern mining settings.
type MiningConfig struct {
	MinFrequency int `yaml:"min_frequency"`
	NgramMin     int `yaml:"ngram_min"`
	NgramMax     int `yaml:"ngram_max"`
	QueueLimit   int `yaml:"queue_limit"`
	MaxExamples  int `yaml:"max_examples"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8086,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/query-engine.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Driver: "memory",
			TTL:    time.Hour,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Embedding: EmbeddingConfig{
			BaseURL:   "http://localhost:8090",
			Model:     "all-minilm-l6-v2",
			Dimension: 384,
			Timeout:   30 * time.Second,
		},
		Retrieval: RetrievalConfig{
			MaxResults:        3,
			DistanceThreshold: 0.65,
			CacheCapacity:     128,
			MinContextChars:   120,
			FallbackEnabled:   true,
		},
		Normalizer: NormalizerConfig{
			FuzzyThreshold:         0.85,
			LowConfidenceThreshold: 0.7,
			ContextPenalty:         0.85,
			IntentPenalty:          0.9,
			HeavyRewritePenalty:    0.8,
			SpellCheckEnabled:      true,
		},
		Mining: MiningConfig{
			MinFrequency: 10,
			NgramMin:     2,
			NgramMax:     5,
			QueueLimit:   1000,
			MaxExamples:  3,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "debug",
			LogFormat: "json",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Retrieval.DistanceThreshold <= 0 || c.Retrieval.DistanceThreshold > 1 {
		return fmt.Errorf("distance_threshold must be in (0, 1]: %f", c.Retrieval.DistanceThreshold)
	}

	if c.Retrieval.CacheCapacity < 1 {
		return fmt.Errorf("cache_capacity must be positive: %d", c.Retrieval.CacheCapacity)
	}

	if c.Mining.NgramMin < 1 || c.Mining.NgramMax < c.Mining.NgramMin {
		return fmt.Errorf("invalid ngram range: %d-%d", c.Mining.NgramMin, c.Mining.NgramMax)
	}

	if c.Mining.MinFrequency < 1 {
		return fmt.Errorf("min_frequency must be positive: %d", c.Mining.MinFrequency)
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("EMBEDDING_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}

	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
