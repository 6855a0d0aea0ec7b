// Package config loads and validates server configuration
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cortex-engine/entity-core/internal/db"
	"github.com/cortex-engine/entity-core/internal/embedding"
	"github.com/cortex-engine/entity-core/internal/embedding/provider"
	"github.com/cortex-engine/entity-core/internal/events"
	"github.com/cortex-engine/entity-core/internal/logging"
	"github.com/cortex-engine/entity-core/internal/vector"
	"github.com/cortex-engine/entity-core/internal/worker"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`             // default :8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default 15s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default 30s
	IdleTimeout     time.Duration `yaml:"idle_timeout"`     // default 60s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default 30s
}

// EmbeddingConfig selects and configures the vector provider.
type EmbeddingConfig struct {
	Provider  string                `yaml:"provider"`  // "local" or "http"
	Dimension int                   `yaml:"dimension"` // default 384
	HTTP      provider.HTTPConfig   `yaml:"http"`
	Cache     embedding.CacheConfig `yaml:"cache"`
}

// SearchConfig holds search ranking settings.
type SearchConfig struct {
	// Weights override registered per-type multipliers.
	Weights map[string]float64 `yaml:"weights,omitempty"`
	// WeightsFile, when set, is watched for live weight updates.
	WeightsFile string `yaml:"weights_file,omitempty"`
}

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig       `yaml:"server"`
	DB        db.Config          `yaml:"db"`
	Logging   logging.Config     `yaml:"logging"`
	Worker    worker.Config      `yaml:"worker"`
	Embedding EmbeddingConfig    `yaml:"embedding"`
	Search    SearchConfig       `yaml:"search"`
	Vector    vector.Config      `yaml:"vector"`
	Events    events.RedisConfig `yaml:"events"`
	Metrics   bool               `yaml:"metrics"` // expose Prometheus metrics
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		DB:      db.DefaultConfig(),
		Worker:  worker.DefaultConfig(),
		Logging: logging.Config{Level: "info", Format: "json"},
		Embedding: EmbeddingConfig{
			Provider:  "local",
			Dimension: db.EmbeddingDim,
			Cache:     embedding.DefaultCacheConfig(),
		},
		Vector:  vector.DefaultConfig(),
		Events:  events.DefaultRedisConfig(),
		Metrics: true,
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path loads defaults only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "local", "http":
	default:
		return fmt.Errorf("embedding.provider must be local or http, got %q", c.Embedding.Provider)
	}
	if c.Embedding.Provider == "http" && c.Embedding.HTTP.BaseURL == "" {
		return fmt.Errorf("embedding.http.base_url is required for the http provider")
	}
	if c.Embedding.Dimension != db.EmbeddingDim {
		return fmt.Errorf("embedding.dimension must be %d to match the schema, got %d",
			db.EmbeddingDim, c.Embedding.Dimension)
	}
	for t, w := range c.Search.Weights {
		if w <= 0 {
			return fmt.Errorf("search.weights[%s] must be positive, got %v", t, w)
		}
	}
	return nil
}

// applyEnv layers environment overrides for settings that differ per
// deployment, secrets in particular.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ENTITY_DB_HOST"); v != "" {
		cfg.DB.Host = v
	}
	if v := os.Getenv("ENTITY_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.DB.Port = port
		}
	}
	if v := os.Getenv("ENTITY_DB_NAME"); v != "" {
		cfg.DB.Database = v
	}
	if v := os.Getenv("ENTITY_DB_USER"); v != "" {
		cfg.DB.User = v
	}
	if v := os.Getenv("ENTITY_DB_PASSWORD"); v != "" {
		cfg.DB.Password = v
	}
	if v := os.Getenv("ENTITY_REDIS_PASSWORD"); v != "" {
		cfg.Events.Password = v
	}
	if v := os.Getenv("ENTITY_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.HTTP.APIKey = v
	}
	if v := os.Getenv("ENTITY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ENTITY_HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}
