// Package config defines the configuration structures for the KidneyMatch
// service.  No I/O or parsing logic lives here, only plain data types and
// validation.
package config

import (
	"fmt"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// CORSOrigins lists the browser origins allowed to call the API; "*"
	// allows any.
	CORSOrigins []string        `mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RateLimitConfig throttles the compute-heavy endpoints per client.  A zero
// rate disables throttling.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level       string   `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format      string   `mapstructure:"format"` // "json" | "console"
	OutputPaths []string `mapstructure:"output_paths"`
}

// RedisConfig holds Redis connection parameters.  Redis is optional: when
// disabled, reference populations and embeddings are cached in process only.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Mode         string        `mapstructure:"mode"` // "standalone" | "sentinel" | "cluster"
	Addr         string        `mapstructure:"addr"`
	Addrs        []string      `mapstructure:"addrs"`
	MasterName   string        `mapstructure:"master_name"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
	TLSEnabled   bool          `mapstructure:"tls_enabled"`
	TLSCAFile    string        `mapstructure:"tls_ca_file"`
	TLSInsecure  bool          `mapstructure:"tls_insecure"`
}

// MinIOConfig holds MinIO / S3-compatible object-storage parameters used when
// reference CSVs live in a bucket.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

// ScorerConfig describes the external model-serving endpoint.
type ScorerConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryWait    time.Duration `mapstructure:"retry_wait"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
}

// ModelsConfig selects where model descriptors come from.
type ModelsConfig struct {
	Source string `mapstructure:"source"` // "scorer" | "file"
	File   string `mapstructure:"file"`
}

// ReferenceConfig selects and tunes the reference-data source.
type ReferenceConfig struct {
	Source   string            `mapstructure:"source"` // "file" | "minio" | "http"
	Dir      string            `mapstructure:"dir"`
	BaseURL  string            `mapstructure:"base_url"`
	Files    map[string]string `mapstructure:"files"`
	CacheTTL time.Duration     `mapstructure:"cache_ttl"`
	Timeout  time.Duration     `mapstructure:"timeout"`
}

// ScoringConfig tunes the hybrid sampling pipeline.
type ScoringConfig struct {
	SampleSize       int           `mapstructure:"sample_size"`
	BatchSize        int           `mapstructure:"batch_size"`
	MaxConcurrency   int           `mapstructure:"max_concurrency"`
	ExcludedFeatures []string      `mapstructure:"excluded_features"`
	Seed             int64         `mapstructure:"seed"`
	BatchTimeout     time.Duration `mapstructure:"batch_timeout"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

// SimilarityConfig tunes the normalizer and ranker.
type SimilarityConfig struct {
	LowerPercentile float64 `mapstructure:"lower_percentile"`
	UpperPercentile float64 `mapstructure:"upper_percentile"`
	Mode            string  `mapstructure:"mode"` // "raw" | "standardized"
	TopK            int     `mapstructure:"top_k"`
	RejectedK       int     `mapstructure:"rejected_k"`
}

// EmbeddingConfig selects the 2-D embedder.
type EmbeddingConfig struct {
	Backend   string        `mapstructure:"backend"` // "pca" | "http"
	BaseURL   string        `mapstructure:"base_url"`
	MaxPoints int           `mapstructure:"max_points"`
	Seed      int64         `mapstructure:"seed"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	Scorer     ScorerConfig     `mapstructure:"scorer"`
	Models     ModelsConfig     `mapstructure:"models"`
	Reference  ReferenceConfig  `mapstructure:"reference"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Similarity SimilarityConfig `mapstructure:"similarity"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config and
// returns the first error encountered.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	if c.Redis.Enabled {
		switch c.Redis.Mode {
		case "standalone":
			if c.Redis.Addr == "" {
				return fmt.Errorf("config: redis.addr is required in standalone mode")
			}
		case "sentinel":
			if c.Redis.MasterName == "" || len(c.Redis.Addrs) == 0 {
				return fmt.Errorf("config: redis.master_name and redis.addrs are required in sentinel mode")
			}
		case "cluster":
			if len(c.Redis.Addrs) == 0 {
				return fmt.Errorf("config: redis.addrs is required in cluster mode")
			}
		default:
			return fmt.Errorf("config: redis.mode %q is invalid; expected standalone|sentinel|cluster", c.Redis.Mode)
		}
	}

	if c.Scorer.BaseURL == "" {
		return fmt.Errorf("config: scorer.base_url is required")
	}

	switch c.Models.Source {
	case "scorer":
	case "file":
		if c.Models.File == "" {
			return fmt.Errorf("config: models.file is required when models.source is file")
		}
	default:
		return fmt.Errorf("config: models.source %q is invalid; expected scorer|file", c.Models.Source)
	}

	switch c.Reference.Source {
	case "file":
		if c.Reference.Dir == "" {
			return fmt.Errorf("config: reference.dir is required when reference.source is file")
		}
	case "minio":
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
			return fmt.Errorf("config: minio.endpoint and minio.bucket are required when reference.source is minio")
		}
	case "http":
		if c.Reference.BaseURL == "" {
			return fmt.Errorf("config: reference.base_url is required when reference.source is http")
		}
	default:
		return fmt.Errorf("config: reference.source %q is invalid; expected file|minio|http", c.Reference.Source)
	}

	if c.Scoring.SampleSize < 1 {
		return fmt.Errorf("config: scoring.sample_size must be ≥ 1, got %d", c.Scoring.SampleSize)
	}
	if c.Scoring.BatchSize < 1 {
		return fmt.Errorf("config: scoring.batch_size must be ≥ 1, got %d", c.Scoring.BatchSize)
	}
	if c.Scoring.MaxConcurrency < 1 {
		return fmt.Errorf("config: scoring.max_concurrency must be ≥ 1, got %d", c.Scoring.MaxConcurrency)
	}
	if c.Scoring.BreakerThreshold < 0 {
		return fmt.Errorf("config: scoring.breaker_threshold must be ≥ 0, got %d", c.Scoring.BreakerThreshold)
	}

	lo, hi := c.Similarity.LowerPercentile, c.Similarity.UpperPercentile
	if lo < 0 || hi > 100 || lo >= hi {
		return fmt.Errorf("config: similarity percentiles must satisfy 0 ≤ lower < upper ≤ 100, got %v/%v", lo, hi)
	}
	switch c.Similarity.Mode {
	case "raw", "standardized":
	default:
		return fmt.Errorf("config: similarity.mode %q is invalid; expected raw|standardized", c.Similarity.Mode)
	}

	switch c.Embedding.Backend {
	case "pca":
	case "http":
		if c.Embedding.BaseURL == "" {
			return fmt.Errorf("config: embedding.base_url is required when embedding.backend is http")
		}
	default:
		return fmt.Errorf("config: embedding.backend %q is invalid; expected pca|http", c.Embedding.Backend)
	}
	if c.Embedding.MaxPoints < 2 {
		return fmt.Errorf("config: embedding.max_points must be ≥ 2, got %d", c.Embedding.MaxPoints)
	}

	return nil
}
