package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultServerPort = 8080
	DefaultServerMode = "release"

	DefaultRedisMode = "standalone"
	DefaultRedisAddr = "localhost:6379"

	DefaultScorerURL = "http://localhost:5000"

	DefaultReferenceDir = "data/reference"

	DefaultSampleSize     = 10
	DefaultBatchSize      = 10
	DefaultMaxConcurrency = 8

	DefaultLowerPercentile = 30
	DefaultUpperPercentile = 70
	DefaultTopK            = 10
	DefaultRejectedK       = 5

	DefaultEmbeddingMaxPoints = 5000

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMetricsNamespace = "kidneymatch"
)

// DefaultExcludedFeatures are the derived fields the hybridizer never demands
// from the target record.
var DefaultExcludedFeatures = []string{"time_on_dialysis", "time_since_gfr_less_than_20"}

// DefaultReferenceFiles maps each region to its reference CSV.
var DefaultReferenceFiles = map[string]string{
	"baltimore": "baltimore_reference.csv",
	"boston":    "boston_reference.csv",
	"la":        "la_reference.csv",
}

// ApplyDefaults fills every zero-value field in cfg with the service default.
// Explicitly configured values are left unchanged.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Prediction runs fan out to the scorer and can take minutes.
		cfg.Server.WriteTimeout = 5 * time.Minute
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = 10 << 20
	}
	if cfg.Server.CORSOrigins == nil {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Server.RateLimit.RequestsPerSecond > 0 && cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = int(cfg.Server.RateLimit.RequestsPerSecond * 2)
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Mode == "" {
		cfg.Redis.Mode = DefaultRedisMode
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "kmatch:"
	}
	if cfg.Redis.DefaultTTL == 0 {
		cfg.Redis.DefaultTTL = time.Hour
	}

	// ── Scorer ────────────────────────────────────────────────────────────────
	if cfg.Scorer.BaseURL == "" {
		cfg.Scorer.BaseURL = DefaultScorerURL
	}
	if cfg.Scorer.Timeout == 0 {
		cfg.Scorer.Timeout = 30 * time.Second
	}
	if cfg.Scorer.MaxRetries == 0 {
		cfg.Scorer.MaxRetries = 1
	}
	if cfg.Scorer.RetryWait == 0 {
		cfg.Scorer.RetryWait = 500 * time.Millisecond
	}
	if cfg.Scorer.MaxIdleConns == 0 {
		cfg.Scorer.MaxIdleConns = 32
	}

	// ── Models ────────────────────────────────────────────────────────────────
	if cfg.Models.Source == "" {
		cfg.Models.Source = "scorer"
	}

	// ── Reference ─────────────────────────────────────────────────────────────
	if cfg.Reference.Source == "" {
		cfg.Reference.Source = "file"
	}
	if cfg.Reference.Dir == "" {
		cfg.Reference.Dir = DefaultReferenceDir
	}
	if len(cfg.Reference.Files) == 0 {
		cfg.Reference.Files = make(map[string]string, len(DefaultReferenceFiles))
		for k, v := range DefaultReferenceFiles {
			cfg.Reference.Files[k] = v
		}
	}
	if cfg.Reference.CacheTTL == 0 {
		cfg.Reference.CacheTTL = 24 * time.Hour
	}
	if cfg.Reference.Timeout == 0 {
		cfg.Reference.Timeout = time.Minute
	}

	// ── Scoring ───────────────────────────────────────────────────────────────
	if cfg.Scoring.SampleSize == 0 {
		cfg.Scoring.SampleSize = DefaultSampleSize
	}
	if cfg.Scoring.BatchSize == 0 {
		cfg.Scoring.BatchSize = DefaultBatchSize
	}
	if cfg.Scoring.MaxConcurrency == 0 {
		cfg.Scoring.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Scoring.ExcludedFeatures == nil {
		cfg.Scoring.ExcludedFeatures = append([]string(nil), DefaultExcludedFeatures...)
	}
	if cfg.Scoring.BatchTimeout == 0 {
		cfg.Scoring.BatchTimeout = 30 * time.Second
	}
	if cfg.Scoring.BreakerThreshold > 0 && cfg.Scoring.BreakerCooldown == 0 {
		cfg.Scoring.BreakerCooldown = 30 * time.Second
	}

	// ── Similarity ────────────────────────────────────────────────────────────
	if cfg.Similarity.LowerPercentile == 0 && cfg.Similarity.UpperPercentile == 0 {
		cfg.Similarity.LowerPercentile = DefaultLowerPercentile
		cfg.Similarity.UpperPercentile = DefaultUpperPercentile
	}
	if cfg.Similarity.Mode == "" {
		cfg.Similarity.Mode = "standardized"
	}
	if cfg.Similarity.TopK == 0 {
		cfg.Similarity.TopK = DefaultTopK
	}
	if cfg.Similarity.RejectedK == 0 {
		cfg.Similarity.RejectedK = DefaultRejectedK
	}

	// ── Embedding ─────────────────────────────────────────────────────────────
	if cfg.Embedding.Backend == "" {
		cfg.Embedding.Backend = "pca"
	}
	if cfg.Embedding.MaxPoints == 0 {
		cfg.Embedding.MaxPoints = DefaultEmbeddingMaxPoints
	}
	if cfg.Embedding.CacheTTL == 0 {
		cfg.Embedding.CacheTTL = 6 * time.Hour
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 2 * time.Minute
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}
