package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KidneyMatch/internal/config"
)

func validConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestConfig_Validate_DefaultsAreValid(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestConfig_Validate_Failures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"port", func(c *config.Config) { c.Server.Port = 70000 }, "server.port"},
		{"mode", func(c *config.Config) { c.Server.Mode = "prod" }, "server.mode"},
		{"log level", func(c *config.Config) { c.Log.Level = "trace" }, "log.level"},
		{"log format", func(c *config.Config) { c.Log.Format = "xml" }, "log.format"},
		{"redis mode", func(c *config.Config) { c.Redis.Enabled = true; c.Redis.Mode = "ring" }, "redis.mode"},
		{"redis cluster addrs", func(c *config.Config) { c.Redis.Enabled = true; c.Redis.Mode = "cluster" }, "redis.addrs"},
		{"scorer url", func(c *config.Config) { c.Scorer.BaseURL = "" }, "scorer.base_url"},
		{"models file", func(c *config.Config) { c.Models.Source = "file" }, "models.file"},
		{"reference source", func(c *config.Config) { c.Reference.Source = "ftp" }, "reference.source"},
		{"reference minio", func(c *config.Config) { c.Reference.Source = "minio" }, "minio.endpoint"},
		{"reference http", func(c *config.Config) { c.Reference.Source = "http" }, "reference.base_url"},
		{"sample size", func(c *config.Config) { c.Scoring.SampleSize = -1 }, "scoring.sample_size"},
		{"breaker threshold", func(c *config.Config) { c.Scoring.BreakerThreshold = -1 }, "scoring.breaker_threshold"},
		{"percentiles", func(c *config.Config) { c.Similarity.LowerPercentile = 80 }, "percentiles"},
		{"similarity mode", func(c *config.Config) { c.Similarity.Mode = "cosine" }, "similarity.mode"},
		{"embedding backend", func(c *config.Config) { c.Embedding.Backend = "umap" }, "embedding.backend"},
		{"embedding http", func(c *config.Config) { c.Embedding.Backend = "http" }, "embedding.base_url"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestServerConfig_Addr(t *testing.T) {
	assert.Equal(t, "0.0.0.0:9090", config.ServerConfig{Host: "0.0.0.0", Port: 9090}.Addr())
}
