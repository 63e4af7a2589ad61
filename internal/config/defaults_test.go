package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, DefaultSampleSize, cfg.Scoring.SampleSize)
	assert.Equal(t, DefaultBatchSize, cfg.Scoring.BatchSize)
	assert.Equal(t, []string{"time_on_dialysis", "time_since_gfr_less_than_20"}, cfg.Scoring.ExcludedFeatures)
	assert.Equal(t, float64(30), cfg.Similarity.LowerPercentile)
	assert.Equal(t, float64(70), cfg.Similarity.UpperPercentile)
	assert.Equal(t, DefaultEmbeddingMaxPoints, cfg.Embedding.MaxPoints)
	assert.Equal(t, "boston_reference.csv", cfg.Reference.Files["boston"])
	assert.Equal(t, 30*time.Second, cfg.Scoring.BatchTimeout)
	assert.Zero(t, cfg.Scoring.BreakerCooldown, "the breaker stays off unless a threshold is set")
}

func TestApplyDefaults_BreakerCooldown(t *testing.T) {
	cfg := &Config{}
	cfg.Scoring.BreakerThreshold = 3
	ApplyDefaults(cfg)
	assert.Equal(t, 30*time.Second, cfg.Scoring.BreakerCooldown)
}

func TestApplyDefaults_PreserveExistingValues(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 9999
	cfg.Scoring.SampleSize = 50
	cfg.Scoring.ExcludedFeatures = []string{}
	cfg.Reference.Files = map[string]string{"boston": "bos.csv"}

	ApplyDefaults(cfg)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Scoring.SampleSize)
	assert.Empty(t, cfg.Scoring.ExcludedFeatures, "an explicit empty list disables exclusions")
	assert.Equal(t, map[string]string{"boston": "bos.csv"}, cfg.Reference.Files)
}

func TestApplyDefaults_DoesNotShareDefaultSlices(t *testing.T) {
	a, b := &Config{}, &Config{}
	ApplyDefaults(a)
	ApplyDefaults(b)

	a.Scoring.ExcludedFeatures[0] = "mutated"
	a.Reference.Files["boston"] = "mutated.csv"

	assert.Equal(t, "time_on_dialysis", b.Scoring.ExcludedFeatures[0])
	assert.Equal(t, "boston_reference.csv", b.Reference.Files["boston"])
}

func TestApplyDefaults_Nil(t *testing.T) {
	assert.NotPanics(t, func() { ApplyDefaults(nil) })
}
