package common

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrometheusIntelligenceMetrics_Success(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewPrometheusIntelligenceMetrics(registry)
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestNewPrometheusIntelligenceMetrics_DuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewPrometheusIntelligenceMetrics(registry)
	require.NoError(t, err)

	_, err = NewPrometheusIntelligenceMetrics(registry)
	assert.Error(t, err)
}

func TestPrometheus_RecordInference(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewPrometheusIntelligenceMetrics(registry)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordInference(ctx, &InferenceMetricParams{ModelID: "bos-baseline", Role: "baseline", DurationMs: 12, Success: true, BatchSize: 10})
	m.RecordInference(ctx, &InferenceMetricParams{ModelID: "bos-baseline", Role: "baseline", DurationMs: 30, Success: false, BatchSize: 10})

	pm := m.(*prometheusIntelligenceMetrics)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.inferenceTotal.WithLabelValues("bos-baseline", "baseline", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.inferenceTotal.WithLabelValues("bos-baseline", "baseline", "failure")))

	stats := m.GetCurrentStats()
	assert.Equal(t, int64(2), stats.TotalInferences)
	assert.Equal(t, int64(1), stats.FailedInferences)
	assert.InDelta(t, 21.0, stats.AvgInferenceLatencyMs, 1e-9)
}

func TestPrometheus_RecordPredictionRun(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewPrometheusIntelligenceMetrics(registry)
	require.NoError(t, err)

	m.RecordPredictionRun(context.Background(), &RunMetricParams{Records: 2, ModelsScored: 1, ModelsSkipped: 1})
	m.RecordPredictionRun(context.Background(), &RunMetricParams{Records: 2, NothingSucceeded: true})

	pm := m.(*prometheusIntelligenceMetrics)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.runTotal.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.runTotal.WithLabelValues("nothing_succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.runModelsSkipped))
	assert.Equal(t, int64(2), m.GetCurrentStats().PredictionRuns)
}

func TestPrometheus_CacheHitRate(t *testing.T) {
	m, err := NewPrometheusIntelligenceMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordCacheAccess(ctx, true, "reference")
	m.RecordCacheAccess(ctx, true, "reference")
	m.RecordCacheAccess(ctx, false, "embedding")
	m.RecordCacheAccess(ctx, false, "embedding")

	assert.InDelta(t, 0.5, m.GetCurrentStats().CacheHitRate, 1e-9)
}

func TestInMemory_RecordsEverything(t *testing.T) {
	m := NewInMemoryIntelligenceMetrics()
	ctx := context.Background()

	m.RecordInference(ctx, &InferenceMetricParams{ModelID: "la-facility", DurationMs: 100, Success: true})
	m.RecordModelLoad(ctx, "file", 4, 3, true)
	m.RecordCircuitBreakerStateChange(ctx, "scorer", "closed", "open")
	m.RecordCacheAccess(ctx, false, "reference")

	require.Len(t, m.Inferences(), 1)
	assert.Equal(t, "la-facility", m.Inferences()[0].ModelID)
	require.Len(t, m.ModelLoads(), 1)
	assert.Equal(t, 4, m.ModelLoads()[0].Models)
	assert.Equal(t, "open", m.CircuitBreakerStates()["scorer"])
	hits, misses := m.CacheCounts()
	assert.Equal(t, int64(0), hits)
	assert.Equal(t, int64(1), misses)
}

func TestNoop_AllMethods_NoPanic(t *testing.T) {
	m := NewNoopIntelligenceMetrics()
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordInference(ctx, &InferenceMetricParams{})
		m.RecordBatchProcessing(ctx, &BatchMetricParams{})
		m.RecordCacheAccess(ctx, true, "reference")
		m.RecordCircuitBreakerStateChange(ctx, "scorer", "closed", "open")
		m.RecordPredictionRun(ctx, &RunMetricParams{})
		m.RecordModelLoad(ctx, "scorer", 1, 100, true)
		m.GetInferenceLatencyHistogram()
		m.GetCurrentStats()
	})
}

func TestLatencyHistogram_Percentile(t *testing.T) {
	h := newLatencyHistogram()
	assert.Zero(t, h.Percentile(50))

	for i := 1; i <= 100; i++ {
		h.Observe(float64(i))
	}
	assert.Equal(t, int64(100), h.Count())
	assert.Equal(t, 5050.0, h.Sum())
	assert.Equal(t, 1.0, h.Percentile(0))
	assert.Equal(t, 100.0, h.Percentile(100))

	p50 := h.Percentile(50)
	p95 := h.Percentile(95)
	assert.InDelta(t, 50, p50, 1)
	assert.InDelta(t, 95, p95, 1)
	assert.LessOrEqual(t, p50, p95)
}
