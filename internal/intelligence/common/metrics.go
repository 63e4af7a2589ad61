package common

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/prometheus/client_golang/prometheus"
)

// ---------------------------------------------------------------------------
// Interfaces
// ---------------------------------------------------------------------------

// IntelligenceMetrics is the telemetry API of the scoring layer.  The
// scorer client, batch dispatcher, model registry and caches all report
// through it so the backend (Prometheus, in-memory, noop) can be swapped
// without touching business code.
type IntelligenceMetrics interface {
	// RecordInference records one scorer call for a chunk of hybrids.
	RecordInference(ctx context.Context, params *InferenceMetricParams)

	// RecordBatchProcessing records one BatchProcessor.Process run.
	RecordBatchProcessing(ctx context.Context, params *BatchMetricParams)

	// RecordCacheAccess records a hit or miss against the named cache.
	RecordCacheAccess(ctx context.Context, hit bool, cacheName string)

	RecordCircuitBreakerStateChange(ctx context.Context, name string, fromState, toState string)

	// RecordPredictionRun records the outcome of a whole prediction run.
	RecordPredictionRun(ctx context.Context, params *RunMetricParams)

	// RecordModelLoad records loading the model catalog from source.
	RecordModelLoad(ctx context.Context, source string, models int, durationMs float64, success bool)

	GetInferenceLatencyHistogram() LatencyHistogram
	GetCurrentStats() *IntelligenceStats
}

// LatencyHistogram provides percentile-based latency observation.
type LatencyHistogram interface {
	// Observe records a latency sample in milliseconds.
	Observe(durationMs float64)

	// Percentile returns the value at the given percentile (0–100).
	Percentile(p float64) float64

	Count() int64
	Sum() float64
}

// ---------------------------------------------------------------------------
// Parameter structs
// ---------------------------------------------------------------------------

// InferenceMetricParams describes one scorer call.
type InferenceMetricParams struct {
	ModelID    string  `json:"model_id"`
	Role       string  `json:"role"`
	Region     string  `json:"region,omitempty"`
	DurationMs float64 `json:"duration_ms"`
	Success    bool    `json:"success"`
	BatchSize  int     `json:"batch_size"`
}

// BatchMetricParams carries the data for a batch processing event.
type BatchMetricParams struct {
	BatchName         string  `json:"batch_name"`
	TotalItems        int     `json:"total_items"`
	SuccessItems      int     `json:"success_items"`
	FailedItems       int     `json:"failed_items"`
	CancelledItems    int     `json:"cancelled_items"`
	TotalDurationMs   float64 `json:"total_duration_ms"`
	AvgItemDurationMs float64 `json:"avg_item_duration_ms"`
	MaxConcurrency    int     `json:"max_concurrency"`
}

// RunMetricParams summarises a prediction run.
type RunMetricParams struct {
	Records          int     `json:"records"`
	ModelsScored     int     `json:"models_scored"`
	ModelsSkipped    int     `json:"models_skipped"`
	NothingSucceeded bool    `json:"nothing_succeeded"`
	Cancelled        bool    `json:"cancelled"`
	DurationMs       float64 `json:"duration_ms"`
}

// IntelligenceStats is a point-in-time snapshot of scoring-layer metrics.
type IntelligenceStats struct {
	TotalInferences       int64             `json:"total_inferences"`
	SuccessfulInferences  int64             `json:"successful_inferences"`
	FailedInferences      int64             `json:"failed_inferences"`
	AvgInferenceLatencyMs float64           `json:"avg_inference_latency_ms"`
	P50LatencyMs          float64           `json:"p50_latency_ms"`
	P95LatencyMs          float64           `json:"p95_latency_ms"`
	P99LatencyMs          float64           `json:"p99_latency_ms"`
	CacheHitRate          float64           `json:"cache_hit_rate"`
	PredictionRuns        int64             `json:"prediction_runs"`
	CircuitBreakerStates  map[string]string `json:"circuit_breaker_states"`
}

// ---------------------------------------------------------------------------
// Prometheus implementation
// ---------------------------------------------------------------------------

const metricsPrefix = "kidneymatch_intelligence_"

var defaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

type prometheusIntelligenceMetrics struct {
	inferenceLatency        *prometheus.HistogramVec
	inferenceTotal          *prometheus.CounterVec
	batchProcessingDuration *prometheus.HistogramVec
	batchItemsTotal         *prometheus.CounterVec
	cacheAccessTotal        *prometheus.CounterVec
	circuitBreakerState     *prometheus.GaugeVec
	runTotal                *prometheus.CounterVec
	runDuration             prometheus.Histogram
	runModelsSkipped        prometheus.Counter
	modelLoadDuration       *prometheus.HistogramVec
	modelsLoaded            prometheus.Gauge

	latencyHist *latencyHistogram
	totalInf    atomic.Int64
	successInf  atomic.Int64
	failedInf   atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	runs        atomic.Int64
	cbStates    sync.Map // breaker name -> state string
}

// NewPrometheusIntelligenceMetrics creates a Prometheus-backed collector and
// registers every series with registerer (the default registerer when nil).
func NewPrometheusIntelligenceMetrics(registerer prometheus.Registerer) (IntelligenceMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &prometheusIntelligenceMetrics{
		latencyHist: newLatencyHistogram(),
	}

	m.inferenceLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricsPrefix + "scorer_call_duration_milliseconds",
		Help:    "Latency of scorer calls in milliseconds.",
		Buckets: defaultLatencyBuckets,
	}, []string{"model_id", "role"})

	m.inferenceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "scorer_calls_total",
		Help: "Scorer calls by model and outcome.",
	}, []string{"model_id", "role", "status"})

	m.batchProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricsPrefix + "batch_processing_duration_milliseconds",
		Help:    "Duration of batch dispatch runs in milliseconds.",
		Buckets: defaultLatencyBuckets,
	}, []string{"batch_name"})

	m.batchItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "batch_items_total",
		Help: "Items processed by the batch dispatcher.",
	}, []string{"batch_name", "status"})

	m.cacheAccessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "cache_access_total",
		Help: "Cache lookups by cache and result.",
	}, []string{"cache", "result"})

	m.circuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: metricsPrefix + "circuit_breaker_state",
		Help: "Current circuit breaker state (0=closed, 1=half_open, 2=open).",
	}, []string{"breaker"})

	m.runTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "prediction_runs_total",
		Help: "Prediction runs by outcome.",
	}, []string{"outcome"})

	m.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    metricsPrefix + "prediction_run_duration_milliseconds",
		Help:    "Duration of prediction runs in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(10, 2.5, 10),
	})

	m.runModelsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricsPrefix + "models_skipped_total",
		Help: "Models skipped for missing features.",
	})

	m.modelLoadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricsPrefix + "model_load_duration_milliseconds",
		Help:    "Duration of model catalog loads in milliseconds.",
		Buckets: defaultLatencyBuckets,
	}, []string{"source", "status"})

	m.modelsLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: metricsPrefix + "models_loaded",
		Help: "Number of models in the active catalog.",
	})

	collectors := []prometheus.Collector{
		m.inferenceLatency,
		m.inferenceTotal,
		m.batchProcessingDuration,
		m.batchItemsTotal,
		m.cacheAccessTotal,
		m.circuitBreakerState,
		m.runTotal,
		m.runDuration,
		m.runModelsSkipped,
		m.modelLoadDuration,
		m.modelsLoaded,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *prometheusIntelligenceMetrics) RecordInference(_ context.Context, p *InferenceMetricParams) {
	if p == nil {
		return
	}
	status := "success"
	if !p.Success {
		status = "failure"
	}

	m.inferenceLatency.WithLabelValues(p.ModelID, p.Role).Observe(p.DurationMs)
	m.inferenceTotal.WithLabelValues(p.ModelID, p.Role, status).Inc()

	m.latencyHist.Observe(p.DurationMs)
	m.totalInf.Add(1)
	if p.Success {
		m.successInf.Add(1)
	} else {
		m.failedInf.Add(1)
	}
}

func (m *prometheusIntelligenceMetrics) RecordBatchProcessing(_ context.Context, p *BatchMetricParams) {
	if p == nil {
		return
	}
	m.batchProcessingDuration.WithLabelValues(p.BatchName).Observe(p.TotalDurationMs)
	m.batchItemsTotal.WithLabelValues(p.BatchName, "success").Add(float64(p.SuccessItems))
	m.batchItemsTotal.WithLabelValues(p.BatchName, "failed").Add(float64(p.FailedItems))
	m.batchItemsTotal.WithLabelValues(p.BatchName, "cancelled").Add(float64(p.CancelledItems))
}

func (m *prometheusIntelligenceMetrics) RecordCacheAccess(_ context.Context, hit bool, cacheName string) {
	result := "miss"
	if hit {
		result = "hit"
		m.cacheHits.Add(1)
	} else {
		m.cacheMisses.Add(1)
	}
	m.cacheAccessTotal.WithLabelValues(cacheName, result).Inc()
}

func (m *prometheusIntelligenceMetrics) RecordCircuitBreakerStateChange(_ context.Context, name string, _, toState string) {
	m.cbStates.Store(name, toState)
	m.circuitBreakerState.WithLabelValues(name).Set(circuitBreakerStateToFloat(toState))
}

func (m *prometheusIntelligenceMetrics) RecordPredictionRun(_ context.Context, p *RunMetricParams) {
	if p == nil {
		return
	}
	m.runs.Add(1)
	m.runTotal.WithLabelValues(runOutcome(p)).Inc()
	m.runDuration.Observe(p.DurationMs)
	m.runModelsSkipped.Add(float64(p.ModelsSkipped))
}

func (m *prometheusIntelligenceMetrics) RecordModelLoad(_ context.Context, source string, models int, durationMs float64, success bool) {
	status := "success"
	if !success {
		status = "failure"
	} else {
		m.modelsLoaded.Set(float64(models))
	}
	m.modelLoadDuration.WithLabelValues(source, status).Observe(durationMs)
}

func (m *prometheusIntelligenceMetrics) GetInferenceLatencyHistogram() LatencyHistogram {
	return m.latencyHist
}

func (m *prometheusIntelligenceMetrics) GetCurrentStats() *IntelligenceStats {
	total := m.totalInf.Load()

	var avgLatency float64
	if total > 0 {
		avgLatency = m.latencyHist.Sum() / float64(total)
	}

	cbStates := make(map[string]string)
	m.cbStates.Range(func(key, value any) bool {
		cbStates[key.(string)] = value.(string)
		return true
	})

	return &IntelligenceStats{
		TotalInferences:       total,
		SuccessfulInferences:  m.successInf.Load(),
		FailedInferences:      m.failedInf.Load(),
		AvgInferenceLatencyMs: avgLatency,
		P50LatencyMs:          m.latencyHist.Percentile(50),
		P95LatencyMs:          m.latencyHist.Percentile(95),
		P99LatencyMs:          m.latencyHist.Percentile(99),
		CacheHitRate:          hitRate(m.cacheHits.Load(), m.cacheMisses.Load()),
		PredictionRuns:        m.runs.Load(),
		CircuitBreakerStates:  cbStates,
	}
}

// ---------------------------------------------------------------------------
// Noop implementation
// ---------------------------------------------------------------------------

type noopIntelligenceMetrics struct{}

// NewNoopIntelligenceMetrics returns a no-op metrics implementation.
func NewNoopIntelligenceMetrics() IntelligenceMetrics {
	return &noopIntelligenceMetrics{}
}

func (n *noopIntelligenceMetrics) RecordInference(context.Context, *InferenceMetricParams)                 {}
func (n *noopIntelligenceMetrics) RecordBatchProcessing(context.Context, *BatchMetricParams)                {}
func (n *noopIntelligenceMetrics) RecordCacheAccess(context.Context, bool, string)                          {}
func (n *noopIntelligenceMetrics) RecordCircuitBreakerStateChange(context.Context, string, string, string) {}
func (n *noopIntelligenceMetrics) RecordPredictionRun(context.Context, *RunMetricParams)                    {}
func (n *noopIntelligenceMetrics) RecordModelLoad(context.Context, string, int, float64, bool)              {}

func (n *noopIntelligenceMetrics) GetInferenceLatencyHistogram() LatencyHistogram {
	return newLatencyHistogram()
}

func (n *noopIntelligenceMetrics) GetCurrentStats() *IntelligenceStats {
	return &IntelligenceStats{CircuitBreakerStates: map[string]string{}}
}

// ---------------------------------------------------------------------------
// In-memory implementation (for testing)
// ---------------------------------------------------------------------------

// InMemoryIntelligenceMetrics keeps every event for inspection in tests.
type InMemoryIntelligenceMetrics struct {
	mu sync.Mutex

	inferences  []InferenceMetricParams
	batches     []BatchMetricParams
	runs        []RunMetricParams
	cacheHits   int64
	cacheMisses int64
	modelLoads  []ModelLoadRecord
	cbStates    map[string]string
	latencyHist *latencyHistogram
}

// ModelLoadRecord is one RecordModelLoad call.
type ModelLoadRecord struct {
	Source     string
	Models     int
	DurationMs float64
	Success    bool
	Timestamp  time.Time
}

// NewInMemoryIntelligenceMetrics returns an in-memory metrics implementation.
func NewInMemoryIntelligenceMetrics() *InMemoryIntelligenceMetrics {
	return &InMemoryIntelligenceMetrics{
		cbStates:    make(map[string]string),
		latencyHist: newLatencyHistogram(),
	}
}

func (m *InMemoryIntelligenceMetrics) RecordInference(_ context.Context, p *InferenceMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inferences = append(m.inferences, *p)
	m.latencyHist.Observe(p.DurationMs)
}

func (m *InMemoryIntelligenceMetrics) RecordBatchProcessing(_ context.Context, p *BatchMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, *p)
}

func (m *InMemoryIntelligenceMetrics) RecordCacheAccess(_ context.Context, hit bool, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
}

func (m *InMemoryIntelligenceMetrics) RecordCircuitBreakerStateChange(_ context.Context, name, _, toState string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cbStates[name] = toState
}

func (m *InMemoryIntelligenceMetrics) RecordPredictionRun(_ context.Context, p *RunMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *p)
}

func (m *InMemoryIntelligenceMetrics) RecordModelLoad(_ context.Context, source string, models int, durationMs float64, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelLoads = append(m.modelLoads, ModelLoadRecord{
		Source:     source,
		Models:     models,
		DurationMs: durationMs,
		Success:    success,
		Timestamp:  time.Now(),
	})
}

func (m *InMemoryIntelligenceMetrics) GetInferenceLatencyHistogram() LatencyHistogram {
	return m.latencyHist
}

func (m *InMemoryIntelligenceMetrics) GetCurrentStats() *IntelligenceStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := int64(len(m.inferences))
	var success, failed int64
	for _, inf := range m.inferences {
		if inf.Success {
			success++
		} else {
			failed++
		}
	}

	var avgLatency float64
	if total > 0 {
		avgLatency = m.latencyHist.Sum() / float64(total)
	}

	cbCopy := make(map[string]string, len(m.cbStates))
	for k, v := range m.cbStates {
		cbCopy[k] = v
	}

	return &IntelligenceStats{
		TotalInferences:       total,
		SuccessfulInferences:  success,
		FailedInferences:      failed,
		AvgInferenceLatencyMs: avgLatency,
		P50LatencyMs:          m.latencyHist.Percentile(50),
		P95LatencyMs:          m.latencyHist.Percentile(95),
		P99LatencyMs:          m.latencyHist.Percentile(99),
		CacheHitRate:          hitRate(m.cacheHits, m.cacheMisses),
		PredictionRuns:        int64(len(m.runs)),
		CircuitBreakerStates:  cbCopy,
	}
}

// Inferences returns a copy of the recorded scorer calls.
func (m *InMemoryIntelligenceMetrics) Inferences() []InferenceMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]InferenceMetricParams(nil), m.inferences...)
}

// Batches returns a copy of the recorded batch runs.
func (m *InMemoryIntelligenceMetrics) Batches() []BatchMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BatchMetricParams(nil), m.batches...)
}

// Runs returns a copy of the recorded prediction runs.
func (m *InMemoryIntelligenceMetrics) Runs() []RunMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RunMetricParams(nil), m.runs...)
}

// ModelLoads returns a copy of the recorded catalog loads.
func (m *InMemoryIntelligenceMetrics) ModelLoads() []ModelLoadRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ModelLoadRecord(nil), m.modelLoads...)
}

// CacheCounts returns hits and misses.
func (m *InMemoryIntelligenceMetrics) CacheCounts() (hits, misses int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheHits, m.cacheMisses
}

// CircuitBreakerStates returns a copy of the last state per breaker.
func (m *InMemoryIntelligenceMetrics) CircuitBreakerStates() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.cbStates))
	for k, v := range m.cbStates {
		out[k] = v
	}
	return out
}

// ---------------------------------------------------------------------------
// latencyHistogram
// ---------------------------------------------------------------------------

type latencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	sum     float64
}

func newLatencyHistogram() *latencyHistogram {
	return &latencyHistogram{samples: make([]float64, 0, 1024)}
}

func (h *latencyHistogram) Observe(durationMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, durationMs)
	h.sum += durationMs
}

// Percentile returns the p-th percentile (0–100) of the observed samples,
// the minimum for p <= 0 and the maximum for p >= 100.
func (h *latencyHistogram) Percentile(p float64) float64 {
	h.mu.Lock()
	data := append([]float64(nil), h.samples...)
	h.mu.Unlock()

	if len(data) == 0 {
		return 0
	}
	sort.Float64s(data)
	if p <= 0 {
		return data[0]
	}
	if p >= 100 {
		return data[len(data)-1]
	}
	v, err := stats.Percentile(data, p)
	if err != nil {
		return data[0]
	}
	return v
}

func (h *latencyHistogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int64(len(h.samples))
}

func (h *latencyHistogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func circuitBreakerStateToFloat(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}

func runOutcome(p *RunMetricParams) string {
	switch {
	case p.Cancelled:
		return "cancelled"
	case p.NothingSucceeded:
		return "nothing_succeeded"
	case p.ModelsSkipped > 0:
		return "partial"
	default:
		return "success"
	}
}

func hitRate(hits, misses int64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

var (
	_ IntelligenceMetrics = (*prometheusIntelligenceMetrics)(nil)
	_ IntelligenceMetrics = (*noopIntelligenceMetrics)(nil)
	_ IntelligenceMetrics = (*InMemoryIntelligenceMetrics)(nil)
	_ LatencyHistogram    = (*latencyHistogram)(nil)
)
