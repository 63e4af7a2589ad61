package prometheus

import (
	"strconv"
	"time"
)

// AppMetrics holds the service-level series.  Scorer, batch, run and cache
// series are registered by the intelligence layer on the same registry.
type AppMetrics struct {
	// HTTP
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPResponseSize    HistogramVec
	HTTPActiveRequests  GaugeVec

	// Reference data
	ReferenceLoadsTotal    CounterVec
	ReferenceLoadDuration  HistogramVec
	ReferencePopulation    GaugeVec
	ReferenceInvalidations CounterVec

	// Similarity and embedding
	SimilarityQueriesTotal CounterVec
	SimilarityDuration     HistogramVec
	EmbeddingsTotal        CounterVec
	EmbeddingDuration      HistogramVec

	// Health
	ServiceUptime     GaugeVec
	HealthCheckStatus GaugeVec
	ErrorsTotal       CounterVec
}

var (
	DefaultHTTPDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	DefaultLoadDurationBuckets = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	DefaultSizeBuckets         = []float64{100, 1000, 10000, 100000, 1000000, 10000000}
)

// NewAppMetrics registers every service series on collector.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")
	m.HTTPResponseSize = collector.RegisterHistogram("http_response_size_bytes", "HTTP response size", DefaultSizeBuckets, "method", "path")
	m.HTTPActiveRequests = collector.RegisterGauge("http_active_requests", "Active HTTP requests", "method")

	m.ReferenceLoadsTotal = collector.RegisterCounter("reference_loads_total", "Reference population loads", "city", "source", "status")
	m.ReferenceLoadDuration = collector.RegisterHistogram("reference_load_duration_seconds", "Reference population load duration", DefaultLoadDurationBuckets, "city", "source")
	m.ReferencePopulation = collector.RegisterGauge("reference_population_records", "Records in the cached reference population", "city")
	m.ReferenceInvalidations = collector.RegisterCounter("reference_invalidations_total", "Reference cache invalidations", "city")

	m.SimilarityQueriesTotal = collector.RegisterCounter("similarity_queries_total", "Similarity rankings", "city", "mode", "status")
	m.SimilarityDuration = collector.RegisterHistogram("similarity_duration_seconds", "Similarity ranking duration", DefaultHTTPDurationBuckets, "city", "mode")
	m.EmbeddingsTotal = collector.RegisterCounter("embeddings_total", "Embedding projections", "city", "backend", "status")
	m.EmbeddingDuration = collector.RegisterHistogram("embedding_duration_seconds", "Embedding projection duration", DefaultLoadDurationBuckets, "city", "backend")

	m.ServiceUptime = collector.RegisterGauge("service_uptime_seconds", "Service uptime", "service")
	m.HealthCheckStatus = collector.RegisterGauge("health_check_status", "Health check status (1=up, 0=down)", "component")
	m.ErrorsTotal = collector.RegisterCounter("errors_total", "Total errors", "component", "error_code")

	return m
}

// Helpers.  All of them accept a nil *AppMetrics.

func RecordHTTPRequest(m *AppMetrics, method, path string, statusCode int, duration time.Duration, respSize int64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
}

func RecordReferenceLoad(m *AppMetrics, city, source string, records int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.ReferenceLoadsTotal.WithLabelValues(city, source, status(err)).Inc()
	m.ReferenceLoadDuration.WithLabelValues(city, source).Observe(duration.Seconds())
	if err == nil {
		m.ReferencePopulation.WithLabelValues(city).Set(float64(records))
	}
}

func RecordReferenceInvalidation(m *AppMetrics, city string) {
	if m == nil {
		return
	}
	m.ReferenceInvalidations.WithLabelValues(city).Inc()
	m.ReferencePopulation.WithLabelValues(city).Set(0)
}

func RecordSimilarity(m *AppMetrics, city, mode string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.SimilarityQueriesTotal.WithLabelValues(city, mode, status(err)).Inc()
	m.SimilarityDuration.WithLabelValues(city, mode).Observe(duration.Seconds())
}

func RecordEmbedding(m *AppMetrics, city, backend string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.EmbeddingsTotal.WithLabelValues(city, backend, status(err)).Inc()
	m.EmbeddingDuration.WithLabelValues(city, backend).Observe(duration.Seconds())
}

func RecordHealth(m *AppMetrics, component string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.HealthCheckStatus.WithLabelValues(component).Set(v)
}

func RecordError(m *AppMetrics, component, code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, code).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
