package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KidneyMatch/internal/application/embedding"
	"github.com/turtacn/KidneyMatch/internal/application/prediction"
	"github.com/turtacn/KidneyMatch/internal/application/reference"
	"github.com/turtacn/KidneyMatch/internal/application/similarity"
	"github.com/turtacn/KidneyMatch/internal/domain/features"
	"github.com/turtacn/KidneyMatch/internal/domain/model"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/referencedata"
	"github.com/turtacn/KidneyMatch/internal/intelligence/common"
	emb "github.com/turtacn/KidneyMatch/internal/intelligence/embedding"
	"github.com/turtacn/KidneyMatch/internal/intelligence/scoring"
	"github.com/turtacn/KidneyMatch/internal/interfaces/http/handlers"
	"github.com/turtacn/KidneyMatch/internal/interfaces/http/middleware"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

const bostonCSV = `PTR_SEQUENCE_NUM,KDPI,AGE_DON,CREAT_DON,PTR_OFFER_ACPT
1,0.9,70,2.0,N
2,0.4,45,1.1,Y
3,0.6,55,1.5,N
4,0.2,30,0.9,Y
5,0.7,61,1.7,N
`

// constScorer answers every hybrid with the same probability and counts
// calls per model.
type constScorer struct {
	p     float64
	fail  map[string]bool
	calls int32
}

func (s *constScorer) Predict(_ context.Context, modelID string, batch []features.Vector) ([]float64, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.fail[modelID] {
		return nil, apperrors.New(apperrors.ErrCodeScorerUnavailable, "scorer down")
	}
	out := make([]float64, len(batch))
	for i := range out {
		out[i] = s.p
	}
	return out, nil
}

type harness struct {
	router  http.Handler
	scorer  *constScorer
	store   reference.Store
	metrics prometheus.MetricsCollector
}

func newHarness(t *testing.T, opts ...func(*RouterConfig)) *harness {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "boston_reference.csv"), []byte(bostonCSV), 0o644))

	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "router"}, nil)
	require.NoError(t, err)
	appMetrics := prometheus.NewAppMetrics(collector)

	store, err := reference.NewStore(reference.StoreDeps{
		Loader:  referencedata.NewFileLoader(dir, nil, nil),
		Metrics: appMetrics,
	})
	require.NoError(t, err)

	cat, err := model.NewCatalog([]model.RawDescriptor{
		{ID: "bos-base", Name: "Boston baseline", Type: "baseline", Features: []string{"AGE_DON", "KDPI"}},
		{ID: "bos-fac", Name: "Boston facility", Type: "facility", Features: []string{"baseline_prob", "AGE_DON"}},
	})
	require.NoError(t, err)

	scorer := &constScorer{p: 0.25, fail: map[string]bool{}}
	pipeline, err := scoring.NewPipeline(scoring.Config{SampleSize: 3, Seed: 7}, scorer, store)
	require.NoError(t, err)

	predSvc, err := prediction.NewService(prediction.ServiceDeps{Registry: common.NewStaticModelRegistry(cat), Runner: pipeline})
	require.NoError(t, err)
	simSvc, err := similarity.NewService(similarity.ServiceDeps{Populations: store, Metrics: appMetrics})
	require.NoError(t, err)
	embSvc, err := embedding.NewService(embedding.ServiceDeps{
		Populations: store,
		Projector:   emb.NewProjector(emb.NewPCAEmbedder(), emb.Config{Seed: 1}, nil),
		Metrics:     appMetrics,
	})
	require.NoError(t, err)

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = []string{"*"}

	cfg := RouterConfig{
		HealthHandler: handlers.NewHealthHandler("test", appMetrics, nil,
			handlers.CheckFunc("scorer", func(context.Context) error { return nil })),
		ModelHandler:      handlers.NewModelHandler(predSvc, nil),
		ReferenceHandler:  handlers.NewReferenceHandler(store, 0, nil, embSvc),
		PredictionHandler: handlers.NewPredictionHandler(predSvc, 0, nil),
		SimilarityHandler: handlers.NewSimilarityHandler(simSvc, 0, nil),
		EmbeddingHandler:  handlers.NewEmbeddingHandler(embSvc, 0, nil),
		CORS:              &cors,
		Metrics:           appMetrics,
		MetricsCollector:  collector,
	}
	for _, o := range opts {
		o(&cfg)
	}
	router := NewRouter(cfg)
	return &harness{router: router, scorer: scorer, store: store, metrics: collector}
}

func (h *harness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func donor() map[string]interface{} {
	return map[string]interface{}{"PTR_SEQUENCE_NUM": 99, "KDPI": 0.4, "AGE_DON": 45, "CREAT_DON": 1.1}
}

func TestRouter_Health(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", nil).Code)

	rec = h.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var ready handlers.ReadinessResponse
	decodeBody(t, rec, &ready)
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, "healthy", ready.Components["scorer"].Status)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}

func TestRouter_Models(t *testing.T) {
	h := newHarness(t)

	var all []model.Descriptor
	decodeBody(t, h.do(t, http.MethodGet, "/api/v1/models", nil), &all)
	assert.Len(t, all, 2)

	var facility []model.Descriptor
	decodeBody(t, h.do(t, http.MethodGet, "/api/v1/models?role=facility", nil), &facility)
	require.Len(t, facility, 1)
	assert.Equal(t, "bos-fac", facility[0].ID)

	rec := h.do(t, http.MethodGet, "/api/v1/models?role=wizard", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/models/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var errResp handlers.ErrorResponse
	decodeBody(t, rec, &errResp)
	assert.Equal(t, string(apperrors.ErrCodeModelNotFound), errResp.Code)
}

func TestRouter_Predictions(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/predictions", map[string]interface{}{
		"records": []interface{}{donor(), map[string]interface{}{"KDPI": 0.8, "AGE_DON": 66}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res scoring.RunResult
	decodeBody(t, rec, &res)
	assert.False(t, res.NothingSucceeded)
	assert.Equal(t, 2, res.Records)
	require.Len(t, res.Predictions, 2)
	for _, p := range res.Predictions {
		for _, r := range p.Records {
			assert.InDelta(t, 0.25, r.Probability, 1e-9)
			assert.Equal(t, 3, r.Hybrids)
		}
	}
}

func TestRouter_PredictionsNothingSucceeded(t *testing.T) {
	h := newHarness(t)
	h.scorer.fail["bos-base"] = true

	rec := h.do(t, http.MethodPost, "/api/v1/predictions", map[string]interface{}{
		"records":   []interface{}{donor()},
		"model_ids": []string{"bos-base"},
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var body struct {
		Code    string            `json:"code"`
		Details scoring.RunResult `json:"details"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, string(apperrors.ErrCodeNothingSucceeded), body.Code)
	assert.True(t, body.Details.NothingSucceeded)
	assert.Equal(t, 1, body.Details.Records)
}

func TestRouter_PredictionsInvalid(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed", `{"records":`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
		{"no records", `{"records":[]}`, http.StatusBadRequest},
		{"unknown model", `{"records":[{"KDPI":0.1}],"model_ids":["x"]}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/predictions", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.router.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestRouter_Similarity(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/similarity/boston", map[string]interface{}{
		"target": donor(),
		"limit":  2,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res similarity.RankResult
	decodeBody(t, rec, &res)
	assert.Equal(t, "Boston", res.Region.Name)
	require.Len(t, res.Neighbors, 2)
	assert.Equal(t, "2", res.Neighbors[0].Record.Sequence)
	assert.Equal(t, 0.0, res.Neighbors[0].Distance)

	rec = h.do(t, http.MethodPost, "/api/v1/similarity/Boston/compare", map[string]interface{}{
		"target":   donor(),
		"sequence": "3",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/api/v1/similarity/atlantis", map[string]interface{}{"target": donor()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// No LA file in the reference directory.
	rec = h.do(t, http.MethodPost, "/api/v1/similarity/la", map[string]interface{}{"target": donor()})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_EmbeddingsAndLegacyAlias(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/embeddings/boston", map[string]interface{}{"target": donor()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var proj emb.Projection
	decodeBody(t, rec, &proj)
	assert.Equal(t, "99", proj.RecordID)
	assert.Len(t, proj.Points, 6)

	rec = h.do(t, http.MethodPost, "/api/tsne/boston", map[string]interface{}{"targetRecord": donor()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var legacy handlers.LegacyEmbedResponse
	decodeBody(t, rec, &legacy)
	assert.Equal(t, "99", legacy.RecordID)
	assert.Equal(t, proj.Coordinates(), legacy.Coordinates)
}

func TestRouter_ReferenceData(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/reference-data/boston", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []features.Vector
	decodeBody(t, rec, &rows)
	require.Len(t, rows, 5)
	kdpi, ok := rows[1].Number("KDPI")
	assert.True(t, ok)
	assert.Equal(t, 0.4, kdpi)

	var cached []reference.Status
	decodeBody(t, h.do(t, http.MethodGet, "/api/v1/reference-data", nil), &cached)
	require.Len(t, cached, 1)
	assert.Equal(t, 5, cached[0].Records)

	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/api/v1/reference-data/boston", nil).Code)
	assert.Empty(t, h.store.Cached())

	// The file loader cannot store uploads.
	req := httptest.NewRequest(http.MethodPut, "/api/v1/reference-data/boston", strings.NewReader(bostonCSV))
	req.Header.Set("Content-Type", "text/csv")
	rec = httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestRouter_MetricsAndCORS(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodGet, "/api/v1/reference-data/boston", nil)

	rec := h.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(),
		`router_http_requests_total{method="GET",path="/api/v1/reference-data/{city}",status_code="200"} 1`)
	assert.Contains(t, rec.Body.String(), `router_reference_loads_total{city="Boston",source="file",status="success"} 1`)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/predictions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_RateLimitOnlyOnHeavyRoutes(t *testing.T) {
	limiter := middleware.NewTokenBucketLimiter(0.001, 1, 0)
	defer limiter.Stop()
	h := newHarness(t, func(c *RouterConfig) { c.RateLimiter = limiter })

	body := map[string]interface{}{"records": []interface{}{donor()}}
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/api/v1/predictions", body).Code)

	rec := h.do(t, http.MethodPost, "/api/v1/predictions", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// The bucket is per client, not per route.
	rec = h.do(t, http.MethodPost, "/api/tsne/boston", map[string]interface{}{"target": donor()})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health", nil).Code)
		assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/v1/models", nil).Code)
	}
}

func TestRouter_Index(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/v1/predictions")

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/v2/models", nil).Code)
}
