package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KidneyMatch/internal/config"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/KidneyMatch/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "boston_reference.csv"),
		[]byte("PTR_SEQUENCE_NUM,KDPI,PTR_OFFER_ACPT\n1,0.4,Y\n2,0.6,N\n"), 0o644))

	cfg := &config.Config{}
	cfg.Reference.Dir = dir
	cfg.Metrics.Enabled = true
	cfg.Server.RateLimit.RequestsPerSecond = 10
	config.ApplyDefaults(cfg)
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBuildApp_FileBackedServer(t *testing.T) {
	cfg := testConfig(t)
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "wiring"}, nil)
	require.NoError(t, err)

	a, err := buildApp(cfg, logging.NewNopLogger(), collector)
	require.NoError(t, err)
	defer a.close(logging.NewNopLogger())
	require.NotNil(t, a.metrics)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/health").Code)

	rec := get("/api/v1/reference-data/boston")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"KDPI":0.4`)

	rec = get(cfg.Metrics.Path)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wiring_reference_loads_total")
}

func TestBuildApp_BadEmbeddingService(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embedding.Backend = "http"
	cfg.Embedding.BaseURL = "://missing-scheme"
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "wiring_bad"}, nil)
	require.NoError(t, err)

	_, err = buildApp(cfg, logging.NewNopLogger(), collector)
	assert.Error(t, err)
}

func TestLoadConfig_FallsBackToEnvironment(t *testing.T) {
	cfg, fromFile, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.False(t, fromFile)
	assert.Equal(t, config.DefaultServerPort, cfg.Server.Port)
}

func TestApp_CloseReleasesInReverseOrder(t *testing.T) {
	var order []string
	a := &app{}
	a.addCloser(func() error { order = append(order, "redis"); return nil })
	a.addCloser(func() error { order = append(order, "minio"); return assert.AnError })
	a.addCloser(func() error { order = append(order, "limiter"); return nil })

	logger := testutil.NewMockLogger()
	a.close(logger)

	assert.Equal(t, []string{"limiter", "minio", "redis"}, order)
	msg, ok := logger.Find("warn", "failed to release resource")
	require.True(t, ok)
	errVal, _ := msg.Field("error")
	assert.Equal(t, assert.AnError.Error(), errVal)
}

func TestRedisConfig_Mapping(t *testing.T) {
	rc := redisConfig(config.RedisConfig{
		Mode:       "sentinel",
		Addrs:      []string{"s1:26379", "s2:26379"},
		MasterName: "kmatch",
		Username:   "svc",
		DB:         2,
		TLSEnabled: true,
		TLSCAFile:  "/etc/ssl/redis-ca.pem",
	})
	assert.Equal(t, "sentinel", rc.Mode)
	assert.Equal(t, []string{"s1:26379", "s2:26379"}, rc.Addrs)
	assert.Equal(t, "kmatch", rc.MasterName)
	assert.Equal(t, "svc", rc.Username)
	assert.Equal(t, 2, rc.DB)
	assert.True(t, rc.TLSEnabled)
	assert.Equal(t, "/etc/ssl/redis-ca.pem", rc.TLSCAFile)
}
