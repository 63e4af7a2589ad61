package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/turtacn/KidneyMatch/internal/application/embedding"
	"github.com/turtacn/KidneyMatch/internal/application/prediction"
	"github.com/turtacn/KidneyMatch/internal/application/reference"
	"github.com/turtacn/KidneyMatch/internal/application/similarity"
	"github.com/turtacn/KidneyMatch/internal/config"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/database/redis"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/referencedata"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/serving"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/storage/minio"
	"github.com/turtacn/KidneyMatch/internal/intelligence/common"
	emb "github.com/turtacn/KidneyMatch/internal/intelligence/embedding"
	"github.com/turtacn/KidneyMatch/internal/intelligence/scoring"
	sim "github.com/turtacn/KidneyMatch/internal/intelligence/similarity"
	httpserver "github.com/turtacn/KidneyMatch/internal/interfaces/http"
	"github.com/turtacn/KidneyMatch/internal/interfaces/http/handlers"
	"github.com/turtacn/KidneyMatch/internal/interfaces/http/middleware"
)

// app holds the assembled route tree and whatever must be released on exit.
type app struct {
	handler http.Handler
	metrics *prometheus.AppMetrics
	closers []func() error
}

func (a *app) addCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

// close releases resources in reverse order of acquisition.
func (a *app) close(logger logging.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("failed to release resource", logging.Err(err))
		}
	}
}

// buildApp wires storage, model serving, the three analysis services and the
// HTTP layer from cfg.
func buildApp(cfg *config.Config, logger logging.Logger, collector prometheus.MetricsCollector) (*app, error) {
	appMetrics := prometheus.NewAppMetrics(collector)
	a := &app{metrics: appMetrics}
	intel, err := common.NewPrometheusIntelligenceMetrics(collector.Registerer())
	if err != nil {
		return nil, fmt.Errorf("intelligence metrics: %w", err)
	}

	var checkers []handlers.HealthChecker

	var cache redis.Cache
	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(redisConfig(cfg.Redis), logger.Named("redis"))
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.addCloser(rc.Close)
		cache = redis.NewRedisCache(rc, logger.Named("redis_cache"),
			redis.WithPrefix(cfg.Redis.KeyPrefix),
			redis.WithDefaultTTL(cfg.Redis.DefaultTTL),
		)
		checkers = append(checkers, &redisHealthAdapter{client: rc})
	}

	loader, objClient, err := buildLoader(cfg, logger)
	if err != nil {
		a.close(logger)
		return nil, err
	}
	if objClient != nil {
		a.addCloser(objClient.Close)
		checkers = append(checkers, &objectStoreHealthAdapter{client: objClient})
	}

	store, err := reference.NewStore(reference.StoreDeps{
		Loader:       loader,
		Cache:        cache,
		TTL:          cfg.Reference.CacheTTL,
		Metrics:      appMetrics,
		IntelMetrics: intel,
		Logger:       logger.Named("reference"),
	})
	if err != nil {
		a.close(logger)
		return nil, err
	}

	scorer, err := serving.NewScorerClient(serving.Config{
		BaseURL:      cfg.Scorer.BaseURL,
		Timeout:      cfg.Scorer.Timeout,
		MaxRetries:   cfg.Scorer.MaxRetries,
		RetryWait:    cfg.Scorer.RetryWait,
		MaxIdleConns: cfg.Scorer.MaxIdleConns,
	}, serving.WithLogger(logger.Named("scorer")))
	if err != nil {
		a.close(logger)
		return nil, fmt.Errorf("scorer client: %w", err)
	}
	checkers = append(checkers, &scorerHealthAdapter{client: scorer})

	var source common.ModelSource = serving.NewScorerModelSource(scorer)
	if cfg.Models.Source == "file" {
		source = serving.NewFileModelSource(cfg.Models.File)
	}
	registry, err := common.NewModelRegistry(source, intel, logger)
	if err != nil {
		a.close(logger)
		return nil, err
	}

	pipeline, err := scoring.NewPipeline(scoring.Config{
		SampleSize:       cfg.Scoring.SampleSize,
		BatchSize:        cfg.Scoring.BatchSize,
		MaxConcurrency:   cfg.Scoring.MaxConcurrency,
		BatchTimeout:     cfg.Scoring.BatchTimeout,
		ExcludedFeatures: cfg.Scoring.ExcludedFeatures,
		Seed:             cfg.Scoring.Seed,
		BreakerThreshold: cfg.Scoring.BreakerThreshold,
		BreakerCooldown:  cfg.Scoring.BreakerCooldown,
	}, scorer, store, scoring.WithMetrics(intel), scoring.WithLogger(logger.Named("scoring")))
	if err != nil {
		a.close(logger)
		return nil, err
	}
	a.addCloser(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Scoring.BatchTimeout)
		defer cancel()
		return pipeline.Shutdown(ctx)
	})

	predSvc, err := prediction.NewService(prediction.ServiceDeps{
		Registry: registry,
		Runner:   pipeline,
		Logger:   logger.Named("prediction"),
	})
	if err != nil {
		a.close(logger)
		return nil, err
	}

	simSvc, err := similarity.NewService(similarity.ServiceDeps{
		Populations: store,
		Normalizer: sim.NormalizerConfig{
			LowerPercentile: cfg.Similarity.LowerPercentile / 100,
			UpperPercentile: cfg.Similarity.UpperPercentile / 100,
		},
		DefaultMode: cfg.Similarity.Mode,
		TopK:        cfg.Similarity.TopK,
		RejectedK:   cfg.Similarity.RejectedK,
		Metrics:     appMetrics,
		Logger:      logger.Named("similarity"),
	})
	if err != nil {
		a.close(logger)
		return nil, err
	}

	embedder, err := buildEmbedder(cfg, logger)
	if err != nil {
		a.close(logger)
		return nil, err
	}
	embSvc, err := embedding.NewService(embedding.ServiceDeps{
		Populations: store,
		Projector: emb.NewProjector(embedder, emb.Config{
			MaxPoints: cfg.Embedding.MaxPoints,
			Seed:      cfg.Embedding.Seed,
		}, logger.Named("projector")),
		Cache:        cache,
		TTL:          cfg.Embedding.CacheTTL,
		Metrics:      appMetrics,
		IntelMetrics: intel,
		Logger:       logger.Named("embedding"),
	})
	if err != nil {
		a.close(logger)
		return nil, err
	}

	routerCfg := httpserver.RouterConfig{
		HealthHandler:     handlers.NewHealthHandler(version, appMetrics, logger, checkers...).WithStats(intel),
		ModelHandler:      handlers.NewModelHandler(predSvc, logger),
		ReferenceHandler:  handlers.NewReferenceHandler(store, cfg.Server.MaxBodySize, logger, embSvc),
		PredictionHandler: handlers.NewPredictionHandler(predSvc, cfg.Server.MaxBodySize, logger),
		SimilarityHandler: handlers.NewSimilarityHandler(simSvc, cfg.Server.MaxBodySize, logger),
		EmbeddingHandler:  handlers.NewEmbeddingHandler(embSvc, cfg.Server.MaxBodySize, logger),
		Logger:            logger,
		Metrics:           appMetrics,
	}
	if cfg.Metrics.Enabled {
		routerCfg.MetricsCollector = collector
		routerCfg.MetricsPath = cfg.Metrics.Path
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		cors := middleware.DefaultCORSConfig()
		cors.AllowedOrigins = cfg.Server.CORSOrigins
		cors.AllowWildcard = true
		routerCfg.CORS = &cors
	}
	if rl := cfg.Server.RateLimit; rl.RequestsPerSecond > 0 {
		limiter := middleware.NewTokenBucketLimiter(rl.RequestsPerSecond, rl.Burst, 5*time.Minute)
		a.addCloser(func() error { limiter.Stop(); return nil })
		routerCfg.RateLimiter = limiter
	}

	a.handler = httpserver.NewRouter(routerCfg)
	return a, nil
}

func redisConfig(c config.RedisConfig) *redis.RedisConfig {
	return &redis.RedisConfig{
		Mode:         c.Mode,
		Addr:         c.Addr,
		Addrs:        c.Addrs,
		MasterName:   c.MasterName,
		Username:     c.Username,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		TLSEnabled:   c.TLSEnabled,
		TLSCAFile:    c.TLSCAFile,
		TLSInsecure:  c.TLSInsecure,
	}
}

// buildLoader picks the reference-data source.  The MinIO client is returned
// so its health can be probed; it is nil for the other sources.
func buildLoader(cfg *config.Config, logger logging.Logger) (referencedata.Loader, *minio.MinIOClient, error) {
	log := logger.Named("referencedata")
	switch cfg.Reference.Source {
	case "minio":
		mc, err := minio.NewMinIOClient(&minio.MinIOConfig{
			Endpoint:        cfg.MinIO.Endpoint,
			AccessKeyID:     cfg.MinIO.AccessKey,
			SecretAccessKey: cfg.MinIO.SecretKey,
			UseSSL:          cfg.MinIO.UseSSL,
			Region:          cfg.MinIO.Region,
			Bucket:          cfg.MinIO.Bucket,
			Prefix:          cfg.MinIO.Prefix,
		}, logger.Named("minio"))
		if err != nil {
			return nil, nil, fmt.Errorf("minio: %w", err)
		}
		repo := minio.NewMinIORepository(mc, logger.Named("minio"))
		return referencedata.NewObjectLoader(repo, cfg.Reference.Files, log), mc, nil
	case "http":
		l, err := referencedata.NewHTTPLoader(cfg.Reference.BaseURL, cfg.Reference.Timeout, log)
		if err != nil {
			return nil, nil, err
		}
		return l, nil, nil
	default:
		return referencedata.NewFileLoader(cfg.Reference.Dir, cfg.Reference.Files, log), nil, nil
	}
}

func buildEmbedder(cfg *config.Config, logger logging.Logger) (emb.Embedder, error) {
	if cfg.Embedding.Backend != "http" {
		return emb.NewPCAEmbedder(), nil
	}
	e, err := serving.NewHTTPEmbedder(serving.Config{
		BaseURL: cfg.Embedding.BaseURL,
		Timeout: cfg.Embedding.Timeout,
	}, serving.WithLogger(logger.Named("embedder")))
	if err != nil {
		return nil, fmt.Errorf("embedding service client: %w", err)
	}
	return e, nil
}

var (
	_ handlers.HealthChecker = (*redisHealthAdapter)(nil)
	_ handlers.HealthChecker = (*scorerHealthAdapter)(nil)
	_ handlers.HealthChecker = (*objectStoreHealthAdapter)(nil)
)
