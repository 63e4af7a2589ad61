package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/KidneyMatch/internal/interfaces/http/handlers"
	"github.com/turtacn/KidneyMatch/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the handler and middleware dependencies of the
// route tree.  Nil handlers leave their routes unregistered.
type RouterConfig struct {
	HealthHandler     *handlers.HealthHandler
	ModelHandler      *handlers.ModelHandler
	ReferenceHandler  *handlers.ReferenceHandler
	PredictionHandler *handlers.PredictionHandler
	SimilarityHandler *handlers.SimilarityHandler
	EmbeddingHandler  *handlers.EmbeddingHandler

	CORS *middleware.CORSConfig
	// RateLimiter throttles predictions, similarity and embeddings.
	RateLimiter middleware.RateLimiter

	Logger           logging.Logger
	Metrics          *prometheus.AppMetrics
	MetricsCollector prometheus.MetricsCollector
	MetricsPath      string
	// RequestTimeout bounds each API request; zero leaves it unbounded.
	RequestTimeout time.Duration
}

// NewRouter builds the complete route tree.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.CORS != nil {
		r.Use(middleware.CORS(*cfg.CORS))
	}
	r.Use(middleware.RequestLogging(logger, middleware.DefaultLoggingConfig()))
	r.Use(middleware.Metrics(cfg.Metrics))

	if h := cfg.HealthHandler; h != nil {
		r.Get("/health", h.Health)
		r.Get("/healthz", h.Liveness)
		r.Get("/readyz", h.Readiness)
		r.Get("/stats", h.Stats)
	}
	if cfg.MetricsCollector != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, cfg.MetricsCollector.Handler())
	}
	r.Get("/", index)

	heavy := func(r chi.Router) chi.Router {
		if cfg.RateLimiter == nil {
			return r
		}
		return r.With(middleware.RateLimit(cfg.RateLimiter, nil))
	}

	r.Route("/api/v1", func(api chi.Router) {
		if cfg.RequestTimeout > 0 {
			api.Use(chimw.Timeout(cfg.RequestTimeout))
		}
		registerModelRoutes(api, cfg.ModelHandler)
		registerReferenceRoutes(api, cfg.ReferenceHandler)
		registerPredictionRoutes(heavy(api), cfg.PredictionHandler)
		registerSimilarityRoutes(heavy(api), cfg.SimilarityHandler)
		registerEmbeddingRoutes(heavy(api), cfg.EmbeddingHandler)
	})

	// Path kept for dashboards written against the original endpoint.
	if h := cfg.EmbeddingHandler; h != nil {
		heavy(r).Post("/api/tsne/{city}", h.Legacy)
	}

	return r
}

func index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"service":"kidneymatch","endpoints":["/api/v1/models","/api/v1/reference-data/{city}","/api/v1/predictions","/api/v1/similarity/{city}","/api/v1/embeddings/{city}"]}`))
}

func registerModelRoutes(r chi.Router, h *handlers.ModelHandler) {
	if h == nil {
		return
	}
	r.Get("/models", h.List)
	r.Get("/models/{modelID}", h.Get)
}

func registerReferenceRoutes(r chi.Router, h *handlers.ReferenceHandler) {
	if h == nil {
		return
	}
	r.Route("/reference-data", func(rr chi.Router) {
		rr.Get("/", h.Status)
		rr.Get("/{city}", h.Get)
		rr.Delete("/{city}", h.Invalidate)
		rr.Put("/{city}", h.Upload)
	})
}

func registerPredictionRoutes(r chi.Router, h *handlers.PredictionHandler) {
	if h == nil {
		return
	}
	r.Post("/predictions", h.Run)
}

func registerSimilarityRoutes(r chi.Router, h *handlers.SimilarityHandler) {
	if h == nil {
		return
	}
	r.Post("/similarity/{city}", h.Rank)
	r.Post("/similarity/{city}/compare", h.Compare)
}

func registerEmbeddingRoutes(r chi.Router, h *handlers.EmbeddingHandler) {
	if h == nil {
		return
	}
	r.Post("/embeddings/{city}", h.Embed)
}
