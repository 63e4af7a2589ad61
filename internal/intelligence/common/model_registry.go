package common

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/turtacn/KidneyMatch/internal/domain/model"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// ModelSource fetches raw model descriptors from external model storage.
type ModelSource interface {
	// Name identifies the source in logs and metrics ("scorer", "file").
	Name() string
	Fetch(ctx context.Context) ([]model.RawDescriptor, error)
}

// ModelRegistry holds the validated model catalog for the session.
type ModelRegistry interface {
	// Load fetches and validates every descriptor.  Any invalid descriptor
	// fails the whole load and leaves the previous catalog in place.
	Load(ctx context.Context) error

	Get(ctx context.Context, modelID string) (model.Descriptor, error)
	List(ctx context.Context) ([]model.Descriptor, error)
	ByRole(ctx context.Context, role model.Role) ([]model.Descriptor, error)

	// Select returns the named models in registration order, or all of them
	// when ids is empty.
	Select(ctx context.Context, ids []string) ([]model.Descriptor, error)

	HealthCheck(ctx context.Context) (*RegistryHealth, error)
}

// RegistryHealth reports the state of the loaded catalog.
type RegistryHealth struct {
	Healthy   bool      `json:"healthy"`
	Source    string    `json:"source"`
	Models    int       `json:"models"`
	Baselines int       `json:"baselines"`
	Facility  int       `json:"facility"`
	Other     int       `json:"other"`
	LoadedAt  time.Time `json:"loaded_at"`
}

type loadedCatalog struct {
	catalog  *model.Catalog
	loadedAt time.Time
}

type modelRegistry struct {
	source  ModelSource
	current atomic.Pointer[loadedCatalog]
	metrics IntelligenceMetrics
	logger  logging.Logger
}

// NewModelRegistry creates an empty registry over source.  Call Load before
// serving requests.
func NewModelRegistry(source ModelSource, metrics IntelligenceMetrics, logger logging.Logger) (ModelRegistry, error) {
	if source == nil {
		return nil, apperrors.InvalidParam("model source cannot be nil")
	}
	if metrics == nil {
		metrics = NewNoopIntelligenceMetrics()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &modelRegistry{
		source:  source,
		metrics: metrics,
		logger:  logger.Named("model_registry"),
	}, nil
}

// NewStaticModelRegistry wraps an already-built catalog.
func NewStaticModelRegistry(catalog *model.Catalog) ModelRegistry {
	r := &modelRegistry{
		source:  staticSource{},
		metrics: NewNoopIntelligenceMetrics(),
		logger:  logging.NewNopLogger(),
	}
	r.current.Store(&loadedCatalog{catalog: catalog, loadedAt: time.Now().UTC()})
	return r
}

func (r *modelRegistry) Load(ctx context.Context) error {
	start := time.Now()
	raws, err := r.source.Fetch(ctx)
	if err != nil {
		r.metrics.RecordModelLoad(ctx, r.source.Name(), 0, msSince(start), false)
		return apperrors.Wrap(err, apperrors.ErrCodeModelSourceFailed, "failed to fetch model descriptors")
	}

	catalog, err := model.NewCatalog(raws)
	if err != nil {
		r.metrics.RecordModelLoad(ctx, r.source.Name(), 0, msSince(start), false)
		r.logger.Error("model catalog rejected", logging.String("source", r.source.Name()), logging.Err(err))
		return err
	}

	r.current.Store(&loadedCatalog{catalog: catalog, loadedAt: time.Now().UTC()})
	r.metrics.RecordModelLoad(ctx, r.source.Name(), catalog.Len(), msSince(start), true)
	r.logger.Info("model catalog loaded",
		logging.String("source", r.source.Name()),
		logging.Int("models", catalog.Len()),
		logging.Int("baseline", len(catalog.ByRole(model.RoleBaseline))),
		logging.Int("facility", len(catalog.ByRole(model.RoleFacility))))
	return nil
}

func (r *modelRegistry) catalog() (*model.Catalog, error) {
	lc := r.current.Load()
	if lc == nil {
		return nil, apperrors.Unavailable("model catalog not loaded")
	}
	return lc.catalog, nil
}

func (r *modelRegistry) Get(_ context.Context, modelID string) (model.Descriptor, error) {
	c, err := r.catalog()
	if err != nil {
		return model.Descriptor{}, err
	}
	d, ok := c.Get(modelID)
	if !ok {
		return model.Descriptor{}, apperrors.Newf(apperrors.ErrCodeModelNotFound, "model %q not found", modelID)
	}
	return d, nil
}

func (r *modelRegistry) List(_ context.Context) ([]model.Descriptor, error) {
	c, err := r.catalog()
	if err != nil {
		return nil, err
	}
	return c.All(), nil
}

func (r *modelRegistry) ByRole(_ context.Context, role model.Role) ([]model.Descriptor, error) {
	c, err := r.catalog()
	if err != nil {
		return nil, err
	}
	return c.ByRole(role), nil
}

func (r *modelRegistry) Select(_ context.Context, ids []string) ([]model.Descriptor, error) {
	c, err := r.catalog()
	if err != nil {
		return nil, err
	}
	return c.Select(ids)
}

func (r *modelRegistry) HealthCheck(_ context.Context) (*RegistryHealth, error) {
	h := &RegistryHealth{Source: r.source.Name()}
	lc := r.current.Load()
	if lc == nil {
		return h, apperrors.Unavailable("model catalog not loaded")
	}
	h.Healthy = lc.catalog.Len() > 0
	h.Models = lc.catalog.Len()
	h.Baselines = len(lc.catalog.ByRole(model.RoleBaseline))
	h.Facility = len(lc.catalog.ByRole(model.RoleFacility))
	h.Other = len(lc.catalog.ByRole(model.RoleOther))
	h.LoadedAt = lc.loadedAt
	return h, nil
}

type staticSource struct{}

func (staticSource) Name() string { return "static" }

func (staticSource) Fetch(context.Context) ([]model.RawDescriptor, error) {
	return nil, apperrors.New(apperrors.ErrCodeNotImplemented, "static model registry cannot reload")
}
