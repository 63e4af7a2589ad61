// Package embedding lays a donor record out in 2-D next to its region's
// reference population.
package embedding

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/KidneyMatch/internal/domain/features"
	"github.com/turtacn/KidneyMatch/internal/domain/reference"
	redisinfra "github.com/turtacn/KidneyMatch/internal/infrastructure/database/redis"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/KidneyMatch/internal/intelligence/common"
	emb "github.com/turtacn/KidneyMatch/internal/intelligence/embedding"
	"github.com/turtacn/KidneyMatch/internal/intelligence/scoring"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

const (
	cacheName      = "embedding"
	cacheKeyPrefix = "embedding:"
	unknownRecord  = "unknown"

	DefaultTTL = 24 * time.Hour
)

// Service computes and caches projections.
type Service interface {
	Embed(ctx context.Context, region reference.Region, target features.Vector) (*emb.Projection, error)
	// Invalidate drops every cached projection of region.
	Invalidate(ctx context.Context, region reference.Region) error
}

// ServiceDeps holds all dependencies.  Cache is the shared Redis tier; the
// in-process tier is always on.
type ServiceDeps struct {
	Populations  scoring.PopulationSource
	Projector    *emb.Projector
	Cache        redisinfra.Cache
	TTL          time.Duration
	Metrics      *prometheus.AppMetrics
	IntelMetrics common.IntelligenceMetrics
	Logger       logging.Logger
}

type serviceImpl struct {
	populations scoring.PopulationSource
	projector   *emb.Projector
	shared      redisinfra.Cache
	local       *gocache.Cache
	ttl         time.Duration
	group       singleflight.Group
	metrics     *prometheus.AppMetrics
	intel       common.IntelligenceMetrics
	logger      logging.Logger
}

func NewService(deps ServiceDeps) (Service, error) {
	if deps.Populations == nil || deps.Projector == nil {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "embedding service needs a population source and a projector")
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &serviceImpl{
		populations: deps.Populations,
		projector:   deps.Projector,
		shared:      deps.Cache,
		local:       gocache.New(ttl, ttl/2),
		ttl:         ttl,
		metrics:     deps.Metrics,
		intel:       deps.IntelMetrics,
		logger:      deps.Logger,
	}
	if s.intel == nil {
		s.intel = common.NewNoopIntelligenceMetrics()
	}
	if s.logger == nil {
		s.logger = logging.NewNopLogger()
	}
	return s, nil
}

// cacheKey is "{city}_{recordId}".  Targets without a sequence id are not
// cached since they cannot be told apart.
func cacheKey(region reference.Region, target features.Vector) (string, bool) {
	id := emb.RecordID(target)
	if id == unknownRecord {
		return "", false
	}
	return region.Key() + "_" + id, true
}

func (s *serviceImpl) Embed(ctx context.Context, region reference.Region, target features.Vector) (*emb.Projection, error) {
	if target.Len() == 0 {
		return nil, apperrors.New(apperrors.ErrCodeBadRequest, "a target record is required")
	}
	key, cacheable := cacheKey(region, target)
	if cacheable {
		if proj, ok := s.cached(ctx, key); ok {
			s.intel.RecordCacheAccess(ctx, true, cacheName)
			return proj, nil
		}
		s.intel.RecordCacheAccess(ctx, false, cacheName)
	}

	if !cacheable {
		return s.compute(ctx, region, target)
	}
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		proj, err := s.compute(ctx, region, target)
		if err != nil {
			return nil, err
		}
		s.store(ctx, key, proj)
		return proj, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*emb.Projection), nil
}

func (s *serviceImpl) compute(ctx context.Context, region reference.Region, target features.Vector) (proj *emb.Projection, err error) {
	start := time.Now()
	defer func() {
		prometheus.RecordEmbedding(s.metrics, region.Name, s.projector.Backend(), time.Since(start), err)
	}()

	pop, err := s.populations.Get(ctx, region)
	if err != nil {
		return nil, err
	}
	proj, err = s.projector.Project(ctx, target, pop.Records(), reference.ImportantFeatures(region))
	if err != nil {
		s.logger.Warn("projection failed", logging.City(region.Name),
			logging.String("backend", s.projector.Backend()), logging.Err(err))
		return nil, err
	}
	s.logger.Info("projection computed", logging.City(region.Name),
		logging.String("record_id", proj.RecordID),
		logging.Int("points", len(proj.Points)),
		logging.Float64("duration_ms", proj.DurationMs))
	return proj, nil
}

func (s *serviceImpl) cached(ctx context.Context, key string) (*emb.Projection, bool) {
	if v, ok := s.local.Get(key); ok {
		return v.(*emb.Projection), true
	}
	if s.shared == nil {
		return nil, false
	}
	var proj emb.Projection
	err := s.shared.Get(ctx, cacheKeyPrefix+key, &proj)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			s.logger.Warn("embedding cache read failed", logging.String("key", key), logging.Err(err))
		}
		return nil, false
	}
	s.local.Set(key, &proj, gocache.DefaultExpiration)
	return &proj, true
}

func (s *serviceImpl) store(ctx context.Context, key string, proj *emb.Projection) {
	s.local.Set(key, proj, gocache.DefaultExpiration)
	if s.shared == nil {
		return
	}
	if err := s.shared.Set(ctx, cacheKeyPrefix+key, proj, s.ttl); err != nil {
		s.logger.Warn("embedding cache write failed", logging.String("key", key), logging.Err(err))
	}
}

func (s *serviceImpl) Invalidate(ctx context.Context, region reference.Region) error {
	prefix := region.Key() + "_"
	for k := range s.local.Items() {
		if strings.HasPrefix(k, prefix) {
			s.local.Delete(k)
		}
	}
	if s.shared == nil {
		return nil
	}
	if _, err := s.shared.DeleteByPrefix(ctx, cacheKeyPrefix+prefix); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeCacheError, "failed to drop cached projections")
	}
	return nil
}
