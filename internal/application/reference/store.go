// Package reference serves regional reference populations to the scoring,
// similarity and embedding services, caching each one after its first load.
package reference

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/KidneyMatch/internal/domain/features"
	domain "github.com/turtacn/KidneyMatch/internal/domain/reference"
	redisinfra "github.com/turtacn/KidneyMatch/internal/infrastructure/database/redis"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/referencedata"
	"github.com/turtacn/KidneyMatch/internal/intelligence/common"
	"github.com/turtacn/KidneyMatch/internal/intelligence/scoring"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

const (
	cacheName      = "reference"
	cacheKeyPrefix = "reference:"
)

// Store loads and caches reference populations.
type Store interface {
	Get(ctx context.Context, region domain.Region) (*domain.Population, error)
	Invalidate(ctx context.Context, region domain.Region) error
	InvalidateAll(ctx context.Context) error
	Upload(ctx context.Context, region domain.Region, data []byte) (int, error)
	Cached() []Status
}

// Status describes one cached population.
type Status struct {
	Region   domain.Region `json:"region"`
	Records  int           `json:"records"`
	LoadedAt time.Time     `json:"loaded_at"`
}

// StoreDeps holds the Store collaborators.  Cache, metrics and logger are
// optional.
type StoreDeps struct {
	Loader       referencedata.Loader
	Cache        redisinfra.Cache
	TTL          time.Duration
	Metrics      *prometheus.AppMetrics
	IntelMetrics common.IntelligenceMetrics
	Logger       logging.Logger
}

type entry struct {
	pop       *domain.Population
	expiresAt time.Time
}

type store struct {
	loader  referencedata.Loader
	cache   redisinfra.Cache
	ttl     time.Duration
	metrics *prometheus.AppMetrics
	intel   common.IntelligenceMetrics
	logger  logging.Logger

	mu      sync.RWMutex
	entries map[string]entry
	// gen advances on every invalidation so loads started before it do not
	// repopulate the cache.
	gen     uint64
	group   singleflight.Group
	now     func() time.Time
}

var _ scoring.PopulationSource = (Store)(nil)

// NewStore builds a Store over deps.Loader.  A zero TTL keeps populations
// until they are invalidated.
func NewStore(deps StoreDeps) (Store, error) {
	if deps.Loader == nil {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "reference loader is required")
	}
	s := &store{
		loader:  deps.Loader,
		cache:   deps.Cache,
		ttl:     deps.TTL,
		metrics: deps.Metrics,
		intel:   deps.IntelMetrics,
		logger:  deps.Logger,
		entries: make(map[string]entry),
		now:     time.Now,
	}
	if s.intel == nil {
		s.intel = common.NewNoopIntelligenceMetrics()
	}
	if s.logger == nil {
		s.logger = logging.NewNopLogger()
	}
	return s, nil
}

func cacheKey(region domain.Region) string { return cacheKeyPrefix + region.Key() }

func (s *store) lookup(region domain.Region) (*domain.Population, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[region.Key()]
	if !ok || (!e.expiresAt.IsZero() && s.now().After(e.expiresAt)) {
		return nil, false
	}
	return e.pop, true
}

// Get returns the population of region.  Concurrent misses on one region
// share a single load; a failed load is not cached.
func (s *store) Get(ctx context.Context, region domain.Region) (*domain.Population, error) {
	if region.IsZero() {
		return nil, apperrors.New(apperrors.ErrCodeRegionUnknown, "region is required")
	}
	if pop, ok := s.lookup(region); ok {
		s.intel.RecordCacheAccess(ctx, true, cacheName)
		return pop, nil
	}
	s.intel.RecordCacheAccess(ctx, false, cacheName)

	ch := s.group.DoChan(region.Key(), func() (interface{}, error) {
		if pop, ok := s.lookup(region); ok {
			return pop, nil
		}
		// The load outlives any single caller; each caller still honours
		// its own context below.
		return s.load(context.WithoutCancel(ctx), region)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Population), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *store) load(ctx context.Context, region domain.Region) (*domain.Population, error) {
	start := time.Now()
	source := s.loader.Name()
	s.mu.RLock()
	gen := s.gen
	s.mu.RUnlock()

	rows, fromCache := s.readL2(ctx, region)
	if fromCache {
		source = "redis"
	} else {
		var err error
		rows, err = s.loader.Load(ctx, region)
		if err != nil {
			prometheus.RecordReferenceLoad(s.metrics, region.Name, source, 0, time.Since(start), err)
			s.logger.Error("reference load failed", logging.City(region.Name),
				logging.String("source", source), logging.Err(err))
			return nil, err
		}
	}

	pop, err := domain.NewPopulation(region, rows)
	if err != nil {
		prometheus.RecordReferenceLoad(s.metrics, region.Name, source, 0, time.Since(start), err)
		return nil, err
	}
	e := entry{pop: pop}
	if s.ttl > 0 {
		e.expiresAt = s.now().Add(s.ttl)
	}
	s.mu.Lock()
	current := s.gen == gen
	if current {
		s.entries[region.Key()] = e
	}
	s.mu.Unlock()
	if current && !fromCache {
		s.writeL2(ctx, region, rows)
	}

	prometheus.RecordReferenceLoad(s.metrics, region.Name, source, pop.Len(), time.Since(start), nil)
	s.logger.Info("reference population loaded", logging.City(region.Name),
		logging.String("source", source), logging.Int("records", pop.Len()),
		logging.Duration("took", time.Since(start)))
	return pop, nil
}

func (s *store) readL2(ctx context.Context, region domain.Region) ([]features.Vector, bool) {
	if s.cache == nil {
		return nil, false
	}
	var rows []features.Vector
	err := s.cache.Get(ctx, cacheKey(region), &rows)
	switch {
	case err == nil && len(rows) > 0:
		return rows, true
	case err != nil && !apperrors.IsNotFound(err):
		s.logger.Warn("reference cache read failed", logging.City(region.Name), logging.Err(err))
	}
	return nil, false
}

func (s *store) writeL2(ctx context.Context, region domain.Region, rows []features.Vector) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(region), rows, s.ttl); err != nil {
		s.logger.Warn("reference cache write failed", logging.City(region.Name), logging.Err(err))
	}
}

// Invalidate drops region from both cache tiers.  The next Get reloads it.
func (s *store) Invalidate(ctx context.Context, region domain.Region) error {
	s.mu.Lock()
	delete(s.entries, region.Key())
	s.gen++
	s.mu.Unlock()
	s.group.Forget(region.Key())
	prometheus.RecordReferenceInvalidation(s.metrics, region.Name)

	if s.cache != nil {
		if err := s.cache.Delete(ctx, cacheKey(region)); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeCacheError, "failed to drop cached reference data")
		}
	}
	s.logger.Info("reference population invalidated", logging.City(region.Name))
	return nil
}

func (s *store) InvalidateAll(ctx context.Context) error {
	s.mu.Lock()
	s.entries = make(map[string]entry)
	s.gen++
	s.mu.Unlock()
	for _, r := range domain.Regions() {
		s.group.Forget(r.Key())
		prometheus.RecordReferenceInvalidation(s.metrics, r.Name)
	}
	if s.cache != nil {
		if _, err := s.cache.DeleteByPrefix(ctx, cacheKeyPrefix); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeCacheError, "failed to drop cached reference data")
		}
	}
	s.logger.Info("all reference populations invalidated")
	return nil
}

// Upload replaces the stored file of region and invalidates it.  Only
// loaders backed by writable storage support it.
func (s *store) Upload(ctx context.Context, region domain.Region, data []byte) (int, error) {
	up, ok := s.loader.(referencedata.Uploader)
	if !ok {
		return 0, apperrors.New(apperrors.ErrCodeNotImplemented,
			"reference source "+s.loader.Name()+" does not accept uploads")
	}
	n, err := up.Upload(ctx, region, data)
	if err != nil {
		return 0, err
	}
	return n, s.Invalidate(ctx, region)
}

// Cached lists the populations currently held in process.
func (s *store) Cached() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Status
	for _, r := range domain.Regions() {
		if e, ok := s.entries[r.Key()]; ok {
			out = append(out, Status{Region: r, Records: e.pop.Len(), LoadedAt: e.pop.LoadedAt()})
		}
	}
	return out
}
