// Package similarity finds the historical offers closest to a donor record.
package similarity

import (
	"context"
	"strings"
	"time"

	"github.com/turtacn/KidneyMatch/internal/domain/features"
	"github.com/turtacn/KidneyMatch/internal/domain/reference"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/KidneyMatch/internal/intelligence/scoring"
	sim "github.com/turtacn/KidneyMatch/internal/intelligence/similarity"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

const (
	DefaultTopK      = 10
	DefaultRejectedK = 5
)

// RankRequest asks for the neighbors of Target in Region.
type RankRequest struct {
	Region reference.Region
	Target features.Vector
	Mode   string
	// Limit truncates the ranking; negative returns every record.
	Limit int
	// Rejected is the size of the nearest-rejected view; negative disables it.
	Rejected int
	// Features overrides the region's comparison features.
	Features []string
}

// RankResult is a truncated ranking plus the nearest-rejected view.
type RankResult struct {
	Region          reference.Region    `json:"region"`
	Mode            sim.Mode            `json:"mode"`
	Features        []string            `json:"features"`
	Population      int                 `json:"population"`
	Ranked          int                 `json:"ranked"`
	Dropped         int                 `json:"dropped"`
	Neighbors       []sim.NeighborMatch `json:"neighbors"`
	NearestRejected []sim.NeighborMatch `json:"nearest_rejected,omitempty"`
	DurationMs      float64             `json:"duration_ms"`
}

// Service ranks and compares donor records against reference populations.
type Service interface {
	Rank(ctx context.Context, req *RankRequest) (*RankResult, error)
	Compare(ctx context.Context, region reference.Region, target features.Vector, sequence string) (*sim.Comparison, error)
}

// ServiceDeps holds all dependencies.
type ServiceDeps struct {
	Populations scoring.PopulationSource
	Normalizer  sim.NormalizerConfig
	DefaultMode string
	TopK        int
	RejectedK   int
	Metrics     *prometheus.AppMetrics
	Logger      logging.Logger
}

type serviceImpl struct {
	populations scoring.PopulationSource
	ranker      *sim.Ranker
	defaultMode sim.Mode
	topK        int
	rejectedK   int
	metrics     *prometheus.AppMetrics
	logger      logging.Logger
}

// NewService validates the percentile window and default mode.
func NewService(deps ServiceDeps) (Service, error) {
	if deps.Populations == nil {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "similarity service needs a population source")
	}
	if deps.Normalizer == (sim.NormalizerConfig{}) {
		deps.Normalizer = sim.DefaultNormalizerConfig()
	}
	normalizer, err := sim.NewNormalizer(deps.Normalizer)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid percentile window")
	}
	mode, err := sim.ParseMode(deps.DefaultMode)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid default distance mode")
	}
	s := &serviceImpl{
		populations: deps.Populations,
		ranker:      sim.NewRanker(normalizer),
		defaultMode: mode,
		topK:        deps.TopK,
		rejectedK:   deps.RejectedK,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
	}
	if s.topK == 0 {
		s.topK = DefaultTopK
	}
	if s.rejectedK == 0 {
		s.rejectedK = DefaultRejectedK
	}
	if s.logger == nil {
		s.logger = logging.NewNopLogger()
	}
	return s, nil
}

func (s *serviceImpl) Rank(ctx context.Context, req *RankRequest) (res *RankResult, err error) {
	if req == nil || req.Target.Len() == 0 {
		return nil, apperrors.New(apperrors.ErrCodeSimilarityInputInvalid, "a target record is required")
	}
	mode := s.defaultMode
	if req.Mode != "" {
		if mode, err = sim.ParseMode(req.Mode); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeSimilarityInputInvalid, "invalid distance mode")
		}
	}
	start := time.Now()
	defer func() {
		prometheus.RecordSimilarity(s.metrics, req.Region.Name, string(mode), time.Since(start), err)
	}()

	pop, err := s.populations.Get(ctx, req.Region)
	if err != nil {
		return nil, err
	}
	names := req.Features
	if len(names) == 0 {
		names = reference.ComparisonFeatures(req.Region)
	}
	ranking, err := s.ranker.Rank(req.Target, pop.Records(), names, mode)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit == 0 {
		limit = s.topK
	}
	rejected := req.Rejected
	if rejected == 0 {
		rejected = s.rejectedK
	}
	res = &RankResult{
		Region:     req.Region,
		Mode:       ranking.Mode,
		Features:   ranking.Features,
		Population: pop.Len(),
		Ranked:     ranking.Len(),
		Dropped:    ranking.Dropped(),
		Neighbors:  ranking.Top(limit),
	}
	if rejected > 0 {
		res.NearestRejected = ranking.NearestRejected(rejected)
	}
	res.DurationMs = float64(time.Since(start).Microseconds()) / 1000.0

	s.logger.Debug("similarity ranking computed",
		logging.City(req.Region.Name),
		logging.String("mode", string(mode)),
		logging.Int("ranked", res.Ranked),
		logging.Int("dropped", res.Dropped))
	return res, nil
}

// Compare breaks the standardized distance between target and the record
// with the given sequence id down by feature.
func (s *serviceImpl) Compare(ctx context.Context, region reference.Region, target features.Vector, sequence string) (res *sim.Comparison, err error) {
	sequence = strings.TrimSpace(sequence)
	if target.Len() == 0 || sequence == "" {
		return nil, apperrors.New(apperrors.ErrCodeSimilarityInputInvalid, "a target record and a candidate sequence are required")
	}
	start := time.Now()
	defer func() {
		prometheus.RecordSimilarity(s.metrics, region.Name, "compare", time.Since(start), err)
	}()

	pop, err := s.populations.Get(ctx, region)
	if err != nil {
		return nil, err
	}
	candidate, ok := pop.FindBySequence(sequence)
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeCandidateNotFound,
			"no %s reference record with sequence %s", region.Name, sequence)
	}
	return s.ranker.Compare(target, candidate, pop.Records(), reference.ComparisonFeatures(region)), nil
}
