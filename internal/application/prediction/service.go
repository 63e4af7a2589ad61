// Package prediction runs uploaded donor records through the selected models.
package prediction

import (
	"context"
	"sort"

	"github.com/turtacn/KidneyMatch/internal/domain/features"
	"github.com/turtacn/KidneyMatch/internal/domain/model"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KidneyMatch/internal/intelligence/common"
	"github.com/turtacn/KidneyMatch/internal/intelligence/scoring"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// MaxRecords bounds one run.
const MaxRecords = 1000

// MaxSampleSize bounds the per-record hybrid count a caller may ask for.
const MaxSampleSize = 500

// Request is a prediction run over records.
type Request struct {
	Records []features.Vector `json:"records"`
	// ModelIDs selects models; empty means every registered model.
	ModelIDs   []string `json:"model_ids,omitempty"`
	SampleSize int      `json:"sample_size,omitempty"`
}

// Runner is the scoring pipeline as the service sees it.
type Runner interface {
	Run(ctx context.Context, req scoring.RunRequest) (*scoring.RunResult, error)
}

// Service orchestrates prediction runs.
type Service interface {
	Run(ctx context.Context, req *Request) (*scoring.RunResult, error)
	Models(ctx context.Context, role string) ([]model.Descriptor, error)
	Model(ctx context.Context, id string) (model.Descriptor, error)
}

// ServiceDeps holds all dependencies.
type ServiceDeps struct {
	Registry common.ModelRegistry
	Runner   Runner
	Logger   logging.Logger
}

type serviceImpl struct {
	registry common.ModelRegistry
	runner   Runner
	logger   logging.Logger
}

// NewService creates a prediction Service.
func NewService(deps ServiceDeps) (Service, error) {
	if deps.Registry == nil || deps.Runner == nil {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "prediction service needs a registry and a runner")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	return &serviceImpl{registry: deps.Registry, runner: deps.Runner, logger: deps.Logger}, nil
}

// Run validates req, resolves its models and scores the records.  A run
// where no scorer batch succeeded for any model still returns its result,
// with NothingSucceeded set.
func (s *serviceImpl) Run(ctx context.Context, req *Request) (*scoring.RunResult, error) {
	if req == nil {
		return nil, apperrors.New(apperrors.ErrCodeBadRequest, "request cannot be nil")
	}
	switch {
	case len(req.Records) == 0:
		return nil, apperrors.New(apperrors.ErrCodeScoringInputInvalid, "at least one record is required")
	case len(req.Records) > MaxRecords:
		return nil, apperrors.Newf(apperrors.ErrCodeScoringInputInvalid, "at most %d records per run", MaxRecords)
	case req.SampleSize < 0 || req.SampleSize > MaxSampleSize:
		return nil, apperrors.Newf(apperrors.ErrCodeScoringInputInvalid, "sample_size must be between 1 and %d", MaxSampleSize)
	}

	models, err := s.registry.Select(ctx, req.ModelIDs)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeModelNotFound, "no models are registered")
	}

	s.logger.Info("prediction run requested",
		logging.Int("records", len(req.Records)),
		logging.Int("models", len(models)),
		logging.Int("sample_size", req.SampleSize))

	res, err := s.runner.Run(ctx, scoring.RunRequest{
		Records:    req.Records,
		Models:     models,
		SampleSize: req.SampleSize,
	})
	if err != nil {
		return nil, err
	}
	if res.NothingSucceeded {
		s.logger.Warn("prediction run produced no scores",
			logging.Int("models_skipped", res.Skipped()))
	}
	return res, nil
}

// Models lists registered models, optionally filtered by role.
func (s *serviceImpl) Models(ctx context.Context, role string) ([]model.Descriptor, error) {
	if role == "" {
		return s.registry.List(ctx)
	}
	r, ok := model.ParseRole(role)
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeBadRequest, "unknown role %q", role)
	}
	return s.registry.ByRole(ctx, r)
}

func (s *serviceImpl) Model(ctx context.Context, id string) (model.Descriptor, error) {
	return s.registry.Get(ctx, id)
}

// SortedMissing flattens a run's skipped models into a stable list for
// display.
func SortedMissing(res *scoring.RunResult) []string {
	ids := make([]string, 0, len(res.MissingFeatures))
	for id := range res.MissingFeatures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
