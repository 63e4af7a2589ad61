package prediction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KidneyMatch/internal/domain/features"
	"github.com/turtacn/KidneyMatch/internal/domain/model"
	"github.com/turtacn/KidneyMatch/internal/intelligence/common"
	"github.com/turtacn/KidneyMatch/internal/intelligence/scoring"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

type mockRunner struct {
	runFn func(ctx context.Context, req scoring.RunRequest) (*scoring.RunResult, error)
	last  scoring.RunRequest
}

func (m *mockRunner) Run(ctx context.Context, req scoring.RunRequest) (*scoring.RunResult, error) {
	m.last = req
	if m.runFn != nil {
		return m.runFn(ctx, req)
	}
	return &scoring.RunResult{Records: len(req.Records), MissingFeatures: map[string][]string{}}, nil
}

func testRegistry(t *testing.T) common.ModelRegistry {
	t.Helper()
	cat, err := model.NewCatalog([]model.RawDescriptor{
		{ID: "bos-base", Name: "Boston baseline", Type: "baseline", Features: []string{"AGE_DON", "KDPI"}},
		{ID: "bos-fac", Name: "Boston facility", Type: "facility", Features: []string{"baseline_prob", "KDPI"}},
		{ID: "generic", Name: "Generic model", Features: []string{"KDPI"}},
	})
	require.NoError(t, err)
	return common.NewStaticModelRegistry(cat)
}

func newTestService(t *testing.T, runner Runner) Service {
	t.Helper()
	svc, err := NewService(ServiceDeps{Registry: testRegistry(t), Runner: runner})
	require.NoError(t, err)
	return svc
}

func records(n int) []features.Vector {
	out := make([]features.Vector, n)
	for i := range out {
		out[i] = features.FromMap(map[string]interface{}{"AGE_DON": 40 + i, "KDPI": 0.5})
	}
	return out
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(ServiceDeps{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestRun_AllModelsByDefault(t *testing.T) {
	runner := &mockRunner{}
	svc := newTestService(t, runner)

	res, err := svc.Run(context.Background(), &Request{Records: records(2), SampleSize: 50})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Records)
	assert.Len(t, runner.last.Models, 3)
	assert.Equal(t, 50, runner.last.SampleSize)
}

func TestRun_SelectedModels(t *testing.T) {
	runner := &mockRunner{}
	svc := newTestService(t, runner)

	_, err := svc.Run(context.Background(), &Request{Records: records(1), ModelIDs: []string{"generic"}})
	require.NoError(t, err)
	require.Len(t, runner.last.Models, 1)
	assert.Equal(t, "generic", runner.last.Models[0].ID)

	_, err = svc.Run(context.Background(), &Request{Records: records(1), ModelIDs: []string{"nope"}})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeModelNotFound))
}

func TestRun_InvalidRequests(t *testing.T) {
	svc := newTestService(t, &mockRunner{})
	tests := []struct {
		name string
		req  *Request
		code apperrors.ErrorCode
	}{
		{"nil", nil, apperrors.ErrCodeBadRequest},
		{"no records", &Request{}, apperrors.ErrCodeScoringInputInvalid},
		{"too many records", &Request{Records: make([]features.Vector, MaxRecords+1)}, apperrors.ErrCodeScoringInputInvalid},
		{"negative sample", &Request{Records: records(1), SampleSize: -1}, apperrors.ErrCodeScoringInputInvalid},
		{"huge sample", &Request{Records: records(1), SampleSize: MaxSampleSize + 1}, apperrors.ErrCodeScoringInputInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Run(context.Background(), tt.req)
			assert.True(t, apperrors.IsCode(err, tt.code), err)
		})
	}
}

func TestRun_NothingSucceededIsReturned(t *testing.T) {
	runner := &mockRunner{runFn: func(_ context.Context, req scoring.RunRequest) (*scoring.RunResult, error) {
		return &scoring.RunResult{
			NothingSucceeded: true,
			MissingFeatures:  map[string][]string{"generic": {"KDPI"}},
			Records:          len(req.Records),
		}, nil
	}}
	svc := newTestService(t, runner)
	res, err := svc.Run(context.Background(), &Request{Records: records(1)})
	require.NoError(t, err)
	assert.True(t, res.NothingSucceeded)
	assert.Equal(t, []string{"generic"}, SortedMissing(res))
}

func TestRun_RunnerErrorPropagates(t *testing.T) {
	runner := &mockRunner{runFn: func(ctx context.Context, _ scoring.RunRequest) (*scoring.RunResult, error) {
		return nil, apperrors.New(apperrors.ErrCodeReferenceLoadFailed, "no reference data for region Boston")
	}}
	svc := newTestService(t, runner)
	_, err := svc.Run(context.Background(), &Request{Records: records(1)})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeReferenceLoadFailed))
}

func TestModels(t *testing.T) {
	svc := newTestService(t, &mockRunner{})

	all, err := svc.Models(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	facility, err := svc.Models(context.Background(), "facility")
	require.NoError(t, err)
	require.Len(t, facility, 1)
	assert.Equal(t, "bos-fac", facility[0].ID)

	_, err = svc.Models(context.Background(), "wizard")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeBadRequest))

	d, err := svc.Model(context.Background(), "bos-base")
	require.NoError(t, err)
	assert.Equal(t, model.RoleBaseline, d.Role)
}
