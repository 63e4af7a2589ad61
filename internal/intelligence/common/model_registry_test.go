package common

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KidneyMatch/internal/domain/model"
	"github.com/turtacn/KidneyMatch/internal/domain/reference"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// ---------------------------------------------------------------------------
// Mock ModelSource
// ---------------------------------------------------------------------------

type mockModelSource struct {
	mu    sync.Mutex
	raws  []model.RawDescriptor
	err   error
	calls int
}

func (m *mockModelSource) Name() string { return "mock" }

func (m *mockModelSource) Fetch(context.Context) ([]model.RawDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.raws, nil
}

func (m *mockModelSource) set(raws []model.RawDescriptor, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raws, m.err = raws, err
}

func testDescriptors() []model.RawDescriptor {
	return []model.RawDescriptor{
		{ID: "m1", Name: "Boston Baseline", Type: "baseline", Features: []string{"AGE_DON", "KDPI"}},
		{ID: "m2", Name: "Boston Facility", Type: "facility", Features: []string{"AGE_DON", "baseline_prob"}},
		{ID: "m3", Name: "LA Baseline", Type: "baseline", Features: []string{"AGE_DON"}},
		{ID: "m4", Name: "Discard risk", Type: "xgboost", Features: []string{"CREAT_DON"}},
	}
}

func newTestRegistry(t *testing.T, src ModelSource, metrics IntelligenceMetrics) ModelRegistry {
	t.Helper()
	r, err := NewModelRegistry(src, metrics, logging.NewNopLogger())
	require.NoError(t, err)
	return r
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestNewModelRegistry_NilSource(t *testing.T) {
	_, err := NewModelRegistry(nil, nil, nil)
	assert.Error(t, err)
}

func TestModelRegistry_NotLoaded(t *testing.T) {
	r := newTestRegistry(t, &mockModelSource{}, nil)
	_, err := r.List(context.Background())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeServiceUnavailable))

	_, err = r.HealthCheck(context.Background())
	assert.Error(t, err)
}

func TestModelRegistry_Load(t *testing.T) {
	metrics := NewInMemoryIntelligenceMetrics()
	src := &mockModelSource{raws: testDescriptors()}
	r := newTestRegistry(t, src, metrics)
	ctx := context.Background()

	require.NoError(t, r.Load(ctx))

	all, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)

	d, err := r.Get(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, model.RoleFacility, d.Role)
	assert.Equal(t, reference.Boston, d.Region)
	assert.Equal(t, []string{"AGE_DON", "Boston_baseline_prob"}, d.RequiredFeatures())

	baselines, err := r.ByRole(ctx, model.RoleBaseline)
	require.NoError(t, err)
	assert.Len(t, baselines, 2)

	h, err := r.HealthCheck(ctx)
	require.NoError(t, err)
	assert.True(t, h.Healthy)
	assert.Equal(t, 4, h.Models)
	assert.Equal(t, 2, h.Baselines)
	assert.Equal(t, 1, h.Facility)
	assert.Equal(t, 1, h.Other)

	loads := metrics.ModelLoads()
	require.Len(t, loads, 1)
	assert.True(t, loads[0].Success)
	assert.Equal(t, 4, loads[0].Models)
}

func TestModelRegistry_GetUnknown(t *testing.T) {
	r := newTestRegistry(t, &mockModelSource{raws: testDescriptors()}, nil)
	require.NoError(t, r.Load(context.Background()))

	_, err := r.Get(context.Background(), "nope")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeModelNotFound))
	assert.True(t, apperrors.IsNotFound(err))
}

func TestModelRegistry_Select(t *testing.T) {
	r := newTestRegistry(t, &mockModelSource{raws: testDescriptors()}, nil)
	ctx := context.Background()
	require.NoError(t, r.Load(ctx))

	got, err := r.Select(ctx, []string{"m4", "m1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, "m4", got[1].ID)

	_, err = r.Select(ctx, []string{"m9"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeModelNotFound))
}

func TestModelRegistry_SourceFailure(t *testing.T) {
	metrics := NewInMemoryIntelligenceMetrics()
	r := newTestRegistry(t, &mockModelSource{err: errors.New("connection refused")}, metrics)

	err := r.Load(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeModelSourceFailed))
	require.Len(t, metrics.ModelLoads(), 1)
	assert.False(t, metrics.ModelLoads()[0].Success)
}

func TestModelRegistry_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		raws []model.RawDescriptor
		code apperrors.ErrorCode
	}{
		{
			name: "ambiguous region",
			raws: []model.RawDescriptor{{ID: "x", Name: "Boston LA Baseline", Type: "baseline", Features: []string{"A"}}},
			code: apperrors.ErrCodeRegionAmbiguous,
		},
		{
			name: "baseline without region",
			raws: []model.RawDescriptor{{ID: "x", Name: "National Baseline", Type: "baseline", Features: []string{"A"}}},
			code: apperrors.ErrCodeModelConfigInvalid,
		},
		{
			name: "facility without baseline",
			raws: []model.RawDescriptor{{ID: "x", Name: "LA Facility", Type: "facility", Features: []string{"baseline_prob"}}},
			code: apperrors.ErrCodeBaselineMissing,
		},
		{
			name: "duplicate id",
			raws: []model.RawDescriptor{
				{ID: "x", Name: "LA Baseline", Type: "baseline", Features: []string{"A"}},
				{ID: "x", Name: "LA Baseline 2", Type: "baseline", Features: []string{"A"}},
			},
			code: apperrors.ErrCodeModelAlreadyRegistered,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t, &mockModelSource{raws: tt.raws}, nil)
			err := r.Load(context.Background())
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, tt.code), "got %v", err)
			assert.True(t, apperrors.IsConfiguration(err) || tt.code == apperrors.ErrCodeModelAlreadyRegistered)
		})
	}
}

func TestModelRegistry_FailedReloadKeepsPreviousCatalog(t *testing.T) {
	src := &mockModelSource{raws: testDescriptors()}
	r := newTestRegistry(t, src, nil)
	ctx := context.Background()
	require.NoError(t, r.Load(ctx))

	src.set(nil, errors.New("timeout"))
	require.Error(t, r.Load(ctx))

	all, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestNewStaticModelRegistry(t *testing.T) {
	catalog, err := model.NewCatalog(testDescriptors())
	require.NoError(t, err)

	r := NewStaticModelRegistry(catalog)
	d, err := r.Get(context.Background(), "m3")
	require.NoError(t, err)
	assert.Equal(t, reference.LA, d.Region)
	assert.Error(t, r.Load(context.Background()))
}
