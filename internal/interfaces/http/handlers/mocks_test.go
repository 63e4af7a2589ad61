package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KidneyMatch/internal/application/prediction"
	"github.com/turtacn/KidneyMatch/internal/application/reference"
	"github.com/turtacn/KidneyMatch/internal/application/similarity"
	"github.com/turtacn/KidneyMatch/internal/domain/features"
	"github.com/turtacn/KidneyMatch/internal/domain/model"
	domain "github.com/turtacn/KidneyMatch/internal/domain/reference"
	"github.com/turtacn/KidneyMatch/internal/intelligence/embedding"
	"github.com/turtacn/KidneyMatch/internal/intelligence/scoring"
	sim "github.com/turtacn/KidneyMatch/internal/intelligence/similarity"
)

// --- Mock prediction service ---

type mockPredictionService struct {
	mock.Mock
}

func (m *mockPredictionService) Run(ctx context.Context, req *prediction.Request) (*scoring.RunResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scoring.RunResult), args.Error(1)
}

func (m *mockPredictionService) Models(ctx context.Context, role string) ([]model.Descriptor, error) {
	args := m.Called(ctx, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Descriptor), args.Error(1)
}

func (m *mockPredictionService) Model(ctx context.Context, id string) (model.Descriptor, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Descriptor), args.Error(1)
}

// --- Mock similarity service ---

type mockSimilarityService struct {
	mock.Mock
}

func (m *mockSimilarityService) Rank(ctx context.Context, req *similarity.RankRequest) (*similarity.RankResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*similarity.RankResult), args.Error(1)
}

func (m *mockSimilarityService) Compare(ctx context.Context, region domain.Region, target features.Vector, sequence string) (*sim.Comparison, error) {
	args := m.Called(ctx, region, target, sequence)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sim.Comparison), args.Error(1)
}

// --- Mock embedding service ---

type mockEmbeddingService struct {
	mock.Mock
}

func (m *mockEmbeddingService) Embed(ctx context.Context, region domain.Region, target features.Vector) (*embedding.Projection, error) {
	args := m.Called(ctx, region, target)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*embedding.Projection), args.Error(1)
}

func (m *mockEmbeddingService) Invalidate(ctx context.Context, region domain.Region) error {
	return m.Called(ctx, region).Error(0)
}

// --- Mock reference store ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Get(ctx context.Context, region domain.Region) (*domain.Population, error) {
	args := m.Called(ctx, region)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Population), args.Error(1)
}

func (m *mockStore) Invalidate(ctx context.Context, region domain.Region) error {
	return m.Called(ctx, region).Error(0)
}

func (m *mockStore) InvalidateAll(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Upload(ctx context.Context, region domain.Region, data []byte) (int, error) {
	args := m.Called(ctx, region, data)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) Cached() []reference.Status {
	return m.Called().Get(0).([]reference.Status)
}

// --- helpers ---

// newRequest builds a request with chi URL params set, as the router would.
func newRequest(t *testing.T, method, target string, body interface{}, params ...string) *http.Request {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		buf, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, target, rd)
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(params); i += 2 {
		rctx.URLParams.Add(params[i], params[i+1])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func vec(kv ...interface{}) features.Vector {
	b := features.NewBuilder(len(kv) / 2)
	for i := 0; i+1 < len(kv); i += 2 {
		b.Set(kv[i].(string), features.Of(kv[i+1]))
	}
	return b.Build()
}

func sameNumber(key string, want float64) interface{} {
	return mock.MatchedBy(func(v features.Vector) bool {
		got, ok := v.Number(key)
		return ok && got == want
	})
}
