package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KidneyMatch/internal/application/similarity"
	"github.com/turtacn/KidneyMatch/internal/domain/reference"
	sim "github.com/turtacn/KidneyMatch/internal/intelligence/similarity"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

func TestSimilarityHandler_Rank(t *testing.T) {
	svc := new(mockSimilarityService)
	h := NewSimilarityHandler(svc, 0, nil)

	want := &similarity.RankResult{
		Region:     reference.LA,
		Mode:       sim.ModeStandardized,
		Population: 3,
		Ranked:     3,
		Neighbors: []sim.NeighborMatch{
			{Rank: 1, Distance: 0, Outcome: reference.Accepted, Record: reference.Record{Sequence: "12"}},
		},
	}
	svc.On("Rank", mock.Anything, mock.MatchedBy(func(r *similarity.RankRequest) bool {
		kdpi, _ := r.Target.Number("KDPI")
		return r.Region == reference.LA && r.Mode == "raw" && r.Limit == 5 && r.Rejected == -1 && kdpi == 0.5
	})).Return(want, nil)

	rec := httptest.NewRecorder()
	h.Rank(rec, newRequest(t, http.MethodPost, "/api/v1/similarity/los%20angeles",
		`{"target":{"KDPI":0.5,"AGE_DON":33},"mode":"raw","limit":5,"rejected":-1}`, "city", "Los Angeles"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got similarity.RankResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "LA", got.Region.Name)
	require.Len(t, got.Neighbors, 1)
	assert.Equal(t, "12", got.Neighbors[0].Record.Sequence)
	svc.AssertExpectations(t)
}

func TestSimilarityHandler_Rank_LimitFromQuery(t *testing.T) {
	svc := new(mockSimilarityService)
	h := NewSimilarityHandler(svc, 0, nil)
	svc.On("Rank", mock.Anything, mock.MatchedBy(func(r *similarity.RankRequest) bool {
		return r.Limit == 3
	})).Return(&similarity.RankResult{Region: reference.Boston}, nil)

	rec := httptest.NewRecorder()
	h.Rank(rec, newRequest(t, http.MethodPost, "/api/v1/similarity/boston?limit=3", `{"target":{"KDPI":0.5}}`, "city", "boston"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Rank(rec, newRequest(t, http.MethodPost, "/api/v1/similarity/boston?limit=ten", `{"target":{"KDPI":0.5}}`, "city", "boston"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNumberOfCalls(t, "Rank", 1)
}

func TestSimilarityHandler_Rank_Errors(t *testing.T) {
	tests := []struct {
		name   string
		city   string
		body   string
		err    error
		status int
		code   apperrors.ErrorCode
	}{
		{"unknown city", "atlantis", `{"target":{"KDPI":1}}`, nil, http.StatusBadRequest, apperrors.ErrCodeRegionUnknown},
		{"bad body", "boston", `{"target":`, nil, http.StatusBadRequest, apperrors.ErrCodeBadRequest},
		{"bad mode", "boston", `{"target":{"KDPI":1},"mode":"manhattan"}`,
			apperrors.New(apperrors.ErrCodeSimilarityInputInvalid, "invalid distance mode"), http.StatusBadRequest, apperrors.ErrCodeSimilarityInputInvalid},
		{"no reference file", "baltimore", `{"target":{"KDPI":1}}`,
			apperrors.New(apperrors.ErrCodeReferenceNotFound, "no reference data"), http.StatusNotFound, apperrors.ErrCodeReferenceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockSimilarityService)
			if tt.err != nil {
				svc.On("Rank", mock.Anything, mock.Anything).Return(nil, tt.err)
			}
			h := NewSimilarityHandler(svc, 0, nil)

			rec := httptest.NewRecorder()
			h.Rank(rec, newRequest(t, http.MethodPost, "/api/v1/similarity/"+tt.city, tt.body, "city", tt.city))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, string(tt.code), decodeError(t, rec).Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestSimilarityHandler_Compare(t *testing.T) {
	svc := new(mockSimilarityService)
	h := NewSimilarityHandler(svc, 0, nil)

	cmp := &sim.Comparison{
		Candidate: reference.Record{Sequence: "42"},
		Distance:  0.7,
		Rows:      []sim.FeatureComparison{{Feature: "KDPI"}},
	}
	svc.On("Compare", mock.Anything, reference.Boston, sameNumber("KDPI", 0.2), "42").Return(cmp, nil)
	svc.On("Compare", mock.Anything, reference.Boston, mock.Anything, "404").
		Return(nil, apperrors.New(apperrors.ErrCodeCandidateNotFound, "no record 404"))

	rec := httptest.NewRecorder()
	h.Compare(rec, newRequest(t, http.MethodPost, "/api/v1/similarity/boston/compare",
		`{"target":{"KDPI":0.2},"sequence":"42"}`, "city", "boston"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got sim.Comparison
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 0.7, got.Distance)
	assert.Equal(t, "42", got.Candidate.Sequence)

	rec = httptest.NewRecorder()
	h.Compare(rec, newRequest(t, http.MethodPost, "/api/v1/similarity/boston/compare",
		`{"target":{"KDPI":0.2},"sequence":"404"}`, "city", "boston"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(apperrors.ErrCodeCandidateNotFound), decodeError(t, rec).Code)
}
