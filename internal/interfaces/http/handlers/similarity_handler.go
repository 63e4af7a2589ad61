package handlers

import (
	"net/http"

	"github.com/turtacn/KidneyMatch/internal/application/similarity"
	"github.com/turtacn/KidneyMatch/internal/domain/features"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
)

// SimilarityHandler ranks and compares donor records.
type SimilarityHandler struct {
	svc         similarity.Service
	maxBodySize int64
	logger      logging.Logger
}

func NewSimilarityHandler(svc similarity.Service, maxBodySize int64, logger logging.Logger) *SimilarityHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &SimilarityHandler{svc: svc, maxBodySize: maxBodySize, logger: logger}
}

// RankRequest is the body of POST /api/v1/similarity/{city}.  Limit and
// Rejected of zero take the service defaults; negative values mean all and
// none respectively.
type RankRequest struct {
	Target   features.Vector `json:"target"`
	Mode     string          `json:"mode,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Rejected int             `json:"rejected,omitempty"`
	Features []string        `json:"features,omitempty"`
}

// CompareRequest is the body of POST /api/v1/similarity/{city}/compare.
type CompareRequest struct {
	Target   features.Vector `json:"target"`
	Sequence string          `json:"sequence"`
}

// Rank handles POST /api/v1/similarity/{city}.  A ?limit= query parameter
// applies when the body sets none.
func (h *SimilarityHandler) Rank(w http.ResponseWriter, r *http.Request) {
	region, err := cityParam(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	var req RankRequest
	if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if req.Limit == 0 {
		if req.Limit, err = intQuery(r, "limit", 0); err != nil {
			writeAppError(w, err)
			return
		}
	}
	res, err := h.svc.Rank(r.Context(), &similarity.RankRequest{
		Region:   region,
		Target:   req.Target,
		Mode:     req.Mode,
		Limit:    req.Limit,
		Rejected: req.Rejected,
		Features: req.Features,
	})
	if err != nil {
		logFailure(h.logger, "similarity ranking failed", err, logging.City(region.Name))
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Compare handles POST /api/v1/similarity/{city}/compare.
func (h *SimilarityHandler) Compare(w http.ResponseWriter, r *http.Request) {
	region, err := cityParam(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	var req CompareRequest
	if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
		writeAppError(w, err)
		return
	}
	res, err := h.svc.Compare(r.Context(), region, req.Target, req.Sequence)
	if err != nil {
		logFailure(h.logger, "similarity comparison failed", err,
			logging.City(region.Name), logging.String("sequence", req.Sequence))
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
