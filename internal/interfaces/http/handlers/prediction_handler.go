package handlers

import (
	"net/http"

	"github.com/turtacn/KidneyMatch/internal/application/prediction"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// PredictionHandler runs prediction requests.
type PredictionHandler struct {
	svc         prediction.Service
	maxBodySize int64
	logger      logging.Logger
}

func NewPredictionHandler(svc prediction.Service, maxBodySize int64, logger logging.Logger) *PredictionHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &PredictionHandler{svc: svc, maxBodySize: maxBodySize, logger: logger}
}

// Run handles POST /api/v1/predictions.
//
// A run in which no model could be scored answers 502 with code SCR_004 and
// the partitioned result in "details", so callers still see which models
// were skipped and why.
func (h *PredictionHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req prediction.Request
	if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
		writeAppError(w, err)
		return
	}

	res, err := h.svc.Run(r.Context(), &req)
	if err != nil {
		logFailure(h.logger, "prediction run failed", err, logging.Int("records", len(req.Records)))
		writeAppError(w, err)
		return
	}
	if res.NothingSucceeded {
		writeAppErrorWithDetails(w,
			apperrors.New(apperrors.ErrCodeNothingSucceeded, apperrors.DefaultMessageForCode(apperrors.ErrCodeNothingSucceeded)),
			res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
