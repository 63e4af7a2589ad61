package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/turtacn/KidneyMatch/internal/application/reference"
	domain "github.com/turtacn/KidneyMatch/internal/domain/reference"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
)

// Invalidator drops derived state for a region when its reference data
// changes.
type Invalidator interface {
	Invalidate(ctx context.Context, region domain.Region) error
}

// ReferenceHandler serves and manages reference populations.
type ReferenceHandler struct {
	store       reference.Store
	dependents  []Invalidator
	maxBodySize int64
	logger      logging.Logger
}

// NewReferenceHandler creates a ReferenceHandler.  dependents are
// invalidated after the store whenever a region is invalidated or uploaded.
func NewReferenceHandler(store reference.Store, maxBodySize int64, logger logging.Logger, dependents ...Invalidator) *ReferenceHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ReferenceHandler{store: store, dependents: dependents, maxBodySize: maxBodySize, logger: logger}
}

// UploadResponse reports an accepted reference file.
type UploadResponse struct {
	Region   domain.Region `json:"region"`
	Rows     int           `json:"rows"`
	Uploaded time.Time     `json:"uploaded_at"`
}

// Status handles GET /api/v1/reference-data.
func (h *ReferenceHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Cached())
}

// Get handles GET /api/v1/reference-data/{city}.  The body is the bare array
// of records, the same shape the HTTP reference loader consumes.
func (h *ReferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	region, err := cityParam(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	pop, err := h.store.Get(r.Context(), region)
	if err != nil {
		logFailure(h.logger, "failed to load reference data", err, logging.City(region.Name))
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pop.Vectors())
}

// Invalidate handles DELETE /api/v1/reference-data/{city}.
func (h *ReferenceHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	region, err := cityParam(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if err := h.store.Invalidate(r.Context(), region); err != nil {
		logFailure(h.logger, "failed to invalidate reference data", err, logging.City(region.Name))
		writeAppError(w, err)
		return
	}
	if err := h.invalidateDependents(r.Context(), region); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Upload handles PUT /api/v1/reference-data/{city} with a text/csv body.
func (h *ReferenceHandler) Upload(w http.ResponseWriter, r *http.Request) {
	region, err := cityParam(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	body, err := readBody(w, r, h.maxBodySize)
	if err != nil {
		writeAppError(w, err)
		return
	}
	rows, err := h.store.Upload(r.Context(), region, body)
	if err != nil {
		logFailure(h.logger, "reference upload rejected", err, logging.City(region.Name))
		writeAppError(w, err)
		return
	}
	if err := h.invalidateDependents(r.Context(), region); err != nil {
		writeAppError(w, err)
		return
	}
	h.logger.Info("reference data uploaded", logging.City(region.Name), logging.Int("rows", rows))
	writeJSON(w, http.StatusOK, UploadResponse{Region: region, Rows: rows, Uploaded: time.Now().UTC()})
}

func (h *ReferenceHandler) invalidateDependents(ctx context.Context, region domain.Region) error {
	for _, d := range h.dependents {
		if err := d.Invalidate(ctx, region); err != nil {
			logFailure(h.logger, "failed to invalidate derived data", err, logging.City(region.Name))
			return err
		}
	}
	return nil
}
