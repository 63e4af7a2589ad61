package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/KidneyMatch/internal/application/prediction"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
)

// ModelHandler exposes the model registry.
type ModelHandler struct {
	svc    prediction.Service
	logger logging.Logger
}

func NewModelHandler(svc prediction.Service, logger logging.Logger) *ModelHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ModelHandler{svc: svc, logger: logger}
}

// List handles GET /api/v1/models[?role=baseline|facility|other].
func (h *ModelHandler) List(w http.ResponseWriter, r *http.Request) {
	models, err := h.svc.Models(r.Context(), r.URL.Query().Get("role"))
	if err != nil {
		logFailure(h.logger, "failed to list models", err)
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

// Get handles GET /api/v1/models/{modelID}.
func (h *ModelHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "modelID")
	d, err := h.svc.Model(r.Context(), id)
	if err != nil {
		logFailure(h.logger, "failed to get model", err, logging.ModelID(id))
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
