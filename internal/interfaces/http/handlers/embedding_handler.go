package handlers

import (
	"net/http"

	"github.com/turtacn/KidneyMatch/internal/application/embedding"
	"github.com/turtacn/KidneyMatch/internal/domain/features"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
)

// EmbeddingHandler projects a donor record next to its reference population.
type EmbeddingHandler struct {
	svc         embedding.Service
	maxBodySize int64
	logger      logging.Logger
}

func NewEmbeddingHandler(svc embedding.Service, maxBodySize int64, logger logging.Logger) *EmbeddingHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &EmbeddingHandler{svc: svc, maxBodySize: maxBodySize, logger: logger}
}

// EmbedRequest carries the target record.  TargetRecord is the field name
// older dashboard clients send.
type EmbedRequest struct {
	Target       features.Vector `json:"target"`
	TargetRecord features.Vector `json:"targetRecord"`
}

func (r EmbedRequest) target() features.Vector {
	if r.Target.Len() > 0 {
		return r.Target
	}
	return r.TargetRecord
}

// LegacyEmbedResponse is the body of the /api/tsne alias.
type LegacyEmbedResponse struct {
	Coordinates [][2]float64 `json:"coordinates"`
	RecordID    string       `json:"recordId"`
}

// Embed handles POST /api/v1/embeddings/{city}.
func (h *EmbeddingHandler) Embed(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, false)
}

// Legacy handles POST /api/tsne/{city}: same computation, coordinates only.
func (h *EmbeddingHandler) Legacy(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, true)
}

func (h *EmbeddingHandler) serve(w http.ResponseWriter, r *http.Request, legacy bool) {
	region, err := cityParam(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	var req EmbedRequest
	if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
		writeAppError(w, err)
		return
	}
	proj, err := h.svc.Embed(r.Context(), region, req.target())
	if err != nil {
		logFailure(h.logger, "embedding failed", err, logging.City(region.Name))
		writeAppError(w, err)
		return
	}
	if legacy {
		writeJSON(w, http.StatusOK, LegacyEmbedResponse{Coordinates: proj.Coordinates(), RecordID: proj.RecordID})
		return
	}
	writeJSON(w, http.StatusOK, proj)
}
