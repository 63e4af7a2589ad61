// Package handlers holds the HTTP handlers of the KidneyMatch API.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/KidneyMatch/internal/domain/reference"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// DefaultMaxBodySize bounds request bodies when a handler is built without
// an explicit limit.
const DefaultMaxBodySize int64 = 10 << 20

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Detail  string      `json:"detail,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeAppError maps err to its code's HTTP status.  Errors that carry no
// code are masked as internal errors.
func writeAppError(w http.ResponseWriter, err error) {
	writeAppErrorWithDetails(w, err, nil)
}

func writeAppErrorWithDetails(w http.ResponseWriter, err error, details interface{}) {
	code := apperrors.GetCode(err)
	if code == apperrors.CodeUnknown || code == apperrors.CodeOK {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Code:    string(apperrors.ErrCodeInternal),
			Message: apperrors.DefaultMessageForCode(apperrors.ErrCodeInternal),
		})
		return
	}
	resp := ErrorResponse{Code: string(code), Message: err.Error(), Details: details}
	var ae *apperrors.AppError
	if stderrors.As(err, &ae) {
		resp.Message = ae.Message
		resp.Detail = ae.Detail
	}
	writeJSON(w, apperrors.HTTPStatusForCode(code), resp)
}

// decodeJSON reads a JSON body of at most limit bytes into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst interface{}) error {
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return apperrors.New(apperrors.ErrCodeBadRequest, "request body is empty")
		}
		return apperrors.Wrap(err, apperrors.ErrCodeBadRequest, "invalid request body")
	}
	return nil
}

// readBody reads a raw body of at most limit bytes.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeBadRequest, "failed to read request body")
	}
	if len(b) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeBadRequest, "request body is empty")
	}
	return b, nil
}

// cityParam resolves the {city} path segment.
func cityParam(r *http.Request) (reference.Region, error) {
	return reference.ParseRegion(chi.URLParam(r, "city"))
}

// intQuery parses an optional integer query parameter, returning def when it
// is absent.
func intQuery(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperrors.Newf(apperrors.ErrCodeBadRequest, "%s must be an integer", name)
	}
	return n, nil
}

// logFailure logs a handler error at a level matching its status.
func logFailure(logger logging.Logger, msg string, err error, fields ...logging.Field) {
	fields = append(fields, logging.Err(err), logging.String(logging.KeyErrorCode, string(apperrors.GetCode(err))))
	if apperrors.IsServerError(apperrors.GetCode(err)) || apperrors.GetCode(err) == apperrors.CodeUnknown {
		logger.Error(msg, fields...)
		return
	}
	logger.Warn(msg, fields...)
}
