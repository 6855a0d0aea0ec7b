package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/cortex-engine/entity-core/pkg/types"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Response encoding failed", zap.Error(err))
	}
}

// respondError maps domain errors onto HTTP statuses with a stable
// JSON envelope.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= 500 {
		s.logger.Error("Request failed", zap.Error(err))
	}
	s.respondJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: err.Error(),
	}})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, types.ErrDuplicate):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, types.ErrUnknownType):
		return http.StatusBadRequest, "unknown_type"
	case errors.Is(err, types.ErrAlreadyRegistered):
		return http.StatusConflict, "already_registered"
	case errors.Is(err, types.ErrInvalidJobData):
		return http.StatusBadRequest, "invalid_job_data"
	case errors.Is(err, types.ErrSerialization):
		return http.StatusUnprocessableEntity, "serialization_error"
	case types.IsValidation(err):
		return http.StatusBadRequest, "validation_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) badRequest(w http.ResponseWriter, message string) {
	s.respondJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{
		Code:    "bad_request",
		Message: message,
	}})
}
