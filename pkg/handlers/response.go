package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/apperrors"
)

// ApiResponse is the envelope for every successful API response.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// ServiceErrorBody is written for failed service calls. Details carries the
// typed error's fields so clients can act on them.
type ServiceErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// statusForError maps service errors to an HTTP status and error code.
func statusForError(err error) (int, string, any) {
	var (
		validation *apperrors.ValidationError
		conflict   *apperrors.ConflictError
		scope      *apperrors.InvalidScopeError
		incomplete *apperrors.IncompleteAssessmentError
		illegal    *apperrors.IllegalTransitionError
		isolation  *apperrors.TenantIsolationError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, "validation_failed", validation
	case errors.As(err, &conflict):
		return http.StatusConflict, "version_conflict", conflict
	case errors.As(err, &scope):
		return http.StatusUnprocessableEntity, "invalid_scope", scope
	case errors.As(err, &incomplete):
		return http.StatusUnprocessableEntity, "incomplete_assessment", incomplete
	case errors.As(err, &illegal):
		return http.StatusConflict, "illegal_transition", illegal
	case errors.As(err, &isolation):
		// Operation details stay in the audit log.
		return http.StatusForbidden, "forbidden", nil
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found", nil
	default:
		return http.StatusInternalServerError, "internal_error", nil
	}
}

// WriteServiceError writes the HTTP form of a service error. Unexpected
// errors are logged and their text is not returned to the caller.
func WriteServiceError(w http.ResponseWriter, err error, logger *zap.Logger, msg string) {
	status, code, details := statusForError(err)

	body := ServiceErrorBody{Error: code, Message: err.Error(), Details: details}
	switch status {
	case http.StatusInternalServerError:
		logger.Error(msg, zap.Error(err))
		body.Message = "Internal server error"
	case http.StatusForbidden:
		body.Message = "Access denied"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// writeOK writes a successful ApiResponse.
func writeOK(w http.ResponseWriter, status int, data any, logger *zap.Logger) {
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

// decodeJSON reads the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, logger *zap.Logger) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body: "+err.Error()); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return false
	}
	return true
}
