package tools

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Shamoka80/r2ready-sub010/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results.
// Actionable errors are returned as tool results so the client sees
// their details instead of a transport failure.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for errors the caller can act on (bad parameters, unknown
// assessment, illegal transition).
//
// System failures (lost database connection) should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// NewErrorResultWithDetails creates an error result with additional context.
//
//	return NewErrorResultWithDetails("incomplete_assessment", err.Error(),
//	    map[string]any{"unanswered": ids}), nil
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// ServiceErrorResult converts a service error into a tool result. It returns
// nil for errors that are not actionable; the caller returns those as Go
// errors. Codes match the HTTP API.
func ServiceErrorResult(err error) *mcp.CallToolResult {
	var (
		validation *apperrors.ValidationError
		conflict   *apperrors.ConflictError
		scope      *apperrors.InvalidScopeError
		incomplete *apperrors.IncompleteAssessmentError
		illegal    *apperrors.IllegalTransitionError
	)
	switch {
	case errors.As(err, &validation):
		return NewErrorResultWithDetails("validation_failed", err.Error(), validation)
	case errors.As(err, &conflict):
		return NewErrorResultWithDetails("version_conflict", err.Error(), conflict)
	case errors.As(err, &scope):
		return NewErrorResultWithDetails("invalid_scope", err.Error(), scope)
	case errors.As(err, &incomplete):
		return NewErrorResultWithDetails("incomplete_assessment", err.Error(), incomplete)
	case errors.As(err, &illegal):
		return NewErrorResultWithDetails("illegal_transition", err.Error(), illegal)
	case errors.Is(err, apperrors.ErrTenantIsolation):
		return NewErrorResult("forbidden", "access denied")
	case errors.Is(err, apperrors.ErrNotFound):
		return NewErrorResult("not_found", err.Error())
	default:
		return nil
	}
}
