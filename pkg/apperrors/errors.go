// Package apperrors defines the error taxonomy shared by the compliance core.
//
// Each typed error matches a sentinel through errors.Is so callers can branch on
// the category without caring about the concrete type:
//
//	if errors.Is(err, apperrors.ErrConflict) {
//	    // re-fetch and retry
//	}
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrValidation           = errors.New("validation failed")
	ErrInvalidScope         = errors.New("invalid scope")
	ErrIncompleteAssessment = errors.New("incomplete assessment")
	ErrIllegalTransition    = errors.New("illegal transition")
	ErrTenantIsolation      = errors.New("tenant isolation violation")
)

// ValidationError reports malformed input such as an unknown question ID.
type ValidationError struct {
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Validation builds a ValidationError with a formatted reason.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError is returned for stale writes. It is the only recoverable
// category: the caller re-reads and retries.
type ConflictError struct {
	Resource string `json:"resource"`
	Expected int64  `json:"expected_version,omitempty"`
	Actual   int64  `json:"actual_version"`
	Reason   string `json:"reason,omitempty"`
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Reason)
	}
	return fmt.Sprintf("conflict on %s: expected version %d, current version %d", e.Resource, e.Expected, e.Actual)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// InvalidScopeError means no catalog question matches the facility's REC scope.
type InvalidScopeError struct {
	Scope          []string `json:"scope"`
	CatalogVersion string   `json:"catalog_version"`
}

func (e *InvalidScopeError) Error() string {
	return fmt.Sprintf("no questions in catalog %s match REC scope [%s]", e.CatalogVersion, strings.Join(e.Scope, ","))
}

func (e *InvalidScopeError) Is(target error) bool { return target == ErrInvalidScope }

// IncompleteAssessmentError lists applicable questions that still lack an answer.
type IncompleteAssessmentError struct {
	Unanswered []string `json:"unanswered"`
}

func (e *IncompleteAssessmentError) Error() string {
	return fmt.Sprintf("assessment incomplete: %d applicable question(s) unanswered", len(e.Unanswered))
}

func (e *IncompleteAssessmentError) Is(target error) bool { return target == ErrIncompleteAssessment }

// IllegalTransitionError is returned when an action is not valid from the
// current state, for the given role, or against a read-only assessment.
type IllegalTransitionError struct {
	From   string `json:"from"`
	Action string `json:"action"`
	Role   string `json:"role,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (e *IllegalTransitionError) Error() string {
	msg := fmt.Sprintf("illegal transition: %s from %s", e.Action, e.From)
	if e.Role != "" {
		msg += " as " + e.Role
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }

// TenantIsolationError is always fatal for the request and must be reported
// on the security channel by whoever first observes it.
type TenantIsolationError struct {
	Operation string
	Reason    string
}

func (e *TenantIsolationError) Error() string {
	return fmt.Sprintf("tenant isolation violation in %s: %s", e.Operation, e.Reason)
}

func (e *TenantIsolationError) Is(target error) bool { return target == ErrTenantIsolation }

// IsRetryable reports whether the caller may re-fetch and retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
