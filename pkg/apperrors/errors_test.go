package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"validation", Validation("question_id", "unknown question %q", "Q-1"), ErrValidation},
		{"conflict", &ConflictError{Resource: "answer", Expected: 1, Actual: 2}, ErrConflict},
		{"invalid scope", &InvalidScopeError{Scope: []string{"CR1"}, CatalogVersion: "v1"}, ErrInvalidScope},
		{"incomplete", &IncompleteAssessmentError{Unanswered: []string{"Q1"}}, ErrIncompleteAssessment},
		{"illegal transition", &IllegalTransitionError{From: "DRAFT", Action: "APPROVE"}, ErrIllegalTransition},
		{"tenant isolation", &TenantIsolationError{Operation: "answers.list", Reason: "no tenant scope"}, ErrTenantIsolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("failed to do work: %w", tt.err)
			assert.True(t, errors.Is(wrapped, tt.sentinel))
			assert.NotEmpty(t, wrapped.Error())
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("submit: %w", &ConflictError{Resource: "answer"})))
	assert.False(t, IsRetryable(Validation("value", "empty")))
	assert.False(t, IsRetryable(&TenantIsolationError{Operation: "x", Reason: "y"}))
}

func TestValidationError_Message(t *testing.T) {
	assert.Equal(t, "validation failed: value: must not be empty", Validation("value", "must not be empty").Error())
	assert.Equal(t, "validation failed: bad input", (&ValidationError{Reason: "bad input"}).Error())
}
