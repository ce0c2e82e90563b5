package models

import (
	"time"

	"github.com/google/uuid"
)

// Workflow event types written to the outbox.
const (
	EventAnswerSubmitted    = "answer.submitted"
	EventWorkflowTransition = "workflow.transitioned"
	EventActionOpened       = "corrective_action.opened"
	EventActionClosed       = "corrective_action.closed"
	EventConsultantAssigned = "workflow.consultant_assigned"
)

// WorkflowEvent is an outbox row. It is written in the same transaction as
// the state change it describes and published later by the relay.
type WorkflowEvent struct {
	ID           uuid.UUID      `json:"id"`
	TenantID     uuid.UUID      `json:"tenant_id"`
	AssessmentID uuid.UUID      `json:"assessment_id"`
	Type         string         `json:"type"`
	Payload      map[string]any `json:"payload,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	PublishedAt  *time.Time     `json:"published_at,omitempty"`
}
