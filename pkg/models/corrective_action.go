package models

import (
	"time"

	"github.com/google/uuid"
)

// Corrective action priority values.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Corrective action status values.
const (
	ActionStatusOpen   = "open"
	ActionStatusClosed = "closed"
)

// Corrective action source values.
const (
	ActionSourceScoring    = "scoring"
	ActionSourceConsultant = "consultant"
)

// CorrectiveAction is a remediation task for a non-compliant answer. At most
// one open action exists per (assessment, question).
type CorrectiveAction struct {
	ID            uuid.UUID   `json:"id"`
	TenantID      uuid.UUID   `json:"tenant_id"`
	AssessmentID  uuid.UUID   `json:"assessment_id"`
	QuestionID    string      `json:"question_id"`
	AnswerVersion int64       `json:"answer_version"`
	ClauseID      string      `json:"clause_id"`
	ReviewCycle   int         `json:"review_cycle"`
	Description   string      `json:"description"`
	Priority      string      `json:"priority"`
	DueDate       time.Time   `json:"due_date"`
	CriticalPath  bool        `json:"critical_path"`
	BlockedBy     []uuid.UUID `json:"blocked_by,omitempty"`
	Status        string      `json:"status"`
	Source        string      `json:"source"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	ClosedAt      *time.Time  `json:"closed_at,omitempty"`
}

// IsOpen reports whether the action still needs remediation.
func (a *CorrectiveAction) IsOpen() bool {
	return a.Status == ActionStatusOpen
}

// CorrectiveActionFilter narrows ListCorrectiveActions. Zero values match all.
type CorrectiveActionFilter struct {
	Status      string `json:"status,omitempty"`
	ClauseID    string `json:"clause_id,omitempty"`
	Priority    string `json:"priority,omitempty"`
	ReviewCycle int    `json:"review_cycle,omitempty"`
}

// Matches reports whether the action passes the filter.
func (f CorrectiveActionFilter) Matches(a *CorrectiveAction) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.ClauseID != "" && a.ClauseID != f.ClauseID {
		return false
	}
	if f.Priority != "" && a.Priority != f.Priority {
		return false
	}
	if f.ReviewCycle != 0 && a.ReviewCycle != f.ReviewCycle {
		return false
	}
	return true
}

// Milestone groups the open actions of one clause toward a target date. It is
// computed on read and used for display only.
type Milestone struct {
	ID                uuid.UUID   `json:"id"`
	AssessmentID      uuid.UUID   `json:"assessment_id"`
	ClauseID          string      `json:"clause_id"`
	TargetDate        time.Time   `json:"target_date"`
	ActionIDs         []uuid.UUID `json:"action_ids"`
	CriticalPath      []uuid.UUID `json:"critical_path"`
	CriticalPathScore float64     `json:"critical_path_score"`
}
