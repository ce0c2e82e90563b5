package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowAction is an event fed to the review state machine.
type WorkflowAction string

const (
	ActionSubmitForReview WorkflowAction = "SUBMIT_FOR_REVIEW"
	ActionStartReview     WorkflowAction = "START_REVIEW"
	ActionRequestChanges  WorkflowAction = "REQUEST_CHANGES"
	ActionResubmit        WorkflowAction = "RESUBMIT"
	ActionApprove         WorkflowAction = "APPROVE"
	ActionClose           WorkflowAction = "CLOSE"
	ActionReject          WorkflowAction = "REJECT"
)

// ActorRole is the caller's role as supplied by the auth layer.
type ActorRole string

const (
	RoleBusinessUser ActorRole = "business_user"
	RoleConsultant   ActorRole = "consultant"
	RoleAuditor      ActorRole = "auditor"
	// RoleSystem is used for transitions the engine fires on its own.
	RoleSystem ActorRole = "system"
)

// IsValidActorRole checks if the given role is one a caller may present.
func IsValidActorRole(r ActorRole) bool {
	return r == RoleBusinessUser || r == RoleConsultant || r == RoleAuditor
}

// Transition is one row of the review state machine table.
type Transition struct {
	From   AssessmentStatus
	Action WorkflowAction
	To     AssessmentStatus
	Roles  []ActorRole
}

// Allows reports whether role may fire the transition.
func (t Transition) Allows(role ActorRole) bool {
	for _, r := range t.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// rejectableStages are the stages REJECT may fire from. CERTIFICATION_READY
// already terminates the review workflow and only accepts CLOSE.
var rejectableStages = []AssessmentStatus{
	StatusDraft,
	StatusSubmittedForReview,
	StatusUnderConsultantReview,
	StatusChangesRequested,
}

// WorkflowTransitions is the full state × event table. Any pair not listed
// is illegal.
var WorkflowTransitions = buildTransitionTable()

func buildTransitionTable() []Transition {
	table := []Transition{
		{StatusDraft, ActionSubmitForReview, StatusSubmittedForReview, []ActorRole{RoleBusinessUser}},
		{StatusSubmittedForReview, ActionStartReview, StatusUnderConsultantReview, []ActorRole{RoleConsultant}},
		{StatusUnderConsultantReview, ActionRequestChanges, StatusChangesRequested, []ActorRole{RoleConsultant}},
		{StatusChangesRequested, ActionResubmit, StatusUnderConsultantReview, []ActorRole{RoleBusinessUser, RoleSystem}},
		{StatusUnderConsultantReview, ActionApprove, StatusCertificationReady, []ActorRole{RoleConsultant}},
		{StatusCertificationReady, ActionClose, StatusClosed, []ActorRole{RoleAuditor}},
	}
	for _, s := range rejectableStages {
		table = append(table, Transition{s, ActionReject, StatusRejected, []ActorRole{RoleConsultant, RoleAuditor}})
	}
	return table
}

// LookupTransition finds the table row for (from, action).
func LookupTransition(from AssessmentStatus, action WorkflowAction) (Transition, bool) {
	for _, t := range WorkflowTransitions {
		if t.From == from && t.Action == action {
			return t, true
		}
	}
	return Transition{}, false
}

// ReviewWorkflow is the single review record attached to an assessment. It
// is created on the first transition out of DRAFT and becomes terminal on
// CERTIFICATION_READY or REJECTED.
type ReviewWorkflow struct {
	ID                 uuid.UUID        `json:"id"`
	TenantID           uuid.UUID        `json:"tenant_id"`
	AssessmentID       uuid.UUID        `json:"assessment_id"`
	ClientOrgID        uuid.UUID        `json:"client_org_id"`
	ConsultantTenantID *uuid.UUID       `json:"consultant_tenant_id,omitempty"`
	ConsultantUserID   string           `json:"consultant_user_id,omitempty"`
	AuditorUserID      string           `json:"auditor_user_id,omitempty"`
	Stage              AssessmentStatus `json:"stage"`
	ReviewCycle        int              `json:"review_cycle"`
	SLADueAt           *time.Time       `json:"sla_due_at,omitempty"`
	Terminal           bool             `json:"terminal"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// HasConsultant reports whether a consultant assignment exists.
func (w *ReviewWorkflow) HasConsultant() bool {
	return w.ConsultantUserID != ""
}

// StageRecord is an append-only history row for one workflow transition.
type StageRecord struct {
	ID         uuid.UUID        `json:"id"`
	TenantID   uuid.UUID        `json:"tenant_id"`
	WorkflowID uuid.UUID        `json:"workflow_id"`
	Sequence   int              `json:"sequence"`
	FromStage  AssessmentStatus `json:"from_stage"`
	ToStage    AssessmentStatus `json:"to_stage"`
	Action     WorkflowAction   `json:"action"`
	ActorID    string           `json:"actor_id"`
	ActorRole  ActorRole        `json:"actor_role"`
	Reason     string           `json:"reason,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// WorkflowState is returned by a transition and by workflow reads.
type WorkflowState struct {
	AssessmentID      uuid.UUID        `json:"assessment_id"`
	Status            AssessmentStatus `json:"status"`
	AssessmentVersion int64            `json:"assessment_version"`
	Workflow          *ReviewWorkflow  `json:"workflow,omitempty"`
	History           []*StageRecord   `json:"history"`
}
