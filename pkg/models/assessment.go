package models

import (
	"time"

	"github.com/google/uuid"
)

// AssessmentStatus is the review workflow stage mirrored on the assessment.
type AssessmentStatus string

const (
	StatusDraft                 AssessmentStatus = "DRAFT"
	StatusSubmittedForReview    AssessmentStatus = "SUBMITTED_FOR_REVIEW"
	StatusUnderConsultantReview AssessmentStatus = "UNDER_CONSULTANT_REVIEW"
	StatusChangesRequested      AssessmentStatus = "CHANGES_REQUESTED"
	StatusCertificationReady    AssessmentStatus = "CERTIFICATION_READY"
	StatusClosed                AssessmentStatus = "CLOSED"
	StatusRejected              AssessmentStatus = "REJECTED"
)

// ValidAssessmentStatuses contains all valid status values.
var ValidAssessmentStatuses = []AssessmentStatus{
	StatusDraft,
	StatusSubmittedForReview,
	StatusUnderConsultantReview,
	StatusChangesRequested,
	StatusCertificationReady,
	StatusClosed,
	StatusRejected,
}

// IsValidAssessmentStatus checks if the given status is valid.
func IsValidAssessmentStatus(s AssessmentStatus) bool {
	for _, v := range ValidAssessmentStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further workflow transition is possible.
func (s AssessmentStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusRejected
}

// Assessment is one facility's self-assessment for a certification cycle.
// Version is bumped on each status change; AnswerRevision on each answer write.
type Assessment struct {
	ID                 uuid.UUID        `json:"id"`
	TenantID           uuid.UUID        `json:"tenant_id"`
	FacilityID         uuid.UUID        `json:"facility_id"`
	CertificationCycle string           `json:"certification_cycle"`
	CatalogVersion     string           `json:"catalog_version"`
	Status             AssessmentStatus `json:"status"`
	Version            int64            `json:"version"`
	AnswerRevision     int64            `json:"answer_revision"`
	CreatedBy          string           `json:"created_by"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// IsEditable reports whether answers may change at all in the current status.
// CHANGES_REQUESTED further restricts edits to flagged questions.
func (a *Assessment) IsEditable() bool {
	return a.Status == StatusDraft || a.Status == StatusChangesRequested
}
