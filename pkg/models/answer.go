package models

import (
	"time"

	"github.com/google/uuid"
)

// ComplianceFlag classifies an answer for scoring.
type ComplianceFlag string

const (
	FlagCompliant     ComplianceFlag = "compliant"
	FlagNonCompliant  ComplianceFlag = "non_compliant"
	FlagNotApplicable ComplianceFlag = "not_applicable"
)

// IsValidComplianceFlag checks if the given flag is valid.
func IsValidComplianceFlag(f ComplianceFlag) bool {
	return f == FlagCompliant || f == FlagNonCompliant || f == FlagNotApplicable
}

// Answer is the latest committed response to a question. (AssessmentID,
// QuestionID) is unique; writes are upserts guarded by Version.
type Answer struct {
	ID             uuid.UUID      `json:"id"`
	TenantID       uuid.UUID      `json:"tenant_id"`
	AssessmentID   uuid.UUID      `json:"assessment_id"`
	QuestionID     string         `json:"question_id"`
	Value          string         `json:"value"`
	ComplianceFlag ComplianceFlag `json:"compliance_flag"`
	EvidenceRefs   []string       `json:"evidence_refs,omitempty"`
	Version        int64          `json:"version"`
	AnsweredBy     string         `json:"answered_by"`
	AnsweredAt     time.Time      `json:"answered_at"`
}

// AnswerInput is the caller-supplied part of an answer write.
type AnswerInput struct {
	Value          string         `json:"value"`
	ComplianceFlag ComplianceFlag `json:"compliance_flag"`
	EvidenceRefs   []string       `json:"evidence_refs,omitempty"`
}

// AnswerAuditEntry records one committed answer write. Entries are append-only.
type AnswerAuditEntry struct {
	ID            uuid.UUID      `json:"id"`
	TenantID      uuid.UUID      `json:"tenant_id"`
	AssessmentID  uuid.UUID      `json:"assessment_id"`
	QuestionID    string         `json:"question_id"`
	Version       int64          `json:"version"`
	PreviousValue *string        `json:"previous_value,omitempty"`
	PreviousFlag  ComplianceFlag `json:"previous_flag,omitempty"`
	NewValue      string         `json:"new_value"`
	NewFlag       ComplianceFlag `json:"new_flag"`
	ChangedBy     string         `json:"changed_by"`
	ChangedAt     time.Time      `json:"changed_at"`
}

// AnswerSet indexes answers by question ID. It implements the answer half of
// PredicateEnv.
type AnswerSet map[string]*Answer

// NewAnswerSet indexes a list of answers.
func NewAnswerSet(answers []*Answer) AnswerSet {
	set := make(AnswerSet, len(answers))
	for _, a := range answers {
		set[a.QuestionID] = a
	}
	return set
}

// AnswerValue returns the stored value for a question.
func (s AnswerSet) AnswerValue(questionID string) (string, bool) {
	a, ok := s[questionID]
	if !ok || a == nil {
		return "", false
	}
	return a.Value, true
}

// FacilityEnv combines a facility profile and its answers for predicate evaluation.
type FacilityEnv struct {
	Profile *FacilityProfile
	Answers AnswerSet
}

func (e FacilityEnv) Attribute(name string) (string, bool) {
	if e.Profile == nil {
		return "", false
	}
	return e.Profile.Attribute(name)
}

func (e FacilityEnv) AnswerValue(questionID string) (string, bool) {
	return e.Answers.AnswerValue(questionID)
}
