package memory

import (
	"maps"
	"slices"

	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

func copyFacility(f *models.FacilityProfile) *models.FacilityProfile {
	c := *f
	c.RecScope = slices.Clone(f.RecScope)
	c.Attributes = maps.Clone(f.Attributes)
	if f.ArchivedAt != nil {
		t := *f.ArchivedAt
		c.ArchivedAt = &t
	}
	return &c
}

func copyAssessment(a *models.Assessment) *models.Assessment {
	c := *a
	return &c
}

func copyAnswer(a *models.Answer) *models.Answer {
	c := *a
	c.EvidenceRefs = slices.Clone(a.EvidenceRefs)
	return &c
}

func copyAudit(e *models.AnswerAuditEntry) *models.AnswerAuditEntry {
	c := *e
	if e.PreviousValue != nil {
		v := *e.PreviousValue
		c.PreviousValue = &v
	}
	return &c
}

func copyWorkflow(w *models.ReviewWorkflow) *models.ReviewWorkflow {
	c := *w
	if w.ConsultantTenantID != nil {
		id := *w.ConsultantTenantID
		c.ConsultantTenantID = &id
	}
	if w.SLADueAt != nil {
		t := *w.SLADueAt
		c.SLADueAt = &t
	}
	return &c
}

func copyStage(r *models.StageRecord) *models.StageRecord {
	c := *r
	return &c
}

func copyAction(a *models.CorrectiveAction) *models.CorrectiveAction {
	c := *a
	c.BlockedBy = slices.Clone(a.BlockedBy)
	if a.ClosedAt != nil {
		t := *a.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

func copyEvent(e *models.WorkflowEvent) *models.WorkflowEvent {
	c := *e
	c.Payload = maps.Clone(e.Payload)
	if e.PublishedAt != nil {
		t := *e.PublishedAt
		c.PublishedAt = &t
	}
	return &c
}
