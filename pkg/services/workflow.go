package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/apperrors"
	"github.com/Shamoka80/r2ready-sub010/pkg/auth"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

// TransitionOptions carries the optional inputs of a workflow transition.
type TransitionOptions struct {
	ActorID string
	Reason  string
	// ExpectedVersion, when non-zero, must equal the assessment version or
	// the transition fails with ConflictError.
	ExpectedVersion int64
	// Actions are filed with a REQUEST_CHANGES transition.
	Actions []NewActionRequest
}

// ConsultantAssignment is supplied by the consultant-management layer.
type ConsultantAssignment struct {
	ConsultantTenantID *uuid.UUID `json:"consultant_tenant_id,omitempty"`
	ConsultantUserID   string     `json:"consultant_user_id"`
	AuditorUserID      string     `json:"auditor_user_id,omitempty"`
}

// WorkflowService drives the review state machine.
type WorkflowService interface {
	TransitionWorkflow(ctx context.Context, assessmentID uuid.UUID, action models.WorkflowAction, role models.ActorRole, opts TransitionOptions) (*models.WorkflowState, error)
	GetWorkflow(ctx context.Context, assessmentID uuid.UUID) (*models.WorkflowState, error)
	AssignConsultant(ctx context.Context, assessmentID uuid.UUID, assignment ConsultantAssignment) (*models.WorkflowState, error)
}

type workflowService struct {
	deps *Deps
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(deps *Deps) WorkflowService {
	return &workflowService{deps: deps.withDefaults()}
}

var _ WorkflowService = (*workflowService)(nil)

func (s *workflowService) TransitionWorkflow(ctx context.Context, assessmentID uuid.UUID, action models.WorkflowAction, role models.ActorRole, opts TransitionOptions) (state *models.WorkflowState, err error) {
	ctx, span := s.deps.startSpan(ctx, "workflow.TransitionWorkflow",
		attribute.String("assessment_id", assessmentID.String()),
		attribute.String("action", string(action)),
		attribute.String("role", string(role)))
	defer func() {
		s.deps.Metrics.IncTransition(string(action), outcomeOf(err))
		s.deps.finish(ctx, span, "transition workflow", err)
	}()

	// The system role is reserved for transitions the engine fires itself.
	if !models.IsValidActorRole(role) {
		return nil, &apperrors.IllegalTransitionError{Action: string(action), Role: string(role), Reason: "unknown actor role"}
	}
	if opts.ActorID == "" {
		opts.ActorID = auth.GetUserIDFromContext(ctx)
	}

	err = s.deps.Repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		// The row lock orders this transition after any answer write already
		// in flight, so the guards below see its result.
		a, err := s.deps.Repos.Assessments.GetForUpdate(ctx, assessmentID)
		if err != nil {
			return err
		}
		if opts.ExpectedVersion != 0 && opts.ExpectedVersion != a.Version {
			return &apperrors.ConflictError{Resource: "assessment", Expected: opts.ExpectedVersion, Actual: a.Version}
		}
		state, err = s.deps.applyTransition(ctx, a, action, role, opts)
		return err
	})
	if err != nil {
		s.deps.Logger.Info("Workflow transition refused",
			zap.String("assessment_id", assessmentID.String()),
			zap.String("action", string(action)),
			zap.String("role", string(role)),
			zap.Error(err))
		return nil, err
	}

	s.deps.Logger.Info("Workflow transitioned",
		zap.String("assessment_id", assessmentID.String()),
		zap.String("action", string(action)),
		zap.String("status", string(state.Status)))
	return state, nil
}

// applyTransition validates and applies one transition. It must run inside
// a transaction; the status write is a compare-and-set on a.Version.
func (d *Deps) applyTransition(ctx context.Context, a *models.Assessment, action models.WorkflowAction, role models.ActorRole, opts TransitionOptions) (*models.WorkflowState, error) {
	illegal := func(reason string) error {
		return &apperrors.IllegalTransitionError{From: string(a.Status), Action: string(action), Role: string(role), Reason: reason}
	}

	t, ok := models.LookupTransition(a.Status, action)
	if !ok {
		return nil, illegal("not allowed from this state")
	}
	if !t.Allows(role) {
		return nil, illegal("role not permitted")
	}

	wf, err := d.Repos.Workflows.GetByAssessment(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if err := d.checkConsultantTenant(ctx, a, wf, string(action)); err != nil {
		return nil, err
	}

	if err := d.checkGuard(ctx, a, wf, action, opts, illegal); err != nil {
		return nil, err
	}

	updated, err := d.Repos.Assessments.UpdateStatus(ctx, a.ID, a.Version, t.To)
	if err != nil {
		return nil, err
	}

	now := d.Now()
	if wf == nil {
		wf = &models.ReviewWorkflow{
			AssessmentID: a.ID,
			ClientOrgID:  a.TenantID,
			ReviewCycle:  1,
			Stage:        t.To,
		}
		d.applyStage(wf, t.To, now)
		if err := d.Repos.Workflows.Create(ctx, wf); err != nil {
			return nil, fmt.Errorf("failed to create review workflow: %w", err)
		}
	} else {
		if action == models.ActionResubmit {
			wf.ReviewCycle++
		}
		d.applyStage(wf, t.To, now)
		if err := d.Repos.Workflows.Update(ctx, wf); err != nil {
			return nil, fmt.Errorf("failed to update review workflow: %w", err)
		}
	}

	rec := &models.StageRecord{
		WorkflowID: wf.ID,
		FromStage:  a.Status,
		ToStage:    t.To,
		Action:     action,
		ActorID:    opts.ActorID,
		ActorRole:  role,
		Reason:     opts.Reason,
		OccurredAt: now,
	}
	if err := d.Repos.Workflows.AppendStage(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to record stage: %w", err)
	}

	if err := d.Repos.Outbox.Append(ctx, &models.WorkflowEvent{
		AssessmentID: a.ID,
		Type:         models.EventWorkflowTransition,
		Payload: map[string]any{
			"from":         string(a.Status),
			"to":           string(t.To),
			"action":       string(action),
			"actor_id":     opts.ActorID,
			"actor_role":   string(role),
			"review_cycle": wf.ReviewCycle,
		},
	}); err != nil {
		return nil, err
	}

	history, err := d.Repos.Workflows.ListStages(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	return &models.WorkflowState{
		AssessmentID:      a.ID,
		Status:            updated.Status,
		AssessmentVersion: updated.Version,
		Workflow:          wf,
		History:           history,
	}, nil
}

// applyStage moves the workflow to stage and resets its SLA deadline.
func (d *Deps) applyStage(wf *models.ReviewWorkflow, stage models.AssessmentStatus, now time.Time) {
	wf.Stage = stage
	if stage == models.StatusCertificationReady || stage == models.StatusRejected {
		wf.Terminal = true
	}
	wf.SLADueAt = nil
	if sla := d.Workflow.SLAFor(string(stage)); sla > 0 {
		due := now.Add(sla)
		wf.SLADueAt = &due
	}
}

// checkGuard evaluates the guard of a transition against fresh state read
// inside the transaction.
func (d *Deps) checkGuard(ctx context.Context, a *models.Assessment, wf *models.ReviewWorkflow, action models.WorkflowAction, opts TransitionOptions, illegal func(string) error) error {
	switch action {
	case models.ActionSubmitForReview:
		if _, err := d.completeSummary(ctx, a); err != nil {
			return err
		}

	case models.ActionStartReview:
		if wf == nil || !wf.HasConsultant() {
			return illegal("no consultant assigned")
		}

	case models.ActionRequestChanges:
		res, err := d.loadResolution(ctx, a.ID)
		if err != nil {
			return err
		}
		if err := d.attachConsultantActions(ctx, res, opts.Actions); err != nil {
			return err
		}
		open, err := d.reconcileActions(ctx, res, "")
		if err != nil {
			return err
		}
		if len(open) == 0 {
			return illegal("no open corrective actions")
		}

	case models.ActionResubmit:
		// Reconciling first closes actions whose question stopped applying
		// after a catalog reload, which no answer write would ever reach.
		res, err := d.loadResolution(ctx, a.ID)
		if err != nil {
			return err
		}
		open, err := d.reconcileActions(ctx, res, "")
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return illegal(fmt.Sprintf("%d corrective action(s) still open", len(open)))
		}
		if _, err := d.completeSummary(ctx, a); err != nil {
			return err
		}

	case models.ActionApprove:
		summary, err := d.completeSummary(ctx, a)
		if err != nil {
			return err
		}
		if summary.Overall < d.Scoring.CertificationThreshold {
			return illegal(fmt.Sprintf("score %.1f is below the certification threshold %.1f", summary.Overall, d.Scoring.CertificationThreshold))
		}
		n, err := d.countOpenActions(ctx, a.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return illegal(fmt.Sprintf("%d corrective action(s) still open", n))
		}
	}
	return nil
}

// completeSummary scores the assessment from state read inside the
// transaction. It fails with IncompleteAssessmentError while any applicable
// question is unanswered.
func (d *Deps) completeSummary(ctx context.Context, a *models.Assessment) (*models.ScoreSummary, error) {
	res, err := d.loadResolution(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	summary := BuildTally(res.snap, a.ID, a.AnswerRevision, res.active, res.answers).Summary()
	if !summary.Complete {
		return nil, &apperrors.IncompleteAssessmentError{Unanswered: summary.Unanswered}
	}
	return summary, nil
}

// resubmitIfSettled fires the automatic RESUBMIT of a change request once it
// has no open corrective action and every applicable question is answered.
// open must be the result of reconcileActions on res in the same
// transaction. Returns the assessment status afterwards.
func (d *Deps) resubmitIfSettled(ctx context.Context, res *resolution, open []*models.CorrectiveAction, reason string) (models.AssessmentStatus, error) {
	a := res.assessment
	if a.Status != models.StatusChangesRequested || len(open) > 0 {
		return a.Status, nil
	}
	if !BuildTally(res.snap, a.ID, a.AnswerRevision, res.active, res.answers).Summary().Complete {
		return a.Status, nil
	}
	state, err := d.applyTransition(ctx, a, models.ActionResubmit, models.RoleSystem, TransitionOptions{
		ActorID: "system",
		Reason:  reason,
	})
	if err != nil {
		return "", fmt.Errorf("automatic resubmit failed: %w", err)
	}
	d.Logger.Info("Change request settled; assessment resubmitted",
		zap.String("assessment_id", a.ID.String()),
		zap.String("reason", reason))
	return state.Status, nil
}

func (d *Deps) countOpenActions(ctx context.Context, assessmentID uuid.UUID) (int, error) {
	all, err := d.Repos.Actions.ListByAssessment(ctx, assessmentID)
	if err != nil {
		return 0, err
	}
	return len(openOnly(all)), nil
}

// checkConsultantTenant lets a caller whose home tenant differs from the
// assessment's tenant act only as the consultant firm assigned to it.
func (d *Deps) checkConsultantTenant(ctx context.Context, a *models.Assessment, wf *models.ReviewWorkflow, action string) error {
	home := auth.GetHomeTenantIDFromContext(ctx)
	if home == uuid.Nil || home == a.TenantID {
		return nil
	}
	granted := wf != nil && wf.ConsultantTenantID != nil && *wf.ConsultantTenantID == home
	d.Auditor.LogCrossTenantAccess(ctx, a.TenantID, home, a.ID, action, granted)
	if !granted {
		return &apperrors.TenantIsolationError{
			Operation: action,
			Reason:    "caller's home tenant is not the consultant assigned to this assessment",
		}
	}
	return nil
}

func (s *workflowService) GetWorkflow(ctx context.Context, assessmentID uuid.UUID) (state *models.WorkflowState, err error) {
	ctx, span := s.deps.startSpan(ctx, "workflow.GetWorkflow", attribute.String("assessment_id", assessmentID.String()))
	defer func() { s.deps.finish(ctx, span, "get workflow", err) }()

	a, err := s.deps.Repos.Assessments.Get(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	return s.deps.workflowState(ctx, a)
}

func (d *Deps) workflowState(ctx context.Context, a *models.Assessment) (*models.WorkflowState, error) {
	state := &models.WorkflowState{
		AssessmentID:      a.ID,
		Status:            a.Status,
		AssessmentVersion: a.Version,
		History:           []*models.StageRecord{},
	}
	wf, err := d.Repos.Workflows.GetByAssessment(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return state, nil
	}
	state.Workflow = wf
	history, err := d.Repos.Workflows.ListStages(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	if history != nil {
		state.History = history
	}
	return state, nil
}

func (s *workflowService) AssignConsultant(ctx context.Context, assessmentID uuid.UUID, assignment ConsultantAssignment) (state *models.WorkflowState, err error) {
	ctx, span := s.deps.startSpan(ctx, "workflow.AssignConsultant", attribute.String("assessment_id", assessmentID.String()))
	defer func() { s.deps.finish(ctx, span, "assign consultant", err) }()

	if assignment.ConsultantUserID == "" {
		return nil, apperrors.Validation("consultant_user_id", "consultant user is required")
	}

	err = s.deps.Repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.deps.Repos.Assessments.Get(ctx, assessmentID)
		if err != nil {
			return err
		}
		// A consultant firm cannot assign itself.
		if err := s.deps.checkConsultantTenant(ctx, a, nil, "ASSIGN_CONSULTANT"); err != nil {
			return err
		}
		wf, err := s.deps.Repos.Workflows.GetByAssessment(ctx, assessmentID)
		if err != nil {
			return err
		}
		if wf == nil {
			return &apperrors.IllegalTransitionError{From: string(a.Status), Action: "ASSIGN_CONSULTANT", Reason: "assessment has not been submitted"}
		}
		if wf.Terminal {
			return &apperrors.IllegalTransitionError{From: string(a.Status), Action: "ASSIGN_CONSULTANT", Reason: "review workflow is terminal"}
		}

		wf.ConsultantTenantID = assignment.ConsultantTenantID
		wf.ConsultantUserID = assignment.ConsultantUserID
		if assignment.AuditorUserID != "" {
			wf.AuditorUserID = assignment.AuditorUserID
		}
		if err := s.deps.Repos.Workflows.Update(ctx, wf); err != nil {
			return fmt.Errorf("failed to assign consultant: %w", err)
		}

		payload := map[string]any{"consultant_user_id": wf.ConsultantUserID}
		if wf.ConsultantTenantID != nil {
			payload["consultant_tenant_id"] = wf.ConsultantTenantID.String()
		}
		if err := s.deps.Repos.Outbox.Append(ctx, &models.WorkflowEvent{
			AssessmentID: a.ID,
			Type:         models.EventConsultantAssigned,
			Payload:      payload,
		}); err != nil {
			return err
		}

		state, err = s.deps.workflowState(ctx, a)
		return err
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperrors.ErrConflict):
		return "conflict"
	case errors.Is(err, apperrors.ErrTenantIsolation):
		return "isolation"
	default:
		return "rejected"
	}
}
