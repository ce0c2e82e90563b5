package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Shamoka80/r2ready-sub010/pkg/apperrors"
	"github.com/Shamoka80/r2ready-sub010/pkg/database"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

// WorkflowRepository provides data access for review workflows and their
// append-only stage history.
type WorkflowRepository interface {
	Create(ctx context.Context, w *models.ReviewWorkflow) error
	// GetByAssessment returns nil, nil when the assessment has no workflow yet.
	GetByAssessment(ctx context.Context, assessmentID uuid.UUID) (*models.ReviewWorkflow, error)
	Update(ctx context.Context, w *models.ReviewWorkflow) error
	// AppendStage assigns the next sequence number and stores the record.
	AppendStage(ctx context.Context, rec *models.StageRecord) error
	ListStages(ctx context.Context, workflowID uuid.UUID) ([]*models.StageRecord, error)
}

type workflowRepository struct{}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository() WorkflowRepository {
	return &workflowRepository{}
}

var _ WorkflowRepository = (*workflowRepository)(nil)

const workflowColumns = `id, tenant_id, assessment_id, client_org_id, consultant_tenant_id,
	consultant_user_id, auditor_user_id, stage, review_cycle, sla_due_at, terminal,
	created_at, updated_at`

func (r *workflowRepository) Create(ctx context.Context, w *models.ReviewWorkflow) error {
	scope, err := database.RequireTenantScope(ctx, "create workflow")
	if err != nil {
		return err
	}
	if err := claimTenant(scope, &w.TenantID, "create workflow"); err != nil {
		return err
	}

	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	now := time.Now().UTC()
	w.CreatedAt, w.UpdatedAt = now, now

	_, err = scope.DB().Exec(ctx, `
		INSERT INTO review_workflows (id, tenant_id, assessment_id, client_org_id,
			consultant_tenant_id, consultant_user_id, auditor_user_id, stage, review_cycle,
			sla_due_at, terminal, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		w.ID, w.TenantID, w.AssessmentID, w.ClientOrgID, w.ConsultantTenantID,
		w.ConsultantUserID, w.AuditorUserID, string(w.Stage), w.ReviewCycle,
		w.SLADueAt, w.Terminal, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &apperrors.ConflictError{Resource: "workflow", Reason: "assessment already has a workflow"}
		}
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

func (r *workflowRepository) GetByAssessment(ctx context.Context, assessmentID uuid.UUID) (*models.ReviewWorkflow, error) {
	scope, err := database.RequireTenantScope(ctx, "get workflow")
	if err != nil {
		return nil, err
	}

	w, err := scanWorkflow(scope.DB().QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM review_workflows WHERE assessment_id = $1`, assessmentID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	if err := checkTenant(scope, w.TenantID, "get workflow"); err != nil {
		return nil, err
	}
	return w, nil
}

func (r *workflowRepository) Update(ctx context.Context, w *models.ReviewWorkflow) error {
	scope, err := database.RequireTenantScope(ctx, "update workflow")
	if err != nil {
		return err
	}
	if err := claimTenant(scope, &w.TenantID, "update workflow"); err != nil {
		return err
	}

	w.UpdatedAt = time.Now().UTC()
	tag, err := scope.DB().Exec(ctx, `
		UPDATE review_workflows
		SET consultant_tenant_id = $2, consultant_user_id = $3, auditor_user_id = $4,
			stage = $5, review_cycle = $6, sla_due_at = $7, terminal = $8, updated_at = $9
		WHERE id = $1 AND tenant_id = $10`,
		w.ID, w.ConsultantTenantID, w.ConsultantUserID, w.AuditorUserID, string(w.Stage),
		w.ReviewCycle, w.SLADueAt, w.Terminal, w.UpdatedAt, w.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workflow %s: %w", w.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *workflowRepository) AppendStage(ctx context.Context, rec *models.StageRecord) error {
	scope, err := database.RequireTenantScope(ctx, "append stage record")
	if err != nil {
		return err
	}
	if err := claimTenant(scope, &rec.TenantID, "append stage record"); err != nil {
		return err
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}

	err = scope.DB().QueryRow(ctx, `
		INSERT INTO workflow_stage_records (id, tenant_id, workflow_id, sequence, from_stage,
			to_stage, action, actor_id, actor_role, reason, occurred_at)
		SELECT $1, $2, $3, COALESCE(MAX(sequence), 0) + 1, $4, $5, $6, $7, $8, $9, $10
		FROM workflow_stage_records WHERE workflow_id = $3
		RETURNING sequence`,
		rec.ID, rec.TenantID, rec.WorkflowID, string(rec.FromStage), string(rec.ToStage),
		string(rec.Action), rec.ActorID, string(rec.ActorRole), rec.Reason, rec.OccurredAt,
	).Scan(&rec.Sequence)
	if err != nil {
		if isUniqueViolation(err) {
			return &apperrors.ConflictError{Resource: "workflow history", Reason: "concurrent stage append"}
		}
		return fmt.Errorf("failed to append stage record: %w", err)
	}
	return nil
}

func (r *workflowRepository) ListStages(ctx context.Context, workflowID uuid.UUID) ([]*models.StageRecord, error) {
	scope, err := database.RequireTenantScope(ctx, "list stage records")
	if err != nil {
		return nil, err
	}

	rows, err := scope.DB().Query(ctx, `
		SELECT id, tenant_id, workflow_id, sequence, from_stage, to_stage, action, actor_id,
			actor_role, reason, occurred_at
		FROM workflow_stage_records
		WHERE workflow_id = $1 AND tenant_id = $2
		ORDER BY sequence`, workflowID, scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage records: %w", err)
	}
	defer rows.Close()

	var out []*models.StageRecord
	for rows.Next() {
		var rec models.StageRecord
		var from, to, action, role string
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.WorkflowID, &rec.Sequence, &from, &to,
			&action, &rec.ActorID, &role, &rec.Reason, &rec.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage record: %w", err)
		}
		rec.FromStage = models.AssessmentStatus(from)
		rec.ToStage = models.AssessmentStatus(to)
		rec.Action = models.WorkflowAction(action)
		rec.ActorRole = models.ActorRole(role)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func scanWorkflow(row pgx.Row) (*models.ReviewWorkflow, error) {
	var w models.ReviewWorkflow
	var stage string
	err := row.Scan(&w.ID, &w.TenantID, &w.AssessmentID, &w.ClientOrgID, &w.ConsultantTenantID,
		&w.ConsultantUserID, &w.AuditorUserID, &stage, &w.ReviewCycle, &w.SLADueAt, &w.Terminal,
		&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.Stage = models.AssessmentStatus(stage)
	return &w, nil
}
