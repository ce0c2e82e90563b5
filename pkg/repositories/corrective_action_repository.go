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

// CorrectiveActionRepository provides data access for corrective actions.
type CorrectiveActionRepository interface {
	// Create fails with ConflictError if the question already has an open action.
	Create(ctx context.Context, a *models.CorrectiveAction) error
	Update(ctx context.Context, a *models.CorrectiveAction) error
	Get(ctx context.Context, id uuid.UUID) (*models.CorrectiveAction, error)
	ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]*models.CorrectiveAction, error)
	// GetOpenForQuestion returns nil, nil when the question has no open action.
	GetOpenForQuestion(ctx context.Context, assessmentID uuid.UUID, questionID string) (*models.CorrectiveAction, error)
}

type correctiveActionRepository struct{}

// NewCorrectiveActionRepository creates a new CorrectiveActionRepository.
func NewCorrectiveActionRepository() CorrectiveActionRepository {
	return &correctiveActionRepository{}
}

var _ CorrectiveActionRepository = (*correctiveActionRepository)(nil)

const actionColumns = `id, tenant_id, assessment_id, question_id, answer_version, clause_id,
	review_cycle, description, priority, due_date, critical_path, blocked_by, status, source,
	created_at, updated_at, closed_at`

func (r *correctiveActionRepository) Create(ctx context.Context, a *models.CorrectiveAction) error {
	scope, err := database.RequireTenantScope(ctx, "create corrective action")
	if err != nil {
		return err
	}
	if err := claimTenant(scope, &a.TenantID, "create corrective action"); err != nil {
		return err
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = models.ActionStatusOpen
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	_, err = scope.DB().Exec(ctx, `
		INSERT INTO corrective_actions (id, tenant_id, assessment_id, question_id, answer_version,
			clause_id, review_cycle, description, priority, due_date, critical_path, blocked_by,
			status, source, created_at, updated_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		a.ID, a.TenantID, a.AssessmentID, a.QuestionID, a.AnswerVersion, a.ClauseID,
		a.ReviewCycle, a.Description, a.Priority, a.DueDate, a.CriticalPath,
		nonNilUUIDs(a.BlockedBy), a.Status, a.Source, a.CreatedAt, a.UpdatedAt, a.ClosedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &apperrors.ConflictError{
				Resource: "corrective action",
				Reason:   "question " + a.QuestionID + " already has an open action",
			}
		}
		return fmt.Errorf("failed to create corrective action: %w", err)
	}
	return nil
}

func (r *correctiveActionRepository) Update(ctx context.Context, a *models.CorrectiveAction) error {
	scope, err := database.RequireTenantScope(ctx, "update corrective action")
	if err != nil {
		return err
	}
	if err := claimTenant(scope, &a.TenantID, "update corrective action"); err != nil {
		return err
	}

	a.UpdatedAt = time.Now().UTC()
	tag, err := scope.DB().Exec(ctx, `
		UPDATE corrective_actions
		SET description = $2, priority = $3, due_date = $4, critical_path = $5, blocked_by = $6,
			status = $7, updated_at = $8, closed_at = $9, answer_version = $10
		WHERE id = $1 AND tenant_id = $11`,
		a.ID, a.Description, a.Priority, a.DueDate, a.CriticalPath, nonNilUUIDs(a.BlockedBy),
		a.Status, a.UpdatedAt, a.ClosedAt, a.AnswerVersion, a.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update corrective action: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("corrective action %s: %w", a.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *correctiveActionRepository) Get(ctx context.Context, id uuid.UUID) (*models.CorrectiveAction, error) {
	scope, err := database.RequireTenantScope(ctx, "get corrective action")
	if err != nil {
		return nil, err
	}

	a, err := scanAction(scope.DB().QueryRow(ctx,
		`SELECT `+actionColumns+` FROM corrective_actions WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("corrective action %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get corrective action: %w", err)
	}
	if err := checkTenant(scope, a.TenantID, "get corrective action"); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *correctiveActionRepository) ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]*models.CorrectiveAction, error) {
	scope, err := database.RequireTenantScope(ctx, "list corrective actions")
	if err != nil {
		return nil, err
	}

	rows, err := scope.DB().Query(ctx, `
		SELECT `+actionColumns+` FROM corrective_actions
		WHERE assessment_id = $1 AND tenant_id = $2
		ORDER BY created_at, id`, assessmentID, scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list corrective actions: %w", err)
	}
	defer rows.Close()

	var out []*models.CorrectiveAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan corrective action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *correctiveActionRepository) GetOpenForQuestion(ctx context.Context, assessmentID uuid.UUID, questionID string) (*models.CorrectiveAction, error) {
	scope, err := database.RequireTenantScope(ctx, "get open corrective action")
	if err != nil {
		return nil, err
	}

	a, err := scanAction(scope.DB().QueryRow(ctx, `
		SELECT `+actionColumns+` FROM corrective_actions
		WHERE assessment_id = $1 AND question_id = $2 AND status = 'open' AND tenant_id = $3`,
		assessmentID, questionID, scope.TenantID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get open corrective action: %w", err)
	}
	return a, nil
}

func scanAction(row pgx.Row) (*models.CorrectiveAction, error) {
	var a models.CorrectiveAction
	err := row.Scan(&a.ID, &a.TenantID, &a.AssessmentID, &a.QuestionID, &a.AnswerVersion,
		&a.ClauseID, &a.ReviewCycle, &a.Description, &a.Priority, &a.DueDate, &a.CriticalPath,
		&a.BlockedBy, &a.Status, &a.Source, &a.CreatedAt, &a.UpdatedAt, &a.ClosedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
