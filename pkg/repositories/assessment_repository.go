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

// AssessmentRepository provides data access for assessments.
type AssessmentRepository interface {
	// Create fails with ConflictError when the facility already has an
	// active assessment for the certification cycle.
	Create(ctx context.Context, a *models.Assessment) error
	Get(ctx context.Context, id uuid.UUID) (*models.Assessment, error)
	// GetForUpdate is Get that also locks the assessment row until the
	// surrounding transaction ends. Every writer of an assessment's answers,
	// actions or status takes this lock first.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Assessment, error)
	// GetActiveForFacility returns nil, nil when no active assessment exists.
	GetActiveForFacility(ctx context.Context, facilityID uuid.UUID, cycle string) (*models.Assessment, error)
	ListByFacility(ctx context.Context, facilityID uuid.UUID) ([]*models.Assessment, error)
	// UpdateStatus is a compare-and-set on the assessment version. A stale
	// expectedVersion yields ConflictError and nothing is written.
	UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int64, next models.AssessmentStatus) (*models.Assessment, error)
	// BumpAnswerRevision increments and returns the answer revision.
	BumpAnswerRevision(ctx context.Context, id uuid.UUID) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type assessmentRepository struct{}

// NewAssessmentRepository creates a new AssessmentRepository.
func NewAssessmentRepository() AssessmentRepository {
	return &assessmentRepository{}
}

var _ AssessmentRepository = (*assessmentRepository)(nil)

const assessmentColumns = `id, tenant_id, facility_id, certification_cycle, catalog_version,
	status, version, answer_revision, created_by, created_at, updated_at`

func (r *assessmentRepository) Create(ctx context.Context, a *models.Assessment) error {
	scope, err := database.RequireTenantScope(ctx, "create assessment")
	if err != nil {
		return err
	}
	if err := claimTenant(scope, &a.TenantID, "create assessment"); err != nil {
		return err
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = models.StatusDraft
	}
	a.Version = 1
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	_, err = scope.DB().Exec(ctx, `
		INSERT INTO assessments (id, tenant_id, facility_id, certification_cycle, catalog_version,
			status, version, answer_revision, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.TenantID, a.FacilityID, a.CertificationCycle, a.CatalogVersion,
		string(a.Status), a.Version, a.AnswerRevision, a.CreatedBy, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &apperrors.ConflictError{
				Resource: "assessment",
				Reason:   fmt.Sprintf("facility %s already has an active assessment for cycle %s", a.FacilityID, a.CertificationCycle),
			}
		}
		return fmt.Errorf("failed to create assessment: %w", err)
	}
	return nil
}

func (r *assessmentRepository) Get(ctx context.Context, id uuid.UUID) (*models.Assessment, error) {
	scope, err := database.RequireTenantScope(ctx, "get assessment")
	if err != nil {
		return nil, err
	}

	a, err := scanAssessment(scope.DB().QueryRow(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("assessment %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}
	if err := checkTenant(scope, a.TenantID, "get assessment"); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *assessmentRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Assessment, error) {
	scope, err := database.RequireTenantScope(ctx, "lock assessment")
	if err != nil {
		return nil, err
	}

	a, err := scanAssessment(scope.DB().QueryRow(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE id = $1 AND tenant_id = $2 FOR UPDATE`,
		id, scope.TenantID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("assessment %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock assessment: %w", err)
	}
	return a, nil
}

func (r *assessmentRepository) GetActiveForFacility(ctx context.Context, facilityID uuid.UUID, cycle string) (*models.Assessment, error) {
	scope, err := database.RequireTenantScope(ctx, "get active assessment")
	if err != nil {
		return nil, err
	}

	a, err := scanAssessment(scope.DB().QueryRow(ctx, `
		SELECT `+assessmentColumns+` FROM assessments
		WHERE tenant_id = $1 AND facility_id = $2 AND certification_cycle = $3
			AND status NOT IN ('CLOSED', 'REJECTED')`,
		scope.TenantID, facilityID, cycle))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active assessment: %w", err)
	}
	return a, nil
}

func (r *assessmentRepository) ListByFacility(ctx context.Context, facilityID uuid.UUID) ([]*models.Assessment, error) {
	scope, err := database.RequireTenantScope(ctx, "list assessments")
	if err != nil {
		return nil, err
	}

	rows, err := scope.DB().Query(ctx, `
		SELECT `+assessmentColumns+` FROM assessments
		WHERE tenant_id = $1 AND facility_id = $2
		ORDER BY created_at, id`, scope.TenantID, facilityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer rows.Close()

	var out []*models.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *assessmentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int64, next models.AssessmentStatus) (*models.Assessment, error) {
	scope, err := database.RequireTenantScope(ctx, "update assessment status")
	if err != nil {
		return nil, err
	}

	a, err := scanAssessment(scope.DB().QueryRow(ctx, `
		UPDATE assessments
		SET status = $3, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2 AND tenant_id = $4
		RETURNING `+assessmentColumns,
		id, expectedVersion, string(next), scope.TenantID))
	if err == nil {
		return a, nil
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("failed to update assessment status: %w", err)
	}

	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, &apperrors.ConflictError{Resource: "assessment", Expected: expectedVersion, Actual: current.Version}
}

func (r *assessmentRepository) BumpAnswerRevision(ctx context.Context, id uuid.UUID) (int64, error) {
	scope, err := database.RequireTenantScope(ctx, "bump answer revision")
	if err != nil {
		return 0, err
	}

	var rev int64
	err = scope.DB().QueryRow(ctx, `
		UPDATE assessments SET answer_revision = answer_revision + 1, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
		RETURNING answer_revision`, id, scope.TenantID).Scan(&rev)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, fmt.Errorf("assessment %s: %w", id, apperrors.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to bump answer revision: %w", err)
	}
	return rev, nil
}

func (r *assessmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	scope, err := database.RequireTenantScope(ctx, "delete assessment")
	if err != nil {
		return err
	}

	tag, err := scope.DB().Exec(ctx, `DELETE FROM assessments WHERE id = $1 AND tenant_id = $2`, id, scope.TenantID)
	if err != nil {
		return fmt.Errorf("failed to delete assessment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("assessment %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func scanAssessment(row pgx.Row) (*models.Assessment, error) {
	var a models.Assessment
	var status string
	err := row.Scan(&a.ID, &a.TenantID, &a.FacilityID, &a.CertificationCycle, &a.CatalogVersion,
		&status, &a.Version, &a.AnswerRevision, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = models.AssessmentStatus(status)
	return &a, nil
}
