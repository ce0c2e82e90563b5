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

// FacilityRepository provides data access for facility profiles.
// Facilities are archived, never deleted.
type FacilityRepository interface {
	Create(ctx context.Context, f *models.FacilityProfile) error
	Get(ctx context.Context, id uuid.UUID) (*models.FacilityProfile, error)
	Update(ctx context.Context, f *models.FacilityProfile) error
	Archive(ctx context.Context, id uuid.UUID, at time.Time) error
	List(ctx context.Context, includeArchived bool) ([]*models.FacilityProfile, error)
}

type facilityRepository struct{}

// NewFacilityRepository creates a new FacilityRepository.
func NewFacilityRepository() FacilityRepository {
	return &facilityRepository{}
}

var _ FacilityRepository = (*facilityRepository)(nil)

const facilityColumns = `id, tenant_id, name, facility_type, operating_status, rec_scope,
	attributes, created_at, updated_at, archived_at`

func (r *facilityRepository) Create(ctx context.Context, f *models.FacilityProfile) error {
	scope, err := database.RequireTenantScope(ctx, "create facility")
	if err != nil {
		return err
	}
	if err := claimTenant(scope, &f.TenantID, "create facility"); err != nil {
		return err
	}

	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	now := time.Now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now

	_, err = scope.DB().Exec(ctx, `
		INSERT INTO facilities (id, tenant_id, name, facility_type, operating_status,
			rec_scope, attributes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		f.ID, f.TenantID, f.Name, f.FacilityType, f.OperatingStatus,
		nonNilStrings(f.RecScope), jsonbValue(f.Attributes), f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create facility: %w", err)
	}
	return nil
}

func (r *facilityRepository) Get(ctx context.Context, id uuid.UUID) (*models.FacilityProfile, error) {
	scope, err := database.RequireTenantScope(ctx, "get facility")
	if err != nil {
		return nil, err
	}

	row := scope.DB().QueryRow(ctx, `SELECT `+facilityColumns+` FROM facilities WHERE id = $1`, id)
	f, err := scanFacility(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("facility %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get facility: %w", err)
	}
	if err := checkTenant(scope, f.TenantID, "get facility"); err != nil {
		return nil, err
	}
	return f, nil
}

func (r *facilityRepository) Update(ctx context.Context, f *models.FacilityProfile) error {
	scope, err := database.RequireTenantScope(ctx, "update facility")
	if err != nil {
		return err
	}
	if err := claimTenant(scope, &f.TenantID, "update facility"); err != nil {
		return err
	}

	f.UpdatedAt = time.Now().UTC()
	tag, err := scope.DB().Exec(ctx, `
		UPDATE facilities
		SET name = $2, facility_type = $3, operating_status = $4, rec_scope = $5,
			attributes = $6, updated_at = $7
		WHERE id = $1 AND tenant_id = $8 AND archived_at IS NULL`,
		f.ID, f.Name, f.FacilityType, f.OperatingStatus, nonNilStrings(f.RecScope),
		jsonbValue(f.Attributes), f.UpdatedAt, f.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update facility: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("facility %s: %w", f.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *facilityRepository) Archive(ctx context.Context, id uuid.UUID, at time.Time) error {
	scope, err := database.RequireTenantScope(ctx, "archive facility")
	if err != nil {
		return err
	}

	tag, err := scope.DB().Exec(ctx, `
		UPDATE facilities SET archived_at = $2, updated_at = $2
		WHERE id = $1 AND tenant_id = $3 AND archived_at IS NULL`,
		id, at, scope.TenantID)
	if err != nil {
		return fmt.Errorf("failed to archive facility: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("facility %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *facilityRepository) List(ctx context.Context, includeArchived bool) ([]*models.FacilityProfile, error) {
	scope, err := database.RequireTenantScope(ctx, "list facilities")
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + facilityColumns + ` FROM facilities WHERE tenant_id = $1`
	if !includeArchived {
		query += ` AND archived_at IS NULL`
	}
	query += ` ORDER BY created_at, id`

	rows, err := scope.DB().Query(ctx, query, scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list facilities: %w", err)
	}
	defer rows.Close()

	var out []*models.FacilityProfile
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan facility: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFacility(row pgx.Row) (*models.FacilityProfile, error) {
	var f models.FacilityProfile
	err := row.Scan(&f.ID, &f.TenantID, &f.Name, &f.FacilityType, &f.OperatingStatus,
		&f.RecScope, &f.Attributes, &f.CreatedAt, &f.UpdatedAt, &f.ArchivedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
