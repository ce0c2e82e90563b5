package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Shamoka80/r2ready-sub010/pkg/apperrors"
	"github.com/Shamoka80/r2ready-sub010/pkg/database"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

// OutboxRepository stores workflow events written alongside state changes
// until the relay publishes them.
type OutboxRepository interface {
	Append(ctx context.Context, e *models.WorkflowEvent) error
	// ListPending and MarkPublished accept a system scope.
	ListPending(ctx context.Context, limit int) ([]*models.WorkflowEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
}

type outboxRepository struct{}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository() OutboxRepository {
	return &outboxRepository{}
}

var _ OutboxRepository = (*outboxRepository)(nil)

func (r *outboxRepository) Append(ctx context.Context, e *models.WorkflowEvent) error {
	scope, err := database.RequireTenantScope(ctx, "append event")
	if err != nil {
		return err
	}
	if err := claimTenant(scope, &e.TenantID, "append event"); err != nil {
		return err
	}

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now().UTC()

	_, err = scope.DB().Exec(ctx, `
		INSERT INTO workflow_events (id, tenant_id, assessment_id, type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.TenantID, e.AssessmentID, e.Type, jsonbValue(e.Payload), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (r *outboxRepository) ListPending(ctx context.Context, limit int) ([]*models.WorkflowEvent, error) {
	scope, err := database.RequireAnyScope(ctx, "list pending events")
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := scope.DB().Query(ctx, `
		SELECT id, tenant_id, assessment_id, type, payload, created_at
		FROM workflow_events
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending events: %w", err)
	}
	defer rows.Close()

	var out []*models.WorkflowEvent
	for rows.Next() {
		var e models.WorkflowEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.AssessmentID, &e.Type, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode event payload: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *outboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	scope, err := database.RequireAnyScope(ctx, "mark event published")
	if err != nil {
		return err
	}

	tag, err := scope.DB().Exec(ctx,
		`UPDATE workflow_events SET published_at = $2 WHERE id = $1 AND published_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark event published: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}
