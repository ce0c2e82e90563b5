// Package cache stores per-assessment score tallies between requests.
package cache

import (
	"context"

	"github.com/google/uuid"

	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

// ScoreCache holds the latest ScoreTally per assessment. Entries are keyed by
// tenant and assessment so one tenant can never read another's tally.
// Callers validate AnswerRevision and CatalogVersion before trusting an entry.
type ScoreCache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, tenantID, assessmentID uuid.UUID) (*models.ScoreTally, error)
	Set(ctx context.Context, tenantID uuid.UUID, tally *models.ScoreTally) error
	Delete(ctx context.Context, tenantID, assessmentID uuid.UUID) error
}
