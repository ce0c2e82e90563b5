package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/apperrors"
	"github.com/Shamoka80/r2ready-sub010/pkg/database"
	"github.com/Shamoka80/r2ready-sub010/pkg/metrics"
	"github.com/Shamoka80/r2ready-sub010/pkg/notify"
	"github.com/Shamoka80/r2ready-sub010/pkg/repositories"
	"github.com/Shamoka80/r2ready-sub010/pkg/retry"
)

const defaultRelayBatch = 100

// EventRelay drains the outbox to a Publisher. Events are published in
// creation order; a failed publish stops the batch so later events never
// overtake an earlier one.
type EventRelay struct {
	outbox    repositories.OutboxRepository
	scopes    *database.TenantScopeProvider
	publisher notify.Publisher
	retry     *retry.Config
	batchSize int
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewEventRelay creates an EventRelay. A nil retry config uses retry defaults.
func NewEventRelay(
	outbox repositories.OutboxRepository,
	scopes *database.TenantScopeProvider,
	publisher notify.Publisher,
	retryCfg *retry.Config,
	batchSize int,
	m *metrics.Metrics,
	logger *zap.Logger,
) *EventRelay {
	if batchSize <= 0 {
		batchSize = defaultRelayBatch
	}
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	return &EventRelay{
		outbox:    outbox,
		scopes:    scopes,
		publisher: publisher,
		retry:     retryCfg,
		batchSize: batchSize,
		metrics:   m,
		logger:    logger.Named("event-relay"),
	}
}

// Flush publishes one batch of pending events and returns how many were
// delivered.
func (r *EventRelay) Flush(ctx context.Context) (int, error) {
	ctx, cleanup, err := r.scopes.WithSystemScope(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to open system scope: %w", err)
	}
	defer cleanup()

	pending, err := r.outbox.ListPending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, event := range pending {
		err := retry.DoIfRetryable(ctx, r.retry, func() error {
			return r.publisher.Publish(ctx, event)
		})
		if err != nil {
			r.metrics.IncPublished("failed")
			return published, fmt.Errorf("failed to publish event %s: %w", event.ID, err)
		}

		// Another relay instance may have marked it first; delivery is at-least-once.
		if err := r.outbox.MarkPublished(ctx, event.ID, time.Now().UTC()); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return published, err
		}
		r.metrics.IncPublished("ok")
		published++
	}
	return published, nil
}

// Run flushes on every tick until ctx is cancelled.
func (r *EventRelay) Run(ctx context.Context, interval time.Duration) {
	r.logger.Info("Event relay started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Event relay stopped")
			return
		case <-ticker.C:
			n, err := r.Flush(ctx)
			if err != nil {
				r.logger.Warn("Event relay flush failed", zap.Int("published", n), zap.Error(err))
				continue
			}
			if n > 0 {
				r.logger.Debug("Published workflow events", zap.Int("count", n))
			}
		}
	}
}
