// Package notify delivers workflow events to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

// Publisher delivers one outbox event. Delivery is at-least-once: consumers
// deduplicate on the event id.
type Publisher interface {
	Publish(ctx context.Context, event *models.WorkflowEvent) error
	Close()
}

// Encode renders an event as the JSON message body shared by all publishers.
func Encode(event *models.WorkflowEvent) ([]byte, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", event.ID, err)
	}
	return b, nil
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

var _ Publisher = (*LogPublisher)(nil)

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("events")}
}

func (p *LogPublisher) Publish(_ context.Context, event *models.WorkflowEvent) error {
	body, err := Encode(event)
	if err != nil {
		return err
	}
	p.logger.Info("Workflow event",
		zap.String("event_id", event.ID.String()),
		zap.String("type", event.Type),
		zap.String("tenant_id", event.TenantID.String()),
		zap.ByteString("event_json", body))
	return nil
}

func (p *LogPublisher) Close() {}
