package notify

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/config"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

// KafkaPublisher produces events to a Kafka topic. Records are keyed by
// assessment so the events of one assessment stay ordered within a partition.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *zap.Logger
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher connects a producer to the configured brokers.
func NewKafkaPublisher(cfg *config.KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher needs at least one broker")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: cfg.Topic, logger: logger.Named("kafka")}, nil
}

// Record builds the Kafka record for an event.
func Record(topic string, event *models.WorkflowEvent) (*kgo.Record, error) {
	body, err := Encode(event)
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(event.AssessmentID.String()),
		Value: body,
		Headers: []kgo.RecordHeader{
			{Key: "event_id", Value: []byte(event.ID.String())},
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "tenant_id", Value: []byte(event.TenantID.String())},
		},
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, event *models.WorkflowEvent) error {
	rec, err := Record(p.topic, event)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce event %s: %w", event.ID, err)
	}
	p.logger.Debug("Event produced",
		zap.String("event_id", event.ID.String()),
		zap.String("type", event.Type))
	return nil
}

// Ping checks that at least one broker answers.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes buffered records and closes the client.
func (p *KafkaPublisher) Close() {
	p.client.Close()
}
