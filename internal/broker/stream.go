package broker

import (
	"context"
	"fmt"

	"devpulse/pkg/logging"
	"devpulse/pkg/models"
)

// StreamPublisher mirrors the ordered canonical stream onto a topic. It runs
// as a router consumer, so events for one entity arrive here in sequence
// order and are keyed by entity key.
type StreamPublisher struct {
	producer Producer
	topic    string
}

func NewStreamPublisher(producer Producer, topic string) *StreamPublisher {
	return &StreamPublisher{producer: producer, topic: topic}
}

func (p *StreamPublisher) Name() string {
	return "stream"
}

func (p *StreamPublisher) Consume(ctx context.Context, event models.CanonicalEvent) error {
	envelope, err := models.NewEnvelopeBuilder().
		WithID(event.EventID).
		WithKind(models.EnvelopeKindEvent).
		WithKey(event.EntityKey).
		WithTimestamp(event.ReceivedAt).
		WithTraceID(logging.GetTraceID(ctx)).
		WithSequence(event.Sequence).
		WithData(event).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build event envelope: %w", err)
	}
	return p.producer.Publish(ctx, p.topic, *envelope)
}

// DeadLetterPublisher publishes exhausted delivery attempts to the DLQ topic.
type DeadLetterPublisher struct {
	producer Producer
	topic    string
}

func NewDeadLetterPublisher(producer Producer, topic string) *DeadLetterPublisher {
	return &DeadLetterPublisher{producer: producer, topic: topic}
}

func (p *DeadLetterPublisher) PublishDeadLetter(ctx context.Context, attempt models.DeliveryAttempt, notification models.Notification) error {
	envelope, err := models.NewEnvelopeBuilder().
		WithID(attempt.ID).
		WithKind(models.EnvelopeKindDeadLetter).
		WithKey(attempt.EntityKey).
		WithTraceID(logging.GetTraceID(ctx)).
		WithData(deadLetter{Attempt: attempt, Notification: notification}).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build dead letter envelope: %w", err)
	}
	envelope.Metadata.Reason = attempt.LastError
	return p.producer.Publish(ctx, p.topic, *envelope)
}

type deadLetter struct {
	Attempt      models.DeliveryAttempt `json:"attempt"`
	Notification models.Notification    `json:"notification"`
}
