package dispatcher

import (
	"context"

	"devpulse/internal/broker"
	"devpulse/pkg/models"
)

// KafkaChannel publishes the notification to the topic named by the target.
type KafkaChannel struct {
	producer broker.Producer
}

func NewKafkaChannel(producer broker.Producer) *KafkaChannel {
	return &KafkaChannel{producer: producer}
}

func (c *KafkaChannel) Type() models.ChannelType {
	return models.ChannelKafka
}

func (c *KafkaChannel) Send(ctx context.Context, target models.Target, msg Message) error {
	if target.Destination == "" {
		return permanentFailure("kafka target has no topic")
	}

	envelope := models.StreamEnvelope{
		ID:        msg.AttemptID,
		Kind:      models.EnvelopeKindNotification,
		Source:    "devpulse",
		Key:       msg.Notification.EntityKey,
		Timestamp: msg.Notification.CreatedAt,
		Data:      msg.Body,
	}
	if err := c.producer.Publish(ctx, target.Destination, envelope); err != nil {
		return deliveryFailure("kafka publish failed: %v", err)
	}
	return nil
}
