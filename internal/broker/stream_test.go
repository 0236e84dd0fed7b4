package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devpulse/pkg/logging"
	"devpulse/pkg/models"
)

type capturedMessage struct {
	topic string
	msg   models.StreamEnvelope
}

type memoryProducer struct {
	mu       sync.Mutex
	messages []capturedMessage
	err      error
}

func (p *memoryProducer) Publish(_ context.Context, topic string, msg models.StreamEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, capturedMessage{topic: topic, msg: msg})
	return nil
}

func (p *memoryProducer) Close() error { return nil }

func TestStreamPublisher_KeysByEntity(t *testing.T) {
	producer := &memoryProducer{}
	pub := NewStreamPublisher(producer, "devpulse.events")
	assert.Equal(t, "stream", pub.Name())

	event := models.CanonicalEvent{
		EventID:    "ev-1",
		EntityKey:  "repo:acme/api",
		Type:       models.EventTypePush,
		Sequence:   7,
		Payload:    map[string]interface{}{"branch": "main"},
		ReceivedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	ctx := logging.WithTraceID(context.Background(), "trace-1")
	require.NoError(t, pub.Consume(ctx, event))

	require.Len(t, producer.messages, 1)
	got := producer.messages[0]
	assert.Equal(t, "devpulse.events", got.topic)
	assert.Equal(t, "repo:acme/api", got.msg.Key)
	assert.Equal(t, models.EnvelopeKindEvent, got.msg.Kind)
	assert.Equal(t, uint64(7), got.msg.Metadata.Sequence)
	assert.Equal(t, "trace-1", got.msg.Metadata.TraceID)
	assert.Equal(t, event.ReceivedAt, got.msg.Timestamp)

	var decoded models.CanonicalEvent
	require.NoError(t, json.Unmarshal(got.msg.Data, &decoded))
	assert.Equal(t, "ev-1", decoded.EventID)
	assert.Equal(t, uint64(7), decoded.Sequence)
}

func TestStreamPublisher_PropagatesError(t *testing.T) {
	pub := NewStreamPublisher(&memoryProducer{err: errors.New("broker down")}, "t")
	err := pub.Consume(context.Background(), models.CanonicalEvent{EventID: "e", EntityKey: "repo:x"})
	assert.Error(t, err)
}

func TestDeadLetterPublisher(t *testing.T) {
	producer := &memoryProducer{}
	pub := NewDeadLetterPublisher(producer, "devpulse.dlq")

	attempt := models.DeliveryAttempt{
		ID:             "att-1",
		NotificationID: "n-1",
		EntityKey:      "repo:acme/api",
		Target:         models.Target{Channel: models.ChannelWebhook, Destination: "https://example.test/hook"},
		Attempt:        6,
		State:          models.StateDeadLettered,
		LastError:      "status 500",
	}
	require.NoError(t, pub.PublishDeadLetter(context.Background(), attempt, models.Notification{ID: "n-1"}))

	require.Len(t, producer.messages, 1)
	got := producer.messages[0].msg
	assert.Equal(t, models.EnvelopeKindDeadLetter, got.Kind)
	assert.Equal(t, "status 500", got.Metadata.Reason)
	assert.Equal(t, "repo:acme/api", got.Key)

	var decoded deadLetter
	require.NoError(t, json.Unmarshal(got.Data, &decoded))
	assert.Equal(t, 6, decoded.Attempt.Attempt)
	assert.Equal(t, "n-1", decoded.Notification.ID)
}
