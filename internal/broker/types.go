package broker

import (
	"context"

	"devpulse/pkg/models"
)

// Producer publishes envelopes keyed by StreamEnvelope.Key, falling back to
// the envelope ID.
type Producer interface {
	Publish(ctx context.Context, topic string, msg models.StreamEnvelope) error
	Close() error
}

// Consumer delivers envelopes from a topic until ctx is done or Close is
// called.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
}

// HandlerFunc processes one envelope. A fatal error (see retry.Stop) skips
// the remaining attempts and goes straight to the dead-letter topic.
type HandlerFunc func(ctx context.Context, msg models.StreamEnvelope) error
