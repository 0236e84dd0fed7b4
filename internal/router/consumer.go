package router

import (
	"context"

	"devpulse/pkg/models"
)

// Consumer receives every sequenced event in per-entity order. Consumers run
// on their own lane and must tolerate redelivery of an event_id after restart.
type Consumer interface {
	Name() string
	Consume(ctx context.Context, event models.CanonicalEvent) error
}

type consumerFunc struct {
	name string
	fn   func(ctx context.Context, event models.CanonicalEvent) error
}

// ConsumerFunc adapts a function to the Consumer interface.
func ConsumerFunc(name string, fn func(ctx context.Context, event models.CanonicalEvent) error) Consumer {
	return &consumerFunc{name: name, fn: fn}
}

func (c *consumerFunc) Name() string {
	return c.name
}

func (c *consumerFunc) Consume(ctx context.Context, event models.CanonicalEvent) error {
	return c.fn(ctx, event)
}
