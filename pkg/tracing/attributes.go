package tracing

import (
	"go.opentelemetry.io/otel/attribute"

	"devpulse/pkg/models"
)

// EventAttributes describes a canonical event on a span.
func EventAttributes(event models.CanonicalEvent) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("event.id", event.EventID),
		attribute.String("event.entity_key", event.EntityKey),
		attribute.String("event.type", string(event.Type)),
		attribute.String("event.provider", event.Provider),
	}
	if event.Sequence > 0 {
		attrs = append(attrs, attribute.Int64("event.sequence", int64(event.Sequence)))
	}
	return attrs
}
