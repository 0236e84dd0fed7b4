package models

import (
	"encoding/json"
	"time"
)

// StreamEnvelope wraps everything the service publishes to the broker.
type StreamEnvelope struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Source    string          `json:"source"`
	Key       string          `json:"key"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Metadata  Metadata        `json:"metadata"`
}

// Metadata carries transport details. Reason and SourceTopic are set only on
// dead-letter envelopes.
type Metadata struct {
	TraceID     string `json:"trace_id,omitempty"`
	Sequence    uint64 `json:"sequence,omitempty"`
	Reason      string `json:"reason,omitempty"`
	SourceTopic string `json:"source_topic,omitempty"`
}

const (
	EnvelopeKindEvent        = "canonical_event"
	EnvelopeKindDeadLetter   = "dead_letter"
	EnvelopeKindNotification = "notification"
	EnvelopeKindRuleUpdate   = "rule_update"
)

type EnvelopeBuilder struct {
	envelope *StreamEnvelope
	err      error
}

func NewEnvelopeBuilder() *EnvelopeBuilder {
	return &EnvelopeBuilder{
		envelope: &StreamEnvelope{Source: "devpulse"},
	}
}

func (b *EnvelopeBuilder) WithID(id string) *EnvelopeBuilder {
	b.envelope.ID = id
	return b
}

func (b *EnvelopeBuilder) WithKind(kind string) *EnvelopeBuilder {
	b.envelope.Kind = kind
	return b
}

func (b *EnvelopeBuilder) WithKey(key string) *EnvelopeBuilder {
	b.envelope.Key = key
	return b
}

func (b *EnvelopeBuilder) WithTimestamp(timestamp time.Time) *EnvelopeBuilder {
	b.envelope.Timestamp = timestamp
	return b
}

func (b *EnvelopeBuilder) WithTraceID(traceID string) *EnvelopeBuilder {
	b.envelope.Metadata.TraceID = traceID
	return b
}

func (b *EnvelopeBuilder) WithSequence(seq uint64) *EnvelopeBuilder {
	b.envelope.Metadata.Sequence = seq
	return b
}

func (b *EnvelopeBuilder) WithData(v interface{}) *EnvelopeBuilder {
	data, err := json.Marshal(v)
	if err != nil {
		b.err = err
		return b
	}
	b.envelope.Data = data
	return b
}

func (b *EnvelopeBuilder) Build() (*StreamEnvelope, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.envelope.Timestamp.IsZero() {
		b.envelope.Timestamp = time.Now().UTC()
	}
	return b.envelope, nil
}
