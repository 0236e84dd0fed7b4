package normalizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "devpulse/pkg/errors"
	"devpulse/pkg/models"
)

// Result is what a provider arm extracts from a payload. The normalizer turns
// it into a CanonicalEvent.
type Result struct {
	EntityKey  string
	Type       models.EventType
	OccurredAt time.Time
	Fields     map[string]interface{}
}

// Arm maps one provider's payload shapes to a Result.
type Arm interface {
	Normalize(raw models.RawWebhookEvent) (Result, error)
}

type ArmFunc func(raw models.RawWebhookEvent) (Result, error)

func (f ArmFunc) Normalize(raw models.RawWebhookEvent) (Result, error) {
	return f(raw)
}

// errShape marks a payload that decoded but did not carry what an arm needs.
type errShape struct {
	reason string
}

func (e *errShape) Error() string {
	return e.reason
}

func shapeError(format string, args ...interface{}) error {
	return &errShape{reason: fmt.Sprintf(format, args...)}
}

// Normalizer is pure: no I/O, no shared mutable state.
type Normalizer struct {
	arms  map[string]Arm
	newID func() string
}

type Option func(*Normalizer)

// WithIDGenerator replaces the UUID source for event ids.
func WithIDGenerator(fn func() string) Option {
	return func(n *Normalizer) {
		n.newID = fn
	}
}

// WithArm registers or replaces the arm for a provider.
func WithArm(provider string, arm Arm) Option {
	return func(n *Normalizer) {
		n.arms[provider] = arm
	}
}

func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		arms: map[string]Arm{
			"github":     ArmFunc(normalizeGitHub),
			"gitlab":     ArmFunc(normalizeGitLab),
			"bitbucket":  ArmFunc(normalizeBitbucket),
			"terraform":  ArmFunc(normalizeTerraform),
			"kubernetes": ArmFunc(normalizeKubernetes),
			"cost":       ArmFunc(normalizeCost),
		},
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Normalizer) Supports(provider string) bool {
	_, ok := n.arms[provider]
	return ok
}

// Normalize builds a CanonicalEvent with Sequence left at zero. Any payload
// that cannot be mapped yields ErrMalformedPayload carrying the provider and
// delivery id.
func (n *Normalizer) Normalize(raw models.RawWebhookEvent) (models.CanonicalEvent, error) {
	arm, ok := n.arms[raw.Provider]
	if !ok {
		return models.CanonicalEvent{}, malformed(raw, "no normalizer for provider")
	}

	res, err := arm.Normalize(raw)
	if err != nil {
		var shape *errShape
		if errors.As(err, &shape) {
			return models.CanonicalEvent{}, malformed(raw, shape.reason)
		}
		return models.CanonicalEvent{}, malformed(raw, "undecodable payload").WithCause(err)
	}

	payload := make(map[string]interface{}, len(res.Fields)+1)
	for k, v := range res.Fields {
		payload[k] = v
	}
	payload["schema_version"] = models.PayloadSchemaVersion

	occurred := res.OccurredAt
	if occurred.IsZero() {
		occurred = raw.ReceivedAt
	}

	event := models.CanonicalEvent{
		EventID:    n.newID(),
		EntityKey:  res.EntityKey,
		Type:       res.Type,
		Payload:    payload,
		OccurredAt: occurred.UTC(),
		ReceivedAt: raw.ReceivedAt.UTC(),
		Provider:   raw.Provider,
		DeliveryID: raw.DeliveryID,
	}
	if err := models.ValidateCanonicalEvent(&event); err != nil {
		return models.CanonicalEvent{}, malformed(raw, err.Error())
	}
	return event, nil
}

func malformed(raw models.RawWebhookEvent, reason string) *apperrors.Error {
	return apperrors.ErrMalformedPayload.
		WithDetail("provider", raw.Provider).
		WithDetail("delivery_id", raw.DeliveryID).
		WithDetail("kind", raw.Kind).
		WithDetail("reason", reason)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02T15:04:05.999999999",
}

// parseTime accepts the timestamp formats the supported providers emit and
// returns the zero time for anything else.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func latest(times ...time.Time) time.Time {
	var out time.Time
	for _, t := range times {
		if t.After(out) {
			out = t
		}
	}
	return out
}
