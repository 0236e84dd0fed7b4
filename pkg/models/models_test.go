package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertRule_InScope(t *testing.T) {
	tests := []struct {
		name      string
		rule      AlertRule
		entityKey string
		eventType EventType
		want      bool
	}{
		{"empty scope matches all", AlertRule{}, "repo:acme/api", EventTypePush, true},
		{"glob matches", AlertRule{EntityPattern: "repo:acme/*"}, "repo:acme/api", EventTypePush, true},
		{"glob misses other owner", AlertRule{EntityPattern: "repo:acme/*"}, "repo:other/api", EventTypePush, false},
		{"type filter matches", AlertRule{EventTypes: []EventType{EventTypePush}}, "repo:acme/api", EventTypePush, true},
		{"type filter misses", AlertRule{EventTypes: []EventType{EventTypePipelineRun}}, "repo:acme/api", EventTypePush, false},
		{"bad glob never matches", AlertRule{EntityPattern: "repo:[acme"}, "repo:acme/api", EventTypePush, false},
		{"star spans owner and name", AlertRule{EntityPattern: "repo:*"}, "repo:acme/api", EventTypePush, true},
		{"star spans pipeline id", AlertRule{EntityPattern: "pipeline:*"}, "pipeline:acme/api/42", EventTypePipelineRun, true},
		{"star covers subgroups", AlertRule{EntityPattern: "repo:acme/*"}, "repo:acme/platform/api", EventTypePush, true},
		{"prefix still anchors", AlertRule{EntityPattern: "repo:*"}, "pipeline:acme/api/42", EventTypePipelineRun, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.InScope(tt.entityKey, tt.eventType))
		})
	}
}

func TestEntityGlob(t *testing.T) {
	g, err := CompileEntityGlob("cluster:prod-?/*")
	require.NoError(t, err)
	assert.Equal(t, "cluster:prod-?/*", g.String())
	assert.True(t, g.Match("cluster:prod-1/kube-system/pod"))
	assert.False(t, g.Match("cluster:prod-12/kube-system"))

	_, err = CompileEntityGlob("repo:[acme")
	assert.Error(t, err)
	assert.False(t, EntityGlob{}.Match("repo:acme/api"))
}

func TestDeliveryState_Terminal(t *testing.T) {
	assert.True(t, StateDelivered.Terminal())
	assert.True(t, StateDeadLettered.Terminal())
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateRetrying.Terminal())
	assert.False(t, StateDelivering.Terminal())
}

func TestValidateCanonicalEvent(t *testing.T) {
	ev := &CanonicalEvent{
		EventID:   "e-1",
		EntityKey: "repo:acme/api",
		Type:      EventTypePush,
		Payload:   map[string]interface{}{},
	}
	assert.NoError(t, ValidateCanonicalEvent(ev))

	ev.Type = "unknown"
	var vErr *ValidationError
	require.ErrorAs(t, ValidateCanonicalEvent(ev), &vErr)
	assert.Equal(t, "type", vErr.Field)
}

func TestValidateAlertRule(t *testing.T) {
	rule := &AlertRule{
		ID:      "r-1",
		Targets: []Target{{Channel: ChannelWebhook, Destination: "https://example.com"}},
	}
	assert.NoError(t, ValidateAlertRule(rule))

	rule.EntityPattern = "repo:[acme"
	assert.Error(t, ValidateAlertRule(rule))
}

func TestEnvelopeBuilder(t *testing.T) {
	event := CanonicalEvent{EventID: "e-1", EntityKey: "repo:acme/api", Type: EventTypePush, Sequence: 3}

	env, err := NewEnvelopeBuilder().
		WithID(event.EventID).
		WithKind(EnvelopeKindEvent).
		WithKey(event.EntityKey).
		WithSequence(event.Sequence).
		WithData(event).
		Build()
	require.NoError(t, err)

	assert.Equal(t, "devpulse", env.Source)
	assert.False(t, env.Timestamp.IsZero())
	assert.Equal(t, uint64(3), env.Metadata.Sequence)

	var decoded CanonicalEvent
	require.NoError(t, json.Unmarshal(env.Data, &decoded))
	assert.Equal(t, event.EntityKey, decoded.EntityKey)
}

func TestNewAlertNotification(t *testing.T) {
	alert := AlertEvent{ID: "a-1", SourceEventID: "e-1", EntityKey: "repo:acme/api", Timestamp: time.Now()}
	n := NewAlertNotification(alert)

	assert.Equal(t, "a-1", n.ID)
	assert.Equal(t, "e-1", n.EventID)
	assert.Equal(t, NotificationAlert, n.Kind)
	require.NotNil(t, n.Alert)
}
