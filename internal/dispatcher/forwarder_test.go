package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devpulse/internal/config"
	"devpulse/internal/logger"
	apperrors "devpulse/pkg/errors"
	"devpulse/pkg/models"
)

type dispatchCall struct {
	notification models.Notification
	targets      []models.Target
}

type recordingNotifier struct {
	calls []dispatchCall
	err   error
}

func (n *recordingNotifier) Dispatch(_ context.Context, notification models.Notification, targets []models.Target) ([]models.DeliveryAttempt, error) {
	if n.err != nil {
		return nil, n.err
	}
	n.calls = append(n.calls, dispatchCall{notification: notification, targets: targets})
	return make([]models.DeliveryAttempt, len(targets)), nil
}

func forwardRoutes() []config.ForwardRoute {
	return []config.ForwardRoute{
		{
			Name:          "prod-clusters",
			EntityPattern: "cluster:prod-*",
			Targets: []config.TargetConfig{
				{Channel: "push", Destination: "oncall"},
				{Channel: "slack", Destination: "#ops"},
			},
		},
		{
			EventTypes: []string{string(models.EventTypeClusterEvent)},
			Targets: []config.TargetConfig{
				{Channel: "slack", Destination: "#ops"},
				{Channel: "log", Destination: "cluster"},
			},
		},
	}
}

func TestForwarder_UnionOfMatchingRoutes(t *testing.T) {
	notifier := &recordingNotifier{}
	f := NewForwarder(notifier, forwardRoutes(), logger.NopLogger())

	event := models.CanonicalEvent{
		EventID:   "ev-1",
		EntityKey: "cluster:prod-eu",
		Type:      models.EventTypeClusterEvent,
		Sequence:  7,
	}
	require.NoError(t, f.Consume(context.Background(), event))

	require.Len(t, notifier.calls, 1)
	call := notifier.calls[0]
	assert.Equal(t, models.NotificationEvent, call.notification.Kind)
	assert.Equal(t, "ev-1", call.notification.ID)
	require.NotNil(t, call.notification.Event)
	assert.EqualValues(t, 7, call.notification.Event.Sequence)
	assert.Equal(t, []models.Target{
		{Channel: models.ChannelPush, Destination: "oncall"},
		{Channel: models.ChannelSlack, Destination: "#ops"},
		{Channel: models.ChannelLog, Destination: "cluster"},
	}, call.targets)
}

func TestForwarder_NoMatch(t *testing.T) {
	notifier := &recordingNotifier{}
	f := NewForwarder(notifier, forwardRoutes(), logger.NopLogger())

	err := f.Consume(context.Background(), models.CanonicalEvent{
		EventID:   "ev-2",
		EntityKey: "repo:acme/api",
		Type:      models.EventTypePush,
	})
	require.NoError(t, err)
	assert.Empty(t, notifier.calls)
}

func TestForwarder_DispatchError(t *testing.T) {
	notifier := &recordingNotifier{err: apperrors.ErrBusy}
	f := NewForwarder(notifier, forwardRoutes(), logger.NopLogger())

	err := f.Consume(context.Background(), models.CanonicalEvent{
		EventID:   "ev-3",
		EntityKey: "cluster:staging",
		Type:      models.EventTypeClusterEvent,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrBusy))
}
