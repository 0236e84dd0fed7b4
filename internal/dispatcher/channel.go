package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "devpulse/pkg/errors"
	"devpulse/pkg/models"
)

// Channel delivers one rendered notification to one target. A returned error
// is retried unless it is fatal (see permanentFailure).
type Channel interface {
	Type() models.ChannelType
	Send(ctx context.Context, target models.Target, msg Message) error
}

// Message is the channel-independent rendering of a notification attempt.
type Message struct {
	AttemptID    string
	Attempt      int
	Notification models.Notification
	Subject      string
	Text         string
	Body         []byte
}

func newMessage(attempt models.DeliveryAttempt, n models.Notification) (Message, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode notification: %w", err)
	}

	msg := Message{
		AttemptID:    attempt.ID,
		Attempt:      attempt.Attempt,
		Notification: n,
		Body:         body,
	}

	switch {
	case n.Alert != nil:
		msg.Subject = fmt.Sprintf("[%s] %s on %s", n.Alert.Severity, n.Alert.RuleName, n.EntityKey)
		msg.Text = fmt.Sprintf("%s: %s event %s (sequence %d)",
			msg.Subject, n.Alert.EventType, n.Alert.SourceEventID, n.Alert.Sequence)
	case n.Event != nil:
		msg.Subject = fmt.Sprintf("%s on %s", n.Event.Type, n.EntityKey)
		msg.Text = fmt.Sprintf("%s: event %s (sequence %d)", msg.Subject, n.Event.EventID, n.Event.Sequence)
	default:
		msg.Subject = fmt.Sprintf("notification %s", n.ID)
		msg.Text = msg.Subject
	}
	return msg, nil
}

func deliveryFailure(format string, args ...interface{}) error {
	return apperrors.ErrDeliveryFailed.WithMessage(fmt.Sprintf(format, args...))
}

// permanentFailure marks errors a retry cannot fix, such as a rejected
// destination. The attempt is dead-lettered without waiting out its budget.
func permanentFailure(format string, args ...interface{}) error {
	return apperrors.ErrDeliveryFailed.AsFatal().WithMessage(fmt.Sprintf(format, args...))
}
