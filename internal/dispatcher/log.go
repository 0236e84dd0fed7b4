package dispatcher

import (
	"context"

	"devpulse/internal/logger"
	"devpulse/pkg/models"
)

// LogChannel writes notifications to the service log. Used in development
// and as a sink for rules that only need an audit trail.
type LogChannel struct {
	logger logger.Logger
}

func NewLogChannel(log logger.Logger) *LogChannel {
	return &LogChannel{logger: log}
}

func (c *LogChannel) Type() models.ChannelType {
	return models.ChannelLog
}

func (c *LogChannel) Send(ctx context.Context, target models.Target, msg Message) error {
	c.logger.InfowCtx(ctx, "Notification",
		"destination", target.Destination,
		"notification_id", msg.Notification.ID,
		"attempt_id", msg.AttemptID,
		"subject", msg.Subject,
		"text", msg.Text,
	)
	return nil
}
