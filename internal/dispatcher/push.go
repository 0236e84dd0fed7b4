package dispatcher

import (
	"context"
	"strings"

	"github.com/nats-io/nats.go"

	"devpulse/internal/config"
	"devpulse/pkg/models"
)

// MsgPublisher is the part of *nats.Conn the push channel needs.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// PushChannel publishes to a NATS subject derived from the target, where
// device gateways fan the message out to mobile clients.
type PushChannel struct {
	conn   MsgPublisher
	prefix string
}

func NewPushChannel(conn MsgPublisher, cfg config.PushChannelConfig) *PushChannel {
	return &PushChannel{conn: conn, prefix: strings.TrimSuffix(cfg.SubjectPrefix, ".")}
}

func (c *PushChannel) Type() models.ChannelType {
	return models.ChannelPush
}

func (c *PushChannel) Subject(destination string) string {
	if c.prefix == "" {
		return destination
	}
	return c.prefix + "." + destination
}

func (c *PushChannel) Send(ctx context.Context, target models.Target, msg Message) error {
	if target.Destination == "" || strings.ContainsAny(target.Destination, " \t*>") {
		return permanentFailure("invalid push subject %q", target.Destination)
	}
	if err := ctx.Err(); err != nil {
		return deliveryFailure("push send interrupted: %v", err)
	}

	m := nats.NewMsg(c.Subject(target.Destination))
	m.Data = msg.Body
	m.Header.Set(nats.MsgIdHdr, msg.AttemptID)
	m.Header.Set("Devpulse-Kind", string(msg.Notification.Kind))

	if err := c.conn.PublishMsg(m); err != nil {
		return deliveryFailure("nats publish failed: %v", err)
	}
	return nil
}
