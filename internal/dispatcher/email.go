package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"devpulse/internal/config"
	"devpulse/pkg/models"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel sends a plain-text mail per attempt. The destination is a
// comma separated recipient list.
type EmailChannel struct {
	cfg      config.EmailChannelConfig
	sendMail sendMailFunc
}

func NewEmailChannel(cfg config.EmailChannelConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg, sendMail: smtp.SendMail}
}

func (c *EmailChannel) Type() models.ChannelType {
	return models.ChannelEmail
}

func (c *EmailChannel) Send(ctx context.Context, target models.Target, msg Message) error {
	if c.cfg.Host == "" {
		return permanentFailure("email channel has no smtp host configured")
	}

	recipients, err := mail.ParseAddressList(target.Destination)
	if err != nil {
		return permanentFailure("invalid recipient list %q: %v", target.Destination, err)
	}
	to := make([]string, 0, len(recipients))
	for _, r := range recipients {
		to = append(to, r.Address)
	}

	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	}
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	body := c.compose(to, msg)

	// net/smtp has no context support; the send outlives a cancelled ctx
	// but its result is discarded.
	done := make(chan error, 1)
	go func() {
		done <- c.sendMail(addr, auth, c.cfg.From, to, body)
	}()

	select {
	case err := <-done:
		if err != nil {
			return deliveryFailure("smtp send failed: %v", err)
		}
		return nil
	case <-ctx.Done():
		return deliveryFailure("smtp send interrupted: %v", ctx.Err())
	}
}

func (c *EmailChannel) compose(to []string, msg Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", c.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@devpulse>\r\n", msg.AttemptID)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Text)
	b.WriteString("\r\n\r\n")
	b.Write(msg.Body)
	b.WriteString("\r\n")
	return b.Bytes()
}
