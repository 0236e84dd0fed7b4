package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"devpulse/internal/config"
	"devpulse/internal/constants"
	"devpulse/pkg/circuitbreaker"
	"devpulse/pkg/models"
)

// WebhookChannel POSTs the notification JSON to the target URL. Every target
// host gets its own breaker so one dead receiver cannot slow the others.
type WebhookChannel struct {
	client     *http.Client
	secret     string
	breakerCfg config.CircuitBreakerConfig
	mu         sync.Mutex
	breakers   map[string]*circuitbreaker.Breaker
}

func NewWebhookChannel(client *http.Client, cfg config.WebhookChannelConfig, breakerCfg config.CircuitBreakerConfig) *WebhookChannel {
	if client == nil {
		client = &http.Client{Timeout: constants.DefaultHTTPTimeout}
	}
	return &WebhookChannel{
		client:     client,
		secret:     cfg.SigningSecret,
		breakerCfg: breakerCfg,
		breakers:   make(map[string]*circuitbreaker.Breaker),
	}
}

func (c *WebhookChannel) Type() models.ChannelType {
	return models.ChannelWebhook
}

func (c *WebhookChannel) Send(ctx context.Context, target models.Target, msg Message) error {
	u, err := parseDestination(target.Destination)
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set(constants.HeaderDelivery, msg.AttemptID)
	headers.Set(constants.HeaderEvent, string(msg.Notification.Kind))
	headers.Set(constants.HeaderDeliveryAttempt, strconv.Itoa(msg.Attempt))
	if c.secret != "" {
		headers.Set(constants.HeaderSignature, "sha256="+Sign(c.secret, msg.Body))
	}

	_, err = circuitbreaker.Do(ctx, c.breaker(u.Host), func() (struct{}, error) {
		return struct{}{}, postJSON(ctx, c.client, u.String(), msg.Body, headers)
	})
	if circuitbreaker.IsRejected(err) {
		return deliveryFailure("circuit breaker is open for %s", u.Host)
	}
	return err
}

// breaker returns the per-host breaker, or nil when breakers are disabled.
func (c *WebhookChannel) breaker(host string) *circuitbreaker.Breaker {
	if !c.breakerCfg.Enabled {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cb, ok := c.breakers[host]
	if !ok {
		cb = circuitbreaker.FromConfig("webhook:"+host, c.breakerCfg)
		c.breakers[host] = cb
	}
	return cb
}

// Sign returns the hex HMAC-SHA256 of body, as sent in X-Devpulse-Signature.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SlackChannel posts to a Slack incoming-webhook URL.
type SlackChannel struct {
	client   *http.Client
	username string
}

func NewSlackChannel(client *http.Client, cfg config.SlackChannelConfig) *SlackChannel {
	if client == nil {
		client = &http.Client{Timeout: constants.DefaultHTTPTimeout}
	}
	return &SlackChannel{client: client, username: cfg.Username}
}

func (c *SlackChannel) Type() models.ChannelType {
	return models.ChannelSlack
}

type slackPayload struct {
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
}

func (c *SlackChannel) Send(ctx context.Context, target models.Target, msg Message) error {
	u, err := parseDestination(target.Destination)
	if err != nil {
		return err
	}

	body, err := json.Marshal(slackPayload{Text: msg.Text, Username: c.username})
	if err != nil {
		return fmt.Errorf("failed to encode slack payload: %w", err)
	}
	return postJSON(ctx, c.client, u.String(), body, nil)
}

func parseDestination(destination string) (*url.URL, error) {
	u, err := url.Parse(destination)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, permanentFailure("invalid destination url %q", destination)
	}
	return u, nil
}

func postJSON(ctx context.Context, client *http.Client, target string, body []byte, headers http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return permanentFailure("failed to build request: %v", err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return deliveryFailure("request failed: %v", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return classifyStatus(resp.StatusCode)
}

func classifyStatus(status int) error {
	switch {
	case status >= constants.HTTPStatusOKMin && status < constants.HTTPStatusOKMax:
		return nil
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= http.StatusInternalServerError:
		return deliveryFailure("receiver responded with status %d", status)
	default:
		return permanentFailure("receiver rejected delivery with status %d", status)
	}
}
