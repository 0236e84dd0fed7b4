package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"devpulse/internal/config"
	"devpulse/internal/logger"
	apperrors "devpulse/pkg/errors"
	"devpulse/pkg/logging"
	"devpulse/pkg/metrics"
	"devpulse/pkg/models"
)

const (
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypeSubscribed  = "subscribed"
	MessageTypeResync      = "resync"
	MessageTypeError       = "error"
)

// ClientMessage is what a live client sends.
type ClientMessage struct {
	Type     string   `json:"type"`
	Patterns []string `json:"patterns,omitempty"`
}

// ControlMessage is a non-event message sent to a client.
type ControlMessage struct {
	Type     string   `json:"type"`
	Patterns []string `json:"patterns,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// EventMessage is the canonical event as streamed to clients.
type EventMessage struct {
	EventID    string                 `json:"event_id"`
	EntityKey  string                 `json:"entity_key"`
	Type       models.EventType       `json:"type"`
	Sequence   uint64                 `json:"sequence"`
	Payload    map[string]interface{} `json:"payload"`
	OccurredAt time.Time              `json:"occurred_at"`
}

type Subscription struct {
	ConnectionID string
	Patterns     []string
}

// Hub fans sequenced events out to live connections. A slow connection only
// ever loses its own oldest messages; publishing never blocks.
type Hub struct {
	cfg    config.HubConfig
	logger logger.Logger
	now    func() time.Time

	mu    sync.RWMutex
	conns map[string]*Connection
	index *index
}

func New(cfg config.HubConfig, log logger.Logger) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.LagThreshold <= 0 || cfg.LagThreshold > cfg.BufferSize {
		cfg.LagThreshold = cfg.BufferSize
	}
	if cfg.LagWindow <= 0 {
		cfg.LagWindow = 10 * time.Second
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Second
	}
	return &Hub{
		cfg:    cfg,
		logger: log,
		now:    time.Now,
		conns:  make(map[string]*Connection),
		index:  newIndex(),
	}
}

// WithClock replaces the time source used for lag tracking; for tests.
func (h *Hub) WithClock(now func() time.Time) *Hub {
	h.now = now
	return h
}

func (h *Hub) Name() string {
	return "hub"
}

// Consume lets the hub sit on a router lane.
func (h *Hub) Consume(_ context.Context, event models.CanonicalEvent) error {
	h.Publish(event)
	return nil
}

func (h *Hub) Register() *Connection {
	conn := newConnection(uuid.NewString(), h.cfg.BufferSize, h.cfg.LagThreshold)

	h.mu.Lock()
	h.conns[conn.id] = conn
	h.mu.Unlock()

	metrics.HubConnections.Inc()
	return conn
}

func (h *Hub) connection(id string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[id]
	return conn, ok
}

func (h *Hub) Subscribe(connID string, raw []string) (Subscription, error) {
	if _, ok := h.connection(connID); !ok {
		return Subscription{}, apperrors.ErrNotFound.WithDetail("connection_id", connID)
	}
	if len(raw) == 0 {
		return Subscription{}, apperrors.ErrValidation.WithMessage("at least one pattern is required")
	}

	patterns, err := ParsePatterns(raw)
	if err != nil {
		return Subscription{}, apperrors.ErrValidation.WithMessage(err.Error()).WithCause(err)
	}

	return Subscription{ConnectionID: connID, Patterns: h.index.add(connID, patterns)}, nil
}

// Unsubscribe removes the given patterns, or all of them when none are given.
func (h *Hub) Unsubscribe(connID string, patterns []string) Subscription {
	return Subscription{ConnectionID: connID, Patterns: h.index.remove(connID, patterns)}
}

// Disconnect releases the connection and its subscription immediately.
func (h *Hub) Disconnect(connID string) {
	h.mu.RLock()
	conn, ok := h.conns[connID]
	h.mu.RUnlock()

	if ok {
		h.release(conn)
	}
}

func (h *Hub) release(conn *Connection) {
	h.mu.Lock()
	if h.conns[conn.id] == conn {
		delete(h.conns, conn.id)
	}
	h.mu.Unlock()

	h.index.remove(conn.id, nil)
	if conn.close() {
		metrics.HubConnections.Dec()
	}
}

// Publish enqueues the event on every matching connection and returns how
// many connections accepted it.
func (h *Hub) Publish(event models.CanonicalEvent) int {
	ids := h.index.lookup(event.EntityKey, event.Type)
	if len(ids) == 0 {
		return 0
	}

	data, err := json.Marshal(EventMessage{
		EventID:    event.EventID,
		EntityKey:  event.EntityKey,
		Type:       event.Type,
		Sequence:   event.Sequence,
		Payload:    event.Payload,
		OccurredAt: event.OccurredAt,
	})
	if err != nil {
		h.logger.Errorw("Failed to encode event for live clients",
			"event_id", event.EventID,
			"error", err,
		)
		return 0
	}

	now := h.now()
	delivered := 0
	for _, id := range ids {
		conn, ok := h.connection(id)
		if !ok {
			continue
		}
		accepted, dropped := conn.enqueue(data, now)
		if dropped {
			metrics.HubMessagesDroppedTotal.Inc()
		}
		if accepted {
			delivered++
		}
	}
	return delivered
}

// CheckLag resets every connection that has been lagging for at least the
// lag window: it gets exactly one resync message and loses its subscription.
func (h *Hub) CheckLag() int {
	now := h.now()

	h.mu.RLock()
	var stale []*Connection
	for _, conn := range h.conns {
		if lagging, since := conn.Lagging(); lagging && now.Sub(since) >= h.cfg.LagWindow {
			stale = append(stale, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range stale {
		h.reset(conn, "lagging")
	}
	return len(stale)
}

func (h *Hub) reset(conn *Connection, reason string) {
	if !conn.reset(encodeControl(ControlMessage{Type: MessageTypeResync, Reason: reason})) {
		return
	}

	h.mu.Lock()
	delete(h.conns, conn.id)
	h.mu.Unlock()
	h.index.remove(conn.id, nil)

	metrics.HubConnections.Dec()
	metrics.HubResyncsTotal.Inc()

	ctx := logging.WithConnectionID(context.Background(), conn.id)
	h.logger.WarnwCtx(ctx, "Lagging connection reset", "reason", reason)
}

// RunLagMonitor calls CheckLag every check interval until ctx is done.
func (h *Hub) RunLagMonitor(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CheckLag()
		}
	}
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Patterns returns the current subscription patterns of a connection.
func (h *Hub) Patterns(connID string) []string {
	return h.index.patterns(connID)
}

// Shutdown disconnects every client.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.Disconnect(id)
	}
}

func encodeControl(msg ControlMessage) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		return []byte(fmt.Sprintf(`{"type":%q}`, msg.Type))
	}
	return data
}
