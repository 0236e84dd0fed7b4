package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"devpulse/internal/logger"
	"devpulse/pkg/logging"
	"devpulse/pkg/metrics"
)

// Handler upgrades GET /ws to a websocket and pumps messages between the
// client and its hub Connection.
type Handler struct {
	hub      *Hub
	logger   logger.Logger
	upgrader websocket.Upgrader
}

func NewHandler(h *Hub, log logger.Logger) *Handler {
	handler := &Handler{
		hub:    h,
		logger: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	if origins := h.cfg.AllowedOrigins; len(origins) > 0 {
		handler.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range origins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		}
	}
	return handler
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/ws", h.ServeWS)
}

// ServeWS godoc
// @Summary Live event stream
// @Description Upgrades to a websocket; send {"type":"subscribe","patterns":[...]} to receive events
// @Tags realtime
// @Router /ws [get]
func (h *Handler) ServeWS(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnw("Websocket upgrade failed", "error", err)
		return
	}

	conn := h.hub.Register()
	ctx := logging.WithConnectionID(context.Background(), conn.ID())
	h.logger.InfowCtx(ctx, "Live client connected", "remote_addr", c.Request.RemoteAddr)

	go h.writePump(ctx, ws, conn)
	h.readPump(ctx, ws, conn)
}

func (h *Handler) readPump(ctx context.Context, ws *websocket.Conn, conn *Connection) {
	defer func() {
		h.hub.release(conn)
		_ = ws.Close()
		h.logger.InfowCtx(ctx, "Live client disconnected")
	}()

	cfg := h.hub.cfg
	if cfg.ReadLimit > 0 {
		ws.SetReadLimit(cfg.ReadLimit)
	}
	pongWait := h.pongWait()
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.DebugwCtx(ctx, "Live client read failed", "error", err)
			}
			return
		}
		h.handleClientMessage(conn, data)
	}
}

func (h *Handler) handleClientMessage(conn *Connection, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.reply(conn, ControlMessage{Type: MessageTypeError, Message: "invalid message"})
		return
	}

	switch msg.Type {
	case MessageTypeSubscribe:
		sub, err := h.hub.Subscribe(conn.ID(), msg.Patterns)
		if err != nil {
			h.reply(conn, ControlMessage{Type: MessageTypeError, Message: err.Error()})
			return
		}
		h.reply(conn, ControlMessage{Type: MessageTypeSubscribed, Patterns: sub.Patterns})
	case MessageTypeUnsubscribe:
		sub := h.hub.Unsubscribe(conn.ID(), msg.Patterns)
		h.reply(conn, ControlMessage{Type: MessageTypeSubscribed, Patterns: sub.Patterns})
	default:
		h.reply(conn, ControlMessage{Type: MessageTypeError, Message: "unknown message type " + msg.Type})
	}
}

func (h *Handler) reply(conn *Connection, msg ControlMessage) {
	if accepted, dropped := conn.enqueue(encodeControl(msg), h.hub.now()); accepted && dropped {
		metrics.HubMessagesDroppedTotal.Inc()
	}
}

func (h *Handler) writePump(ctx context.Context, ws *websocket.Conn, conn *Connection) {
	cfg := h.hub.cfg
	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case <-conn.Done():
			_ = h.write(ws, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-conn.Ready():
			for {
				msg, final, ok := conn.Pop()
				if !ok {
					break
				}
				if err := h.write(ws, websocket.TextMessage, msg); err != nil {
					h.logger.DebugwCtx(ctx, "Live client write failed", "error", err)
					return
				}
				metrics.HubMessagesSentTotal.Inc()
				if final {
					_ = h.write(ws, websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseTryAgainLater, MessageTypeResync))
					return
				}
			}

		case <-ticker.C:
			if err := h.write(ws, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) write(ws *websocket.Conn, messageType int, data []byte) error {
	timeout := h.hub.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	_ = ws.SetWriteDeadline(time.Now().Add(timeout))
	return ws.WriteMessage(messageType, data)
}

func (h *Handler) pongWait() time.Duration {
	ping := h.hub.cfg.PingInterval
	if ping <= 0 {
		ping = 30 * time.Second
	}
	return ping * 2
}
