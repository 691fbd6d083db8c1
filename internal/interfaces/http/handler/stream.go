package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	receivingapp "github.com/erp/receiving/internal/application/receiving"
	"github.com/erp/receiving/internal/domain/receiving"
)

// Stream frame types besides the session event types
const (
	FrameConnected = "connected"
	FrameResync    = "resync"
	FrameHeartbeat = "heartbeat"
	// FrameDisconnected tells the client its subscription was dropped and
	// it must reconnect to resync.
	FrameDisconnected = "disconnected"
)

const (
	wsWriteWait   = 10 * time.Second
	wsMaxReadSize = 512
)

// StreamFrame is one message on a live session stream
type StreamFrame struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func newFrame(typ, id string, data any) (StreamFrame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return StreamFrame{}, fmt.Errorf("failed to encode %s frame: %w", typ, err)
	}
	return StreamFrame{Type: typ, ID: id, Data: raw}, nil
}

func eventFrame(evt receiving.SessionEvent) (StreamFrame, error) {
	return newFrame(evt.EventType(), evt.EventID().String(), evt)
}

// StreamHandler pushes session events to SSE and WebSocket clients. Each
// stream starts with a resync frame carrying the full progress view.
type StreamHandler struct {
	BaseHandler
	service   *receivingapp.Service
	heartbeat time.Duration
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// StreamOption configures a StreamHandler
type StreamOption func(*StreamHandler)

// WithHeartbeatInterval sets the keepalive period
func WithHeartbeatInterval(d time.Duration) StreamOption {
	return func(h *StreamHandler) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// WithAllowedOrigins restricts WebSocket upgrades to the given origins.
// "*" or an empty list accepts any origin.
func WithAllowedOrigins(origins []string) StreamOption {
	return func(h *StreamHandler) {
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			if o == "*" {
				return
			}
			allowed[o] = true
		}
		if len(allowed) == 0 {
			return
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		}
	}
}

// WithStreamLogger sets the logger
func WithStreamLogger(logger *zap.Logger) StreamOption {
	return func(h *StreamHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewStreamHandler creates a new StreamHandler
func NewStreamHandler(service *receivingapp.Service, opts ...StreamOption) *StreamHandler {
	h := &StreamHandler{
		service:   service,
		heartbeat: 30 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// subscribe opens the subscription and builds the opening frames
func (h *StreamHandler) subscribe(c *gin.Context) (receiving.Subscription, []StreamFrame, bool) {
	key, ok := h.sessionKey(c)
	if !ok {
		return nil, nil, false
	}
	sub, progress, err := h.service.Subscribe(c.Request.Context(), key)
	if err != nil {
		h.HandleError(c, err)
		return nil, nil, false
	}

	connected, err := newFrame(FrameConnected, sub.ID(), gin.H{
		"subscription_id": sub.ID(),
		"session":         key,
	})
	if err != nil {
		sub.Close()
		h.HandleError(c, err)
		return nil, nil, false
	}
	resync, err := newFrame(FrameResync, "", progress)
	if err != nil {
		sub.Close()
		h.HandleError(c, err)
		return nil, nil, false
	}
	return sub, []StreamFrame{connected, resync}, true
}

// Events handles GET /sessions/:location/:date/events as Server-Sent Events
func (h *StreamHandler) Events(c *gin.Context) {
	sub, opening, ok := h.subscribe(c)
	if !ok {
		return
	}
	defer sub.Close()

	log := h.logger.With(zap.String("subscription_id", sub.ID()), zap.String("transport", "sse"))
	log.Debug("stream opened")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	write := func(f StreamFrame) error {
		if err := sse.Encode(c.Writer, sse.Event{Event: f.Type, Id: f.ID, Data: string(f.Data)}); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	}

	reason := h.pump(c.Request.Context(), sub, opening, write)
	log.Debug("stream closed", zap.String("reason", reason))
}

// WebSocket handles GET /sessions/:location/:date/ws
func (h *StreamHandler) WebSocket(c *gin.Context) {
	sub, opening, ok := h.subscribe(c)
	if !ok {
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already answered the client
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.logger.With(zap.String("subscription_id", sub.ID()), zap.String("transport", "websocket"))
	log.Debug("stream opened")

	// The read loop only exists to notice the peer going away.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	conn.SetReadLimit(wsMaxReadSize)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	write := func(f StreamFrame) error {
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
			return err
		}
		if f.Type == FrameHeartbeat {
			return conn.WriteMessage(websocket.PingMessage, nil)
		}
		return conn.WriteJSON(f)
	}

	reason := h.pump(ctx, sub, opening, write)
	log.Debug("stream closed", zap.String("reason", reason))

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}

// pump writes the opening frames and then every event until the client
// leaves or the subscription is dropped. It returns why it stopped.
func (h *StreamHandler) pump(ctx context.Context, sub receiving.Subscription, opening []StreamFrame, write func(StreamFrame) error) string {
	for _, f := range opening {
		if err := write(f); err != nil {
			return "write failed"
		}
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "client gone"

		case evt, ok := <-sub.Events():
			if !ok {
				if f, err := newFrame(FrameDisconnected, sub.ID(), gin.H{"reason": "subscriber too slow, reconnect to resync"}); err == nil {
					_ = write(f)
				}
				return "subscription dropped"
			}
			f, err := eventFrame(evt)
			if err != nil {
				h.logger.Error("failed to encode event", zap.String("event_type", evt.EventType()), zap.Error(err))
				continue
			}
			if err := write(f); err != nil {
				return "write failed"
			}

		case t := <-ticker.C:
			f, err := newFrame(FrameHeartbeat, "", gin.H{"time": t.UTC()})
			if err != nil {
				continue
			}
			if err := write(f); err != nil {
				return "write failed"
			}
		}
	}
}
