package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roman-kulish/drone-tracker/internal/telemetry"
)

const (
	// EventTelemetry carries a raw telemetry sample from a client
	EventTelemetry = "telemetry"

	// EventTelemetryLegacy is the older name of EventTelemetry
	EventTelemetryLegacy = "drone:telemetry"

	// EventError reports a rejected client message
	EventError = "error"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// Ingester accepts raw telemetry payloads arriving on a connection
type Ingester interface {
	IngestBytes(ctx context.Context, payload []byte, origin string) (*telemetry.Normalized, error)
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type errorData struct {
	Message string `json:"message"`
}

// Handler is a websocket endpoint. Every connection subscribes to the hub
// and may push telemetry, which is ingested with the connection as origin.
type Handler struct {
	hub      *Hub
	ingester Ingester
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a new Handler. A nil ingester makes the endpoint
// receive-only.
func NewHandler(hub *Hub, ingester Ingester, logger *slog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		ingester: ingester,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With(slog.String("component", "websocket")),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(fmt.Sprintf("upgrading connection: %s", err.Error()))
		return
	}

	sub := h.hub.Subscribe()
	h.logger.Info("connected",
		slog.String("subscriber", sub.ID()),
		slog.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(conn, sub)
	}()

	h.readLoop(r.Context(), conn, sub)

	h.hub.Unsubscribe(sub.ID())
	<-done
	_ = conn.Close()

	h.logger.Info("disconnected", slog.String("subscriber", sub.ID()))
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sub *Subscriber) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, p, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn(fmt.Sprintf("reading message: %s", err.Error()), slog.String("subscriber", sub.ID()))
			}
			return
		}

		h.handleMessage(ctx, sub, p)
	}
}

func (h *Handler) handleMessage(ctx context.Context, sub *Subscriber, p []byte) {
	var msg inbound
	if err := json.Unmarshal(p, &msg); err != nil {
		h.reject(sub, fmt.Errorf("decoding message: %w", err))
		return
	}

	switch msg.Event {
	case EventTelemetry, EventTelemetryLegacy:
		if h.ingester == nil {
			return
		}
		if _, err := h.ingester.IngestBytes(ctx, msg.Data, sub.ID()); err != nil {
			h.reject(sub, err)
		}

	default:
		h.logger.Debug("ignoring event",
			slog.String("subscriber", sub.ID()),
			slog.String("event", msg.Event))
	}
}

func (h *Handler) reject(sub *Subscriber, err error) {
	level := slog.LevelError
	if errors.Is(err, telemetry.ErrValidation) {
		level = slog.LevelWarn
	}
	h.logger.Log(context.Background(), level, fmt.Sprintf("telemetry error: %s", err.Error()),
		slog.String("subscriber", sub.ID()))

	if sErr := h.hub.Send(sub.ID(), EventError, errorData{Message: "invalid telemetry"}); sErr != nil {
		h.logger.Debug(sErr.Error())
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case p, ok := <-sub.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, p); err != nil {
				h.logger.Debug(fmt.Sprintf("writing message: %s", err.Error()), slog.String("subscriber", sub.ID()))
				_ = conn.Close() // unblocks the read loop
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
