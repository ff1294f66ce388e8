// Package wsevents bridges the sync-engine progress event bus
// (internal/realtime) to WebSocket clients, adapting the teacher's
// silence-event WebSocket hub to a single shared realtime.EventBus instead
// of a bespoke broadcast channel per feature.
package wsevents

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mscatalog/catalogrelay/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeTimeout = 10 * time.Second

// subscriber adapts a websocket.Conn to realtime.EventSubscriber.
type subscriber struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	conn   *websocket.Conn
	mu     sync.Mutex
}

func newSubscriber(conn *websocket.Conn) *subscriber {
	ctx, cancel := context.WithCancel(context.Background())
	return &subscriber{id: uuid.NewString(), ctx: ctx, cancel: cancel, conn: conn}
}

func (s *subscriber) ID() string                 { return s.id }
func (s *subscriber) Context() context.Context   { return s.ctx }

func (s *subscriber) Send(event realtime.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(event)
}

func (s *subscriber) Close() error {
	s.cancel()
	return s.conn.Close()
}

// Handler upgrades a request to a WebSocket connection and subscribes it to
// bus until the client disconnects.
type Handler struct {
	bus    realtime.EventBus
	logger *slog.Logger
}

// New builds a Handler streaming bus's events to WebSocket clients.
func New(bus realtime.EventBus, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{bus: bus, logger: logger.With("component", "wsevents")}
}

// ServeHTTP upgrades the connection and blocks until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	sub := newSubscriber(conn)
	if err := h.bus.Subscribe(sub); err != nil {
		h.logger.Warn("subscribe failed", "error", err)
		conn.Close()
		return
	}
	h.logger.Info("websocket client subscribed", "subscriber_id", sub.ID(), "remote_addr", conn.RemoteAddr().String())

	h.readPump(sub)
}

// readPump keeps the connection alive with pings and waits for disconnect;
// clients are not expected to send application messages.
func (h *Handler) readPump(sub *subscriber) {
	defer func() {
		h.bus.Unsubscribe(sub)
	}()

	conn := sub.conn
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-sub.Context().Done():
			return
		case <-ticker.C:
			sub.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			sub.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
