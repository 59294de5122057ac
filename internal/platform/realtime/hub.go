// Package realtime pushes events to connected users over WebSockets. Each
// connection belongs to exactly one authenticated user and receives only
// that user's events.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/heartflow/clinic/internal/platform/apperror"
	"github.com/heartflow/clinic/internal/platform/auth"
)

const (
	sendBuffer     = 32
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Event is one message written to a user's stream.
type Event struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type client struct {
	userID uuid.UUID
	send   chan []byte
}

// Hub tracks open connections per user.
type Hub struct {
	mu     sync.RWMutex
	users  map[uuid.UUID]map[*client]struct{}
	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		users:  make(map[uuid.UUID]map[*client]struct{}),
		logger: logger.With().Str("component", "realtime").Logger(),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[c.userID] == nil {
		h.users[c.userID] = make(map[*client]struct{})
	}
	h.users[c.userID][c] = struct{}{}
}

// unregister removes c and closes its send channel. Safe to call twice.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.users[c.userID]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.users, c.userID)
	}
	close(c.send)
}

// Push marshals payload and queues it on every connection the user has open.
// Connections whose buffer is full are skipped. It returns the number of
// connections the event was queued on.
func (h *Hub) Push(userID uuid.UUID, eventType string, payload any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	msg, err := json.Marshal(Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for c := range h.users[userID] {
		select {
		case c.send <- msg:
			delivered++
		default:
			h.logger.Warn().Str("user_id", userID.String()).Msg("stream buffer full, event dropped")
		}
	}
	return delivered, nil
}

// Connections returns the number of open connections across all users.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.users {
		n += len(conns)
	}
	return n
}

// UserConnections returns the number of open connections for one user.
func (h *Hub) UserConnections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Handler upgrades authenticated requests to a WebSocket stream.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler accepts upgrades from the given origins. An empty list or "*"
// accepts any origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if allowAll || origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// Stream is mounted behind the auth middleware; the caller's own events are
// written until either side closes.
func (h *Handler) Stream(c echo.Context) error {
	uid, err := auth.UserUUIDFromContext(c.Request().Context())
	if err != nil {
		return apperror.Unauthorized("authentication required")
	}
	if !websocket.IsWebSocketUpgrade(c.Request()) {
		return apperror.Validation("websocket upgrade required")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.hub.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return nil
	}

	cl := &client{userID: uid, send: make(chan []byte, sendBuffer)}
	h.hub.register(cl)
	h.hub.logger.Debug().Str("user_id", uid.String()).Msg("stream opened")

	go h.writePump(cl, ws)
	go h.readPump(cl, ws)
	return nil
}

// readPump only services control frames; client messages are discarded.
func (h *Handler) readPump(cl *client, ws *websocket.Conn) {
	defer func() {
		h.hub.unregister(cl)
		ws.Close()
	}()
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(cl *client, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()
	for {
		select {
		case msg, ok := <-cl.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.hub.unregister(cl)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.hub.unregister(cl)
				return
			}
		}
	}
}
