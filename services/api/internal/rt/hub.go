// Package rt pushes ledger and compliance events to connected dashboards
// over websockets.
package rt

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

type message struct {
	Event     string `json:"event"`
	Payload   any    `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// Hub fans broadcast messages out to every connected client. Broadcasting to
// a nil Hub is a no-op so callers never guard the push path.
type Hub struct {
	mu       sync.Mutex
	log      *slog.Logger
	upgrader websocket.Upgrader
	conns    map[*websocket.Conn]struct{}
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards are served from arbitrary origins in dev setups.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: map[*websocket.Conn]struct{}{},
	}
}

// Handle upgrades the request and parks the connection. Clients only
// receive; any read (including close) ends the connection.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	h.log.Info("websocket client connected", "clients", n)

	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends an event to every client. Dead connections are dropped as
// they fail.
func (h *Hub) Broadcast(event string, payload any) {
	if h == nil {
		return
	}
	msg := message{Event: event, Payload: payload, Timestamp: time.Now().UnixMilli()}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			delete(h.conns, conn)
			h.log.Warn("websocket client dropped", "err", err)
		}
	}
}

// Clients returns the live connection count.
func (h *Hub) Clients() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) drop(conn *websocket.Conn) {
	conn.Close()
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}
