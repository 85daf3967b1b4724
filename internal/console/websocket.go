package console

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/scanconsole/internal/logging"
	"github.com/anstrom/scanconsole/internal/session"
)

const (
	// WebSocket configuration constants.
	writeWait      = 10 * time.Second  // Time allowed to write a message to the peer
	pongWait       = 60 * time.Second  // Time to read next pong message from peer
	pingPeriod     = pongWait * 9 / 10 // Send pings to peer (must be < pongWait)
	maxMessageSize = 512               // Maximum message size allowed from peer
	sendBuffer     = 16                // Per-client queue of pending state messages
)

// SessionMessage is sent to every client when the session changes, and once
// on connect.
type SessionMessage struct {
	Type      string        `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Data      session.State `json:"data"`
}

// Subscriber is the part of the session manager the hub listens to.
type Subscriber interface {
	State() session.State
	Subscribe(fn func(session.State)) func()
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans session state changes out to WebSocket clients.
type Hub struct {
	source      Subscriber
	logger      *logging.Logger
	upgrader    websocket.Upgrader
	unsubscribe func()

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub subscribes to source and starts broadcasting.
func NewHub(source Subscriber, logger *logging.Logger) *Hub {
	h := &Hub{
		source: source,
		logger: logger.WithFields("handler", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*client]struct{}),
	}
	h.unsubscribe = source.Subscribe(h.broadcast)
	return h
}

// ServeHTTP upgrades the connection and streams session messages until the
// peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", "request_id", requestID(r), "error", err)
		return
	}

	initial, err := encodeState(h.source.State())
	if err != nil {
		h.logger.Error("Failed to encode session message", "error", err)
		_ = conn.Close()
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.register(c, initial) {
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close unsubscribes from the session and disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	h.unsubscribe()
	for c := range clients {
		close(c.send)
	}
}

func (h *Hub) register(c *client, initial []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	c.send <- initial
	h.clients[c] = struct{}{}
	h.logger.Debug("Client registered", "total_clients", len(h.clients))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.logger.Debug("Client unregistered", "total_clients", len(h.clients))
	}
}

// broadcast queues the state for every client. A client whose queue is full
// is dropped rather than blocking the session manager.
func (h *Hub) broadcast(state session.State) {
	msg, err := encodeState(state)
	if err != nil {
		h.logger.Error("Failed to encode session message", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("WebSocket client too slow, disconnecting")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("WebSocket unexpected close", "error", err)
			}
			return
		}
	}
}

// writePump sends queued messages and pings.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("Write failed, closing connection", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encodeState(state session.State) ([]byte, error) {
	return json.Marshal(SessionMessage{
		Type:      "session",
		Timestamp: time.Now().UTC(),
		Data:      state,
	})
}
