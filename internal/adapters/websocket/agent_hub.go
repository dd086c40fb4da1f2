// Package websocket provides WebSocket-based event fan-out for connected
// agent consoles
// Following Hexagonal Architecture: This is an Adapter layer component
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"livechat-core/internal/core/domain"
	"livechat-core/internal/core/ports"
)

// AgentHub fans domain events out to every connected agent console.
// Fan-out pattern: 1 event stream -> N console clients. Delivery is
// best-effort with a drop-if-full strategy per client; consoles reconcile
// through the regular REST surface, the same way the widget reconciles
// through poll.
type AgentHub struct {
	// Registered clients map (client -> struct{})
	clients map[*Client]struct{}

	// Buffered channel for serialized events (non-blocking, drop-if-full)
	broadcast chan []byte

	// Register/Unregister channels for client management
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	// Shared secret gating console connections
	secretKey string

	upgrader websocket.Upgrader
}

// Client represents a connected console
type Client struct {
	hub  *AgentHub
	conn *websocket.Conn
	send chan []byte
}

const (
	broadcastBufferSize = 256
	clientBufferSize    = 64

	// WebSocket timeouts
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// consoleEvents are the bus events consoles subscribe to
var consoleEvents = []string{
	domain.EventConversationCreated,
	domain.EventAssigneeChanged,
	domain.EventMessageCreated,
	domain.EventFirstReplyCreated,
	domain.EventConversationResolved,
	domain.EventConversationClosed,
	domain.EventAgentStatusChanged,
}

// NewAgentHub creates a hub and registers it as an asynchronous listener
// on the event bus: console fan-out must never run on a request handler's
// dispatch path.
func NewAgentHub(bus ports.EventBus, secretKey string) *AgentHub {
	hub := &AgentHub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		secretKey:  secretKey,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Consoles connect from the CRM shell; the secret gates access
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	for _, name := range consoleEvents {
		bus.SubscribeAsync(name, hub.onEvent)
	}

	return hub
}

// Run starts the hub's main event loop (call as goroutine)
func (h *AgentHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			slog.Info("Console connected", "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			slog.Info("Console disconnected", "total", total)

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				// Non-blocking send: a slow console must not block the hub
				select {
				case client.send <- message:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// onEvent serializes a bus event and queues it for broadcast
func (h *AgentHub) onEvent(ctx context.Context, evt domain.Event) {
	raw, err := json.Marshal(evt)
	if err != nil {
		slog.Error("Failed to encode console event",
			"error", err,
			"event", evt.Name,
		)
		return
	}

	select {
	case h.broadcast <- raw:
	default:
		// Channel full: drop rather than stall the async worker
		slog.Warn("Console broadcast buffer full, dropping event",
			"event", evt.Name,
		)
	}
}

// ServeWS handles WebSocket upgrade requests.
// Route: /ws/console?secret_key=...
func (h *AgentHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	queryKey := r.URL.Query().Get("secret_key")
	if h.secretKey == "" || queryKey != h.secretKey {
		http.Error(w, "Unauthorized: invalid or missing secret_key", http.StatusUnauthorized)
		slog.Warn("Unauthorized console connection attempt", "remote", r.RemoteAddr)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientBufferSize),
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// ClientCount returns the current number of connected consoles
func (h *AgentHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump drains the connection (pong responses and close frames)
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("Console read error", "error", err)
			}
			break
		}
	}
}

// writePump sends queued events to the console
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Batch pending events for efficiency
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte("\n"))
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
