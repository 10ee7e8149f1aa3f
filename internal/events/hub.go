// Package events streams ledger entries to websocket subscribers.
package events

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fentz26/agora/internal/audit"
	"github.com/fentz26/agora/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Filter narrows a subscription. Empty fields match everything.
type Filter struct {
	TaskID  string `json:"task_id,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
}

func (f Filter) match(e models.AuditEntry) bool {
	if f.TaskID != "" && f.TaskID != e.TaskID {
		return false
	}
	if f.AgentID != "" && f.AgentID != e.AgentID {
		return false
	}
	return true
}

// Hub fans audit entries out to connected clients. It satisfies
// audit.Ledger so it can sit beside the durable sinks.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	filter Filter
}

// RecordEvent broadcasts ev to matching subscribers. Slow clients drop
// messages rather than block the caller.
func (h *Hub) RecordEvent(ctx context.Context, ev audit.Event) (string, error) {
	entry, err := audit.Entry(ev)
	if err != nil {
		return "", err
	}
	return h.RecordEntry(ctx, entry)
}

// RecordEntry broadcasts a prepared entry.
func (h *Hub) RecordEntry(_ context.Context, entry models.AuditEntry) (string, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.currentFilter().match(entry) {
			continue
		}
		select {
		case c.send <- data:
		default:
			log.Println("events: client buffer full, dropping message")
		}
	}
	return entry.ID, nil
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the connection. Query
// parameters task_id and agent_id set the initial filter; clients may send
// a Filter JSON message to change it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("events: failed to upgrade connection: %v", err)
		return
	}
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		filter: Filter{
			TaskID:  r.URL.Query().Get("task_id"),
			AgentID: r.URL.Query().Get("agent_id"),
		},
	}
	h.register(c)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (c *client) currentFilter() Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("events: websocket error: %v", err)
			}
			return
		}
		var f Filter
		if err := json.Unmarshal(message, &f); err != nil {
			log.Printf("events: ignoring malformed filter: %v", err)
			continue
		}
		c.mu.Lock()
		c.filter = f
		c.mu.Unlock()
	}
}

func (c *client) writePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
