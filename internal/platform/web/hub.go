package web

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dontdude/goscribe/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// sendBuffer is how many events a slow client may lag behind before it is dropped.
	sendBuffer = 32
)

// WebSocket Upgrader (Gorilla)
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one websocket connection following one batch.
// Only its writer goroutine writes to conn.
type client struct {
	batchID string
	conn    *websocket.Conn
	send    chan domain.Event
}

// Hub forwards progress events to the websocket clients following their batch.
// Map key: BatchID -> set of clients
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*client]struct{})}
}

// Run subscribes to bus and broadcasts events until ctx is done or the subscription ends.
func (h *Hub) Run(ctx context.Context, bus domain.EventBus) error {
	slog.Info("Starting event broadcaster...")

	events, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	for ev := range events {
		h.Broadcast(ev)
	}
	return nil
}

// Broadcast hands ev to every client of its batch. A client whose buffer is full is disconnected.
func (h *Hub) Broadcast(ev domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[ev.BatchID] {
		select {
		case c.send <- ev:
		default:
			slog.Warn("Dropping slow websocket client", "batch", ev.BatchID)
			h.removeLocked(c)
		}
	}
}

// Clients returns the number of connections following batchID.
func (h *Hub) Clients(batchID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[batchID])
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.batchID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.batchID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked closes c.send at most once; h.mu must be held.
func (h *Hub) removeLocked(c *client) {
	set, ok := h.clients[c.batchID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.batchID)
	}
}

// ServeWS upgrades the connection and streams the events of the batch_id query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	// 1. Extract BatchID from Query Params
	batchID := r.URL.Query().Get("batch_id")
	if batchID == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "batch_id is required"})
		return
	}

	// 2. Upgrade to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// 3. Register to Hub
	slog.Info("Client connected via WebSocket", "batch", batchID, "remoteAddr", conn.RemoteAddr())
	c := &client{batchID: batchID, conn: conn, send: make(chan domain.Event, sendBuffer)}
	h.register(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writeLoop()
	}()

	// 4. Read until the client disconnects; inbound messages are ignored
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	// 5. Clean up on disconnect
	slog.Info("Client disconnected", "batch", batchID)
	h.unregister(c)
	<-done
	_ = conn.Close()
}

// writeLoop is the only writer of c.conn. It ends when c.send is closed or a write fails.
func (c *client) writeLoop() {
	for ev := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			slog.Error("Failed to write to websocket", "batch", c.batchID, "error", err)
			// unblock the reader
			_ = c.conn.Close()
			// drain until unregistered
			for range c.send {
			}
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	_ = c.conn.Close()
}
