package schedule

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kilianp07/hems/core/network"
	"github.com/kilianp07/hems/infra/logger"
	"github.com/kilianp07/hems/internal/eventbus"
)

const clientBuffer = 16

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Hub fans cycle snapshots out to websocket clients.
type Hub struct {
	log logger.Logger

	mu      sync.RWMutex
	clients map[*client]bool
	last    []byte
}

func NewHub() *Hub {
	return &Hub{log: logger.New("api-ws"), clients: map[*client]bool{}}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
	if h.last != nil {
		c.send <- h.last
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast sends msg to every client. Slow clients miss messages.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = msg
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warnf("client buffer full, dropping snapshot")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run broadcasts every snapshot published on bus until ctx is done.
func (h *Hub) Run(ctx context.Context, bus *eventbus.TypedBus[network.Snapshot]) {
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			msg, err := json.Marshal(snap)
			if err != nil {
				h.log.Errorf("encode snapshot: %v", err)
				continue
			}
			h.Broadcast(msg)
		}
	}
}
