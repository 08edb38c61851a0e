package relay

import (
	"sync"

	"github.com/codefionn/botschafter/internal/logger"
)

// Hub maintains the set of active relay clients and broadcasts event frames
// to them.
type Hub struct {
	log        *logger.Logger
	clients    map[*Client]bool
	broadcast  chan *Frame
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	quit       chan struct{}
}

// NewHub creates a new hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Frame, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
	}
}

// Run starts the hub loop. It returns when Stop is called.
func (h *Hub) Run() {
	h.log.Info("relay hub started")
	defer h.log.Info("relay hub stopped")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("client registered: %s", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Debug("client unregistered: %s", client.ID)

		case frame := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- frame:
				default:
					// Slow consumer, drop it
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()

		case <-h.quit:
			return
		}
	}
}

// Stop stops the hub.
func (h *Hub) Stop() {
	close(h.quit)
}

// Register registers a new client.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister unregisters a client.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast sends a frame to every connected client. It never blocks the
// caller; when the hub cannot keep up the frame is dropped.
func (h *Hub) Broadcast(frame *Frame) {
	select {
	case h.broadcast <- frame:
	default:
		h.log.Warn("broadcast channel full, dropping frame")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
