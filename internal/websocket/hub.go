package websocket

import (
	"sync"

	"github.com/helioworks/sunwatch-backend-go/internal/config"
	"github.com/helioworks/sunwatch-backend-go/internal/core/alerts"
	"github.com/sirupsen/logrus"
)

// Hub maintains the set of connected dashboard clients and fans out
// alert lifecycle events to all of them.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	config *config.WebSocketConfig
	logger *logrus.Logger
	mu     sync.RWMutex
}

// NewHub creates a new websocket hub
func NewHub(cfg *config.WebSocketConfig, logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
		config:     cfg,
		logger:     logger,
	}
}

// Run processes registrations and broadcasts until Stop is called.
// Intended to run as a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.WithField("clients", count).Debug("WebSocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.WithField("clients", count).Debug("WebSocket client disconnected")

		case payload := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- payload:
				default:
					// Slow consumer: drop the frame rather than stall the hub
					h.logger.Warn("WebSocket client send buffer full, dropping frame")
				}
			}
			h.mu.RUnlock()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop disconnects all clients and ends the Run loop
func (h *Hub) Stop() {
	close(h.done)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastAlertCreated pushes a newly raised or escalated alert to all clients
func (h *Hub) BroadcastAlertCreated(alert *alerts.AlertEvent) {
	h.broadcastMessage(NewMessage(MessageTypeAlertCreated, alert))
}

// BroadcastAlertResolved pushes a resolved alert to all clients
func (h *Hub) BroadcastAlertResolved(alert *alerts.AlertEvent) {
	h.broadcastMessage(NewMessage(MessageTypeAlertResolved, alert))
}

func (h *Hub) broadcastMessage(msg *Message) {
	payload, err := msg.Encode()
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode websocket message")
		return
	}
	select {
	case h.broadcast <- payload:
	case <-h.done:
	}
}
