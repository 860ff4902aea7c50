package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/KevinKickass/OpenSensorCore/internal/auth"
	"github.com/KevinKickass/OpenSensorCore/internal/notify"
	"go.uber.org/zap"
)

// TokenValidator resolves a bearer token to its caller.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token, ipAddress, userAgent string) (*auth.Principal, error)
}

// StatusProvider supplies the system status sent to newly registered clients.
type StatusProvider interface {
	SystemStatus() any
}

// Hub maintains active WebSocket clients and broadcasts messages
type Hub struct {
	clients map[*Client]bool

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	logger    *zap.Logger
	validator TokenValidator

	statusProvider StatusProvider

	done chan struct{}
}

// NewHub creates a new Hub instance
func NewHub(logger *zap.Logger, validator TokenValidator) *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger,
		validator:  validator,
		done:       make(chan struct{}),
	}
}

func (h *Hub) SetStatusProvider(provider StatusProvider) {
	h.statusProvider = provider
}

// Run starts the hub's main event loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket Hub started")
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			h.logger.Info("WebSocket Hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client registered",
				zap.String("remote_addr", client.remoteAddr()),
				zap.String("subject", client.subject()),
				zap.Int("total_clients", total))
			h.sendStatus(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("WebSocket client unregistered",
					zap.String("remote_addr", client.remoteAddr()),
					zap.Int("total_clients", len(h.clients)))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal broadcast message",
					zap.Error(err))
				continue
			}

			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(message.Sensor) {
					continue
				}
				select {
				case client.send <- data:
				default:
					// slow or dead client
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("Client send buffer full, unregistering",
						zap.String("remote_addr", client.remoteAddr()))
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) sendStatus(client *Client) {
	if h.statusProvider == nil {
		return
	}
	data, err := json.Marshal(NewMessage(MessageTypeSystemStatus, h.statusProvider.SystemStatus()))
	if err != nil {
		h.logger.Error("Failed to marshal system status", zap.Error(err))
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

// Publish forwards a sensor event to subscribed clients.
func (h *Hub) Publish(_ context.Context, e notify.Event) {
	h.Broadcast(FromEvent(e))
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
