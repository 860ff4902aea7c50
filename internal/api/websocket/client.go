package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/auth"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Send pings to peer with this period
	pingPeriod = 54 * time.Second

	// Time allowed for the auth message after connecting
	authWait = 10 * time.Second

	maxMessageSize = 8192

	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	logger    *zap.Logger
	principal *auth.Principal

	mu      sync.RWMutex
	sensors map[string]bool
}

func (c *Client) remoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Client) subject() string {
	if c.principal == nil {
		return ""
	}
	return c.principal.Subject()
}

// wants reports whether the client is subscribed to the sensor. Messages
// without a sensor and clients without a subscription list receive all.
func (c *Client) wants(sensor string) bool {
	if sensor == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sensors == nil || c.sensors[sensor]
}

func (c *Client) subscribe(sensors []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(sensors) == 0 {
		c.sensors = nil
		return
	}
	c.sensors = make(map[string]bool, len(sensors))
	for _, s := range sensors {
		c.sensors[s] = true
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	registered := false
	defer func() {
		if registered {
			select {
			case c.hub.unregister <- c:
			case <-c.hub.done:
			}
		} else {
			close(c.send)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(authWait))

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr()))
			}
			return
		}

		// first message must authenticate
		if !registered {
			if msg.Type != "auth" || msg.Token == "" {
				c.sendAuthFailed("First message must be authentication")
				return
			}

			principal, err := c.hub.validator.ValidateToken(
				context.Background(),
				msg.Token,
				c.remoteAddr(),
				"",
			)
			if err != nil {
				c.logger.Warn("WebSocket authentication failed",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr()))
				c.sendAuthFailed("Invalid or expired token")
				return
			}

			c.principal = principal
			c.subscribe(msg.Sensors)
			c.conn.SetReadDeadline(time.Time{})

			c.sendAuthSuccess()
			c.logger.Info("WebSocket client authenticated",
				zap.String("remote_addr", c.remoteAddr()),
				zap.String("subject", principal.Subject()))

			select {
			case c.hub.register <- c:
				registered = true
			case <-c.hub.done:
				return
			}
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) sendAuthSuccess() {
	msg := map[string]interface{}{
		"type":        "auth_success",
		"timestamp":   time.Now(),
		"subject":     c.principal.Subject(),
		"permissions": c.principal.Permissions,
	}
	data, _ := json.Marshal(msg)
	c.send <- data
}

func (c *Client) sendAuthFailed(reason string) {
	msg := map[string]interface{}{
		"type":      "auth_failed",
		"timestamp": time.Now(),
		"reason":    reason,
	}
	data, _ := json.Marshal(msg)
	c.send <- data
}

func (c *Client) handleMessage(msg clientMessage) {
	switch msg.Type {
	case "subscribe":
		c.subscribe(msg.Sensors)
		c.logger.Debug("WebSocket client subscribed",
			zap.String("remote_addr", c.remoteAddr()),
			zap.Strings("sensors", msg.Sensors))
	default:
		c.logger.Debug("Ignoring client message",
			zap.String("remote_addr", c.remoteAddr()),
			zap.String("type", msg.Type))
	}
}

// writePump handles writing messages to the WebSocket connection
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// coalesce queued messages, one JSON document per line
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
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

// ServeWs upgrades the request. The client joins the hub after it
// authenticates with its first message.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger,
	}

	go client.writePump()
	go client.readPump()
}
