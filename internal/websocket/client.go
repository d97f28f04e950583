package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	maxMessageSize = 1024

	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 60 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboard and API share an origin behind the same reverse proxy
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one connected dashboard websocket session
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration

	logger *logrus.Logger
}

// ServeWS upgrades an HTTP request to a websocket connection and
// registers the client with the hub.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, 32),
		pingInterval: intervalOrDefault(hub.config.PingInterval, defaultPingInterval),
		pongTimeout:  intervalOrDefault(hub.config.PongTimeout, defaultPongTimeout),
		writeTimeout: intervalOrDefault(hub.config.WriteTimeout, defaultWriteTimeout),
		logger:       hub.logger,
	}

	hub.register <- client

	go client.writePump()
	go client.readPump()
	return nil
}

func intervalOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// readPump drains inbound frames. Clients only receive; anything they
// send besides pongs is discarded.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("WebSocket read error")
			}
			return
		}
	}
}

// writePump forwards hub broadcasts to the connection and keeps it
// alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
