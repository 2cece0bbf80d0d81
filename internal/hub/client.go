package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"multiplayer-life/internal/service"
)

// Client is one realtime connection. It joins at most one room at a time.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn // nil in tests
	id     string
	send   chan []byte
	claims *service.PlayerClaims // set when player tokens are enabled

	mu       sync.Mutex
	roomID   string
	playerID string
	closed   bool
}

// NewClient creates a Client for an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, claims *service.PlayerClaims) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		id:     uuid.NewString(),
		send:   make(chan []byte, 256),
		claims: claims,
	}
}

// Run registers the client and starts its read and write pumps.
func (c *Client) Run() {
	if !c.hub.QueueMessage(HubMessage{Type: MessageRegister, Client: c}) {
		c.logger().Error("Hub message channel full, closing connection")
		_ = c.conn.Close()
		return
	}
	go c.WritePump()
	go c.ReadPump()
}

// ReadPump dispatches incoming messages in arrival order. It runs in its own goroutine.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.messageChan <- HubMessage{Type: MessageUnregister, Client: c}:
		case <-time.After(time.Second):
			c.logger().Warn("Timeout sending unregister message to Hub channel")
		}
		_ = c.conn.Close()
		c.logger().Info("readPump exited, unregistered client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger().WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.logger().Debug("WebSocket connection closed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger().Debugf("Ignoring non-text message type: %d", messageType)
			continue
		}
		// Inline dispatch keeps per-connection FIFO.
		c.hub.Dispatch(c, message)
	}
}

// WritePump drains the send channel into the connection and keeps it alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		c.logger().Debug("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger().WithError(err).Warn("Failed to write message to websocket")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger().WithError(err).Warn("Failed to send ping message")
				return
			}
		}
	}
}

// enqueue queues a message without blocking. A full or closed client drops it.
func (c *Client) enqueue(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Session returns the room and player bound by join.
func (c *Client) Session() (roomID, playerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.playerID
}

func (c *Client) bind(roomID, playerID string) {
	c.mu.Lock()
	c.roomID, c.playerID = roomID, playerID
	c.mu.Unlock()
}

func (c *Client) logger() *logrus.Entry {
	roomID, playerID := c.Session()
	return logrus.WithFields(logrus.Fields{"client_id": c.id, "room_id": roomID, "player_id": playerID})
}
