package realtime

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 64
)

// controlMessage is what clients may send: subscribe, unsubscribe or ping.
type controlMessage struct {
	Action  string   `json:"action"`
	Streams []string `json:"streams"`
}

type client struct {
	hub     *Hub
	conn    *websocket.Conn
	userID  string
	streams map[string]struct{} // guarded by hub.mu
	send    chan Message
	done    chan struct{}
	once    sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, userID string) *client {
	return &client{
		hub:     hub,
		conn:    conn,
		userID:  userID,
		streams: make(map[string]struct{}),
		send:    make(chan Message, sendBuffer),
		done:    make(chan struct{}),
	}
}

// offer queues message without blocking. It reports false when the buffer is full.
func (c *client) offer(message Message) bool {
	select {
	case c.send <- message:
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("unexpected websocket close", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}

		var ctrl controlMessage
		if len(payload) == 0 || json.Unmarshal(payload, &ctrl) != nil {
			continue
		}
		c.handle(ctrl)
	}
}

func (c *client) handle(ctrl controlMessage) {
	switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
	case "subscribe":
		c.hub.subscribe(c, ctrl.Streams)
	case "unsubscribe":
		c.hub.unsubscribe(c, ctrl.Streams)
	case "ping":
		select {
		case c.send <- Message{Event: "pong"}:
		case <-c.done:
		}
	}
}

func (c *client) writePump() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-c.done:
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = c.conn.WriteJSON(message)
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = c.conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}

// close is idempotent. send is never closed so concurrent broadcasters
// cannot panic.
func (c *client) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		close(c.done)
		_ = c.conn.Close()
	})
}
