package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/staylight/livechat/internal/logging"
	"github.com/staylight/livechat/internal/presence"
)

type Role string

const (
	RoleVisitor Role = "visitor"
	RoleAdmin   Role = "admin"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Client is one physical connection: a role, an optional agent profile, and
// a buffered send queue drained by its write pump. The queue can be closed
// by the hub (eviction) while the read pump is still alive, so every send
// and the close itself go through the mutex.
type Client struct {
	id      string
	role    Role
	profile presence.Profile // zero value for visitors
	conn    *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan Envelope
}

func newClient(id string, role Role, profile presence.Profile, conn *websocket.Conn) *Client {
	return &Client{
		id:      id,
		role:    role,
		profile: profile,
		conn:    conn,
		send:    make(chan Envelope, sendBuffer),
	}
}

// readPump owns the connection's read side. Returns when the peer goes away
// or sends garbage the decoder cannot recover from; the caller runs
// disconnect cleanup.
func (c *Client) readPump(handle func(*Client, Inbound)) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env Inbound
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Str("conn_id", c.id).Msg("websocket read failed")
			}
			return
		}
		handle(c, env)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
// Exits when the hub closes the send channel on eviction or disconnect.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				logging.Warn().Err(err).Str("conn_id", c.id).Msg("websocket write failed")
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

// trySend queues an envelope for this connection. Returns false without
// blocking when the buffer is full or the queue is already closed; the
// caller decides whether that means eviction (hub) or a dropped event
// (per-sender error path).
func (c *Client) trySend(env Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// closeSend shuts the send queue exactly once. Safe to call concurrently
// with trySend and safe to call twice (eviction then disconnect).
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
