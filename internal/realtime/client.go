package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer. A dead
	// transport is detected here and treated as a disconnect; an idle
	// but responsive connection is never evicted.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096

	// Bounded per-connection send queue. A receiver that cannot drain
	// this is dropped rather than allowed to block the broadcaster.
	sendQueueSize = 64
)

// Client is one bidirectional push channel between a connected peer and
// the hub. Identity fields are set by the hub after a successful
// authenticate message; they are only touched from the read loop.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan Envelope

	done      chan struct{}
	closeOnce sync.Once

	authenticated bool
	user          UserInfo
}

func newClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   id,
		hub:  hub,
		conn: conn,
		send: make(chan Envelope, sendQueueSize),
		done: make(chan struct{}),
	}
}

// displayName returns the name broadcast to other members of a sheet.
func (c *Client) displayName() string {
	name := c.user.FirstName + " " + c.user.LastName
	if name == " " {
		return c.user.Username
	}
	return name
}

// enqueue queues an envelope for delivery without ever blocking.
// POST: Returns false if the queue is full; the caller must treat the
// client as dead and drop it.
func (c *Client) enqueue(env Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// close signals the client's goroutines to stop (idempotent). The send
// channel is never closed, so concurrent broadcasters cannot panic.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// readPump reads messages from the websocket and dispatches them.
// Runs as one goroutine per connection; exits on transport loss, which
// implies an implicit leave via hub.unregister.
func (c *Client) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("channel_read_error", "session_id", c.id, "error", err)
			}
			return
		}
		c.hub.dispatch(c, env)
	}
}

// writePump writes queued messages to the websocket and keeps the
// connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
