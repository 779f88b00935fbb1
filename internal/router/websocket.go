package router

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/dipeo/dipeo-core/internal/logging"
)

// Connection timing, copied verbatim from the teacher's cmd/fanout/client.go
// since DiPeO's WS fan-out has the same server-push-only shape.
const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 512
)

// WSConnection adapts a *websocket.Conn to the Subscriber interface,
// grounded on the teacher's Client (readPump/writePump split, ping/pong
// keepalive).
type WSConnection struct {
	conn *websocket.Conn
	send chan []byte
	log  *logging.Logger
}

// NewWSConnection wraps conn and starts its read/write pumps. The
// caller is expected to have already registered the connection with a
// Router before (or immediately after) calling this.
func NewWSConnection(conn *websocket.Conn, log *logging.Logger) *WSConnection {
	c := &WSConnection{
		conn: conn,
		send: make(chan []byte, 512),
		log:  log,
	}
	go c.writePump()
	go c.readPump()
	return c
}

// Send enqueues payload for delivery, matching the teacher's
// buffered-channel handoff between the hub and the connection.
func (c *WSConnection) Send(payload []byte) error {
	select {
	case c.send <- payload:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close terminates the connection and stops its pumps.
func (c *WSConnection) Close() error {
	close(c.send)
	return c.conn.Close()
}

func (c *WSConnection) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error("websocket read error", "error", err)
			}
			return
		}
		// Server-push only; inbound frames are discarded besides ping/pong.
	}
}

func (c *WSConnection) writePump() {
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
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

type sendBufferFullError struct{}

func (sendBufferFullError) Error() string { return "websocket send buffer full" }

var errSendBufferFull = sendBufferFullError{}
