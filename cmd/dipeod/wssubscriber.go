package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Keepalive and framing constants, carried over from the fan-out hub's
// Client: send every message as its own WebSocket frame so a browser's
// JSON.parse per onmessage never has to split a batched payload.
const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 30 * time.Second
	wsPingPeriod     = 25 * time.Second
	wsMaxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSubscriber adapts a *websocket.Conn to router.Subscriber. Unlike
// the fan-out hub's Client, there's no hub to register/unregister with
// on disconnect — the router's own Unregister is called by the caller
// that spawned readPump.
type wsSubscriber struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func newWSSubscriber(conn *websocket.Conn) *wsSubscriber {
	s := &wsSubscriber{conn: conn, send: make(chan []byte, 256), done: make(chan struct{})}
	go s.writePump()
	go s.readPump()
	return s
}

// Send implements router.Subscriber. It never blocks indefinitely: a
// full buffer means the client can't keep up, so Send reports failure
// and the router drops the subscriber.
func (s *wsSubscriber) Send(payload []byte) error {
	select {
	case s.send <- payload:
		return nil
	case <-s.done:
		return websocket.ErrCloseSent
	default:
		return websocket.ErrCloseSent
	}
}

// Close implements router.Subscriber.
func (s *wsSubscriber) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return s.conn.Close()
}

func (s *wsSubscriber) readPump() {
	defer s.Close()
	s.conn.SetReadLimit(wsMaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *wsSubscriber) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
