package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Listeners only send control frames
	maxMessageSize = 1024

	sendBuffer = 64
)

// Listener is one dashboard websocket connection.
type Listener struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewListener joins conn to the hub. If the hub has stopped the listener is
// created already closed and Serve returns as soon as the peer is told.
func NewListener(h *Hub, conn *websocket.Conn) *Listener {
	l := &Listener{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	select {
	case h.join <- l:
	case <-h.stopped:
		close(l.send)
	}
	return l
}

// ID identifies the listener in logs.
func (l *Listener) ID() string { return l.id }

// offer queues frame without blocking and reports whether it fit.
func (l *Listener) offer(frame []byte) bool {
	select {
	case l.send <- frame:
		return true
	default:
		return false
	}
}

// Serve pumps frames to the peer and blocks until the connection closes.
// Call it from the websocket handler.
func (l *Listener) Serve() {
	go l.writeLoop()
	l.readLoop()
}

// readLoop discards inbound frames and notices disconnects
func (l *Listener) readLoop() {
	defer func() {
		select {
		case l.hub.leave <- l:
		case <-l.hub.stopped:
		}
		l.conn.Close()
	}()

	l.conn.SetReadLimit(maxMessageSize)
	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := l.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop is the only goroutine writing to the connection
func (l *Listener) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		l.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				l.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := l.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
