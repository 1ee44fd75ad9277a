package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait bounds a single frame write to a slow client.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before it is
	// considered dead and torn down.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait so a healthy client always
	// has a ping to answer before the deadline expires.
	pingPeriod = (pongWait * 9) / 10

	sendBufferSize = 16
)

var errSendBufferFull = errors.New("server: session send buffer full")

// Session is one live websocket connection. Outbound messages go through a
// buffered channel drained by a single writer goroutine; gorilla/websocket
// permits at most one concurrent writer per connection.
type Session struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(id string, conn *websocket.Conn, logger *zap.Logger) *Session {
	return &Session{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: logger,
		closed: make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Send marshals a message and queues it for delivery. A full buffer means
// the client cannot keep up; the caller sees an error and the message is
// dropped rather than blocking the sync pipeline.
func (s *Session) Send(message any) error {
	encoded, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("server: encode outbound message: %w", err)
	}
	return s.enqueue(encoded)
}

func (s *Session) enqueue(data []byte) error {
	select {
	case <-s.closed:
		return errors.New("server: session closed")
	default:
	}
	select {
	case s.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.conn != nil {
			s.conn.Close() //nolint:errcheck
		}
	})
}

// writePump drains the send queue and emits heartbeat pings. It owns all
// writes to the connection and exits when the session closes.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("session write failed",
					zap.String("session_id", s.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}
