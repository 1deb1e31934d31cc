package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeBufferSize = 100
	writeTimeout    = 5 * time.Second
)

// Connection wraps a gorilla websocket connection behind the
// interfaces.Connection contract. All writes funnel through a single writer
// goroutine fed by a buffered channel, so concurrent publishers never race
// on the socket and each recipient sees events in queue order.
type Connection struct {
	conn          *websocket.Conn
	writeCh       chan []byte
	participantID string
	role          string
	sessionID     string
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
}

// NewConnection wraps an upgraded websocket connection and starts its writer
// goroutine. Credentials are fixed for the connection's lifetime; a client
// changing identity reconnects.
func NewConnection(conn *websocket.Conn, sessionID, participantID, role string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:          conn,
		writeCh:       make(chan []byte, writeBufferSize),
		participantID: participantID,
		role:          role,
		sessionID:     sessionID,
		ctx:           ctx,
		cancel:        cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for delivery. Returns ErrConnectionClosed after Close
// and ErrWriteTimeout when the client cannot drain its buffer in time;
// either way the caller treats the recipient as unreachable and moves on.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close tears down the socket and stops the writer. Idempotent and safe to
// call concurrently with in-flight writes.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// ParticipantID returns the identity supplied at join time.
func (c *Connection) ParticipantID() string { return c.participantID }

// Role returns "teacher" or "student".
func (c *Connection) Role() string { return c.role }

// SessionID returns the session this connection is bound to.
func (c *Connection) SessionID() string { return c.sessionID }
