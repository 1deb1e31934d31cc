// Package client is the Go client for the liveclass protocol. It prefers
// push delivery over a websocket and degrades transparently to the timed
// polling fallback whenever the push transport is unusable, reconciling both
// paths into one view of the current understanding check.
package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"liveclass/pkg/types"
)

// DefaultPollInterval is the fallback poller's re-fetch interval.
const DefaultPollInterval = 5 * time.Second

// ServerEvent is a decoded server notification. Payload stays raw so callers
// unmarshal only the event types they care about.
type ServerEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Options configures a client.
type Options struct {
	// BaseURL is the server's HTTP base, e.g. "http://localhost:8080".
	BaseURL       string
	SessionID     string
	ParticipantID string
	Role          string
	// PollInterval overrides DefaultPollInterval when positive.
	PollInterval time.Duration
}

// Client is one participant's connection to a session.
type Client struct {
	opts       Options
	interval   time.Duration
	httpClient *http.Client
	events     chan ServerEvent

	mu             sync.Mutex
	conn           *websocket.Conn
	degraded       bool
	currentCheckID string
	question       string
	answered       bool
	closed         bool
	started        bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a client. Connect starts it.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if !types.IsValidID(opts.SessionID) || !types.IsValidID(opts.ParticipantID) {
		return nil, types.ErrInvalidParticipantID
	}
	if !types.IsValidRole(opts.Role) {
		return nil, types.ErrInvalidRole
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:       opts,
		interval:   interval,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		events:     make(chan ServerEvent, 64),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}, nil
}

// Connect starts the transport loop. A failed initial dial is not an error:
// the client comes up in degraded (polling) mode and keeps retrying push in
// the background, surfacing the state only through Degraded().
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	go c.run()
	return nil
}

// Events returns the stream of server notifications. Closed when the
// session ends or the client is closed.
func (c *Client) Events() <-chan ServerEvent {
	return c.events
}

// Degraded reports whether the client is currently on the polling fallback.
// Intended for an optional connectivity indicator, nothing else.
func (c *Client) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// CurrentCheck returns the last reconciled open check, if any.
func (c *Client) CurrentCheck() (checkID, question string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentCheckID, c.question, c.currentCheckID != ""
}

// HasAnswered reports whether this client already answered the current
// check. Reset whenever a new check is reconciled, from either path.
func (c *Client) HasAnswered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answered
}

// StartCheck asks the server to open a new understanding check.
// Teacher-only; the server rejects anyone else.
func (c *Client) StartCheck(question string) error {
	return c.send(&types.Command{Type: types.CommandStartCheck, Question: question})
}

// SubmitResponse answers the current check.
func (c *Client) SubmitResponse(answer types.Answer) error {
	c.mu.Lock()
	checkID := c.currentCheckID
	c.mu.Unlock()
	if checkID == "" {
		return ErrNoOpenCheck
	}
	if err := c.send(&types.Command{Type: types.CommandSubmitResponse, CheckID: checkID, Answer: answer}); err != nil {
		return err
	}
	c.mu.Lock()
	if c.currentCheckID == checkID {
		c.answered = true
	}
	c.mu.Unlock()
	return nil
}

// EndSession ends the session. Teacher-only.
func (c *Client) EndSession() error {
	return c.send(&types.Command{Type: types.CommandEndSession})
}

// Leave removes this participant from the session's membership and closes
// the client.
func (c *Client) Leave() error {
	err := c.send(&types.Command{Type: types.CommandLeave})
	c.Close()
	return err
}

// Close stops all transport activity. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	started := c.started
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	if started {
		<-c.done
	}
}

// send writes a command frame over the push transport. Commands cannot ride
// the polling fallback, so a degraded client gets ErrTransportUnavailable
// and may retry after the push path recovers.
func (c *Client) send(cmd *types.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if c.conn == nil {
		return types.ErrTransportUnavailable
	}
	if err := c.conn.WriteJSON(cmd); err != nil {
		return types.ErrTransportUnavailable
	}
	return nil
}

// run alternates between push mode and the polling fallback until the
// session ends or the client closes.
func (c *Client) run() {
	defer close(c.done)
	defer close(c.events)

	for c.ctx.Err() == nil {
		conn, err := c.dial()
		if err != nil {
			c.setDegraded(true)
			if stop := c.pollTick(); stop {
				return
			}
			continue
		}

		c.setConn(conn)
		c.setDegraded(false)
		stop := c.readLoop(conn)
		c.setConn(nil)
		_ = conn.Close()
		if stop {
			return
		}
	}
}

func (c *Client) dial() (*websocket.Conn, error) {
	u, err := url.Parse(c.opts.BaseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{
		"session_id":     {c.opts.SessionID},
		"participant_id": {c.opts.ParticipantID},
		"role":           {c.opts.Role},
	}.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(c.ctx, u.String(), nil)
	return conn, err
}

// readLoop pumps server events until the connection breaks (degrade and
// retry) or a terminal event arrives (stop).
func (c *Client) readLoop(conn *websocket.Conn) bool {
	for {
		var event ServerEvent
		if err := conn.ReadJSON(&event); err != nil {
			return c.ctx.Err() != nil
		}

		switch event.Type {
		case types.EventCheckStarted:
			var payload types.CheckStartedPayload
			if err := json.Unmarshal(event.Payload, &payload); err != nil {
				continue
			}
			// Push and polling feed the same reconciliation step; a check
			// already seen via the other path is not re-emitted.
			if !c.reconcile(payload.CheckID, payload.Question, event.Timestamp) {
				continue
			}
			c.emit(event)
		case types.EventSessionEnded:
			c.emit(event)
			return true
		default:
			c.emit(event)
		}
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	if conn != nil && c.closed {
		// Lost the race with Close; don't leak the socket.
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) setDegraded(degraded bool) {
	c.mu.Lock()
	c.degraded = degraded
	c.mu.Unlock()
}

func (c *Client) emit(event ServerEvent) {
	select {
	case c.events <- event:
	case <-c.ctx.Done():
	}
}

func trimTrailingSlash(s string) string {
	return strings.TrimRight(s, "/")
}
