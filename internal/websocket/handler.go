package websocket

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"liveclass/internal/poll"
	"liveclass/internal/session"
	"liveclass/pkg/types"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is the deployment's job; the server itself has no
		// notion of allowed hosts.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades websocket requests and drives the command loop for each
// connection. Join happens at upgrade time via query parameters; everything
// after that arrives as command frames.
type Handler struct {
	registry *Registry
	engine   *poll.Engine
	store    *session.Store
}

// NewHandler creates a websocket handler.
func NewHandler(registry *Registry, engine *poll.Engine, store *session.Store) *Handler {
	return &Handler{
		registry: registry,
		engine:   engine,
		store:    store,
	}
}

// HandleWebSocket validates the join parameters, upgrades the request, and
// attaches the connection to its session. Validation runs before the
// upgrade so bad joins get proper HTTP status codes instead of a socket
// that closes immediately.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	participantID := r.URL.Query().Get("participant_id")
	role := r.URL.Query().Get("role")

	if !types.IsValidID(sessionID) {
		http.Error(w, "Invalid or missing session_id", http.StatusBadRequest)
		return
	}
	if !types.IsValidID(participantID) {
		http.Error(w, "Invalid or missing participant_id", http.StatusBadRequest)
		return
	}
	if !types.IsValidRole(role) {
		http.Error(w, "Invalid role: must be 'student' or 'teacher'", http.StatusBadRequest)
		return
	}

	// Joining an ended session fails here with a real status code; after
	// the upgrade there is only a websocket error frame to work with.
	var ended bool
	if err := h.store.View(sessionID, func(sess *types.Session) {
		ended = !sess.Active
	}); err == nil && ended {
		http.Error(w, "Session has ended", http.StatusGone)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn, sessionID, participantID, role)
	if err := h.registry.Attach(wsConn); err != nil {
		h.sendError(wsConn, err)
		_ = wsConn.Close()
		return
	}

	log.Printf("Attached connection: session=%s participant=%s role=%s", sessionID, participantID, role)
	go h.handleConnection(wsConn)
}

// handleConnection runs the read pump until the client goes away, then
// unbinds the connection. Detach is not a leave: membership survives the
// disconnect so the participant can silently reconnect.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.Detach(conn)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error for %s: %v", conn.ParticipantID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if done := h.dispatch(conn, data); done {
			return
		}
	}
}

// dispatch routes one command frame. Returns true when the connection
// should shut down (explicit leave).
func (h *Handler) dispatch(conn *Connection, data []byte) bool {
	cmd, err := types.DecodeCommand(data)
	if err != nil {
		h.sendError(conn, err)
		return false
	}

	switch cmd.Type {
	case types.CommandLeave:
		// Explicit leave is the only path that removes membership.
		if err := h.store.RemoveParticipant(conn.SessionID(), conn.ParticipantID()); err != nil && !errors.Is(err, types.ErrSessionEnded) {
			h.sendError(conn, err)
		}
		return true

	case types.CommandStartCheck:
		if _, err := h.engine.StartCheck(conn, cmd.Question); err != nil {
			h.sendError(conn, err)
		}

	case types.CommandSubmitResponse:
		if _, err := h.engine.SubmitResponse(conn, cmd.CheckID, cmd.Answer); err != nil {
			h.sendError(conn, err)
		}

	case types.CommandEndSession:
		if err := h.engine.EndSession(conn); err != nil {
			h.sendError(conn, err)
		}
	}
	return false
}

func (h *Handler) sendError(conn *Connection, cause error) {
	event := types.NewEvent(types.EventError, conn.SessionID(), types.ErrorPayload{
		Code:    types.ErrorCode(cause),
		Message: cause.Error(),
	})
	if err := conn.WriteJSON(event); err != nil {
		log.Printf("Failed to send error to %s: %v", conn.ParticipantID(), err)
	}
}
