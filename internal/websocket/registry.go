package websocket

import (
	"log"
	"sync"

	"liveclass/internal/session"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Registry tracks live transport connections and their session bindings.
// It never owns a connection's lifecycle: detach unbinds, it does not close.
// Membership lives in the session store; the registry only knows who is
// reachable right now.
type Registry struct {
	mu        sync.RWMutex
	teachers  map[string]interfaces.Connection            // sessionID -> teacher slot
	students  map[string]map[string]interfaces.Connection // sessionID -> participantID -> conn
	store     *session.Store
	publisher interfaces.Publisher
}

// NewRegistry creates a registry over the session store. SetPublisher must
// be called before the first Attach; the publisher is built on top of the
// registry, so wiring happens in two steps.
func NewRegistry(store *session.Store) *Registry {
	return &Registry{
		teachers: make(map[string]interfaces.Connection),
		students: make(map[string]map[string]interfaces.Connection),
		store:    store,
	}
}

// SetPublisher wires the broadcast router used for join notifications and
// late-join delivery.
func (r *Registry) SetPublisher(p interfaces.Publisher) {
	r.publisher = p
}

// Attach binds a connection to its session. Sessions are created lazily on
// first attach, so a student arriving before the teacher still lands in the
// right room.
//
// Teacher attach takes the session's teacher slot last-writer-wins: a prior
// teacher connection is unbound but not closed, since no signal exists to
// arbitrate competing claims. Student attach inserts the participant into
// the membership set (idempotent re-join) and, when a check is already open,
// delivers that check to exactly this connection so a late joiner is not
// left unaware.
func (r *Registry) Attach(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if r.publisher == nil {
		return ErrNoPublisher
	}

	sessionID := conn.SessionID()
	r.store.GetOrCreate(sessionID)

	switch conn.Role() {
	case types.RoleTeacher:
		return r.attachTeacher(conn)
	default:
		return r.attachStudent(conn)
	}
}

func (r *Registry) attachTeacher(conn interfaces.Connection) error {
	sessionID := conn.SessionID()

	// Reject before taking the slot so an ended session never gains a
	// teacher binding.
	if err := r.requireActive(sessionID); err != nil {
		return err
	}

	r.mu.Lock()
	if prev, ok := r.teachers[sessionID]; ok && prev != conn {
		log.Printf("Replacing teacher connection: session=%s teacher=%s", sessionID, conn.ParticipantID())
	}
	r.teachers[sessionID] = conn
	r.mu.Unlock()

	r.publisher.PublishTo(conn, types.NewEvent(types.EventJoined, sessionID, types.JoinedPayload{
		Role:          types.RoleTeacher,
		ParticipantID: conn.ParticipantID(),
	}))
	return nil
}

func (r *Registry) attachStudent(conn interfaces.Connection) error {
	sessionID := conn.SessionID()
	participantID := conn.ParticipantID()

	r.mu.Lock()
	if r.students[sessionID] == nil {
		r.students[sessionID] = make(map[string]interfaces.Connection)
	}
	prev := r.students[sessionID][participantID]
	r.students[sessionID][participantID] = conn
	r.mu.Unlock()

	// Membership insert, join broadcast, and late-join delivery run in one
	// critical section so the new connection can never observe the check
	// twice or miss one started concurrently.
	err := r.store.Update(sessionID, func(sess *types.Session) error {
		sess.Participants[participantID] = struct{}{}

		r.publisher.PublishTo(conn, types.NewEvent(types.EventJoined, sessionID, types.JoinedPayload{
			Role:          types.RoleStudent,
			ParticipantID: participantID,
		}))
		r.publisher.Publish(sessionID, types.NewEvent(types.EventParticipantJoined, sessionID, types.ParticipantJoinedPayload{
			ParticipantID:    participantID,
			ParticipantCount: len(sess.Participants),
		}))
		if sess.ActiveCheck != nil {
			r.publisher.PublishTo(conn, types.NewEvent(types.EventCheckStarted, sessionID, types.CheckStartedPayload{
				CheckID:   sess.ActiveCheck.CheckID,
				Question:  sess.ActiveCheck.Question,
				Timestamp: sess.ActiveCheck.CreatedAt,
			}))
		}
		return nil
	})
	if err != nil {
		// Roll the binding back; the session refused the join.
		r.mu.Lock()
		if r.students[sessionID][participantID] == conn {
			delete(r.students[sessionID], participantID)
			if len(r.students[sessionID]) == 0 {
				delete(r.students, sessionID)
			}
		}
		r.mu.Unlock()
		return err
	}

	if prev != nil && prev != conn {
		log.Printf("Replacing student connection: session=%s participant=%s", sessionID, participantID)
	}
	return nil
}

// Detach unbinds the connection. A disconnect is not a leave: the student
// stays in the membership set so a silent reconnection with the same ID
// picks up where it left off. The teacher slot is cleared only if this exact
// connection still holds it, so a stale detach never evicts a replacement.
func (r *Registry) Detach(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	sessionID := conn.SessionID()
	participantID := conn.ParticipantID()

	r.mu.Lock()
	defer r.mu.Unlock()

	switch conn.Role() {
	case types.RoleTeacher:
		if r.teachers[sessionID] == conn {
			delete(r.teachers, sessionID)
		}
	default:
		if students, ok := r.students[sessionID]; ok && students[participantID] == conn {
			delete(students, participantID)
			if len(students) == 0 {
				delete(r.students, sessionID)
			}
		}
	}
}

// Teacher returns the connection currently holding the session's teacher
// slot.
func (r *Registry) Teacher(sessionID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.teachers[sessionID]
	return conn, ok
}

// SessionConnections returns every connection bound to the session, teacher
// first when present.
func (r *Registry) SessionConnections(sessionID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []interfaces.Connection
	if teacher, ok := r.teachers[sessionID]; ok {
		conns = append(conns, teacher)
	}
	for _, conn := range r.students[sessionID] {
		conns = append(conns, conn)
	}
	return conns
}

// Stats returns registry counters for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := len(r.teachers)
	for _, students := range r.students {
		total += len(students)
	}
	sessions := make(map[string]bool)
	for id := range r.teachers {
		sessions[id] = true
	}
	for id := range r.students {
		sessions[id] = true
	}
	return map[string]int{
		"connections":        total,
		"connected_sessions": len(sessions),
	}
}

func (r *Registry) requireActive(sessionID string) error {
	var active bool
	if err := r.store.View(sessionID, func(sess *types.Session) {
		active = sess.Active
	}); err != nil {
		return err
	}
	if !active {
		return types.ErrSessionEnded
	}
	return nil
}
