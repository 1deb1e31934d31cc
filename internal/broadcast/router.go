package broadcast

import (
	"log"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Registry is the consumer-side view of the connection registry: just enough
// to resolve a session's current recipients at delivery time.
type Registry interface {
	// SessionConnections returns every connection bound to the session,
	// teacher included.
	SessionConnections(sessionID string) []interfaces.Connection

	// Teacher returns the connection holding the session's teacher slot.
	Teacher(sessionID string) (interfaces.Connection, bool)
}

// Mirror forwards session-scoped events to members connected elsewhere
// (other nodes). Events addressed to a single local connection are never
// mirrored.
type Mirror interface {
	Forward(sessionID, scope string, event *types.Event) error
	Close() error
}

// Event scopes carried by mirrored envelopes.
const (
	ScopeSession = "session"
	ScopeTeacher = "teacher"
)

// Router fans events out to a session's members. Local push over the
// registry's live connections is always on; mirrors are optional extra
// strategies layered behind the same Publish calls. Delivery is best-effort:
// a failed recipient is logged and skipped, never retried here, because the
// session store can reconstruct current state for any reconnecting client.
type Router struct {
	registry Registry
	mirrors  []Mirror
}

// NewRouter creates a router over the given registry and optional mirrors.
func NewRouter(registry Registry, mirrors ...Mirror) *Router {
	return &Router{
		registry: registry,
		mirrors:  mirrors,
	}
}

// AddMirror attaches a mirror after construction. Mirrors that deliver back
// into the router (redis) need the router to exist first, so wiring happens
// in two steps. Not safe to call once the router is publishing.
func (r *Router) AddMirror(m Mirror) {
	r.mirrors = append(r.mirrors, m)
}

var _ interfaces.Publisher = (*Router)(nil)

// Publish delivers the event to every connection bound to the session.
// Callers invoking Publish from inside a session's critical section get
// per-recipient FIFO ordering for free: each connection's writer preserves
// queue order, and the critical section serializes the queueing.
func (r *Router) Publish(sessionID string, event *types.Event) {
	for _, conn := range r.registry.SessionConnections(sessionID) {
		r.PublishTo(conn, event)
	}
	r.mirror(sessionID, ScopeSession, event)
}

// PublishToTeacher delivers the event to the teacher slot only. No teacher
// bound is not an error: the aggregate is recomputed on the next response,
// so a reconnecting teacher catches up naturally.
func (r *Router) PublishToTeacher(sessionID string, event *types.Event) {
	if conn, ok := r.registry.Teacher(sessionID); ok {
		r.PublishTo(conn, event)
	}
	r.mirror(sessionID, ScopeTeacher, event)
}

// PublishTo delivers the event to exactly one connection.
func (r *Router) PublishTo(conn interfaces.Connection, event *types.Event) {
	if err := conn.WriteJSON(event); err != nil {
		log.Printf("Failed to deliver %s to %s: %v", event.Type, conn.ParticipantID(), err)
	}
}

// Deliver hands a mirrored envelope received from another node to the local
// recipients for its scope.
func (r *Router) Deliver(sessionID, scope string, event *types.Event) {
	switch scope {
	case ScopeTeacher:
		if conn, ok := r.registry.Teacher(sessionID); ok {
			r.PublishTo(conn, event)
		}
	default:
		for _, conn := range r.registry.SessionConnections(sessionID) {
			r.PublishTo(conn, event)
		}
	}
}

func (r *Router) mirror(sessionID, scope string, event *types.Event) {
	for _, m := range r.mirrors {
		if err := m.Forward(sessionID, scope, event); err != nil {
			log.Printf("Failed to mirror %s for session %s: %v", event.Type, sessionID, err)
		}
	}
}
