package interfaces

import "liveclass/pkg/types"

// Publisher fans events out to a session's members. Delivery is best-effort:
// a failed write to one recipient never blocks delivery to the others, and
// nothing is persisted for offline members beyond what the session store can
// reconstruct on demand.
type Publisher interface {
	// Publish delivers the event to every connection bound to the session.
	Publish(sessionID string, event *types.Event)

	// PublishToTeacher delivers the event to the session's teacher
	// connection only, if one is currently bound.
	PublishToTeacher(sessionID string, event *types.Event)

	// PublishTo delivers the event to exactly one connection (late-join
	// delivery and command acknowledgements).
	PublishTo(conn Connection, event *types.Event)
}
