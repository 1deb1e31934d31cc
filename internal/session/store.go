package session

import (
	"log"
	"sync"
	"time"

	"liveclass/pkg/types"
)

// DefaultRemovalGrace is how long an ended session's record stays readable
// before the store drops it. Late poll fallback requests during the grace
// period still get a definitive "session ended" answer instead of a 404.
const DefaultRemovalGrace = time.Minute

// Store is the in-memory session table, one entry per session ID. The outer
// RWMutex guards only the map; each entry carries its own mutex so that
// read-then-write sequences against one session serialize without blocking
// operations on unrelated sessions.
type Store struct {
	mu           sync.RWMutex
	sessions     map[string]*entry
	removalGrace time.Duration
}

type entry struct {
	mu      sync.Mutex
	session *types.Session
}

// NewStore creates an empty store. A non-positive grace falls back to
// DefaultRemovalGrace.
func NewStore(removalGrace time.Duration) *Store {
	if removalGrace <= 0 {
		removalGrace = DefaultRemovalGrace
	}
	return &Store{
		sessions:     make(map[string]*entry),
		removalGrace: removalGrace,
	}
}

// GetOrCreate ensures a session record exists. Idempotent: an existing
// record (active or ended-but-not-removed) is left untouched. Returns true
// when a new record was created.
func (s *Store) GetOrCreate(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; exists {
		return false
	}
	s.sessions[sessionID] = &entry{
		session: &types.Session{
			ID:           sessionID,
			Participants: make(map[string]struct{}),
			Active:       true,
			CreatedAt:    time.Now(),
		},
	}
	log.Printf("Created session: id=%s", sessionID)
	return true
}

// lookup returns the entry for sessionID, or nil if it was never created or
// already removed.
func (s *Store) lookup(sessionID string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[sessionID]
}

// Update runs fn against the session under its per-session lock. Mutations
// on an ended session are rejected before fn runs; a rejected call is a
// no-op on state. fn may publish events: everything published inside fn for
// a given session is serialized, which is what gives recipients FIFO order.
func (s *Store) Update(sessionID string, fn func(*types.Session) error) error {
	e := s.lookup(sessionID)
	if e == nil {
		return types.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.session.Active {
		return types.ErrSessionEnded
	}
	return fn(e.session)
}

// View runs fn against the session under its lock without the active check,
// so ended-but-not-removed sessions remain readable. fn must not mutate.
func (s *Store) View(sessionID string, fn func(*types.Session)) error {
	e := s.lookup(sessionID)
	if e == nil {
		return types.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.session)
	return nil
}

// AddParticipant inserts the student into the membership set and returns the
// resulting participant count. Re-joining with the same ID is a no-op on
// membership.
func (s *Store) AddParticipant(sessionID, participantID string) (int, error) {
	var count int
	err := s.Update(sessionID, func(sess *types.Session) error {
		sess.Participants[participantID] = struct{}{}
		count = len(sess.Participants)
		return nil
	})
	return count, err
}

// RemoveParticipant handles an explicit leave. The participant's stored
// response for the open check, if any, is retained for the historical
// aggregate until the check is replaced.
func (s *Store) RemoveParticipant(sessionID, participantID string) error {
	return s.Update(sessionID, func(sess *types.Session) error {
		delete(sess.Participants, participantID)
		return nil
	})
}

// EndSession marks the session inactive, discards the open check, and
// schedules removal of the record after the grace period. Ending an already
// ended session reports ErrSessionEnded. fn runs inside the critical section
// immediately after the state flip, before any later mutation can observe
// the session; the caller uses it to emit the SessionEnded broadcast.
func (s *Store) EndSession(sessionID string, fn func(*types.Session)) error {
	e := s.lookup(sessionID)
	if e == nil {
		return types.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.session.Active {
		return types.ErrSessionEnded
	}
	e.session.Active = false
	e.session.ActiveCheck = nil
	if fn != nil {
		fn(e.session)
	}

	time.AfterFunc(s.removalGrace, func() { s.remove(sessionID) })
	log.Printf("Ended session: id=%s participants=%d", sessionID, len(e.session.Participants))
	return nil
}

// remove drops the record. Only ended sessions are removed; a session ID
// reused after removal starts from a fresh record via GetOrCreate.
func (s *Store) remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.sessions[sessionID]
	if !exists {
		return
	}
	e.mu.Lock()
	active := e.session.Active
	e.mu.Unlock()
	if active {
		return
	}
	delete(s.sessions, sessionID)
	log.Printf("Removed session record: id=%s", sessionID)
}

// LatestCheck returns a snapshot of the open check, or nil when the session
// is idle. This is the degraded-mode query behind the polling fallback; it
// reads the same record the push path mutates, so both paths converge.
func (s *Store) LatestCheck(sessionID string) (*types.Poll, error) {
	var poll *types.Poll
	err := s.View(sessionID, func(sess *types.Session) {
		poll = sess.ActiveCheck.Snapshot()
	})
	if err != nil {
		return nil, err
	}
	return poll, nil
}

// Stats returns store counters for the health endpoint.
func (s *Store) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := 0
	for _, e := range s.sessions {
		e.mu.Lock()
		if e.session.Active {
			active++
		}
		e.mu.Unlock()
	}
	return map[string]int{
		"sessions":        len(s.sessions),
		"active_sessions": active,
	}
}
