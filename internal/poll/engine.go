package poll

import (
	"log"
	"time"

	"github.com/google/uuid"

	"liveclass/internal/session"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// DefaultQuestion is substituted when the teacher starts a check without
// question text.
const DefaultQuestion = "Do you understand?"

// TeacherLookup resolves the connection currently holding a session's
// teacher slot. Implemented by the websocket registry.
type TeacherLookup interface {
	Teacher(sessionID string) (interfaces.Connection, bool)
}

// Engine manages the single open understanding check per session and its
// accumulated responses. All state lives in the session store; the engine
// owns the transition rules (Idle -> Open -> Idle) and the broadcast side
// effects.
type Engine struct {
	store     *session.Store
	publisher interfaces.Publisher
	teachers  TeacherLookup
}

// NewEngine creates a poll engine.
func NewEngine(store *session.Store, publisher interfaces.Publisher, teachers TeacherLookup) *Engine {
	return &Engine{
		store:     store,
		publisher: publisher,
		teachers:  teachers,
	}
}

// StartCheck opens a fresh understanding check, replacing and discarding any
// prior check and its responses. Only the connection currently bound as
// the session's teacher may start one. The CheckStarted broadcast goes to
// every member, inside the session's critical section so it is ordered
// against concurrent responses.
func (e *Engine) StartCheck(conn interfaces.Connection, question string) (string, error) {
	sessionID := conn.SessionID()
	if err := e.requireTeacher(conn); err != nil {
		return "", err
	}
	if err := types.ValidateQuestion(question); err != nil {
		return "", err
	}
	if question == "" {
		question = DefaultQuestion
	}

	checkID := uuid.New().String()
	err := e.store.Update(sessionID, func(sess *types.Session) error {
		sess.ActiveCheck = &types.Poll{
			CheckID:   checkID,
			Question:  question,
			CreatedAt: time.Now(),
			Responses: make(map[string]types.Answer),
		}
		e.publisher.Publish(sessionID, types.NewEvent(types.EventCheckStarted, sessionID, types.CheckStartedPayload{
			CheckID:   checkID,
			Question:  question,
			Timestamp: sess.ActiveCheck.CreatedAt,
		}))
		return nil
	})
	if err != nil {
		return "", err
	}

	log.Printf("Started check: session=%s check=%s", sessionID, checkID)
	return checkID, nil
}

// SubmitResponse records a student's answer for the current check and pushes
// the updated aggregate to the teacher connection only. A mismatched check
// ID is rejected as stale and a non-member is rejected outright; both
// rejections leave state untouched. Re-answering overwrites the
// previous answer, so one participant never counts twice.
func (e *Engine) SubmitResponse(conn interfaces.Connection, checkID string, answer types.Answer) (types.Aggregate, error) {
	sessionID := conn.SessionID()
	participantID := conn.ParticipantID()

	var agg types.Aggregate
	if !answer.IsValid() {
		return agg, types.ErrInvalidAnswer
	}

	err := e.store.Update(sessionID, func(sess *types.Session) error {
		if sess.ActiveCheck == nil || sess.ActiveCheck.CheckID != checkID {
			return types.ErrStaleCheck
		}
		if !sess.HasParticipant(participantID) {
			return types.ErrNotAParticipant
		}
		sess.ActiveCheck.Responses[participantID] = answer
		agg = sess.ActiveCheck.Aggregate(sess.ParticipantCount())
		e.publisher.PublishToTeacher(sessionID, types.NewEvent(types.EventAggregateUpdated, sessionID, agg))
		return nil
	})
	if err != nil {
		return types.Aggregate{}, err
	}
	return agg, nil
}

// EndSession deactivates the session, discards the open check, and emits
// SessionEnded to every bound connection. Teacher-only.
func (e *Engine) EndSession(conn interfaces.Connection) error {
	sessionID := conn.SessionID()
	if err := e.requireTeacher(conn); err != nil {
		return err
	}
	return e.store.EndSession(sessionID, func(sess *types.Session) {
		e.publisher.Publish(sessionID, types.NewEvent(types.EventSessionEnded, sessionID, nil))
	})
}

// LatestCheck serves the degraded-mode query for the polling fallback.
func (e *Engine) LatestCheck(sessionID string) (*types.Poll, error) {
	return e.store.LatestCheck(sessionID)
}

// requireTeacher rejects teacher-only operations from any connection other
// than the one currently holding the teacher slot. A replaced teacher
// connection loses its authority the instant the slot changes hands.
func (e *Engine) requireTeacher(conn interfaces.Connection) error {
	if conn.Role() != types.RoleTeacher {
		return types.ErrUnauthorized
	}
	current, ok := e.teachers.Teacher(conn.SessionID())
	if !ok || current != conn {
		return types.ErrUnauthorized
	}
	return nil
}
