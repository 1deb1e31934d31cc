package poll

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveclass/internal/session"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

type fakeConn struct {
	participantID string
	role          string
	sessionID     string
}

func (c *fakeConn) WriteJSON(interface{}) error { return nil }
func (c *fakeConn) Close() error                { return nil }
func (c *fakeConn) ParticipantID() string       { return c.participantID }
func (c *fakeConn) Role() string                { return c.role }
func (c *fakeConn) SessionID() string           { return c.sessionID }

// recordingPublisher captures publishes by audience.
type recordingPublisher struct {
	mu        sync.Mutex
	broadcast []*types.Event
	teacher   []*types.Event
	direct    []*types.Event
}

func (p *recordingPublisher) Publish(sessionID string, event *types.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcast = append(p.broadcast, event)
}

func (p *recordingPublisher) PublishToTeacher(sessionID string, event *types.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teacher = append(p.teacher, event)
}

func (p *recordingPublisher) PublishTo(conn interfaces.Connection, event *types.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.direct = append(p.direct, event)
}

type fakeTeachers struct {
	mu       sync.Mutex
	teachers map[string]interfaces.Connection
}

func (f *fakeTeachers) Teacher(sessionID string) (interfaces.Connection, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, ok := f.teachers[sessionID]
	return conn, ok
}

func newTestEngine(t *testing.T) (*Engine, *session.Store, *recordingPublisher, *fakeTeachers) {
	t.Helper()
	store := session.NewStore(time.Minute)
	publisher := &recordingPublisher{}
	teachers := &fakeTeachers{teachers: make(map[string]interfaces.Connection)}
	return NewEngine(store, publisher, teachers), store, publisher, teachers
}

func teacherConn(sessionID string) *fakeConn {
	return &fakeConn{participantID: "teacher1", role: types.RoleTeacher, sessionID: sessionID}
}

func studentConn(sessionID, id string) *fakeConn {
	return &fakeConn{participantID: id, role: types.RoleStudent, sessionID: sessionID}
}

func TestStartCheckBroadcastsAndReplaces(t *testing.T) {
	engine, store, publisher, teachers := newTestEngine(t)
	store.GetOrCreate("s1")
	teacher := teacherConn("s1")
	teachers.teachers["s1"] = teacher

	first, err := engine.StartCheck(teacher, "First question?")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := engine.StartCheck(teacher, "")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "each check gets a fresh ID")

	// Only one check is current; the replacement discarded the first.
	poll, err := store.LatestCheck("s1")
	require.NoError(t, err)
	assert.Equal(t, second, poll.CheckID)
	assert.Equal(t, DefaultQuestion, poll.Question)
	assert.Empty(t, poll.Responses)

	require.Len(t, publisher.broadcast, 2)
	for _, event := range publisher.broadcast {
		assert.Equal(t, types.EventCheckStarted, event.Type)
	}
}

func TestStartCheckRequiresBoundTeacher(t *testing.T) {
	engine, store, _, teachers := newTestEngine(t)
	store.GetOrCreate("s1")

	student := studentConn("s1", "alice")
	_, err := engine.StartCheck(student, "q")
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	// A teacher-role connection that no longer holds the slot is rejected
	// too: last writer wins.
	old := teacherConn("s1")
	replacement := &fakeConn{participantID: "teacher2", role: types.RoleTeacher, sessionID: "s1"}
	teachers.teachers["s1"] = replacement
	_, err = engine.StartCheck(old, "q")
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	_, err = engine.StartCheck(replacement, "q")
	assert.NoError(t, err)
}

func TestStartCheckQuestionTooLong(t *testing.T) {
	engine, store, _, teachers := newTestEngine(t)
	store.GetOrCreate("s1")
	teacher := teacherConn("s1")
	teachers.teachers["s1"] = teacher

	long := make([]byte, 501)
	for i := range long {
		long[i] = 'q'
	}
	_, err := engine.StartCheck(teacher, string(long))
	assert.ErrorIs(t, err, types.ErrInvalidQuestion)
}

func TestSubmitResponseAggregates(t *testing.T) {
	engine, store, publisher, teachers := newTestEngine(t)
	store.GetOrCreate("s1")
	teacher := teacherConn("s1")
	teachers.teachers["s1"] = teacher
	_, err := store.AddParticipant("s1", "alice")
	require.NoError(t, err)

	checkID, err := engine.StartCheck(teacher, "q")
	require.NoError(t, err)

	agg, err := engine.SubmitResponse(studentConn("s1", "alice"), checkID, types.AnswerUnderstood)
	require.NoError(t, err)
	assert.Equal(t, types.Aggregate{Understood: 1, NotUnderstood: 0, Total: 1, Responded: 1}, agg)

	// The running tally goes to the teacher connection only.
	require.Len(t, publisher.teacher, 1)
	assert.Equal(t, types.EventAggregateUpdated, publisher.teacher[0].Type)
	for _, event := range publisher.broadcast {
		assert.NotEqual(t, types.EventAggregateUpdated, event.Type)
	}
}

func TestSubmitResponseIdempotentOverwrite(t *testing.T) {
	engine, store, _, teachers := newTestEngine(t)
	store.GetOrCreate("s1")
	teacher := teacherConn("s1")
	teachers.teachers["s1"] = teacher
	_, _ = store.AddParticipant("s1", "alice")
	_, _ = store.AddParticipant("s1", "bob")

	checkID, err := engine.StartCheck(teacher, "q")
	require.NoError(t, err)

	alice := studentConn("s1", "alice")
	_, err = engine.SubmitResponse(alice, checkID, types.AnswerUnderstood)
	require.NoError(t, err)

	// Changing the answer replaces it; the same ID never counts twice.
	agg, err := engine.SubmitResponse(alice, checkID, types.AnswerNotUnderstood)
	require.NoError(t, err)
	assert.Equal(t, types.Aggregate{Understood: 0, NotUnderstood: 1, Total: 2, Responded: 1}, agg)
}

func TestSubmitResponseStaleCheck(t *testing.T) {
	engine, store, _, teachers := newTestEngine(t)
	store.GetOrCreate("s1")
	teacher := teacherConn("s1")
	teachers.teachers["s1"] = teacher
	_, _ = store.AddParticipant("s1", "alice")

	first, err := engine.StartCheck(teacher, "q1")
	require.NoError(t, err)
	second, err := engine.StartCheck(teacher, "q2")
	require.NoError(t, err)

	// A late response bearing the replaced check's ID is rejected and does
	// not touch the new check's responses.
	_, err = engine.SubmitResponse(studentConn("s1", "alice"), first, types.AnswerUnderstood)
	assert.ErrorIs(t, err, types.ErrStaleCheck)

	poll, err := store.LatestCheck("s1")
	require.NoError(t, err)
	assert.Equal(t, second, poll.CheckID)
	assert.Empty(t, poll.Responses, "new check's responded count starts at zero")
}

func TestSubmitResponseNoOpenCheck(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	store.GetOrCreate("s1")
	_, _ = store.AddParticipant("s1", "alice")

	_, err := engine.SubmitResponse(studentConn("s1", "alice"), "c1", types.AnswerUnderstood)
	assert.ErrorIs(t, err, types.ErrStaleCheck)
}

func TestSubmitResponseNotAParticipant(t *testing.T) {
	engine, store, _, teachers := newTestEngine(t)
	store.GetOrCreate("s1")
	teacher := teacherConn("s1")
	teachers.teachers["s1"] = teacher

	checkID, err := engine.StartCheck(teacher, "q")
	require.NoError(t, err)

	_, err = engine.SubmitResponse(studentConn("s1", "ghost"), checkID, types.AnswerUnderstood)
	assert.ErrorIs(t, err, types.ErrNotAParticipant)

	poll, _ := store.LatestCheck("s1")
	assert.Empty(t, poll.Responses)
}

func TestSubmitResponseInvalidAnswer(t *testing.T) {
	engine, store, _, teachers := newTestEngine(t)
	store.GetOrCreate("s1")
	teacher := teacherConn("s1")
	teachers.teachers["s1"] = teacher
	_, _ = store.AddParticipant("s1", "alice")
	checkID, _ := engine.StartCheck(teacher, "q")

	_, err := engine.SubmitResponse(studentConn("s1", "alice"), checkID, types.Answer("shrug"))
	assert.ErrorIs(t, err, types.ErrInvalidAnswer)
}

// A participant who answers and then leaves keeps their response in the
// numerator while the denominator shrinks.
func TestAggregateAfterLeave(t *testing.T) {
	engine, store, _, teachers := newTestEngine(t)
	store.GetOrCreate("s1")
	teacher := teacherConn("s1")
	teachers.teachers["s1"] = teacher
	_, _ = store.AddParticipant("s1", "alice")
	_, _ = store.AddParticipant("s1", "bob")

	checkID, err := engine.StartCheck(teacher, "q")
	require.NoError(t, err)
	_, err = engine.SubmitResponse(studentConn("s1", "alice"), checkID, types.AnswerUnderstood)
	require.NoError(t, err)
	_, err = engine.SubmitResponse(studentConn("s1", "bob"), checkID, types.AnswerUnderstood)
	require.NoError(t, err)

	require.NoError(t, store.RemoveParticipant("s1", "bob"))

	agg, err := engine.SubmitResponse(studentConn("s1", "alice"), checkID, types.AnswerNotUnderstood)
	require.NoError(t, err)
	assert.Equal(t, 2, agg.Responded)
	assert.Equal(t, 1, agg.Total)
	assert.Greater(t, agg.Responded, agg.Total)
}

func TestEndSession(t *testing.T) {
	engine, store, publisher, teachers := newTestEngine(t)
	store.GetOrCreate("s1")
	teacher := teacherConn("s1")
	teachers.teachers["s1"] = teacher
	_, _ = engine.StartCheck(teacher, "q")

	assert.ErrorIs(t, engine.EndSession(studentConn("s1", "alice")), types.ErrUnauthorized)

	require.NoError(t, engine.EndSession(teacher))

	var sawEnded bool
	for _, event := range publisher.broadcast {
		if event.Type == types.EventSessionEnded {
			sawEnded = true
		}
	}
	assert.True(t, sawEnded)

	// The open check died with the session.
	poll, err := store.LatestCheck("s1")
	require.NoError(t, err)
	assert.Nil(t, poll)

	_, err = engine.StartCheck(teacher, "q")
	assert.ErrorIs(t, err, types.ErrSessionEnded)
}

func TestConcurrentResponsesSerialize(t *testing.T) {
	engine, store, _, teachers := newTestEngine(t)
	store.GetOrCreate("s1")
	teacher := teacherConn("s1")
	teachers.teachers["s1"] = teacher

	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range ids {
		_, _ = store.AddParticipant("s1", id)
	}
	checkID, err := engine.StartCheck(teacher, "q")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := engine.SubmitResponse(studentConn("s1", id), checkID, types.AnswerUnderstood)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	poll, err := store.LatestCheck("s1")
	require.NoError(t, err)
	assert.Len(t, poll.Responses, len(ids))
	agg := poll.Aggregate(len(ids))
	assert.Equal(t, agg.Responded, agg.Understood+agg.NotUnderstood)
}
