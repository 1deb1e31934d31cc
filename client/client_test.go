package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveclass/internal/api"
	"liveclass/internal/broadcast"
	"liveclass/internal/lesson"
	"liveclass/internal/poll"
	"liveclass/internal/session"
	"liveclass/internal/websocket"
	"liveclass/pkg/types"
)

type noopLessonStore struct{}

func (noopLessonStore) SaveLesson(ctx context.Context, l *lesson.Lesson) error { return nil }
func (noopLessonStore) GetLesson(ctx context.Context, id string) (*lesson.Lesson, error) {
	return nil, lesson.ErrLessonNotFound
}
func (noopLessonStore) ListLessons(ctx context.Context, teacherID string) ([]*lesson.Lesson, error) {
	return nil, nil
}
func (noopLessonStore) Close() error { return nil }

// newTestServer serves the full protocol surface: websocket push plus the
// HTTP API the polling fallback consumes.
func newTestServer(t *testing.T) (*httptest.Server, *session.Store) {
	t.Helper()
	store := session.NewStore(time.Minute)
	registry := websocket.NewRegistry(store)
	router := broadcast.NewRouter(registry)
	registry.SetPublisher(router)
	engine := poll.NewEngine(store, router, registry)
	handler := websocket.NewHandler(registry, engine, store)
	apiServer := api.NewServer(store, registry, lesson.NewOutlineAnalyzer(), noopLessonStore{})

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", handler.HandleWebSocket)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, store
}

// newAPIOnlyServer has no websocket endpoint, so every dial fails and the
// client has to live on the polling fallback.
func newAPIOnlyServer(t *testing.T) (*httptest.Server, *session.Store) {
	t.Helper()
	store := session.NewStore(time.Minute)
	registry := websocket.NewRegistry(store)
	apiServer := api.NewServer(store, registry, lesson.NewOutlineAnalyzer(), noopLessonStore{})

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, store
}

func connect(t *testing.T, server *httptest.Server, participantID, role string, interval time.Duration) *Client {
	t.Helper()
	c, err := New(Options{
		BaseURL:       server.URL,
		SessionID:     "s1",
		ParticipantID: participantID,
		Role:          role,
		PollInterval:  interval,
	})
	require.NoError(t, err)
	require.NoError(t, c.Connect())
	t.Cleanup(c.Close)
	return c
}

func waitEvent(t *testing.T, c *Client, eventType string) ServerEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case event, ok := <-c.Events():
			if !ok {
				t.Fatalf("event stream closed while waiting for %s", eventType)
			}
			if event.Type == eventType {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options{SessionID: "s1", ParticipantID: "a", Role: types.RoleStudent})
	assert.ErrorIs(t, err, ErrMissingBaseURL)

	_, err = New(Options{BaseURL: "http://x", SessionID: "bad id", ParticipantID: "a", Role: types.RoleStudent})
	assert.ErrorIs(t, err, types.ErrInvalidParticipantID)

	_, err = New(Options{BaseURL: "http://x", SessionID: "s1", ParticipantID: "a", Role: "admin"})
	assert.ErrorIs(t, err, types.ErrInvalidRole)
}

func TestReconcileCompareAndSet(t *testing.T) {
	c, err := New(Options{BaseURL: "http://x", SessionID: "s1", ParticipantID: "a", Role: types.RoleStudent})
	require.NoError(t, err)

	assert.True(t, c.reconcile("c1", "q1", time.Now()))
	checkID, question, ok := c.CurrentCheck()
	require.True(t, ok)
	assert.Equal(t, "c1", checkID)
	assert.Equal(t, "q1", question)

	// Same check arriving over the other transport is swallowed.
	assert.False(t, c.reconcile("c1", "q1", time.Now()))

	c.mu.Lock()
	c.answered = true
	c.mu.Unlock()

	// A new check resets the answered flag.
	assert.True(t, c.reconcile("c2", "q2", time.Now()))
	assert.False(t, c.HasAnswered())

	assert.False(t, c.reconcile("", "", time.Now()), "empty ID never replaces the view")
}

func TestPushModeFullExchange(t *testing.T) {
	server, _ := newTestServer(t)

	teacher := connect(t, server, "teacher1", types.RoleTeacher, time.Second)
	waitEvent(t, teacher, types.EventJoined)
	assert.False(t, teacher.Degraded())

	student := connect(t, server, "alice", types.RoleStudent, time.Second)
	waitEvent(t, student, types.EventJoined)

	require.NoError(t, teacher.StartCheck("Clear so far?"))
	event := waitEvent(t, student, types.EventCheckStarted)

	var payload types.CheckStartedPayload
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, "Clear so far?", payload.Question)

	require.NoError(t, student.SubmitResponse(types.AnswerUnderstood))
	assert.True(t, student.HasAnswered())

	agg := waitEvent(t, teacher, types.EventAggregateUpdated)
	var tally types.Aggregate
	require.NoError(t, json.Unmarshal(agg.Payload, &tally))
	assert.Equal(t, types.Aggregate{Understood: 1, NotUnderstood: 0, Total: 1, Responded: 1}, tally)

	require.NoError(t, teacher.EndSession())
	waitEvent(t, student, types.EventSessionEnded)

	// The stream drains and closes after the terminal event.
	for range student.Events() {
	}
}

func TestSubmitWithoutOpenCheck(t *testing.T) {
	server, _ := newTestServer(t)
	student := connect(t, server, "alice", types.RoleStudent, time.Second)
	waitEvent(t, student, types.EventJoined)

	assert.ErrorIs(t, student.SubmitResponse(types.AnswerUnderstood), ErrNoOpenCheck)
}

func TestDegradedModeDiscoversCheckByPolling(t *testing.T) {
	server, store := newAPIOnlyServer(t)
	store.GetOrCreate("s1")

	student := connect(t, server, "alice", types.RoleStudent, 30*time.Millisecond)

	assert.Eventually(t, student.Degraded, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, store.Update("s1", func(sess *types.Session) error {
		sess.ActiveCheck = &types.Poll{
			CheckID:   "c1",
			Question:  "Still following?",
			CreatedAt: time.Now(),
			Responses: map[string]types.Answer{},
		}
		return nil
	}))

	event := waitEvent(t, student, types.EventCheckStarted)
	var payload types.CheckStartedPayload
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, "c1", payload.CheckID)
	assert.Equal(t, "Still following?", payload.Question)

	// Commands cannot ride the polling fallback.
	assert.ErrorIs(t, student.SubmitResponse(types.AnswerUnderstood), types.ErrTransportUnavailable)

	// The poller emits each check once, then stays quiet until it changes.
	select {
	case event := <-student.Events():
		t.Fatalf("unexpected repeat event %s", event.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDegradedModeSeesSessionEnd(t *testing.T) {
	server, store := newAPIOnlyServer(t)
	store.GetOrCreate("s1")

	student := connect(t, server, "alice", types.RoleStudent, 30*time.Millisecond)
	assert.Eventually(t, student.Degraded, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, store.EndSession("s1", nil))

	waitEvent(t, student, types.EventSessionEnded)
	for range student.Events() {
	}
}

func TestCloseIdempotentAndBeforeConnect(t *testing.T) {
	c, err := New(Options{BaseURL: "http://x", SessionID: "s1", ParticipantID: "a", Role: types.RoleStudent})
	require.NoError(t, err)

	// Never connected; Close must not block on the run loop.
	c.Close()
	c.Close()

	assert.ErrorIs(t, c.Connect(), ErrClientClosed)
}
