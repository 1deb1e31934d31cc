package broadcast

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

type fakeConn struct {
	participantID string
	role          string
	sessionID     string

	mu     sync.Mutex
	events []*types.Event
	failed bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return fmt.Errorf("write failed")
	}
	c.events = append(c.events, v.(*types.Event))
	return nil
}

func (c *fakeConn) Close() error          { return nil }
func (c *fakeConn) ParticipantID() string { return c.participantID }
func (c *fakeConn) Role() string          { return c.role }
func (c *fakeConn) SessionID() string     { return c.sessionID }

func (c *fakeConn) eventTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

type fakeRegistry struct {
	teacher  *fakeConn
	students []*fakeConn
}

func (r *fakeRegistry) SessionConnections(sessionID string) []interfaces.Connection {
	var conns []interfaces.Connection
	if r.teacher != nil {
		conns = append(conns, r.teacher)
	}
	for _, s := range r.students {
		conns = append(conns, s)
	}
	return conns
}

func (r *fakeRegistry) Teacher(sessionID string) (interfaces.Connection, bool) {
	if r.teacher == nil {
		return nil, false
	}
	return r.teacher, true
}

type recordingMirror struct {
	mu      sync.Mutex
	forwards []string // "scope/type"
	err     error
}

func (m *recordingMirror) Forward(sessionID, scope string, event *types.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forwards = append(m.forwards, scope+"/"+event.Type)
	return m.err
}

func (m *recordingMirror) Close() error { return nil }

func newTestRouter() (*Router, *fakeRegistry) {
	registry := &fakeRegistry{
		teacher: &fakeConn{participantID: "t1", role: types.RoleTeacher, sessionID: "s1"},
		students: []*fakeConn{
			{participantID: "alice", role: types.RoleStudent, sessionID: "s1"},
			{participantID: "bob", role: types.RoleStudent, sessionID: "s1"},
		},
	}
	return NewRouter(registry), registry
}

func TestPublishFansOutToAllMembers(t *testing.T) {
	router, registry := newTestRouter()

	router.Publish("s1", types.NewEvent(types.EventCheckStarted, "s1", nil))

	assert.Equal(t, []string{types.EventCheckStarted}, registry.teacher.eventTypes())
	for _, student := range registry.students {
		assert.Equal(t, []string{types.EventCheckStarted}, student.eventTypes())
	}
}

func TestPublishToTeacherOnly(t *testing.T) {
	router, registry := newTestRouter()

	router.PublishToTeacher("s1", types.NewEvent(types.EventAggregateUpdated, "s1", nil))

	assert.Equal(t, []string{types.EventAggregateUpdated}, registry.teacher.eventTypes())
	for _, student := range registry.students {
		assert.Empty(t, student.eventTypes(), "students never see the running tally")
	}
}

func TestPublishToTeacherWithNoTeacherBound(t *testing.T) {
	router, _ := newTestRouter()
	registry := &fakeRegistry{}
	router.registry = registry

	// Best-effort: nothing to deliver to, nothing blows up.
	router.PublishToTeacher("s1", types.NewEvent(types.EventAggregateUpdated, "s1", nil))
}

func TestPublishOrderIsFIFOPerRecipient(t *testing.T) {
	router, registry := newTestRouter()

	var want []string
	for i := 0; i < 20; i++ {
		eventType := fmt.Sprintf("event_%02d", i)
		router.Publish("s1", types.NewEvent(eventType, "s1", nil))
		want = append(want, eventType)
	}

	assert.Equal(t, want, registry.teacher.eventTypes())
	for _, student := range registry.students {
		assert.Equal(t, want, student.eventTypes())
	}
}

func TestPublishContinuesPastFailedRecipient(t *testing.T) {
	router, registry := newTestRouter()
	registry.students[0].failed = true

	router.Publish("s1", types.NewEvent(types.EventSessionEnded, "s1", nil))

	assert.Empty(t, registry.students[0].eventTypes())
	assert.Equal(t, []string{types.EventSessionEnded}, registry.students[1].eventTypes())
	assert.Equal(t, []string{types.EventSessionEnded}, registry.teacher.eventTypes())
}

func TestMirrorReceivesSessionAndTeacherScopes(t *testing.T) {
	router, _ := newTestRouter()
	mirror := &recordingMirror{}
	router.AddMirror(mirror)

	router.Publish("s1", types.NewEvent(types.EventCheckStarted, "s1", nil))
	router.PublishToTeacher("s1", types.NewEvent(types.EventAggregateUpdated, "s1", nil))

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	require.Equal(t, []string{
		ScopeSession + "/" + types.EventCheckStarted,
		ScopeTeacher + "/" + types.EventAggregateUpdated,
	}, mirror.forwards)
}

func TestMirrorErrorDoesNotStopLocalDelivery(t *testing.T) {
	router, registry := newTestRouter()
	router.AddMirror(&recordingMirror{err: ErrMirrorBacklogged})

	router.Publish("s1", types.NewEvent(types.EventCheckStarted, "s1", nil))
	assert.Equal(t, []string{types.EventCheckStarted}, registry.teacher.eventTypes())
}

func TestDeliverScopes(t *testing.T) {
	router, registry := newTestRouter()

	router.Deliver("s1", ScopeTeacher, types.NewEvent(types.EventAggregateUpdated, "s1", nil))
	assert.Equal(t, []string{types.EventAggregateUpdated}, registry.teacher.eventTypes())
	assert.Empty(t, registry.students[0].eventTypes())

	router.Deliver("s1", ScopeSession, types.NewEvent(types.EventCheckStarted, "s1", nil))
	assert.Equal(t, []string{types.EventCheckStarted}, registry.students[0].eventTypes())
}
