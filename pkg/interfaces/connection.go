package interfaces

// Connection is a non-owning handle to one live client transport. The
// registry and broadcast layers address participants exclusively through
// this interface so tests can substitute in-memory fakes for websockets.
type Connection interface {
	// WriteJSON queues a JSON message for delivery (thread-safe). Messages
	// queued from a single goroutine are delivered in FIFO order.
	WriteJSON(v interface{}) error

	// Close tears down the transport and releases resources. Safe to call
	// more than once and concurrently with in-flight writes.
	Close() error

	// ParticipantID returns the stable identity supplied at join time.
	ParticipantID() string

	// Role returns "teacher" or "student".
	Role() string

	// SessionID returns the session this connection is bound to.
	SessionID() string
}
