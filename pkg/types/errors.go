package types

import "errors"

// Protocol error taxonomy shared by every layer. StaleCheck and
// NotAParticipant are recoverable (the offending command is dropped);
// SessionNotFound and SessionEnded are terminal for that session.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionEnded        = errors.New("session has ended")
	ErrStaleCheck          = errors.New("check ID does not match the current check")
	ErrNotAParticipant     = errors.New("participant has not joined this session")
	ErrUnauthorized        = errors.New("operation requires the session's teacher connection")
	ErrTransportUnavailable = errors.New("push transport unavailable")
)

// Validation errors.
var (
	ErrInvalidSessionID   = errors.New("session ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidParticipantID = errors.New("participant ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRole        = errors.New("invalid role: must be 'student' or 'teacher'")
	ErrInvalidAnswer      = errors.New("answer must be 'understood' or 'not_understood'")
	ErrInvalidQuestion    = errors.New("question must be at most 500 characters")
	ErrInvalidCommandType = errors.New("invalid command type")
	ErrMalformedCommand   = errors.New("malformed command frame")
)

// ErrorCode maps a protocol error to its wire code for ErrorPayload. Unknown
// errors collapse to "internal" so internals never leak to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrSessionEnded):
		return "session_ended"
	case errors.Is(err, ErrStaleCheck):
		return "stale_check"
	case errors.Is(err, ErrNotAParticipant):
		return "not_a_participant"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidAnswer):
		return "invalid_answer"
	case errors.Is(err, ErrInvalidQuestion):
		return "invalid_question"
	case errors.Is(err, ErrMalformedCommand), errors.Is(err, ErrInvalidCommandType):
		return "bad_command"
	default:
		return "internal"
	}
}
