package types

import (
	"encoding/json"
	"time"
)

// Event type constants for all server -> client notifications.
const (
	EventJoined            = "joined"
	EventParticipantJoined = "participant_joined"
	EventCheckStarted      = "check_started"
	EventAggregateUpdated  = "aggregate_updated"
	EventSessionEnded      = "session_ended"
	EventError             = "error"
)

// Command type constants for all client -> server requests. Joining happens
// at connection time (query parameters on the upgrade request), so there is
// no join command frame.
const (
	CommandLeave          = "leave"
	CommandStartCheck     = "start_check"
	CommandSubmitResponse = "submit_response"
	CommandEndSession     = "end_session"
)

// Event is the unit broadcast to session members. Payload is one of the
// *Payload structs below, keyed by Type.
type Event struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// JoinedPayload acknowledges a successful attach to the joining connection.
type JoinedPayload struct {
	Role          string `json:"role"`
	ParticipantID string `json:"participant_id"`
}

// ParticipantJoinedPayload announces a new (or re-joining) student.
type ParticipantJoinedPayload struct {
	ParticipantID    string `json:"participant_id"`
	ParticipantCount int    `json:"participant_count"`
}

// CheckStartedPayload announces a freshly opened understanding check. It is
// also what a late-joining student receives for an already-open check.
type CheckStartedPayload struct {
	CheckID   string    `json:"check_id"`
	Question  string    `json:"question"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload carries a rejected command back to its sender.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Command is a single client request frame read off the websocket.
// Sender identity and session are taken from the connection's credentials,
// never from the frame, so only the operation fields appear here.
type Command struct {
	Type     string `json:"type"`
	CheckID  string `json:"check_id,omitempty"`
	Question string `json:"question,omitempty"`
	Answer   Answer `json:"answer,omitempty"`
}

// DecodeCommand parses a raw websocket text frame into a Command.
func DecodeCommand(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, ErrMalformedCommand
	}
	if !IsValidCommandType(cmd.Type) {
		return nil, ErrInvalidCommandType
	}
	return &cmd, nil
}

// NewEvent builds an event stamped with the current time.
func NewEvent(eventType, sessionID string, payload interface{}) *Event {
	return &Event{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}
