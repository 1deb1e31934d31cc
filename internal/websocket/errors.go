package websocket

import "errors"

// Connection-level errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-level errors.
var (
	ErrNilConnection = errors.New("connection cannot be nil")
	ErrNoPublisher   = errors.New("registry publisher not wired")
)
