package broadcast

import "errors"

var (
	ErrMirrorBacklogged = errors.New("mirror outbound queue full, envelope dropped")
)
