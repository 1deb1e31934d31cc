package client

import "errors"

var (
	ErrMissingBaseURL = errors.New("base URL is required")
	ErrNoOpenCheck    = errors.New("no understanding check is open")
	ErrClientClosed   = errors.New("client is closed")
)
