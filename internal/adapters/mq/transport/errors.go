package transport

import "errors"

// Sentinel kinds for transport errors.
var (
	ErrDuplicate    = errors.New("duplicate message")
	ErrBackpressure = errors.New("transport queue full")
	ErrClosed       = errors.New("transport closed")
)
