package bracket

import "errors"

// Sentinel kinds for bracket errors.
var (
	// ErrTooFewParticipants is returned when fewer than two are eligible.
	ErrTooFewParticipants = errors.New("too few participants")
	// ErrMalformed marks a broken bracket invariant. It is fatal for the height.
	ErrMalformed = errors.New("malformed bracket")
)
