package tournament

import "errors"

// Session errors abort the current height only.
var (
	ErrInsufficientParticipants = errors.New("insufficient eligible participants")
	ErrSessionTimeout           = errors.New("session timed out")
	ErrAttestation              = errors.New("attestation failed")
	ErrNoWinner                 = errors.New("bracket produced no winner")
)

// ErrInvariant marks a broken internal invariant. It aborts the height and
// is returned to the caller.
var ErrInvariant = errors.New("tournament invariant violated")

// Query and intake errors.
var (
	ErrUnknownSession = errors.New("unknown session")
	ErrSessionExists  = errors.New("session already exists")
	ErrStaleRound     = errors.New("round not accepting messages")
	ErrUnknownPairing = errors.New("unknown pairing")
	ErrReplayBusy     = errors.New("too many replays in progress")
	ErrInvalidConfig  = errors.New("invalid tournament config")
)
