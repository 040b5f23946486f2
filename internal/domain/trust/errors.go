package trust

import "errors"

// Sentinel kinds for ledger errors.
var (
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrAlreadyRegistered  = errors.New("participant already registered")
	ErrInvalidParams      = errors.New("invalid trust parameters")
	ErrUnknownEvidence    = errors.New("unknown evidence kind")
)
