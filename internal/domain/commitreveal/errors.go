package commitreveal

import "errors"

// Protocol errors. They reject a single message and never abort a session.
var (
	ErrNotParticipant      = errors.New("not a participant in this round")
	ErrDuplicateCommitment = errors.New("duplicate commitment")
	ErrDuplicateReveal     = errors.New("duplicate reveal")
	ErrNoCommitment        = errors.New("reveal without commitment")
	ErrCommitmentMismatch  = errors.New("reveal does not match commitment")
	ErrPhaseClosed         = errors.New("phase closed")
	ErrOutOfPhase          = errors.New("phase not open")
	ErrBadSignature        = errors.New("signer not in set")
	ErrInvalidNonce        = errors.New("invalid nonce")
)
