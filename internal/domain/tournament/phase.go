package tournament

// Phase is the state of a session.
type Phase string

// Session phases. Finalized and Aborted are terminal.
const (
	PhaseEligibility Phase = "eligibility"
	PhaseCommit      Phase = "commit"
	PhaseReveal      Phase = "reveal"
	PhaseBattle      Phase = "battle"
	PhaseFinalize    Phase = "finalize"
	PhaseFinalized   Phase = "finalized"
	PhaseAborted     Phase = "aborted"
)

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool { return p == PhaseFinalized || p == PhaseAborted }

// AbortReason tells observers why a session ended without a proposer.
type AbortReason string

// Abort reasons.
const (
	AbortNone         AbortReason = ""
	AbortInsufficient AbortReason = "insufficient_participants"
	AbortTimeout      AbortReason = "session_timeout"
	AbortAttestation  AbortReason = "attestation_failed"
	AbortNoWinner     AbortReason = "no_winner"
	AbortInvariant    AbortReason = "invariant"
	AbortCancelled    AbortReason = "cancelled"
)
