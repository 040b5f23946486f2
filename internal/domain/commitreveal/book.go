// Package commitreveal tracks hidden pattern commitments and their reveals
// for one round of one tournament height.
package commitreveal

import (
	"fmt"
	"sort"
	"sync"

	"github.com/okian/arena/internal/domain/glider"
	"github.com/okian/arena/internal/domain/types"
)

// State of a participant within a round.
type State int

// Participant states.
const (
	Uncommitted State = iota
	Committed
	Revealed
	Forfeited
)

func (s State) String() string {
	switch s {
	case Uncommitted:
		return "uncommitted"
	case Committed:
		return "committed"
	case Revealed:
		return "revealed"
	case Forfeited:
		return "forfeited"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for st := Uncommitted; st <= Forfeited; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Reason explains a forfeit.
type Reason string

// Forfeit reasons.
const (
	ReasonNone         Reason = ""
	ReasonNoCommitment Reason = "no_commitment"
	ReasonMissedReveal Reason = "missed_reveal"
	ReasonMismatch     Reason = "commitment_mismatch"
	ReasonBadReveal    Reason = "invalid_reveal"
	ReasonEquivocation Reason = "equivocation"
)

// SignerSet verifies that a message was signed by some member of the
// round's participant set without revealing which one.
type SignerSet interface {
	Verify(msg, sig []byte) bool
}

type openSet struct{}

func (openSet) Verify(_, _ []byte) bool { return true }

// OpenSet accepts every signature. Membership is still enforced by the book.
func OpenSet() SignerSet { return openSet{} }

// Entry is one participant's record in a book.
type Entry struct {
	Participant types.ParticipantID `json:"participant"`
	State       State               `json:"state"`
	Commitment  types.Digest        `json:"commitment,omitempty"`
	Pattern     *glider.Pattern     `json:"pattern,omitempty"`
	Reason      Reason              `json:"reason,omitempty"`
}

// Forfeit is a participant resolved without a valid reveal.
type Forfeit struct {
	Participant types.ParticipantID `json:"participant"`
	Reason      Reason              `json:"reason"`
}

type phase int

const (
	phaseCommit phase = iota
	phaseReveal
	phaseClosed
)

// BookOption configures a Book.
type BookOption func(*Book)

// WithSignerSet sets the signature verifier.
func WithSignerSet(s SignerSet) BookOption {
	return func(b *Book) {
		if s != nil {
			b.signers = s
		}
	}
}

// Book records commitments and reveals for one (height, round).
type Book struct {
	height  uint64
	round   int
	signers SignerSet

	mu      sync.Mutex
	phase   phase
	entries map[types.ParticipantID]*Entry
	changed chan struct{}
}

// NewBook opens the commit phase for the given participants.
func NewBook(height uint64, round int, participants []types.ParticipantID, opts ...BookOption) *Book {
	b := &Book{
		height:  height,
		round:   round,
		signers: OpenSet(),
		entries: make(map[types.ParticipantID]*Entry, len(participants)),
		changed: make(chan struct{}),
	}
	for _, id := range participants {
		b.entries[id] = &Entry{Participant: id}
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Height returns the tournament height the book belongs to.
func (b *Book) Height() uint64 { return b.height }

// Round returns the round number.
func (b *Book) Round() int { return b.round }

// Binding returns the commitment binding for a participant.
func (b *Book) Binding(id types.ParticipantID) Binding {
	return Binding{Height: b.height, Round: b.round, Participant: id}
}

// Changed returns a channel closed on the next state change.
func (b *Book) Changed() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.changed
}

func (b *Book) notifyLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// Commit stores a participant's commitment. sig covers the digest.
func (b *Book) Commit(id types.ParticipantID, digest types.Digest, sig []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotParticipant, id.Short())
	}
	if e.State != Uncommitted {
		return fmt.Errorf("%w: %s", ErrDuplicateCommitment, id.Short())
	}
	if b.phase != phaseCommit {
		return fmt.Errorf("%w: commit for %s", ErrPhaseClosed, id.Short())
	}
	if !b.signers.Verify(digest[:], sig) {
		return fmt.Errorf("%w: commit for %s", ErrBadSignature, id.Short())
	}
	e.State = Committed
	e.Commitment = digest
	b.notifyLocked()
	return nil
}

// Disqualify forfeits a participant in any phase, discarding a reveal it
// may have made. It reports whether the state changed.
func (b *Book) Disqualify(id types.ParticipantID, r Reason) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if !ok || e.State == Forfeited {
		return false
	}
	e.Pattern = nil
	b.forfeitLocked(e, r)
	return true
}

// CloseCommits ends the commit phase and opens reveals.
func (b *Book) CloseCommits() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase == phaseCommit {
		b.phase = phaseReveal
		b.notifyLocked()
	}
}

// Reveal checks (pattern, nonce) against the stored commitment. A mismatch
// or an invalid pattern forfeits the participant; the returned error then
// describes why and the state is Forfeited.
func (b *Book) Reveal(id types.ParticipantID, p glider.Pattern, nonce, sig []byte) (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[id]
	if !ok {
		return Uncommitted, fmt.Errorf("%w: %s", ErrNotParticipant, id.Short())
	}
	switch b.phase {
	case phaseCommit:
		return e.State, fmt.Errorf("%w: reveal for %s", ErrOutOfPhase, id.Short())
	case phaseClosed:
		return e.State, fmt.Errorf("%w: reveal for %s", ErrPhaseClosed, id.Short())
	}
	switch e.State {
	case Uncommitted:
		return e.State, fmt.Errorf("%w: %s", ErrNoCommitment, id.Short())
	case Revealed, Forfeited:
		return e.State, fmt.Errorf("%w: %s", ErrDuplicateReveal, id.Short())
	}

	d, err := Digest(b.Binding(id), p, nonce)
	if err != nil {
		b.forfeitLocked(e, ReasonBadReveal)
		return e.State, err
	}
	if !b.signers.Verify(d[:], sig) {
		return e.State, fmt.Errorf("%w: reveal for %s", ErrBadSignature, id.Short())
	}
	if d != e.Commitment {
		b.forfeitLocked(e, ReasonMismatch)
		return e.State, fmt.Errorf("%w: %s", ErrCommitmentMismatch, id.Short())
	}
	n := p.Normalized()
	e.State = Revealed
	e.Pattern = &n
	b.notifyLocked()
	return e.State, nil
}

func (b *Book) forfeitLocked(e *Entry, r Reason) {
	e.State = Forfeited
	e.Reason = r
	b.notifyLocked()
}

// CloseReveals ends the round's message phases. Every participant without
// a valid reveal is forfeited. The returned list holds every forfeit of the
// round in canonical order, including earlier mismatches.
func (b *Book) CloseReveals() []Forfeit {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.phase != phaseClosed {
		b.phase = phaseClosed
		for _, e := range b.entries {
			switch e.State {
			case Uncommitted:
				e.State, e.Reason = Forfeited, ReasonNoCommitment
			case Committed:
				e.State, e.Reason = Forfeited, ReasonMissedReveal
			}
		}
		b.notifyLocked()
	}

	var out []Forfeit
	for _, e := range b.sortedLocked() {
		if e.State == Forfeited {
			out = append(out, Forfeit{Participant: e.Participant, Reason: e.Reason})
		}
	}
	return out
}

// State returns a participant's state.
func (b *Book) State(id types.ParticipantID) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[id]; ok {
		return e.State
	}
	return Uncommitted
}

// Pattern returns the revealed pattern of a participant.
func (b *Book) Pattern(id types.ParticipantID) (glider.Pattern, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if !ok || e.State != Revealed {
		return glider.Pattern{}, false
	}
	return *e.Pattern, true
}

// AllCommitted reports whether every participant has committed.
func (b *Book) AllCommitted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if e.State == Uncommitted {
			return false
		}
	}
	return true
}

// AllResolved reports whether no participant still owes a reveal.
func (b *Book) AllResolved() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if e.State == Committed {
			return false
		}
	}
	return true
}

// Entries returns a copy of every entry in canonical order.
func (b *Book) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	sorted := b.sortedLocked()
	out := make([]Entry, len(sorted))
	for i, e := range sorted {
		out[i] = *e
	}
	return out
}

func (b *Book) sortedLocked() []*Entry {
	out := make([]*Entry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Participant.Less(out[j].Participant) })
	return out
}
