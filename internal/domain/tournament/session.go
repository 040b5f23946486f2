package tournament

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/okian/arena/internal/domain/battle"
	"github.com/okian/arena/internal/domain/bracket"
	"github.com/okian/arena/internal/domain/commitreveal"
	"github.com/okian/arena/internal/domain/seed"
	"github.com/okian/arena/internal/domain/types"
)

// ForfeitRecord is a participant that lost a pairing without a valid
// reveal.
type ForfeitRecord struct {
	Round       int                 `json:"round"`
	Pairing     string              `json:"pairing"`
	Participant types.ParticipantID `json:"participant"`
	Reason      commitreveal.Reason `json:"reason"`
}

// Snapshot is the public state of a session. It is a copy and safe to
// retain.
type Snapshot struct {
	Session        string                 `json:"session"`
	Height         uint64                 `json:"height"`
	Phase          Phase                  `json:"phase"`
	Round          int                    `json:"round"`
	Seed           seed.Seed              `json:"seed"`
	Eligible       []types.ParticipantID  `json:"eligible"`
	Bracket        *bracket.Tree          `json:"bracket,omitempty"`
	Entries        []commitreveal.Entry   `json:"entries,omitempty"`
	Results        []battle.Result        `json:"results"`
	Forfeits       []ForfeitRecord        `json:"forfeits"`
	Specs          map[string]battle.Spec `json:"specs,omitempty"`
	Proposer       *types.ParticipantID   `json:"proposer,omitempty"`
	Attestation    *Attestation           `json:"attestation,omitempty"`
	Abort          AbortReason            `json:"abort_reason,omitempty"`
	AbortDetail    string                 `json:"abort_detail,omitempty"`
	CommitDeadline time.Time              `json:"commit_deadline,omitzero"`
	RevealDeadline time.Time              `json:"reveal_deadline,omitzero"`
	StartedAt      time.Time              `json:"started_at"`
	EndedAt        time.Time              `json:"ended_at,omitzero"`
}

// session is the mutable state behind a Snapshot. The control goroutine of
// Run is the only writer; readers take snapshots under mu.
type session struct {
	mu   sync.RWMutex
	snap Snapshot
	tree *bracket.Tree
	book *commitreveal.Book

	// excluded participants forfeit every round opened after the report.
	excluded map[types.ParticipantID]struct{}
}

func newSession(id string, height uint64, now time.Time) *session {
	return &session{
		snap: Snapshot{
			Session:   id,
			Height:    height,
			Phase:     PhaseEligibility,
			Specs:     make(map[string]battle.Spec),
			StartedAt: now,
		},
		excluded: make(map[types.ParticipantID]struct{}),
	}
}

// exclude forfeits id in the open round, while its commitments and reveals
// are still being collected, and in every later round.
func (s *session) exclude(id types.ParticipantID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.excluded[id] = struct{}{}
	if s.book != nil && (s.snap.Phase == PhaseCommit || s.snap.Phase == PhaseReveal) {
		s.book.Disqualify(id, commitreveal.ReasonEquivocation)
	}
}

func (s *session) update(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
}

func (s *session) setTree(t *bracket.Tree) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = t
}

// withTree runs fn on the bracket while holding the write lock, so
// snapshots never observe a half-applied mutation.
func (s *session) withTree(fn func(*bracket.Tree) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.tree)
}

// openRound installs the book of round r.
func (s *session) openRound(r int, b *commitreveal.Book, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.excluded {
		b.Disqualify(id, commitreveal.ReasonEquivocation)
	}
	s.book = b
	s.snap.Round = r
	s.snap.Phase = PhaseCommit
	s.snap.CommitDeadline = deadline
	s.snap.RevealDeadline = time.Time{}
}

// activeBook returns the book accepting messages for round.
func (s *session) activeBook(round int) (*commitreveal.Book, Phase, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.book == nil || s.book.Round() != round {
		return nil, s.snap.Phase, false
	}
	return s.book, s.snap.Phase, true
}

func (s *session) phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Phase
}

func (s *session) snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	out.Eligible = slices.Clone(s.snap.Eligible)
	out.Results = slices.Clone(s.snap.Results)
	out.Forfeits = slices.Clone(s.snap.Forfeits)
	out.Specs = maps.Clone(s.snap.Specs)
	if s.tree != nil {
		out.Bracket = s.tree.Clone()
	}
	if s.book != nil && !s.snap.Phase.Terminal() {
		out.Entries = s.book.Entries()
	}
	if s.snap.Proposer != nil {
		p := *s.snap.Proposer
		out.Proposer = &p
	}
	if s.snap.Attestation != nil {
		a := *s.snap.Attestation
		a.Proof = slices.Clone(a.Proof)
		out.Attestation = &a
	}
	return &out
}
