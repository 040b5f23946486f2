// Package trust is the evidence-based trust ledger that gates tournament
// eligibility.
package trust

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/btree"
	"github.com/okian/arena/internal/domain/types"
	"github.com/okian/arena/pkg/logger"
	"github.com/okian/arena/pkg/metrics"
)

const btreeDegree = 16

// Kind is a category of evidence.
type Kind int

// Evidence kinds.
const (
	ValidBlock Kind = iota + 1
	HonestReveal
	RoundWin
	InvalidBlock
	MissedReveal
	ForfeitLoss
)

var kindNames = map[Kind]string{ //nolint:gochecknoglobals // lookup table
	ValidBlock:   "valid_block",
	HonestReveal: "honest_reveal",
	RoundWin:     "round_win",
	InvalidBlock: "invalid_block",
	MissedReveal: "missed_reveal",
	ForfeitLoss:  "forfeit_loss",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Positive reports whether the kind adds to r.
func (k Kind) Positive() bool { return k == ValidBlock || k == HonestReveal || k == RoundWin }

// Evidence is one observation about a participant.
type Evidence struct {
	Participant types.ParticipantID
	Kind        Kind
	Height      uint64
}

// Bonds is the slice of the bond module the ledger needs.
type Bonds interface {
	Bond(id types.ParticipantID) uint64
	Slash(id types.ParticipantID) (uint64, error)
}

// Record is the stored state of one participant.
type Record struct {
	Participant types.ParticipantID `json:"participant"`
	R           uint64              `json:"r"`
	S           uint64              `json:"s"`
	Banned      bool                `json:"banned"`
	FirstSeen   uint64              `json:"first_seen"`
	BannedAt    uint64              `json:"banned_at,omitempty"`
}

// Snapshot is the serialisable ledger state.
type Snapshot struct {
	Epoch   uint64   `json:"epoch"`
	Records []Record `json:"records"`
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithParams sets the protocol parameters.
func WithParams(p Params) Option {
	return func(l *Ledger) { l.params = p }
}

// WithBonds sets the bond module consulted for eligibility and slashing.
func WithBonds(b Bonds) Option {
	return func(l *Ledger) { l.bonds = b }
}

// WithLogger sets the ledger logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Ledger) {
		if lg != nil {
			l.log = lg
		}
	}
}

// Ledger is an ordered keyed store of evidence records. One mutex
// serialises every mutation.
type Ledger struct {
	params Params
	bonds  Bonds
	log    logger.Logger

	positiveStep uint64
	negativeStep uint64
	decayR       uint64
	decayS       uint64

	mu    sync.RWMutex
	tree  *btree.BTreeG[*Record]
	epoch uint64
}

func lessRecord(a, b *Record) bool { return a.Participant.Less(b.Participant) }

// NewLedger creates an empty ledger.
func NewLedger(opts ...Option) (*Ledger, error) {
	l := &Ledger{
		params: DefaultParams(),
		log:    logger.NewNop(),
		tree:   btree.NewG[*Record](btreeDegree, lessRecord),
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.params.Validate(); err != nil {
		return nil, err
	}
	l.positiveStep = fixed(l.params.PositiveStep)
	l.negativeStep = fixed(l.params.NegativeStep)
	l.decayR = ratio(l.params.DecayPositive)
	l.decayS = ratio(l.params.DecayNegative)
	return l, nil
}

// Params returns the ledger parameters.
func (l *Ledger) Params() Params { return l.params }

func (l *Ledger) getLocked(id types.ParticipantID) (*Record, bool) {
	return l.tree.Get(&Record{Participant: id})
}

// Register adds a participant first seen at height with an optional amount
// of initial positive evidence (genesis participants).
func (l *Ledger) Register(id types.ParticipantID, height uint64, positive float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.getLocked(id); ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, id.Short())
	}
	l.tree.ReplaceOrInsert(&Record{Participant: id, FirstSeen: height, R: fixed(positive)})
	metrics.UpdateRegisteredParticipants(l.tree.Len())
	return nil
}

// Apply records one piece of evidence.
func (l *Ledger) Apply(ev Evidence) error {
	return l.ApplyBatch([]Evidence{ev})
}

// ApplyBatch records a batch atomically: either every item applies or none.
// Evidence for banned participants is accepted and ignored.
func (l *Ledger) ApplyBatch(batch []Evidence) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs := make([]*Record, len(batch))
	for i, ev := range batch {
		if _, ok := kindNames[ev.Kind]; !ok {
			return fmt.Errorf("%w: %d", ErrUnknownEvidence, ev.Kind)
		}
		rec, ok := l.getLocked(ev.Participant)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownParticipant, ev.Participant.Short())
		}
		recs[i] = rec
	}
	for i, ev := range batch {
		rec := recs[i]
		if rec.Banned {
			continue
		}
		if ev.Kind.Positive() {
			rec.R = satAdd(rec.R, l.positiveStep)
		} else {
			rec.S = satAdd(rec.S, l.negativeStep)
		}
		metrics.RecordEvidence(ev.Kind.String())
	}
	return nil
}

// Epoch returns the last decayed epoch, 0 when none.
func (l *Ledger) Epoch() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.epoch
}

// DecayEpoch applies decay for epoch once. Epochs at or below the last
// applied one are ignored; it reports whether decay was applied.
func (l *Ledger) DecayEpoch(epoch uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if epoch <= l.epoch {
		return false
	}
	l.tree.Ascend(func(rec *Record) bool {
		rec.R = scale(rec.R, l.decayR)
		rec.S = scale(rec.S, l.decayS)
		return true
	})
	l.epoch = epoch
	metrics.RecordDecayEpoch()
	return true
}

// OnBlock applies decay when height closes an epoch.
func (l *Ledger) OnBlock(height uint64) bool {
	if l.params.EpochLength == 0 || height == 0 || height%l.params.EpochLength != 0 {
		return false
	}
	return l.DecayEpoch(height / l.params.EpochLength)
}

// ReportEquivocation bans a participant permanently and slashes its bond.
// Unknown participants are registered banned so they can never join later.
func (l *Ledger) ReportEquivocation(ctx context.Context, id types.ParticipantID, height uint64) error {
	l.mu.Lock()
	rec, ok := l.getLocked(id)
	if !ok {
		rec = &Record{Participant: id, FirstSeen: height}
		l.tree.ReplaceOrInsert(rec)
	}
	already := rec.Banned
	rec.Banned = true
	if !already {
		rec.BannedAt = height
	}
	l.mu.Unlock()

	if already {
		return nil
	}
	metrics.RecordBan()
	l.log.Warn(ctx, "participant banned for equivocation",
		logger.Stringer("participant", id), logger.Uint64("height", height))
	if l.bonds == nil {
		return nil
	}
	slashed, err := l.bonds.Slash(id)
	if err != nil {
		return fmt.Errorf("slash %s: %w", id.Short(), err)
	}
	l.log.Info(ctx, "bond slashed", logger.Stringer("participant", id), logger.Uint64("amount", slashed))
	return nil
}

// Trust returns the public view of one participant.
func (l *Ledger) Trust(id types.ParticipantID) (types.TrustView, error) {
	l.mu.RLock()
	rec, ok := l.getLocked(id)
	var cp Record
	if ok {
		cp = *rec
	}
	l.mu.RUnlock()
	if !ok {
		return types.TrustView{}, fmt.Errorf("%w: %s", ErrUnknownParticipant, id.Short())
	}
	return l.view(cp), nil
}

func (l *Ledger) view(rec Record) types.TrustView {
	v := types.TrustView{
		Participant: rec.Participant,
		Positive:    float64(rec.R) / float64(Scale),
		Negative:    float64(rec.S) / float64(Scale),
		Banned:      rec.Banned,
	}
	if l.bonds != nil {
		v.Bond = l.bonds.Bond(rec.Participant)
	}
	if !rec.Banned {
		v.Trust = Score(rec.R, rec.S, l.params.K, l.params.Alpha)
	}
	v.Eligible = !rec.Banned && v.Trust >= l.params.TMin && v.Bond >= l.params.BMin
	return v
}

// Eligible reports whether a participant may enter a tournament.
func (l *Ledger) Eligible(id types.ParticipantID) bool {
	v, err := l.Trust(id)
	return err == nil && v.Eligible
}

// Views returns every participant's view in canonical order.
func (l *Ledger) Views() []types.TrustView {
	recs := l.records()
	out := make([]types.TrustView, len(recs))
	for i, r := range recs {
		out[i] = l.view(r)
	}
	return out
}

// EligibleSet returns the eligible participants in canonical order.
func (l *Ledger) EligibleSet() []types.ParticipantID {
	var out []types.ParticipantID
	for _, v := range l.Views() {
		if v.Eligible {
			out = append(out, v.Participant)
		}
	}
	metrics.UpdateEligibleParticipants(len(out))
	return out
}

func (l *Ledger) records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, 0, l.tree.Len())
	l.tree.Ascend(func(rec *Record) bool {
		out = append(out, *rec)
		return true
	})
	return out
}

// Snapshot copies the ledger state.
func (l *Ledger) Snapshot() Snapshot {
	recs := l.records()
	return Snapshot{Epoch: l.Epoch(), Records: recs}
}

// Restore replaces the ledger state with a snapshot.
func (l *Ledger) Restore(s Snapshot) error {
	tree := btree.NewG[*Record](btreeDegree, lessRecord)
	for i := range s.Records {
		rec := s.Records[i]
		if prev, dup := tree.ReplaceOrInsert(&rec); dup {
			return fmt.Errorf("%w: %s twice in snapshot", ErrAlreadyRegistered, prev.Participant.Short())
		}
	}
	l.mu.Lock()
	l.tree = tree
	l.epoch = s.Epoch
	l.mu.Unlock()
	metrics.UpdateRegisteredParticipants(tree.Len())
	return nil
}
