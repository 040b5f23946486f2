// Package tournament drives the per-height session through eligibility,
// the commit, reveal and battle rounds, and finalization.
package tournament

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/okian/arena/internal/domain/battle"
	"github.com/okian/arena/internal/domain/bracket"
	"github.com/okian/arena/internal/domain/commitreveal"
	"github.com/okian/arena/internal/domain/glider"
	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/internal/domain/seed"
	"github.com/okian/arena/internal/domain/trust"
	"github.com/okian/arena/internal/domain/types"
	"github.com/okian/arena/pkg/logger"
	"github.com/okian/arena/pkg/metrics"
	"golang.org/x/sync/semaphore"
)

// Ledger is the part of the trust ledger a session uses.
type Ledger interface {
	EligibleSet() []types.ParticipantID
	ApplyBatch(batch []trust.Evidence) error
	ReportEquivocation(ctx context.Context, id types.ParticipantID, height uint64) error
}

// SeedSource yields the combined VRF seed for the next height.
type SeedSource interface {
	Seed() seed.Seed
}

// BattleRunner simulates the battles of one round and joins them.
type BattleRunner interface {
	Run(ctx context.Context, jobs []battle.Job) ([]battle.Outcome, error)
}

// Replayer recomputes a battle with its full trace.
type Replayer interface {
	Replay(ctx context.Context, spec battle.Spec) (*battle.Trace, error)
}

// Archive persists finished sessions.
type Archive interface {
	Archive(ctx context.Context, s *Snapshot) error
	Session(ctx context.Context, height uint64) (*Snapshot, error)
}

// Orchestrator runs tournament sessions. Each height's control flow runs
// on the goroutine calling Run; messages arrive through HandleMessage.
type Orchestrator struct {
	cfg      Config
	ledger   Ledger
	seeds    SeedSource
	attestor Attestor
	runner   BattleRunner
	replayer Replayer
	archive  Archive
	signers  commitreveal.SignerSet
	log      logger.Logger
	now      func() time.Time

	mu        sync.RWMutex
	active    map[uint64]*session
	sessions  *lru.Cache[uint64, *session]
	replays   *lru.Cache[string, *battle.Trace]
	replaySem *semaphore.Weighted
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(ledger Ledger, seeds SeedSource, attestor Attestor, opts ...Option) (*Orchestrator, error) {
	if ledger == nil || seeds == nil || attestor == nil {
		return nil, fmt.Errorf("%w: ledger, seed source and attestor are required", ErrInvalidConfig)
	}
	sim := battle.NewSimulator()
	o := &Orchestrator{
		cfg:      DefaultConfig(),
		ledger:   ledger,
		seeds:    seeds,
		attestor: attestor,
		runner:   sequentialRunner{sim: sim},
		replayer: sim,
		signers:  commitreveal.OpenSet(),
		log:      logger.Get().Named("tournament"),
		now:      time.Now,
		active:   make(map[uint64]*session),
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	var err error
	if o.sessions, err = lru.New[uint64, *session](o.cfg.Retention); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if o.replays, err = lru.New[string, *battle.Trace](o.cfg.ReplayCacheSize); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	o.replaySem = semaphore.NewWeighted(int64(o.cfg.ReplayLimit))
	return o, nil
}

// Config returns the protocol constants in use.
func (o *Orchestrator) Config() Config { return o.cfg }

// Run drives the session for height to a terminal phase and returns its
// final state. Aborted sessions return their snapshot together with the
// cause.
func (o *Orchestrator) Run(ctx context.Context, height uint64) (*Snapshot, error) {
	s, err := o.start(height)
	if err != nil {
		return nil, err
	}
	log := o.log.With(logger.Uint64("height", height), logger.String("session", s.snap.Session))

	sctx, cancel := context.WithTimeout(ctx, o.cfg.SessionTimeout)
	defer cancel()

	metrics.RecordSessionStarted()
	log.Info(ctx, "session started")

	if err = o.play(sctx, s, log); err != nil {
		err = o.abort(ctx, sctx, s, log, err)
	}
	o.retire(ctx, s, log)
	return s.snapshot(), err
}

func (o *Orchestrator) start(height uint64) (*session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.active[height]; ok || o.sessions.Contains(height) {
		return nil, fmt.Errorf("%w: height %d", ErrSessionExists, height)
	}
	s := newSession(uuid.NewString(), height, o.now())
	o.active[height] = s
	return s, nil
}

func (o *Orchestrator) play(ctx context.Context, s *session, log logger.Logger) error {
	eligible := o.ledger.EligibleSet()
	sd := o.seeds.Seed()
	s.update(func(sn *Snapshot) {
		sn.Eligible = slices.Clone(eligible)
		sn.Seed = sd
	})
	if len(eligible) < 2 {
		return fmt.Errorf("%w: %d eligible", ErrInsufficientParticipants, len(eligible))
	}

	tree, err := bracket.Build(eligible, sd)
	if err != nil {
		return invariant(err)
	}
	s.setTree(tree)
	log.Info(ctx, "bracket built",
		logger.Int("participants", len(eligible)),
		logger.Int("rounds", tree.NumRounds()),
		logger.Stringer("seed", sd),
	)

	for r := 1; r <= tree.NumRounds(); r++ {
		if err := o.playRound(ctx, s, r, log.With(logger.Int("round", r))); err != nil {
			return err
		}
	}

	var (
		winner types.ParticipantID
		ok     bool
	)
	_ = s.withTree(func(t *bracket.Tree) error {
		winner, ok = t.Winner()
		return nil
	})
	if !ok {
		return ErrNoWinner
	}
	return o.finalize(ctx, s, winner, log)
}

func (o *Orchestrator) playRound(ctx context.Context, s *session, r int, log logger.Logger) error {
	var contested []*bracket.Node
	err := s.withTree(func(t *bracket.Tree) error {
		var err error
		contested, err = t.Prepare(r)
		return err
	})
	if err != nil {
		return invariant(err)
	}

	if len(contested) > 0 {
		if err := o.battleRound(ctx, s, r, contested, log); err != nil {
			return err
		}
	}

	err = s.withTree(func(t *bracket.Tree) error {
		if err := t.Advance(r); err != nil {
			return err
		}
		return t.Validate()
	})
	if err != nil {
		return invariant(err)
	}
	metrics.RecordRoundCompleted()
	log.Info(ctx, "round completed", logger.Int("contested", len(contested)))
	return nil
}

// battleRound runs the commit, reveal and battle phases for the contested
// nodes of round r.
func (o *Orchestrator) battleRound(ctx context.Context, s *session, r int, contested []*bracket.Node, log logger.Logger) error { //nolint:funlen,gocognit // one phase sequence
	height := s.snap.Height
	var ids []types.ParticipantID
	for _, n := range contested {
		ids = append(ids, n.Occupants()...)
	}

	book := commitreveal.NewBook(height, r, ids, commitreveal.WithSignerSet(o.signers))
	s.openRound(r, book, o.now().Add(o.cfg.CommitWindow))
	log.Info(ctx, "commit phase opened", logger.Int("participants", len(ids)))
	if err := waitUntil(ctx, book, book.AllCommitted, o.cfg.CommitWindow); err != nil {
		return err
	}

	book.CloseCommits()
	s.update(func(sn *Snapshot) {
		sn.Phase = PhaseReveal
		sn.RevealDeadline = o.now().Add(o.cfg.RevealWindow)
	})
	log.Info(ctx, "reveal phase opened")
	if err := waitUntil(ctx, book, book.AllResolved, o.cfg.RevealWindow); err != nil {
		return err
	}

	forfeits := book.CloseReveals()
	s.update(func(sn *Snapshot) { sn.Phase = PhaseBattle })
	reasons := make(map[types.ParticipantID]commitreveal.Reason, len(forfeits))
	for _, f := range forfeits {
		reasons[f.Participant] = f.Reason
	}

	var (
		jobs      []battle.Job
		byPairing = make(map[string]*bracket.Node)
		evidence  []trust.Evidence
		records   []ForfeitRecord
	)
	for _, n := range contested {
		a, b := n.Slots[0].Participant, n.Slots[1].Participant
		pa, okA := book.Pattern(a)
		pb, okB := book.Pattern(b)
		switch {
		case okA && okB:
			spec := o.spec(a, pa, b, pb)
			jobs = append(jobs, battle.Job{Pairing: n.ID, Spec: spec})
			byPairing[n.ID] = n
			s.update(func(sn *Snapshot) { sn.Specs[n.ID] = spec })
		case okA || okB:
			winner, loser := a, b
			if okB {
				winner, loser = b, a
			}
			if err := o.resolve(s, n, bracket.OutcomeForfeit, &winner, nil); err != nil {
				return err
			}
			evidence = append(evidence,
				trust.Evidence{Participant: winner, Kind: trust.HonestReveal, Height: height},
				trust.Evidence{Participant: loser, Kind: penalty(reasons[loser]), Height: height},
			)
			records = append(records, ForfeitRecord{Round: r, Pairing: n.ID, Participant: loser, Reason: reasons[loser]})
		default:
			if err := o.resolve(s, n, bracket.OutcomeDoubleForfeit, nil, nil); err != nil {
				return err
			}
			for _, id := range []types.ParticipantID{a, b} {
				evidence = append(evidence, trust.Evidence{Participant: id, Kind: penalty(reasons[id]), Height: height})
				records = append(records, ForfeitRecord{Round: r, Pairing: n.ID, Participant: id, Reason: reasons[id]})
			}
		}
	}
	for _, rec := range records {
		metrics.RecordForfeit(string(rec.Reason))
		log.Warn(ctx, "participant forfeited",
			logger.String("pairing", rec.Pairing),
			logger.Stringer("participant", rec.Participant),
			logger.String("reason", string(rec.Reason)),
		)
	}
	s.update(func(sn *Snapshot) { sn.Forfeits = append(sn.Forfeits, records...) })

	outcomes, err := o.runner.Run(ctx, jobs)
	if err != nil {
		return err
	}
	var results []battle.Result
	for _, out := range outcomes {
		n, ok := byPairing[out.Pairing]
		if !ok {
			return invariant(fmt.Errorf("%w: outcome for %s", ErrUnknownPairing, out.Pairing))
		}
		a, b := n.Slots[0].Participant, n.Slots[1].Participant
		switch {
		case out.Err == nil:
			res := out.Result
			winner := res.Winner
			if err := o.resolve(s, n, bracket.OutcomeBattle, &winner, &res); err != nil {
				return err
			}
			evidence = append(evidence,
				trust.Evidence{Participant: a, Kind: trust.HonestReveal, Height: height},
				trust.Evidence{Participant: b, Kind: trust.HonestReveal, Height: height},
				trust.Evidence{Participant: winner, Kind: trust.RoundWin, Height: height},
			)
			results = append(results, res)
			log.Info(ctx, "battle resolved",
				logger.String("pairing", n.ID),
				logger.Stringer("winner", winner),
				logger.Uint64("energy_a", res.EnergyA),
				logger.Uint64("energy_b", res.EnergyB),
				logger.Bool("draw", res.Draw),
				logger.Duration("elapsed", out.Elapsed),
			)
		case errors.Is(out.Err, battle.ErrPlacementOverlap):
			winner := a
			if b.Less(a) {
				winner = b
			}
			if err := o.resolve(s, n, bracket.OutcomeRejected, &winner, nil); err != nil {
				return err
			}
			evidence = append(evidence,
				trust.Evidence{Participant: a, Kind: trust.HonestReveal, Height: height},
				trust.Evidence{Participant: b, Kind: trust.HonestReveal, Height: height},
			)
			log.Warn(ctx, "placement rejected", logger.String("pairing", n.ID), logger.Error(out.Err))
		default:
			return invariant(fmt.Errorf("pairing %s: %w", out.Pairing, out.Err))
		}
	}
	s.update(func(sn *Snapshot) { sn.Results = append(sn.Results, results...) })

	if err := o.ledger.ApplyBatch(evidence); err != nil {
		return invariant(err)
	}
	return nil
}

func (o *Orchestrator) spec(a types.ParticipantID, pa glider.Pattern, b types.ParticipantID, pb glider.Pattern) battle.Spec {
	sa, sb := battle.SpawnPoints(o.cfg.GridSize)
	return battle.Spec{
		A:      battle.Contender{ID: a, Pattern: pa},
		B:      battle.Contender{ID: b, Pattern: pb},
		SpawnA: sa,
		SpawnB: sb,
		Steps:  o.cfg.Steps,
		Size:   o.cfg.GridSize,
	}
}

func (o *Orchestrator) resolve(s *session, n *bracket.Node, outcome bracket.Outcome, winner *types.ParticipantID, res *battle.Result) error {
	err := s.withTree(func(t *bracket.Tree) error {
		return t.Resolve(n.Round, n.Index, outcome, winner, res)
	})
	if err != nil {
		return invariant(err)
	}
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, s *session, winner types.ParticipantID, log logger.Logger) error {
	var (
		results []battle.Result
		started time.Time
	)
	s.update(func(sn *Snapshot) {
		sn.Phase = PhaseFinalize
		results = slices.Clone(sn.Results)
		started = sn.StartedAt
	})

	actx, cancel := context.WithTimeout(ctx, o.cfg.AttestTimeout)
	defer cancel()
	att, err := o.attestor.Attest(actx, results)
	if err != nil {
		metrics.RecordAttestation("failed")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrAttestation, err)
	}
	if want := Transcript(results); att.Transcript != want {
		metrics.RecordAttestation("mismatch")
		return fmt.Errorf("%w: transcript %s, want %s", ErrAttestation, att.Transcript, want)
	}
	metrics.RecordAttestation("ok")

	now := o.now()
	s.update(func(sn *Snapshot) {
		sn.Phase = PhaseFinalized
		sn.Proposer = &winner
		sn.Attestation = &att
		sn.EndedAt = now
	})
	metrics.RecordSessionFinalized(now.Sub(started).Seconds())
	log.Info(ctx, "session finalized",
		logger.Stringer("proposer", winner),
		logger.Int("battles", len(results)),
	)
	return nil
}

// abort moves s to Aborted and returns the error reported by Run.
func (o *Orchestrator) abort(parent, sctx context.Context, s *session, log logger.Logger, err error) error {
	var reason AbortReason
	switch {
	case errors.Is(err, ErrInsufficientParticipants):
		reason = AbortInsufficient
	case errors.Is(err, ErrNoWinner):
		reason = AbortNoWinner
	case errors.Is(err, ErrAttestation):
		reason = AbortAttestation
	case errors.Is(err, ErrInvariant):
		reason = AbortInvariant
	case parent.Err() != nil:
		reason = AbortCancelled
	case errors.Is(sctx.Err(), context.DeadlineExceeded):
		reason = AbortTimeout
		err = fmt.Errorf("%w: %w", ErrSessionTimeout, err)
	default:
		reason = AbortInvariant
		err = invariant(err)
	}

	var started time.Time
	now := o.now()
	s.update(func(sn *Snapshot) {
		sn.Phase = PhaseAborted
		sn.Abort = reason
		sn.AbortDetail = err.Error()
		sn.EndedAt = now
		started = sn.StartedAt
	})
	metrics.RecordSessionAborted(string(reason), now.Sub(started).Seconds())
	if reason == AbortInvariant {
		log.Error(parent, "session aborted", logger.String("reason", string(reason)), logger.Error(err))
	} else {
		log.Warn(parent, "session aborted", logger.String("reason", string(reason)), logger.Error(err))
	}
	return err
}

func (o *Orchestrator) retire(ctx context.Context, s *session, log logger.Logger) {
	height := s.snap.Height
	o.mu.Lock()
	delete(o.active, height)
	o.sessions.Add(height, s)
	o.mu.Unlock()

	if o.archive == nil {
		return
	}
	if err := o.archive.Archive(context.WithoutCancel(ctx), s.snapshot()); err != nil {
		log.Error(ctx, "archive session failed", logger.Error(err))
	}
}

// waitUntil blocks until done holds, the window elapses or ctx ends.
func waitUntil(ctx context.Context, b *commitreveal.Book, done func() bool, window time.Duration) error {
	timer := time.NewTimer(window)
	defer timer.Stop()
	for {
		changed := b.Changed()
		if done() {
			return nil
		}
		select {
		case <-changed:
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func penalty(r commitreveal.Reason) trust.Kind {
	switch r {
	case commitreveal.ReasonNoCommitment, commitreveal.ReasonMissedReveal:
		return trust.MissedReveal
	default:
		return trust.ForfeitLoss
	}
}

func invariant(err error) error {
	return fmt.Errorf("%w: %w", ErrInvariant, err)
}

// HandleMessage applies a commit or reveal to the active round of its
// height.
func (o *Orchestrator) HandleMessage(ctx context.Context, m model.Message) error { //nolint:gocritic // hugeParam: value semantics like the queue
	kind := string(m.Kind)
	if err := o.handle(ctx, m); err != nil {
		metrics.RecordMessageRejected(kind, rejectReason(err))
		return err
	}
	metrics.RecordMessageAccepted(kind)
	return nil
}

// ReportEquivocation records equivocation of id at height detected outside
// the session, such as conflicting proposals seen by consensus. The ledger
// bans and slashes id; a running session of that height forfeits it.
func (o *Orchestrator) ReportEquivocation(ctx context.Context, id types.ParticipantID, height uint64) error {
	if err := o.ledger.ReportEquivocation(ctx, id, height); err != nil {
		return err
	}
	o.mu.RLock()
	s, ok := o.active[height]
	o.mu.RUnlock()
	if ok {
		s.exclude(id)
		o.log.Warn(ctx, "participant excluded from session",
			logger.Uint64("height", height),
			logger.Stringer("participant", id),
		)
	}
	return nil
}

func (o *Orchestrator) handle(ctx context.Context, m model.Message) error { //nolint:gocritic // hugeParam
	if err := m.Validate(); err != nil {
		return err
	}
	o.mu.RLock()
	s, ok := o.active[m.Height]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: height %d", ErrUnknownSession, m.Height)
	}
	book, phase, ok := s.activeBook(m.Round)
	if !ok {
		return fmt.Errorf("%w: round %d of height %d in phase %s", ErrStaleRound, m.Round, m.Height, phase)
	}

	if m.Kind == model.KindCommit {
		return book.Commit(m.Participant, m.Commitment, m.Signature)
	}
	_, err := book.Reveal(m.Participant, *m.Pattern, m.Nonce, m.Signature)
	return err
}

// Retryable reports whether a rejected message may be accepted if sent
// again later: it arrived before its session, round or phase opened.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnknownSession) ||
		errors.Is(err, ErrStaleRound) ||
		errors.Is(err, commitreveal.ErrOutOfPhase)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, commitreveal.ErrDuplicateCommitment), errors.Is(err, commitreveal.ErrDuplicateReveal):
		return "duplicate"
	case errors.Is(err, commitreveal.ErrCommitmentMismatch):
		return "mismatch"
	case errors.Is(err, commitreveal.ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, commitreveal.ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, commitreveal.ErrNoCommitment):
		return "no_commitment"
	case errors.Is(err, commitreveal.ErrPhaseClosed), errors.Is(err, commitreveal.ErrOutOfPhase), errors.Is(err, ErrStaleRound):
		return "out_of_phase"
	case errors.Is(err, ErrUnknownSession):
		return "unknown_session"
	default:
		return "invalid"
	}
}

// State returns the public state of the session at height.
func (o *Orchestrator) State(ctx context.Context, height uint64) (*Snapshot, error) {
	o.mu.RLock()
	s, ok := o.active[height]
	if !ok {
		s, ok = o.sessions.Peek(height)
	}
	o.mu.RUnlock()
	if ok {
		return s.snapshot(), nil
	}
	if o.archive == nil {
		return nil, fmt.Errorf("%w: height %d", ErrUnknownSession, height)
	}
	snap, err := o.archive.Session(ctx, height)
	if err != nil {
		return nil, fmt.Errorf("%w: height %d: %w", ErrUnknownSession, height, err)
	}
	return snap, nil
}

// Replay recomputes the battle of a pairing with every generation. Traces
// are cached and shared; callers must not modify them. At most
// Config.ReplayLimit battles are recomputed at once; a miss beyond that
// fails with ErrReplayBusy.
func (o *Orchestrator) Replay(ctx context.Context, height uint64, pairing string) (*battle.Trace, error) {
	key := fmt.Sprintf("%d/%s", height, pairing)
	if tr, ok := o.replays.Get(key); ok {
		metrics.RecordReplayCache(true)
		return tr, nil
	}
	metrics.RecordReplayCache(false)

	snap, err := o.State(ctx, height)
	if err != nil {
		return nil, err
	}
	spec, ok := snap.Specs[pairing]
	if !ok {
		return nil, fmt.Errorf("%w: %s at height %d", ErrUnknownPairing, pairing, height)
	}
	if !o.replaySem.TryAcquire(1) {
		return nil, fmt.Errorf("%w: limit %d", ErrReplayBusy, o.cfg.ReplayLimit)
	}
	defer o.replaySem.Release(1)
	if tr, ok := o.replays.Get(key); ok {
		return tr, nil
	}
	tr, err := o.replayer.Replay(ctx, spec)
	if err != nil {
		return nil, err
	}
	o.replays.Add(key, tr)
	return tr, nil
}

// Active returns the heights with a running session, lowest first.
func (o *Orchestrator) Active() []uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]uint64, 0, len(o.active))
	for h := range o.active {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

type sequentialRunner struct {
	sim *battle.Simulator
}

func (r sequentialRunner) Run(ctx context.Context, jobs []battle.Job) ([]battle.Outcome, error) {
	out := make([]battle.Outcome, len(jobs))
	for i, j := range jobs {
		start := time.Now()
		res, err := r.sim.Battle(ctx, j.Spec)
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		out[i] = battle.Outcome{Pairing: j.Pairing, Result: res, Err: err, Elapsed: time.Since(start)}
	}
	return out, nil
}
