// Package service assembles a node: trust ledger, bond module, message
// transport, tournament orchestrator, archive and the local block loop.
package service

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/arena/internal/adapters/bond"
	"github.com/okian/arena/internal/adapters/mq/queue"
	"github.com/okian/arena/internal/adapters/mq/transport"
	"github.com/okian/arena/internal/adapters/mq/worker"
	"github.com/okian/arena/internal/adapters/prover"
	"github.com/okian/arena/internal/adapters/repository"
	"github.com/okian/arena/internal/config"
	"github.com/okian/arena/internal/domain/battle"
	"github.com/okian/arena/internal/domain/ca"
	"github.com/okian/arena/internal/domain/dedupe"
	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/internal/domain/seed"
	"github.com/okian/arena/internal/domain/tournament"
	"github.com/okian/arena/internal/domain/trust"
	"github.com/okian/arena/internal/domain/types"
	"github.com/okian/arena/pkg/logger"
	"golang.org/x/crypto/blake2b"
)

const shutdownTimeout = 5 * time.Second

// ErrNotStarted is returned by operations that need a running node.
var ErrNotStarted = errors.New("service not started")

// VRF produces the verified VRF output of a block. Outputs are assumed to
// be verified by the consensus layer.
type VRF func(height uint64) []byte

// Service implements the API dependencies for a node.
type Service struct {
	mu sync.RWMutex

	cfg    *config.Config
	vrf    VRF
	store  repository.Store
	logger logger.Logger

	bonds      *bond.Memory
	ledger     *trust.Ledger
	window     *seed.Window
	bus        *transport.Bus
	dispatcher *worker.InMemoryWorker
	pool       *worker.Pool
	prover     *prover.Digest
	orch       *tournament.Orchestrator

	height    atomic.Uint64
	finalized atomic.Uint64
	aborted   atomic.Uint64

	started bool
	stopCh  chan struct{}
	loopWG  sync.WaitGroup
	blockMu sync.Mutex
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the node configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore sets the archive. When unset and data_dir is configured, a
// bbolt store is opened at Start.
func WithStore(st repository.Store) Option {
	return func(s *Service) { s.store = st }
}

// WithVRF replaces the local VRF stand-in.
func WithVRF(v VRF) Option {
	return func(s *Service) {
		if v != nil {
			s.vrf = v
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		cfg:    config.New(),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.vrf == nil {
		s.vrf = localVRF([]byte(s.cfg.NodeKey))
	}
	return s
}

// localVRF derives a keyed, deterministic output per height.
func localVRF(key []byte) VRF {
	return func(height uint64) []byte {
		h, _ := blake2b.New256(key)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], height)
		_, _ = h.Write(b[:])
		return h.Sum(nil)
	}
}

// Start builds the node components and starts the dispatcher and, when
// block_interval_ms is positive, the block loop.
func (s *Service) Start(ctx context.Context) (err error) { //nolint:funlen // one place wiring the node
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	s.logger.Info(ctx, "starting arena node...")

	if s.store == nil && s.cfg.DataDir != "" {
		st, openErr := repository.Open(s.cfg.DataDir)
		if openErr != nil {
			return fmt.Errorf("open archive: %w", openErr)
		}
		s.store = st
		defer func() {
			if err != nil {
				_ = st.Close()
				s.store = nil
			}
		}()
	}

	s.bonds = bond.NewMemory(bond.WithLockHook(s.onFirstLock))
	s.ledger, err = trust.NewLedger(
		trust.WithParams(s.cfg.TrustParams()),
		trust.WithBonds(s.bonds),
		trust.WithLogger(s.logger.Named("trust")),
	)
	if err != nil {
		return err
	}
	if err := s.restore(ctx); err != nil {
		return err
	}
	if err := s.seedGenesis(ctx); err != nil {
		return err
	}

	s.window = seed.NewWindow(s.cfg.SeedWindow)
	s.bus = transport.NewBus(
		transport.WithQueue(queue.NewInMemoryQueue(queue.WithCapacity(s.cfg.QueueSize))),
		transport.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.cfg.DedupeSize))),
		transport.WithLogger(s.logger.Named("transport")),
	)

	sim := battle.NewSimulator(battle.WithEngine(ca.NewEngine(ca.WithParallelism(s.cfg.CAParallelism))))
	s.pool = worker.NewPool(sim,
		worker.WithWorkers(s.cfg.WorkerCount),
		worker.WithPoolLogger(s.logger.Named("battle-pool")),
	)
	s.prover, err = prover.New([]byte(s.cfg.NodeKey), prover.WithCacheSize(s.cfg.AttestCacheSize))
	if err != nil {
		return err
	}

	orchOpts := []tournament.Option{
		tournament.WithConfig(s.cfg.Tournament()),
		tournament.WithLogger(s.logger.Named("tournament")),
		tournament.WithRunner(s.pool),
		tournament.WithReplayer(sim),
	}
	if s.store != nil {
		orchOpts = append(orchOpts, tournament.WithArchive(s.store))
	}
	s.orch, err = tournament.NewOrchestrator(s.ledger, s.window, s.prover, orchOpts...)
	if err != nil {
		return err
	}

	s.dispatcher = worker.NewInMemoryWorker(s.bus, s.orch,
		worker.WithLogger(s.logger),
		worker.WithRejectHook(s.onReject),
	)
	runCtx := context.WithoutCancel(ctx)
	go s.dispatcher.Run(runCtx)

	if interval := s.cfg.BlockInterval(); interval > 0 {
		s.loopWG.Add(1)
		go s.blockLoop(runCtx, interval)
	}

	s.started = true
	s.logger.Info(ctx, "arena node started",
		logger.Uint64("height", s.height.Load()),
		logger.Int("workers", s.cfg.WorkerCount),
		logger.Int("queueSize", s.cfg.QueueSize),
		logger.Int("registered", len(s.ledger.Views())),
	)
	return nil
}

func (s *Service) onFirstLock(id types.ParticipantID, _ uint64) {
	err := s.ledger.Register(id, s.height.Load(), 0)
	if err != nil && !errors.Is(err, trust.ErrAlreadyRegistered) {
		s.logger.Warn(context.Background(), "register bonded participant", logger.Error(err))
	}
}

// restore loads the ledger snapshot and resumes after the latest archived
// height.
func (s *Service) restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	snap, err := s.store.LoadTrust(ctx)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load trust snapshot: %w", err)
	default:
		if err := s.ledger.Restore(snap); err != nil {
			return fmt.Errorf("restore trust snapshot: %w", err)
		}
		s.logger.Info(ctx, "trust ledger restored",
			logger.Int("records", len(snap.Records)),
			logger.Uint64("epoch", snap.Epoch),
		)
	}

	latest, err := s.store.Latest(ctx)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return fmt.Errorf("read latest height: %w", err)
	default:
		s.height.Store(latest)
	}
	return nil
}

// onReject clears the duplicate filter for messages that arrived before
// their phase, so the sender's retry is delivered.
func (s *Service) onReject(ctx context.Context, m model.Message, err error) { //nolint:gocritic // hugeParam: value semantics like the queue
	if tournament.Retryable(err) {
		s.bus.Forget(ctx, m)
	}
}

// seedGenesis registers and bonds the configured genesis participants.
// Participants already present in a restored ledger keep their record.
func (s *Service) seedGenesis(ctx context.Context) error {
	for _, g := range s.cfg.Genesis {
		id, err := types.ParseParticipantID(g.ID)
		if err != nil {
			return fmt.Errorf("%w: genesis: %w", config.ErrInvalidConfig, err)
		}
		if err := s.ledger.Register(id, 0, g.Positive); err != nil && !errors.Is(err, trust.ErrAlreadyRegistered) {
			return err
		}
		if g.Bond > 0 {
			if err := s.bonds.Lock(id, g.Bond); err != nil {
				return err
			}
		}
	}
	if n := len(s.cfg.Genesis); n > 0 {
		s.logger.Info(ctx, "genesis participants loaded", logger.Int("count", n))
	}
	return nil
}

func (s *Service) blockLoop(ctx context.Context, interval time.Duration) {
	defer s.loopWG.Done()
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
		}
		if _, err := s.ProduceBlock(ctx); err != nil && !errors.Is(err, ErrNotStarted) {
			s.logger.Warn(ctx, "block produced without proposer", logger.Error(err))
		}
		timer.Reset(interval)
	}
}

// ProduceBlock runs the tournament for the next height, credits the
// proposer and pushes the block's VRF output into the seed window.
func (s *Service) ProduceBlock(ctx context.Context) (*tournament.Snapshot, error) {
	s.blockMu.Lock()
	defer s.blockMu.Unlock()
	if !s.isStarted() {
		return nil, ErrNotStarted
	}

	height := s.height.Load() + 1
	s.height.Store(height)
	s.ledger.OnBlock(height)

	snap, runErr := s.orch.Run(ctx, height)
	if snap != nil && snap.Phase == tournament.PhaseFinalized && snap.Proposer != nil {
		s.finalized.Add(1)
		if err := s.ledger.Apply(trust.Evidence{Participant: *snap.Proposer, Kind: trust.ValidBlock, Height: height}); err != nil {
			s.logger.Warn(ctx, "credit proposer", logger.Error(err))
		}
	} else if snap != nil {
		s.aborted.Add(1)
	}

	if err := s.window.Push(height, s.vrf(height)); err != nil {
		return snap, err
	}
	s.saveTrust(ctx)
	return snap, runErr
}

func (s *Service) saveTrust(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveTrust(context.WithoutCancel(ctx), s.ledger.Snapshot()); err != nil {
		s.logger.Error(ctx, "save trust snapshot", logger.Error(err))
	}
}

func (s *Service) isStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Stop gracefully shuts down the service.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	s.logger.Info(ctx, "stopping arena node...")
	s.loopWG.Wait()
	// A block started before Stop finishes first.
	s.blockMu.Lock()
	defer s.blockMu.Unlock()

	_ = s.bus.Close()
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.dispatcher.Shutdown(sctx); err != nil {
		s.logger.Warn(ctx, "dispatcher shutdown", logger.Error(err))
	}

	s.saveTrust(ctx)
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(ctx, "close archive", logger.Error(err))
		}
	}
	s.logger.Info(ctx, "arena node stopped", logger.Uint64("height", s.height.Load()))
}

// Height returns the last produced height.
func (s *Service) Height() uint64 { return s.height.Load() }

// Bonds returns the bond module.
func (s *Service) Bonds() bond.Module { return s.bonds }

// State implements api.TournamentDependencies.
func (s *Service) State(ctx context.Context, height uint64) (*tournament.Snapshot, error) {
	if !s.isStarted() {
		return nil, ErrNotStarted
	}
	return s.orch.State(ctx, height)
}

// Replay implements api.TournamentDependencies.
func (s *Service) Replay(ctx context.Context, height uint64, pairing string) (*battle.Trace, error) {
	if !s.isStarted() {
		return nil, ErrNotStarted
	}
	return s.orch.Replay(ctx, height, pairing)
}

// Trust implements api.TrustDependencies.
func (s *Service) Trust(id types.ParticipantID) (types.TrustView, error) {
	if !s.isStarted() {
		return types.TrustView{}, ErrNotStarted
	}
	return s.ledger.Trust(id)
}

// EligibleSet implements api.TrustDependencies.
func (s *Service) EligibleSet() []types.ParticipantID {
	if !s.isStarted() {
		return nil
	}
	return s.ledger.EligibleSet()
}

// ReportEquivocation bans and slashes id for conflicting proposals at
// height detected by the consensus layer.
func (s *Service) ReportEquivocation(ctx context.Context, id types.ParticipantID, height uint64) error {
	if !s.isStarted() {
		return ErrNotStarted
	}
	return s.orch.ReportEquivocation(ctx, id, height)
}

// Broadcast implements api.MessageDependencies.
func (s *Service) Broadcast(ctx context.Context, m model.Message) error { //nolint:gocritic // hugeParam: value semantics like the queue
	if !s.isStarted() {
		return transport.ErrClosed
	}
	return s.bus.Broadcast(ctx, m)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"height":      s.height.Load(),
		"finalized":   s.finalized.Load(),
		"aborted":     s.aborted.Load(),
		"workerCount": s.cfg.WorkerCount,
		"queueSize":   s.cfg.QueueSize,
	}
	if s.started {
		stats["queueLength"] = s.bus.Pending(context.Background())
		stats["registered"] = len(s.ledger.Views())
		stats["eligible"] = len(s.ledger.EligibleSet())
		stats["activeSessions"] = s.orch.Active()
		stats["attestationsCached"] = s.prover.Cached()
		stats["trustEpoch"] = s.ledger.Epoch()
		stats["slashed"] = s.bonds.Slashed()
	}
	return stats
}
