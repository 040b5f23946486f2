package simulate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/arena/internal/domain/tournament"
	"github.com/okian/arena/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// ErrNoParticipants is returned when the node has nobody to play as.
var ErrNoParticipants = errors.New("no eligible participants")

const (
	defaultTimeout = 5 * time.Second
	defaultWait    = 2 * time.Minute
)

// PlayHeight runs every agent against height and returns the final session
// state. Agents stop when the session is terminal or ctx ends.
func PlayHeight(ctx context.Context, node Node, agents []*Agent, height uint64) (*tournament.Snapshot, error) {
	snaps := make([]*tournament.Snapshot, len(agents))
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range agents {
		g.Go(func() error {
			snap, err := a.Play(gctx, node, height)
			snaps[i] = snap
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, s := range snaps {
		if s != nil {
			return s, nil
		}
	}
	return nil, fmt.Errorf("height %d: no session observed", height)
}

// Run plays cfg.Heights consecutive sessions on the node at cfg.BaseURL as
// every participant it reports eligible.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	wait := cfg.Wait
	if wait <= 0 {
		wait = defaultWait
	}
	log := logger.Get().Named("simulate")
	node := NewHTTPNode(cfg.BaseURL, timeout)
	stats := newStats()

	if err := node.Health(ctx); err != nil {
		return nil, fmt.Errorf("node health check failed: %w", err)
	}
	ids, err := node.Eligible(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNoParticipants
	}
	agents, err := Agents(ids, cfg.Behaviours)
	if err != nil {
		return nil, err
	}
	if cfg.Poll > 0 {
		for _, a := range agents {
			a.poll = cfg.Poll
		}
	}
	stats.Participants = len(agents)

	start, err := node.Height(ctx)
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "starting simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("participants", len(agents)),
		logger.Int("heights", cfg.Heights),
		logger.Uint64("from", start+1),
	)

	for i := 1; i <= cfg.Heights; i++ {
		height := start + uint64(i) //nolint:gosec // i is positive
		hctx, cancel := context.WithTimeout(ctx, wait)
		snap, err := PlayHeight(hctx, node, agents, height)
		cancel()
		if err != nil {
			return stats, fmt.Errorf("height %d: %w", height, err)
		}
		stats.record(snap)
		log.Info(ctx, "session observed",
			logger.Uint64("height", height),
			logger.String("phase", string(snap.Phase)),
			logger.String("abort", string(snap.Abort)),
			logger.Int("battles", len(snap.Results)),
			logger.Int("forfeits", len(snap.Forfeits)),
		)
	}

	for _, a := range agents {
		stats.Commits += int(a.commits.Load())
		stats.Reveals += int(a.reveals.Load())
		stats.Rejected += int(a.rejected.Load())
	}
	stats.Duration = time.Since(stats.StartTime)
	return stats, nil
}

func (s *Stats) record(snap *tournament.Snapshot) {
	s.Sessions++
	switch {
	case snap.Phase == tournament.PhaseFinalized && snap.Proposer != nil:
		s.Finalized++
		s.Wins[snap.Proposer.Short()]++
	default:
		s.Aborted++
		s.AbortReasons[string(snap.Abort)]++
	}
}

// Report logs a summary of stats.
func Report(ctx context.Context, stats *Stats) {
	log := logger.Get().Named("simulate")
	log.Info(ctx, "simulation completed",
		logger.Int("participants", stats.Participants),
		logger.Int("sessions", stats.Sessions),
		logger.Int("finalized", stats.Finalized),
		logger.Int("aborted", stats.Aborted),
		logger.Int("commits", stats.Commits),
		logger.Int("reveals", stats.Reveals),
		logger.Int("rejected", stats.Rejected),
		logger.Duration("duration", stats.Duration),
	)
	for id, n := range stats.Wins {
		log.Info(ctx, "proposer", logger.String("participant", id), logger.Int("wins", n))
	}
	for reason, n := range stats.AbortReasons {
		log.Info(ctx, "abort", logger.String("reason", reason), logger.Int("count", n))
	}
}
