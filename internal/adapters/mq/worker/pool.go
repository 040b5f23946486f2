package worker

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/okian/arena/internal/domain/battle"
	"github.com/okian/arena/pkg/logger"
	"github.com/okian/arena/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Battler simulates one battle.
type Battler interface {
	Battle(ctx context.Context, spec battle.Spec) (battle.Result, error)
}

// Pool runs the battles of a round in parallel and joins them.
type Pool struct {
	battler Battler
	workers int
	active  atomic.Int64
	logger  logger.Logger
}

// NewPool creates a battle pool. It defaults to one worker per CPU.
func NewPool(b Battler, opts ...PoolOption) *Pool {
	p := &Pool{
		battler: b,
		workers: runtime.NumCPU(),
		logger:  logger.Get().Named("battle-pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	metrics.UpdateWorkerCount(p.workers)
	metrics.UpdateWorkerActiveCount(0)
	return p
}

// Workers returns the concurrency bound.
func (p *Pool) Workers() int { return p.workers }

// Run simulates every job and returns outcomes in job order, independent of
// completion order. A per-job error never cancels the other jobs. If ctx
// ends first, partial results are discarded and the context error is
// returned.
func (p *Pool) Run(ctx context.Context, jobs []battle.Job) ([]battle.Outcome, error) {
	out := make([]battle.Outcome, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			metrics.UpdateWorkerActiveCount(int(p.active.Add(1)))
			defer func() { metrics.UpdateWorkerActiveCount(int(p.active.Add(-1))) }()

			start := time.Now()
			res, err := p.battler.Battle(gctx, job.Spec)
			elapsed := time.Since(start)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			if err != nil {
				metrics.RecordBattleError()
				p.logger.Warn(gctx, "battle failed",
					logger.String("pairing", job.Pairing),
					logger.Error(err),
				)
			} else {
				metrics.RecordBattle(float64(elapsed.Milliseconds()))
			}
			out[i] = battle.Outcome{Pairing: job.Pairing, Result: res, Err: err, Elapsed: elapsed}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
