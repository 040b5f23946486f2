package tournament

import (
	"github.com/okian/arena/internal/domain/commitreveal"
	"github.com/okian/arena/pkg/logger"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig replaces the protocol constants.
func WithConfig(c Config) Option {
	return func(o *Orchestrator) { o.cfg = c }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithRunner sets the battle runner, normally the worker pool.
func WithRunner(r BattleRunner) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.runner = r
		}
	}
}

// WithReplayer sets the simulator used for replays.
func WithReplayer(r Replayer) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.replayer = r
		}
	}
}

// WithArchive persists finished sessions and serves older heights.
func WithArchive(a Archive) Option {
	return func(o *Orchestrator) { o.archive = a }
}

// WithSignerSet sets the verifier for message signatures.
func WithSignerSet(s commitreveal.SignerSet) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.signers = s
		}
	}
}
