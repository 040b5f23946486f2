// Package config defines node configuration and its loading layers.
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/okian/arena/internal/domain/ca"
	"github.com/okian/arena/internal/domain/seed"
	"github.com/okian/arena/internal/domain/tournament"
	"github.com/okian/arena/internal/domain/trust"
)

// Genesis is a participant registered and bonded when the node starts
// without a stored ledger.
type Genesis struct {
	// ID is the hex participant identifier.
	ID string `koanf:"id"`

	// Bond is the amount locked for the participant.
	Bond uint64 `koanf:"bond"`

	// Positive is the initial positive evidence.
	Positive float64 `koanf:"positive"`
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DataDir holds the archive database. Empty disables persistence.
	DataDir string `koanf:"data_dir"`

	// GridSize is the battle grid side length.
	GridSize int `koanf:"grid_size"`

	// BattleSteps is the number of generations per battle.
	BattleSteps int `koanf:"battle_steps"`

	// WorkerCount bounds concurrent battles in a round.
	WorkerCount int `koanf:"worker_count"`

	// CAParallelism splits a single grid step across goroutines.
	CAParallelism int `koanf:"ca_parallelism"`

	// SeedWindow is the number of VRF outputs folded into a seed.
	SeedWindow int `koanf:"seed_window"`

	TrustK        float64 `koanf:"trust_k"`
	TrustAlpha    float64 `koanf:"trust_alpha"`
	TrustMin      float64 `koanf:"trust_min"`
	BondMin       uint64  `koanf:"bond_min"`
	PositiveStep  float64 `koanf:"positive_step"`
	NegativeStep  float64 `koanf:"negative_step"`
	DecayPositive float64 `koanf:"decay_positive"`
	DecayNegative float64 `koanf:"decay_negative"`
	EpochLength   uint64  `koanf:"epoch_length"`

	CommitWindowMS   int `koanf:"commit_window_ms"`
	RevealWindowMS   int `koanf:"reveal_window_ms"`
	SessionTimeoutMS int `koanf:"session_timeout_ms"`
	AttestTimeoutMS  int `koanf:"attest_timeout_ms"`

	// QueueSize bounds the inbound message queue.
	QueueSize int `koanf:"queue_size"`

	// DedupeSize sets the size of the message deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	ReplayCacheSize int `koanf:"replay_cache_size"`
	AttestCacheSize int `koanf:"attest_cache_size"`

	// ReplayLimit bounds concurrent replay recomputations.
	ReplayLimit int `koanf:"replay_limit"`

	// Retention is the number of finished sessions kept in memory.
	Retention int `koanf:"retention"`

	// BlockIntervalMS paces the local block loop. Zero disables it.
	BlockIntervalMS int `koanf:"block_interval_ms"`

	// NodeKey keys the transcript attestor.
	NodeKey string `koanf:"node_key"`

	Genesis []Genesis `koanf:"genesis"`
}

// New creates a Config with defaults.
func New() *Config {
	p := trust.DefaultParams()
	t := tournament.DefaultConfig()
	return &Config{
		LogLevel:         "info",
		Addr:             ":9080",
		DataDir:          "data",
		GridSize:         int(t.GridSize),
		BattleSteps:      t.Steps,
		WorkerCount:      runtime.NumCPU(),
		CAParallelism:    1,
		SeedWindow:       seed.DefaultWindow,
		TrustK:           p.K,
		TrustAlpha:       p.Alpha,
		TrustMin:         p.TMin,
		BondMin:          p.BMin,
		PositiveStep:     p.PositiveStep,
		NegativeStep:     p.NegativeStep,
		DecayPositive:    p.DecayPositive,
		DecayNegative:    p.DecayNegative,
		EpochLength:      p.EpochLength,
		CommitWindowMS:   int(t.CommitWindow.Milliseconds()),
		RevealWindowMS:   int(t.RevealWindow.Milliseconds()),
		SessionTimeoutMS: int(t.SessionTimeout.Milliseconds()),
		AttestTimeoutMS:  int(t.AttestTimeout.Milliseconds()),
		QueueSize:        4096,
		DedupeSize:       50_000,
		ReplayCacheSize:  t.ReplayCacheSize,
		ReplayLimit:      t.ReplayLimit,
		AttestCacheSize:  128,
		Retention:        t.Retention,
		BlockIntervalMS:  10_000,
		NodeKey:          "arena-node",
	}
}

// TrustParams returns the ledger parameters.
func (c *Config) TrustParams() trust.Params {
	return trust.Params{
		K:             c.TrustK,
		Alpha:         c.TrustAlpha,
		TMin:          c.TrustMin,
		BMin:          c.BondMin,
		PositiveStep:  c.PositiveStep,
		NegativeStep:  c.NegativeStep,
		DecayPositive: c.DecayPositive,
		DecayNegative: c.DecayNegative,
		EpochLength:   c.EpochLength,
	}
}

// Tournament returns the orchestrator configuration.
func (c *Config) Tournament() tournament.Config {
	return tournament.Config{
		GridSize:        ca.Size(c.GridSize),
		Steps:           c.BattleSteps,
		CommitWindow:    ms(c.CommitWindowMS),
		RevealWindow:    ms(c.RevealWindowMS),
		SessionTimeout:  ms(c.SessionTimeoutMS),
		AttestTimeout:   ms(c.AttestTimeoutMS),
		Retention:       c.Retention,
		ReplayCacheSize: c.ReplayCacheSize,
		ReplayLimit:     c.ReplayLimit,
	}
}

// BlockInterval returns the block loop period.
func (c *Config) BlockInterval() time.Duration { return ms(c.BlockIntervalMS) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.WorkerCount < 1:
		return fmt.Errorf("%w: worker_count=%d", ErrInvalidConfig, c.WorkerCount)
	case c.CAParallelism < 1:
		return fmt.Errorf("%w: ca_parallelism=%d", ErrInvalidConfig, c.CAParallelism)
	case c.SeedWindow < 1:
		return fmt.Errorf("%w: seed_window=%d", ErrInvalidConfig, c.SeedWindow)
	case c.QueueSize < 1:
		return fmt.Errorf("%w: queue_size=%d", ErrInvalidConfig, c.QueueSize)
	case c.AttestCacheSize < 1:
		return fmt.Errorf("%w: attest_cache_size=%d", ErrInvalidConfig, c.AttestCacheSize)
	case c.BlockIntervalMS < 0:
		return fmt.Errorf("%w: block_interval_ms=%d", ErrInvalidConfig, c.BlockIntervalMS)
	case c.NodeKey == "":
		return fmt.Errorf("%w: node_key must not be empty", ErrInvalidConfig)
	}
	if err := c.TrustParams().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Tournament().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for i, g := range c.Genesis {
		if g.ID == "" {
			return fmt.Errorf("%w: genesis[%d] has no id", ErrInvalidConfig, i)
		}
		if g.Positive < 0 {
			return fmt.Errorf("%w: genesis[%d] positive=%v", ErrInvalidConfig, i, g.Positive)
		}
	}
	return nil
}
