package tournament

import (
	"fmt"
	"time"

	"github.com/okian/arena/internal/domain/ca"
)

// Config holds the protocol constants of a session.
type Config struct {
	GridSize        ca.Size
	Steps           int
	CommitWindow    time.Duration
	RevealWindow    time.Duration
	SessionTimeout  time.Duration
	AttestTimeout   time.Duration
	Retention       int
	ReplayCacheSize int
	// ReplayLimit bounds the battles recomputed at once for Replay.
	ReplayLimit int
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		GridSize:        ca.SizeStandard,
		Steps:           1000,
		CommitWindow:    2 * time.Second,
		RevealWindow:    2 * time.Second,
		SessionTimeout:  2 * time.Minute,
		AttestTimeout:   10 * time.Second,
		Retention:       64,
		ReplayCacheSize: 32,
		ReplayLimit:     2,
	}
}

// Validate checks the ranges.
func (c Config) Validate() error {
	switch {
	case !c.GridSize.Valid():
		return fmt.Errorf("%w: grid size %d", ErrInvalidConfig, c.GridSize)
	case c.Steps < 0:
		return fmt.Errorf("%w: steps %d", ErrInvalidConfig, c.Steps)
	case c.CommitWindow <= 0 || c.RevealWindow <= 0:
		return fmt.Errorf("%w: phase windows must be positive", ErrInvalidConfig)
	case c.SessionTimeout <= 0 || c.AttestTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	case c.Retention < 1 || c.ReplayCacheSize < 1:
		return fmt.Errorf("%w: cache sizes must be positive", ErrInvalidConfig)
	case c.ReplayLimit < 1:
		return fmt.Errorf("%w: replay limit %d", ErrInvalidConfig, c.ReplayLimit)
	}
	return nil
}
