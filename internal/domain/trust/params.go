package trust

import (
	"fmt"
	"math"
)

// Scale is the fixed-point scale of evidence counters: one unit of evidence
// is stored as Scale.
const Scale uint64 = 1_000_000

// Params are the protocol constants of the ledger. They are read-only once
// a ledger is built.
type Params struct {
	K             float64
	Alpha         float64
	TMin          float64
	BMin          uint64
	PositiveStep  float64
	NegativeStep  float64
	DecayPositive float64
	DecayNegative float64
	EpochLength   uint64
}

// DefaultParams returns the protocol defaults.
func DefaultParams() Params {
	return Params{
		K:             2,
		Alpha:         0.4,
		TMin:          0.75,
		BMin:          1,
		PositiveStep:  1,
		NegativeStep:  3,
		DecayPositive: 0.99,
		DecayNegative: 0.999,
		EpochLength:   100,
	}
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	switch {
	case !(p.K > 0) || math.IsInf(p.K, 0):
		return fmt.Errorf("%w: k=%v", ErrInvalidParams, p.K)
	case p.Alpha < 0 || p.Alpha > 1:
		return fmt.Errorf("%w: alpha=%v", ErrInvalidParams, p.Alpha)
	case p.TMin < 0 || p.TMin > 1:
		return fmt.Errorf("%w: t_min=%v", ErrInvalidParams, p.TMin)
	case !(p.PositiveStep > 0) || !(p.NegativeStep > 0):
		return fmt.Errorf("%w: steps must be positive", ErrInvalidParams)
	case p.NegativeStep <= p.PositiveStep:
		return fmt.Errorf("%w: negative step %v must exceed positive step %v", ErrInvalidParams, p.NegativeStep, p.PositiveStep)
	case !(p.DecayPositive > 0) || p.DecayPositive > 1 || !(p.DecayNegative > 0) || p.DecayNegative > 1:
		return fmt.Errorf("%w: decay factors must be in (0, 1]", ErrInvalidParams)
	}
	return nil
}

// fixed converts a real amount of evidence into fixed point, saturating.
func fixed(v float64) uint64 {
	if !(v > 0) {
		return 0
	}
	f := math.Round(v * float64(Scale))
	if f >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(f)
}

// ratio expresses a decay factor as num/Scale.
func ratio(f float64) uint64 {
	return min(fixed(f), Scale)
}
