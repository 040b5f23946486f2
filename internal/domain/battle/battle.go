// Package battle places two patterns on a fresh grid, evolves it and scores
// the outcome by region energy.
package battle

import (
	"context"
	"fmt"

	"github.com/okian/arena/internal/domain/ca"
	"github.com/okian/arena/internal/domain/glider"
	"github.com/okian/arena/internal/domain/scoring"
	"github.com/okian/arena/internal/domain/types"
)

// Contender is one side of a battle.
type Contender struct {
	ID      types.ParticipantID `json:"id"`
	Pattern glider.Pattern      `json:"pattern"`
}

// Spec fully determines a battle.
type Spec struct {
	A      Contender   `json:"a"`
	B      Contender   `json:"b"`
	SpawnA types.Point `json:"spawn_a"`
	SpawnB types.Point `json:"spawn_b"`
	Steps  int         `json:"steps"`
	Size   ca.Size     `json:"size"`
}

// Result is the immutable outcome of one battle.
type Result struct {
	A           types.ParticipantID `json:"a"`
	B           types.ParticipantID `json:"b"`
	EnergyA     uint64              `json:"energy_a"`
	EnergyB     uint64              `json:"energy_b"`
	Neutral     uint64              `json:"energy_neutral"`
	Winner      types.ParticipantID `json:"winner"`
	Draw        bool                `json:"draw"`
	Steps       int                 `json:"steps"`
	FinalDigest types.Digest        `json:"final_digest"`
}

// Loser returns the participant that did not win.
func (r Result) Loser() types.ParticipantID {
	if r.Winner == r.A {
		return r.B
	}
	return r.A
}

// SpawnPoints returns the protocol spawn points for a grid size.
func SpawnPoints(size ca.Size) (a, b types.Point) {
	n := int(size)
	return types.Point{X: n / 4, Y: n / 2}, types.Point{X: 3 * n / 4, Y: n / 2}
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithEngine sets the CA engine used for evolution.
func WithEngine(e *ca.Engine) Option {
	return func(s *Simulator) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithScorer sets the region scorer.
func WithScorer(sc scoring.Scorer) Option {
	return func(s *Simulator) {
		if sc != nil {
			s.scorer = sc
		}
	}
}

// Simulator runs battles. It keeps no per-battle state, so one value may
// serve any number of concurrent calls.
type Simulator struct {
	engine *ca.Engine
	scorer scoring.Scorer
}

// NewSimulator creates a simulator with options.
func NewSimulator(opts ...Option) *Simulator {
	s := &Simulator{
		engine: ca.NewEngine(),
		scorer: scoring.NewRegionScorer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var defaultSimulator = NewSimulator() //nolint:gochecknoglobals // stateless

// Battle runs spec on the default simulator.
func Battle(ctx context.Context, spec Spec) (Result, error) {
	return defaultSimulator.Battle(ctx, spec)
}

// Battle stamps both patterns, evolves exactly spec.Steps generations and
// scores the final grid.
func (s *Simulator) Battle(ctx context.Context, spec Spec) (Result, error) {
	g, err := Place(spec)
	if err != nil {
		return Result{}, err
	}
	if err := s.engine.EvolveContext(ctx, g, spec.Steps, nil); err != nil {
		return Result{}, err
	}
	return s.score(ctx, spec, g)
}

func (s *Simulator) score(ctx context.Context, spec Spec, g *ca.Grid) (Result, error) {
	sc, err := s.scorer.Score(ctx, scoring.Input{
		Size:   g.Size(),
		SpawnA: spec.SpawnA,
		SpawnB: spec.SpawnB,
		Cells:  g.LiveCells(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("score battle: %w", err)
	}
	res := Result{
		A:           spec.A.ID,
		B:           spec.B.ID,
		EnergyA:     sc.EnergyA,
		EnergyB:     sc.EnergyB,
		Neutral:     sc.Neutral,
		Steps:       spec.Steps,
		FinalDigest: types.Digest(g.Digest()),
	}
	switch {
	case sc.EnergyA > sc.EnergyB:
		res.Winner = spec.A.ID
	case sc.EnergyB > sc.EnergyA:
		res.Winner = spec.B.ID
	default:
		res.Draw = true
		res.Winner = spec.A.ID
		if spec.B.ID.Less(spec.A.ID) {
			res.Winner = spec.B.ID
		}
	}
	return res, nil
}

// Place validates spec and returns the generation-zero grid.
func Place(spec Spec) (*ca.Grid, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	g, err := ca.NewGrid(spec.Size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	stamp(g, spec.A.Pattern, spec.SpawnA)
	for _, c := range spec.B.Pattern.Cells {
		x, y := spec.SpawnB.X+c.X, spec.SpawnB.Y+c.Y
		if g.At(x, y).Alive {
			return nil, fmt.Errorf("%w: cell (%d,%d)", ErrPlacementOverlap, g.Wrap(x), g.Wrap(y))
		}
	}
	stamp(g, spec.B.Pattern, spec.SpawnB)
	return g, nil
}

func stamp(g *ca.Grid, p glider.Pattern, at types.Point) {
	for _, c := range p.Cells {
		g.Set(at.X+c.X, at.Y+c.Y, ca.Cell{Alive: true, Energy: p.Energy})
	}
}

func (s Spec) validate() error {
	if s.Steps < 0 {
		return fmt.Errorf("%w: negative steps %d", ErrInvalidSpec, s.Steps)
	}
	if s.A.ID == s.B.ID {
		return fmt.Errorf("%w: contender fights itself", ErrInvalidSpec)
	}
	if s.SpawnA == s.SpawnB {
		return fmt.Errorf("%w: spawn points coincide", ErrInvalidSpec)
	}
	if err := s.A.Pattern.Validate(); err != nil {
		return fmt.Errorf("%w: side a: %w", ErrInvalidSpec, err)
	}
	if err := s.B.Pattern.Validate(); err != nil {
		return fmt.Errorf("%w: side b: %w", ErrInvalidSpec, err)
	}
	return nil
}
