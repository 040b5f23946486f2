package battle

import (
	"context"

	"github.com/okian/arena/internal/domain/ca"
)

// Frame is the sparse grid at one generation.
type Frame struct {
	Generation int           `json:"generation"`
	Cells      []ca.LiveCell `json:"cells"`
}

// Trace is the full recorded evolution of a battle.
type Trace struct {
	Spec   Spec    `json:"spec"`
	Frames []Frame `json:"frames"`
	Result Result  `json:"result"`
}

// Replay re-runs spec and records every generation, starting with the
// placement at generation 0.
func (s *Simulator) Replay(ctx context.Context, spec Spec) (*Trace, error) {
	g, err := Place(spec)
	if err != nil {
		return nil, err
	}
	tr := &Trace{Spec: spec, Frames: make([]Frame, 0, spec.Steps+1)}
	tr.Frames = append(tr.Frames, Frame{Cells: g.LiveCells()})
	err = s.engine.EvolveContext(ctx, g, spec.Steps, func(gen int, cur *ca.Grid) {
		tr.Frames = append(tr.Frames, Frame{Generation: gen, Cells: cur.LiveCells()})
	})
	if err != nil {
		return nil, err
	}
	res, err := s.score(ctx, spec, g)
	if err != nil {
		return nil, err
	}
	tr.Result = res
	return tr, nil
}

// Replay records spec on the default simulator.
func Replay(ctx context.Context, spec Spec) (*Trace, error) {
	return defaultSimulator.Replay(ctx, spec)
}
