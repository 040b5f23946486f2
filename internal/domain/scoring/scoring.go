// Package scoring turns a final battle grid into per-region energy sums.
//
// Region rule (protocol constant): a cell belongs to the spawn point with the
// smaller squared toroidal Euclidean distance. Cells equidistant from both
// spawn points belong to neither region.
package scoring

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/arena/internal/domain/ca"
	"github.com/okian/arena/internal/domain/types"
)

// Sentinel kinds for scoring errors.
var (
	ErrInvalidInput = errors.New("invalid scoring input")
)

// Side identifies the region a cell belongs to.
type Side int

// Region sides.
const (
	Neutral Side = iota
	SideA
	SideB
)

func (s Side) String() string {
	switch s {
	case SideA:
		return "a"
	case SideB:
		return "b"
	default:
		return "neutral"
	}
}

// Input abstracts the battle fields needed for scoring.
type Input struct {
	Size   int
	SpawnA types.Point
	SpawnB types.Point
	Cells  []ca.LiveCell
}

// Result contains the summed energy of live cells per region.
type Result struct {
	EnergyA uint64 `json:"energy_a"`
	EnergyB uint64 `json:"energy_b"`
	Neutral uint64 `json:"energy_neutral"`
	CellsA  int    `json:"cells_a"`
	CellsB  int    `json:"cells_b"`
}

// Scorer computes region energy from a final grid.
type Scorer interface {
	// Score computes region sums, honoring ctx for cancellation.
	Score(ctx context.Context, in Input) (Result, error)
}

// RegionScorer implements Scorer with the nearest-spawn rule.
type RegionScorer struct{}

// NewRegionScorer creates a region scorer.
func NewRegionScorer() *RegionScorer { return &RegionScorer{} }

// Score computes the region sums for the given input.
func (s *RegionScorer) Score(ctx context.Context, in Input) (Result, error) {
	if in.Size <= 0 {
		return Result{}, fmt.Errorf("%w: size %d", ErrInvalidInput, in.Size)
	}
	if in.SpawnA == in.SpawnB {
		return Result{}, fmt.Errorf("%w: spawn points coincide", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var res Result
	for _, c := range in.Cells {
		e := uint64(c.Energy)
		switch Region(in.Size, in.SpawnA, in.SpawnB, c.X, c.Y) {
		case SideA:
			res.EnergyA += e
			res.CellsA++
		case SideB:
			res.EnergyB += e
			res.CellsB++
		default:
			res.Neutral += e
		}
	}
	return res, nil
}

// Region returns the side owning cell (x, y).
func Region(size int, a, b types.Point, x, y int) Side {
	da := Distance2(size, a, x, y)
	db := Distance2(size, b, x, y)
	switch {
	case da < db:
		return SideA
	case db < da:
		return SideB
	default:
		return Neutral
	}
}

// Distance2 returns the squared toroidal distance between p and (x, y).
func Distance2(size int, p types.Point, x, y int) int {
	dx := axis(size, p.X, x)
	dy := axis(size, p.Y, y)
	return dx*dx + dy*dy
}

func axis(size, a, b int) int {
	d := (a - b) % size
	if d < 0 {
		d = -d
	}
	if size-d < d {
		return size - d
	}
	return d
}
