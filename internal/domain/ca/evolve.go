package ca

import (
	"context"
	"fmt"
	"sync"
)

// Default engine configuration constants.
const (
	defaultCheckEvery = 64
	// minRowsPerWorker keeps goroutine fan-out from dominating small grids.
	minRowsPerWorker = 64
)

// Observer is called after every generation with the generation number
// (starting at 1) and the current grid. It must not retain or mutate g.
type Observer func(generation int, g *Grid)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithParallelism sets how many goroutines share the rows of one generation.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithCheckEvery sets how many generations pass between cancellation checks.
func WithCheckEvery(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.checkEvery = n
		}
	}
}

// Engine evolves grids. It holds no per-grid state and is safe for
// concurrent use.
type Engine struct {
	parallelism int
	checkEvery  int
}

// NewEngine creates an engine with configuration options.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		parallelism: 1,
		checkEvery:  defaultCheckEvery,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEngine = NewEngine() //nolint:gochecknoglobals // stateless sequential engine

// Evolve returns the grid after steps generations, leaving g untouched.
func Evolve(g *Grid, steps int) *Grid { return defaultEngine.Evolve(g, steps) }

// EvolveInPlace advances g by steps generations.
func EvolveInPlace(g *Grid, steps int) { defaultEngine.EvolveInPlace(g, steps) }

// Evolve returns the grid after steps generations, leaving g untouched.
func (e *Engine) Evolve(g *Grid, steps int) *Grid {
	out := g.Clone()
	e.EvolveInPlace(out, steps)
	return out
}

// EvolveInPlace advances g by steps generations.
func (e *Engine) EvolveInPlace(g *Grid, steps int) {
	_ = e.EvolveContext(context.Background(), g, steps, nil)
}

// EvolveContext advances g by steps generations, calling observe after each
// one. It stops early with ctx.Err() when the context is done; g is then
// left at some intermediate generation and must be discarded.
func (e *Engine) EvolveContext(ctx context.Context, g *Grid, steps int, observe Observer) error {
	if steps <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("evolve not started: %w", err)
	}
	scratch := &Grid{
		size:   g.size,
		cells:  make([]Cell, len(g.cells)),
		rowPop: make([]int32, len(g.rowPop)),
	}
	for gen := 1; gen <= steps; gen++ {
		if gen%e.checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("evolve stopped at generation %d: %w", gen, err)
			}
		}
		e.step(g, scratch)
		g.cells, scratch.cells = scratch.cells, g.cells
		g.rowPop, scratch.rowPop = scratch.rowPop, g.rowPop
		if observe != nil {
			observe(gen, g)
		}
	}
	return nil
}

// Step computes one generation of src into dst. dst must have the same size
// and must not alias src.
func Step(src, dst *Grid) error {
	if src.size != dst.size {
		return fmt.Errorf("%w: %d vs %d", ErrSizeDiffers, src.size, dst.size)
	}
	defaultEngine.step(src, dst)
	return nil
}

func (e *Engine) step(src, dst *Grid) {
	workers := e.parallelism
	if limit := src.size / minRowsPerWorker; workers > limit {
		workers = limit
	}
	if workers <= 1 {
		stepRows(src, dst, 0, src.size)
		return
	}

	// Each worker owns a disjoint band of destination rows and reads only src.
	band := (src.size + workers - 1) / workers
	var wg sync.WaitGroup
	for y0 := 0; y0 < src.size; y0 += band {
		y1 := min(y0+band, src.size)
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			stepRows(src, dst, y0, y1)
		}(y0, y1)
	}
	wg.Wait()
}

// stepRows writes destination rows [y0, y1).
func stepRows(src, dst *Grid, y0, y1 int) { //nolint:gocognit,cyclop,funlen // unrolled neighbourhood for the hot loop
	size := src.size
	for y := y0; y < y1; y++ {
		up := y - 1
		if up < 0 {
			up = size - 1
		}
		down := y + 1
		if down == size {
			down = 0
		}
		out := dst.cells[y*size : (y+1)*size]

		if src.rowPop[up] == 0 && src.rowPop[y] == 0 && src.rowPop[down] == 0 {
			if dst.rowPop[y] != 0 {
				clear(out)
				dst.rowPop[y] = 0
			}
			continue
		}

		rowU := src.cells[up*size : (up+1)*size]
		rowC := src.cells[y*size : (y+1)*size]
		rowD := src.cells[down*size : (down+1)*size]
		var pop int32
		for x := 0; x < size; x++ {
			left := x - 1
			if left < 0 {
				left = size - 1
			}
			right := x + 1
			if right == size {
				right = 0
			}

			n, sum := 0, 0
			if c := rowU[left]; c.Alive {
				n++
				sum += int(c.Energy)
			}
			if c := rowU[x]; c.Alive {
				n++
				sum += int(c.Energy)
			}
			if c := rowU[right]; c.Alive {
				n++
				sum += int(c.Energy)
			}
			if c := rowC[left]; c.Alive {
				n++
				sum += int(c.Energy)
			}
			if c := rowC[right]; c.Alive {
				n++
				sum += int(c.Energy)
			}
			if c := rowD[left]; c.Alive {
				n++
				sum += int(c.Energy)
			}
			if c := rowD[x]; c.Alive {
				n++
				sum += int(c.Energy)
			}
			if c := rowD[right]; c.Alive {
				n++
				sum += int(c.Energy)
			}

			self := rowC[x]
			switch {
			case self.Alive && (n == 2 || n == 3):
				out[x] = self
				pop++
			case !self.Alive && n == 3:
				out[x] = Cell{Alive: true, Energy: uint8(sum / 3)} //nolint:gosec // mean of three uint8 values fits
				pop++
			default:
				out[x] = Cell{}
			}
		}
		dst.rowPop[y] = pop
	}
}
