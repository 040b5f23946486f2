// Package ca implements the toroidal, energy-carrying cellular automaton that
// battles are fought on.
//
// Cells live in a flat row-major arena addressed by y*size+x. There is no
// edge: every coordinate wraps modulo the grid size.
package ca

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Size is one of the enumerated grid sizes.
type Size int

// Supported grid sizes.
const (
	SizeCompact  Size = 64
	SizeStandard Size = 1024
	SizeLarge    Size = 2048
)

// Valid reports whether s is an enumerated size.
func (s Size) Valid() bool {
	switch s {
	case SizeCompact, SizeStandard, SizeLarge:
		return true
	}
	return false
}

// Cell is one grid cell. Dead cells always carry zero energy.
type Cell struct {
	Alive  bool
	Energy uint8
}

// LiveCell is the sparse form of a live cell.
type LiveCell struct {
	X      int   `json:"x"`
	Y      int   `json:"y"`
	Energy uint8 `json:"e"`
}

// Grid is a square toroidal grid of cells.
type Grid struct {
	size   int
	cells  []Cell
	rowPop []int32 // live cells per row
}

// NewGrid returns an empty grid of the given size.
func NewGrid(size Size) (*Grid, error) {
	if !size.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	n := int(size)
	return &Grid{
		size:   n,
		cells:  make([]Cell, n*n),
		rowPop: make([]int32, n),
	}, nil
}

// MustGrid is NewGrid for sizes known to be valid.
func MustGrid(size Size) *Grid {
	g, err := NewGrid(size)
	if err != nil {
		panic(err)
	}
	return g
}

// Size returns the edge length of the grid.
func (g *Grid) Size() int { return g.size }

// Wrap maps any integer coordinate onto [0, size).
func (g *Grid) Wrap(v int) int {
	v %= g.size
	if v < 0 {
		v += g.size
	}
	return v
}

// Index returns the arena offset of (x, y) after wrapping.
func (g *Grid) Index(x, y int) (int, error) {
	x, y = g.Wrap(x), g.Wrap(y)
	idx := y*g.size + x
	if idx < 0 || idx >= len(g.cells) {
		return 0, fmt.Errorf("%w: (%d,%d) on %d", ErrCoordinate, x, y, g.size)
	}
	return idx, nil
}

// At returns the cell at (x, y) after wrapping.
func (g *Grid) At(x, y int) Cell {
	return g.cells[g.Wrap(y)*g.size+g.Wrap(x)]
}

// Set writes a cell at (x, y) after wrapping. Dead cells lose their energy.
func (g *Grid) Set(x, y int, c Cell) {
	if !c.Alive {
		c.Energy = 0
	}
	y = g.Wrap(y)
	idx := y*g.size + g.Wrap(x)
	prev := g.cells[idx]
	switch {
	case prev.Alive && !c.Alive:
		g.rowPop[y]--
	case !prev.Alive && c.Alive:
		g.rowPop[y]++
	}
	g.cells[idx] = c
}

// Population returns the number of live cells.
func (g *Grid) Population() int {
	total := 0
	for _, n := range g.rowPop {
		total += int(n)
	}
	return total
}

// LiveCells returns every live cell in row-major order.
func (g *Grid) LiveCells() []LiveCell {
	out := make([]LiveCell, 0, g.Population())
	for y := 0; y < g.size; y++ {
		if g.rowPop[y] == 0 {
			continue
		}
		row := g.cells[y*g.size : (y+1)*g.size]
		for x, c := range row {
			if c.Alive {
				out = append(out, LiveCell{X: x, Y: y, Energy: c.Energy})
			}
		}
	}
	return out
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	c := &Grid{
		size:   g.size,
		cells:  make([]Cell, len(g.cells)),
		rowPop: make([]int32, len(g.rowPop)),
	}
	copy(c.cells, g.cells)
	copy(c.rowPop, g.rowPop)
	return c
}

// Equal reports whether two grids hold identical cells.
func (g *Grid) Equal(o *Grid) bool {
	if g.size != o.size {
		return false
	}
	for i := range g.cells {
		if g.cells[i] != o.cells[i] {
			return false
		}
	}
	return true
}

// Digest returns the blake2b-256 digest of the canonical cell encoding:
// the size as a big-endian uint32 followed by (alive, energy) per cell in
// row-major order.
func (g *Grid) Digest() [32]byte {
	h, _ := blake2b.New256(nil)
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(g.size)) //nolint:gosec // sizes are enumerated and small
	_, _ = h.Write(hdr[:])

	buf := make([]byte, 2*g.size)
	for y := 0; y < g.size; y++ {
		row := g.cells[y*g.size : (y+1)*g.size]
		for x, c := range row {
			if c.Alive {
				buf[2*x] = 1
			} else {
				buf[2*x] = 0
			}
			buf[2*x+1] = c.Energy
		}
		_, _ = h.Write(buf)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
