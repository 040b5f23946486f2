// Package glider holds the canonical starting patterns and the shape rules
// every committed pattern must satisfy.
package glider

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Shape limits shared by catalog and custom patterns.
const (
	MaxCells = 64
	MaxSpan  = 16
)

// Sentinel kinds for pattern errors.
var (
	ErrInvalidPattern = errors.New("invalid pattern")
	ErrUnknownPattern = errors.New("unknown pattern")
)

// Offset is a live cell position relative to the pattern origin.
type Offset struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Pattern is a set of live offsets that all start with the same energy.
type Pattern struct {
	Name   string   `json:"name,omitempty"`
	Cells  []Offset `json:"cells"`
	Energy uint8    `json:"energy"`
}

// Validate checks the shape constraints.
func (p Pattern) Validate() error {
	if len(p.Cells) == 0 {
		return fmt.Errorf("%w: no cells", ErrInvalidPattern)
	}
	if len(p.Cells) > MaxCells {
		return fmt.Errorf("%w: %d cells exceeds %d", ErrInvalidPattern, len(p.Cells), MaxCells)
	}
	if p.Energy == 0 {
		return fmt.Errorf("%w: zero energy", ErrInvalidPattern)
	}
	seen := make(map[Offset]struct{}, len(p.Cells))
	for _, c := range p.Cells {
		if c.X < 0 || c.Y < 0 || c.X >= MaxSpan || c.Y >= MaxSpan {
			return fmt.Errorf("%w: offset (%d,%d) outside %dx%d", ErrInvalidPattern, c.X, c.Y, MaxSpan, MaxSpan)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("%w: duplicate offset (%d,%d)", ErrInvalidPattern, c.X, c.Y)
		}
		seen[c] = struct{}{}
	}
	return nil
}

// Normalized returns a copy with offsets sorted by (y, x). The name is kept.
func (p Pattern) Normalized() Pattern {
	cells := make([]Offset, len(p.Cells))
	copy(cells, p.Cells)
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Y != cells[j].Y {
			return cells[i].Y < cells[j].Y
		}
		return cells[i].X < cells[j].X
	})
	return Pattern{Name: p.Name, Cells: cells, Energy: p.Energy}
}

// MarshalBinary returns the canonical encoding used in commitments:
// energy (1 byte), cell count (uint16 big-endian), then (x, y) byte pairs
// sorted by (y, x). The name is not part of the encoding.
func (p Pattern) MarshalBinary() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := p.Normalized()
	out := make([]byte, 3, 3+2*len(n.Cells))
	out[0] = n.Energy
	binary.BigEndian.PutUint16(out[1:3], uint16(len(n.Cells))) //nolint:gosec // bounded by MaxCells
	for _, c := range n.Cells {
		out = append(out, byte(c.X), byte(c.Y))
	}
	return out, nil
}

// UnmarshalBinary decodes the canonical encoding and validates the result.
func (p *Pattern) UnmarshalBinary(data []byte) error {
	if len(data) < 3 {
		return fmt.Errorf("%w: short encoding", ErrInvalidPattern)
	}
	count := int(binary.BigEndian.Uint16(data[1:3]))
	if len(data) != 3+2*count {
		return fmt.Errorf("%w: encoding length %d for %d cells", ErrInvalidPattern, len(data), count)
	}
	decoded := Pattern{Energy: data[0], Cells: make([]Offset, count)}
	for i := range count {
		decoded.Cells[i] = Offset{X: int(data[3+2*i]), Y: int(data[4+2*i])}
	}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*p = decoded
	return nil
}

// Bounds returns the width and height of the pattern's bounding box.
func (p Pattern) Bounds() (w, h int) {
	for _, c := range p.Cells {
		w = max(w, c.X+1)
		h = max(h, c.Y+1)
	}
	return w, h
}

func parse(name string, energy uint8, rows ...string) Pattern {
	p := Pattern{Name: name, Energy: energy}
	for y, row := range rows {
		for x, ch := range row {
			if ch == '#' {
				p.Cells = append(p.Cells, Offset{X: x, Y: y})
			}
		}
	}
	return p.Normalized()
}

// Catalog weight classes. The glider travels diagonally towards +x,+y; the
// spaceships travel towards -y at c/2.
var (
	Glider = parse("glider", 100, //nolint:gochecknoglobals // immutable reference data
		".#.",
		"..#",
		"###",
	)
	LWSS = parse("lwss", 120, //nolint:gochecknoglobals // immutable reference data
		".###",
		"#..#",
		"...#",
		"...#",
		"#.#.",
	)
	MWSS = parse("mwss", 140, //nolint:gochecknoglobals // immutable reference data
		"..###",
		".#..#",
		"....#",
		"#...#",
		"....#",
		".#.#.",
	)
	HWSS = parse("hwss", 160, //nolint:gochecknoglobals // immutable reference data
		"..###",
		".#..#",
		"....#",
		"#...#",
		"#...#",
		"....#",
		".#.#.",
	)
)

// Catalog returns the four weight classes, lightest first.
func Catalog() []Pattern {
	return []Pattern{Glider.clone(), LWSS.clone(), MWSS.clone(), HWSS.clone()}
}

// Lookup returns the catalog pattern with the given name.
func Lookup(name string) (Pattern, error) {
	for _, p := range Catalog() {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return Pattern{}, fmt.Errorf("%w: %q", ErrUnknownPattern, name)
}

func (p Pattern) clone() Pattern {
	cells := make([]Offset, len(p.Cells))
	copy(cells, p.Cells)
	return Pattern{Name: p.Name, Cells: cells, Energy: p.Energy}
}
