package common

import (
	"encoding/binary"
	"fmt"
)

// Grid is one OSD snapshot: character codes stored column-major, so the code
// at column x, row y lives at Rows*x + y.
type Grid struct {
	Columns int
	Rows    int
	Codes   []uint16
}

// NewGrid returns an empty grid of the compiled size.
func NewGrid() *Grid {
	return &Grid{
		Columns: GridWidth,
		Rows:    GridHeight,
		Codes:   make([]uint16, GridWidth*GridHeight),
	}
}

// ParseGrid decodes a record payload. Bytes beyond the grid are ignored.
func ParseGrid(payload []byte, columns, rows int) (*Grid, error) {
	need := columns * rows * 2
	if len(payload) < need {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrShortPayload, need, len(payload))
	}
	g := &Grid{Columns: columns, Rows: rows, Codes: make([]uint16, columns*rows)}
	for i := range g.Codes {
		g.Codes[i] = binary.LittleEndian.Uint16(payload[2*i:])
	}
	return g, nil
}

func (g *Grid) inBounds(x, y int) bool {
	return x >= 0 && x < g.Columns && y >= 0 && y < g.Rows
}

func (g *Grid) At(x, y int) uint16 {
	if !g.inBounds(x, y) {
		return 0
	}
	return g.Codes[g.Rows*x+y]
}

func (g *Grid) Set(x, y int, code uint16) {
	if g.inBounds(x, y) {
		g.Codes[g.Rows*x+y] = code
	}
}

// SetString writes s left to right starting at (x, y), one byte per cell.
// Characters running off the right edge are dropped.
func (g *Grid) SetString(x, y int, s string) {
	for i := 0; i < len(s); i++ {
		g.Set(x+i, y, uint16(s[i]))
	}
}

// NonEmpty counts cells that would draw a glyph.
func (g *Grid) NonEmpty() int {
	n := 0
	for _, c := range g.Codes {
		if c&0xFF != 0 {
			n++
		}
	}
	return n
}

func (g *Grid) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 2*len(g.Codes))
	for i, c := range g.Codes {
		binary.LittleEndian.PutUint16(buf[2*i:], c)
	}
	return buf, nil
}
