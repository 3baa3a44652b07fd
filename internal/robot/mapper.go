// Package robot turns chess moves into gantry motion: square to machine
// coordinate mapping, G-code micro-steps and the move choreography.
package robot

import (
	"errors"
	"fmt"

	"github.com/thyrook/chessarm/internal/board"
	"github.com/thyrook/chessarm/internal/config"
)

// SlotsPerColor is the capture storage capacity of one color
const SlotsPerColor = 16

const slotsPerZone = 8

// ErrCaptureZoneFull is returned for slot indices past the storage capacity
var ErrCaptureZoneFull = errors.New("capture zone full")

// Mapper converts board squares and capture slots to machine coordinates
type Mapper struct {
	cell    float64
	offsetX float64
	offsetY float64
	gap     float64
}

// NewMapper creates a mapper from the board geometry
func NewMapper(b config.BoardConfig, c config.CaptureConfig) *Mapper {
	return &Mapper{
		cell:    b.SquareSize,
		offsetX: b.OffsetX,
		offsetY: b.OffsetY,
		gap:     c.Gap,
	}
}

// SquareToXY returns the centre of sq. X runs along the ranks, Y along the
// files.
func (m *Mapper) SquareToXY(sq board.Square) (x, y float64) {
	x = m.offsetX + float64(sq.Rank())*m.cell + m.cell/2
	y = m.offsetY + float64(sq.File())*m.cell + m.cell/2
	return x, y
}

// CaptureSlot returns the storage position of the n-th captured piece of
// color. Each color has two 2x4 zones beside its own half of the board: slots
// 0-7 below the a-file, 8-15 above the h-file. Inside a zone the column grows
// away from the board and the row runs from the back rank toward the centre.
func (m *Mapper) CaptureSlot(color board.Color, n int) (x, y float64, err error) {
	if n < 0 || n >= SlotsPerColor {
		return 0, 0, fmt.Errorf("%w: %s slot %d", ErrCaptureZoneFull, color, n)
	}
	if color != board.White && color != board.Black {
		return 0, 0, fmt.Errorf("invalid color for capture slot: %v", color)
	}

	i := n % slotsPerZone
	col := i % 2
	row := i / 2

	rank := row
	if color == board.Black {
		rank = 7 - row
	}
	x = m.offsetX + float64(rank)*m.cell + m.cell/2

	reach := m.gap + float64(col)*m.cell + m.cell/2
	if n < slotsPerZone {
		y = m.offsetY - reach
	} else {
		y = m.offsetY + 8*m.cell + reach
	}

	return x, y, nil
}
