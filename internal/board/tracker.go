package board

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// StartPlacement is the FEN piece placement of the standard starting position
const StartPlacement = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR"

// Tracker is the robot's in-memory map of which piece stands on which square.
// It is kept separately from the rule engine's board and only mutated by the
// move choreographer; there is no undo.
type Tracker struct {
	squares [64]Piece
	logger  *zap.Logger
	mu      sync.RWMutex
}

// NewTracker creates a tracker holding the standard starting layout
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{logger: logger}
	t.Reset()
	return t
}

// Reset restores the standard starting layout
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	// StartPlacement is well formed
	squares, _ := parsePlacement(StartPlacement)
	t.squares = squares
}

// LoadPlacement replaces the whole board with a FEN piece placement
func (t *Tracker) LoadPlacement(placement string) error {
	squares, err := parsePlacement(placement)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.squares = squares
	t.mu.Unlock()
	return nil
}

// Move relocates the occupant of from to to. An empty source square means the
// tracker has drifted from the game; the call is logged and ignored. Moving
// a piece onto its own square leaves the board unchanged.
func (t *Tracker) Move(from, to Square) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	piece := t.squares[from]
	if from == to {
		t.logger.Warn("Ignoring move onto the same square", zap.Stringer("square", from))
		return !piece.IsEmpty()
	}

	if piece.IsEmpty() {
		t.logger.Warn("Board desync: no piece on source square",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		return false
	}

	if dest := t.squares[to]; !dest.IsEmpty() {
		t.logger.Warn("Board desync: destination still occupied, overwriting",
			zap.Stringer("square", to),
			zap.Stringer("occupant", dest),
		)
	}

	t.squares[to] = piece
	t.squares[from] = Piece{}
	return true
}

// Remove deletes and returns the occupant of sq
func (t *Tracker) Remove(sq Square) (Piece, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	piece := t.squares[sq]
	if piece.IsEmpty() {
		return Piece{}, false
	}
	t.squares[sq] = Piece{}
	return piece, true
}

// Put places p on sq, replacing any occupant
func (t *Tracker) Put(sq Square, p Piece) {
	t.mu.Lock()
	t.squares[sq] = p
	t.mu.Unlock()
}

// Occupant returns the piece on sq
func (t *Tracker) Occupant(sq Square) (Piece, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	piece := t.squares[sq]
	return piece, !piece.IsEmpty()
}

// Count returns the number of occupied squares
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, p := range t.squares {
		if !p.IsEmpty() {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of every occupied square
func (t *Tracker) Snapshot() map[Square]Piece {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[Square]Piece, 32)
	for sq, p := range t.squares {
		if !p.IsEmpty() {
			out[Square(sq)] = p
		}
	}
	return out
}

// Diff lists the squares on which the tracker disagrees with other, in
// square order
func (t *Tracker) Diff(other map[Square]Piece) []Square {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var diff []Square
	for sq := Square(0); sq < 64; sq++ {
		if t.squares[sq] != other[sq] {
			diff = append(diff, sq)
		}
	}
	return diff
}

// Placement renders the board as a FEN piece placement
func (t *Tracker) Placement() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var sb strings.Builder
	for rank := 7; rank >= 0; rank-- {
		empty := 0
		for file := 0; file < 8; file++ {
			p := t.squares[rank*8+file]
			if p.IsEmpty() {
				empty++
				continue
			}
			if empty > 0 {
				sb.WriteByte(byte('0' + empty))
				empty = 0
			}
			sb.WriteString(p.Symbol())
		}
		if empty > 0 {
			sb.WriteByte(byte('0' + empty))
		}
		if rank > 0 {
			sb.WriteByte('/')
		}
	}
	return sb.String()
}

func parsePlacement(placement string) ([64]Piece, error) {
	var squares [64]Piece

	// accept a full FEN, only the placement field matters
	fields := strings.Fields(placement)
	if len(fields) == 0 {
		return squares, fmt.Errorf("empty FEN placement")
	}

	ranks := strings.Split(fields[0], "/")
	if len(ranks) != 8 {
		return squares, fmt.Errorf("FEN must have 8 ranks, got %d", len(ranks))
	}

	for i, row := range ranks {
		rank := 7 - i
		file := 0
		for j := 0; j < len(row); j++ {
			c := row[j]
			if c >= '1' && c <= '8' {
				file += int(c - '0')
				continue
			}

			pt := PieceTypeFromSymbol(c)
			if pt == NoPieceType {
				return squares, fmt.Errorf("invalid piece %q in rank %d", c, rank+1)
			}
			if file >= 8 {
				return squares, fmt.Errorf("rank %d overflows", rank+1)
			}

			color := Black
			if c >= 'A' && c <= 'Z' {
				color = White
			}
			squares[rank*8+file] = Piece{Color: color, Type: pt}
			file++
		}
		if file != 8 {
			return squares, fmt.Errorf("rank %d has %d files", rank+1, file)
		}
	}

	return squares, nil
}
