package board

import "strings"

// Color is the side a piece belongs to
type Color uint8

const (
	NoColor Color = iota
	White
	Black
)

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Black:
		return "black"
	default:
		return "none"
	}
}

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Other returns the opposing color
func (c Color) Other() Color {
	switch c {
	case White:
		return Black
	case Black:
		return White
	default:
		return NoColor
	}
}

// PieceType is the kind of a piece
type PieceType uint8

const (
	NoPieceType PieceType = iota
	Pawn
	Knight
	Bishop
	Rook
	Queen
	King
)

var pieceTypeNames = [...]string{"", "pawn", "knight", "bishop", "rook", "queen", "king"}

func (t PieceType) String() string {
	if int(t) < len(pieceTypeNames) {
		return pieceTypeNames[t]
	}
	return ""
}

// symbol is the lower-case FEN letter
func (t PieceType) symbol() byte {
	return " pnbrqk"[t]
}

// PieceTypeFromSymbol maps a FEN or UCI promotion letter (either case)
func PieceTypeFromSymbol(r byte) PieceType {
	switch r {
	case 'p', 'P':
		return Pawn
	case 'n', 'N':
		return Knight
	case 'b', 'B':
		return Bishop
	case 'r', 'R':
		return Rook
	case 'q', 'Q':
		return Queen
	case 'k', 'K':
		return King
	default:
		return NoPieceType
	}
}

// Piece is a colored piece. The zero value is an empty square.
type Piece struct {
	Color Color
	Type  PieceType
}

// IsEmpty reports whether p is the zero piece
func (p Piece) IsEmpty() bool {
	return p.Type == NoPieceType
}

// Symbol returns the FEN letter, upper-case for white
func (p Piece) Symbol() string {
	if p.IsEmpty() {
		return ""
	}
	s := string(p.Type.symbol())
	if p.Color == White {
		return strings.ToUpper(s)
	}
	return s
}

// String returns e.g. "white_knight"
func (p Piece) String() string {
	if p.IsEmpty() {
		return "empty"
	}
	return p.Color.String() + "_" + p.Type.String()
}

// MarshalText lets pieces appear as readable strings in JSON maps
func (p Piece) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
