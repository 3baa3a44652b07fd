// Package board holds the robot's own model of the physical chess board.
package board

import "fmt"

// Square is a board coordinate encoded as rank*8+file, so a1=0, h1=7, a8=56
// and h8=63.
type Square uint8

// NoSquare is returned alongside parse errors
const NoSquare Square = 64

// NewSquare builds a square from zero-based file and rank indices
func NewSquare(file, rank int) (Square, error) {
	if file < 0 || file >= 8 || rank < 0 || rank >= 8 {
		return NoSquare, fmt.Errorf("square out of bounds: file=%d rank=%d", file, rank)
	}
	return Square(rank*8 + file), nil
}

// ParseSquare converts algebraic notation ("e4") to a Square
func ParseSquare(sq string) (Square, error) {
	if len(sq) != 2 {
		return NoSquare, fmt.Errorf("invalid square: %q", sq)
	}

	file := int(sq[0]) - 'a'
	rank := int(sq[1]) - '1'

	if file < 0 || file >= 8 || rank < 0 || rank >= 8 {
		return NoSquare, fmt.Errorf("square out of bounds: %q", sq)
	}

	return Square(rank*8 + file), nil
}

// MustParseSquare is ParseSquare for compile-time constants
func MustParseSquare(sq string) Square {
	s, err := ParseSquare(sq)
	if err != nil {
		panic(err)
	}
	return s
}

// File returns the zero-based file index (a=0)
func (s Square) File() int {
	return int(s) % 8
}

// Rank returns the zero-based rank index (rank 1 = 0)
func (s Square) Rank() int {
	return int(s) / 8
}

// Valid reports whether s is one of the 64 board squares
func (s Square) Valid() bool {
	return s < 64
}

// String returns algebraic notation
func (s Square) String() string {
	if !s.Valid() {
		return "??"
	}
	return string(rune('a'+s.File())) + string(rune('1'+s.Rank()))
}

// ParseMove splits the first four characters of a UCI move into its squares
func ParseMove(uci string) (from, to Square, err error) {
	if len(uci) < 4 {
		return NoSquare, NoSquare, fmt.Errorf("move string too short: %q", uci)
	}

	from, err = ParseSquare(uci[0:2])
	if err != nil {
		return NoSquare, NoSquare, fmt.Errorf("invalid from square: %w", err)
	}

	to, err = ParseSquare(uci[2:4])
	if err != nil {
		return NoSquare, NoSquare, fmt.Errorf("invalid to square: %w", err)
	}

	if from == to {
		return NoSquare, NoSquare, fmt.Errorf("null move: %q", uci)
	}

	return from, to, nil
}

// MarshalText renders squares as algebraic notation in JSON, including map
// keys
func (s Square) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
