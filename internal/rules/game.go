// Package rules adapts github.com/notnil/chess as the authoritative legality
// engine for the game loop and as a shadow referee for the robot.
package rules

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/notnil/chess"

	"github.com/thyrook/chessarm/internal/board"
)

var (
	// ErrIllegalMove is returned when a move is not legal in the current position
	ErrIllegalMove = errors.New("illegal move")

	// ErrGameOver is returned when moves are submitted after the game ended
	ErrGameOver = errors.New("game is over")
)

// Applied describes a move accepted by the rule engine
type Applied struct {
	UCI       string
	Color     board.Color
	Capture   bool
	EnPassant bool
	Castle    bool
	Promotion board.PieceType
}

// Game wraps a notnil/chess game. It is safe for concurrent use.
type Game struct {
	game *chess.Game
	mu   sync.RWMutex
}

// NewGame creates a game at the standard starting position
func NewGame() *Game {
	return &Game{game: newChessGame()}
}

// NewGameFromFEN creates a game starting at fen
func NewGameFromFEN(fen string) (*Game, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("invalid FEN: %w", err)
	}
	return &Game{game: chess.NewGame(opt, chess.UseNotation(chess.UCINotation{}))}, nil
}

func newChessGame() *chess.Game {
	return chess.NewGame(chess.UseNotation(chess.UCINotation{}))
}

// Reset returns to the starting position
func (g *Game) Reset() {
	g.mu.Lock()
	g.game = newChessGame()
	g.mu.Unlock()
}

// Check reports how uci would be applied without changing the game
func (g *Game) Check(uci string) (Applied, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	m, err := g.find(uci)
	if err != nil {
		return Applied{}, err
	}
	return describe(g.game.Position(), m), nil
}

// Apply validates and plays uci
func (g *Game) Apply(uci string) (Applied, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	m, err := g.find(uci)
	if err != nil {
		return Applied{}, err
	}

	applied := describe(g.game.Position(), m)
	if err := g.game.Move(m); err != nil {
		return Applied{}, fmt.Errorf("%w: %s: %v", ErrIllegalMove, uci, err)
	}
	return applied, nil
}

// find matches uci against the generated legal moves, which carry the
// capture/en passant/castle tags
func (g *Game) find(uci string) (*chess.Move, error) {
	if g.game.Outcome() != chess.NoOutcome {
		return nil, ErrGameOver
	}

	uci = strings.ToLower(strings.TrimSpace(uci))
	for _, m := range g.game.ValidMoves() {
		if m.String() == uci {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
}

func describe(pos *chess.Position, m *chess.Move) Applied {
	return Applied{
		UCI:       m.String(),
		Color:     fromChessColor(pos.Turn()),
		Capture:   m.HasTag(chess.Capture) || m.HasTag(chess.EnPassant),
		EnPassant: m.HasTag(chess.EnPassant),
		Castle:    m.HasTag(chess.KingSideCastle) || m.HasTag(chess.QueenSideCastle),
		Promotion: fromChessType(m.Promo()),
	}
}

// Turn returns the side to move
func (g *Game) Turn() board.Color {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fromChessColor(g.game.Position().Turn())
}

// FEN returns the current position
func (g *Game) FEN() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.game.FEN()
}

// Outcome returns "*" while the game is running, else "1-0", "0-1" or "1/2-1/2"
func (g *Game) Outcome() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return string(g.game.Outcome())
}

// Method describes how the game ended ("Checkmate", "Stalemate", ...)
func (g *Game) Method() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.game.Method().String()
}

// LegalMoves returns every legal move in UCI notation
func (g *Game) LegalMoves() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	moves := g.game.ValidMoves()
	out := make([]string, 0, len(moves))
	for _, m := range moves {
		out = append(out, m.String())
	}
	return out
}

// RandomMove picks a legal move, or "" when there is none
func (g *Game) RandomMove(rng *rand.Rand) string {
	moves := g.LegalMoves()
	if len(moves) == 0 {
		return ""
	}
	return moves[rng.Intn(len(moves))]
}

// Occupancy returns the rule engine's board in tracker terms
func (g *Game) Occupancy() map[board.Square]board.Piece {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[board.Square]board.Piece, 32)
	for sq, p := range g.game.Position().Board().SquareMap() {
		if p == chess.NoPiece {
			continue
		}
		// notnil/chess numbers squares a1=0..h8=63 like board.Square
		out[board.Square(sq)] = board.Piece{
			Color: fromChessColor(p.Color()),
			Type:  fromChessType(p.Type()),
		}
	}
	return out
}

func fromChessColor(c chess.Color) board.Color {
	switch c {
	case chess.White:
		return board.White
	case chess.Black:
		return board.Black
	default:
		return board.NoColor
	}
}

func fromChessType(t chess.PieceType) board.PieceType {
	switch t {
	case chess.Pawn:
		return board.Pawn
	case chess.Knight:
		return board.Knight
	case chess.Bishop:
		return board.Bishop
	case chess.Rook:
		return board.Rook
	case chess.Queen:
		return board.Queen
	case chess.King:
		return board.King
	default:
		return board.NoPieceType
	}
}
