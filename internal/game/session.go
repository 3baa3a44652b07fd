// Package game runs the digital side of a game: legality, the relay to the
// robot and the wait for the robot to catch up.
package game

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thyrook/chessarm/internal/gate"
	"github.com/thyrook/chessarm/internal/relay"
	"github.com/thyrook/chessarm/internal/rules"
)

// ErrOutOfTurn is returned when a followed move belongs to the side that is
// not to move
var ErrOutOfTurn = errors.New("move out of turn")

// Publisher hands a move to the robot side
type Publisher interface {
	Write(cmd relay.MoveCommand) error
}

// Options configures a Session. Without a Publisher the session plays
// without a robot.
type Options struct {
	Publisher   Publisher
	Gate        *gate.Gate
	GateTimeout time.Duration
	Logger      *zap.Logger
}

// Result describes one submitted move
type Result struct {
	Command   relay.MoveCommand
	Applied   rules.Applied
	RobotDone bool
	Outcome   string
	Method    string
}

// Over reports whether the move ended the game
func (r Result) Over() bool {
	return r.Outcome != "*"
}

// Session is one game between two sides
type Session struct {
	game    *rules.Game
	pub     Publisher
	gate    *gate.Gate
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	history []string
}

// NewSession starts a game from the standard position
func NewSession(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Gate == nil {
		opts.Gate = gate.New()
	}
	if opts.GateTimeout <= 0 {
		opts.GateTimeout = 60 * time.Second
	}

	return &Session{
		game:    rules.NewGame(),
		pub:     opts.Publisher,
		gate:    opts.Gate,
		timeout: opts.GateTimeout,
		logger:  opts.Logger,
	}
}

// Submit validates and plays uci, relays it to the robot and waits for the
// robot to finish. A robot that does not answer within the gate timeout only
// produces a warning.
func (s *Session) Submit(uci string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.game.Check(uci); err != nil {
		return Result{}, err
	}

	applied, err := s.game.Apply(uci)
	if err != nil {
		return Result{}, err
	}
	s.history = append(s.history, applied.UCI)

	cmd := relay.NewMoveCommand(applied.Color, applied.UCI, applied.Capture)
	res := Result{
		Command: cmd,
		Applied: applied,
		Outcome: s.game.Outcome(),
		Method:  s.game.Method(),
	}

	s.logger.Info("Move played",
		zap.String("move", applied.UCI),
		zap.Stringer("color", applied.Color),
		zap.Bool("capture", applied.Capture),
	)

	if s.pub == nil {
		return res, nil
	}

	s.gate.Clear()
	if err := s.pub.Write(cmd); err != nil {
		s.logger.Error("Failed to relay move to robot", zap.String("line", relay.Format(cmd)), zap.Error(err))
		return res, nil
	}

	res.RobotDone = s.gate.Wait(s.timeout)
	if !res.RobotDone {
		s.logger.Warn("Robot did not confirm move in time, continuing",
			zap.String("move", applied.UCI),
			zap.Duration("timeout", s.timeout),
		)
	}

	return res, nil
}

// Follow applies a move that another client already relayed. The move is
// validated but not written back to the relay and the gate is left alone.
func (s *Session) Follow(cmd relay.MoveCommand) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turn := s.game.Turn(); cmd.Color != turn {
		return Result{}, fmt.Errorf("%w: %s played %s, %s to move", ErrOutOfTurn, cmd.Color, cmd.Move, turn)
	}

	applied, err := s.game.Apply(cmd.Move)
	if err != nil {
		return Result{}, err
	}
	s.history = append(s.history, applied.UCI)

	if applied.Capture != cmd.Capture {
		s.logger.Warn("Relayed capture flag disagrees with the rules",
			zap.String("move", applied.UCI),
			zap.Bool("relayed", cmd.Capture),
			zap.Bool("expected", applied.Capture),
		)
	}

	s.logger.Info("Opponent move applied",
		zap.String("move", applied.UCI),
		zap.Stringer("color", applied.Color),
		zap.Bool("capture", applied.Capture),
	)

	return Result{
		Command: relay.NewMoveCommand(applied.Color, applied.UCI, applied.Capture),
		Applied: applied,
		Outcome: s.game.Outcome(),
		Method:  s.game.Method(),
	}, nil
}

// Game returns the rule engine
func (s *Session) Game() *rules.Game {
	return s.game
}

// History returns the moves played so far
func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

// RandomMover is the stand-in opponent: it plays a uniformly random legal
// move
type RandomMover struct {
	rng *rand.Rand
}

// NewRandomMover creates a mover with a fixed seed
func NewRandomMover(seed int64) *RandomMover {
	return &RandomMover{rng: rand.New(rand.NewSource(seed))}
}

// Choose returns the move to play in g
func (m *RandomMover) Choose(g *rules.Game) (string, error) {
	move := g.RandomMove(m.rng)
	if move == "" {
		return "", fmt.Errorf("%w: no legal moves", rules.ErrGameOver)
	}
	return move, nil
}
