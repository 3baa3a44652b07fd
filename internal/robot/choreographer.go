package robot

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thyrook/chessarm/internal/board"
	"github.com/thyrook/chessarm/internal/config"
	"github.com/thyrook/chessarm/internal/iface/logger"
	"github.com/thyrook/chessarm/internal/relay"
	"github.com/thyrook/chessarm/internal/rules"
	"github.com/thyrook/chessarm/internal/storage"
)

// State is the choreographer's current phase
type State string

const (
	StateIdle              State = "idle"
	StateValidating        State = "validating"
	StateCaptureRemoval    State = "capture_removal"
	StateCastling          State = "castling"
	StateEnPassantRemoval  State = "en_passant_removal"
	StatePrimaryRelocation State = "primary_relocation"
)

// ErrInvalidMove is returned for move text the robot cannot interpret
var ErrInvalidMove = errors.New("invalid move")

// castlingRooks maps a king's castling move to its rook's move
var castlingRooks = map[string][2]board.Square{
	"e1g1": {board.MustParseSquare("h1"), board.MustParseSquare("f1")},
	"e1c1": {board.MustParseSquare("a1"), board.MustParseSquare("d1")},
	"e8g8": {board.MustParseSquare("h8"), board.MustParseSquare("f8")},
	"e8c8": {board.MustParseSquare("a8"), board.MustParseSquare("d8")},
}

// Referee is an independent rule engine the robot checks its board against
type Referee interface {
	Apply(uci string) (rules.Applied, error)
	Occupancy() map[board.Square]board.Piece
}

// CapturedPieceRecord describes one piece moved into capture storage
type CapturedPieceRecord struct {
	Piece board.Piece  `json:"piece"`
	From  board.Square `json:"from"`
	Slot  int          `json:"slot"`
	X     float64      `json:"x"`
	Y     float64      `json:"y"`
	Time  time.Time    `json:"time"`
}

// Status is a snapshot for the debug panel
type Status struct {
	State     State            `json:"state"`
	LastMove  string           `json:"last_move"`
	Executed  uint64           `json:"executed"`
	Captures  storage.Counters `json:"captures"`
	Connected bool             `json:"connected"`
	Position  Position         `json:"position"`
}

// Choreographer turns relayed moves into gantry motion and keeps the board
// tracker and capture storage in step with it
type Choreographer struct {
	gantry  *Gantry
	mapper  *Mapper
	tracker *board.Tracker
	store   storage.CounterStore
	referee Referee
	logger  *zap.Logger

	heights config.HeightsConfig
	speeds  config.SpeedsConfig

	// one move at a time
	execMu sync.Mutex

	mu       sync.RWMutex
	state    State
	lastMove string
	counters storage.Counters
	loaded   bool
	records  []CapturedPieceRecord

	executed atomic.Uint64
}

// NewChoreographer wires the gantry, mapper, tracker and counter store
// together
func NewChoreographer(g *Gantry, m *Mapper, t *board.Tracker, store storage.CounterStore, cfg *config.Config, logger *zap.Logger) *Choreographer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Choreographer{
		gantry:  g,
		mapper:  m,
		tracker: t,
		store:   store,
		logger:  logger,
		heights: cfg.Heights,
		speeds:  cfg.Speeds,
		state:   StateIdle,
	}
}

// SetReferee enables the cross-check against an independent rule engine
func (c *Choreographer) SetReferee(r Referee) {
	c.referee = r
}

// Execute performs cmd on the physical board. Only malformed move text is
// returned as an error; actuation failures and desyncs are logged and the
// sequence carries on.
func (c *Choreographer) Execute(cmd relay.MoveCommand) (err error) {
	c.execMu.Lock()
	defer c.execMu.Unlock()
	defer c.setState(StateIdle)

	log := c.logger.With(
		zap.String("run", uuid.NewString()),
		zap.String("move", cmd.Move),
		zap.Stringer("color", cmd.Color),
	)
	done := logger.StartOperation(log, "execute_move", zap.Bool("capture", cmd.Capture))
	defer func() { done(err) }()

	c.setState(StateValidating)

	from, to, err := board.ParseMove(cmd.Move)
	if err != nil {
		log.Warn("Rejecting move", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrInvalidMove, err)
	}

	mover, ok := c.tracker.Occupant(from)
	if ok && mover.Color != cmd.Color {
		log.Warn("Board desync: mover color does not match piece",
			zap.Stringer("square", from),
			zap.Stringer("piece", mover),
		)
	}

	uci := cmd.Move[:4]
	rook, castling := castlingRooks[uci]
	castling = castling && ok && mover.Type == board.King

	enPassant := !castling && ok && mover.Type == board.Pawn && from.File() != to.File()
	if enPassant {
		_, occupied := c.tracker.Occupant(to)
		enPassant = !occupied
	}

	c.consultReferee(log, cmd, enPassant)

	c.mu.Lock()
	c.lastMove = cmd.Move
	c.mu.Unlock()

	if castling {
		c.setState(StateCastling)
		log.Info("Castling", zap.Stringer("rook_from", rook[0]), zap.Stringer("rook_to", rook[1]))

		c.pickAndPlace(log, from, to)
		c.tracker.Move(from, to)
		c.pickAndPlace(log, rook[0], rook[1])
		c.tracker.Move(rook[0], rook[1])

		c.finish(log)
		return nil
	}

	captured := board.NoSquare
	switch {
	case enPassant:
		// the captured pawn stands beside the mover, on the destination file
		captured, _ = board.NewSquare(to.File(), from.Rank())
		c.setState(StateEnPassantRemoval)
		log.Info("En passant", zap.Stringer("captured", captured))
	case cmd.Capture:
		captured = to
		c.setState(StateCaptureRemoval)
	}

	if captured != board.NoSquare {
		c.removeCaptured(log, captured)
	}

	c.setState(StatePrimaryRelocation)
	c.pickAndPlace(log, from, to)

	if c.tracker.Move(from, to) && len(cmd.Move) == 5 {
		if pt := board.PieceTypeFromSymbol(cmd.Move[4]); pt != board.NoPieceType && pt != board.King && pt != board.Pawn {
			moved, _ := c.tracker.Occupant(to)
			c.tracker.Put(to, board.Piece{Color: moved.Color, Type: pt})
			log.Info("Promotion", zap.Stringer("piece", pt))
		}
	}

	c.finish(log)
	return nil
}

// consultReferee applies the move to the shadow rule engine and logs any
// disagreement with the relayed command
func (c *Choreographer) consultReferee(log *zap.Logger, cmd relay.MoveCommand, enPassant bool) {
	if c.referee == nil {
		return
	}

	applied, err := c.referee.Apply(cmd.Move)
	if err != nil {
		log.Warn("Board desync: referee rejected move", zap.Error(err))
		return
	}

	if applied.EnPassant != enPassant {
		log.Warn("Board desync: en passant inference disagrees with referee",
			zap.Bool("inferred", enPassant),
			zap.Bool("referee", applied.EnPassant),
		)
	}
	if applied.Capture != (cmd.Capture || enPassant) {
		log.Warn("Board desync: capture flag disagrees with referee",
			zap.Bool("flag", cmd.Capture),
			zap.Bool("referee", applied.Capture),
		)
	}
}

func (c *Choreographer) finish(log *zap.Logger) {
	c.executed.Add(1)

	if c.referee == nil {
		return
	}
	if diff := c.tracker.Diff(c.referee.Occupancy()); len(diff) > 0 {
		squares := make([]string, len(diff))
		for i, sq := range diff {
			squares[i] = sq.String()
		}
		log.Warn("Board desync: tracker differs from referee", zap.Strings("squares", squares))
	}
}

// removeCaptured carries the piece on sq to the next free storage slot of its
// color
func (c *Choreographer) removeCaptured(log *zap.Logger, sq board.Square) {
	piece, ok := c.tracker.Occupant(sq)
	if !ok {
		log.Warn("Board desync: no piece to capture", zap.Stringer("square", sq))
		return
	}

	c.mu.Lock()
	c.loadCountersLocked(log)
	n := c.countLocked(piece.Color)
	c.mu.Unlock()

	x, y, err := c.mapper.CaptureSlot(piece.Color, int(n))
	if err != nil {
		log.Error("No capture slot, skipping physical removal", zap.Stringer("piece", piece), zap.Error(err))
		c.tracker.Remove(sq)
		return
	}

	log.Info("Removing captured piece",
		zap.Stringer("piece", piece),
		zap.Stringer("square", sq),
		zap.Uint64("slot", n),
	)

	fx, fy := c.mapper.SquareToXY(sq)
	c.transfer(fx, fy, x, y)

	c.mu.Lock()
	if piece.Color == board.White {
		c.counters.White++
	} else {
		c.counters.Black++
	}
	counters := c.counters
	c.records = append(c.records, CapturedPieceRecord{
		Piece: piece,
		From:  sq,
		Slot:  int(n),
		X:     x,
		Y:     y,
		Time:  time.Now(),
	})
	c.mu.Unlock()

	if err := c.store.Save(counters); err != nil {
		log.Error("Failed to persist capture counters", zap.Error(err))
	}

	c.tracker.Remove(sq)
}

// pickAndPlace moves the piece on from to to
func (c *Choreographer) pickAndPlace(log *zap.Logger, from, to board.Square) {
	log.Debug("Pick and place", zap.Stringer("from", from), zap.Stringer("to", to))

	fx, fy := c.mapper.SquareToXY(from)
	tx, ty := c.mapper.SquareToXY(to)
	c.transfer(fx, fy, tx, ty)
}

// transfer is the fixed eight-step pick-and-place between two points
func (c *Choreographer) transfer(fx, fy, tx, ty float64) {
	h, s := c.heights, c.speeds

	c.gantry.MoveTo(fx, fy, h.Safe, s.Travel)
	c.gantry.MoveTo(fx, fy, h.Grab, s.Work)
	c.gantry.Grab()
	c.gantry.MoveTo(fx, fy, h.Lift, s.Work)
	c.gantry.MoveTo(tx, ty, h.Lift, s.Travel)
	c.gantry.MoveTo(tx, ty, h.Grab, s.Work)
	c.gantry.Release()
	c.gantry.MoveTo(tx, ty, h.Safe, s.Work)
}

func (c *Choreographer) loadCountersLocked(log *zap.Logger) {
	if c.loaded {
		return
	}
	c.loaded = true

	counters, err := c.store.Load()
	if err != nil {
		log.Error("Failed to load capture counters, starting from zero", zap.Error(err))
		return
	}
	c.counters = counters
	log.Info("Capture counters loaded",
		zap.Uint64("white", counters.White),
		zap.Uint64("black", counters.Black),
	)
}

func (c *Choreographer) countLocked(color board.Color) uint64 {
	if color == board.White {
		return c.counters.White
	}
	return c.counters.Black
}

func (c *Choreographer) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the current phase
func (c *Choreographer) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Counters returns the capture counters, loading them on first use
func (c *Choreographer) Counters() storage.Counters {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadCountersLocked(c.logger)
	return c.counters
}

// Records returns the pieces captured during this process, oldest first
func (c *Choreographer) Records() []CapturedPieceRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]CapturedPieceRecord, len(c.records))
	copy(out, c.records)
	return out
}

// Status returns a snapshot for the debug panel
func (c *Choreographer) Status() Status {
	counters := c.Counters()

	c.mu.RLock()
	defer c.mu.RUnlock()

	return Status{
		State:     c.state,
		LastMove:  c.lastMove,
		Executed:  c.executed.Load(),
		Captures:  counters,
		Connected: c.gantry.Connected(),
		Position:  c.gantry.Position(),
	}
}

// Tracker returns the board tracker
func (c *Choreographer) Tracker() *board.Tracker {
	return c.tracker
}
