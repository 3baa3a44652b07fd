package game

import (
	"context"

	"go.uber.org/zap"

	"github.com/thyrook/chessarm/internal/board"
	"github.com/thyrook/chessarm/internal/relay"
)

// followBuffer bounds the opponent moves not yet picked up by Next
const followBuffer = 8

// Follower lets a client play against another process sharing the relay
// file. Handle is the relay watcher's handler: lines of the local color are
// the client's own moves echoed back and are skipped, the others are applied
// to the session and queued for Next.
type Follower struct {
	session *Session
	local   board.Color
	moves   chan Result
	logger  *zap.Logger
}

// NewFollower creates a follower for the side playing local
func NewFollower(s *Session, local board.Color, logger *zap.Logger) *Follower {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Follower{
		session: s,
		local:   local,
		moves:   make(chan Result, followBuffer),
		logger:  logger,
	}
}

// Handle applies an opponent line from the relay
func (f *Follower) Handle(cmd relay.MoveCommand) error {
	if cmd.Color == f.local {
		return nil
	}

	res, err := f.session.Follow(cmd)
	if err != nil {
		return err
	}

	select {
	case f.moves <- res:
	default:
		f.logger.Warn("Opponent move queue full, dropping notification", zap.String("move", cmd.Move))
	}
	return nil
}

// Next blocks until the opponent has moved or ctx is done
func (f *Follower) Next(ctx context.Context) (Result, error) {
	select {
	case res := <-f.moves:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Local returns the color played by this client
func (f *Follower) Local() board.Color {
	return f.local
}
