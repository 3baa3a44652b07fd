package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/thyrook/chessarm/internal/board"
	"github.com/thyrook/chessarm/internal/game"
	"github.com/thyrook/chessarm/internal/relay"
	"github.com/thyrook/chessarm/internal/rules"
)

func TestRenderStartPosition(t *testing.T) {
	out := render(rules.NewGame().Occupancy())
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	if len(lines) != 9 {
		t.Fatalf("Expected 9 lines, got %d", len(lines))
	}
	if lines[0] != "8 r n b q k b n r " {
		t.Errorf("Unexpected rank 8: %q", lines[0])
	}
	if lines[4] != "4 . . . . . . . . " {
		t.Errorf("Unexpected rank 4: %q", lines[4])
	}
	if lines[7] != "1 R N B Q K B N R " {
		t.Errorf("Unexpected rank 1: %q", lines[7])
	}
}

func TestPlayHumanVsHuman(t *testing.T) {
	s := game.NewSession(game.Options{})
	in := strings.NewReader("e2e4\nbogus\n\nmoves\ne7e5\nquit\ng1f3\n")

	play(context.Background(), s, nil, board.White, in)

	history := s.History()
	if len(history) != 2 || history[0] != "e2e4" || history[1] != "e7e5" {
		t.Errorf("Expected [e2e4 e7e5], got %v", history)
	}
}

func TestPlayAgainstRandomMover(t *testing.T) {
	s := game.NewSession(game.Options{})
	in := strings.NewReader("d2d4\nquit\n")

	play(context.Background(), s, randomOpponent{game.NewRandomMover(1)}, board.White, in)

	if n := len(s.History()); n != 2 {
		t.Errorf("Expected the human move and one reply, got %d moves", n)
	}
}

func TestPlayAgainstRemoteOpponent(t *testing.T) {
	s := game.NewSession(game.Options{})
	f := game.NewFollower(s, board.White, nil)

	// the opponent answers once our move is on the board
	go func() {
		for len(s.History()) < 1 {
			time.Sleep(time.Millisecond)
		}
		f.Handle(relay.NewMoveCommand(board.Black, "c7c5", false))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	play(ctx, s, remoteOpponent{f}, board.White, strings.NewReader("e2e4\nquit\n"))

	history := s.History()
	if len(history) != 2 || history[1] != "c7c5" {
		t.Errorf("Expected [e2e4 c7c5], got %v", history)
	}
}
