package robot

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/thyrook/chessarm/internal/board"
	"github.com/thyrook/chessarm/internal/config"
	"github.com/thyrook/chessarm/internal/relay"
	"github.com/thyrook/chessarm/internal/rules"
	"github.com/thyrook/chessarm/internal/storage"
)

type testRobot struct {
	chor    *Choreographer
	rec     *recorder
	tracker *board.Tracker
	store   *storage.MemoryStore
	logs    *observer.ObservedLogs
}

func newTestRobot(t *testing.T, counters storage.Counters) *testRobot {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	cfg := config.DefaultConfig()
	g, rec := newTestGantry(cfg)
	tracker := board.NewTracker(log)
	store := storage.NewMemoryStore(counters)

	chor := NewChoreographer(g, NewMapper(cfg.Board, cfg.Capture), tracker, store, cfg, log)
	return &testRobot{chor: chor, rec: rec, tracker: tracker, store: store, logs: logs}
}

func mustParse(t *testing.T, line string) relay.MoveCommand {
	t.Helper()

	cmd, err := relay.Parse(line)
	if err != nil {
		t.Fatalf("Failed to parse %q: %v", line, err)
	}
	return cmd
}

func expectPiece(t *testing.T, tr *board.Tracker, sq string, want board.Piece) {
	t.Helper()

	got, _ := tr.Occupant(board.MustParseSquare(sq))
	if got != want {
		t.Errorf("%s: expected %s, got %s", sq, want, got)
	}
}

func warnings(logs *observer.ObservedLogs, snippet string) int {
	return logs.FilterLevelExact(zapcore.WarnLevel).FilterMessageSnippet(snippet).Len()
}

var (
	whitePawn   = board.Piece{Color: board.White, Type: board.Pawn}
	blackPawn   = board.Piece{Color: board.Black, Type: board.Pawn}
	whiteKnight = board.Piece{Color: board.White, Type: board.Knight}
	empty       = board.Piece{}
)

// one transfer is six moves of two lines each plus grab and release
const transferLines = 14

func TestQuietMove(t *testing.T) {
	r := newTestRobot(t, storage.Counters{})

	if err := r.chor.Execute(mustParse(t, "B;e2e4;0")); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	equalLines(t, r.rec.commands(), []string{
		"G0 X95.00 Y345.00 F3000", "M280 P0 S12",
		"G0 X95.00 Y345.00 F1500", "M280 P0 S168",
		"M3 S1000",
		"G0 X95.00 Y345.00 F1500", "M280 P0 S12",
		"G0 X195.00 Y345.00 F3000", "M280 P0 S12",
		"G0 X195.00 Y345.00 F1500", "M280 P0 S168",
		"M5",
		"G0 X195.00 Y345.00 F1500", "M280 P0 S12",
	})

	expectPiece(t, r.tracker, "e4", whitePawn)
	expectPiece(t, r.tracker, "e2", empty)

	if r.store.Saves() != 0 {
		t.Errorf("Expected no counter writes, got %d", r.store.Saves())
	}
	if s := r.chor.Status(); s.State != StateIdle || s.LastMove != "e2e4" || s.Executed != 1 {
		t.Errorf("Unexpected status %+v", s)
	}
}

func TestSettleBeforeEveryZMove(t *testing.T) {
	r := newTestRobot(t, storage.Counters{})
	r.chor.Execute(mustParse(t, "B;g1f3;0"))

	entries := r.rec.entries()
	for i, e := range entries {
		if len(e) > 3 && e[:3] == "G0 " && e[3] == 'X' {
			if i+1 >= len(entries) || entries[i+1] != "sleep 1s" {
				t.Errorf("XY move %q at %d not followed by settle delay", e, i)
			}
		}
	}
}

func TestCaptureMove(t *testing.T) {
	r := newTestRobot(t, storage.Counters{})
	r.tracker.Put(board.MustParseSquare("e4"), blackPawn)
	r.tracker.Put(board.MustParseSquare("d5"), whiteKnight)

	if err := r.chor.Execute(mustParse(t, "N;e4d5;1")); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	cmds := r.rec.commands()
	if len(cmds) != 2*transferLines {
		t.Fatalf("Expected %d commands, got %d", 2*transferLines, len(cmds))
	}
	// the captured piece leaves first, toward white slot 0
	if cmds[0] != "G0 X245.00 Y295.00 F3000" {
		t.Errorf("Expected removal to start over d5, got %q", cmds[0])
	}
	if cmds[7] != "G0 X45.00 Y85.00 F3000" {
		t.Errorf("Expected removal to white slot 0, got %q", cmds[7])
	}
	if cmds[transferLines] != "G0 X195.00 Y345.00 F3000" {
		t.Errorf("Expected primary move to start over e4, got %q", cmds[transferLines])
	}

	expectPiece(t, r.tracker, "d5", blackPawn)
	expectPiece(t, r.tracker, "e4", empty)

	c, _ := r.store.Load()
	if c.White != 1 || c.Black != 0 {
		t.Errorf("Expected white=1 black=0, got %+v", c)
	}
	if r.store.Saves() != 1 {
		t.Errorf("Expected one counter write, got %d", r.store.Saves())
	}

	records := r.chor.Records()
	if len(records) != 1 || records[0].Piece != whiteKnight || records[0].Slot != 0 {
		t.Errorf("Unexpected capture records %+v", records)
	}
}

func TestCaptureUsesPersistedCounter(t *testing.T) {
	r := newTestRobot(t, storage.Counters{White: 3})
	r.tracker.Put(board.MustParseSquare("e4"), blackPawn)
	r.tracker.Put(board.MustParseSquare("d5"), whitePawn)

	r.chor.Execute(mustParse(t, "N;e4d5;1"))

	records := r.chor.Records()
	if len(records) != 1 || records[0].Slot != 3 {
		t.Fatalf("Expected slot 3, got %+v", records)
	}
	if c := r.chor.Counters(); c.White != 4 {
		t.Errorf("Expected white=4, got %d", c.White)
	}
}

func TestEnPassant(t *testing.T) {
	r := newTestRobot(t, storage.Counters{})
	if err := r.tracker.LoadPlacement("4k3/8/8/3pP3/8/8/8/4K3"); err != nil {
		t.Fatalf("LoadPlacement failed: %v", err)
	}

	if err := r.chor.Execute(mustParse(t, "B;e5d6;0")); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	expectPiece(t, r.tracker, "d5", empty)
	expectPiece(t, r.tracker, "d6", whitePawn)
	expectPiece(t, r.tracker, "e5", empty)

	cmds := r.rec.commands()
	if len(cmds) != 2*transferLines {
		t.Fatalf("Expected %d commands, got %d", 2*transferLines, len(cmds))
	}
	// d5: rank 4, file 3
	if cmds[0] != "G0 X245.00 Y295.00 F3000" {
		t.Errorf("Expected removal from d5, got %q", cmds[0])
	}

	if c := r.chor.Counters(); c.Black != 1 {
		t.Errorf("Expected black=1, got %+v", c)
	}
}

func TestDiagonalPawnMoveOntoPieceIsNotEnPassant(t *testing.T) {
	r := newTestRobot(t, storage.Counters{})
	r.tracker.Put(board.MustParseSquare("e4"), whitePawn)
	r.tracker.Put(board.MustParseSquare("d5"), blackPawn)

	r.chor.Execute(mustParse(t, "B;e4d5;1"))

	// a plain capture removes the piece on the destination
	records := r.chor.Records()
	if len(records) != 1 || records[0].From != board.MustParseSquare("d5") {
		t.Errorf("Expected capture from d5, got %+v", records)
	}
}

func TestCastlingTable(t *testing.T) {
	tests := []struct {
		line      string
		placement string
		king      string
		rookFrom  string
		rookTo    string
		color     board.Color
	}{
		{"B;e1g1;0", "4k3/8/8/8/8/8/8/4K2R", "g1", "h1", "f1", board.White},
		{"B;e1c1;0", "4k3/8/8/8/8/8/8/R3K3", "c1", "a1", "d1", board.White},
		{"N;e8g8;0", "4k2r/8/8/8/8/8/8/4K3", "g8", "h8", "f8", board.Black},
		{"N;e8c8;0", "r3k3/8/8/8/8/8/8/4K3", "c8", "a8", "d8", board.Black},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			r := newTestRobot(t, storage.Counters{})
			if err := r.tracker.LoadPlacement(tt.placement); err != nil {
				t.Fatalf("LoadPlacement failed: %v", err)
			}

			r.chor.Execute(mustParse(t, tt.line))

			expectPiece(t, r.tracker, tt.king, board.Piece{Color: tt.color, Type: board.King})
			expectPiece(t, r.tracker, tt.rookTo, board.Piece{Color: tt.color, Type: board.Rook})
			expectPiece(t, r.tracker, tt.rookFrom, empty)
			expectPiece(t, r.tracker, tt.line[2:4], empty)

			if n := len(r.rec.commands()); n != 2*transferLines {
				t.Errorf("Expected %d commands, got %d", 2*transferLines, n)
			}
			if r.store.Saves() != 0 {
				t.Error("Castling must not touch capture storage")
			}
		})
	}
}

func TestCastlingMoveWithoutKingIsOrdinary(t *testing.T) {
	r := newTestRobot(t, storage.Counters{})
	if err := r.tracker.LoadPlacement("4k3/8/8/8/8/8/8/4R2R"); err != nil {
		t.Fatalf("LoadPlacement failed: %v", err)
	}

	r.chor.Execute(mustParse(t, "B;e1g1;0"))

	expectPiece(t, r.tracker, "g1", board.Piece{Color: board.White, Type: board.Rook})
	expectPiece(t, r.tracker, "h1", board.Piece{Color: board.White, Type: board.Rook})
	expectPiece(t, r.tracker, "f1", empty)
}

func TestPromotion(t *testing.T) {
	r := newTestRobot(t, storage.Counters{})
	if err := r.tracker.LoadPlacement("4k3/P7/8/8/8/8/8/4K3"); err != nil {
		t.Fatalf("LoadPlacement failed: %v", err)
	}

	r.chor.Execute(mustParse(t, "B;a7a8q;0"))

	expectPiece(t, r.tracker, "a8", board.Piece{Color: board.White, Type: board.Queen})
	expectPiece(t, r.tracker, "a7", empty)
}

func TestEmptySourceIsDesync(t *testing.T) {
	r := newTestRobot(t, storage.Counters{})

	if err := r.chor.Execute(mustParse(t, "B;e4e5;0")); err != nil {
		t.Fatalf("Desync must not be an error, got %v", err)
	}

	if warnings(r.logs, "no piece on source square") != 1 {
		t.Error("Expected a desync warning for the empty source square")
	}
	if r.tracker.Count() != 32 {
		t.Errorf("Expected tracker unchanged, got %d pieces", r.tracker.Count())
	}
}

func TestCaptureWithEmptyTargetSkipsRemoval(t *testing.T) {
	r := newTestRobot(t, storage.Counters{})

	r.chor.Execute(mustParse(t, "B;e2e4;1"))

	if warnings(r.logs, "no piece to capture") != 1 {
		t.Error("Expected a desync warning for the missing captured piece")
	}
	if n := len(r.rec.commands()); n != transferLines {
		t.Errorf("Expected only the primary transfer, got %d commands", n)
	}
	expectPiece(t, r.tracker, "e4", whitePawn)
}

func TestCaptureZoneFull(t *testing.T) {
	r := newTestRobot(t, storage.Counters{White: SlotsPerColor})
	r.tracker.Put(board.MustParseSquare("e4"), blackPawn)
	r.tracker.Put(board.MustParseSquare("d5"), whitePawn)

	r.chor.Execute(mustParse(t, "N;e4d5;1"))

	if n := r.logs.FilterLevelExact(zapcore.ErrorLevel).FilterMessageSnippet("No capture slot").Len(); n != 1 {
		t.Errorf("Expected one zone-full error, got %d", n)
	}
	if n := len(r.rec.commands()); n != transferLines {
		t.Errorf("Expected only the primary transfer, got %d commands", n)
	}
	if c := r.chor.Counters(); c.White != SlotsPerColor {
		t.Errorf("Counter must not grow past capacity, got %d", c.White)
	}
	expectPiece(t, r.tracker, "d5", blackPawn)
}

func TestInvalidMoveText(t *testing.T) {
	r := newTestRobot(t, storage.Counters{})

	for _, move := range []string{"e2", "z9e4", "e2e9"} {
		err := r.chor.Execute(relay.MoveCommand{Color: board.White, Move: move})
		if !errors.Is(err, ErrInvalidMove) {
			t.Errorf("%q: expected ErrInvalidMove, got %v", move, err)
		}
	}

	if n := len(r.rec.commands()); n != 0 {
		t.Errorf("Expected no motion for invalid moves, got %d commands", n)
	}
	if r.chor.State() != StateIdle {
		t.Errorf("Expected idle after rejection, got %s", r.chor.State())
	}
}

func TestNullMoveLeavesTrackerIntact(t *testing.T) {
	r := newTestRobot(t, storage.Counters{})

	err := r.chor.Execute(mustParse(t, "B;e2e2;0"))
	if !errors.Is(err, ErrInvalidMove) {
		t.Fatalf("Expected ErrInvalidMove, got %v", err)
	}
	if n := len(r.rec.commands()); n != 0 {
		t.Errorf("Expected no motion for a null move, got %d commands", n)
	}

	tr := r.chor.Tracker()
	if tr.Count() != 32 {
		t.Errorf("Expected 32 pieces, got %d", tr.Count())
	}
	if _, ok := tr.Occupant(board.MustParseSquare("e2")); !ok {
		t.Error("Expected the pawn to remain on e2")
	}
}

func TestActuationFailureContinues(t *testing.T) {
	r := newTestRobot(t, storage.Counters{})
	r.rec.fail["M3 S1000"] = errors.New("gripper jammed")

	r.chor.Execute(mustParse(t, "B;e2e4;0"))

	if n := len(r.rec.commands()); n != transferLines {
		t.Errorf("Expected the full sequence despite the failure, got %d commands", n)
	}
	expectPiece(t, r.tracker, "e4", whitePawn)
}

func TestRefereeAgreement(t *testing.T) {
	r := newTestRobot(t, storage.Counters{})
	r.chor.SetReferee(rules.NewGame())

	for _, line := range []string{"B;e2e4;0", "N;d7d5;0", "B;e4d5;1", "N;d8d5;1", "B;e1e2;0"} {
		r.chor.Execute(mustParse(t, line))
	}

	if n := r.logs.FilterLevelExact(zapcore.WarnLevel).Len(); n != 0 {
		t.Errorf("Expected no desync warnings, got %d: %v", n, r.logs.All())
	}
	if c := r.chor.Counters(); c.White != 1 || c.Black != 1 {
		t.Errorf("Expected one capture per color, got %+v", c)
	}
}

func TestRefereeFlagsWrongCaptureFlag(t *testing.T) {
	r := newTestRobot(t, storage.Counters{})
	r.chor.SetReferee(rules.NewGame())

	r.chor.Execute(mustParse(t, "B;e2e4;0"))
	r.chor.Execute(mustParse(t, "N;d7d5;0"))
	// capture relayed without its flag
	r.chor.Execute(mustParse(t, "B;e4d5;0"))

	if warnings(r.logs, "capture flag disagrees") != 1 {
		t.Error("Expected a capture flag warning")
	}
	if warnings(r.logs, "destination still occupied") != 1 {
		t.Error("Expected the tracker to report the occupied destination")
	}
}
