package board

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseSquare(t *testing.T) {
	sq, err := ParseSquare("e4")
	if err != nil {
		t.Fatalf("ParseSquare failed: %v", err)
	}
	if sq.File() != 4 || sq.Rank() != 3 {
		t.Errorf("Expected file=4 rank=3, got file=%d rank=%d", sq.File(), sq.Rank())
	}
	if sq.String() != "e4" {
		t.Errorf("Expected e4, got %s", sq.String())
	}

	for _, bad := range []string{"", "e", "e9", "i1", "E4", "e44"} {
		if _, err := ParseSquare(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestSquareRoundTrip(t *testing.T) {
	for sq := Square(0); sq < 64; sq++ {
		parsed, err := ParseSquare(sq.String())
		if err != nil {
			t.Fatalf("ParseSquare(%s) failed: %v", sq, err)
		}
		if parsed != sq {
			t.Errorf("Round trip mismatch: %d -> %s -> %d", sq, sq, parsed)
		}
	}
}

func TestParseMove(t *testing.T) {
	from, to, err := ParseMove("e7e8q")
	if err != nil {
		t.Fatalf("ParseMove failed: %v", err)
	}
	if from.String() != "e7" || to.String() != "e8" {
		t.Errorf("Expected e7e8, got %s%s", from, to)
	}

	if _, _, err := ParseMove("e2e"); err == nil {
		t.Error("Expected error for short move")
	}
	if _, _, err := ParseMove("z2e4"); err == nil {
		t.Error("Expected error for invalid square")
	}
	if _, _, err := ParseMove("e2e2"); err == nil {
		t.Error("Expected error for a move onto its own square")
	}
}

func TestTrackerStartLayout(t *testing.T) {
	tr := NewTracker(nil)

	if tr.Count() != 32 {
		t.Errorf("Expected 32 pieces, got %d", tr.Count())
	}

	checks := map[string]Piece{
		"e1": {White, King},
		"d8": {Black, Queen},
		"a2": {White, Pawn},
		"g8": {Black, Knight},
	}
	for name, want := range checks {
		got, ok := tr.Occupant(MustParseSquare(name))
		if !ok || got != want {
			t.Errorf("%s: expected %s, got %s", name, want, got)
		}
	}

	if _, ok := tr.Occupant(MustParseSquare("e4")); ok {
		t.Error("e4 should be empty")
	}

	if tr.Placement() != StartPlacement {
		t.Errorf("Expected placement %s, got %s", StartPlacement, tr.Placement())
	}
}

func TestTrackerMoveRoundTrip(t *testing.T) {
	tr := NewTracker(nil)
	a2 := MustParseSquare("a2")
	a4 := MustParseSquare("a4")

	original, _ := tr.Occupant(a2)

	if !tr.Move(a2, a4) {
		t.Fatal("Move a2a4 failed")
	}
	if !tr.Move(a4, a2) {
		t.Fatal("Move a4a2 failed")
	}

	got, ok := tr.Occupant(a2)
	if !ok || got != original {
		t.Errorf("Expected %s back on a2, got %s", original, got)
	}
	if _, ok := tr.Occupant(a4); ok {
		t.Error("a4 should be empty after round trip")
	}
}

func TestTrackerMoveFromEmptyIsDesync(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	tr := NewTracker(zap.New(core))

	if tr.Move(MustParseSquare("e4"), MustParseSquare("e5")) {
		t.Error("Move from empty square should fail")
	}
	if tr.Count() != 32 {
		t.Errorf("Board changed after failed move: %d pieces", tr.Count())
	}
	if logs.FilterMessageSnippet("desync").Len() != 1 {
		t.Errorf("Expected one desync warning, got %d", logs.Len())
	}
}

func TestTrackerMoveOntoSameSquareKeepsPiece(t *testing.T) {
	tr := NewTracker(nil)
	e2 := MustParseSquare("e2")

	if !tr.Move(e2, e2) {
		t.Error("Expected an occupied square to report success")
	}
	if p, ok := tr.Occupant(e2); !ok || p != (Piece{Color: White, Type: Pawn}) {
		t.Errorf("Expected white pawn to stay on e2, got %v", p)
	}
	if tr.Count() != 32 {
		t.Errorf("Expected 32 pieces, got %d", tr.Count())
	}
}

func TestTrackerRemove(t *testing.T) {
	tr := NewTracker(nil)
	d7 := MustParseSquare("d7")

	p, ok := tr.Remove(d7)
	if !ok || p != (Piece{Black, Pawn}) {
		t.Errorf("Expected black pawn removed, got %s", p)
	}
	if _, ok := tr.Remove(d7); ok {
		t.Error("Second remove should report empty")
	}
}

func TestTrackerLoadPlacementAndDiff(t *testing.T) {
	tr := NewTracker(nil)
	const placement = "4k3/8/8/3pP3/8/8/8/4K3"

	if err := tr.LoadPlacement(placement + " w - d6 0 1"); err != nil {
		t.Fatalf("LoadPlacement failed: %v", err)
	}
	if tr.Placement() != placement {
		t.Errorf("Expected %s, got %s", placement, tr.Placement())
	}

	other := tr.Snapshot()
	if diff := tr.Diff(other); len(diff) != 0 {
		t.Errorf("Snapshot should not differ, got %v", diff)
	}

	delete(other, MustParseSquare("d5"))
	diff := tr.Diff(other)
	if len(diff) != 1 || diff[0].String() != "d5" {
		t.Errorf("Expected diff [d5], got %v", diff)
	}

	for _, bad := range []string{"", "8/8/8", "9/8/8/8/8/8/8/8", "x7/8/8/8/8/8/8/8"} {
		if err := tr.LoadPlacement(bad); err == nil {
			t.Errorf("Expected error for placement %q", bad)
		}
	}
}
