// Package relay carries moves from the game loop to the robot through a
// one-line text file.
package relay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/thyrook/chessarm/internal/board"
)

// Parse errors
var (
	ErrFieldCount  = errors.New("expected COLOR;move or COLOR;move;capture")
	ErrColorTag    = errors.New("unknown color tag")
	ErrMoveText    = errors.New("invalid move text")
	ErrCaptureFlag = errors.New("capture flag must be 0 or 1")
)

// Color tags on the wire. B and W both mean white, N means black.
const (
	TagWhite = "B"
	TagBlack = "N"
)

// MoveCommand is one relayed move
type MoveCommand struct {
	Color    board.Color `json:"color"`
	ColorTag string      `json:"color_tag"`
	Move     string      `json:"move"`
	Capture  bool        `json:"capture"`
}

// NewMoveCommand builds a command with the canonical tag for color
func NewMoveCommand(color board.Color, uci string, capture bool) MoveCommand {
	tag := TagWhite
	if color == board.Black {
		tag = TagBlack
	}
	return MoveCommand{
		Color:    color,
		ColorTag: tag,
		Move:     strings.ToLower(uci),
		Capture:  capture,
	}
}

// Parse decodes "COLOR;uci;capture" or the older "COLOR;uci"
func Parse(line string) (MoveCommand, error) {
	parts := strings.Split(strings.TrimSpace(line), ";")
	if len(parts) != 2 && len(parts) != 3 {
		return MoveCommand{}, fmt.Errorf("%w: %q", ErrFieldCount, line)
	}

	tag := strings.ToUpper(strings.TrimSpace(parts[0]))
	var color board.Color
	switch tag {
	case "B", "W":
		color = board.White
	case "N":
		color = board.Black
	default:
		return MoveCommand{}, fmt.Errorf("%w: %q", ErrColorTag, parts[0])
	}

	move := strings.ToLower(strings.TrimSpace(parts[1]))
	if len(move) < 4 {
		return MoveCommand{}, fmt.Errorf("%w: %q", ErrMoveText, parts[1])
	}

	capture := false
	if len(parts) == 3 {
		switch strings.TrimSpace(parts[2]) {
		case "1":
			capture = true
		case "0":
		default:
			return MoveCommand{}, fmt.Errorf("%w: %q", ErrCaptureFlag, parts[2])
		}
	}

	return MoveCommand{
		Color:    color,
		ColorTag: tag,
		Move:     move,
		Capture:  capture,
	}, nil
}

// Format encodes cmd as a three-field relay line
func Format(cmd MoveCommand) string {
	tag := cmd.ColorTag
	if tag == "" {
		tag = TagWhite
		if cmd.Color == board.Black {
			tag = TagBlack
		}
	}

	flag := "0"
	if cmd.Capture {
		flag = "1"
	}
	return tag + ";" + cmd.Move + ";" + flag
}

// String returns the relay line
func (c MoveCommand) String() string {
	return Format(c)
}
