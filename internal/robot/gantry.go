package robot

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/thyrook/chessarm/internal/config"
	"github.com/thyrook/chessarm/internal/robot/serial"
)

// Commander is the command channel the gantry drives
type Commander interface {
	Send(cmd string) error
	ReadLine(timeout time.Duration) (string, bool)
}

// Position is the last commanded tool position
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// bannerTimeout bounds the wait for the controller start-up banner
const bannerTimeout = time.Second

// Gantry issues the G-code micro-steps of the XY gantry, the Z axis and the
// gripper
type Gantry struct {
	cmd    Commander
	cfg    *config.Config
	logger *zap.Logger
	sleep  func(time.Duration)

	mu        sync.RWMutex
	pos       Position
	connected bool
}

// NewGantry creates a gantry driving cmd with the geometry and timings of cfg
func NewGantry(cmd Commander, cfg *config.Config, logger *zap.Logger) *Gantry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gantry{
		cmd:    cmd,
		cfg:    cfg,
		logger: logger,
		sleep:  time.Sleep,
	}
}

// SetSleeper replaces time.Sleep for every actuator delay
func (g *Gantry) SetSleeper(fn func(time.Duration)) {
	g.sleep = fn
}

// Connect performs the start-up handshake: wait for the controller reset,
// read its banner and select mm, absolute and feed-per-minute modes. Only a
// closed channel is returned as an error; rejected set-up commands are
// logged.
func (g *Gantry) Connect() error {
	g.sleep(g.cfg.Serial.StartupDelay.Duration())

	if banner, ok := g.cmd.ReadLine(bannerTimeout); ok {
		g.logger.Info("Controller banner", zap.String("banner", banner))
	} else {
		g.logger.Debug("No controller banner")
	}

	setup := []string{
		"G21",
		"G90",
		"G94",
		fmt.Sprintf("F%d", g.cfg.Speeds.Travel),
	}
	for _, c := range setup {
		if err := g.cmd.Send(c); err != nil {
			if errors.Is(err, serial.ErrClosed) {
				return fmt.Errorf("controller handshake: %w", err)
			}
			g.logger.Warn("Set-up command failed", zap.String("command", c), zap.Error(err))
		}
	}

	g.mu.Lock()
	g.connected = true
	g.mu.Unlock()

	g.logger.Info("Robot connected")
	return nil
}

// Connected reports whether the handshake has completed
func (g *Gantry) Connected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected
}

// Home homes X and Y, raises to the safe height and parks over the board
// origin
func (g *Gantry) Home() error {
	g.logger.Info("Homing robot")

	err := g.send("G28 X Y")
	err = multierr.Append(err, g.send(fmt.Sprintf("G0 Z%.2f", g.cfg.Heights.Safe)))
	err = multierr.Append(err, g.send(fmt.Sprintf("G0 X%.2f Y%.2f", g.cfg.Board.OffsetX, g.cfg.Board.OffsetY)))

	g.setPosition(g.cfg.Board.OffsetX, g.cfg.Board.OffsetY, g.cfg.Heights.Safe)
	return err
}

// MoveTo moves XY at feed, waits for the gantry to settle, then drives Z.
// A failed step is logged and the remaining steps still run.
func (g *Gantry) MoveTo(x, y, z float64, feed int) error {
	err := g.send(fmt.Sprintf("G0 X%.2f Y%.2f F%d", x, y, feed))
	g.sleep(g.cfg.ZAxis.SettleDelay.Duration())

	err = multierr.Append(err, g.moveZ(z))

	g.setPosition(x, y, z)
	return err
}

func (g *Gantry) moveZ(z float64) error {
	if g.cfg.ZAxis.CoordinateMode() {
		return g.send(fmt.Sprintf("G0 Z%.2f F%d", z, g.cfg.Speeds.Travel))
	}

	cmd := g.cfg.ZAxis.UpCommand
	if z <= g.cfg.Heights.Grab {
		cmd = g.cfg.ZAxis.DownCommand
	}
	err := g.send(cmd)
	g.sleep(g.cfg.ZAxis.MoveDelay.Duration())
	return err
}

// Grab closes the gripper
func (g *Gantry) Grab() error {
	err := g.send(g.cfg.Gripper.GrabCommand)
	g.sleep(g.cfg.Gripper.GrabDelay.Duration())
	return err
}

// Release opens the gripper
func (g *Gantry) Release() error {
	err := g.send(g.cfg.Gripper.ReleaseCommand)
	g.sleep(g.cfg.Gripper.ReleaseDelay.Duration())
	return err
}

// Position returns the last commanded position
func (g *Gantry) Position() Position {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pos
}

func (g *Gantry) setPosition(x, y, z float64) {
	g.mu.Lock()
	g.pos = Position{X: x, Y: y, Z: z}
	g.mu.Unlock()
}

func (g *Gantry) send(cmd string) error {
	if err := g.cmd.Send(cmd); err != nil {
		g.logger.Warn("Actuation step failed, continuing",
			zap.String("command", cmd),
			zap.Error(err),
		)
		return err
	}
	return nil
}
