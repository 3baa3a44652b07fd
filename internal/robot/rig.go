package robot

import (
	"fmt"
	"io"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/thyrook/chessarm/internal/board"
	"github.com/thyrook/chessarm/internal/config"
	"github.com/thyrook/chessarm/internal/robot/serial"
	"github.com/thyrook/chessarm/internal/storage"
)

// simulatorBanner is printed by the simulated controller on start-up
const simulatorBanner = "Grbl 1.1h ['$' for help]"

// Rig is a connected robot: command channel, gantry, board tracker,
// capture store and choreographer
type Rig struct {
	Channel       *serial.Channel
	Gantry        *Gantry
	Tracker       *board.Tracker
	Choreographer *Choreographer
	Store         storage.CounterStore

	closeStore func() error
}

// OpenRig opens the controller (or the simulator in dry-run mode), the
// capture store, performs the handshake and homes the gantry. Failing to open
// the port or the store is the only error; a failed homing is logged.
func OpenRig(cfg *config.Config, logger *zap.Logger) (*Rig, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var rw io.ReadWriteCloser
	if cfg.Serial.Simulate {
		logger.Info("Using simulated controller")
		rw = serial.NewSimulator(simulatorBanner)
	} else {
		port, err := serial.OpenSerial(cfg.Serial.Port, cfg.Serial.Baud)
		if err != nil {
			return nil, err
		}
		logger.Info("Serial port opened", zap.String("port", port.Name()), zap.Int("baud", cfg.Serial.Baud))
		rw = port
	}

	ch := serial.NewChannel(rw, serial.Options{
		AckAttempts: cfg.Serial.AckAttempts,
		AckInterval: cfg.Serial.AckInterval.Duration(),
		Logger:      logger.Named("serial"),
	})

	rig := &Rig{Channel: ch, closeStore: func() error { return nil }}

	if cfg.Storage.DBPath != "" {
		store, err := storage.NewCaptureStore(cfg.Storage.DBPath)
		if err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to open capture store: %w", err)
		}
		rig.Store = store
		rig.closeStore = store.Close
	} else {
		logger.Warn("No store path configured, capture counters will not survive a restart")
		rig.Store = storage.NewMemoryStore(storage.Counters{})
	}

	rig.Gantry = NewGantry(ch, cfg, logger.Named("gantry"))
	if cfg.Serial.Simulate {
		rig.Gantry.SetSleeper(func(time.Duration) {})
	}

	rig.Tracker = board.NewTracker(logger.Named("board"))
	rig.Choreographer = NewChoreographer(rig.Gantry, NewMapper(cfg.Board, cfg.Capture),
		rig.Tracker, rig.Store, cfg, logger.Named("choreographer"))

	if err := rig.Gantry.Connect(); err != nil {
		rig.Close()
		return nil, err
	}
	if err := rig.Gantry.Home(); err != nil {
		logger.Warn("Homing incomplete", zap.Error(err))
	}

	return rig, nil
}

// Close releases the controller and the capture store
func (r *Rig) Close() error {
	return multierr.Combine(r.Channel.Close(), r.closeStore())
}
