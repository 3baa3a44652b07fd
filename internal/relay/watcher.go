package relay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Handler performs a relayed move. It runs on the watcher goroutine and is
// never interrupted by Stop.
type Handler func(MoveCommand) error

// WatcherConfig holds configuration for the relay watcher
type WatcherConfig struct {
	Path         string
	PollInterval time.Duration

	// Handler executes each accepted move
	Handler Handler

	// OnComplete runs after Handler, e.g. to release a waiting game loop
	OnComplete func(MoveCommand)

	Logger *zap.Logger
}

// WatcherStats counts watcher outcomes
type WatcherStats struct {
	Polls    uint64 `json:"polls"`
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	Repeated uint64 `json:"repeated"`
	Errors   uint64 `json:"errors"`
}

// Watcher polls the relay file and hands every new line to the handler
type Watcher struct {
	path     string
	interval time.Duration
	handler  Handler
	onDone   func(MoveCommand)
	logger   *zap.Logger

	// state of the poll loop, only touched by its goroutine
	seen   os.FileInfo
	last   string
	primed bool

	lastMu   sync.RWMutex
	lastMove *MoveCommand

	polls    atomic.Uint64
	accepted atomic.Uint64
	rejected atomic.Uint64
	repeated atomic.Uint64
	errs     atomic.Uint64

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning atomic.Bool
	stopping  atomic.Bool
}

// NewWatcher creates a watcher for cfg.Path
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Watcher{
		path:     cfg.Path,
		interval: cfg.PollInterval,
		handler:  cfg.Handler,
		onDone:   cfg.OnComplete,
		logger:   cfg.Logger,
	}
}

// Start begins polling in the background until ctx is cancelled or Stop is
// called
func (w *Watcher) Start(ctx context.Context) error {
	if w.isRunning.Swap(true) {
		return fmt.Errorf("relay watcher already running")
	}
	w.stopping.Store(false)

	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.pollLoop(ctx)

	w.logger.Info("Watching relay file",
		zap.String("path", w.path),
		zap.Duration("interval", w.interval),
	)
	return nil
}

// Stop ends polling. A move already being executed runs to completion; Stop
// waits for it up to timeout.
func (w *Watcher) Stop(timeout time.Duration) error {
	if !w.isRunning.Load() {
		return nil
	}

	w.stopping.Store(true)
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.isRunning.Store(false)
		w.logger.Info("Relay watcher stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("relay watcher still executing a move after %v", timeout)
	}
}

// Wait blocks until the poll loop has exited
func (w *Watcher) Wait() {
	w.wg.Wait()
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer w.wg.Done()
	defer w.isRunning.Store(false)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if w.stopping.Load() {
			return
		}

		w.Poll()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll runs one cycle: read the file if its mtime changed and apply a new
// line. The first cycle only records what is already there. Poll must not be
// called while the watcher is started.
func (w *Watcher) Poll() {
	w.polls.Add(1)

	info, err := os.Stat(w.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.errs.Add(1)
			w.logger.Warn("Failed to stat relay file", zap.String("path", w.path), zap.Error(err))
		}
		w.primed = true
		return
	}

	if w.primed && unchanged(w.seen, info) {
		return
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		w.errs.Add(1)
		w.logger.Warn("Failed to read relay file", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.seen = info

	line := strings.TrimSpace(string(data))

	if !w.primed {
		// a line left by an earlier run has already been played
		w.primed = true
		w.last = line
		if line != "" {
			w.logger.Info("Ignoring existing relay line", zap.String("line", line))
		}
		return
	}

	if line == "" {
		return
	}
	if line == w.last {
		w.repeated.Add(1)
		return
	}
	w.last = line

	cmd, err := Parse(line)
	if err != nil {
		w.rejected.Add(1)
		w.logger.Warn("Rejecting relay line", zap.String("line", line), zap.Error(err))
		return
	}

	w.accepted.Add(1)
	w.lastMu.Lock()
	w.lastMove = &cmd
	w.lastMu.Unlock()

	w.logger.Info("Relay move received",
		zap.String("move", cmd.Move),
		zap.Stringer("color", cmd.Color),
		zap.Bool("capture", cmd.Capture),
	)

	if w.handler != nil {
		if err := w.handler(cmd); err != nil {
			w.logger.Warn("Relay move not executed", zap.String("move", cmd.Move), zap.Error(err))
		}
	}
	if w.onDone != nil {
		w.onDone(cmd)
	}
}

// unchanged reports whether cur is the same file with the same mtime and
// size as prev. The writer replaces the file by rename, so a new line is also
// a new inode even within one mtime tick.
func unchanged(prev, cur os.FileInfo) bool {
	if prev == nil {
		return false
	}
	return os.SameFile(prev, cur) &&
		prev.ModTime().Equal(cur.ModTime()) &&
		prev.Size() == cur.Size()
}

// LastMove returns the last accepted move
func (w *Watcher) LastMove() (MoveCommand, bool) {
	w.lastMu.RLock()
	defer w.lastMu.RUnlock()

	if w.lastMove == nil {
		return MoveCommand{}, false
	}
	return *w.lastMove, true
}

// IsRunning reports whether the poll loop is active
func (w *Watcher) IsRunning() bool {
	return w.isRunning.Load()
}

// Stats returns a snapshot of the counters
func (w *Watcher) Stats() WatcherStats {
	return WatcherStats{
		Polls:    w.polls.Load(),
		Accepted: w.accepted.Load(),
		Rejected: w.rejected.Load(),
		Repeated: w.repeated.Load(),
		Errors:   w.errs.Load(),
	}
}
