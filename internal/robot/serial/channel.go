// Package serial implements the line-oriented command channel to the motion
// controller.
package serial

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrRejected means the controller answered with an error line
	ErrRejected = errors.New("command rejected")

	// ErrNoAck means the attempt budget ran out before any ok/error line; the
	// command may or may not have been executed
	ErrNoAck = errors.New("no acknowledgement")

	// ErrClosed means the transport is gone
	ErrClosed = errors.New("channel closed")
)

const lineBuffer = 64

// Direction of a line on the wire
type Direction string

const (
	Sent     Direction = "tx"
	Received Direction = "rx"
)

// Traffic is one line seen on the channel
type Traffic struct {
	Direction Direction `json:"direction"`
	Line      string    `json:"line"`
	Time      time.Time `json:"time"`
}

// Options configures a Channel
type Options struct {
	AckAttempts int
	AckInterval time.Duration
	Logger      *zap.Logger
}

// Stats counts channel outcomes
type Stats struct {
	Sent     uint64 `json:"sent"`
	Acked    uint64 `json:"acked"`
	Rejected uint64 `json:"rejected"`
	NoAck    uint64 `json:"no_ack"`
	Stale    uint64 `json:"stale"`
}

// Channel sends one command at a time over a byte stream and matches it with
// the next ok/error reply
type Channel struct {
	rw       io.ReadWriteCloser
	lines    chan string
	attempts int
	interval time.Duration
	logger   *zap.Logger

	// one outstanding command at a time
	mu sync.Mutex

	subMu sync.RWMutex
	subs  map[string]func(Traffic)

	sent     atomic.Uint64
	acked    atomic.Uint64
	rejected atomic.Uint64
	noAck    atomic.Uint64
	stale    atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// NewChannel wraps rw and starts the background line reader
func NewChannel(rw io.ReadWriteCloser, opts Options) *Channel {
	if opts.AckAttempts <= 0 {
		opts.AckAttempts = 10
	}
	if opts.AckInterval <= 0 {
		opts.AckInterval = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Channel{
		rw:       rw,
		lines:    make(chan string, lineBuffer),
		attempts: opts.AckAttempts,
		interval: opts.AckInterval,
		logger:   opts.Logger,
		subs:     make(map[string]func(Traffic)),
		done:     make(chan struct{}),
	}

	go c.readLoop()
	return c
}

// readLoop splits the stream into lines, echoes them and hands them to Send
func (c *Channel) readLoop() {
	defer close(c.lines)

	scanner := bufio.NewScanner(c.rw)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		c.logger.Info("Robot <<<", zap.String("line", line))
		c.publish(Traffic{Direction: Received, Line: line, Time: time.Now()})

		select {
		case c.lines <- line:
		default:
			// nobody is waiting for replies; drop the oldest
			select {
			case <-c.lines:
				c.stale.Add(1)
			default:
			}
			c.lines <- line
		}
	}

	select {
	case <-c.done:
	default:
		if err := scanner.Err(); err != nil {
			c.logger.Error("Serial read failed", zap.Error(err))
		}
	}
}

// Send writes cmd and waits for its acknowledgement. ErrNoAck is an unknown
// outcome, not a failure. Send never retries.
func (c *Channel) Send(cmd string) error {
	cmd = strings.TrimSpace(cmd)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.drainStale()

	if err := c.write(cmd); err != nil {
		return err
	}

	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for attempt := 0; attempt < c.attempts; attempt++ {
		select {
		case line, ok := <-c.lines:
			if !ok {
				return ErrClosed
			}

			lower := strings.ToLower(line)
			if strings.Contains(lower, "ok") {
				c.acked.Add(1)
				return nil
			}
			if strings.Contains(lower, "error") {
				c.rejected.Add(1)
				c.logger.Warn("Command rejected",
					zap.String("command", cmd),
					zap.String("reply", line),
				)
				return fmt.Errorf("%w: %s: %s", ErrRejected, cmd, line)
			}

		case <-timer.C:
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(c.interval)
	}

	c.noAck.Add(1)
	c.logger.Warn("No acknowledgement, continuing",
		zap.String("command", cmd),
		zap.Int("attempts", c.attempts),
		zap.Duration("interval", c.interval),
	)
	return fmt.Errorf("%w: %s", ErrNoAck, cmd)
}

// SendNoWait writes cmd without waiting for a reply
func (c *Channel) SendNoWait(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.write(strings.TrimSpace(cmd))
}

// ReadLine waits up to timeout for an unsolicited line such as a startup
// banner
func (c *Channel) ReadLine(timeout time.Duration) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case line, ok := <-c.lines:
		return line, ok
	case <-time.After(timeout):
		return "", false
	}
}

func (c *Channel) write(cmd string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	if _, err := io.WriteString(c.rw, cmd+"\n"); err != nil {
		c.logger.Error("Serial write failed", zap.String("command", cmd), zap.Error(err))
		return fmt.Errorf("write %q: %w", cmd, err)
	}

	c.sent.Add(1)
	c.logger.Info("Robot >>>", zap.String("line", cmd))
	c.publish(Traffic{Direction: Sent, Line: cmd, Time: time.Now()})
	return nil
}

// drainStale discards replies that arrived after an earlier command gave up
// waiting, so they are not matched with the next command
func (c *Channel) drainStale() {
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				return
			}
			c.stale.Add(1)
			c.logger.Debug("Discarding stale reply", zap.String("line", line))
		default:
			return
		}
	}
}

// Subscribe registers fn for every line sent or received and returns the
// function that removes it
func (c *Channel) Subscribe(fn func(Traffic)) func() {
	id := uuid.NewString()

	c.subMu.Lock()
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Channel) publish(t Traffic) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, fn := range c.subs {
		fn(t)
	}
}

// Stats returns a snapshot of the counters
func (c *Channel) Stats() Stats {
	return Stats{
		Sent:     c.sent.Load(),
		Acked:    c.acked.Load(),
		Rejected: c.rejected.Load(),
		NoAck:    c.noAck.Load(),
		Stale:    c.stale.Load(),
	}
}

// Close closes the transport
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.rw.Close()
	})
	return err
}
