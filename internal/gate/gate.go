// Package gate provides the manual-reset event that lets the game loop wait
// for the robot to finish a move.
package gate

import (
	"context"
	"sync"
	"time"
)

// Gate is a manual-reset event. Once set it stays set, releasing every
// waiter, until cleared.
type Gate struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

// New creates a cleared gate
func New() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Set opens the gate and releases all waiters
func (g *Gate) Set() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.set {
		return
	}
	g.set = true
	close(g.ch)
}

// Clear closes the gate for subsequent waiters
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.set {
		return
	}
	g.set = false
	g.ch = make(chan struct{})
}

// IsSet reports whether the gate is open
func (g *Gate) IsSet() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.set
}

// Wait blocks until the gate is set or timeout expires and reports whether
// it was set
func (g *Gate) Wait(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return g.WaitContext(ctx) == nil
}

// WaitContext blocks until the gate is set or ctx is done
func (g *Gate) WaitContext(ctx context.Context) error {
	g.mu.Lock()
	ch, set := g.ch, g.set
	g.mu.Unlock()

	// an expired ctx must not hide a gate that is already open
	if set {
		return nil
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
