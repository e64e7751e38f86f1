package engine

import (
	"errors"
	"sync"
)

var (
	// ErrSingleShotActive is returned when queued mode is requested while a
	// single-shot runner owns the process.
	ErrSingleShotActive = errors.New("single-shot runner is active")
	// ErrQueuedActive is returned when a single-shot runner is requested while
	// queued engines are running.
	ErrQueuedActive = errors.New("queued engine is running")
)

// ModeGuard keeps the queued serving mode and the single-shot runner mode
// mutually exclusive. Any number of queued engines may coexist; at most one
// single-shot runner may run, and only when no queued engine does.
// The zero value is ready to use.
type ModeGuard struct {
	mu     sync.Mutex
	queued int
	single bool
}

func (g *ModeGuard) EnterQueued() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.single {
		return ErrSingleShotActive
	}
	g.queued++
	return nil
}

func (g *ModeGuard) LeaveQueued() {
	g.mu.Lock()
	if g.queued > 0 {
		g.queued--
	}
	g.mu.Unlock()
}

func (g *ModeGuard) EnterSingle() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.single {
		return ErrSingleShotActive
	}
	if g.queued > 0 {
		return ErrQueuedActive
	}
	g.single = true
	return nil
}

func (g *ModeGuard) LeaveSingle() {
	g.mu.Lock()
	g.single = false
	g.mu.Unlock()
}
