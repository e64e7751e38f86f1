package manager

import (
	"time"

	"llamacore/internal/scheduler"
)

// State represents lifecycle state of the manager/instances.
type State string

const (
	StateReady    State = "ready"
	StateLoading  State = "loading"
	StateDraining State = "draining"
	StateError    State = "error"
)

// ModelInfo is a minimal view of the current model.
type ModelInfo struct {
	ID     string
	Name   string
	Path   string
	Quant  string
	Family string
}

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State        State
	CurrentModel *ModelInfo
	Err          string
}

// Instance represents a live engine (one per model id).
type Instance struct {
	ID        string
	Path      string
	State     State
	LastUsed  time.Time
	EstVRAMMB int
	// Engine is nil until the instance leaves StateLoading.
	Engine *scheduler.Scheduler

	queueCh chan struct{} // buffered: admitted requests
	loaded  chan struct{} // closed once loading finished
	loadErr error
}

// idle reports whether no admitted request holds the instance.
func (inst *Instance) idle() bool { return len(inst.queueCh) == 0 }
