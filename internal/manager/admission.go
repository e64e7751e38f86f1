package manager

import (
	"context"
	"time"

	"llamacore/internal/scheduler"
)

// acquire reserves an admission slot on inst, waiting up to maxWait when the
// queue is full. Returns a release func to be deferred.
func (m *Manager) acquire(ctx context.Context, inst *Instance) (func(), error) {
	timer := time.NewTimer(m.maxWait)
	defer timer.Stop()
	select {
	case inst.queueCh <- struct{}{}:
		// reserved queue slot
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		return func() {}, tooBusyError{modelID: inst.ID}
	}
	release := func() { <-inst.queueCh }

	m.mu.Lock()
	if inst.State != StateReady {
		// drained or evicted while we waited
		m.mu.Unlock()
		release()
		return func() {}, tooBusyError{modelID: inst.ID}
	}
	inst.LastUsed = time.Now()
	m.mu.Unlock()
	return release, nil
}

// WithEngine ensures modelID (or the default model) is running, admits the
// request against that instance's queue and calls fn with its scheduler. The
// slot is held until fn returns.
func (m *Manager) WithEngine(ctx context.Context, modelID string, fn func(*scheduler.Scheduler) error) error {
	inst, err := m.ensure(ctx, modelID)
	if err != nil {
		return err
	}
	release, err := m.acquire(ctx, inst)
	if err != nil {
		return err
	}
	defer release()
	return fn(inst.Engine)
}
