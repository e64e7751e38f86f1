package manager

import (
	"errors"
	"time"
)

// Unload initiates a graceful drain of a model instance and removes it.
//   - Sets instance state to draining to reject new admissions.
//   - Waits up to drainTimeout for admitted requests to finish.
//   - Stops the scheduler and removes the instance entry.
func (m *Manager) Unload(modelID string) error {
	if modelID == "" {
		return ErrModelNotFound("(unspecified)")
	}
	m.mu.Lock()
	inst := m.instances[modelID]
	if inst == nil {
		m.mu.Unlock()
		return ErrModelNotFound(modelID)
	}
	if inst.State != StateReady {
		m.mu.Unlock()
		return tooBusyError{modelID: modelID}
	}
	inst.State = StateDraining
	m.mu.Unlock()
	m.emit("unload_start", modelID, nil)

	deadline := time.Now().Add(m.drainTimeout)
	for !inst.idle() {
		if time.Now().After(deadline) {
			m.emit("unload_timeout", modelID, map[string]any{"queue": len(inst.queueCh)})
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Remaining waiters get an unavailable result from Stop.
	err := inst.Engine.Stop()

	m.mu.Lock()
	m.usedEstMB -= inst.EstVRAMMB
	if m.usedEstMB < 0 {
		m.usedEstMB = 0
	}
	delete(m.instances, modelID)
	if m.cur != nil && m.cur.ID == modelID {
		m.cur = nil
	}
	m.mu.Unlock()

	m.emit("unload_done", modelID, nil)
	return err
}

// Close unloads every ready instance and persists LRU metadata.
func (m *Manager) Close() error {
	m.saveLRUMetadata()
	m.mu.RLock()
	ids := make([]string, 0, len(m.instances))
	for id, inst := range m.instances {
		if inst.State == StateReady {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()
	var errs []error
	for _, id := range ids {
		if err := m.Unload(id); err != nil && !IsModelNotFound(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
