package manager

import (
	"context"
	"time"

	"llamacore/internal/scheduler"
)

// EnsureInstance makes sure modelID has a running engine. Concurrent callers
// for the same id share one load; later callers wait for it to finish.
func (m *Manager) EnsureInstance(ctx context.Context, modelID string) error {
	_, err := m.ensure(ctx, modelID)
	return err
}

func (m *Manager) ensure(ctx context.Context, modelID string) (*Instance, error) {
	if modelID == "" {
		modelID = m.defaultModel
		if modelID == "" {
			return nil, ErrModelNotFound("(unspecified)")
		}
	}

	m.mu.Lock()
	if inst, ok := m.instances[modelID]; ok {
		switch inst.State {
		case StateReady:
			inst.LastUsed = time.Now()
			m.mu.Unlock()
			return inst, nil
		case StateDraining:
			m.mu.Unlock()
			return nil, tooBusyError{modelID: modelID}
		}
		loaded := inst.loaded
		m.mu.Unlock()
		select {
		case <-loaded:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		m.mu.RLock()
		err := inst.loadErr
		m.mu.RUnlock()
		if err != nil {
			return nil, err
		}
		return inst, nil
	}

	// Resolve model from registry
	mdl, ok := m.getModelByID(modelID)
	if !ok {
		m.mu.Unlock()
		m.emit("ensure_model_not_found", modelID, nil)
		return nil, ErrModelNotFound(modelID)
	}
	reqMB := m.estimateVRAMMB(mdl)
	inst := &Instance{
		ID:        modelID,
		Path:      mdl.Path,
		State:     StateLoading,
		LastUsed:  time.Now(),
		EstVRAMMB: reqMB,
		queueCh:   make(chan struct{}, m.maxQueueDepth),
		loaded:    make(chan struct{}),
	}
	m.instances[modelID] = inst
	m.state = StateLoading
	m.err = ""
	m.mu.Unlock()

	start := time.Now()
	m.emit("ensure_start", modelID, map[string]any{"path": mdl.Path, "est_vram_mb": reqMB})

	// Evict until it fits budget + margin; the estimate stays reserved
	// unless the load fails.
	err := m.reserveVRAM(modelID, reqMB)
	reserved := err == nil
	if err != nil {
		m.emit("ensure_budget_fail", modelID, map[string]any{"required_mb": reqMB})
	} else {
		err = ctx.Err()
	}
	var sched *scheduler.Scheduler
	if err == nil {
		sched = scheduler.New(scheduler.Config{
			Loader:       m.loader,
			Backend:      m.backend,
			Guard:        m.guard,
			Args:         m.engineArgs,
			Logger:       m.log.With().Str("model", modelID).Logger(),
			PollInterval: m.pollEvery,
		})
		err = sched.Start([]string{"--model", mdl.Path, "--alias", modelID})
	}

	m.mu.Lock()
	if err != nil {
		delete(m.instances, modelID)
		if reserved {
			m.usedEstMB -= reqMB
		}
		inst.loadErr = err
		m.state = StateError
		m.err = err.Error()
		close(inst.loaded)
		m.mu.Unlock()
		m.emit("ensure_error", modelID, map[string]any{"error": err.Error()})
		return nil, err
	}
	inst.Engine = sched
	inst.State = StateReady
	inst.LastUsed = time.Now()
	m.cur = &ModelInfo{ID: modelID, Name: mdl.Name, Path: mdl.Path, Quant: mdl.Quant, Family: mdl.Family}
	m.state = StateReady
	m.err = ""
	close(inst.loaded)
	m.mu.Unlock()
	m.loads.Add(1)
	m.emit("ensure_ready", modelID, map[string]any{"duration_ms": time.Since(start).Milliseconds()})
	return inst, nil
}
