package manager

import (
	"time"

	"llamacore/pkg/types"
)

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{State: m.state, CurrentModel: m.cur, Err: m.err}
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp := types.StatusResponse{
		BudgetMB:       m.budgetMB,
		UsedMB:         m.usedEstMB,
		MarginMB:       m.marginMB,
		Error:          m.err,
		State:          string(m.state),
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		EvictionsTotal: m.evictions.Load(),
		LoadsTotal:     m.loads.Load(),
	}
	resp.Instances = make([]types.InstanceStatus, 0, len(m.instances))
	warmups := 0
	draining := 0
	for _, inst := range m.instances {
		is := types.InstanceStatus{
			ModelID:       inst.ID,
			State:         string(inst.State),
			LastUsed:      inst.LastUsed.Unix(),
			EstVRAMMB:     inst.EstVRAMMB,
			QueueLen:      len(inst.queueCh),
			MaxQueueDepth: cap(inst.queueCh),
		}
		switch inst.State {
		case StateLoading:
			warmups++
		case StateDraining:
			draining++
		case StateReady:
			// Params blocks while Start/Stop hold the scheduler; ready
			// instances are past Start and before Stop.
			is.Slots = inst.Engine.Params().Parallel
			is.Running = inst.Engine.IsRunning()
		}
		resp.Instances = append(resp.Instances, is)
	}
	resp.WarmupsInProgress = warmups
	resp.DrainingCount = draining
	return resp
}
