package manager

import "time"

// reserveVRAM evicts LRU idle instances until requiredMB fits budget + margin,
// then adds it to the used estimate. Without a budget the estimate is only
// recorded. exclude is the instance being loaded.
func (m *Manager) reserveVRAM(exclude string, requiredMB int) error {
	for {
		m.mu.Lock()
		if m.budgetMB <= 0 || m.usedEstMB+requiredMB+m.marginMB <= m.budgetMB {
			m.usedEstMB += requiredMB
			m.mu.Unlock()
			return nil
		}
		// Pick LRU idle instance (ready with no admitted requests)
		var lru *Instance
		for id, inst := range m.instances {
			if id == exclude || inst.State != StateReady || !inst.idle() {
				continue
			}
			if lru == nil || inst.LastUsed.Before(lru.LastUsed) {
				lru = inst
			}
		}
		if lru == nil {
			err := budgetExceededError{modelID: exclude, needMB: requiredMB + m.marginMB, budgetMB: m.budgetMB, usedMB: m.usedEstMB}
			m.mu.Unlock()
			return err
		}
		// Evict it
		lru.State = StateDraining
		delete(m.instances, lru.ID)
		m.usedEstMB -= lru.EstVRAMMB
		if m.cur != nil && m.cur.ID == lru.ID {
			m.cur = nil
		}
		idle := time.Since(lru.LastUsed)
		m.mu.Unlock()

		if err := lru.Engine.Stop(); err != nil {
			m.log.Warn().Err(err).Str("model", lru.ID).Msg("stop evicted engine")
		}
		m.evictions.Add(1)
		m.emit("evict", lru.ID, map[string]any{"est_vram_mb": lru.EstVRAMMB, "idle_ms": idle.Milliseconds(), "for": exclude})
	}
}
