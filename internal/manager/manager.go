package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"llamacore/internal/engine"
	"llamacore/pkg/types"
)

type Manager struct {
	mu           sync.RWMutex
	state        State
	cur          *ModelInfo
	err          string
	registry     []types.Model
	budgetMB     int
	marginMB     int
	defaultModel string
	// Multi-instance fields
	instances map[string]*Instance
	usedEstMB int

	// Queue config
	maxQueueDepth int
	maxWait       time.Duration
	drainTimeout  time.Duration

	// Engine runtime shared by all instances
	loader     engine.Loader
	backend    *engine.SharedBackend
	guard      *engine.ModeGuard
	engineArgs []string
	pollEvery  time.Duration

	log       zerolog.Logger
	publisher EventPublisher

	lruPath string
	lruMeta map[string]lruRecord

	startTime time.Time
	evictions atomic.Uint64
	loads     atomic.Uint64
}

func New(reg []types.Model, budgetMB, marginMB int, defaultModel string) *Manager {
	// Delegate to NewWithConfig to centralize defaults and option parsing
	return NewWithConfig(ManagerConfig{
		Registry:     reg,
		BudgetMB:     budgetMB,
		MarginMB:     marginMB,
		DefaultModel: defaultModel,
	})
}

func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == StateError {
		return false
	}
	// Ready if any instance is ready
	for _, inst := range m.instances {
		if inst.State == StateReady {
			return true
		}
	}
	return m.state == StateReady && m.cur != nil
}

func (m *Manager) ListModels() []types.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// return a shallow copy to avoid external mutation
	out := make([]types.Model, len(m.registry))
	copy(out, m.registry)
	return out
}

// DefaultModel returns the model id used when a request names none.
func (m *Manager) DefaultModel() string { return m.defaultModel }

// SetEventPublisher replaces the event sink. nil restores the noop default.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.mu.Lock()
	m.publisher = p
	m.mu.Unlock()
}

// emit logs a lifecycle event and forwards it to the publisher.
func (m *Manager) emit(name, modelID string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	m.mu.RLock()
	pub := m.publisher
	m.mu.RUnlock()
	ev := m.log.Info()
	if name == "ensure_error" || name == "unload_timeout" || name == "ensure_budget_fail" {
		ev = m.log.Warn()
	}
	ev.Str("event", name).Str("model", modelID).Fields(fields).Msg("manager")
	pub.Publish(Event{Name: name, ModelID: modelID, Time: time.Now(), Fields: fields})
}
