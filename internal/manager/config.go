package manager

import (
	"time"

	"github.com/rs/zerolog"

	"llamacore/internal/engine"
	"llamacore/pkg/types"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultDrainTimeout  = 30 * time.Second
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Registry      []types.Model
	BudgetMB      int
	MarginMB      int
	DefaultModel  string
	MaxQueueDepth int
	MaxWait       time.Duration
	DrainTimeout  time.Duration
	// Engine runtime. Without a Loader every EnsureInstance fails with an
	// engine failure from the scheduler.
	Loader  engine.Loader
	Backend engine.Backend
	Guard   *engine.ModeGuard
	// EngineArgs are prepended to every instance's argument list
	// (e.g. -c 4096 -np 4 --embeddings).
	EngineArgs []string
	// PollInterval is passed to each scheduler.
	PollInterval time.Duration
	Logger       zerolog.Logger
	// LRUPath, when set, persists last-used and VRAM estimates across restarts.
	LRUPath string
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	backend := cfg.Backend
	if backend == nil {
		backend = engine.NopBackend{}
	}
	m := &Manager{
		state:        StateLoading,
		registry:     cfg.Registry,
		budgetMB:     cfg.BudgetMB,
		marginMB:     cfg.MarginMB,
		defaultModel: cfg.DefaultModel,
		instances:    make(map[string]*Instance),
		loader:       cfg.Loader,
		backend:      engine.Shared(backend),
		guard:        cfg.Guard,
		engineArgs:   append([]string(nil), cfg.EngineArgs...),
		pollEvery:    cfg.PollInterval,
		log:          cfg.Logger.With().Str("component", "manager").Logger(),
		publisher:    noopPublisher{},
		lruPath:      cfg.LRUPath,
	}
	// Apply defaults if unset
	if cfg.MaxQueueDepth <= 0 {
		m.maxQueueDepth = defaultMaxQueueDepth
	} else {
		m.maxQueueDepth = cfg.MaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		m.maxWait = defaultMaxWait
	} else {
		m.maxWait = cfg.MaxWait
	}
	if cfg.DrainTimeout <= 0 {
		m.drainTimeout = defaultDrainTimeout
	} else {
		m.drainTimeout = cfg.DrainTimeout
	}
	m.loadLRUMetadata()
	m.startTime = time.Now()
	return m
}
