// Package scheduler owns one running engine: its lifecycle, the task queue
// feeding a single worker goroutine, and the request handlers that turn
// completion, chat, embedding and slot requests into tasks and deliver their
// results to a sink.
//
// Only the worker goroutine touches engine sequence state. Handlers tokenize,
// post tasks and wait on a per-request inbox.
package scheduler

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"llamacore/internal/engine"
)

const defaultPollInterval = time.Second

// Config wires a Scheduler to its runtime.
type Config struct {
	Loader engine.Loader
	// Backend is initialized on Start and freed on Stop. Pass an
	// engine.SharedBackend when several schedulers share one process.
	Backend engine.Backend
	// Guard, when set, keeps this scheduler and single-shot runners
	// mutually exclusive.
	Guard *engine.ModeGuard
	// Args are prepended to the argument list given to Start.
	Args   []string
	Logger zerolog.Logger
	// PollInterval is how often waiting handlers probe sink liveness.
	PollInterval time.Duration
}

// Scheduler is a handle on one engine. The zero value is not usable; call New.
type Scheduler struct {
	cfg  Config
	log  zerolog.Logger
	poll time.Duration

	// mu serializes Start/Stop against each other (write) and against
	// handlers admitting tasks (read).
	mu      sync.RWMutex
	running atomic.Bool

	params engine.Params
	info   engine.Info
	eng    engine.Engine
	label  string

	queue   *taskQueue
	waiters *waiting
	slots   []*slot

	quit       chan struct{}
	workerDone chan struct{}
}

// New returns a stopped scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Backend == nil {
		cfg.Backend = engine.NopBackend{}
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Scheduler{
		cfg:     cfg,
		log:     cfg.Logger,
		poll:    poll,
		queue:   newTaskQueue(),
		waiters: newWaiting(),
	}
}

// Start parses args, initializes the backend, loads the model and launches
// the worker. On any failure after the backend was acquired it is released
// again and the scheduler stays stopped.
func (s *Scheduler) Start(args []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return ErrAlreadyRunning
	}
	if s.cfg.Loader == nil {
		return newError(KindEngineFailure, "no engine loader configured")
	}
	all := append(append([]string(nil), s.cfg.Args...), args...)
	p, err := engine.ParseArgs(all)
	if err != nil {
		return invalidRequest("%s", err.Error())
	}
	if engine.ApplyThroughputOverride(&p) {
		s.log.Warn().Int("n_parallel", p.Parallel).Bool("kv_unified", p.KVUnified).
			Msg("n_parallel is set to auto, using n_parallel = 4 and kv_unified = true")
	}
	if s.cfg.Guard != nil {
		if err := s.cfg.Guard.EnterQueued(); err != nil {
			return newError(KindUnavailable, "%s", err.Error())
		}
	}
	if err := s.cfg.Backend.Init(p); err != nil {
		s.leaveGuard()
		return newError(KindEngineFailure, "backend init failed: %v", err)
	}
	eng, err := s.cfg.Loader.Load(p)
	if err != nil {
		s.cfg.Backend.Free()
		s.leaveGuard()
		if engine.IsDependencyUnavailable(err) {
			return newError(KindUnavailable, "%s", err.Error())
		}
		return newError(KindEngineFailure, "failed to load model: %v", err)
	}

	s.params = p
	s.info = eng.Info()
	s.eng = eng
	s.label = modelLabel(p)
	s.slots = newSlots(p.Parallel, s.slotCtx())
	s.queue.reset()
	s.quit = make(chan struct{})
	s.workerDone = make(chan struct{})
	go s.loop()
	s.running.Store(true)

	s.log.Info().Str("model", p.Model).Int("n_parallel", p.Parallel).Int("n_ctx", s.info.NCtx).
		Int("n_ctx_slot", s.slotCtx()).Msg("engine started")
	return nil
}

// Stop terminates the worker, closes the engine and releases the backend.
// Requests still waiting receive an Unavailable error.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return ErrNotRunning
	}
	s.running.Store(false)
	s.queue.terminate()
	close(s.quit)
	<-s.workerDone

	for _, sl := range s.slots {
		if sl.task != nil {
			s.eng.End(sl.id)
			sl.release()
		}
	}
	if err := s.eng.Close(); err != nil {
		s.log.Error().Err(err).Msg("engine close failed")
	}
	s.waiters.failAll(errShutdown)
	s.cfg.Backend.Free()
	s.leaveGuard()
	resetGauges(s.label)
	s.eng = nil
	s.log.Info().Str("model", s.params.Model).Msg("engine stopped")
	return nil
}

// IsRunning never blocks.
func (s *Scheduler) IsRunning() bool { return s.running.Load() }

// Params returns the parsed arguments of the running engine.
func (s *Scheduler) Params() engine.Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

func (s *Scheduler) leaveGuard() {
	if s.cfg.Guard != nil {
		s.cfg.Guard.LeaveQueued()
	}
}

func (s *Scheduler) slotCtx() int {
	if s.params.Parallel <= 0 {
		return s.info.NCtx
	}
	return s.info.NCtx / s.params.Parallel
}

// admit runs fn with the engine pinned in the running state.
func (s *Scheduler) admit(fn func() *Error) *Error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running.Load() {
		return errStopped
	}
	return fn()
}

// submit assigns ids, registers the set as waiting and posts it.
// Callers hold the read lock through admit.
func (s *Scheduler) submit(ts []*task, front bool) (*inbox, *Error) {
	s.queue.assignIDs(ts)
	box := newInbox()
	ids := idsOf(ts)
	s.waiters.add(ids, box)
	if !s.queue.post(ts, front) {
		s.waiters.remove(ids)
		return nil, errStopped
	}
	for _, t := range ts {
		tasksTotal.WithLabelValues(s.label, t.kind.String()).Inc()
	}
	waitingSets.WithLabelValues(s.label).Set(float64(s.waiters.len()))
	return box, nil
}

// cancel posts a high-priority cancel for ids. It is a no-op once stopped.
func (s *Scheduler) cancel(ids []int) {
	if len(ids) == 0 {
		return
	}
	s.queue.post([]*task{{id: -1, kind: taskCancel, targets: ids}}, true)
}

func modelLabel(p engine.Params) string {
	if p.Alias != "" {
		return p.Alias
	}
	return strings.TrimSuffix(filepath.Base(p.Model), filepath.Ext(p.Model))
}

// String identifies the scheduler in logs.
func (s *Scheduler) String() string {
	return fmt.Sprintf("scheduler(%s)", s.label)
}
