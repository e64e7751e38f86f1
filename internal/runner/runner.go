// Package runner is the single-shot mode: load a model, run one generate or
// chat exchange on sequence 0, tear down. It has no task queue and is
// mutually exclusive with queued engines through engine.ModeGuard.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"llamacore/internal/engine"
	"llamacore/pkg/types"
)

var (
	ErrAlreadyRunning = errors.New("runner already running")
	ErrNotRunning     = errors.New("runner not running")
	ErrEmptyPrompt    = errors.New("the prompt is empty")
)

// seq is the only engine sequence a runner uses.
const seq = 0

var promptColor = color.New(color.FgHiBlack)

// Config wires a Runner to its runtime.
type Config struct {
	Loader  engine.Loader
	Backend engine.Backend
	Guard   *engine.ModeGuard
	Logger  zerolog.Logger
}

// Options describe one exchange.
type Options struct {
	// Args are llama-server style engine arguments.
	Args []string
	// Prompt is used when Messages is empty.
	Prompt   string
	Messages []types.ChatMessage
	// NPredict overrides --n-predict when non-zero.
	NPredict int
	Stop     []string
	// Out receives the rendered prompt (with ShowPrompt) and the tokens as
	// they are generated.
	Out        io.Writer
	ShowPrompt bool
	// Async runs the exchange on its own goroutine; Start returns once the
	// model is loaded.
	Async bool
}

// Runner runs one exchange at a time. The zero value is not usable; call New.
type Runner struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	running atomic.Bool
	eng     engine.Engine
	cancel  context.CancelFunc
	done    chan struct{}
	text    string
	err     error
}

func New(cfg Config) *Runner {
	if cfg.Backend == nil {
		cfg.Backend = engine.NopBackend{}
	}
	return &Runner{cfg: cfg, log: cfg.Logger}
}

// IsRunning reports whether a model is loaded.
func (r *Runner) IsRunning() bool { return r.running.Load() }

// Start loads the model and runs the exchange described by opts. ctx bounds
// the exchange; cancelling it ends generation early.
func (r *Runner) Start(ctx context.Context, opts Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running.Load() {
		return ErrAlreadyRunning
	}
	if r.cfg.Loader == nil {
		return errors.New("no engine loader configured")
	}
	p, err := engine.ParseArgs(opts.Args)
	if err != nil {
		return err
	}
	if g := r.cfg.Guard; g != nil {
		if err := g.EnterSingle(); err != nil {
			return err
		}
	}
	if err := r.cfg.Backend.Init(p); err != nil {
		r.leaveGuard()
		return fmt.Errorf("backend init: %w", err)
	}
	eng, err := r.cfg.Loader.Load(p)
	if err != nil {
		r.cfg.Backend.Free()
		r.leaveGuard()
		return fmt.Errorf("failed to load model %s: %w", p.Model, err)
	}
	prompt, err := buildPrompt(eng, opts)
	if err == nil && len(prompt.Tokens) >= eng.Info().NCtx {
		err = fmt.Errorf("prompt is %d tokens, context is %d", len(prompt.Tokens), eng.Info().NCtx)
	}
	if err != nil {
		_ = eng.Close()
		r.cfg.Backend.Free()
		r.leaveGuard()
		return err
	}

	r.eng = eng
	r.running.Store(true)
	r.text, r.err = "", nil
	exCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	done := make(chan struct{})
	r.done = done
	r.log.Info().Str("model", p.Model).Int("n_prompt_tokens", len(prompt.Tokens)).Bool("async", opts.Async).Msg("runner started")

	samp := sampling(p, opts)
	run := func() {
		defer close(done)
		text, err := exchange(exCtx, eng, prompt, samp, opts)
		r.text, r.err = text, err
	}
	if opts.Async {
		go run()
	} else {
		run()
	}
	return nil
}

// Wait blocks until the exchange finishes and returns its text. After Stop
// it returns the last exchange's result.
func (r *Runner) Wait() (string, error) {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return "", ErrNotRunning
	}
	<-done
	return r.text, r.err
}

// Stop cancels a running exchange and releases the engine, backend and guard.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running.Load() {
		return ErrNotRunning
	}
	r.cancel()
	<-r.done
	r.eng.End(seq)
	err := r.eng.Close()
	r.eng = nil
	r.cfg.Backend.Free()
	r.leaveGuard()
	r.running.Store(false)
	r.log.Info().Msg("runner stopped")
	return err
}

func (r *Runner) leaveGuard() {
	if r.cfg.Guard != nil {
		r.cfg.Guard.LeaveSingle()
	}
}

// Generate runs one completion of prompt and tears down.
func (r *Runner) Generate(ctx context.Context, args []string, prompt string) (string, error) {
	return r.once(ctx, Options{Args: args, Prompt: prompt})
}

// Chat runs one chat exchange and tears down.
func (r *Runner) Chat(ctx context.Context, args []string, msgs []types.ChatMessage) (string, error) {
	return r.once(ctx, Options{Args: args, Messages: msgs})
}

func (r *Runner) once(ctx context.Context, opts Options) (string, error) {
	if err := r.Start(ctx, opts); err != nil {
		return "", err
	}
	text, err := r.Wait()
	if serr := r.Stop(); err == nil {
		err = serr
	}
	return text, err
}

func buildPrompt(eng engine.Engine, opts Options) (engine.Prompt, error) {
	text := opts.Prompt
	if len(opts.Messages) > 0 {
		var err error
		if text, err = eng.ApplyTemplate(opts.Messages); err != nil {
			return engine.Prompt{}, fmt.Errorf("apply chat template: %w", err)
		}
	}
	toks, err := eng.Tokenize(text, true)
	if err != nil {
		return engine.Prompt{}, fmt.Errorf("tokenize: %w", err)
	}
	if len(toks) == 0 {
		return engine.Prompt{}, ErrEmptyPrompt
	}
	return engine.Prompt{Text: text, Tokens: toks}, nil
}

func sampling(p engine.Params, opts Options) engine.Sampling {
	s := engine.Sampling{
		Temperature:   p.Temperature,
		TopK:          p.TopK,
		TopP:          p.TopP,
		MinP:          p.MinP,
		RepeatPenalty: p.RepeatPenalty,
		Seed:          p.Seed,
		NPredict:      p.NPredict,
		Stop:          opts.Stop,
	}
	if opts.NPredict != 0 {
		s.NPredict = opts.NPredict
	}
	return s
}
