// Package bridge is the host-application facade over one scheduler: every
// call returns a Result instead of an error, and chat frames are pushed to a
// per-session channel.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"llamacore/internal/engine"
	"llamacore/internal/scheduler"
	"llamacore/internal/sink"
	"llamacore/internal/transcribe"
	"llamacore/pkg/types"
)

// Result is the outcome of one facade call. On failure Content holds the
// error envelope.
type Result struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(modelPath, audioPath string) (string, error)
}

type Config struct {
	Loader       engine.Loader
	Backend      engine.Backend
	Guard        *engine.ModeGuard
	Transcriber  Transcriber
	Logger       zerolog.Logger
	PollInterval time.Duration
	// SessionBuffer is the capacity of each session channel.
	SessionBuffer int
}

const defaultSessionBuffer = 64

type Core struct {
	sched       *scheduler.Scheduler
	transcriber Transcriber
	log         zerolog.Logger
	bufSize     int

	mu       sync.Mutex
	sessions map[string]*session
}

func New(cfg Config) *Core {
	if cfg.Transcriber == nil {
		cfg.Transcriber = transcribe.Adapter{Logger: cfg.Logger}
	}
	if cfg.SessionBuffer <= 0 {
		cfg.SessionBuffer = defaultSessionBuffer
	}
	return &Core{
		sched: scheduler.New(scheduler.Config{
			Loader:       cfg.Loader,
			Backend:      cfg.Backend,
			Guard:        cfg.Guard,
			Logger:       cfg.Logger,
			PollInterval: cfg.PollInterval,
		}),
		transcriber: cfg.Transcriber,
		log:         cfg.Logger,
		bufSize:     cfg.SessionBuffer,
		sessions:    make(map[string]*session),
	}
}

func (c *Core) Start(args []string) Result {
	if err := c.sched.Start(args); err != nil {
		return failure(err)
	}
	return Result{Success: true}
}

// Stop stops the engine. Open sessions see their channel closed once their
// in-flight request is failed by the scheduler.
func (c *Core) Stop() Result {
	if err := c.sched.Stop(); err != nil {
		return failure(err)
	}
	return Result{Success: true}
}

func (c *Core) IsRunning() bool { return c.sched.IsRunning() }

// Generate runs a native completion and returns its body. A streamed request
// returns the concatenated frames.
func (c *Core) Generate(body string) Result {
	buf := sink.NewBuffer()
	if err := c.sched.Completions(context.Background(), []byte(body), buf); err != nil {
		return Result{Content: string(buf.Bytes())}
	}
	return Result{Success: true, Content: string(buf.Bytes())}
}

func (c *Core) Props() Result {
	p, err := c.sched.Props()
	if err != nil {
		return failure(err)
	}
	return encode(p)
}

func (c *Core) Slots(failOnNoSlot bool) Result {
	st, err := c.sched.Slots(context.Background(), failOnNoSlot)
	if err != nil {
		return failure(err)
	}
	return encode(st)
}

// Transcribe is stateless and does not need the engine.
func (c *Core) Transcribe(modelPath, audioPath string) Result {
	text, err := c.transcriber.Transcribe(modelPath, audioPath)
	if err != nil {
		status, typ := http.StatusInternalServerError, "server_error"
		if errors.Is(err, transcribe.ErrFileNotFound) || errors.Is(err, transcribe.ErrUnsupportedLanguage) {
			status, typ = http.StatusBadRequest, "invalid_request_error"
		}
		b, _ := json.Marshal(types.ErrorResponse{Error: types.ErrorBody{Code: status, Message: err.Error(), Type: typ}})
		return Result{Content: string(b)}
	}
	return Result{Success: true, Text: text}
}

func failure(err error) Result {
	b, _ := json.Marshal(scheduler.ErrorFor(err).Response())
	return Result{Content: string(b)}
}

func encode(v any) Result {
	b, err := json.Marshal(v)
	if err != nil {
		return failure(err)
	}
	return Result{Success: true, Content: string(b)}
}
