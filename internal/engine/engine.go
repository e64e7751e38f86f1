// Package engine defines the narrow contract between the scheduler and an
// inference runtime, plus the pieces every runtime shares: argument parsing,
// refcounted backend init, the queued/single-shot mode guard and stop-string
// matching.
//
// Runtimes:
//
//   - echo: deterministic development engine, always built. Used by tests and
//     `llamacore serve --engine echo`.
//   - llama: in-process go-llama.cpp adapter, built with `-tags=llama`. A stub
//     reporting the dependency unavailable is compiled otherwise.
package engine

import "llamacore/pkg/types"

// Pooling types accepted by --pooling.
const (
	PoolingNone = "none"
	PoolingMean = "mean"
	PoolingCLS  = "cls"
	PoolingLast = "last"
	PoolingRank = "rank"
)

// Info describes a loaded model. It is fixed for the lifetime of an Engine.
type Info struct {
	// NCtx is the total context size shared by all slots.
	NCtx         int
	Embedding    bool
	Pooling      string
	ChatTemplate string
	BOSToken     string
	EOSToken     string
	Vision       bool
	Audio        bool
	// HasDraft reports a speculative draft model is attached.
	HasDraft  bool
	BuildInfo string
}

// Prompt is a tokenized prompt. Text is empty when the caller supplied raw
// token ids.
type Prompt struct {
	Text   string
	Tokens []int32
}

// Sampling is the resolved per-sequence sampling configuration.
type Sampling struct {
	Temperature   float32
	TopK          int
	TopP          float32
	MinP          float32
	RepeatPenalty float32
	Seed          int64
	NPredict      int
	Stop          []string
}

// Token is one generated piece for one sequence.
type Token struct {
	Seq   int
	ID    int32
	Piece string
	// EOG marks end of generation; Piece is empty.
	EOG bool
}

// Engine is a loaded model.
//
// Tokenize and ApplyTemplate are safe for concurrent use. Begin, Step, End and
// Embed are only called from the scheduler's worker goroutine.
type Engine interface {
	Info() Info
	Tokenize(text string, addSpecial bool) ([]int32, error)
	ApplyTemplate(msgs []types.ChatMessage) (string, error)
	// Begin evaluates the prompt into sequence seq.
	Begin(seq int, p Prompt, s Sampling) error
	// Step advances every active sequence by at most one token.
	Step() ([]Token, error)
	// End drops sequence seq. Ending an unknown sequence is a no-op.
	End(seq int)
	// Embed returns one pooled vector, or one vector per token when pooling
	// is none.
	Embed(p Prompt) ([][]float32, error)
	Close() error
}

// Loader loads a model described by Params.
type Loader interface {
	Load(p Params) (Engine, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(p Params) (Engine, error)

func (f LoaderFunc) Load(p Params) (Engine, error) { return f(p) }

// Backend owns process-global runtime resources (device init, NUMA policy).
type Backend interface {
	Init(p Params) error
	Free()
}

// NopBackend is a Backend with nothing to initialize.
type NopBackend struct{}

func (NopBackend) Init(Params) error { return nil }
func (NopBackend) Free()             {}
