//go:build llama

package llama

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"

	"llamacore/internal/engine"
	"llamacore/pkg/types"
)

// Built reports whether this binary carries the go-llama.cpp runtime.
const Built = true

// Loader loads GGUF models through go-llama.cpp.
type Loader struct{}

func NewLoader() engine.Loader { return Loader{} }

func (Loader) Load(p engine.Params) (engine.Engine, error) {
	if strings.TrimSpace(p.Model) == "" {
		return nil, errors.New("model path is empty")
	}
	mo := []llama.ModelOption{
		llama.SetContext(p.CtxSize),
		llama.SetNBatch(p.BatchSize),
	}
	if p.NGPULayers >= 0 {
		mo = append(mo, llama.SetGPULayers(p.NGPULayers))
	}
	if p.Embeddings {
		mo = append(mo, llama.EnableEmbeddings)
	}
	m, err := llama.New(p.Model, mo...)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", p.Model, err)
	}
	pooling := p.Pooling
	if pooling == "" {
		pooling = engine.PoolingMean
	}
	return &Engine{
		model:   m,
		threads: p.Threads,
		info: engine.Info{
			NCtx:         p.CtxSize,
			Embedding:    p.Embeddings,
			Pooling:      pooling,
			ChatTemplate: "chatml",
			BOSToken:     "<s>",
			EOSToken:     "</s>",
			HasDraft:     p.ModelDraft != "",
			BuildInfo:    "go-llama.cpp",
		},
	}, nil
}

// Backend is a no-op: go-llama.cpp initializes the ggml backend inside New.
type Backend = engine.NopBackend

// run is one Predict call. The token callback hands each piece to Step and
// blocks until Step asks for the next one, so the model only advances when
// the scheduler steps it.
type run struct {
	seq    int
	prompt string
	s      engine.Sampling

	pieces chan string
	resume chan bool
	done   chan struct{}
	err    error

	started bool
	parked  bool
}

// Engine wraps one go-llama.cpp model. The model has a single context, so
// sequences are generated one after another in Begin order.
type Engine struct {
	model   *llama.LLama
	threads int
	info    engine.Info

	mu      sync.Mutex
	pending []*run
	cur     *run
}

var _ engine.Engine = (*Engine)(nil)

func (e *Engine) Info() engine.Info { return e.info }

func (e *Engine) Tokenize(text string, addSpecial bool) ([]int32, error) {
	_, toks, err := e.model.TokenizeString(text)
	if err != nil {
		return nil, err
	}
	return toks, nil
}

func (e *Engine) ApplyTemplate(msgs []types.ChatMessage) (string, error) {
	if len(msgs) == 0 {
		return "", errors.New("no messages")
	}
	return engine.ChatML(msgs), nil
}

func (e *Engine) Begin(seq int, p engine.Prompt, s engine.Sampling) error {
	if p.Text == "" {
		return errors.New("token-id prompts are not supported by the go-llama.cpp runtime")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, &run{
		seq:    seq,
		prompt: p.Text,
		s:      s,
		pieces: make(chan string),
		resume: make(chan bool),
		done:   make(chan struct{}),
	})
	return nil
}

func (e *Engine) start(r *run) {
	r.started = true
	e.model.SetTokenCallback(func(tok string) bool {
		select {
		case r.pieces <- tok:
		case <-r.done:
			return false
		}
		return <-r.resume
	})
	po := predictOptions(r.s, e.threads)
	go func() {
		_, err := e.model.Predict(r.prompt, po...)
		r.err = err
		close(r.done)
	}()
}

// Step yields at most one token, for the sequence currently generating.
func (e *Engine) Step() ([]engine.Token, error) {
	e.mu.Lock()
	if e.cur == nil && len(e.pending) > 0 {
		e.cur, e.pending = e.pending[0], e.pending[1:]
	}
	r := e.cur
	e.mu.Unlock()
	if r == nil {
		return nil, nil
	}
	if !r.started {
		e.start(r)
	} else if r.parked {
		r.parked = false
		r.resume <- true
	}
	select {
	case tok := <-r.pieces:
		r.parked = true
		return []engine.Token{{Seq: r.seq, Piece: tok}}, nil
	case <-r.done:
		e.clear(r)
		if r.err != nil {
			return nil, r.err
		}
		return []engine.Token{{Seq: r.seq, EOG: true}}, nil
	}
}

func (e *Engine) clear(r *run) {
	e.mu.Lock()
	if e.cur == r {
		e.cur = nil
	}
	e.mu.Unlock()
}

func (e *Engine) End(seq int) {
	e.mu.Lock()
	for i, r := range e.pending {
		if r.seq == seq {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			e.mu.Unlock()
			return
		}
	}
	r := e.cur
	e.mu.Unlock()
	if r == nil || r.seq != seq {
		return
	}
	if r.started {
		if r.parked {
			r.parked = false
			r.resume <- false
		}
		<-r.done
	}
	e.clear(r)
}

func (e *Engine) Embed(p engine.Prompt) ([][]float32, error) {
	if !e.info.Embedding {
		return nil, errors.New("embeddings disabled")
	}
	if e.info.Pooling == engine.PoolingNone {
		return nil, errors.New("per-token embeddings are not supported by the go-llama.cpp runtime")
	}
	var (
		vec []float32
		err error
	)
	if p.Text != "" {
		vec, err = e.model.Embeddings(p.Text, llama.SetThreads(max(1, e.threads)))
	} else {
		ids := make([]int, len(p.Tokens))
		for i, t := range p.Tokens {
			ids[i] = int(t)
		}
		vec, err = e.model.TokenEmbeddings(ids, llama.SetThreads(max(1, e.threads)))
	}
	if err != nil {
		return nil, err
	}
	return [][]float32{vec}, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	r := e.cur
	e.pending = nil
	e.mu.Unlock()
	if r != nil {
		e.End(r.seq)
	}
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
	return nil
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// predictOptions converts sampling settings into go-llama.cpp options. Stop
// strings and n_predict are enforced by the scheduler, so the runtime only
// gets an upper token bound.
func predictOptions(s engine.Sampling, threads int) []llama.PredictOption {
	tokens := s.NPredict
	if tokens <= 0 {
		tokens = llama.DefaultOptions.Tokens
	}
	po := []llama.PredictOption{
		llama.SetTokens(tokens),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(zf(s.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(s.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(zf(s.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(zf(s.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if s.Seed >= 0 {
		po = append(po, llama.SetSeed(int(s.Seed)))
	}
	return po
}
