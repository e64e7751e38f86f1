// Package echo is a deterministic engine for development and tests. It
// tokenizes by rune, replies with the last user turn of a ChatML prompt (or
// the whole prompt otherwise) one word per step, and embeds by hashing.
package echo

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"sync"
	"time"

	"llamacore/internal/engine"
	"llamacore/pkg/types"
)

// Config tunes the echo engine. The zero value is usable.
type Config struct {
	// Reply maps the decoded prompt to the reply text.
	Reply func(prompt string) string
	// StepDelay is slept once per Step with active sequences.
	StepDelay time.Duration
	// Dims is the embedding width (default 8).
	Dims int
	// FailStepAfter makes Step fail once that many steps ran (0 disables).
	FailStepAfter int
	// RequireFile makes Load fail when the model path does not exist.
	RequireFile bool
}

// Loader loads echo engines.
type Loader struct {
	Config Config

	mu   sync.Mutex
	last *Engine
}

// NewLoader returns a Loader that requires the model file to exist.
func NewLoader() *Loader { return &Loader{Config: Config{RequireFile: true}} }

func (l *Loader) Load(p engine.Params) (engine.Engine, error) {
	if l.Config.RequireFile {
		fi, err := os.Stat(p.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to load model %s: %w", p.Model, err)
		}
		if fi.IsDir() {
			return nil, fmt.Errorf("failed to load model %s: is a directory", p.Model)
		}
	}
	e := New(p, l.Config)
	l.mu.Lock()
	l.last = e
	l.mu.Unlock()
	return e, nil
}

// Last returns the most recently loaded engine.
func (l *Loader) Last() *Engine {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Backend counts Init/Free calls.
type Backend struct {
	mu      sync.Mutex
	inits   int
	frees   int
	InitErr error
}

func (b *Backend) Init(engine.Params) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.InitErr != nil {
		return b.InitErr
	}
	b.inits++
	return nil
}

func (b *Backend) Free() {
	b.mu.Lock()
	b.frees++
	b.mu.Unlock()
}

// Counts returns the number of successful Init and of Free calls.
func (b *Backend) Counts() (inits, frees int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inits, b.frees
}

type sequence struct {
	pieces []string
	next   int
}

// Engine is the echo engine.
type Engine struct {
	cfg  Config
	info engine.Info

	mu     sync.Mutex
	seqs   map[int]*sequence
	order  []int
	steps  map[int]int
	total  int
	closed bool
}

var _ engine.Engine = (*Engine)(nil)

// New builds an echo engine for p.
func New(p engine.Params, cfg Config) *Engine {
	if cfg.Dims <= 0 {
		cfg.Dims = 8
	}
	if cfg.Reply == nil {
		cfg.Reply = LastUserTurn
	}
	nctx := p.CtxSize
	if nctx == 0 {
		nctx = 4096
	}
	pooling := p.Pooling
	if pooling == "" {
		pooling = engine.PoolingMean
	}
	return &Engine{
		cfg: cfg,
		info: engine.Info{
			NCtx:         nctx,
			Embedding:    p.Embeddings,
			Pooling:      pooling,
			ChatTemplate: "chatml",
			BOSToken:     "<s>",
			EOSToken:     "</s>",
			HasDraft:     p.ModelDraft != "",
			BuildInfo:    "echo",
		},
		seqs:  make(map[int]*sequence),
		steps: make(map[int]int),
	}
}

func (e *Engine) Info() engine.Info { return e.info }

// Tokenize maps every rune to its code point. addSpecial is ignored; the
// echo vocabulary has no BOS token.
func (e *Engine) Tokenize(text string, addSpecial bool) ([]int32, error) {
	out := make([]int32, 0, len(text))
	for _, r := range text {
		out = append(out, int32(r))
	}
	return out, nil
}

// Detokenize is the inverse of Tokenize.
func Detokenize(tokens []int32) string {
	var sb strings.Builder
	for _, t := range tokens {
		sb.WriteRune(rune(t))
	}
	return sb.String()
}

func (e *Engine) ApplyTemplate(msgs []types.ChatMessage) (string, error) {
	if len(msgs) == 0 {
		return "", errors.New("no messages")
	}
	return engine.ChatML(msgs), nil
}

func (e *Engine) Begin(seq int, p engine.Prompt, s engine.Sampling) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("engine closed")
	}
	if _, ok := e.seqs[seq]; ok {
		return fmt.Errorf("sequence %d already active", seq)
	}
	text := p.Text
	if text == "" {
		text = Detokenize(p.Tokens)
	}
	e.seqs[seq] = &sequence{pieces: Pieces(e.cfg.Reply(text))}
	e.order = append(e.order, seq)
	return nil
}

func (e *Engine) Step() ([]engine.Token, error) {
	e.mu.Lock()
	active := len(e.order)
	e.mu.Unlock()
	if active == 0 {
		return nil, nil
	}
	if e.cfg.StepDelay > 0 {
		time.Sleep(e.cfg.StepDelay)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg.FailStepAfter > 0 && e.total >= e.cfg.FailStepAfter {
		return nil, errors.New("decode failed")
	}
	e.total++
	out := make([]engine.Token, 0, len(e.order))
	for _, id := range e.order {
		sq := e.seqs[id]
		e.steps[id]++
		if sq.next >= len(sq.pieces) {
			out = append(out, engine.Token{Seq: id, EOG: true})
			continue
		}
		piece := sq.pieces[sq.next]
		sq.next++
		out = append(out, engine.Token{Seq: id, ID: int32(sq.next), Piece: piece})
	}
	return out, nil
}

func (e *Engine) End(seq int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.seqs[seq]; !ok {
		return
	}
	delete(e.seqs, seq)
	for i, id := range e.order {
		if id == seq {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

func (e *Engine) Embed(p engine.Prompt) ([][]float32, error) {
	if !e.info.Embedding {
		return nil, errors.New("embeddings disabled")
	}
	if len(p.Tokens) == 0 {
		return nil, errors.New("empty input")
	}
	if e.info.Pooling == engine.PoolingNone {
		out := make([][]float32, len(p.Tokens))
		for i, t := range p.Tokens {
			out[i] = e.vector([]int32{t})
		}
		return out, nil
	}
	return [][]float32{e.vector(p.Tokens)}, nil
}

// vector derives a stable pseudo-embedding from the token ids.
func (e *Engine) vector(tokens []int32) []float32 {
	h := fnv.New64a()
	var b [4]byte
	for _, t := range tokens {
		b[0], b[1], b[2], b[3] = byte(t), byte(t>>8), byte(t>>16), byte(t>>24)
		_, _ = h.Write(b[:])
	}
	seed := h.Sum64()
	out := make([]float32, e.cfg.Dims)
	for i := range out {
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		out[i] = float32(seed%2000)/1000 - 1
	}
	return out
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.seqs = map[int]*sequence{}
	e.order = nil
	return nil
}

// Steps returns how many Step calls advanced sequence seq.
func (e *Engine) Steps(seq int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.steps[seq]
}

// Active returns the number of live sequences.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.order)
}

// Pieces splits text into word pieces whose concatenation is text.
func Pieces(text string) []string {
	if text == "" {
		return nil
	}
	parts := strings.SplitAfter(text, " ")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LastUserTurn returns the content of the last ChatML user turn in prompt,
// or prompt itself when it carries no ChatML markup.
func LastUserTurn(prompt string) string {
	const open = "<|im_start|>user\n"
	i := strings.LastIndex(prompt, open)
	if i < 0 {
		return prompt
	}
	rest := prompt[i+len(open):]
	if j := strings.Index(rest, "<|im_end|>"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}
