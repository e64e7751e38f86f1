package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"llamacore/internal/engine"
	"llamacore/internal/sink"
	"llamacore/pkg/types"
)

// Completions handles the native /completion endpoint.
func (s *Scheduler) Completions(ctx context.Context, body []byte, snk sink.Sink) error {
	defer snk.Complete()
	return s.finalize("completion", s.completion(ctx, body, snk, taskCompletion, formatNative))
}

// CompletionsOAI handles the OpenAI-compatible /v1/completions endpoint.
func (s *Scheduler) CompletionsOAI(ctx context.Context, body []byte, snk sink.Sink) error {
	defer snk.Complete()
	return s.finalize("oai_completion", s.completion(ctx, body, snk, taskCompletion, formatOAICompletion))
}

// Infill handles /infill: the prompt is completed between input_prefix and
// input_suffix.
func (s *Scheduler) Infill(ctx context.Context, body []byte, snk sink.Sink) error {
	defer snk.Complete()
	return s.finalize("infill", s.completion(ctx, body, snk, taskInfill, formatNative))
}

// ChatCompletions handles /v1/chat/completions.
func (s *Scheduler) ChatCompletions(ctx context.Context, body []byte, snk sink.Sink) error {
	defer snk.Complete()
	return s.finalize("chat", s.chat(ctx, body, snk))
}

func (s *Scheduler) completion(ctx context.Context, body []byte, snk sink.Sink, kind taskKind, f format) *Error {
	var req types.CompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		e := invalidRequest("invalid request body: %v", err)
		s.writeError(snk, e, false)
		return e
	}
	var (
		ts  []*task
		box *inbox
	)
	e := s.admit(func() *Error {
		var prompts []engine.Prompt
		var e *Error
		if kind == taskInfill {
			prompts, e = s.infillPrompt(req)
		} else {
			prompts, e = s.tokenizePrompts(req.Prompt, "prompt")
		}
		if e != nil {
			return e
		}
		ts, e = s.buildTasks(prompts, req.Sampling, req.Model, req.Stream, kind, f)
		if e != nil {
			return e
		}
		box, e = s.submit(ts, false)
		return e
	})
	if e != nil {
		s.writeError(snk, e, false)
		return e
	}
	return s.deliver(ctx, snk, ts, box, req.Stream)
}

func (s *Scheduler) chat(ctx context.Context, body []byte, snk sink.Sink) *Error {
	var req types.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		e := invalidRequest("invalid request body: %v", err)
		s.writeError(snk, e, false)
		return e
	}
	var (
		ts  []*task
		box *inbox
	)
	e := s.admit(func() *Error {
		if len(req.Messages) == 0 {
			return invalidRequest("'messages' is required")
		}
		text, err := s.eng.ApplyTemplate(req.Messages)
		if err != nil {
			return invalidRequest("failed to apply chat template: %v", err)
		}
		p, e := s.tokenizeText(text, true)
		if e != nil {
			return e
		}
		ts, e = s.buildTasks([]engine.Prompt{p}, req.Sampling, req.Model, req.Stream, taskCompletion, formatOAIChat)
		if e != nil {
			return e
		}
		box, e = s.submit(ts, false)
		return e
	})
	if e != nil {
		s.writeError(snk, e, false)
		return e
	}
	return s.deliver(ctx, snk, ts, box, req.Stream)
}

// buildTasks checks every prompt against the slot context and builds one task
// per prompt. No id is assigned here.
func (s *Scheduler) buildTasks(prompts []engine.Prompt, in types.Sampling, model string, stream bool, kind taskKind, f format) ([]*task, *Error) {
	samp, settings, slotID, e := s.resolveSampling(in, stream)
	if e != nil {
		return nil, e
	}
	nctx := s.slotCtx()
	for _, p := range prompts {
		if len(p.Tokens) >= nctx {
			return nil, exceedsContext(len(p.Tokens), nctx)
		}
	}
	if model == "" {
		model = s.modelName()
	}
	cmplID := newCompletionID()
	created := time.Now().Unix()
	ts := make([]*task, len(prompts))
	for i, p := range prompts {
		ts[i] = &task{
			index:    i,
			kind:     kind,
			format:   f,
			stream:   stream,
			cmplID:   cmplID,
			model:    model,
			created:  created,
			prompt:   p,
			sampling: samp,
			settings: settings,
			slotID:   slotID,
		}
	}
	return ts, nil
}

// resolveSampling merges request fields over the server defaults.
func (s *Scheduler) resolveSampling(in types.Sampling, stream bool) (engine.Sampling, types.GenerationParams, int, *Error) {
	p := s.params
	if in.N != nil && *in.N != 1 {
		return engine.Sampling{}, types.GenerationParams{}, 0, invalidRequest("only one completion choice is allowed")
	}
	stops, err := parseStop(in.Stop)
	if err != nil {
		return engine.Sampling{}, types.GenerationParams{}, 0, err
	}
	out := engine.Sampling{
		Temperature:   p.Temperature,
		TopK:          p.TopK,
		TopP:          p.TopP,
		MinP:          p.MinP,
		RepeatPenalty: p.RepeatPenalty,
		Seed:          p.Seed,
		NPredict:      p.NPredict,
		Stop:          stops,
	}
	switch {
	case in.NPredict != nil:
		out.NPredict = *in.NPredict
	case in.MaxCompletionTokens != nil:
		out.NPredict = *in.MaxCompletionTokens
	case in.MaxTokens != nil:
		out.NPredict = *in.MaxTokens
	}
	// the server-wide limit caps every request
	if p.NPredict > 0 && (out.NPredict < 0 || out.NPredict > p.NPredict) {
		out.NPredict = p.NPredict
	}
	if in.Temperature != nil {
		out.Temperature = *in.Temperature
	}
	if in.TopK != nil {
		out.TopK = *in.TopK
	}
	if in.TopP != nil {
		out.TopP = *in.TopP
	}
	if in.MinP != nil {
		out.MinP = *in.MinP
	}
	if in.RepeatPenalty != nil {
		out.RepeatPenalty = *in.RepeatPenalty
	}
	if in.Seed != nil {
		out.Seed = *in.Seed
	}
	slotID := -1
	if in.IDSlot != nil {
		slotID = *in.IDSlot
	}
	settings := types.GenerationParams{
		NPredict:      out.NPredict,
		Temperature:   out.Temperature,
		TopK:          out.TopK,
		TopP:          out.TopP,
		MinP:          out.MinP,
		RepeatPenalty: out.RepeatPenalty,
		Seed:          out.Seed,
		Stop:          append([]string{}, stops...),
		Stream:        stream,
	}
	return out, settings, slotID, nil
}

func parseStop(raw json.RawMessage) ([]string, *Error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one == "" {
			return nil, nil
		}
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, invalidRequest("'stop' must be a string or a list of strings")
	}
	out := many[:0]
	for _, s := range many {
		if s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func (s *Scheduler) tokenizeText(text string, addSpecial bool) (engine.Prompt, *Error) {
	toks, err := s.eng.Tokenize(text, addSpecial)
	if err != nil {
		return engine.Prompt{}, invalidRequest("failed to tokenize prompt: %v", err)
	}
	if len(toks) == 0 {
		return engine.Prompt{}, errEmptyPrompt
	}
	return engine.Prompt{Text: text, Tokens: toks}, nil
}

// tokenizePrompts accepts a string, a token array, or a list of strings and
// token arrays. A list holding bare token ids mixed with strings is a single
// prompt.
func (s *Scheduler) tokenizePrompts(raw json.RawMessage, field string) ([]engine.Prompt, *Error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, invalidRequest("'%s' is required", field)
	}
	var text string
	if json.Unmarshal(raw, &text) == nil {
		p, e := s.tokenizeText(text, true)
		if e != nil {
			return nil, e
		}
		return []engine.Prompt{p}, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, invalidRequest("'%s' must be a string, a list of tokens or a list of prompts", field)
	}
	if len(list) == 0 {
		return nil, invalidRequest("'%s' is empty", field)
	}
	if hasTokenID(list) {
		p, e := s.tokenizeMixed(list, field)
		if e != nil {
			return nil, e
		}
		return []engine.Prompt{p}, nil
	}
	out := make([]engine.Prompt, 0, len(list))
	for _, item := range list {
		var text string
		if json.Unmarshal(item, &text) == nil {
			p, e := s.tokenizeText(text, true)
			if e != nil {
				return nil, e
			}
			out = append(out, p)
			continue
		}
		var parts []json.RawMessage
		if err := json.Unmarshal(item, &parts); err != nil {
			return nil, invalidRequest("'%s' must be a string, a list of tokens or a list of prompts", field)
		}
		p, e := s.tokenizeMixed(parts, field)
		if e != nil {
			return nil, e
		}
		out = append(out, p)
	}
	return out, nil
}

func hasTokenID(list []json.RawMessage) bool {
	for _, item := range list {
		if b := bytes.TrimSpace(item); len(b) > 0 && (b[0] == '-' || (b[0] >= '0' && b[0] <= '9')) {
			return true
		}
	}
	return false
}

// tokenizeMixed builds one prompt from token ids and strings. Only the first
// piece gets special tokens.
func (s *Scheduler) tokenizeMixed(parts []json.RawMessage, field string) (engine.Prompt, *Error) {
	var (
		toks     []int32
		sb       strings.Builder
		onlyText = true
	)
	for i, part := range parts {
		var id int32
		if json.Unmarshal(part, &id) == nil {
			toks = append(toks, id)
			onlyText = false
			continue
		}
		var text string
		if err := json.Unmarshal(part, &text); err != nil {
			return engine.Prompt{}, invalidRequest("'%s' items must be strings or token ids", field)
		}
		t, err := s.eng.Tokenize(text, i == 0)
		if err != nil {
			return engine.Prompt{}, invalidRequest("failed to tokenize prompt: %v", err)
		}
		toks = append(toks, t...)
		sb.WriteString(text)
	}
	if len(toks) == 0 {
		return engine.Prompt{}, errEmptyPrompt
	}
	p := engine.Prompt{Tokens: toks}
	if onlyText {
		p.Text = sb.String()
	}
	return p, nil
}

// fill-in-the-middle markers
const (
	fimPrefix = "<|fim_prefix|>"
	fimSuffix = "<|fim_suffix|>"
	fimMiddle = "<|fim_middle|>"
)

func (s *Scheduler) infillPrompt(req types.CompletionRequest) ([]engine.Prompt, *Error) {
	if req.InputPrefix == "" && req.InputSuffix == "" {
		return nil, invalidRequest("'input_prefix' or 'input_suffix' is required")
	}
	var extra string
	if raw := bytes.TrimSpace(req.Prompt); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &extra); err != nil {
			return nil, invalidRequest("'prompt' must be a string")
		}
	}
	text := fimPrefix + req.InputPrefix + fimSuffix + req.InputSuffix + fimMiddle + extra
	p, e := s.tokenizeText(text, true)
	if e != nil {
		return nil, e
	}
	return []engine.Prompt{p}, nil
}

var errEmptyPrompt = invalidRequest("the prompt is empty")

func newCompletionID() string { return "chatcmpl-" + ulid.Make().String() }

func (s *Scheduler) modelName() string {
	if s.params.Alias != "" {
		return s.params.Alias
	}
	return s.params.Model
}
