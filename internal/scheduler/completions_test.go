package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"llamacore/internal/engine/echo"
	"llamacore/internal/sink"
	"llamacore/pkg/types"
)

func TestCompletionNative(t *testing.T) {
	h := startHarness(t, echo.Config{})
	buf, err := run(t, h.s.Completions, `{"prompt":"hello world again","n_predict":16}`)
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	if buf.Status() != 0 {
		t.Fatalf("unexpected status %d", buf.Status())
	}
	res := decode[types.CompletionResponse](t, lastPayload(t, buf))
	if res.Content != "hello world again" {
		t.Fatalf("content: got %q", res.Content)
	}
	if !res.Stop || res.StopType != "eos" {
		t.Fatalf("expected eos stop, got stop=%v type=%q", res.Stop, res.StopType)
	}
	if res.TokensEvaluated != len("hello world again") || res.TokensPredicted != 3 {
		t.Fatalf("tokens: evaluated=%d predicted=%d", res.TokensEvaluated, res.TokensPredicted)
	}
	if res.GenerationSettings == nil || res.GenerationSettings.NPredict != 16 {
		t.Fatalf("generation settings: %+v", res.GenerationSettings)
	}
	if res.Timings == nil || res.Timings.PredictedN != 3 {
		t.Fatalf("timings: %+v", res.Timings)
	}
	if n := h.s.waiters.len(); n != 0 {
		t.Fatalf("waiting registry must be empty, got %d", n)
	}
}

func TestWaitingRegistryEmptyAfterStop(t *testing.T) {
	h := startHarness(t, echo.Config{})
	for i := 0; i < 3; i++ {
		if _, err := run(t, h.s.Completions, `{"prompt":"a b c","stream":true}`); err != nil {
			t.Fatalf("completion: %v", err)
		}
	}
	if err := h.s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if n := h.s.waiters.len(); n != 0 {
		t.Fatalf("waiting registry must be empty, got %d", n)
	}
}

func TestCompletionStopConditions(t *testing.T) {
	h := startHarness(t, echo.Config{})
	cases := []struct {
		name      string
		body      string
		content   string
		stopType  string
		word      string
		truncated bool
	}{
		{"stop word", `{"prompt":"hello world again","stop":["world"]}`, "hello ", "word", "world", false},
		{"stop string", `{"prompt":"hello world again","stop":"again"}`, "hello world ", "word", "again", false},
		{"n_predict", `{"prompt":"hello world again","n_predict":1}`, "hello ", "limit", "", false},
		{"max_tokens", `{"prompt":"hello world again","max_tokens":2}`, "hello world ", "limit", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := run(t, h.s.Completions, tc.body)
			if err != nil {
				t.Fatalf("completion: %v", err)
			}
			res := decode[types.CompletionResponse](t, lastPayload(t, buf))
			if res.Content != tc.content || res.StopType != tc.stopType || res.StoppingWord != tc.word || res.Truncated != tc.truncated {
				t.Fatalf("got content=%q type=%q word=%q truncated=%v", res.Content, res.StopType, res.StoppingWord, res.Truncated)
			}
		})
	}
}

func TestContextLimitTruncates(t *testing.T) {
	// 40 tokens over 4 slots leaves 10 per slot
	h := startHarness(t, echo.Config{}, "-m", "echo.gguf", "-c", "40")
	buf, err := run(t, h.s.Completions, `{"prompt":"a b c d e"}`)
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	res := decode[types.CompletionResponse](t, lastPayload(t, buf))
	if res.Content != "a " || res.StopType != "limit" || !res.Truncated {
		t.Fatalf("got content=%q type=%q truncated=%v", res.Content, res.StopType, res.Truncated)
	}
}

func TestServerNPredictCapsRequests(t *testing.T) {
	h := startHarness(t, echo.Config{}, "-m", "echo.gguf", "-n", "1")
	buf, err := run(t, h.s.Completions, `{"prompt":"hello world again","n_predict":10}`)
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	res := decode[types.CompletionResponse](t, lastPayload(t, buf))
	if res.Content != "hello " || res.StopType != "limit" {
		t.Fatalf("got %q %q", res.Content, res.StopType)
	}
}

func TestExceedsContextDoesNotConsumeID(t *testing.T) {
	h := startHarness(t, echo.Config{}, "-m", "echo.gguf", "-c", "64", "-np", "2")
	before := h.s.queue.peekID()
	prompt := strings.Repeat("x", 40)
	buf, err := run(t, h.s.Completions, fmt.Sprintf(`{"prompt":%q}`, prompt))
	if !IsExceedsContext(err) {
		t.Fatalf("expected exceeds context, got %v", err)
	}
	if after := h.s.queue.peekID(); after != before {
		t.Fatalf("task id consumed: before=%d after=%d", before, after)
	}
	if buf.Status() != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", buf.Status())
	}
	body := errorBody(t, lastPayload(t, buf))
	if body.Type != "exceed_context_size_error" || body.NPromptTokens != 40 || body.NCtx != 32 {
		t.Fatalf("unexpected error body %+v", body)
	}
	if n := h.s.waiters.len(); n != 0 {
		t.Fatalf("nothing may be registered, got %d", n)
	}
}

func TestCompletionInvalidRequests(t *testing.T) {
	h := startHarness(t, echo.Config{})
	for _, body := range []string{
		`{"prompt":`,
		`{}`,
		`{"prompt":""}`,
		`{"prompt":[]}`,
		`{"prompt":{"a":1}}`,
		`{"prompt":"hi","n":2}`,
		`{"prompt":"hi","stop":3}`,
		`{"prompt":"hi","id_slot":7}`,
	} {
		buf, err := run(t, h.s.Completions, body)
		if !IsInvalidRequest(err) {
			t.Fatalf("body %s: expected invalid request, got %v", body, err)
		}
		if buf.Status() != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, buf.Status())
		}
		if e := errorBody(t, lastPayload(t, buf)); e.Type != "invalid_request_error" || e.Code != 400 {
			t.Fatalf("body %s: unexpected envelope %+v", body, e)
		}
	}
}

func TestCompletionWhenStopped(t *testing.T) {
	h := newHarness(t, echo.Config{})
	buf, err := run(t, h.s.Completions, `{"prompt":"hi"}`)
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if buf.Status() != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", buf.Status())
	}
}

func TestStreamMatchesNonStream(t *testing.T) {
	h := startHarness(t, echo.Config{})
	prompt := "the quick brown fox jumps over the lazy dog"
	for _, stop := range []string{`null`, `["lazy"]`, `["ov"]`} {
		one, err := run(t, h.s.Completions, fmt.Sprintf(`{"prompt":%q,"stop":%s}`, prompt, stop))
		if err != nil {
			t.Fatalf("completion: %v", err)
		}
		want := decode[types.CompletionResponse](t, lastPayload(t, one))

		streamed, err := run(t, h.s.Completions, fmt.Sprintf(`{"prompt":%q,"stop":%s,"stream":true}`, prompt, stop))
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		got, final := streamedText(t, streamed)
		if got != want.Content {
			t.Fatalf("stop %s: streamed %q, one-shot %q", stop, got, want.Content)
		}
		if !final.Stop || final.StopType != want.StopType {
			t.Fatalf("stop %s: final event %+v", stop, final)
		}
		if !bytes.HasPrefix(streamed.Bytes(), []byte("data: ")) {
			t.Fatalf("stream must be framed, got %q", streamed.Bytes())
		}
		if bytes.Contains(streamed.Bytes(), []byte("[DONE]")) {
			t.Fatalf("native stream must not carry the done sentinel")
		}
	}
}

func TestStreamHoldsBackPartialStop(t *testing.T) {
	h := startHarness(t, echo.Config{})
	buf, err := run(t, h.s.Completions, `{"prompt":"ab cd ef","stop":["cd e"],"stream":true}`)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	for _, p := range buf.Payloads() {
		if strings.Contains(decode[types.CompletionResponse](t, p).Content, "cd") {
			t.Fatalf("stop prefix leaked into stream: %s", p)
		}
	}
	got, final := streamedText(t, buf)
	if got != "ab " || final.StopType != "word" {
		t.Fatalf("got %q stop_type=%q", got, final.StopType)
	}
}

func TestMultiPromptNative(t *testing.T) {
	h := startHarness(t, echo.Config{})
	buf, err := run(t, h.s.Completions, `{"prompt":["one two","three",[104,105]]}`)
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	res := decode[[]types.CompletionResponse](t, lastPayload(t, buf))
	want := []string{"one two", "three", "hi"}
	if len(res) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(res))
	}
	for i, r := range res {
		if r.Index != i || r.Content != want[i] {
			t.Fatalf("result %d: index=%d content=%q", i, r.Index, r.Content)
		}
	}
}

func TestTokenPrompt(t *testing.T) {
	h := startHarness(t, echo.Config{})
	buf, err := run(t, h.s.Completions, `{"prompt":[104,"i ",116,104,101,114,101]}`)
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	if got := decode[types.CompletionResponse](t, lastPayload(t, buf)).Content; got != "hi there" {
		t.Fatalf("got %q", got)
	}
}

func TestCompletionsOAI(t *testing.T) {
	h := startHarness(t, echo.Config{})
	buf, err := run(t, h.s.CompletionsOAI, `{"model":"m","prompt":["alpha beta","gamma"],"max_tokens":1}`)
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	res := decode[types.OAICompletion](t, lastPayload(t, buf))
	if res.Object != "text_completion" || !strings.HasPrefix(res.ID, "chatcmpl-") || res.Model != "m" {
		t.Fatalf("unexpected envelope %+v", res)
	}
	if len(res.Choices) != 2 || res.Choices[0].Text != "alpha " || res.Choices[1].Text != "gamma" {
		t.Fatalf("unexpected choices %+v", res.Choices)
	}
	if *res.Choices[0].FinishReason != "length" || *res.Choices[1].FinishReason != "length" {
		t.Fatalf("expected length finish reasons")
	}
	if res.Usage == nil || res.Usage.CompletionTokens != 2 {
		t.Fatalf("usage: %+v", res.Usage)
	}
}

func TestCompletionsOAIStreamEndsWithDone(t *testing.T) {
	h := startHarness(t, echo.Config{})
	buf, err := run(t, h.s.CompletionsOAI, `{"prompt":"one two","stream":true}`)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	evs := buf.Events()
	if len(evs) < 2 || !evs[len(evs)-1].Done {
		t.Fatalf("expected done sentinel last, got %d events", len(evs))
	}
	if !bytes.HasSuffix(buf.Bytes(), []byte("data: [DONE]\n\n")) {
		t.Fatalf("unexpected framing %q", buf.Bytes())
	}
	var text strings.Builder
	ids := map[string]bool{}
	for _, p := range buf.Payloads() {
		c := decode[types.OAICompletion](t, p)
		ids[c.ID] = true
		text.WriteString(c.Choices[0].Text)
	}
	if text.String() != "one two" || len(ids) != 1 {
		t.Fatalf("got %q over %d ids", text.String(), len(ids))
	}
}

func TestChatCompletions(t *testing.T) {
	h := startHarness(t, echo.Config{})
	body := `{"messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hi there"}]}`
	buf, err := run(t, h.s.ChatCompletions, body)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	res := decode[types.OAIChatCompletion](t, lastPayload(t, buf))
	if res.Object != "chat.completion" || len(res.Choices) != 1 {
		t.Fatalf("unexpected response %+v", res)
	}
	msg := res.Choices[0].Message
	if msg == nil || msg.Role != "assistant" || msg.Content != "hi there" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if *res.Choices[0].FinishReason != "stop" {
		t.Fatalf("finish reason %q", *res.Choices[0].FinishReason)
	}
}

func TestChatStream(t *testing.T) {
	h := startHarness(t, echo.Config{})
	body := `{"stream":true,"messages":[{"role":"user","content":[{"type":"text","text":"one two three"}]}]}`
	buf, err := run(t, h.s.ChatCompletions, body)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	ps := buf.Payloads()
	if len(ps) < 2 {
		t.Fatalf("expected several chunks, got %d", len(ps))
	}
	var text strings.Builder
	for i, p := range ps {
		c := decode[types.OAIChatCompletion](t, p)
		if c.Object != "chat.completion.chunk" {
			t.Fatalf("chunk %d: object %q", i, c.Object)
		}
		d := c.Choices[0].Delta
		if (i == 0) != (d.Role == "assistant") {
			t.Fatalf("chunk %d: role %q", i, d.Role)
		}
		if d.Content != nil {
			text.WriteString(*d.Content)
		}
		last := i == len(ps)-1
		if last != (c.Choices[0].FinishReason != nil) || last != (c.Usage != nil) {
			t.Fatalf("chunk %d: finish_reason/usage only on the final chunk", i)
		}
	}
	if text.String() != "one two three" {
		t.Fatalf("got %q", text.String())
	}
	if evs := buf.Events(); !evs[len(evs)-1].Done {
		t.Fatalf("expected done sentinel")
	}
}

func TestChatRequiresMessages(t *testing.T) {
	h := startHarness(t, echo.Config{})
	if _, err := run(t, h.s.ChatCompletions, `{"messages":[]}`); !IsInvalidRequest(err) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestInfill(t *testing.T) {
	h := startHarness(t, echo.Config{Reply: func(p string) string {
		if !strings.HasPrefix(p, fimPrefix) || !strings.Contains(p, fimMiddle) {
			return "bad"
		}
		return "middle"
	}})
	buf, err := run(t, h.s.Infill, `{"input_prefix":"func a() {","input_suffix":"}"}`)
	if err != nil {
		t.Fatalf("infill: %v", err)
	}
	if got := decode[types.CompletionResponse](t, lastPayload(t, buf)).Content; got != "middle" {
		t.Fatalf("got %q", got)
	}
	if _, err := run(t, h.s.Infill, `{"prompt":"x"}`); !IsInvalidRequest(err) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestCancelledStreamStopsSequence(t *testing.T) {
	long := strings.Repeat("word ", 200)
	h := startHarness(t, echo.Config{StepDelay: 2 * time.Millisecond, Reply: func(string) string { return long }})
	buf := sink.NewBuffer().CloseAfter(3)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.s.Completions(ctx, []byte(`{"prompt":"go","stream":true}`), buf); err != nil {
		t.Fatalf("cancelled stream must not report an error, got %v", err)
	}
	if n := len(buf.Events()); n != 3 {
		t.Fatalf("expected writes to halt at 3 events, got %d", n)
	}
	if buf.Completions() != 1 {
		t.Fatalf("expected one Complete, got %d", buf.Completions())
	}
	eng := h.engine()
	eventually(t, 2*time.Second, func() bool { return eng.Active() == 0 })
	steps := eng.Steps(0)
	time.Sleep(50 * time.Millisecond)
	if eng.Steps(0) != steps {
		t.Fatalf("sequence kept stepping after cancel: %d -> %d", steps, eng.Steps(0))
	}
	if steps >= 200 {
		t.Fatalf("sequence ran to completion (%d steps)", steps)
	}
	if n := h.s.waiters.len(); n != 0 {
		t.Fatalf("waiting registry must be empty, got %d", n)
	}
}

// deafSink accepts every write but reports not-writable after the first one,
// like a peer that closed while the transport still buffers.
type deafSink struct {
	*sink.Buffer
	mu     sync.Mutex
	writes int
}

func (d *deafSink) Write(ev sink.Event) bool {
	d.mu.Lock()
	d.writes++
	d.mu.Unlock()
	return d.Buffer.Write(ev)
}

func (d *deafSink) IsWritable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes == 0
}

func TestStreamStopsWhenSinkTurnsNotWritable(t *testing.T) {
	long := strings.Repeat("word ", 400)
	h := newHarness(t, echo.Config{Reply: func(string) string { return long }})
	// an idle tick never fires during the request
	h.s.poll = time.Minute
	if err := h.s.Start([]string{"-m", "echo.gguf"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = h.s.Stop() })

	snk := &deafSink{Buffer: sink.NewBuffer()}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.s.Completions(ctx, []byte(`{"prompt":"go","stream":true}`), snk); err != nil {
		t.Fatalf("cancelled stream must not report an error, got %v", err)
	}
	if n := len(snk.Events()); n != 1 {
		t.Fatalf("expected writes to halt once IsWritable turned false, got %d events", n)
	}
	if snk.Completions() != 1 {
		t.Fatalf("expected one Complete, got %d", snk.Completions())
	}
	eng := h.engine()
	eventually(t, 2*time.Second, func() bool { return eng.Active() == 0 })
	if n := h.s.waiters.len(); n != 0 {
		t.Fatalf("waiting registry must be empty, got %d", n)
	}
}

func TestContextCancelStopsNonStream(t *testing.T) {
	long := strings.Repeat("word ", 500)
	h := startHarness(t, echo.Config{StepDelay: 2 * time.Millisecond, Reply: func(string) string { return long }})
	buf := sink.NewBuffer()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	if err := h.s.Completions(ctx, []byte(`{"prompt":"go"}`), buf); err != nil {
		t.Fatalf("cancelled request must not report an error, got %v", err)
	}
	if len(buf.Events()) != 0 {
		t.Fatalf("nothing may be written after cancel")
	}
	eventually(t, 2*time.Second, func() bool { return h.engine().Active() == 0 })
}

func TestStopFailsWaitingRequests(t *testing.T) {
	h := startHarness(t, echo.Config{StepDelay: 5 * time.Millisecond, Reply: func(string) string {
		return strings.Repeat("word ", 1000)
	}})
	done := make(chan error, 1)
	buf := sink.NewBuffer()
	go func() {
		done <- h.s.Completions(context.Background(), []byte(`{"prompt":"go"}`), buf)
	}()
	eventually(t, 2*time.Second, func() bool { return h.engine().Active() == 1 })
	if err := h.s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case err := <-done:
		if !IsUnavailable(err) {
			t.Fatalf("expected unavailable, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("waiting request did not return after stop")
	}
	if buf.Status() != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", buf.Status())
	}
	if e := errorBody(t, lastPayload(t, buf)); e.Message != "engine stopped" {
		t.Fatalf("unexpected message %q", e.Message)
	}
}

func TestConcurrentStreamsAreIndependent(t *testing.T) {
	h := startHarness(t, echo.Config{StepDelay: time.Millisecond}, "-m", "echo.gguf", "-np", "2")
	const n = 6
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			prompt := fmt.Sprintf("session %d says %d %d %d", i, i, i+1, i+2)
			buf := sink.NewBuffer()
			if err := h.s.Completions(context.Background(), []byte(fmt.Sprintf(`{"prompt":%q,"stream":true}`, prompt)), buf); err != nil {
				errs <- err
				return
			}
			var sb strings.Builder
			for _, p := range buf.Payloads() {
				var r types.CompletionResponse
				if err := json.Unmarshal(p, &r); err != nil {
					errs <- err
					return
				}
				sb.WriteString(r.Content)
			}
			if sb.String() != prompt {
				errs <- fmt.Errorf("session %d: got %q", i, sb.String())
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestPinnedSlot(t *testing.T) {
	h := startHarness(t, echo.Config{}, "-m", "echo.gguf", "-np", "2")
	buf, err := run(t, h.s.Completions, `{"prompt":"pinned","id_slot":1}`)
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	if got := decode[types.CompletionResponse](t, lastPayload(t, buf)).IDSlot; got != 1 {
		t.Fatalf("expected slot 1, got %d", got)
	}
}
