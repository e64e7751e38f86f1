package runner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"llamacore/internal/engine"
	"llamacore/internal/engine/echo"
	"llamacore/pkg/types"
)

var args = []string{"-m", "echo.gguf"}

func newRunner(t *testing.T, cfg echo.Config) (*Runner, *echo.Loader, *echo.Backend, *engine.ModeGuard) {
	t.Helper()
	color.NoColor = true
	loader := &echo.Loader{Config: cfg}
	backend := &echo.Backend{}
	guard := &engine.ModeGuard{}
	r := New(Config{Loader: loader, Backend: backend, Guard: guard, Logger: zerolog.Nop()})
	t.Cleanup(func() {
		if r.IsRunning() {
			_ = r.Stop()
		}
	})
	return r, loader, backend, guard
}

func TestGenerateInline(t *testing.T) {
	r, _, backend, _ := newRunner(t, echo.Config{})
	var out bytes.Buffer
	if err := r.Start(context.Background(), Options{Args: args, Prompt: "the quick brown fox", Out: &out, ShowPrompt: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !r.IsRunning() {
		t.Fatalf("expected running until Stop")
	}
	text, err := r.Wait()
	if err != nil || text != "the quick brown fox" {
		t.Fatalf("wait: %q %v", text, err)
	}
	if got := out.String(); got != "the quick brown foxthe quick brown fox" {
		t.Fatalf("unexpected output %q", got)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if inits, frees := backend.Counts(); inits != 1 || frees != 1 {
		t.Fatalf("backend init/free %d/%d", inits, frees)
	}
	if text, err := r.Wait(); err != nil || text != "the quick brown fox" {
		t.Fatalf("wait after stop must keep the result: %q %v", text, err)
	}
}

func TestChat(t *testing.T) {
	r, _, _, _ := newRunner(t, echo.Config{})
	text, err := r.Chat(context.Background(), args, []types.ChatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello there"},
	})
	if err != nil || text != "hello there" {
		t.Fatalf("chat: %q %v", text, err)
	}
	if r.IsRunning() {
		t.Fatalf("Chat must tear down")
	}
}

func TestStopConditions(t *testing.T) {
	cases := []struct {
		name string
		opts Options
		want string
	}{
		{"n_predict", Options{Prompt: "one two three four", NPredict: 2}, "one two "},
		{"stop word", Options{Prompt: "one two three four", Stop: []string{" thr"}}, "one two"},
		{"server n_predict", Options{Args: []string{"-m", "x", "-n", "1"}, Prompt: "one two"}, "one "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, _, _, _ := newRunner(t, echo.Config{})
			var out bytes.Buffer
			tc.opts.Out = &out
			if tc.opts.Args == nil {
				tc.opts.Args = args
			}
			if err := r.Start(context.Background(), tc.opts); err != nil {
				t.Fatalf("start: %v", err)
			}
			text, err := r.Wait()
			if err != nil || text != tc.want {
				t.Fatalf("got %q %v, want %q", text, err, tc.want)
			}
			if out.String() != tc.want {
				t.Fatalf("streamed %q, want %q", out.String(), tc.want)
			}
		})
	}
}

func TestContextLimit(t *testing.T) {
	r, _, _, _ := newRunner(t, echo.Config{})
	text, err := r.Generate(context.Background(), []string{"-m", "x", "-c", "12"}, "aa bb cc dd ee")
	if err == nil {
		t.Fatalf("prompt longer than context must fail, got %q", text)
	}
	text, err = r.Generate(context.Background(), []string{"-m", "x", "-c", "8"}, "a b c")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	// five prompt tokens leave room for three pieces
	if text != "a b c" {
		t.Fatalf("got %q", text)
	}
	text, err = r.Generate(context.Background(), []string{"-m", "x", "-c", "7"}, "a b c")
	if err != nil || text != "a b " {
		t.Fatalf("expected truncation at the context limit, got %q %v", text, err)
	}
}

func TestStartTwiceAndStopWithoutStart(t *testing.T) {
	r, _, _, _ := newRunner(t, echo.Config{})
	if err := r.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("stop without start: %v", err)
	}
	if _, err := r.Wait(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("wait without start: %v", err)
	}
	if err := r.Start(context.Background(), Options{Args: args, Prompt: "hi"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Start(context.Background(), Options{Args: args, Prompt: "hi"}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("double start: %v", err)
	}
}

func TestGuardExclusion(t *testing.T) {
	r, _, backend, guard := newRunner(t, echo.Config{})
	if err := guard.EnterQueued(); err != nil {
		t.Fatalf("enter queued: %v", err)
	}
	if err := r.Start(context.Background(), Options{Args: args, Prompt: "hi"}); !errors.Is(err, engine.ErrQueuedActive) {
		t.Fatalf("expected queued mode to block the runner, got %v", err)
	}
	if inits, _ := backend.Counts(); inits != 0 {
		t.Fatalf("backend touched while blocked")
	}
	guard.LeaveQueued()
	if err := r.Start(context.Background(), Options{Args: args, Prompt: "hi"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := guard.EnterQueued(); !errors.Is(err, engine.ErrSingleShotActive) {
		t.Fatalf("expected runner to block queued mode, got %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := guard.EnterQueued(); err != nil {
		t.Fatalf("guard not released by Stop: %v", err)
	}
}

func TestAsyncStopCancels(t *testing.T) {
	long := strings.Repeat("word ", 500)
	r, loader, backend, _ := newRunner(t, echo.Config{StepDelay: 2 * time.Millisecond, Reply: func(string) string { return long }})
	if err := r.Start(context.Background(), Options{Args: args, Prompt: "go", Async: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for loader.Last().Steps(seq) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("exchange did not make progress")
		}
		time.Sleep(time.Millisecond)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	text, err := r.Wait()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled exchange, got %v", err)
	}
	if text == "" || len(text) >= len(long) {
		t.Fatalf("expected partial text, got %d bytes", len(text))
	}
	if loader.Last().Active() != 0 {
		t.Fatalf("sequence not ended")
	}
	if inits, frees := backend.Counts(); inits != 1 || frees != 1 {
		t.Fatalf("backend init/free %d/%d", inits, frees)
	}
}

func TestStartFailuresRelease(t *testing.T) {
	r, _, backend, guard := newRunner(t, echo.Config{RequireFile: true})
	if err := r.Start(context.Background(), Options{Args: []string{"-m", "/missing.gguf"}, Prompt: "hi"}); err == nil {
		t.Fatalf("expected load failure")
	}
	if inits, frees := backend.Counts(); inits != 1 || frees != 1 {
		t.Fatalf("backend not released: %d/%d", inits, frees)
	}
	if err := guard.EnterSingle(); err != nil {
		t.Fatalf("guard not released: %v", err)
	}
	guard.LeaveSingle()

	r, _, _, _ = newRunner(t, echo.Config{})
	if err := r.Start(context.Background(), Options{Args: args}); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected empty prompt, got %v", err)
	}
	if err := r.Start(context.Background(), Options{Args: []string{"--bogus"}, Prompt: "x"}); !engine.IsArgError(err) {
		t.Fatalf("expected argument error, got %v", err)
	}
	if r.IsRunning() {
		t.Fatalf("failed starts must leave the runner stopped")
	}
}

func TestStepFailure(t *testing.T) {
	r, _, _, _ := newRunner(t, echo.Config{FailStepAfter: 1})
	if _, err := r.Generate(context.Background(), args, "a b c"); err == nil {
		t.Fatalf("expected step failure")
	}
}
