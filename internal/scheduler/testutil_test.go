package scheduler

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"llamacore/internal/engine"
	"llamacore/internal/engine/echo"
	"llamacore/internal/sink"
	"llamacore/pkg/types"
)

type harness struct {
	s       *Scheduler
	loader  *echo.Loader
	backend *echo.Backend
}

func (h *harness) engine() *echo.Engine { return h.loader.Last() }

// newHarness returns a stopped scheduler over the echo engine.
func newHarness(t *testing.T, cfg echo.Config) *harness {
	t.Helper()
	h := &harness{loader: &echo.Loader{Config: cfg}, backend: &echo.Backend{}}
	h.s = New(Config{
		Loader:       h.loader,
		Backend:      engine.Shared(h.backend),
		Logger:       zerolog.Nop(),
		PollInterval: 10 * time.Millisecond,
	})
	return h
}

// startHarness starts the scheduler with args and stops it on cleanup.
func startHarness(t *testing.T, cfg echo.Config, args ...string) *harness {
	t.Helper()
	h := newHarness(t, cfg)
	if len(args) == 0 {
		args = []string{"-m", "echo.gguf"}
	}
	if err := h.s.Start(args); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		if h.s.IsRunning() {
			_ = h.s.Stop()
		}
	})
	return h
}

type handler func(context.Context, []byte, sink.Sink) error

func run(t *testing.T, fn handler, body string) (*sink.Buffer, error) {
	t.Helper()
	buf := sink.NewBuffer()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := fn(ctx, []byte(body), buf)
	if buf.Completions() != 1 {
		t.Fatalf("expected Complete once, got %d", buf.Completions())
	}
	return buf, err
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return v
}

func lastPayload(t *testing.T, buf *sink.Buffer) []byte {
	t.Helper()
	ps := buf.Payloads()
	if len(ps) == 0 {
		t.Fatalf("no payload written")
	}
	return ps[len(ps)-1]
}

// streamedText concatenates the content of native stream events.
func streamedText(t *testing.T, buf *sink.Buffer) (string, types.CompletionResponse) {
	t.Helper()
	var (
		sb   strings.Builder
		last types.CompletionResponse
	)
	for _, ev := range buf.Events() {
		if !ev.Stream {
			t.Fatalf("expected stream event, got %+v", ev)
		}
		if ev.Done {
			continue
		}
		last = decode[types.CompletionResponse](t, ev.Payload)
		sb.WriteString(last.Content)
	}
	return sb.String(), last
}

func errorBody(t *testing.T, b []byte) types.ErrorBody {
	t.Helper()
	return decode[types.ErrorResponse](t, b).Error
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", d)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
