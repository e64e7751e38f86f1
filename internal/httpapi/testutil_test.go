package httpapi

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"llamacore/internal/engine/echo"
	"llamacore/internal/manager"
	"llamacore/internal/scheduler"
	"llamacore/pkg/types"
)

// mockService fails every engine request with engineErr, or blocks until the
// context ends when block is set.
type mockService struct {
	models    []types.Model
	status    types.StatusResponse
	ready     bool
	engineErr error
	block     bool
}

func (m *mockService) ListModels() []types.Model    { return append([]types.Model(nil), m.models...) }
func (m *mockService) Status() types.StatusResponse { return m.status }
func (m *mockService) Ready() bool                  { return m.ready }
func (m *mockService) WithEngine(ctx context.Context, _ string, _ func(*scheduler.Scheduler) error) error {
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return m.engineErr
}

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

// newEchoManager returns a manager over two echo models, "m" (default) and "n".
func newEchoManager(t *testing.T, cfg echo.Config, opts ...func(*manager.ManagerConfig)) *manager.Manager {
	t.Helper()
	SetLogger(zerolog.Nop())
	dir := t.TempDir()
	var reg []types.Model
	for _, id := range []string{"m", "n"} {
		p := filepath.Join(dir, id+".gguf")
		if err := os.WriteFile(p, []byte("gguf"), 0o644); err != nil {
			t.Fatalf("write model: %v", err)
		}
		reg = append(reg, types.Model{ID: id, Name: id, Path: p})
	}
	cfg.RequireFile = true
	mc := manager.ManagerConfig{
		Registry:     reg,
		DefaultModel: "m",
		Loader:       &echo.Loader{Config: cfg},
		Logger:       zerolog.Nop(),
		PollInterval: 10 * time.Millisecond,
	}
	for _, o := range opts {
		o(&mc)
	}
	m := manager.NewWithConfig(mc)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func eventually(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", within)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
