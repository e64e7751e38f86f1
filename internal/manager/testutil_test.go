package manager

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"llamacore/internal/engine"
	"llamacore/internal/engine/echo"
)

// createModelFile creates a file of approximately sizeMB megabytes and returns its path.
func createModelFile(t *testing.T, dir, name string, sizeMB int) string {
	t.Helper()
	if sizeMB <= 0 {
		sizeMB = 1
	}
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	defer f.Close()
	// sparse file of the requested size
	if err := f.Truncate(int64(sizeMB) * 1024 * 1024); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return p
}

// countingLoader wraps the echo loader and counts loads.
type countingLoader struct {
	echo  echo.Loader
	loads atomic.Int32
	delay time.Duration
}

func (l *countingLoader) Load(p engine.Params) (engine.Engine, error) {
	l.loads.Add(1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	return l.echo.Load(p)
}

// newTestManager fills the engine runtime with a file-checking echo loader
// and closes the manager on cleanup.
func newTestManager(t *testing.T, cfg ManagerConfig) (*Manager, *countingLoader, *echo.Backend) {
	t.Helper()
	loader := &countingLoader{echo: echo.Loader{Config: echo.Config{RequireFile: true}}}
	backend := &echo.Backend{}
	if cfg.Loader == nil {
		cfg.Loader = loader
	}
	if cfg.Backend == nil {
		cfg.Backend = backend
	}
	cfg.Logger = zerolog.Nop()
	cfg.PollInterval = 10 * time.Millisecond
	m := NewWithConfig(cfg)
	t.Cleanup(func() { _ = m.Close() })
	return m, loader, backend
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
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
