// Package e2e exercises the full stack: registry scan, manager, scheduler
// and HTTP API over a real listener with the echo engine.
package e2e

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"llamacore/internal/engine/echo"
	"llamacore/internal/httpapi"
	"llamacore/internal/manager"
	"llamacore/internal/registry"
)

// createTempModelsDir creates a temporary directory populated with .gguf files
// of sizeMB megabytes each and returns the directory path and the model IDs.
func createTempModelsDir(t *testing.T, sizeMB int, names ...string) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		f, err := os.Create(p)
		if err != nil {
			t.Fatalf("create temp model %s: %v", p, err)
		}
		if err := f.Truncate(int64(sizeMB) << 20); err != nil {
			t.Fatalf("truncate %s: %v", p, err)
		}
		f.Close()
	}
	return dir, names
}

// newServerForDirWithConfig scans modelsDir into cfg.Registry and serves the
// API over httptest with an echo engine unless cfg names a loader.
func newServerForDirWithConfig(t *testing.T, modelsDir string, cfg manager.ManagerConfig, ecfg echo.Config) (*httptest.Server, *manager.Manager) {
	t.Helper()
	reg, err := registry.NewGGUFScanner().Scan(modelsDir)
	if err != nil {
		t.Fatalf("scan models: %v", err)
	}
	cfg.Registry = reg
	if cfg.Loader == nil {
		ecfg.RequireFile = true
		cfg.Loader = &echo.Loader{Config: ecfg}
	}
	cfg.Logger = zerolog.Nop()
	cfg.PollInterval = 10 * time.Millisecond
	httpapi.SetLogger(zerolog.Nop())
	mgr := manager.NewWithConfig(cfg)
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Close()
	})
	return srv, mgr
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func httpPost(t *testing.T, ctx context.Context, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}
