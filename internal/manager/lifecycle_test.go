package manager

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"llamacore/internal/scheduler"
	"llamacore/pkg/types"
)

func TestUnloadDrainsThenStops(t *testing.T) {
	p := createModelFile(t, t.TempDir(), "m.gguf", 4)
	pub := NewMemoryPublisher()
	m, _, _ := newTestManager(t, ManagerConfig{Registry: []types.Model{{ID: "m", Path: p}}})
	m.SetEventPublisher(pub)
	if err := m.EnsureInstance(testCtx(t), "m"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	m.mu.RLock()
	eng := m.instances["m"].Engine
	m.mu.RUnlock()

	hold := make(chan struct{})
	entered := make(chan struct{})
	go func() {
		_ = m.WithEngine(context.Background(), "m", func(*scheduler.Scheduler) error {
			close(entered)
			<-hold
			return nil
		})
	}()
	<-entered
	unloaded := make(chan error, 1)
	go func() { unloaded <- m.Unload("m") }()

	eventually(t, time.Second, func() bool { return m.Status().DrainingCount == 1 })
	if err := m.WithEngine(testCtx(t), "m", func(*scheduler.Scheduler) error { return nil }); !IsTooBusy(err) {
		t.Fatalf("draining instance must reject work, got %v", err)
	}
	if !eng.IsRunning() {
		t.Fatalf("engine stopped before drain finished")
	}
	close(hold)
	if err := <-unloaded; err != nil {
		t.Fatalf("unload: %v", err)
	}
	if eng.IsRunning() {
		t.Fatalf("engine still running after unload")
	}
	st := m.Status()
	if len(st.Instances) != 0 || st.UsedMB != 0 {
		t.Fatalf("unload left state behind: %+v", st)
	}
	names := pub.Names("m")
	if got := strings.Join(names[len(names)-2:], ","); got != "unload_start,unload_done" {
		t.Fatalf("unexpected events %v", names)
	}
	if err := m.Unload("m"); !IsModelNotFound(err) {
		t.Fatalf("second unload: expected not found, got %v", err)
	}
}

func TestUnloadTimeoutStillStops(t *testing.T) {
	p := createModelFile(t, t.TempDir(), "m.gguf", 1)
	pub := NewMemoryPublisher()
	m, _, _ := newTestManager(t, ManagerConfig{Registry: []types.Model{{ID: "m", Path: p}}, DrainTimeout: 20 * time.Millisecond})
	m.SetEventPublisher(pub)
	if err := m.EnsureInstance(testCtx(t), "m"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	m.mu.RLock()
	inst := m.instances["m"]
	m.mu.RUnlock()
	inst.queueCh <- struct{}{}
	if err := m.Unload("m"); err != nil {
		t.Fatalf("unload: %v", err)
	}
	<-inst.queueCh
	found := false
	for _, n := range pub.Names("m") {
		found = found || n == "unload_timeout"
	}
	if !found || inst.Engine.IsRunning() {
		t.Fatalf("expected unload_timeout and a stopped engine (events %v)", pub.Names("m"))
	}
}

func TestCloseStopsAllAndFreesBackend(t *testing.T) {
	dir := t.TempDir()
	reg := []types.Model{
		{ID: "a", Path: createModelFile(t, dir, "a.gguf", 1)},
		{ID: "b", Path: createModelFile(t, dir, "b.gguf", 1)},
	}
	m, _, backend := newTestManager(t, ManagerConfig{Registry: reg})
	for _, id := range []string{"a", "b"} {
		if err := m.EnsureInstance(testCtx(t), id); err != nil {
			t.Fatalf("ensure %s: %v", id, err)
		}
	}
	if inits, frees := backend.Counts(); inits != 1 || frees != 0 {
		t.Fatalf("shared backend must init once: %d/%d", inits, frees)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if inits, frees := backend.Counts(); inits != 1 || frees != 1 {
		t.Fatalf("shared backend must free after the last engine: %d/%d", inits, frees)
	}
	if len(m.Status().Instances) != 0 {
		t.Fatalf("close left instances")
	}
}

func TestSwitchRunsInBackground(t *testing.T) {
	p := createModelFile(t, t.TempDir(), "m.gguf", 1)
	pub := NewMemoryPublisher()
	m, _, _ := newTestManager(t, ManagerConfig{Registry: []types.Model{{ID: "m", Path: p}}})
	m.SetEventPublisher(pub)
	ctx, cancel := context.WithCancel(context.Background())
	op, err := m.Switch(ctx, "m")
	cancel()
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if !strings.HasPrefix(op, "op-") || len(op) != len("op-")+26 {
		t.Fatalf("unexpected op id %q", op)
	}
	eventually(t, 2*time.Second, func() bool {
		names := pub.Names("m")
		return len(names) > 0 && names[len(names)-1] == "switch_done"
	})
	if !m.Ready() {
		t.Fatalf("expected ready after switch")
	}
	for _, e := range pub.Events() {
		if e.Time.IsZero() {
			t.Fatalf("event %s has no time", e.Name)
		}
		if e.Name == "switch_done" && (e.Fields["op"] != op || e.Fields["error"] != nil) {
			t.Fatalf("unexpected switch_done fields %+v", e.Fields)
		}
	}
	if _, err := m.Switch(context.Background(), "nope"); !IsModelNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSetEventPublisherNilRestoresNoop(t *testing.T) {
	m := NewWithConfig(ManagerConfig{})
	m.SetEventPublisher(nil)
	m.emit("ensure_start", "x", nil)
}

func TestLRUMetadataPersists(t *testing.T) {
	dir := t.TempDir()
	lru := filepath.Join(dir, "lru.json")
	p := createModelFile(t, dir, "m.gguf", 2)
	reg := []types.Model{{ID: "m", Path: p}}
	m, _, _ := newTestManager(t, ManagerConfig{Registry: reg, LRUPath: lru})
	if err := m.EnsureInstance(testCtx(t), "m"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(lru)
	if err != nil {
		t.Fatalf("read lru: %v", err)
	}
	var recs map[string]lruRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		t.Fatalf("decode lru: %v", err)
	}
	if rec := recs["m"]; rec.EstVRAMMB != 2 || rec.LastUsedUnix == 0 {
		t.Fatalf("unexpected record %+v", rec)
	}

	// a larger persisted estimate wins over the file size
	recs["m"] = lruRecord{LastUsedUnix: recs["m"].LastUsedUnix, EstVRAMMB: 40}
	b, _ = json.Marshal(recs)
	if err := os.WriteFile(lru, b, 0o644); err != nil {
		t.Fatalf("write lru: %v", err)
	}
	m2 := NewWithConfig(ManagerConfig{Registry: reg, LRUPath: lru})
	if got := m2.estimateVRAMMB(reg[0]); got != 40 {
		t.Fatalf("expected persisted estimate 40, got %d", got)
	}
}

func TestPreflight(t *testing.T) {
	dir := t.TempDir()
	file := createModelFile(t, dir, "m.gguf", 1)
	check := func(cs []PreflightCheck, name string) (PreflightCheck, bool) {
		for _, c := range cs {
			if c.Name == name {
				return c, true
			}
		}
		return PreflightCheck{}, false
	}

	m := NewWithConfig(ManagerConfig{})
	if c, _ := check(m.Preflight(), "default_model_configured"); c.OK {
		t.Fatalf("no default model must fail")
	}
	if c, _ := check(m.Preflight(), "engine_loader_configured"); c.OK || c.Message == "" {
		t.Fatalf("missing loader must fail with a message")
	}

	m, _, _ = newTestManager(t, ManagerConfig{Registry: []types.Model{{ID: "d", Path: dir}}, DefaultModel: "d"})
	if c, ok := check(m.Preflight(), "default_model_path_is_file"); !ok || c.OK {
		t.Fatalf("directory path must fail is_file: %+v", c)
	}

	m, _, _ = newTestManager(t, ManagerConfig{Registry: []types.Model{{ID: "x", Path: filepath.Join(dir, "missing")}}, DefaultModel: "x"})
	if c, ok := check(m.Preflight(), "default_model_path_exists"); !ok || c.OK {
		t.Fatalf("missing path must fail exists: %+v", c)
	}

	m, _, _ = newTestManager(t, ManagerConfig{Registry: []types.Model{{ID: "m", Path: file}}, DefaultModel: "m", BudgetMB: 64})
	for _, c := range m.Preflight() {
		if !c.OK {
			t.Fatalf("check %s failed: %s", c.Name, c.Message)
		}
	}
}
