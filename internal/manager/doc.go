// Package manager keeps a registry of scheduler-backed engines keyed by model
// id and coordinates their lifecycle and admission. It is structured into
// small files by concern:
//
//   - manager.go: core Manager type, constructor, simple getters.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: internal state types (State, ModelInfo, Instance, Snapshot).
//   - errors.go: error types and helpers (IsTooBusy, IsModelNotFound, IsBudgetExceeded).
//   - helpers.go: small utilities (model lookup, VRAM estimation).
//   - ensure.go: EnsureInstance, one scheduler start per model id.
//   - admission.go: per-instance admission queue and WithEngine.
//   - evict.go: LRU eviction to fit within the VRAM budget.
//   - unload.go: Unload and Close, draining before Stop.
//   - status_report.go: Status/Snapshot reporting helpers.
//   - ops.go: background Switch with operation ids.
//   - preflight.go: startup checks for the default model.
//   - lru_persist.go: LRU metadata persisted across restarts.
//
// Every instance owns one *scheduler.Scheduler. All schedulers share one
// engine.SharedBackend so backend-global init happens once per process.
//
// External packages should treat this package as the orchestration layer and use
// public methods only (e.g., NewWithConfig, Ready, ListModels, Status, WithEngine).
// Internal types are subject to change.
package manager
