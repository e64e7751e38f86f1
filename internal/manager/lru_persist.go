package manager

import (
	"encoding/json"
	"os"
)

type lruRecord struct {
	LastUsedUnix int64 `json:"last_used_unix"`
	EstVRAMMB    int   `json:"est_vram_mb"`
}

func (m *Manager) loadLRUMetadata() {
	if m.lruPath == "" {
		return
	}
	f, err := os.Open(m.lruPath)
	if err != nil {
		return
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	var data map[string]lruRecord
	if err := dec.Decode(&data); err != nil {
		m.log.Warn().Err(err).Str("path", m.lruPath).Msg("ignoring lru metadata")
		return
	}
	m.lruMeta = data
}

// saveLRUMetadata merges live instances over the records loaded at startup.
func (m *Manager) saveLRUMetadata() {
	if m.lruPath == "" {
		return
	}
	// Snapshot under lock
	m.mu.RLock()
	snap := make(map[string]lruRecord, len(m.lruMeta)+len(m.instances))
	for id, rec := range m.lruMeta {
		snap[id] = rec
	}
	for id, inst := range m.instances {
		snap[id] = lruRecord{LastUsedUnix: inst.LastUsed.Unix(), EstVRAMMB: inst.EstVRAMMB}
	}
	m.mu.RUnlock()
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(m.lruPath, b, 0o644); err != nil {
		m.log.Warn().Err(err).Str("path", m.lruPath).Msg("write lru metadata")
	}
}
