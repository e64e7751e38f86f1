package manager

import (
	"os"

	"llamacore/pkg/types"
)

// Helper: find model in registry by id.
func (m *Manager) getModelByID(id string) (types.Model, bool) {
	for _, mdl := range m.registry {
		if mdl.ID == id {
			return mdl, true
		}
	}
	return types.Model{}, false
}

// Helper: estimate VRAM based on file size (MB). A persisted estimate from a
// previous run wins when it is larger.
func (m *Manager) estimateVRAMMB(mdl types.Model) int {
	// If we cannot stat the file, keep a conservative minimum of 1MB
	// so an unknown size does not bypass budget checks.
	mb := 1
	if fi, err := os.Stat(mdl.Path); err == nil {
		if n := int(fi.Size() / (1024 * 1024)); n > 0 {
			mb = n
		}
	}
	if rec, ok := m.lruMeta[mdl.ID]; ok && rec.EstVRAMMB > mb {
		mb = rec.EstVRAMMB
	}
	return mb
}
