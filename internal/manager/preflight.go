package manager

import (
	"fmt"
	"os"
)

// PreflightCheck is one startup check result.
type PreflightCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// Preflight validates the default model and engine wiring without loading
// anything. It does not mutate state and is safe to call at any time.
func (m *Manager) Preflight() []PreflightCheck {
	var out []PreflightCheck
	add := func(name string, ok bool, format string, args ...any) {
		c := PreflightCheck{Name: name, OK: ok}
		if !ok {
			c.Message = fmt.Sprintf(format, args...)
		}
		out = append(out, c)
	}

	add("engine_loader_configured", m.loader != nil, "no engine loader configured")
	if m.defaultModel == "" {
		add("default_model_configured", false, "no default model configured")
		return out
	}
	add("default_model_configured", true, "")
	mdl, ok := m.getModelByID(m.defaultModel)
	add("default_model_in_registry", ok, "default model %q is not in the registry", m.defaultModel)
	if !ok {
		return out
	}
	fi, err := os.Stat(mdl.Path)
	add("default_model_path_exists", err == nil, "%v", err)
	if err != nil {
		return out
	}
	add("default_model_path_is_file", !fi.IsDir(), "%s is a directory", mdl.Path)
	if m.budgetMB > 0 {
		need := m.estimateVRAMMB(mdl) + m.marginMB
		add("default_model_fits_budget", need <= m.budgetMB, "needs %d MB, budget is %d MB", need, m.budgetMB)
	}
	return out
}
