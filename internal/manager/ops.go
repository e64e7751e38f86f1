package manager

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

func (m *Manager) nextOpID() string { return "op-" + ulid.Make().String() }

// Switch kicks off a background ensure of modelID and returns an operation
// ID. Callers poll Status() to observe the transition; switch_done carries
// the operation's outcome.
func (m *Manager) Switch(ctx context.Context, modelID string) (string, error) {
	if modelID == "" {
		modelID = m.defaultModel
	}
	if _, ok := m.getModelByID(modelID); !ok {
		return "", ErrModelNotFound(modelID)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	op := m.nextOpID()
	m.emit("switch_start", modelID, map[string]any{"op": op})
	go func(opID string) {
		// Detached: the caller's request may end before the load does.
		start := time.Now()
		fields := map[string]any{"op": opID}
		if err := m.EnsureInstance(context.Background(), modelID); err != nil {
			fields["error"] = err.Error()
		}
		fields["duration_ms"] = time.Since(start).Milliseconds()
		m.emit("switch_done", modelID, fields)
	}(op)
	return op, nil
}
