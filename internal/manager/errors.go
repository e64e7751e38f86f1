package manager

import (
	"errors"
	"fmt"

	"llamacore/internal/engine"
)

// tooBusyError signals queue timeout/overflow for 429 mapping.
type tooBusyError struct{ modelID string }

func (e tooBusyError) Error() string { return "too busy: " + e.modelID }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}

// ErrModelNotFound returns an error when a requested model id is not present in the registry.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

// budgetExceededError means a model cannot fit even after evicting every
// idle instance.
type budgetExceededError struct {
	modelID          string
	needMB, budgetMB int
	usedMB           int
}

func (e budgetExceededError) Error() string {
	return fmt.Sprintf("vram budget exceeded for %s: need %d MB, %d of %d MB in use",
		e.modelID, e.needMB, e.usedMB, e.budgetMB)
}

// IsBudgetExceeded reports whether err indicates the VRAM budget cannot fit the model.
func IsBudgetExceeded(err error) bool {
	var e budgetExceededError
	return errors.As(err, &e)
}

// ErrDependencyUnavailable constructs an error the HTTP layer maps to 503.
func ErrDependencyUnavailable(msg string) error { return engine.ErrDependencyUnavailable(msg) }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool { return engine.IsDependencyUnavailable(err) }
