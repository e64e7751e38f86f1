//go:build !llama

package llama

// No-cgo stub compiled when the 'llama' build tag is not set, keeping default
// builds and CI cgo-free. The real runtime lives in llama.go.

import "llamacore/internal/engine"

// Built reports whether this binary carries the go-llama.cpp runtime.
const Built = false

// Loader refuses to load models without the 'llama' build tag.
type Loader struct{}

func NewLoader() engine.Loader { return Loader{} }

func (Loader) Load(engine.Params) (engine.Engine, error) {
	return nil, engine.ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}

// Backend is a no-op in the stub.
type Backend = engine.NopBackend
