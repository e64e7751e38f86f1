package main

import (
	"fmt"

	"llamacore/internal/engine"
	"llamacore/internal/engine/echo"
	"llamacore/internal/engine/llama"
)

// defaultEngine is llama when the binary carries it.
func defaultEngine() string {
	if llama.Built {
		return "llama"
	}
	return "echo"
}

// loaderFor resolves an engine name to its loader and process backend.
func loaderFor(name string) (engine.Loader, engine.Backend, error) {
	if name == "" {
		name = defaultEngine()
	}
	switch name {
	case "llama":
		return llama.NewLoader(), llama.Backend{}, nil
	case "echo":
		return echo.NewLoader(), engine.NopBackend{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown engine %q (want echo or llama)", name)
	}
}
