// Package registry discovers GGUF model files on disk.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"llamacore/internal/common/fsutil"
	"llamacore/pkg/types"
)

// GGUFScanner builds a model registry from the *.gguf files in a directory.
type GGUFScanner struct{}

func NewGGUFScanner() *GGUFScanner { return &GGUFScanner{} }

var (
	quantRe  = regexp.MustCompile(`(?i)(?:^|[-_.])((?:I?Q\d+(?:_[A-Z0-9]+)*)|F16|BF16|F32)(?:[-_.]|$)`)
	families = []string{"llama", "mistral", "mixtral", "phi", "qwen", "gemma", "deepseek", "tinyllama", "whisper"}
)

// Scan lists dir non-recursively. ID is the full filename (including
// extension); Path is the absolute file path. Quant and Family are guessed
// from the filename. Results are sorted by ID.
func (s *GGUFScanner) Scan(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		stem := name[:len(name)-len(".gguf")]
		models = append(models, types.Model{
			ID:     name,
			Name:   stem,
			Path:   filepath.Join(abs, name),
			Quant:  quantOf(stem),
			Family: familyOf(stem),
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// LoadDir scans a directory for *.gguf files and builds a registry from filenames.
func LoadDir(dir string) ([]types.Model, error) {
	return NewGGUFScanner().Scan(dir)
}

func quantOf(stem string) string {
	m := quantRe.FindAllStringSubmatch(stem, -1)
	if len(m) == 0 {
		return ""
	}
	return strings.ToUpper(m[len(m)-1][1])
}

func familyOf(stem string) string {
	lower := strings.ToLower(stem)
	best := ""
	for _, f := range families {
		// longest match wins so tinyllama beats llama
		if strings.Contains(lower, f) && len(f) > len(best) {
			best = f
		}
	}
	return best
}
