package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr" validate:"omitempty,hostname_port"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	VRAMBudgetMB int    `json:"vram_budget_mb" yaml:"vram_budget_mb" toml:"vram_budget_mb" validate:"min=0"`
	VRAMMarginMB int    `json:"vram_margin_mb" yaml:"vram_margin_mb" toml:"vram_margin_mb" validate:"min=0"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`

	// Engine selects the inference engine: echo or llama.
	Engine string `json:"engine" yaml:"engine" toml:"engine" validate:"omitempty,oneof=echo llama"`
	// EngineArgs are llama-server style flags applied to every model,
	// e.g. ["-c", "8192", "-np", "4"].
	EngineArgs []string `json:"engine_args" yaml:"engine_args" toml:"engine_args"`

	MaxQueueDepth  int `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth" validate:"min=0"`
	MaxWaitMS      int `json:"max_wait_ms" yaml:"max_wait_ms" toml:"max_wait_ms" validate:"min=0"`
	DrainTimeoutMS int `json:"drain_timeout_ms" yaml:"drain_timeout_ms" toml:"drain_timeout_ms" validate:"min=0"`
	// LRUPath persists last-used times and VRAM estimates across restarts.
	LRUPath string `json:"lru_path" yaml:"lru_path" toml:"lru_path"`

	RequestTimeoutSec int64 `json:"request_timeout_sec" yaml:"request_timeout_sec" toml:"request_timeout_sec" validate:"min=0"`
	MaxBodyBytes      int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes" validate:"min=0"`

	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins" validate:"dive,required"`
	CORSMethods []string `json:"cors_methods" yaml:"cors_methods" toml:"cors_methods" validate:"dive,required"`
	CORSHeaders []string `json:"cors_headers" yaml:"cors_headers" toml:"cors_headers" validate:"dive,required"`

	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level" validate:"omitempty,log_level"`
	LogFile  string `json:"log_file" yaml:"log_file" toml:"log_file"`

	// WhisperModel is the default model for the transcribe command.
	WhisperModel string `json:"whisper_model" yaml:"whisper_model" toml:"whisper_model"`
	Language     string `json:"language" yaml:"language" toml:"language"`
}

var validate = validator.New()

func init() {
	_ = validate.RegisterValidation("log_level", func(fl validator.FieldLevel) bool {
		_, err := ParseLevel(fl.Field().String())
		return err == nil
	})
}

// Load reads a configuration file based on its extension and validates it.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field constraints. Errors name the offending fields.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
