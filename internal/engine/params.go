package engine

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"
)

// Params is the parsed engine argument list.
type Params struct {
	Model      string
	ModelDraft string
	Alias      string

	CtxSize    int
	Parallel   int
	KVUnified  bool
	BatchSize  int
	UBatchSize int
	NGPULayers int
	Threads    int
	Numa       string

	NPredict      int
	Seed          int64
	Temperature   float32
	TopK          int
	TopP          float32
	MinP          float32
	RepeatPenalty float32

	Embeddings    bool
	Pooling       string
	EmbdNormalize int

	ChatTemplate string
	Jinja        bool

	EndpointSlots   bool
	EndpointProps   bool
	EndpointMetrics bool
}

// DefaultParams returns the values used for flags that are not given.
func DefaultParams() Params {
	return Params{
		CtxSize:         4096,
		Parallel:        1,
		BatchSize:       2048,
		UBatchSize:      512,
		NGPULayers:      -1,
		NPredict:        -1,
		Seed:            -1,
		Temperature:     0.8,
		TopK:            40,
		TopP:            0.95,
		MinP:            0.05,
		RepeatPenalty:   1.0,
		EmbdNormalize:   2,
		EndpointSlots:   true,
		EndpointProps:   true,
		EndpointMetrics: false,
	}
}

// multi-letter short options llama-server accepts; pflag only supports
// single-letter shorthands.
var argAliases = map[string]string{
	"-np":  "--parallel",
	"-kvu": "--kv-unified",
	"-md":  "--model-draft",
	"-ngl": "--n-gpu-layers",
	"-ub":  "--ubatch-size",
	"-fa":  "--flash-attn",
}

// ParseArgs parses a llama-server style argument list. A leading program
// name (an argument not starting with '-') is skipped.
func ParseArgs(args []string) (Params, error) {
	p := DefaultParams()
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		args = args[1:]
	}
	norm := make([]string, 0, len(args))
	for _, a := range args {
		name, val, hasVal := strings.Cut(a, "=")
		if long, ok := argAliases[name]; ok {
			if hasVal {
				a = long + "=" + val
			} else {
				a = long
			}
		}
		norm = append(norm, a)
	}

	fs := pflag.NewFlagSet("engine", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&p.Model, "model", "m", p.Model, "model path")
	fs.StringVar(&p.ModelDraft, "model-draft", p.ModelDraft, "draft model path for speculative decoding")
	fs.StringVarP(&p.Alias, "alias", "a", p.Alias, "model alias reported by the API")
	fs.IntVarP(&p.CtxSize, "ctx-size", "c", p.CtxSize, "total context size")
	fs.IntVar(&p.Parallel, "parallel", p.Parallel, "number of slots")
	fs.BoolVar(&p.KVUnified, "kv-unified", p.KVUnified, "single KV buffer shared by all slots")
	fs.IntVarP(&p.BatchSize, "batch-size", "b", p.BatchSize, "logical batch size")
	fs.IntVar(&p.UBatchSize, "ubatch-size", p.UBatchSize, "physical batch size")
	fs.IntVar(&p.NGPULayers, "n-gpu-layers", p.NGPULayers, "layers to offload")
	fs.IntVarP(&p.Threads, "threads", "t", p.Threads, "generation threads")
	fs.StringVar(&p.Numa, "numa", p.Numa, "NUMA policy: distribute, isolate or numactl")
	fs.IntVarP(&p.NPredict, "n-predict", "n", p.NPredict, "default tokens to predict")
	fs.Int64VarP(&p.Seed, "seed", "s", p.Seed, "RNG seed")
	fs.Float32Var(&p.Temperature, "temp", p.Temperature, "default temperature")
	fs.IntVar(&p.TopK, "top-k", p.TopK, "default top-k")
	fs.Float32Var(&p.TopP, "top-p", p.TopP, "default top-p")
	fs.Float32Var(&p.MinP, "min-p", p.MinP, "default min-p")
	fs.Float32Var(&p.RepeatPenalty, "repeat-penalty", p.RepeatPenalty, "default repeat penalty")
	fs.BoolVar(&p.Embeddings, "embeddings", p.Embeddings, "enable embedding endpoints")
	fs.BoolVar(&p.Embeddings, "embedding", p.Embeddings, "alias of --embeddings")
	fs.StringVar(&p.Pooling, "pooling", p.Pooling, "pooling: none, mean, cls, last or rank")
	fs.IntVar(&p.EmbdNormalize, "embd-normalize", p.EmbdNormalize, "default embedding normalization")
	fs.StringVar(&p.ChatTemplate, "chat-template", p.ChatTemplate, "chat template name")
	fs.BoolVar(&p.Jinja, "jinja", p.Jinja, "use the model's jinja template")
	fs.BoolVar(&p.EndpointSlots, "slots", p.EndpointSlots, "enable the slots endpoint")
	noSlots := fs.Bool("no-slots", false, "disable the slots endpoint")
	fs.BoolVar(&p.EndpointProps, "props", p.EndpointProps, "report the props endpoint as enabled")
	fs.BoolVar(&p.EndpointMetrics, "metrics", p.EndpointMetrics, "enable the metrics endpoint")
	// accepted for compatibility, no effect on scheduling
	fs.String("flash-attn", "auto", "flash attention")
	fs.String("host", "", "ignored")
	fs.Int("port", 0, "ignored")

	if err := fs.Parse(norm); err != nil {
		return Params{}, argError{msg: "invalid argument: " + err.Error()}
	}
	if fs.NArg() > 0 {
		return Params{}, argError{msg: fmt.Sprintf("invalid argument: unexpected %q", fs.Arg(0))}
	}
	if *noSlots {
		p.EndpointSlots = false
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks values ParseArgs cannot check per flag.
func (p Params) Validate() error {
	switch {
	case strings.TrimSpace(p.Model) == "":
		return argError{msg: "invalid argument: --model is required"}
	case p.Parallel < 1:
		return argError{msg: fmt.Sprintf("invalid argument: --parallel must be >= 1, got %d", p.Parallel)}
	case p.CtxSize < 0:
		return argError{msg: fmt.Sprintf("invalid argument: --ctx-size must be >= 0, got %d", p.CtxSize)}
	}
	switch p.Pooling {
	case "", PoolingNone, PoolingMean, PoolingCLS, PoolingLast, PoolingRank:
	default:
		return argError{msg: fmt.Sprintf("invalid argument: unknown pooling %q", p.Pooling)}
	}
	switch p.Numa {
	case "", "distribute", "isolate", "numactl":
	default:
		return argError{msg: fmt.Sprintf("invalid argument: unknown numa policy %q", p.Numa)}
	}
	return nil
}

// ApplyThroughputOverride raises a single-slot configuration without a
// unified KV cache or draft model to four slots sharing a unified cache.
// It reports whether p was changed.
func ApplyThroughputOverride(p *Params) bool {
	if p.Parallel != 1 || p.KVUnified || p.ModelDraft != "" {
		return false
	}
	p.Parallel = 4
	p.KVUnified = true
	return true
}

// SlotCtx returns the context available to one slot.
func (p Params) SlotCtx() int {
	if p.Parallel <= 0 {
		return p.CtxSize
	}
	return p.CtxSize / p.Parallel
}
