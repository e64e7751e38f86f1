package scheduler

import (
	"time"

	"llamacore/internal/engine"
	"llamacore/pkg/types"
)

type taskKind int

const (
	taskCompletion taskKind = iota
	taskInfill
	taskEmbedding
	taskMetrics
	taskCancel
)

func (k taskKind) String() string {
	switch k {
	case taskCompletion:
		return "completion"
	case taskInfill:
		return "infill"
	case taskEmbedding:
		return "embedding"
	case taskMetrics:
		return "metrics"
	case taskCancel:
		return "cancel"
	}
	return "unknown"
}

// format selects the response shape of a task's results.
type format int

const (
	formatNative format = iota
	formatOAICompletion
	formatOAIChat
	formatOAIEmbedding
)

func (f format) oai() bool { return f != formatNative }

// task is one unit of engine work. The worker owns it once posted.
type task struct {
	id     int
	index  int
	kind   taskKind
	format format
	stream bool
	cmplID string
	// model name echoed in responses
	model   string
	created int64

	prompt   engine.Prompt
	sampling engine.Sampling
	settings types.GenerationParams
	slotID   int
	// embedding normalization mode
	normalize int

	// cancel targets
	targets []int
}

// result is one output of a task: a partial piece or the final summary.
type result struct {
	id    int
	index int
	final bool
	err   *Error

	slot int
	// partial: the piece; final: the unsent tail (stream) or the whole
	// content (non-stream)
	text         string
	stopType     string
	stoppingWord string
	truncated    bool
	nPrompt      int
	nPredicted   int
	promptTime   time.Duration
	predictTime  time.Duration

	embedding [][]float32

	slots []types.SlotStatus
	idle  int
}

func (r *result) timings() *types.Timings {
	t := &types.Timings{
		PromptN:     r.nPrompt,
		PromptMS:    float64(r.promptTime) / float64(time.Millisecond),
		PredictedN:  r.nPredicted,
		PredictedMS: float64(r.predictTime) / float64(time.Millisecond),
	}
	if r.predictTime > 0 {
		t.PredictedPerSecond = float64(r.nPredicted) / r.predictTime.Seconds()
	}
	return t
}

func idsOf(ts []*task) []int {
	out := make([]int, len(ts))
	for i, t := range ts {
		out[i] = t.id
	}
	return out
}
