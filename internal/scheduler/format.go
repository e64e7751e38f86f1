package scheduler

import (
	"encoding/json"

	"llamacore/pkg/types"
)

func finishReason(stopType string) *string {
	r := "stop"
	if stopType == "limit" {
		r = "length"
	}
	return &r
}

func usageOf(rs ...*result) *types.OAIUsage {
	u := &types.OAIUsage{}
	for _, r := range rs {
		u.PromptTokens += r.nPrompt
		u.CompletionTokens += r.nPredicted
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

func nativeResult(t *task, r *result) types.CompletionResponse {
	out := types.CompletionResponse{
		Index:   t.index,
		Content: r.text,
		IDSlot:  r.slot,
		Stop:    r.final,
	}
	if !r.final {
		return out
	}
	settings := t.settings
	out.Model = t.model
	out.TokensPredicted = r.nPredicted
	out.TokensEvaluated = r.nPrompt
	out.GenerationSettings = &settings
	out.StopType = r.stopType
	out.StoppingWord = r.stoppingWord
	out.Truncated = r.truncated
	out.Timings = r.timings()
	return out
}

// chunk renders one streamed result.
func chunk(t *task, r *result, first bool) ([]byte, error) {
	switch t.format {
	case formatOAICompletion:
		c := types.OAICompletion{
			ID:      t.cmplID,
			Object:  "text_completion",
			Created: t.created,
			Model:   t.model,
			Choices: []types.OAICompletionChoice{{Index: t.index, Text: r.text}},
		}
		if r.final {
			c.Choices[0].FinishReason = finishReason(r.stopType)
			c.Usage = usageOf(r)
		}
		return json.Marshal(c)
	case formatOAIChat:
		delta := &types.OAIDelta{}
		if first {
			delta.Role = "assistant"
		}
		if r.text != "" || first {
			text := r.text
			delta.Content = &text
		}
		c := types.OAIChatCompletion{
			ID:      t.cmplID,
			Object:  "chat.completion.chunk",
			Created: t.created,
			Model:   t.model,
			Choices: []types.OAIChatChoice{{Index: t.index, Delta: delta}},
		}
		if r.final {
			c.Choices[0].FinishReason = finishReason(r.stopType)
			c.Usage = usageOf(r)
		}
		return json.Marshal(c)
	default:
		return json.Marshal(nativeResult(t, r))
	}
}

// aggregate renders the one-shot response of a completed set. rs is ordered
// by task index.
func aggregate(ts []*task, rs []*result) ([]byte, error) {
	t0 := ts[0]
	switch t0.format {
	case formatOAICompletion:
		c := types.OAICompletion{
			ID:      t0.cmplID,
			Object:  "text_completion",
			Created: t0.created,
			Model:   t0.model,
			Usage:   usageOf(rs...),
		}
		for i, r := range rs {
			c.Choices = append(c.Choices, types.OAICompletionChoice{
				Index:        ts[i].index,
				Text:         r.text,
				FinishReason: finishReason(r.stopType),
			})
		}
		return json.Marshal(c)
	case formatOAIChat:
		c := types.OAIChatCompletion{
			ID:      t0.cmplID,
			Object:  "chat.completion",
			Created: t0.created,
			Model:   t0.model,
			Usage:   usageOf(rs...),
		}
		for i, r := range rs {
			c.Choices = append(c.Choices, types.OAIChatChoice{
				Index:        ts[i].index,
				Message:      &types.ChatMessage{Role: "assistant", Content: r.text},
				FinishReason: finishReason(r.stopType),
			})
		}
		return json.Marshal(c)
	default:
		if len(rs) == 1 {
			return json.Marshal(nativeResult(t0, rs[0]))
		}
		out := make([]types.CompletionResponse, len(rs))
		for i, r := range rs {
			out[i] = nativeResult(ts[i], r)
		}
		return json.Marshal(out)
	}
}
