package engine

import (
	"strings"

	"llamacore/pkg/types"
)

// ChatML renders msgs with the ChatML template and opens an assistant turn.
func ChatML(msgs []types.ChatMessage) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString("<|im_start|>")
		sb.WriteString(m.Role)
		sb.WriteString("\n")
		sb.WriteString(m.Content)
		sb.WriteString("<|im_end|>\n")
	}
	sb.WriteString("<|im_start|>assistant\n")
	return sb.String()
}
