package billing

import (
	"github.com/z1w2r3/suna-sub001/pkg/llm"
)

// EstimateTokens provides a rough token count for a text.
// Rough estimation: 1 token ≈ 4 characters.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// EstimateUsage synthesizes usage numbers for a response the provider never
// accounted, from the prompt that produced it and the accumulated text.
func EstimateUsage(req llm.Request, completion string) llm.Usage {
	promptChars := len(req.System)
	for _, msg := range req.Messages {
		promptChars += len(msg.Content)
		for _, tc := range msg.ToolCalls {
			promptChars += len(tc.Name) + len(tc.Arguments)
		}
	}

	return llm.Usage{
		PromptTokens:     (promptChars + 3) / 4,
		CompletionTokens: EstimateTokens(completion),
	}
}
