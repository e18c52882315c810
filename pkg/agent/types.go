package agent

import (
	"github.com/z1w2r3/suna-sub001/pkg/llm"
)

// RunParams describes one model run over a thread.
type RunParams struct {
	ThreadID string `json:"thread_id"`

	// RunID identifies the run in statuses and metadata; assigned when
	// empty.
	RunID string `json:"run_id,omitempty"`

	// Prompt is an optional user turn persisted before the first model
	// call. Leave empty to answer the history as it stands.
	Prompt string `json:"prompt,omitempty"`

	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`

	// Stream selects the streaming provider path; when false the run uses
	// one-shot completions.
	Stream bool `json:"stream,omitempty"`
}

// RunResult summarizes a finished run.
type RunResult struct {
	RunID    string `json:"run_id"`
	ThreadID string `json:"thread_id"`

	// Text is the accumulated assistant text of the final pass.
	Text string `json:"text"`

	FinishReason llm.FinishReason `json:"finish_reason"`

	// Terminated reports that a terminating tool ended the run.
	Terminated bool `json:"terminated,omitempty"`

	// Passes counts model calls, including length continuations.
	Passes int `json:"passes"`

	CallsExecuted int `json:"calls_executed"`

	// Usage sums the billed tokens of every pass; UsageExact is false
	// when any pass had to estimate.
	Usage      llm.Usage `json:"usage"`
	UsageExact bool      `json:"usage_exact"`
}

// DefaultRunParams returns run parameters with the usual model defaults.
func DefaultRunParams() RunParams {
	return RunParams{
		Model:       "claude-sonnet-4-20250514",
		Temperature: 0.7,
		MaxTokens:   4096,
		Stream:      true,
	}
}
