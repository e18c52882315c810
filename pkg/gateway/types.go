package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/z1w2r3/suna-sub001/pkg/runs"
	"github.com/z1w2r3/suna-sub001/pkg/thread"
)

// startRunRequest is the body of POST /threads/{id}/runs. Absent fields fall
// back to the server's run defaults.
type startRunRequest struct {
	Prompt       string   `json:"prompt,omitempty"`
	Model        string   `json:"model,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	Stream       *bool    `json:"stream,omitempty"`
}

// startRunResponse acknowledges an accepted run.
type startRunResponse struct {
	RunID    string `json:"run_id"`
	ThreadID string `json:"thread_id"`
}

type threadResponse struct {
	ThreadID string `json:"thread_id"`
}

type messagesResponse struct {
	Messages []thread.Message `json:"messages"`
}

type runsResponse struct {
	Runs []runs.Run `json:"runs"`
}

type stopResponse struct {
	Stopped bool `json:"stopped"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
