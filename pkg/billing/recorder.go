package billing

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/z1w2r3/suna-sub001/internal/observability"
	"github.com/z1w2r3/suna-sub001/internal/tracing"
	"github.com/z1w2r3/suna-sub001/pkg/llm"
	"github.com/z1w2r3/suna-sub001/pkg/thread"
)

// MessageStore is the slice of the thread store the recorder needs.
type MessageStore interface {
	AddMessage(ctx context.Context, params thread.AddMessageParams) (*thread.Message, error)
}

// RecorderConfig holds recorder configuration.
type RecorderConfig struct {
	Store    MessageStore
	ThreadID string
	RunID    string
	Model    string
	// Emit forwards the usage record to the run's output channel. Optional;
	// implementations must not block once the consumer is gone.
	Emit func(thread.Message) bool
}

// Recorder persists the usage record for one model response.
type Recorder struct {
	cfg      RecorderConfig
	mu       sync.Mutex
	recorded bool
}

// NewRecorder creates a recorder for one response.
func NewRecorder(cfg RecorderConfig) *Recorder {
	return &Recorder{cfg: cfg}
}

// Recorded reports whether usage was already captured.
func (r *Recorder) Recorded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recorded
}

// Record persists the usage record once. estimated marks synthesized numbers.
// Returns false when a prior call already recorded. Must not fail upward; a
// billing write error may never mask the failure that preceded it.
func (r *Recorder) Record(ctx context.Context, usage llm.Usage, estimated bool) bool {
	r.mu.Lock()
	if r.recorded {
		r.mu.Unlock()
		return false
	}
	r.recorded = true
	r.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Str("thread_id", r.cfg.ThreadID).
				Msg("Usage recording panicked")
		}
	}()

	// The write must land even when the consumer cancelled the run.
	ctx = tracing.DetachContext(ctx)

	content := map[string]interface{}{
		"status_type": "llm_response_end",
		"usage": map[string]interface{}{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.Total(),
		},
		"estimated": estimated,
	}
	if r.cfg.Model != "" {
		content["model"] = r.cfg.Model
	}
	if r.cfg.RunID != "" {
		content["thread_run_id"] = r.cfg.RunID
	}

	msg, err := r.cfg.Store.AddMessage(ctx, thread.AddMessageParams{
		ThreadID:     r.cfg.ThreadID,
		Type:         thread.TypeResponseEnd,
		Content:      content,
		IsLLMMessage: false,
		Metadata:     map[string]interface{}{"thread_run_id": r.cfg.RunID},
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("thread_id", r.cfg.ThreadID).
			Bool("estimated", estimated).
			Msg("Failed to persist usage record")
		observability.RecordPersistFailure()

		// Consumers still get the numbers even when the store is down.
		raw, merr := json.Marshal(content)
		if merr != nil {
			raw = []byte("{}")
		}
		msg = &thread.Message{
			ThreadID: r.cfg.ThreadID,
			Type:     thread.TypeResponseEnd,
			Content:  raw,
		}
	}

	observability.RecordUsage(usage.PromptTokens, usage.CompletionTokens, !estimated)

	log.Debug().
		Str("thread_id", r.cfg.ThreadID).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Bool("estimated", estimated).
		Msg("Usage recorded")

	if r.cfg.Emit != nil {
		r.cfg.Emit(*msg)
	}
	return true
}
