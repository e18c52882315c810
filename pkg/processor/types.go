package processor

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/z1w2r3/suna-sub001/pkg/llm"
	"github.com/z1w2r3/suna-sub001/pkg/thread"
	"github.com/z1w2r3/suna-sub001/pkg/tools"
)

// MessageStore is the slice of the thread store the processor needs.
type MessageStore interface {
	AddMessage(ctx context.Context, params thread.AddMessageParams) (*thread.Message, error)
}

// Input identifies the run a response belongs to.
type Input struct {
	ThreadID string
	RunID    string

	// Request is the model call that produced the response. Needed for
	// prompt-side token estimation when the provider reports no usage.
	Request llm.Request

	// Continuation resumes a turn that a previous pass left unfinished.
	Continuation *Continuation
}

// Continuation carries turn state across successive model calls of one
// logical response, produced when the model stops for length.
type Continuation struct {
	// AccumulatedText is the full text of the prior passes. The scanner
	// resumes after it so earlier calls are not re-detected.
	AccumulatedText string

	// SequenceNumber counts passes within the response group.
	SequenceNumber int

	// ResponseGroupID ties the passes together in message metadata.
	ResponseGroupID string
}

// TurnResult summarizes one orchestrator pass for the caller's control loop.
type TurnResult struct {
	// FinishReason is the effective stop reason: the provider's, or the
	// limit reason when the call cap cut the turn short.
	FinishReason llm.FinishReason

	// Terminated reports that a terminating tool succeeded; the caller
	// stops scheduling further turns.
	Terminated bool

	// LimitReached reports that MaxCallsPerResponse truncated the turn.
	LimitReached bool

	// AccumulatedText is the full assistant text, untruncated.
	AccumulatedText string

	// AssistantMessageID is the persisted assistant message, when saving
	// succeeded.
	AssistantMessageID string

	// Usage holds the billed token counts; UsageExact distinguishes
	// provider numbers from the estimate.
	Usage      llm.Usage
	UsageExact bool

	CallsDetected int
	CallsExecuted int

	// Continuation is non-nil when the model stopped for length and the
	// caller may resume the turn.
	Continuation *Continuation
}

// callState tracks one detected call through execution and reporting.
type callState struct {
	Call  tools.Call
	Index int

	// Result is set once the call executed; nil for skipped or
	// never-executed calls.
	Result *tools.Result

	// Skipped marks calls cancelled by a prior terminating success.
	Skipped bool

	startedEmitted bool

	// done is non-nil for calls dispatched while streaming; closed when
	// the goroutine finished writing Result.
	done chan struct{}
}

// emitter sends messages to the run's output channel, dropping them once the
// consumer is gone. A nil channel swallows everything.
type emitter struct {
	ctx context.Context
	out chan<- thread.Message
}

func (e *emitter) send(msg thread.Message) bool {
	if e.out == nil {
		return false
	}
	select {
	case <-e.ctx.Done():
		return false
	case e.out <- msg:
		return true
	}
}

// marshalPayload encodes transient message content, falling back to an empty
// document rather than dropping the message.
func marshalPayload(v interface{}) json.RawMessage {
	if v == nil {
		return json.RawMessage("{}")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode message payload")
		return json.RawMessage("{}")
	}
	return raw
}
