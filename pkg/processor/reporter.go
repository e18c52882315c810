package processor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/z1w2r3/suna-sub001/internal/observability"
	"github.com/z1w2r3/suna-sub001/pkg/llm"
	"github.com/z1w2r3/suna-sub001/pkg/thread"
	"github.com/z1w2r3/suna-sub001/pkg/tools"
)

// Status type tags shared with consumers. Persisted statuses keep the same
// tag in their content so readers need no second vocabulary.
const (
	statusResponseStart = "llm_response_start"
	statusToolStarted   = "tool_started"
	statusToolCompleted = "tool_completed"
	statusToolFailed    = "tool_failed"
	statusToolError     = "tool_error"
	statusFinish        = "finish"
	statusError         = "error"
	statusTurnEnd       = "thread_run_end"
)

// finishReasonToolLimit replaces the provider's stop reason when the call
// cap cut the turn short.
const finishReasonToolLimit llm.FinishReason = "tool_call_limit_reached"

// reporter persists and emits the typed messages of one response. All
// persistence failures degrade to emission plus a metric; a run never aborts
// because the store is down.
type reporter struct {
	p        *Processor
	em       *emitter
	logger   zerolog.Logger
	threadID string
	runID    string

	warnedInlineEdit bool
}

func (p *Processor) newReporter(em *emitter, logger zerolog.Logger, threadID, runID string) *reporter {
	return &reporter{p: p, em: em, logger: logger, threadID: threadID, runID: runID}
}

func (r *reporter) runMetadata() map[string]interface{} {
	return map[string]interface{}{"thread_run_id": r.runID}
}

// persist saves a message and emits the stored form. On store failure the
// message is still emitted transiently so consumers see it.
func (r *reporter) persist(ctx context.Context, params thread.AddMessageParams) *thread.Message {
	msg, err := r.p.store.AddMessage(ctx, params)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("message_type", string(params.Type)).
			Msg("Failed to persist message")
		observability.RecordPersistFailure()

		fallback := thread.Message{
			ThreadID:     params.ThreadID,
			Type:         params.Type,
			Content:      marshalPayload(params.Content),
			IsLLMMessage: params.IsLLMMessage,
			Metadata:     marshalPayload(params.Metadata),
		}
		r.em.send(fallback)
		return nil
	}
	r.em.send(*msg)
	return msg
}

// transientStatus emits a status message that is never persisted.
func (r *reporter) transientStatus(content map[string]interface{}) {
	r.em.send(thread.Message{
		ThreadID: r.threadID,
		Type:     thread.TypeStatus,
		Content:  marshalPayload(content),
		Metadata: marshalPayload(r.runMetadata()),
	})
}

// responseStart anchors the response group in the thread so consumers can
// attach later messages to it.
func (r *reporter) responseStart(ctx context.Context, sequence int, model, groupID string) {
	content := map[string]interface{}{
		"status_type":       statusResponseStart,
		"thread_run_id":     r.runID,
		"sequence":          sequence,
		"response_group_id": groupID,
	}
	if model != "" {
		content["model"] = model
	}
	r.persist(ctx, thread.AddMessageParams{
		ThreadID:     r.threadID,
		Type:         thread.TypeResponseStart,
		Content:      content,
		IsLLMMessage: false,
		Metadata:     r.runMetadata(),
	})
}

// chunk emits one raw content delta. Never persisted.
func (r *reporter) chunk(text string, sequence int) {
	content := map[string]interface{}{
		"role":    "assistant",
		"content": text,
	}
	metadata := map[string]interface{}{
		"stream_status": "chunk",
		"thread_run_id": r.runID,
		"sequence":      sequence,
	}
	r.em.send(thread.Message{
		ThreadID: r.threadID,
		Type:     thread.TypeAssistant,
		Content:  marshalPayload(content),
		Metadata: marshalPayload(metadata),
	})
}

// finish reports the effective stop reason. Never persisted.
func (r *reporter) finish(reason llm.FinishReason) {
	r.transientStatus(map[string]interface{}{
		"status_type":   statusFinish,
		"finish_reason": string(reason),
	})
}

// errorStatus surfaces a run-level failure to consumers. Never persisted.
func (r *reporter) errorStatus(err error) {
	r.transientStatus(map[string]interface{}{
		"status_type": statusError,
		"message":     err.Error(),
	})
}

// turnEnd marks the close of a completed agent turn.
func (r *reporter) turnEnd(ctx context.Context) {
	r.persist(ctx, thread.AddMessageParams{
		ThreadID: r.threadID,
		Type:     thread.TypeStatus,
		Content: map[string]interface{}{
			"status_type":   statusTurnEnd,
			"thread_run_id": r.runID,
		},
		IsLLMMessage: false,
		Metadata:     r.runMetadata(),
	})
}

func (r *reporter) statusContent(statusType string, cs *callState) map[string]interface{} {
	content := map[string]interface{}{
		"status_type":   statusType,
		"function_name": cs.Call.FunctionName,
		"tool_index":    cs.Index,
	}
	if cs.Call.TagName != "" {
		content["xml_tag_name"] = cs.Call.TagName
	}
	if cs.Call.CallID != "" {
		content["tool_call_id"] = cs.Call.CallID
	}
	return content
}

// toolStarted announces a dispatch.
func (r *reporter) toolStarted(ctx context.Context, cs *callState) {
	cs.startedEmitted = true
	content := r.statusContent(statusToolStarted, cs)
	content["message"] = fmt.Sprintf("Starting execution of %s", cs.Call.FunctionName)
	r.persist(ctx, thread.AddMessageParams{
		ThreadID:     r.threadID,
		Type:         thread.TypeStatus,
		Content:      content,
		IsLLMMessage: false,
		Metadata:     r.runMetadata(),
	})
}

// toolTerminal reports the outcome status for an executed call. Faulted
// results map to tool_error, deliberate failures to tool_failed.
func (r *reporter) toolTerminal(ctx context.Context, cs *callState) {
	res := cs.Result
	if res == nil {
		return
	}

	name := cs.Call.FunctionName
	var statusType, message string
	switch {
	case res.Success:
		statusType = statusToolCompleted
		message = fmt.Sprintf("Tool %s completed successfully", name)
	case res.Faulted:
		statusType = statusToolError
		message = fmt.Sprintf("Error executing tool %s: %s", name, res.Error)
	default:
		statusType = statusToolFailed
		message = fmt.Sprintf("Tool %s failed: %s", name, res.Error)
	}

	content := r.statusContent(statusType, cs)
	content["message"] = message
	if r.p.isTerminating(name) {
		content["terminating"] = true
	}

	r.persist(ctx, thread.AddMessageParams{
		ThreadID:     r.threadID,
		Type:         thread.TypeStatus,
		Content:      content,
		IsLLMMessage: false,
		Metadata:     r.runMetadata(),
	})
}

// resultText renders a result for model-visible content.
func resultText(res *tools.Result) string {
	if res.Success {
		return res.OutputString()
	}
	if res.Error != "" {
		return res.Error
	}
	return "tool failed"
}

// toolResult persists the durable result message the model sees on the next
// turn. assistantID links the result to the assistant message that asked.
func (r *reporter) toolResult(ctx context.Context, cs *callState, assistantID string) {
	if cs.Result == nil {
		return
	}
	if cs.Call.Source == tools.SourceNative {
		r.nativeResult(ctx, cs, assistantID)
		return
	}
	r.taggedResult(ctx, cs, assistantID)
}

func (r *reporter) nativeResult(ctx context.Context, cs *callState, assistantID string) {
	content := map[string]interface{}{
		"role":         "tool",
		"tool_call_id": cs.Call.CallID,
		"name":         cs.Call.FunctionName,
		"content":      resultText(cs.Result),
	}
	metadata := r.runMetadata()
	if assistantID != "" {
		metadata["assistant_message_id"] = assistantID
	}

	if r.persist(ctx, thread.AddMessageParams{
		ThreadID:     r.threadID,
		Type:         thread.TypeTool,
		Content:      content,
		IsLLMMessage: true,
		Metadata:     metadata,
	}) == nil {
		r.fallbackResult(ctx, cs, "tool")
	}
}

// placementRole maps the configured result placement to a conversation role.
func (r *reporter) placementRole() string {
	switch r.p.cfg.ResultPlacement {
	case PlacementAssistantMessage:
		return "assistant"
	case PlacementInlineEdit:
		if !r.warnedInlineEdit {
			r.warnedInlineEdit = true
			r.logger.Warn().Msg("inline_edit result placement is not supported; using assistant placement")
		}
		return "assistant"
	default:
		return "user"
	}
}

// taggedResult persists a tagged-dialect result. The model-visible content
// carries a concise serialized envelope; the raw output goes to metadata for
// display-side rendering.
func (r *reporter) taggedResult(ctx context.Context, cs *callState, assistantID string) {
	res := cs.Result

	conciseResult := map[string]interface{}{
		"success": res.Success,
		"output":  resultText(res),
	}
	if res.Error != "" {
		conciseResult["error"] = res.Error
	}
	execution := map[string]interface{}{
		"function_name": cs.Call.FunctionName,
		"arguments":     cs.Call.Arguments,
		"result":        conciseResult,
	}
	if cs.Call.TagName != "" {
		execution["xml_tag_name"] = cs.Call.TagName
	}
	if cs.Call.CallID != "" {
		execution["tool_call_id"] = cs.Call.CallID
	}

	envelope := marshalPayload(map[string]interface{}{"tool_execution": execution})

	richExecution := map[string]interface{}{
		"function_name": cs.Call.FunctionName,
		"arguments":     cs.Call.Arguments,
		"result": map[string]interface{}{
			"success": res.Success,
			"output":  res.Output,
			"error":   res.Error,
		},
	}
	if cs.Call.TagName != "" {
		richExecution["xml_tag_name"] = cs.Call.TagName
	}

	metadata := r.runMetadata()
	metadata["tool_execution"] = richExecution
	if assistantID != "" {
		metadata["assistant_message_id"] = assistantID
	}

	content := map[string]interface{}{
		"role":    r.placementRole(),
		"content": string(envelope),
	}

	if r.persist(ctx, thread.AddMessageParams{
		ThreadID:     r.threadID,
		Type:         thread.TypeTool,
		Content:      content,
		IsLLMMessage: true,
		Metadata:     metadata,
	}) == nil {
		r.fallbackResult(ctx, cs, r.placementRole())
	}
}

// fallbackResult writes a minimal plain-text result after a persist failure
// so the model still learns the outcome on the next turn.
func (r *reporter) fallbackResult(ctx context.Context, cs *callState, role string) {
	text := fmt.Sprintf("Result of %s: %s", cs.Call.FunctionName, resultText(cs.Result))
	_, err := r.p.store.AddMessage(ctx, thread.AddMessageParams{
		ThreadID:     r.threadID,
		Type:         thread.TypeTool,
		Content:      map[string]interface{}{"role": role, "content": text},
		IsLLMMessage: true,
		Metadata:     r.runMetadata(),
	})
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("tool", cs.Call.FunctionName).
			Msg("Fallback tool result also failed to persist")
	}
}

// persistAssistant saves the assembled assistant message and returns the
// stored form. The message is emitted later, after tool statuses, so callers
// hold on to it. On store failure a transient copy is returned with ok false
// so consumers still see the text.
func (r *reporter) persistAssistant(ctx context.Context, text string, nativeCalls []llm.ToolCall, groupID string, sequence int) (thread.Message, bool) {
	content := map[string]interface{}{
		"role":    "assistant",
		"content": text,
	}
	if len(nativeCalls) > 0 {
		calls := make([]map[string]interface{}, 0, len(nativeCalls))
		for _, tc := range nativeCalls {
			calls = append(calls, map[string]interface{}{
				"id":   tc.ID,
				"type": "function",
				"function": map[string]interface{}{
					"name":      tc.Name,
					"arguments": tc.Arguments,
				},
			})
		}
		content["tool_calls"] = calls
	}

	metadata := map[string]interface{}{
		"thread_run_id":     r.runID,
		"response_group_id": groupID,
		"sequence":          sequence,
		"stream_status":     "complete",
	}

	msg, err := r.p.store.AddMessage(ctx, thread.AddMessageParams{
		ThreadID:     r.threadID,
		Type:         thread.TypeAssistant,
		Content:      content,
		IsLLMMessage: true,
		Metadata:     metadata,
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to persist assistant message")
		observability.RecordPersistFailure()
		return thread.Message{
			ThreadID:     r.threadID,
			Type:         thread.TypeAssistant,
			Content:      marshalPayload(content),
			IsLLMMessage: true,
			Metadata:     marshalPayload(metadata),
		}, false
	}
	return *msg, true
}
