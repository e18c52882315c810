package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/z1w2r3/suna-sub001/internal/observability"
	"github.com/z1w2r3/suna-sub001/internal/tracing"
	"github.com/z1w2r3/suna-sub001/pkg/llm"
	"github.com/z1w2r3/suna-sub001/pkg/processor"
	"github.com/z1w2r3/suna-sub001/pkg/thread"
	"github.com/z1w2r3/suna-sub001/pkg/tools"
)

// Runner executes model runs against a thread.
type Runner struct {
	provider  llm.Provider
	store     thread.Store
	registry  *tools.Registry
	processor *processor.Processor
	logger    zerolog.Logger

	maxAutoContinues int
	maxRetries       int
}

// Config holds runner dependencies.
type Config struct {
	Provider  llm.Provider
	Store     thread.Store
	Registry  *tools.Registry
	Processor *processor.Processor
	Logger    zerolog.Logger

	// MaxAutoContinues caps length continuations per run; 0 means the
	// default of 25.
	MaxAutoContinues int

	// MaxRetries caps provider call attempts per pass; 0 means 3.
	MaxRetries int
}

// NewRunner creates a runner.
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("processor is required")
	}

	maxContinues := cfg.MaxAutoContinues
	if maxContinues <= 0 {
		maxContinues = 25
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &Runner{
		provider:         cfg.Provider,
		store:            cfg.Store,
		registry:         cfg.Registry,
		processor:        cfg.Processor,
		logger:           cfg.Logger,
		maxAutoContinues: maxContinues,
		maxRetries:       maxRetries,
	}, nil
}

// Run executes the turn loop for one model run, sending every produced
// message to out. The channel is closed when the run ends; pass nil to
// discard the live feed. Run returns once the final pass settled.
func (r *Runner) Run(ctx context.Context, params RunParams, out chan<- thread.Message) (result RunResult, err error) {
	if out != nil {
		defer close(out)
	}

	if params.RunID == "" {
		params.RunID = uuid.NewString()
	}
	if verr := r.validateParams(params); verr != nil {
		return RunResult{}, fmt.Errorf("invalid run params: %w", verr)
	}

	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.NewRunContext(ctx, params.RunID, params.ThreadID)
	ctx, span := tracing.StartSpan(ctx, "agent.run",
		attribute.String("thread_id", params.ThreadID),
		attribute.String("run_id", params.RunID),
		attribute.String("model", params.Model),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, r.logger).With().
		Str("thread_id", params.ThreadID).
		Str("run_id", params.RunID).
		Logger()

	observability.RunStarted()
	start := time.Now()
	defer func() {
		observability.RunFinished()
		status := "success"
		switch {
		case errors.Is(err, context.Canceled):
			status = "canceled"
		case err != nil:
			status = "error"
		}
		observability.RecordRun(r.provider.Name(), status, time.Since(start))
	}()

	if _, gerr := r.store.GetThread(ctx, params.ThreadID); gerr != nil {
		span.RecordError(gerr)
		span.SetStatus(codes.Error, gerr.Error())
		return RunResult{}, fmt.Errorf("load thread: %w", gerr)
	}

	if params.Prompt != "" {
		if _, perr := r.store.AddMessage(ctx, thread.AddMessageParams{
			ThreadID:     params.ThreadID,
			Type:         thread.TypeUser,
			Content:      map[string]interface{}{"role": "user", "content": params.Prompt},
			IsLLMMessage: true,
		}); perr != nil {
			return RunResult{}, fmt.Errorf("save user message: %w", perr)
		}
	}

	r.sendStatus(ctx, out, params, map[string]interface{}{
		"status_type":   "thread_run_start",
		"thread_run_id": params.RunID,
	})
	observability.RecordRunAudit(ctx, "run_start", params.ThreadID, "started", map[string]interface{}{
		"run_id": params.RunID,
		"model":  params.Model,
	})

	result = RunResult{RunID: params.RunID, ThreadID: params.ThreadID, UsageExact: true}
	var cont *processor.Continuation

	for {
		result.Passes++

		req, berr := r.buildRequest(ctx, params)
		if berr != nil {
			r.sendStatus(ctx, out, params, map[string]interface{}{
				"status_type": "error",
				"message":     berr.Error(),
			})
			span.RecordError(berr)
			span.SetStatus(codes.Error, berr.Error())
			return result, berr
		}

		turn, terr := r.runPass(ctx, logger, params, req, cont, out)
		if terr != nil {
			span.RecordError(terr)
			span.SetStatus(codes.Error, terr.Error())
			return result, terr
		}

		result.Text = turn.AccumulatedText
		result.FinishReason = turn.FinishReason
		result.Terminated = turn.Terminated
		result.CallsExecuted += turn.CallsExecuted
		result.Usage.PromptTokens += turn.Usage.PromptTokens
		result.Usage.CompletionTokens += turn.Usage.CompletionTokens
		result.UsageExact = result.UsageExact && turn.UsageExact

		if turn.Continuation == nil {
			break
		}
		if result.Passes > r.maxAutoContinues {
			logger.Warn().
				Int("passes", result.Passes).
				Int("max_auto_continues", r.maxAutoContinues).
				Msg("Auto-continue limit reached; abandoning continuation")
			r.finishAbandonedTurn(ctx, params, out)
			break
		}

		cont = turn.Continuation
		logger.Info().
			Int("sequence", cont.SequenceNumber).
			Msg("Model stopped for length; continuing response")
	}

	observability.RecordRunAudit(ctx, "run_end", params.ThreadID, "finished", map[string]interface{}{
		"run_id":        params.RunID,
		"finish_reason": string(result.FinishReason),
		"passes":        result.Passes,
	})
	logger.Info().
		Str("finish_reason", string(result.FinishReason)).
		Bool("terminated", result.Terminated).
		Int("passes", result.Passes).
		Int("calls_executed", result.CallsExecuted).
		Int("total_tokens", result.Usage.Total()).
		Dur("run_duration", time.Since(start)).
		Msg("Run finished")

	return result, nil
}

// runPass makes one model call and processes its response.
func (r *Runner) runPass(ctx context.Context, logger zerolog.Logger, params RunParams, req llm.Request, cont *processor.Continuation, out chan<- thread.Message) (*processor.TurnResult, error) {
	in := processor.Input{
		ThreadID:     params.ThreadID,
		RunID:        params.RunID,
		Request:      req,
		Continuation: cont,
	}

	if !params.Stream {
		resp, err := r.complete(ctx, logger, req)
		if err != nil {
			r.sendStatus(ctx, out, params, map[string]interface{}{
				"status_type": "error",
				"message":     err.Error(),
			})
			return nil, err
		}
		return r.processor.ProcessResponse(ctx, in, resp, out)
	}

	stream, err := r.openStream(ctx, logger, req)
	if err != nil {
		r.sendStatus(ctx, out, params, map[string]interface{}{
			"status_type": "error",
			"message":     err.Error(),
		})
		return nil, err
	}
	return r.processor.ProcessStream(ctx, in, stream, out)
}

// buildRequest assembles the provider request from the thread's current
// model-visible history.
func (r *Runner) buildRequest(ctx context.Context, params RunParams) (llm.Request, error) {
	history, err := r.loadHistory(ctx, params.ThreadID)
	if err != nil {
		return llm.Request{}, fmt.Errorf("load thread history: %w", err)
	}

	req := llm.Request{
		Model:       params.Model,
		Messages:    history,
		System:      r.systemPrompt(params),
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	}
	if r.processor.Config().NativeEnabled {
		req.Tools = r.registry.Definitions()
	}
	return req, nil
}

// historyEntry mirrors the content document of persisted model-visible
// messages. Native calls are stored in the OpenAI function shape.
type historyEntry struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	ToolCalls []struct {
		ID       string `json:"id"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
}

func (r *Runner) loadHistory(ctx context.Context, threadID string) ([]llm.Message, error) {
	records, err := r.store.LLMMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, len(records))
	for _, rec := range records {
		var entry historyEntry
		if derr := rec.DecodeContent(&entry); derr != nil {
			r.logger.Warn().Err(derr).Str("message_id", rec.ID).Msg("Skipping undecodable history message")
			continue
		}
		if entry.Role == "" {
			continue
		}

		msg := llm.Message{
			Role:       llm.Role(entry.Role),
			Content:    entry.Content,
			ToolCallID: entry.ToolCallID,
			Name:       entry.Name,
		}
		for _, tc := range entry.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (r *Runner) systemPrompt(params RunParams) string {
	prompt := params.SystemPrompt
	if prompt == "" {
		prompt = "You are a helpful assistant."
	}
	if r.processor.Config().XMLEnabled && r.registry.Count() > 0 {
		prompt = prompt + "\n\n" + xmlToolInstructions(r.registry)
	}
	return prompt
}

// xmlToolInstructions renders the tag-dialect usage block appended to the
// system prompt when the tag dialect is enabled.
func xmlToolInstructions(reg *tools.Registry) string {
	var b strings.Builder
	b.WriteString("You can invoke tools by emitting a block in this form:\n\n")
	b.WriteString("<function_calls>\n")
	b.WriteString("<invoke name=\"tool_name\">\n")
	b.WriteString("<parameter name=\"param_name\">value</parameter>\n")
	b.WriteString("</invoke>\n")
	b.WriteString("</function_calls>\n\n")
	b.WriteString("Available tools:\n")
	for _, def := range reg.Definitions() {
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
	}
	return b.String()
}

// openStream starts a streaming model call, retrying transient failures
// with exponential backoff.
func (r *Runner) openStream(ctx context.Context, logger zerolog.Logger, req llm.Request) (llm.Stream, error) {
	var stream llm.Stream
	err := r.callWithRetry(ctx, logger, func(ctx context.Context) error {
		var serr error
		stream, serr = r.provider.Stream(ctx, req)
		return serr
	})
	return stream, err
}

// complete makes a blocking model call, retrying transient failures.
func (r *Runner) complete(ctx context.Context, logger zerolog.Logger, req llm.Request) (*llm.Response, error) {
	var resp *llm.Response
	err := r.callWithRetry(ctx, logger, func(ctx context.Context) error {
		var cerr error
		resp, cerr = r.provider.Complete(ctx, req)
		return cerr
	})
	return resp, err
}

func (r *Runner) callWithRetry(ctx context.Context, logger zerolog.Logger, call func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		err := call(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !llm.IsRetryableError(err) {
			return err
		}
		if attempt == r.maxRetries-1 {
			break
		}

		// Exponential backoff: 1s, 2s, 4s
		delay := time.Duration(1<<attempt) * time.Second
		logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying provider call after transient error")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", r.maxRetries, lastErr)
}

func (r *Runner) validateParams(params RunParams) error {
	if params.ThreadID == "" {
		return fmt.Errorf("thread id cannot be empty")
	}
	if params.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if params.Temperature < 0 || params.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if params.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	}
	return nil
}

// finishAbandonedTurn persists a turn-end marker for a turn the runner
// refused to continue, so the thread still closes coherently.
func (r *Runner) finishAbandonedTurn(ctx context.Context, params RunParams, out chan<- thread.Message) {
	msg, err := r.store.AddMessage(ctx, thread.AddMessageParams{
		ThreadID: params.ThreadID,
		Type:     thread.TypeStatus,
		Content: map[string]interface{}{
			"status_type":   "thread_run_end",
			"thread_run_id": params.RunID,
		},
		IsLLMMessage: false,
		Metadata:     map[string]interface{}{"thread_run_id": params.RunID},
	})
	if err != nil {
		r.logger.Error().Err(err).Str("thread_id", params.ThreadID).Msg("Failed to persist turn end marker")
		observability.RecordPersistFailure()
		return
	}
	r.send(ctx, out, *msg)
}

// sendStatus emits a transient status to the output channel. Never
// persisted.
func (r *Runner) sendStatus(ctx context.Context, out chan<- thread.Message, params RunParams, content map[string]interface{}) {
	r.send(ctx, out, thread.Message{
		ThreadID: params.ThreadID,
		Type:     thread.TypeStatus,
		Content:  statusDoc(content),
		Metadata: statusDoc(map[string]interface{}{"thread_run_id": params.RunID}),
	})
}

func (r *Runner) send(ctx context.Context, out chan<- thread.Message, msg thread.Message) {
	if out == nil {
		return
	}
	select {
	case <-ctx.Done():
	case out <- msg:
	}
}

func statusDoc(v map[string]interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
