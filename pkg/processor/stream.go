package processor

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

	"github.com/z1w2r3/suna-sub001/internal/observability"
	"github.com/z1w2r3/suna-sub001/internal/tracing"
	"github.com/z1w2r3/suna-sub001/pkg/billing"
	"github.com/z1w2r3/suna-sub001/pkg/llm"
	"github.com/z1w2r3/suna-sub001/pkg/thread"
	"github.com/z1w2r3/suna-sub001/pkg/tools"
	"github.com/z1w2r3/suna-sub001/pkg/xmlcall"
)

// streamState is the mutable turn state of one response.
type streamState struct {
	buffer strings.Builder

	// baseLen is the length of text carried in from a prior continuation
	// pass; only text past it belongs to this pass.
	baseLen int

	// scanOffset advances past extracted blocks so earlier text is never
	// rescanned. Text between the offset and the buffer end may still hold
	// an incomplete block.
	scanOffset int

	// truncateAt is the absolute end of the last accepted tagged block;
	// persisted text is cut there when the call cap was hit. -1 when no
	// tagged call was accepted.
	truncateAt int

	limitReached bool
	finishReason llm.FinishReason
	usage        *llm.Usage

	firstChunkAt time.Time
	lastChunkAt  time.Time
	chunkCount   int

	sequence int
	groupID  string

	calls   []*callState // accepted calls in detection order
	pending []*callState // dispatched while streaming, awaiting results

	nativeAccums map[int]*nativeAccum
	nativeOrder  []int
}

// nativeAccum assembles one native call from its streamed fragments.
type nativeAccum struct {
	id    string
	name  string
	args  strings.Builder
	state *callState // set once the call is accepted
}

func newStreamState(in Input) *streamState {
	st := &streamState{
		truncateAt:   -1,
		nativeAccums: make(map[int]*nativeAccum),
	}
	if c := in.Continuation; c != nil {
		st.buffer.WriteString(c.AccumulatedText)
		st.baseLen = st.buffer.Len()
		st.scanOffset = st.baseLen
		st.sequence = c.SequenceNumber
		st.groupID = c.ResponseGroupID
	}
	if st.groupID == "" {
		st.groupID = uuid.NewString()
	}
	return st
}

func (st *streamState) text() string {
	return st.buffer.String()
}

func (st *streamState) appendNativeDeltas(deltas []llm.ToolCallDelta) {
	for _, d := range deltas {
		acc, ok := st.nativeAccums[d.Index]
		if !ok {
			acc = &nativeAccum{}
			st.nativeAccums[d.Index] = acc
			st.nativeOrder = append(st.nativeOrder, d.Index)
		}
		if d.ID != "" {
			acc.id = d.ID
		}
		if d.Name != "" {
			acc.name = d.Name
		}
		if d.Arguments != "" {
			acc.args.WriteString(d.Arguments)
		}
	}
}

// streamTurn binds the state of one response to the processor's helpers.
// live distinguishes streaming turns, which may dispatch eagerly, from
// non-streaming ones.
type streamTurn struct {
	p         *Processor
	in        Input
	st        *streamState
	rep       *reporter
	em        *emitter
	extractor *xmlcall.Extractor
	parser    *xmlcall.Parser
	logger    zerolog.Logger
	live      bool
}

func (p *Processor) beginTurn(ctx context.Context, in Input, out chan<- thread.Message, live bool) (*streamTurn, *billing.Recorder, error) {
	if in.ThreadID == "" {
		return nil, nil, errors.New("thread id is required")
	}

	logger := tracing.LoggerFromContext(ctx, p.logger).With().
		Str("thread_id", in.ThreadID).
		Str("run_id", in.RunID).
		Logger()

	em := &emitter{ctx: ctx, out: out}
	t := &streamTurn{
		p:         p,
		in:        in,
		st:        newStreamState(in),
		rep:       p.newReporter(em, logger, in.ThreadID, in.RunID),
		em:        em,
		extractor: xmlcall.NewExtractor(p.registry.XMLTags()...),
		parser:    xmlcall.NewParser(p.registry),
		logger:    logger,
		live:      live,
	}

	recorder := billing.NewRecorder(billing.RecorderConfig{
		Store:    p.store,
		ThreadID: in.ThreadID,
		RunID:    in.RunID,
		Model:    in.Request.Model,
		Emit:     em.send,
	})
	return t, recorder, nil
}

// billedUsage returns what this turn owes: provider numbers when the stream
// reported them, otherwise an estimate over the prompt and accumulated text.
func (t *streamTurn) billedUsage() (llm.Usage, bool) {
	if t.st.usage != nil {
		return *t.st.usage, true
	}
	return billing.EstimateUsage(t.in.Request, t.st.text()), false
}

// ProcessStream consumes one model stream, detecting and executing tool
// calls and emitting typed messages to out. It returns when the stream is
// exhausted, fails, or ctx is canceled. The caller owns out; it is never
// closed here. Exactly one usage record is persisted no matter how this
// returns.
func (p *Processor) ProcessStream(ctx context.Context, in Input, stream llm.Stream, out chan<- thread.Message) (result *TurnResult, err error) {
	if stream == nil {
		return nil, errors.New("stream is required")
	}

	ctx, span := tracing.StartSpan(ctx, "processor.process_stream",
		attribute.String("thread_id", in.ThreadID),
		attribute.String("run_id", in.RunID),
	)
	defer span.End()

	t, recorder, berr := p.beginTurn(ctx, in, out, true)
	if berr != nil {
		return nil, berr
	}

	// Usage must be recorded on every exit path, including the panics and
	// cancellations handled below. Registered first so it runs last.
	defer func() {
		usage, exact := t.billedUsage()
		recorder.Record(ctx, usage, !exact)
	}()
	defer stream.Close()
	defer func() {
		if rec := recover(); rec != nil {
			t.logger.Error().Interface("panic", rec).Msg("Stream orchestration panicked")
			t.rep.errorStatus(fmt.Errorf("internal processing error: %v", rec))
			result = nil
			err = fmt.Errorf("stream orchestration panicked: %v", rec)
		}
	}()

	t.rep.responseStart(ctx, t.st.sequence, in.Request.Model, t.st.groupID)

	st := t.st
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		default:
		}
		if !stream.Next() {
			break
		}
		chunk := stream.Current()

		st.chunkCount++
		observability.RecordStreamChunk()
		now := time.Now()
		if st.firstChunkAt.IsZero() {
			st.firstChunkAt = now
		}
		st.lastChunkAt = now

		if chunk.Usage != nil && st.usage == nil {
			u := *chunk.Usage
			st.usage = &u
		}
		if chunk.FinishReason != "" {
			st.finishReason = chunk.FinishReason
		}

		if st.limitReached {
			// Draining: content is discarded, only usage matters now.
			if st.usage != nil {
				break
			}
			continue
		}

		if chunk.Content != "" {
			st.buffer.WriteString(chunk.Content)
			t.rep.chunk(chunk.Content, st.sequence)
		}
		if p.cfg.NativeEnabled && len(chunk.ToolCalls) > 0 {
			st.appendNativeDeltas(chunk.ToolCalls)
			if p.cfg.AutoExecute && p.cfg.ExecuteWhileStreaming {
				t.recognizeNative(ctx)
			}
		}
		if p.cfg.XMLEnabled && chunk.Content != "" {
			t.scanForCalls(ctx)
		}
	}

	if cerr := ctx.Err(); cerr != nil {
		t.logger.Warn().Msg("Run canceled while streaming; abandoning response")
		return nil, cerr
	}
	if serr := stream.Err(); serr != nil {
		t.logger.Error().Err(serr).Int("chunks", st.chunkCount).Msg("Model stream failed")
		t.rep.errorStatus(serr)
		return nil, fmt.Errorf("model stream failed: %w", serr)
	}

	return t.finalize(ctx), nil
}

// acceptCall registers a detected call, returning false once the per-response
// cap is hit. Live turns in eager mode dispatch the call immediately.
func (t *streamTurn) acceptCall(ctx context.Context, call tools.Call) bool {
	st := t.st
	if t.p.cfg.MaxCallsPerResponse > 0 && len(st.calls) >= t.p.cfg.MaxCallsPerResponse {
		if !st.limitReached {
			st.limitReached = true
			t.logger.Info().
				Int("max_calls", t.p.cfg.MaxCallsPerResponse).
				Msg("Tool call limit reached; ignoring further calls")
		}
		return false
	}

	cs := &callState{Call: call, Index: len(st.calls)}
	st.calls = append(st.calls, cs)
	observability.RecordCallDetected(string(call.Source))

	t.logger.Debug().
		Str("tool", call.FunctionName).
		Str("source", string(call.Source)).
		Int("tool_index", cs.Index).
		Msg("Tool call detected")

	if t.live && t.p.cfg.AutoExecute && t.p.cfg.ExecuteWhileStreaming {
		t.dispatch(ctx, cs)
	}
	return true
}

// dispatch starts a call in its own goroutine and announces it. The result
// lands in cs.Result before done is closed.
func (t *streamTurn) dispatch(ctx context.Context, cs *callState) {
	t.rep.toolStarted(ctx, cs)
	cs.done = make(chan struct{})
	t.st.pending = append(t.st.pending, cs)
	go func() {
		defer close(cs.done)
		res := t.p.safeInvoke(ctx, cs.Call)
		cs.Result = &res
	}()
}

// scanForCalls extracts complete tagged blocks from the unscanned tail of
// the buffer. The offset only advances past extracted blocks; a trailing
// incomplete block is left for the next chunk.
func (t *streamTurn) scanForCalls(ctx context.Context) {
	st := t.st
	text := st.text()
	if st.scanOffset >= len(text) {
		return
	}

	blocks, _ := t.extractor.Extract(text[st.scanOffset:])
	if len(blocks) == 0 {
		return
	}

	advanced := st.scanOffset
	for _, block := range blocks {
		block.Start += st.scanOffset
		block.End += st.scanOffset

		calls, err := t.parser.ParseBlock(block)
		if err != nil {
			t.logger.Debug().Err(err).Msg("Skipping unparseable call block")
			advanced = block.End
			continue
		}

		accepted := false
		for _, call := range calls {
			if !t.acceptCall(ctx, call) {
				break
			}
			accepted = true
		}
		if accepted {
			st.truncateAt = block.End
		}
		advanced = block.End
		if st.limitReached {
			break
		}
	}
	if advanced > st.scanOffset {
		st.scanOffset = advanced
	}
}

// recognizeNative accepts native calls whose argument fragments form valid
// JSON, without waiting for the stream to end. Calls whose arguments never
// validate mid-stream are collected at finalization.
func (t *streamTurn) recognizeNative(ctx context.Context) {
	st := t.st
	for _, idx := range st.nativeOrder {
		acc := st.nativeAccums[idx]
		if acc.state != nil || acc.name == "" {
			continue
		}
		args := acc.args.String()
		if args == "" || !json.Valid([]byte(args)) {
			continue
		}
		if !t.acceptCall(ctx, tools.NewNativeCall(acc.name, acc.id, args)) {
			return
		}
		acc.state = st.calls[len(st.calls)-1]
	}
}

// collectNativeCalls accepts the native calls still unconverted when the
// response ended, in provider index order.
func (t *streamTurn) collectNativeCalls(ctx context.Context) {
	if !t.p.cfg.NativeEnabled {
		return
	}
	st := t.st
	for _, idx := range st.nativeOrder {
		acc := st.nativeAccums[idx]
		if acc.state != nil || acc.name == "" {
			continue
		}
		if !t.acceptCall(ctx, tools.NewNativeCall(acc.name, acc.id, acc.args.String())) {
			return
		}
		acc.state = st.calls[len(st.calls)-1]
	}
}

// nativeCallList renders the accepted native calls for the persisted
// assistant message.
func (t *streamTurn) nativeCallList() []llm.ToolCall {
	var out []llm.ToolCall
	for _, cs := range t.st.calls {
		if cs.Call.Source != tools.SourceNative {
			continue
		}
		out = append(out, llm.ToolCall{
			ID:        cs.Call.CallID,
			Name:      cs.Call.FunctionName,
			Arguments: nativeArgString(cs.Call.Arguments),
		})
	}
	return out
}

func nativeArgString(args interface{}) string {
	if s, ok := args.(string); ok {
		return s
	}
	return string(marshalPayload(args))
}

// finalize runs once the response is fully received: it settles execution,
// persists the assistant message before any result that answers it, reports
// per-call outcomes, and closes the turn.
func (t *streamTurn) finalize(ctx context.Context) *TurnResult {
	st := t.st
	p := t.p

	t.collectNativeCalls(ctx)
	if p.cfg.XMLEnabled && !st.limitReached {
		t.scanForCalls(ctx)
	}

	for _, cs := range st.pending {
		<-cs.done
	}

	fullText := st.text()
	persistText := fullText[st.baseLen:]
	if st.limitReached && st.truncateAt >= st.baseLen && st.truncateAt <= len(fullText) {
		persistText = fullText[st.baseLen:st.truncateAt]
	}

	assistantMsg, persisted := t.rep.persistAssistant(ctx, persistText, t.nativeCallList(), st.groupID, st.sequence)
	assistantID := ""
	if persisted {
		assistantID = assistantMsg.ID
	}

	if p.cfg.AutoExecute {
		if len(st.pending) == 0 {
			fresh := make([]*callState, 0, len(st.calls))
			for _, cs := range st.calls {
				if cs.Result == nil && !cs.Skipped {
					fresh = append(fresh, cs)
				}
			}
			hooks := strategyHooks{
				started: func(cs *callState) { t.rep.toolStarted(ctx, cs) },
				finished: func(cs *callState) {
					t.rep.toolTerminal(ctx, cs)
					t.rep.toolResult(ctx, cs, assistantID)
				},
			}
			p.runStrategy(ctx, fresh, hooks)
		} else {
			// Eager mode already announced and executed everything.
			for _, cs := range st.calls {
				if cs.Skipped || cs.Result == nil {
					continue
				}
				t.rep.toolTerminal(ctx, cs)
				t.rep.toolResult(ctx, cs, assistantID)
			}
		}
	}

	executed := 0
	terminated := false
	for _, cs := range st.calls {
		if cs.Result == nil {
			continue
		}
		executed++
		if cs.Result.Success && p.isTerminating(cs.Call.FunctionName) {
			terminated = true
		}
	}

	t.em.send(assistantMsg)

	reason := st.finishReason
	if reason == "" {
		reason = llm.FinishReasonStop
	}
	if st.limitReached {
		reason = finishReasonToolLimit
	}
	t.rep.finish(reason)

	var cont *Continuation
	if st.finishReason == llm.FinishReasonLength && !terminated && !st.limitReached {
		cont = &Continuation{
			AccumulatedText: fullText,
			SequenceNumber:  st.sequence + 1,
			ResponseGroupID: st.groupID,
		}
	}

	if !terminated && cont == nil {
		t.rep.turnEnd(ctx)
	}

	usage, exact := t.billedUsage()

	evt := t.logger.Info().
		Str("finish_reason", string(reason)).
		Int("chunks", st.chunkCount).
		Int("calls_detected", len(st.calls)).
		Int("calls_executed", executed).
		Bool("terminated", terminated).
		Bool("usage_exact", exact)
	if !st.firstChunkAt.IsZero() {
		evt = evt.Dur("stream_duration", st.lastChunkAt.Sub(st.firstChunkAt))
	}
	evt.Msg("Response processed")

	return &TurnResult{
		FinishReason:       reason,
		Terminated:         terminated,
		LimitReached:       st.limitReached,
		AccumulatedText:    fullText,
		AssistantMessageID: assistantID,
		Usage:              usage,
		UsageExact:         exact,
		CallsDetected:      len(st.calls),
		CallsExecuted:      executed,
		Continuation:       cont,
	}
}
