package processor

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/z1w2r3/suna-sub001/internal/tracing"
	"github.com/z1w2r3/suna-sub001/pkg/llm"
	"github.com/z1w2r3/suna-sub001/pkg/thread"
)

// ProcessResponse handles a complete, non-streaming model response: one-pass
// call detection over the text and the structured call list, batch execution
// per the configured strategy, and the same message flow ProcessStream
// produces. Exactly one usage record is persisted no matter how this
// returns.
func (p *Processor) ProcessResponse(ctx context.Context, in Input, resp *llm.Response, out chan<- thread.Message) (result *TurnResult, err error) {
	if resp == nil {
		return nil, errors.New("response is required")
	}

	ctx, span := tracing.StartSpan(ctx, "processor.process_response",
		attribute.String("thread_id", in.ThreadID),
		attribute.String("run_id", in.RunID),
	)
	defer span.End()

	t, recorder, berr := p.beginTurn(ctx, in, out, false)
	if berr != nil {
		return nil, berr
	}

	defer func() {
		usage, exact := t.billedUsage()
		recorder.Record(ctx, usage, !exact)
	}()
	defer func() {
		if rec := recover(); rec != nil {
			t.logger.Error().Interface("panic", rec).Msg("Response orchestration panicked")
			t.rep.errorStatus(fmt.Errorf("internal processing error: %v", rec))
			result = nil
			err = fmt.Errorf("response orchestration panicked: %v", rec)
		}
	}()

	t.rep.responseStart(ctx, t.st.sequence, in.Request.Model, t.st.groupID)

	st := t.st
	if resp.Content != "" {
		st.buffer.WriteString(resp.Content)
	}
	st.finishReason = resp.FinishReason
	if resp.Usage != nil {
		u := *resp.Usage
		st.usage = &u
	}
	if p.cfg.NativeEnabled {
		for i, tc := range resp.ToolCalls {
			acc := &nativeAccum{id: tc.ID, name: tc.Name}
			acc.args.WriteString(tc.Arguments)
			st.nativeAccums[i] = acc
			st.nativeOrder = append(st.nativeOrder, i)
		}
	}

	return t.finalize(ctx), nil
}
