// Package processor turns one model response into persisted messages and
// executed tool calls.
//
// The streaming orchestrator consumes provider chunks, detects tool calls in
// both the tagged-content and native dialects, executes them per the
// configured strategy, and reports progress as typed messages on the run's
// output channel.
//
// Invariants:
//   - Exactly one usage record is persisted per response, on every exit path:
//     normal completion, stream error, internal panic, and consumer
//     cancellation. Exact provider numbers win; otherwise an estimate is
//     recorded and flagged.
//   - The assistant message is persisted before any tool result that answers
//     it, so readers never observe a result without its call.
//   - Raw streamed chunks are emission-only; only the assembled assistant
//     message is persisted.
//   - When the call-count limit is reached, scanning stops but the stream is
//     drained until usage arrives; persisted text is truncated at the last
//     accepted call's closing tag.
//
// Usage:
//
//	proc, _ := processor.New(processor.Options{
//		Config:   processor.DefaultConfig(),
//		Registry: registry,
//		Store:    store,
//	})
//	out := make(chan thread.Message, 64)
//	go func() {
//		for msg := range out {
//			_ = msg
//		}
//	}()
//	result, err := proc.ProcessStream(ctx, in, stream, out)
package processor
