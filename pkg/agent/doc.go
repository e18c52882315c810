// Package agent drives complete model runs over a thread: it prepares the
// provider request from persisted history, opens the model call, hands it to
// the response processor, and resumes the turn while the model keeps
// stopping for length.
//
// Invariants:
// - History is reloaded from the store before every model call, so each
//   continuation pass sees the segments the previous pass persisted.
// - Turns ended by a terminating tool never continue.
// - The output channel, when given, is closed exactly once after the final
//   pass settled.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{...})
//	out := make(chan thread.Message, 64)
//	go func() {
//		for msg := range out {
//			render(msg)
//		}
//	}()
//	result, _ := runner.Run(ctx, agent.RunParams{
//		ThreadID: threadID,
//		Prompt:   "hello",
//		Model:    "claude-sonnet-4-20250514",
//		Stream:   true,
//	}, out)
//	_ = result
package agent
