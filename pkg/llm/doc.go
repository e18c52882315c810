// Package llm abstracts model providers behind a streaming interface.
//
// Invariants:
// - A Stream ends with Err() == nil only after the provider reported a finish reason.
// - Usage may arrive in the final chunk or in a trailing usage-only chunk; callers
//   must keep draining after the finish reason to observe it.
// - Tool-call deltas for one call always carry the same index; arguments fragments
//   concatenate in arrival order.
//
// Usage:
//
//	provider, _ := llm.NewProvider("anthropic", apiKey)
//	stream, _ := provider.Stream(ctx, llm.Request{Model: "...", Messages: msgs})
//	defer stream.Close()
//	for stream.Next() {
//		chunk := stream.Current()
//		_ = chunk
//	}
//	_ = stream.Err()
package llm
