// Package thread persists conversation threads and their typed messages.
//
// Invariants:
// - Messages are append-only; a stored message is never mutated.
// - Message order is insertion order within a thread.
// - The model-visible history is exactly the is_llm_message subset.
// - AddMessage returning an error means the message was not saved; callers
//   log and degrade instead of aborting the run.
//
// Usage:
//
//	store, _ := thread.NewSQLiteStore(thread.SQLiteConfig{Path: "/data/threads.db"})
//	defer store.Close()
//	th, _ := store.CreateThread(context.Background())
//	_, _ = store.AddMessage(context.Background(), thread.AddMessageParams{
//		ThreadID:     th.ID,
//		Type:         thread.TypeUser,
//		Content:      map[string]interface{}{"role": "user", "content": "hello"},
//		IsLLMMessage: true,
//	})
package thread
