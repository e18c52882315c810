package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z1w2r3/suna-sub001/pkg/llm"
	"github.com/z1w2r3/suna-sub001/pkg/processor"
	"github.com/z1w2r3/suna-sub001/pkg/thread"
	"github.com/z1w2r3/suna-sub001/pkg/tools"
)

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()

	registry := tools.NewRegistry()
	err := registry.Register(tools.Definition{
		Name:        "echo",
		Description: "Echoes its input back",
		Parameters: []tools.Parameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		},
		Handler: func(ctx context.Context, args interface{}) (interface{}, error) {
			return args, nil
		},
	})
	require.NoError(t, err)

	err = registry.Register(tools.Definition{
		Name:        "ask",
		Description: "Asks the user a question",
		Parameters: []tools.Parameter{
			{Name: "question", Type: "string", Description: "Question text", Required: true},
		},
		Handler: func(ctx context.Context, args interface{}) (interface{}, error) {
			return "asked", nil
		},
	})
	require.NoError(t, err)

	return registry
}

func setupTestRunner(t *testing.T, provider llm.Provider, overrides func(*Config)) (*Runner, *thread.MemoryStore) {
	t.Helper()

	store := thread.NewMemoryStore()
	registry := testRegistry(t)

	proc, err := processor.New(processor.Options{
		Config:   processor.DefaultConfig(),
		Registry: registry,
		Store:    store,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	cfg := Config{
		Provider:  provider,
		Store:     store,
		Registry:  registry,
		Processor: proc,
		Logger:    zerolog.Nop(),
	}
	if overrides != nil {
		overrides(&cfg)
	}

	runner, err := NewRunner(cfg)
	require.NoError(t, err)

	return runner, store
}

func newThread(t *testing.T, store *thread.MemoryStore) string {
	t.Helper()
	th, err := store.CreateThread(context.Background())
	require.NoError(t, err)
	return th.ID
}

// collectRun executes a run with a buffered output channel and returns the
// result together with every emitted message.
func collectRun(t *testing.T, runner *Runner, params RunParams) (RunResult, []thread.Message, error) {
	t.Helper()

	out := make(chan thread.Message, 128)
	result, err := runner.Run(context.Background(), params, out)

	events := []thread.Message{}
	for msg := range out {
		events = append(events, msg)
	}
	return result, events, err
}

func statusTypeOf(t *testing.T, msg thread.Message) string {
	t.Helper()
	var content map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Content, &content))
	st, _ := content["status_type"].(string)
	return st
}

func statusTypes(t *testing.T, msgs []thread.Message) []string {
	t.Helper()
	types := []string{}
	for _, msg := range msgs {
		if st := statusTypeOf(t, msg); st != "" {
			types = append(types, st)
		}
	}
	return types
}

func TestNewRunner(t *testing.T) {
	t.Run("should create runner with defaults", func(t *testing.T) {
		runner, _ := setupTestRunner(t, llm.NewMockProvider(), nil)

		assert.NotNil(t, runner)
		assert.Equal(t, 25, runner.maxAutoContinues)
		assert.Equal(t, 3, runner.maxRetries)
	})

	t.Run("should fail without provider", func(t *testing.T) {
		_, err := NewRunner(Config{Store: thread.NewMemoryStore()})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "provider")
	})

	t.Run("should fail without store", func(t *testing.T) {
		_, err := NewRunner(Config{Provider: llm.NewMockProvider()})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "store")
	})

	t.Run("should fail without registry", func(t *testing.T) {
		_, err := NewRunner(Config{
			Provider: llm.NewMockProvider(),
			Store:    thread.NewMemoryStore(),
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "registry")
	})
}

func TestRunnerValidateParams(t *testing.T) {
	runner, _ := setupTestRunner(t, llm.NewMockProvider(), nil)

	t.Run("should accept valid params", func(t *testing.T) {
		err := runner.validateParams(RunParams{
			ThreadID:    "th_1",
			Model:       "test-model",
			Temperature: 0.7,
			MaxTokens:   256,
		})
		assert.NoError(t, err)
	})

	t.Run("should reject empty thread id", func(t *testing.T) {
		err := runner.validateParams(RunParams{Model: "test-model"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "thread id")
	})

	t.Run("should reject empty model", func(t *testing.T) {
		err := runner.validateParams(RunParams{ThreadID: "th_1"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "model")
	})

	t.Run("should reject out-of-range temperature", func(t *testing.T) {
		err := runner.validateParams(RunParams{ThreadID: "th_1", Model: "m", Temperature: 1.5})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "temperature")
	})

	t.Run("should reject negative max tokens", func(t *testing.T) {
		err := runner.validateParams(RunParams{ThreadID: "th_1", Model: "m", MaxTokens: -1})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "max tokens")
	})
}

func TestRunnerRun(t *testing.T) {
	t.Run("should persist the prompt and stream a plain response", func(t *testing.T) {
		provider := llm.NewMockProvider(llm.MockResponse{
			Chunks: []llm.Chunk{
				{Content: "Hi "},
				{Content: "there!"},
				{FinishReason: llm.FinishReasonStop, Usage: &llm.Usage{PromptTokens: 5, CompletionTokens: 3}},
			},
		})
		runner, store := setupTestRunner(t, provider, nil)
		threadID := newThread(t, store)

		result, events, err := collectRun(t, runner, RunParams{
			ThreadID: threadID,
			Prompt:   "Hello?",
			Model:    "test-model",
			Stream:   true,
		})
		require.NoError(t, err)

		assert.Equal(t, "Hi there!", result.Text)
		assert.Equal(t, llm.FinishReasonStop, result.FinishReason)
		assert.Equal(t, 1, result.Passes)
		assert.Equal(t, 8, result.Usage.Total())
		assert.True(t, result.UsageExact)
		assert.False(t, result.Terminated)

		require.NotEmpty(t, events)
		assert.Equal(t, "thread_run_start", statusTypeOf(t, events[0]))

		types := statusTypes(t, events)
		assert.Contains(t, types, "llm_response_start")
		assert.Contains(t, types, "finish")
		assert.Contains(t, types, "thread_run_end")

		// The prompt reached both the store and the provider.
		reqs := provider.Requests()
		require.Len(t, reqs, 1)
		require.NotEmpty(t, reqs[0].Messages)
		assert.Equal(t, llm.RoleUser, reqs[0].Messages[0].Role)
		assert.Equal(t, "Hello?", reqs[0].Messages[0].Content)
		assert.Contains(t, reqs[0].System, "helpful assistant")
		assert.Contains(t, reqs[0].System, "<function_calls>")
		assert.Len(t, reqs[0].Tools, 2)
	})

	t.Run("should resume when the model stops for length", func(t *testing.T) {
		provider := llm.NewMockProvider(
			llm.MockResponse{Chunks: []llm.Chunk{
				{Content: "Part one"},
				{FinishReason: llm.FinishReasonLength, Usage: &llm.Usage{PromptTokens: 10, CompletionTokens: 5}},
			}},
			llm.MockResponse{Chunks: []llm.Chunk{
				{Content: " and part two."},
				{FinishReason: llm.FinishReasonStop, Usage: &llm.Usage{PromptTokens: 12, CompletionTokens: 4}},
			}},
		)
		runner, store := setupTestRunner(t, provider, nil)
		threadID := newThread(t, store)

		result, _, err := collectRun(t, runner, RunParams{
			ThreadID: threadID,
			Prompt:   "Tell me",
			Model:    "test-model",
			Stream:   true,
		})
		require.NoError(t, err)

		assert.Equal(t, 2, result.Passes)
		assert.Equal(t, "Part one and part two.", result.Text)
		assert.Equal(t, llm.FinishReasonStop, result.FinishReason)
		assert.Equal(t, 22, result.Usage.PromptTokens)
		assert.Equal(t, 9, result.Usage.CompletionTokens)
		assert.True(t, result.UsageExact)

		// The second request sees the first pass's persisted segment.
		reqs := provider.Requests()
		require.Len(t, reqs, 2)
		require.Len(t, reqs[1].Messages, 2)
		assert.Equal(t, llm.RoleAssistant, reqs[1].Messages[1].Role)
		assert.Equal(t, "Part one", reqs[1].Messages[1].Content)

		// Only the final pass closes the turn.
		stored, err := store.Messages(context.Background(), threadID)
		require.NoError(t, err)
		ends := 0
		for _, msg := range stored {
			if msg.Type == thread.TypeStatus && statusTypeOf(t, msg) == "thread_run_end" {
				ends++
			}
		}
		assert.Equal(t, 1, ends)
	})

	t.Run("should stop at the auto-continue cap", func(t *testing.T) {
		provider := llm.NewMockProvider(
			llm.MockResponse{Chunks: []llm.Chunk{
				{Content: "One"},
				{FinishReason: llm.FinishReasonLength, Usage: &llm.Usage{PromptTokens: 4, CompletionTokens: 1}},
			}},
			llm.MockResponse{Chunks: []llm.Chunk{
				{Content: " two"},
				{FinishReason: llm.FinishReasonLength, Usage: &llm.Usage{PromptTokens: 5, CompletionTokens: 1}},
			}},
		)
		runner, store := setupTestRunner(t, provider, func(cfg *Config) {
			cfg.MaxAutoContinues = 1
		})
		threadID := newThread(t, store)

		result, _, err := collectRun(t, runner, RunParams{
			ThreadID: threadID,
			Prompt:   "Go",
			Model:    "test-model",
			Stream:   true,
		})
		require.NoError(t, err)

		assert.Equal(t, 2, result.Passes)
		assert.Equal(t, llm.FinishReasonLength, result.FinishReason)

		// The abandoned turn still gets its end marker.
		stored, err := store.Messages(context.Background(), threadID)
		require.NoError(t, err)
		ends := 0
		for _, msg := range stored {
			if msg.Type == thread.TypeStatus && statusTypeOf(t, msg) == "thread_run_end" {
				ends++
			}
		}
		assert.Equal(t, 1, ends)
	})

	t.Run("should stop the run when a terminating tool succeeds", func(t *testing.T) {
		body := "<function_calls>\n<invoke name=\"ask\">\n<parameter name=\"question\">Proceed?</parameter>\n</invoke>\n</function_calls>"
		provider := llm.NewMockProvider(llm.MockResponse{
			Chunks: []llm.Chunk{
				{Content: "Checking. "},
				{Content: body},
				{FinishReason: llm.FinishReasonStop, Usage: &llm.Usage{PromptTokens: 9, CompletionTokens: 12}},
			},
		})
		runner, store := setupTestRunner(t, provider, nil)
		threadID := newThread(t, store)

		result, events, err := collectRun(t, runner, RunParams{
			ThreadID: threadID,
			Prompt:   "Do the thing",
			Model:    "test-model",
			Stream:   true,
		})
		require.NoError(t, err)

		assert.True(t, result.Terminated)
		assert.Equal(t, 1, result.CallsExecuted)
		assert.Equal(t, 1, result.Passes)

		types := statusTypes(t, events)
		assert.Contains(t, types, "tool_completed")
		assert.NotContains(t, types, "thread_run_end")
	})

	t.Run("should run the completion path when streaming is off", func(t *testing.T) {
		provider := llm.NewMockProvider(llm.MockResponse{
			Chunks: []llm.Chunk{
				{Content: "Done."},
				{FinishReason: llm.FinishReasonStop, Usage: &llm.Usage{PromptTokens: 3, CompletionTokens: 2}},
			},
		})
		runner, store := setupTestRunner(t, provider, nil)
		threadID := newThread(t, store)

		result, events, err := collectRun(t, runner, RunParams{
			ThreadID: threadID,
			Prompt:   "Finish up",
			Model:    "test-model",
		})
		require.NoError(t, err)

		assert.Equal(t, "Done.", result.Text)
		assert.Equal(t, 1, result.Passes)
		assert.True(t, result.UsageExact)

		types := statusTypes(t, events)
		assert.Contains(t, types, "llm_response_start")
		assert.Contains(t, types, "thread_run_end")
	})

	t.Run("should surface a provider failure as an error status", func(t *testing.T) {
		provider := llm.NewMockProvider() // empty script
		runner, store := setupTestRunner(t, provider, nil)
		threadID := newThread(t, store)

		result, events, err := collectRun(t, runner, RunParams{
			ThreadID: threadID,
			Prompt:   "Hello",
			Model:    "test-model",
			Stream:   true,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "script exhausted")
		assert.Equal(t, 1, result.Passes)

		types := statusTypes(t, events)
		assert.Contains(t, types, "thread_run_start")
		assert.Contains(t, types, "error")
	})

	t.Run("should fail for an unknown thread", func(t *testing.T) {
		runner, _ := setupTestRunner(t, llm.NewMockProvider(), nil)

		_, err := runner.Run(context.Background(), RunParams{
			ThreadID: "ghost",
			Model:    "test-model",
		}, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, thread.ErrThreadNotFound)
	})

	t.Run("should reject invalid params before touching the provider", func(t *testing.T) {
		provider := llm.NewMockProvider()
		runner, _ := setupTestRunner(t, provider, nil)

		_, err := runner.Run(context.Background(), RunParams{Model: "test-model"}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid run params")
		assert.Empty(t, provider.Requests())
	})
}

func TestLoadHistory(t *testing.T) {
	runner, store := setupTestRunner(t, llm.NewMockProvider(), nil)
	ctx := context.Background()
	threadID := newThread(t, store)

	add := func(params thread.AddMessageParams) {
		params.ThreadID = threadID
		_, err := store.AddMessage(ctx, params)
		require.NoError(t, err)
	}

	add(thread.AddMessageParams{
		Type:         thread.TypeUser,
		Content:      map[string]interface{}{"role": "user", "content": "What time is it?"},
		IsLLMMessage: true,
	})
	add(thread.AddMessageParams{
		Type: thread.TypeAssistant,
		Content: map[string]interface{}{
			"role":    "assistant",
			"content": "Let me check.",
			"tool_calls": []map[string]interface{}{
				{
					"id":   "call_1",
					"type": "function",
					"function": map[string]interface{}{
						"name":      "echo",
						"arguments": `{"text":"now"}`,
					},
				},
			},
		},
		IsLLMMessage: true,
	})
	add(thread.AddMessageParams{
		Type: thread.TypeTool,
		Content: map[string]interface{}{
			"role":         "tool",
			"tool_call_id": "call_1",
			"name":         "echo",
			"content":      "now",
		},
		IsLLMMessage: true,
	})
	// Not model-visible; must never reach the provider.
	add(thread.AddMessageParams{
		Type:         thread.TypeStatus,
		Content:      map[string]interface{}{"status_type": "tool_started"},
		IsLLMMessage: false,
	})
	// Undecodable content documents are skipped, not fatal.
	add(thread.AddMessageParams{
		Type:         thread.TypeAssistant,
		Content:      json.RawMessage(`"bare string"`),
		IsLLMMessage: true,
	})

	messages, err := runner.loadHistory(ctx, threadID)
	require.NoError(t, err)
	require.Len(t, messages, 3)

	assert.Equal(t, llm.RoleUser, messages[0].Role)
	assert.Equal(t, "What time is it?", messages[0].Content)

	assert.Equal(t, llm.RoleAssistant, messages[1].Role)
	require.Len(t, messages[1].ToolCalls, 1)
	assert.Equal(t, llm.ToolCall{ID: "call_1", Name: "echo", Arguments: `{"text":"now"}`}, messages[1].ToolCalls[0])

	assert.Equal(t, llm.RoleTool, messages[2].Role)
	assert.Equal(t, "call_1", messages[2].ToolCallID)
	assert.Equal(t, "echo", messages[2].Name)
	assert.Equal(t, "now", messages[2].Content)
}

func TestXMLToolInstructions(t *testing.T) {
	registry := testRegistry(t)

	text := xmlToolInstructions(registry)
	assert.Contains(t, text, "<function_calls>")
	assert.Contains(t, text, `<invoke name="tool_name">`)
	assert.Contains(t, text, "- echo: Echoes its input back")
	assert.Contains(t, text, "- ask: Asks the user a question")
}

func TestCallWithRetry(t *testing.T) {
	t.Run("should not retry permanent errors", func(t *testing.T) {
		runner, _ := setupTestRunner(t, llm.NewMockProvider(), nil)

		attempts := 0
		err := runner.callWithRetry(context.Background(), zerolog.Nop(), func(ctx context.Context) error {
			attempts++
			return fmt.Errorf("invalid API key")
		})
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("should give up after the attempt budget", func(t *testing.T) {
		runner, _ := setupTestRunner(t, llm.NewMockProvider(), func(cfg *Config) {
			cfg.MaxRetries = 1
		})

		attempts := 0
		err := runner.callWithRetry(context.Background(), zerolog.Nop(), func(ctx context.Context) error {
			attempts++
			return fmt.Errorf("429 rate limit")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max retries (1) exceeded")
		assert.Equal(t, 1, attempts)
	})

	t.Run("should stop backing off when the context is canceled", func(t *testing.T) {
		runner, _ := setupTestRunner(t, llm.NewMockProvider(), nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := runner.callWithRetry(ctx, zerolog.Nop(), func(ctx context.Context) error {
			return fmt.Errorf("connection reset")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
