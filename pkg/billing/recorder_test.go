package billing

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z1w2r3/suna-sub001/pkg/llm"
	"github.com/z1w2r3/suna-sub001/pkg/thread"
)

func TestRecorder_Record(t *testing.T) {
	t.Run("should persist the usage record once", func(t *testing.T) {
		store := thread.NewMemoryStore()
		th, err := store.CreateThread(context.Background())
		require.NoError(t, err)

		rec := NewRecorder(RecorderConfig{
			Store:    store,
			ThreadID: th.ID,
			RunID:    "run_1",
			Model:    "mock-model",
		})

		usage := llm.Usage{PromptTokens: 12, CompletionTokens: 8}
		assert.True(t, rec.Record(context.Background(), usage, false))
		assert.False(t, rec.Record(context.Background(), usage, false))
		assert.True(t, rec.Recorded())

		messages, err := store.Messages(context.Background(), th.ID)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, thread.TypeResponseEnd, messages[0].Type)
		assert.False(t, messages[0].IsLLMMessage)

		var content map[string]interface{}
		require.NoError(t, json.Unmarshal(messages[0].Content, &content))
		assert.Equal(t, "llm_response_end", content["status_type"])
		assert.Equal(t, false, content["estimated"])
		assert.Equal(t, "mock-model", content["model"])

		u := content["usage"].(map[string]interface{})
		assert.Equal(t, float64(12), u["prompt_tokens"])
		assert.Equal(t, float64(8), u["completion_tokens"])
		assert.Equal(t, float64(20), u["total_tokens"])
	})

	t.Run("should record even after consumer cancellation", func(t *testing.T) {
		store := thread.NewMemoryStore()
		th, err := store.CreateThread(context.Background())
		require.NoError(t, err)

		rec := NewRecorder(RecorderConfig{Store: store, ThreadID: th.ID})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.True(t, rec.Record(ctx, llm.Usage{PromptTokens: 3, CompletionTokens: 1}, true))

		messages, err := store.Messages(context.Background(), th.ID)
		require.NoError(t, err)
		require.Len(t, messages, 1)

		var content map[string]interface{}
		require.NoError(t, json.Unmarshal(messages[0].Content, &content))
		assert.Equal(t, true, content["estimated"])
	})

	t.Run("should emit the record to the output hook", func(t *testing.T) {
		store := thread.NewMemoryStore()
		th, err := store.CreateThread(context.Background())
		require.NoError(t, err)

		var emitted []thread.Message
		rec := NewRecorder(RecorderConfig{
			Store:    store,
			ThreadID: th.ID,
			Emit: func(m thread.Message) bool {
				emitted = append(emitted, m)
				return true
			},
		})

		rec.Record(context.Background(), llm.Usage{PromptTokens: 1}, false)
		rec.Record(context.Background(), llm.Usage{PromptTokens: 1}, false)

		require.Len(t, emitted, 1)
		assert.Equal(t, thread.TypeResponseEnd, emitted[0].Type)
		assert.NotEmpty(t, emitted[0].ID)
	})

	t.Run("should emit a transient record when the store fails", func(t *testing.T) {
		store := thread.NewMemoryStore()

		var emitted []thread.Message
		rec := NewRecorder(RecorderConfig{
			Store:    store,
			ThreadID: "never-created",
			Emit: func(m thread.Message) bool {
				emitted = append(emitted, m)
				return true
			},
		})

		assert.True(t, rec.Record(context.Background(), llm.Usage{PromptTokens: 2}, true))

		require.Len(t, emitted, 1)
		assert.Empty(t, emitted[0].ID)

		var content map[string]interface{}
		require.NoError(t, json.Unmarshal(emitted[0].Content, &content))
		assert.Equal(t, "llm_response_end", content["status_type"])
	})
}

func TestEstimateTokens(t *testing.T) {
	t.Run("should estimate tokens from characters", func(t *testing.T) {
		assert.Equal(t, 0, EstimateTokens(""))
		assert.Equal(t, 1, EstimateTokens("ab"))
		assert.Equal(t, 1, EstimateTokens("abcd"))
		assert.Equal(t, 2, EstimateTokens("abcde"))
	})
}

func TestEstimateUsage(t *testing.T) {
	t.Run("should cover system, messages, and tool calls", func(t *testing.T) {
		req := llm.Request{
			System: "be terse",
			Messages: []llm.Message{
				{Role: llm.RoleUser, Content: "hello there"},
				{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
					{Name: "ask", Arguments: `{"q":"?"}`},
				}},
			},
		}

		usage := EstimateUsage(req, "response text")

		assert.Greater(t, usage.PromptTokens, 0)
		assert.Equal(t, (len("response text")+3)/4, usage.CompletionTokens)
	})

	t.Run("should estimate zero for empty input", func(t *testing.T) {
		usage := EstimateUsage(llm.Request{}, "")
		assert.Equal(t, 0, usage.PromptTokens)
		assert.Equal(t, 0, usage.CompletionTokens)
	})
}
