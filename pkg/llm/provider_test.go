package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	t.Run("should create anthropic provider", func(t *testing.T) {
		p, err := NewProvider("anthropic", "sk-ant-test")
		require.NoError(t, err)
		assert.Equal(t, "anthropic", p.Name())
	})

	t.Run("should create openai provider", func(t *testing.T) {
		p, err := NewProvider("openai", "sk-test")
		require.NoError(t, err)
		assert.Equal(t, "openai", p.Name())
	})

	t.Run("should reject unknown provider", func(t *testing.T) {
		_, err := NewProvider("palm", "key")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported provider")
	})
}

func TestDecodeArguments(t *testing.T) {
	t.Run("should decode valid JSON object", func(t *testing.T) {
		v := decodeArguments(`{"query":"golang","count":3}`)
		m, ok := v.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "golang", m["query"])
	})

	t.Run("should fall back to empty object for invalid JSON", func(t *testing.T) {
		v := decodeArguments(`{"query":`)
		m, ok := v.(map[string]interface{})
		require.True(t, ok)
		assert.Empty(t, m)
	})
}
