package xmlcall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractor_Extract(t *testing.T) {
	t.Run("should extract a complete block and remove it from the text", func(t *testing.T) {
		ex := NewExtractor()
		text := `Hello <function_calls><invoke name="ask"></invoke></function_calls> world`

		blocks, remaining := ex.Extract(text)

		require.Len(t, blocks, 1)
		assert.Equal(t, `<function_calls><invoke name="ask"></invoke></function_calls>`, blocks[0].Content)
		assert.Equal(t, 6, blocks[0].Start)
		assert.Equal(t, blocks[0].Start+len(blocks[0].Content), blocks[0].End)
		assert.False(t, blocks[0].Legacy)
		assert.Equal(t, "Hello  world", remaining)
	})

	t.Run("should keep an incomplete block buffered", func(t *testing.T) {
		ex := NewExtractor()
		text := `thinking <function_calls><invoke name="ask">`

		blocks, remaining := ex.Extract(text)

		assert.Empty(t, blocks)
		assert.Equal(t, text, remaining)
	})

	t.Run("should extract multiple blocks in order", func(t *testing.T) {
		ex := NewExtractor()
		text := `a <function_calls>one</function_calls> b <function_calls>two</function_calls> c`

		blocks, remaining := ex.Extract(text)

		require.Len(t, blocks, 2)
		assert.Contains(t, blocks[0].Content, "one")
		assert.Contains(t, blocks[1].Content, "two")
		assert.Less(t, blocks[0].End, blocks[1].Start)
		assert.Equal(t, "a  b  c", remaining)
	})

	t.Run("should match nested markers by depth", func(t *testing.T) {
		ex := NewExtractor()
		text := `<function_calls>outer <function_calls>inner</function_calls> tail</function_calls>`

		blocks, remaining := ex.Extract(text)

		require.Len(t, blocks, 1)
		assert.Equal(t, text, blocks[0].Content)
		assert.Empty(t, remaining)
	})

	t.Run("should treat a nested block without its outer close as incomplete", func(t *testing.T) {
		ex := NewExtractor()
		text := `<function_calls>outer <function_calls>inner</function_calls> tail`

		blocks, remaining := ex.Extract(text)

		assert.Empty(t, blocks)
		assert.Equal(t, text, remaining)
	})

	t.Run("should only use the legacy grammar when no block is found", func(t *testing.T) {
		ex := NewExtractor("ask")
		text := `<function_calls>x</function_calls> and <ask>y</ask>`

		blocks, _ := ex.Extract(text)

		require.Len(t, blocks, 1)
		assert.False(t, blocks[0].Legacy)
	})

	t.Run("should extract a legacy tag block", func(t *testing.T) {
		ex := NewExtractor("ask", "complete")
		text := `Sure. <ask follow_up="true">Which one?</ask> done`

		blocks, remaining := ex.Extract(text)

		require.Len(t, blocks, 1)
		assert.True(t, blocks[0].Legacy)
		assert.Equal(t, "ask", blocks[0].TagName)
		assert.Equal(t, `<ask follow_up="true">Which one?</ask>`, blocks[0].Content)
		assert.Equal(t, "Sure.  done", remaining)
	})

	t.Run("should not match a longer tag sharing a prefix", func(t *testing.T) {
		ex := NewExtractor("ask")
		text := `<ask_more>nope</ask_more>`

		blocks, remaining := ex.Extract(text)

		assert.Empty(t, blocks)
		assert.Equal(t, text, remaining)
	})

	t.Run("should extract a self-closing legacy tag", func(t *testing.T) {
		ex := NewExtractor("complete")
		text := `all set <complete/>`

		blocks, remaining := ex.Extract(text)

		require.Len(t, blocks, 1)
		assert.Equal(t, "<complete/>", blocks[0].Content)
		assert.Equal(t, "all set ", remaining)
	})

	t.Run("should match nested same-name legacy elements by depth", func(t *testing.T) {
		ex := NewExtractor("ask")
		text := `<ask>outer <ask>inner</ask> tail</ask>`

		blocks, _ := ex.Extract(text)

		require.Len(t, blocks, 1)
		assert.Equal(t, text, blocks[0].Content)
	})

	t.Run("should keep an incomplete legacy block buffered", func(t *testing.T) {
		ex := NewExtractor("ask")
		text := `before <ask>still strea`

		blocks, remaining := ex.Extract(text)

		assert.Empty(t, blocks)
		assert.Equal(t, text, remaining)
	})

	t.Run("should pick the leftmost legacy tag when several are present", func(t *testing.T) {
		ex := NewExtractor("ask", "complete")
		text := `<complete>first</complete> then <ask>second</ask>`

		blocks, _ := ex.Extract(text)

		require.Len(t, blocks, 2)
		assert.Equal(t, "complete", blocks[0].TagName)
		assert.Equal(t, "ask", blocks[1].TagName)
	})

	t.Run("should return plain text untouched", func(t *testing.T) {
		ex := NewExtractor("ask")
		text := "no calls here, just prose with < and > characters"

		blocks, remaining := ex.Extract(text)

		assert.Empty(t, blocks)
		assert.Equal(t, text, remaining)
	})
}
