package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(ctx context.Context, args interface{}) (interface{}, error) {
	return nil, nil
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()

	def := Definition{
		Name:        "web_search",
		Description: "Search the web",
		Parameters: []Parameter{
			{
				Name:        "query",
				Type:        "string",
				Description: "Search query",
				Required:    true,
			},
		},
		XMLTag:  "web-search",
		Handler: noopHandler,
	}

	err := reg.Register(def)
	require.NoError(t, err)

	got, ok := reg.Get("web_search")
	require.True(t, ok)
	assert.Equal(t, "web_search", got.Name)
	assert.Equal(t, 1, reg.Count())

	name, ok := reg.ResolveTag("web-search")
	require.True(t, ok)
	assert.Equal(t, "web_search", name)
}

func TestRegistry_Register_InvalidDefinition(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		name string
		def  Definition
	}{
		{
			name: "empty name",
			def: Definition{
				Description: "Test",
				Handler:     noopHandler,
			},
		},
		{
			name: "empty description",
			def: Definition{
				Name:    "test",
				Handler: noopHandler,
			},
		},
		{
			name: "nil handler",
			def: Definition{
				Name:        "test",
				Description: "Test",
			},
		},
		{
			name: "bad parameter type",
			def: Definition{
				Name:        "test",
				Description: "Test",
				Parameters:  []Parameter{{Name: "x", Type: "tuple", Description: "bad"}},
				Handler:     noopHandler,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.def)
			assert.Error(t, err)
		})
	}
}

func TestRegistry_Unregister(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register(Definition{
		Name:        "ask",
		Description: "Ask the user",
		XMLTag:      "ask",
		Handler:     noopHandler,
	}))

	reg.Unregister("ask")

	_, ok := reg.Get("ask")
	assert.False(t, ok)
	_, ok = reg.ResolveTag("ask")
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Count())
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, reg.Register(Definition{
			Name:        name,
			Description: "t",
			Handler:     noopHandler,
		}))
	}

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.Names())
}

func TestRegistry_Definitions(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register(Definition{
		Name:        "create_file",
		Description: "Create a file",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "File path", Required: true},
			{Name: "contents", Type: "string", Description: "File contents"},
		},
		Handler: noopHandler,
	}))

	defs := reg.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "create_file", defs[0].Name)

	props, ok := defs[0].Parameters["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, props, "path")
	assert.Contains(t, props, "contents")

	required, ok := defs[0].Parameters["required"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"path"}, required)
}

func TestNormalizeArguments(t *testing.T) {
	t.Run("should decode JSON object string to kwargs", func(t *testing.T) {
		got := NormalizeArguments(`{"query": "golang", "count": 3}`)
		m, ok := got.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "golang", m["query"])
		assert.Equal(t, float64(3), m["count"])
	})

	t.Run("should pass non-mapping JSON as single value", func(t *testing.T) {
		assert.Equal(t, []interface{}{"a", "b"}, NormalizeArguments(`["a","b"]`))
		assert.Equal(t, float64(42), NormalizeArguments(`42`))
	})

	t.Run("should keep undecodable strings raw", func(t *testing.T) {
		assert.Equal(t, "just some text", NormalizeArguments("just some text"))
	})

	t.Run("should pass mappings through untouched", func(t *testing.T) {
		in := map[string]interface{}{"a": 1}
		assert.Equal(t, in, NormalizeArguments(in))
	})

	t.Run("should pass other values as single value", func(t *testing.T) {
		assert.Equal(t, 7, NormalizeArguments(7))
		assert.Nil(t, NormalizeArguments(nil))
	})
}

func TestNotFoundError(t *testing.T) {
	err := &NotFoundError{Name: "missing", Available: []string{"ask", "complete"}}
	assert.Contains(t, err.Error(), "missing")
	assert.Contains(t, err.Error(), "ask, complete")

	empty := &NotFoundError{Name: "missing"}
	assert.Contains(t, empty.Error(), "no tools registered")
}
