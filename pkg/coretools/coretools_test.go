package coretools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z1w2r3/suna-sub001/pkg/tools"
)

func setupCoreTools(t *testing.T, opts Options) *tools.Invoker {
	t.Helper()

	registry := tools.NewRegistry()
	require.NoError(t, Register(registry, opts))
	return tools.NewInvoker(registry)
}

func invoke(inv *tools.Invoker, name string, args interface{}) tools.Result {
	return inv.Invoke(context.Background(), tools.NewXMLCall(name, name, args, nil))
}

func TestRegister(t *testing.T) {
	t.Run("should register the conversational set by default", func(t *testing.T) {
		registry := tools.NewRegistry()
		require.NoError(t, Register(registry, Options{}))

		assert.Equal(t, 4, registry.Count())
		names := registry.Names()
		assert.Contains(t, names, "echo")
		assert.Contains(t, names, "current_time")
		assert.Contains(t, names, "ask")
		assert.Contains(t, names, "complete")
		assert.NotContains(t, names, "read_file")
	})

	t.Run("should add file tools when a workspace root is set", func(t *testing.T) {
		registry := tools.NewRegistry()
		require.NoError(t, Register(registry, Options{WorkspaceRoot: t.TempDir()}))

		assert.Equal(t, 7, registry.Count())
		names := registry.Names()
		assert.Contains(t, names, "read_file")
		assert.Contains(t, names, "write_file")
		assert.Contains(t, names, "list_files")
	})

	t.Run("should require a registry", func(t *testing.T) {
		err := Register(nil, Options{})
		require.ErrorContains(t, err, "registry")
	})

	t.Run("should surface duplicate registration", func(t *testing.T) {
		registry := tools.NewRegistry()
		require.NoError(t, Register(registry, Options{}))

		err := Register(registry, Options{})
		require.ErrorContains(t, err, "echo")
	})
}

func TestEchoTool(t *testing.T) {
	inv := setupCoreTools(t, Options{})

	t.Run("should echo keyword text", func(t *testing.T) {
		result := invoke(inv, "echo", map[string]interface{}{"text": "hello"})
		require.True(t, result.Success, result.Error)
		assert.Equal(t, "hello", result.Output)
	})

	t.Run("should echo a bare value", func(t *testing.T) {
		result := invoke(inv, "echo", "just text")
		require.True(t, result.Success, result.Error)
		assert.Equal(t, "just text", result.Output)
	})
}

func TestCurrentTimeTool(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	inv := setupCoreTools(t, Options{Clock: func() time.Time { return fixed }})

	t.Run("should default to RFC3339", func(t *testing.T) {
		result := invoke(inv, "current_time", nil)
		require.True(t, result.Success, result.Error)
		assert.Equal(t, "2024-05-01T12:30:00Z", result.Output)
	})

	t.Run("should report epoch seconds", func(t *testing.T) {
		result := invoke(inv, "current_time", map[string]interface{}{"format": "unix"})
		require.True(t, result.Success, result.Error)
		assert.EqualValues(t, fixed.Unix(), result.Output)
	})

	t.Run("should apply a custom layout", func(t *testing.T) {
		result := invoke(inv, "current_time", map[string]interface{}{"format": "2006-01"})
		require.True(t, result.Success, result.Error)
		assert.Equal(t, "2024-05", result.Output)
	})
}

func TestAskTool(t *testing.T) {
	inv := setupCoreTools(t, Options{})

	t.Run("should wrap the question", func(t *testing.T) {
		result := invoke(inv, "ask", map[string]interface{}{"question": "Proceed?"})
		require.True(t, result.Success, result.Error)
		output, ok := result.Output.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "Proceed?", output["question"])
	})

	t.Run("should accept a bare question", func(t *testing.T) {
		result := invoke(inv, "ask", "Proceed?")
		require.True(t, result.Success, result.Error)
	})

	t.Run("should reject a missing question via schema validation", func(t *testing.T) {
		result := invoke(inv, "ask", map[string]interface{}{})
		require.False(t, result.Success)
		assert.Contains(t, result.Error, "validation")
	})

	t.Run("should fault on a blank question", func(t *testing.T) {
		result := invoke(inv, "ask", map[string]interface{}{"question": "   "})
		require.False(t, result.Success)
		assert.True(t, result.Faulted)
		assert.Contains(t, result.Error, "question is required")
	})
}

func TestCompleteTool(t *testing.T) {
	inv := setupCoreTools(t, Options{})

	t.Run("should default the summary", func(t *testing.T) {
		result := invoke(inv, "complete", nil)
		require.True(t, result.Success, result.Error)
		output, ok := result.Output.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "Task completed.", output["summary"])
	})

	t.Run("should carry the given summary", func(t *testing.T) {
		result := invoke(inv, "complete", map[string]interface{}{"summary": "Renamed the files."})
		require.True(t, result.Success, result.Error)
		output, ok := result.Output.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "Renamed the files.", output["summary"])
	})
}

func TestFileTools(t *testing.T) {
	t.Run("should write then read a file inside the workspace", func(t *testing.T) {
		root := t.TempDir()
		inv := setupCoreTools(t, Options{WorkspaceRoot: root})

		result := invoke(inv, "write_file", map[string]interface{}{
			"path":    "notes/hello.txt",
			"content": "hello",
		})
		require.True(t, result.Success, result.Error)

		data, err := os.ReadFile(filepath.Join(root, "notes", "hello.txt"))
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))

		result = invoke(inv, "read_file", map[string]interface{}{"path": "notes/hello.txt"})
		require.True(t, result.Success, result.Error)
		output, ok := result.Output.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "hello", output["content"])
		assert.Equal(t, false, output["truncated"])
	})

	t.Run("should append when asked", func(t *testing.T) {
		root := t.TempDir()
		inv := setupCoreTools(t, Options{WorkspaceRoot: root})

		require.True(t, invoke(inv, "write_file", map[string]interface{}{
			"path": "log.txt", "content": "one",
		}).Success)
		require.True(t, invoke(inv, "write_file", map[string]interface{}{
			"path": "log.txt", "content": " two", "append": true,
		}).Success)

		data, err := os.ReadFile(filepath.Join(root, "log.txt"))
		require.NoError(t, err)
		assert.Equal(t, "one two", string(data))
	})

	t.Run("should truncate long reads and say so", func(t *testing.T) {
		root := t.TempDir()
		inv := setupCoreTools(t, Options{WorkspaceRoot: root})

		require.True(t, invoke(inv, "write_file", map[string]interface{}{
			"path": "big.txt", "content": strings.Repeat("x", 100),
		}).Success)

		result := invoke(inv, "read_file", map[string]interface{}{
			"path": "big.txt", "max_bytes": float64(10),
		})
		require.True(t, result.Success, result.Error)
		output := result.Output.(map[string]interface{})
		assert.Equal(t, 10, output["bytes"])
		assert.Equal(t, true, output["truncated"])
	})

	t.Run("should list entries with directory markers", func(t *testing.T) {
		root := t.TempDir()
		inv := setupCoreTools(t, Options{WorkspaceRoot: root})

		require.True(t, invoke(inv, "write_file", map[string]interface{}{
			"path": "notes/a.txt", "content": "a",
		}).Success)

		result := invoke(inv, "list_files", nil)
		require.True(t, result.Success, result.Error)
		output := result.Output.(map[string]interface{})
		assert.Contains(t, output["entries"], "notes/")

		result = invoke(inv, "list_files", map[string]interface{}{"path": "notes"})
		require.True(t, result.Success, result.Error)
		output = result.Output.(map[string]interface{})
		assert.Contains(t, output["entries"], "a.txt")
	})

	t.Run("should refuse paths escaping the workspace", func(t *testing.T) {
		root := t.TempDir()
		inv := setupCoreTools(t, Options{WorkspaceRoot: root})

		for _, path := range []string{"../outside.txt", "a/../../outside.txt", "/etc/passwd"} {
			result := invoke(inv, "read_file", map[string]interface{}{"path": path})
			require.False(t, result.Success, "path %s should be rejected", path)
			assert.Contains(t, result.Error, "outside the workspace")
		}
	})
}

func TestResolveWorkspacePath(t *testing.T) {
	root := t.TempDir()

	t.Run("should resolve relative paths under the root", func(t *testing.T) {
		got, err := resolveWorkspacePath(root, "a/b.txt")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "a", "b.txt"), got)
	})

	t.Run("should keep absolute paths that stay inside", func(t *testing.T) {
		got, err := resolveWorkspacePath(root, filepath.Join(root, "c.txt"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "c.txt"), got)
	})

	t.Run("should reject empty and remote paths", func(t *testing.T) {
		_, err := resolveWorkspacePath(root, "  ")
		require.ErrorContains(t, err, "required")

		_, err = resolveWorkspacePath(root, "https://example.com/x")
		require.ErrorContains(t, err, "local file")
	})
}
