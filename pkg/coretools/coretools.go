// Package coretools registers the engine's built-in tools: the
// conversational controls (ask, complete) that terminating-tool
// configurations point at, echo and clock helpers used by the demo stack,
// and workspace-confined file access.
package coretools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/z1w2r3/suna-sub001/pkg/tools"
)

const defaultReadLimit = int64(200000)

// Options configures core tool registration.
type Options struct {
	// WorkspaceRoot confines the file tools. Empty leaves them unregistered.
	WorkspaceRoot string
	// Clock overrides the time source for current_time. Nil means time.Now.
	Clock func() time.Time
}

// Register adds the built-in tools to the registry.
func Register(registry *tools.Registry, opts Options) error {
	if registry == nil {
		return errors.New("registry is required")
	}

	defs := []tools.Definition{
		echoTool(),
		timeTool(opts),
		askTool(),
		completeTool(),
	}
	if opts.WorkspaceRoot != "" {
		defs = append(defs,
			readFileTool(opts),
			writeFileTool(opts),
			listFilesTool(opts),
		)
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}
	return nil
}

func echoTool() tools.Definition {
	return tools.Definition{
		Name:        "echo",
		Description: "Echo the given text back, unchanged.",
		Parameters: []tools.Parameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		},
		Handler: func(ctx context.Context, args interface{}) (interface{}, error) {
			switch v := args.(type) {
			case string:
				return v, nil
			case map[string]interface{}:
				text, _ := v["text"].(string)
				return text, nil
			default:
				return fmt.Sprintf("%v", args), nil
			}
		},
	}
}

func timeTool(opts Options) tools.Definition {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return tools.Definition{
		Name:        "current_time",
		Description: "Report the current time in UTC.",
		Parameters: []tools.Parameter{
			{Name: "format", Type: "string", Description: "Go time layout, or \"unix\" for epoch seconds (default RFC3339)", Required: false},
		},
		Handler: func(ctx context.Context, args interface{}) (interface{}, error) {
			now := clock().UTC()

			format := ""
			if kw, ok := args.(map[string]interface{}); ok {
				format, _ = kw["format"].(string)
			}
			switch format {
			case "", "rfc3339":
				return now.Format(time.RFC3339), nil
			case "unix":
				return now.Unix(), nil
			default:
				return now.Format(format), nil
			}
		},
	}
}

func askTool() tools.Definition {
	return tools.Definition{
		Name:        "ask",
		Description: "Ask the user a question and wait for their reply. Ends the current turn.",
		Parameters: []tools.Parameter{
			{Name: "question", Type: "string", Description: "Question to put to the user", Required: true},
		},
		Handler: func(ctx context.Context, args interface{}) (interface{}, error) {
			var question string
			switch v := args.(type) {
			case string:
				question = v
			case map[string]interface{}:
				question, _ = v["question"].(string)
			}
			if strings.TrimSpace(question) == "" {
				return nil, fmt.Errorf("question is required")
			}
			return map[string]interface{}{"question": question}, nil
		},
	}
}

func completeTool() tools.Definition {
	return tools.Definition{
		Name:        "complete",
		Description: "Signal that the task is finished. Ends the current turn.",
		Parameters: []tools.Parameter{
			{Name: "summary", Type: "string", Description: "Short summary of what was done", Required: false},
		},
		Handler: func(ctx context.Context, args interface{}) (interface{}, error) {
			summary := ""
			switch v := args.(type) {
			case string:
				summary = v
			case map[string]interface{}:
				summary, _ = v["summary"].(string)
			}
			if strings.TrimSpace(summary) == "" {
				summary = "Task completed."
			}
			return map[string]interface{}{"summary": summary}, nil
		},
	}
}

func readFileTool(opts Options) tools.Definition {
	return tools.Definition{
		Name:        "read_file",
		Description: "Read a file from the workspace.",
		Parameters: []tools.Parameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "max_bytes", Type: "number", Description: "Maximum bytes to read (default 200000)", Required: false},
		},
		Handler: func(ctx context.Context, args interface{}) (interface{}, error) {
			kw, _ := args.(map[string]interface{})
			pathValue, _ := kw["path"].(string)

			target, err := resolveWorkspacePath(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return nil, err
			}

			limit := defaultReadLimit
			if raw, ok := kw["max_bytes"].(float64); ok && raw > 0 {
				limit = int64(raw)
			}

			data, truncated, err := readLimited(target, limit)
			if err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"path":      pathValue,
				"content":   string(data),
				"truncated": truncated,
				"bytes":     len(data),
			}, nil
		},
	}
}

func writeFileTool(opts Options) tools.Definition {
	return tools.Definition{
		Name:        "write_file",
		Description: "Write content to a file in the workspace.",
		Parameters: []tools.Parameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "content", Type: "string", Description: "File content", Required: true},
			{Name: "append", Type: "boolean", Description: "Append instead of overwrite (default false)", Required: false},
		},
		Handler: func(ctx context.Context, args interface{}) (interface{}, error) {
			kw, _ := args.(map[string]interface{})
			pathValue, _ := kw["path"].(string)

			target, err := resolveWorkspacePath(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return nil, err
			}
			content, _ := kw["content"].(string)
			appendMode, _ := kw["append"].(bool)

			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return nil, err
			}

			flag := os.O_CREATE | os.O_WRONLY
			if appendMode {
				flag |= os.O_APPEND
			} else {
				flag |= os.O_TRUNC
			}
			f, err := os.OpenFile(target, flag, 0644)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			if _, err := f.WriteString(content); err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"path":   pathValue,
				"bytes":  len(content),
				"append": appendMode,
			}, nil
		},
	}
}

func listFilesTool(opts Options) tools.Definition {
	return tools.Definition{
		Name:        "list_files",
		Description: "List directory entries in the workspace. Directories carry a trailing slash.",
		Parameters: []tools.Parameter{
			{Name: "path", Type: "string", Description: "Relative directory path (default workspace root)", Required: false},
		},
		Handler: func(ctx context.Context, args interface{}) (interface{}, error) {
			kw, _ := args.(map[string]interface{})
			pathValue, _ := kw["path"].(string)

			target := opts.WorkspaceRoot
			if strings.TrimSpace(pathValue) != "" {
				resolved, err := resolveWorkspacePath(opts.WorkspaceRoot, pathValue)
				if err != nil {
					return nil, err
				}
				target = resolved
			}

			entries, err := os.ReadDir(target)
			if err != nil {
				return nil, err
			}

			names := make([]string, 0, len(entries))
			for _, entry := range entries {
				name := entry.Name()
				if entry.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}

			return map[string]interface{}{
				"path":    pathValue,
				"entries": names,
			}, nil
		},
	}
}

// resolveWorkspacePath joins a tool-supplied path onto the workspace root and
// rejects anything that resolves outside it.
func resolveWorkspacePath(root, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path must be a local file")
	}

	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace", pathValue)
	}
	return candidate, nil
}

func readLimited(path string, limit int64) ([]byte, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	if limit <= 0 {
		limit = defaultReadLimit
	}
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return nil, false, err
	}

	extra := make([]byte, 1)
	n, _ := f.Read(extra)
	return data, n > 0, nil
}
