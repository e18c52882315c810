package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Source tells which dialect a call was detected in.
type Source string

const (
	// SourceXML marks calls parsed from tagged content in the response text.
	SourceXML Source = "xml"
	// SourceNative marks structured calls reported by the provider.
	SourceNative Source = "native"
)

// ParsingDetails preserves extraction context for XML calls.
type ParsingDetails struct {
	RawBlock    string `json:"raw_block,omitempty"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	Legacy      bool   `json:"legacy,omitempty"`
}

// Call is one normalized tool invocation detected in model output.
// Immutable once parsed.
type Call struct {
	FunctionName string          `json:"function_name"`
	Arguments    interface{}     `json:"arguments"`
	CallID       string          `json:"call_id,omitempty"`  // native calls only
	TagName      string          `json:"tag_name,omitempty"` // xml calls only
	Source       Source          `json:"source"`
	Parsing      *ParsingDetails `json:"parsing,omitempty"`
}

// NewXMLCall builds a call record for the tagged-content dialect.
func NewXMLCall(functionName, tagName string, args interface{}, details *ParsingDetails) Call {
	return Call{
		FunctionName: functionName,
		Arguments:    args,
		TagName:      tagName,
		Source:       SourceXML,
		Parsing:      details,
	}
}

// NewNativeCall builds a call record for a provider-reported structured call.
func NewNativeCall(functionName, callID string, args interface{}) Call {
	return Call{
		FunctionName: functionName,
		Arguments:    args,
		CallID:       callID,
		Source:       SourceNative,
	}
}

// Result is the outcome of one tool execution.
type Result struct {
	Success bool        `json:"success"`
	Output  interface{} `json:"output,omitempty"`
	Error   string      `json:"error,omitempty"`
	// Faulted marks failures caused by a panic, an error return, or an
	// abort, as opposed to a handler deliberately returning Fail. Drives
	// tool_error versus tool_failed reporting; never serialized.
	Faulted bool `json:"-"`
}

// Ok builds a successful Result.
func Ok(output interface{}) Result {
	return Result{Success: true, Output: output}
}

// Fail builds a failed Result.
func Fail(format string, args ...interface{}) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// OutputString renders the output for model-visible content.
func (r Result) OutputString() string {
	switch v := r.Output.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// NotFoundError reports an unknown tool together with what is registered.
type NotFoundError struct {
	Name      string
	Available []string
}

func (e *NotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("tool not found: %s (no tools registered)", e.Name)
	}
	return fmt.Sprintf("tool not found: %s (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

// NormalizeArguments applies the argument coercion rules shared by both
// dialects. Strings are probed as JSON: objects become kwargs mappings, other
// JSON values are passed through as a single value, and non-JSON strings stay
// raw. Mappings pass as-is; everything else is a single value.
func NormalizeArguments(raw interface{}) interface{} {
	switch v := raw.(type) {
	case string:
		var decoded interface{}
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			return v
		}
		if m, ok := decoded.(map[string]interface{}); ok {
			return m
		}
		return decoded
	case map[string]interface{}:
		return v
	default:
		return v
	}
}
