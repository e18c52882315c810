package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestPropagateToLogger(t *testing.T) {
	// Create context with tracing
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithRunID(ctx, "run-456")
	ctx = WithThreadID(ctx, "thread-789")

	// Create logger
	var buf bytes.Buffer
	baseLogger := zerolog.New(&buf)

	logger := PropagateToLogger(ctx, baseLogger)
	logger.Info().Msg("test")

	out := buf.String()
	if !strings.Contains(out, `"trace_id":"trace-123"`) {
		t.Errorf("Log line missing trace_id: %s", out)
	}
	if !strings.Contains(out, `"run_id":"run-456"`) {
		t.Errorf("Log line missing run_id: %s", out)
	}
	if !strings.Contains(out, `"thread_id":"thread-789"`) {
		t.Errorf("Log line missing thread_id: %s", out)
	}
}

func TestPropagateToLoggerEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	baseLogger := zerolog.New(&buf)

	logger := PropagateToLogger(context.Background(), baseLogger)
	logger.Info().Msg("test")

	out := buf.String()
	if strings.Contains(out, "trace_id") {
		t.Errorf("Log line should not carry trace_id: %s", out)
	}
	if strings.Contains(out, "run_id") {
		t.Errorf("Log line should not carry run_id: %s", out)
	}
}

func TestMergeContext(t *testing.T) {
	source := context.Background()
	source = WithTraceID(source, "trace-source")
	source = WithRunID(source, "run-source")

	target := context.Background()
	target = WithTraceID(target, "trace-target")

	merged := MergeContext(target, source)

	// Existing trace ID wins
	if GetTraceID(merged) != "trace-target" {
		t.Error("Existing trace ID should not be overwritten")
	}

	// Missing run ID is filled from source
	if GetRunID(merged) != "run-source" {
		t.Error("Run ID not merged from source")
	}
}

func TestDetachContext(t *testing.T) {
	type key string
	parent := context.WithValue(context.Background(), key("unrelated"), "value")
	parent = WithTraceID(parent, "trace-123")
	parent = WithRunID(parent, "run-456")
	parent = WithThreadID(parent, "thread-789")

	parent, cancel := context.WithCancel(parent)
	cancel()

	detached := DetachContext(parent)

	// Tracing identifiers survive
	if GetTraceID(detached) != "trace-123" {
		t.Error("Trace ID not carried to detached context")
	}
	if GetRunID(detached) != "run-456" {
		t.Error("Run ID not carried to detached context")
	}
	if GetThreadID(detached) != "thread-789" {
		t.Error("Thread ID not carried to detached context")
	}

	// Cancellation does not
	if detached.Err() != nil {
		t.Error("Detached context should not inherit cancellation")
	}

	// Unrelated values do not
	if detached.Value(key("unrelated")) != nil {
		t.Error("Detached context should not carry unrelated values")
	}
}
