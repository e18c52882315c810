package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z1w2r3/suna-sub001/pkg/thread"
)

func TestDemoCommand(t *testing.T) {
	cmd := GetRootCmd()
	cmd.SetArgs([]string{"demo", "--log-level", "error"})

	output := &bytes.Buffer{}
	errOutput := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(errOutput)

	require.NoError(t, cmd.Execute())

	full := output.String()

	// Every stdout line is one JSON-encoded message.
	var messages []thread.Message
	scanner := bufio.NewScanner(strings.NewReader(full))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg thread.Message
		require.NoError(t, json.Unmarshal([]byte(line), &msg), "line: %s", line)
		messages = append(messages, msg)
	}
	require.NoError(t, scanner.Err())
	require.NotEmpty(t, messages)

	// Three scripted turns, each opening with a run start.
	assert.Equal(t, 3, strings.Count(full, "thread_run_start"))

	// The tagged echo call, the native clock call, and the terminating ask
	// all executed.
	assert.Contains(t, full, "tool_completed")
	assert.Contains(t, full, "Hello from the demo!")
	assert.Contains(t, full, "current_time")
	assert.Contains(t, full, "Which file should I update?")
	assert.NotContains(t, full, "tool_failed")
	assert.NotContains(t, full, "tool_error")
}
