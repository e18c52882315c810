package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should create console logger with defaults", func(t *testing.T) {
		lg, err := New(DefaultConfig())
		require.NoError(t, err)
		defer lg.Close()

		assert.NotNil(t, lg.Logger())
	})

	t.Run("should create log file and parent directory", func(t *testing.T) {
		tmpDir := t.TempDir()
		logPath := filepath.Join(tmpDir, "logs", "engine.log")

		lg, err := New(Config{Level: "debug", File: logPath})
		require.NoError(t, err)

		zl := lg.Logger()
		zl.Info().Str("component", "test").Msg("hello")
		require.NoError(t, lg.Close())

		data, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "hello")
	})

	t.Run("should fall back to info on bad level", func(t *testing.T) {
		lg, err := New(Config{Level: "shout", Console: true})
		require.NoError(t, err)
		defer lg.Close()

		assert.Equal(t, "info", lg.Logger().GetLevel().String())
	})
}

func TestRedactor(t *testing.T) {
	r := NewRedactor()

	t.Run("should redact anthropic keys", func(t *testing.T) {
		in := `using key sk-ant-REDACTED for provider`
		out := r.Redact(in)
		assert.NotContains(t, out, "sk-ant-")
		assert.Contains(t, out, "[REDACTED]")
	})

	t.Run("should redact openai keys", func(t *testing.T) {
		out := r.Redact("sk-proj-abcdefghijklmnopqrstuvwxyz123456")
		assert.NotContains(t, out, "sk-proj")
	})

	t.Run("should redact bearer tokens", func(t *testing.T) {
		out := r.Redact("Authorization: Bearer abc.def.ghi")
		assert.NotContains(t, out, "abc.def.ghi")
	})

	t.Run("should leave ordinary text alone", func(t *testing.T) {
		in := "tool ask completed in 12ms"
		assert.Equal(t, in, r.Redact(in))
	})

	t.Run("should accept custom patterns", func(t *testing.T) {
		require.NoError(t, r.AddPattern(`tg:[0-9]+`))
		assert.NotContains(t, r.Redact("tg:12345"), "tg:12345")
		assert.Error(t, r.AddPattern(`(unclosed`))
	})
}

func TestRedactingWriterInFlow(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "redacted.log")

	lg, err := New(Config{Level: "info", File: logPath, Redaction: true})
	require.NoError(t, err)

	zl := lg.Logger()
	zl.Info().Str("api_key", "sk-ant-REDACTED").Msg("provider configured")
	require.NoError(t, lg.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secretsecretsecret")
	assert.Contains(t, string(data), "[REDACTED]")
}
