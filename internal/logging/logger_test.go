package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerFormatsDetailsInKeyOrder(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.Warn("skipped rows", map[string]interface{}{"skipped": 2, "model": "tfidf"})

	line := buf.String()
	assert.Contains(t, line, "WARN: skipped rows model=tfidf skipped=2")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestLoggerDropsBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)

	l.Info("hidden", nil)
	l.Debug("hidden", nil)
	l.Error("shown", nil)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "ERROR: shown")
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Info("nothing", nil)
	assert.NoError(t, l.Close())
}

func TestGlobalForwarding(t *testing.T) {
	var buf bytes.Buffer
	prev := SetGlobal(New(&buf, LevelInfo))
	defer SetGlobal(prev)

	Info("hello", map[string]interface{}{"k": "v"})
	assert.Contains(t, buf.String(), "INFO: hello k=v")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"WARN":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestInitWritesFile(t *testing.T) {
	dir := t.TempDir()
	prev := Global()
	defer SetGlobal(prev)

	l, path, err := Init(dir, "test", LevelInfo, false)
	require.NoError(t, err)

	l.Info("written", nil)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "INFO: written")
}
