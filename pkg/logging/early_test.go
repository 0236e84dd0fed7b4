package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEarlyLog(buf *bytes.Buffer) (*EarlyLog, *int) {
	exitCode := -1
	l := NewEarlyLog().WithOutput(buf).WithServiceName("pipeline-service")
	l.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	l.exit = func(code int) { exitCode = code }
	return l, &exitCode
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]string {
	t.Helper()
	var entries []map[string]string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]string
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestEarlyLog_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l, exitCode := newTestEarlyLog(&buf)

	l.Info("loading %s", "config.yaml")
	l.Warn("deprecated key")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "info", entries[0]["level"])
	assert.Equal(t, "loading config.yaml", entries[0]["msg"])
	assert.Equal(t, "pipeline-service", entries[0]["service_name"])
	assert.Equal(t, "2024-03-01T12:00:00Z", entries[0]["ts"])
	assert.Equal(t, "warn", entries[1]["level"])
	assert.Equal(t, -1, *exitCode)
}

func TestEarlyLog_ErrorDoesNotExit(t *testing.T) {
	var buf bytes.Buffer
	l, exitCode := newTestEarlyLog(&buf)

	l.Error("Failed to load config: %v", "boom")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0]["level"])
	assert.Equal(t, "Failed to load config: boom", entries[0]["msg"])
	assert.Equal(t, -1, *exitCode)
}

func TestEarlyLog_FatalExits(t *testing.T) {
	var buf bytes.Buffer
	l, exitCode := newTestEarlyLog(&buf)

	l.Fatal("cannot continue")

	assert.Equal(t, 1, *exitCode)
	assert.Contains(t, buf.String(), `"level":"fatal"`)
}

func TestEarlyLog_MessageWithoutArgsKeepsPercent(t *testing.T) {
	var buf bytes.Buffer
	l, _ := newTestEarlyLog(&buf)

	l.Info("100% ready")

	entries := decodeLines(t, &buf)
	assert.Equal(t, "100% ready", entries[0]["msg"])
}
