package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, Level(false, false))
	assert.Equal(t, slog.LevelWarn, Level(true, false))
	assert.Equal(t, slog.LevelDebug, Level(false, true))
	assert.Equal(t, slog.LevelDebug, Level(true, true))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Level: slog.LevelInfo, JSON: true, Group: "kiln"})

	logger.Debug("hidden")
	logger.Info("building", "stage", "app")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "building", rec["msg"])
	group, ok := rec["kiln"].(map[string]any)
	require.True(t, ok, "attributes are grouped")
	assert.Equal(t, "app", group["stage"])
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Level: slog.LevelWarn})

	logger.Info("hidden")
	logger.Warn("careful", "port", 8000)

	assert.Contains(t, buf.String(), "msg=careful")
	assert.Contains(t, buf.String(), "port=8000")
	assert.NotContains(t, buf.String(), "hidden")
}

func TestIsTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "log")
	require.NoError(t, err)
	defer f.Close()

	assert.False(t, IsTerminal(f), "regular file")
}
