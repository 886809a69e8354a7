package build

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLineLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(prev)

	l := newLineLogger("6")
	l.Write([]byte("Collecting Django==5.0\r\nCollecting psy"))
	l.Write([]byte("copg2\n\n"))
	l.Write([]byte("Successfully installed"))
	l.Flush()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d log lines, want 3:\n%s", len(lines), buf.String())
	}
	for i, want := range []string{"Collecting Django==5.0", "Collecting psycopg2", "Successfully installed"} {
		if !strings.Contains(lines[i], want) || !strings.Contains(lines[i], "step=6") {
			t.Errorf("line %d = %q, want %q", i, lines[i], want)
		}
	}
}

func TestLineLoggerDisabled(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	defer slog.SetDefault(prev)

	l := newLineLogger("1")
	n, err := l.Write([]byte("noise\n"))
	l.Flush()

	if err != nil || n != 6 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if buf.Len() != 0 {
		t.Errorf("logged %q at info level", buf.String())
	}
}
