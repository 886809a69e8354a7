// Package logging builds the process-wide slog handler.
//
// The handler is created twice: once at startup from linker-flag defaults,
// and once after flag parsing with the final level and format.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Output selection for [New].
type Options struct {
	Level   slog.Level // Minimum level emitted.
	JSON    bool       // JSON lines instead of key=value text.
	Verbose bool       // Add source locations.
	Group   string     // Optional group wrapping every record's attributes.
}

// Resolves a level from the quiet and debug switches. Debug wins over quiet.
func Level(quiet, debug bool) slog.Level {
	switch {
	case debug:
		return slog.LevelDebug
	case quiet:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Parses a textual level ("debug", "info", "warn", "error"). Unknown values
// resolve to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Creates a logger writing to w.
func New(w io.Writer, opts Options) *slog.Logger {
	hopts := &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: opts.Verbose,
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(w, hopts)
	} else {
		handler = slog.NewTextHandler(w, hopts)
	}

	if opts.Group != "" {
		handler = handler.WithGroup(opts.Group)
	}
	return slog.New(handler)
}

// Whether the given file is an interactive terminal.
func IsTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
