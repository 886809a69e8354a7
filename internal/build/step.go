package build

import (
	"bytes"
	"context"
	"log/slog"
	"strings"

	"github.com/cruciblehq/kiln/internal/runtime"
)

// Executes a run or copy operation with its resolved modifiers.
func (b *builder) executeOperation(ctx context.Context, ctr *runtime.Container, op layerOp, platform string, stages map[string]*stageResult) error {
	resolved := op.state

	if resolved.workdir != "" {
		if err := ctr.MkdirAll(ctx, resolved.workdir); err != nil {
			return err
		}
	}

	switch {
	case op.step.Run != "":
		slog.Debug("run", "command", op.step.Run, "shell", resolved.shell, "workdir", resolved.workdir)
		out := newLineLogger(op.index)
		result, err := ctr.Exec(ctx, resolved.shell, op.step.Run, resolved.environ(), resolved.workdir, out)
		out.Flush()
		if err != nil {
			return err
		}
		if result.ExitCode != 0 {
			return &CommandError{
				Command:  op.step.Run,
				ExitCode: result.ExitCode,
				Stderr:   result.Stderr,
			}
		}

	case op.step.Copy != "":
		return b.executeCopy(ctx, ctr, op.step.Copy, resolved.workdir, platform, stages)
	}

	return nil
}

// Logs command output line by line at debug level.
type lineLogger struct {
	step    string
	partial []byte
	enabled bool
}

func newLineLogger(step string) *lineLogger {
	return &lineLogger{
		step:    step,
		enabled: slog.Default().Enabled(context.Background(), slog.LevelDebug),
	}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	if !l.enabled {
		return len(p), nil
	}
	l.partial = append(l.partial, p...)
	for {
		i := bytes.IndexByte(l.partial, '\n')
		if i < 0 {
			break
		}
		l.emit(l.partial[:i])
		l.partial = l.partial[i+1:]
	}
	return len(p), nil
}

// Logs a trailing line without newline.
func (l *lineLogger) Flush() {
	if len(l.partial) > 0 {
		l.emit(l.partial)
		l.partial = nil
	}
}

func (l *lineLogger) emit(line []byte) {
	if s := strings.TrimRight(string(line), "\r"); s != "" {
		slog.Debug("output", "step", l.step, "line", s)
	}
}
