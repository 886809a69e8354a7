package runtime

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Bytes of stderr kept for error reports.
const stderrTail = 8 << 10

// A process to run inside a container's task.
type Command struct {
	Args    []string
	Env     []string  // Merged over the container's environment.
	Workdir string    // Overrides the container's working directory.
	Stdin   io.Reader // Closed from the process side once drained.
	Stdout  io.Writer // Nil discards.
	Stderr  io.Writer // Nil discards.
}

// Outcome of a shell step.
type ExecResult struct {
	ExitCode int
	Stderr   string // Last few kilobytes of standard error.
}

// Runs script through "shell -c" inside the container.
//
// Standard output and standard error are both streamed to output as they
// are produced; the tail of standard error is also kept in the result. A
// non-zero exit is reported in the result, not as an error.
func (c *Container) Exec(ctx context.Context, shell, script string, env []string, workdir string, output io.Writer) (*ExecResult, error) {
	if output == nil {
		output = io.Discard
	}
	tail := &tailBuffer{max: stderrTail}

	code, err := c.Run(ctx, Command{
		Args:    []string{shell, "-c", script},
		Env:     env,
		Workdir: workdir,
		Stdout:  output,
		Stderr:  io.MultiWriter(output, tail),
	})
	if err != nil {
		return nil, err
	}
	return &ExecResult{ExitCode: code, Stderr: tail.String()}, nil
}

// Runs cmd as an extra process of the container's task and returns its exit
// code once it has exited.
func (c *Container) Run(ctx context.Context, cmd Command) (int, error) {
	task, err := c.loadTask(ctx)
	if err != nil {
		return 0, err
	}

	pspec, err := c.processSpec(ctx, cmd)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	stdout, stderr := cmd.Stdout, cmd.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	stdin := cmd.Stdin
	var drained chan struct{}
	if stdin != nil {
		drained = make(chan struct{})
		stdin = &eofReader{r: stdin, eof: drained}
	}

	process, err := task.Exec(ctx, "exec-"+uuid.NewString(), pspec, cio.NewCreator(cio.WithStreams(stdin, stdout, stderr)))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	defer process.Delete(context.WithoutCancel(ctx))

	statusC, err := process.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	if err := process.Start(ctx); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	// The shim keeps its end of the stdin FIFO open, so EOF has to be
	// forwarded explicitly.
	if drained != nil {
		go func() {
			select {
			case <-drained:
				process.CloseIO(ctx, containerd.WithStdinCloser)
			case <-ctx.Done():
			}
		}()
	}

	var status containerd.ExitStatus
	select {
	case status = <-statusC:
	case <-ctx.Done():
		process.Kill(context.WithoutCancel(ctx), 9)
		status = <-statusC
	}

	code, _, err := status.Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	if ctx.Err() != nil {
		return int(code), ctx.Err()
	}
	return int(code), nil
}

// Derives the process spec from the container's own, with the command's
// arguments, environment and working directory.
func (c *Container) processSpec(ctx context.Context, cmd Command) (*specs.Process, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, err
	}

	spec, err := ctr.Spec(ctx)
	if err != nil {
		return nil, err
	}

	pspec := *spec.Process
	pspec.Terminal = false
	pspec.Args = cmd.Args
	if len(cmd.Env) > 0 {
		pspec.Env = mergeEnv(pspec.Env, cmd.Env)
	}
	if cmd.Workdir != "" {
		pspec.Cwd = cmd.Workdir
	}
	return &pspec, nil
}

// Loads the container's running task.
func (c *Container) loadTask(ctx context.Context) (containerd.Task, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return task, nil
}

// Merges override env vars on top of a base env slice.
//
// Base order is kept; overridden keys stay in place and new keys are appended
// in override order. Entries without "=" are dropped.
func mergeEnv(base, overrides []string) []string {
	result := make([]string, 0, len(base)+len(overrides))
	index := make(map[string]int, len(base)+len(overrides))

	for _, entry := range append(append([]string(nil), base...), overrides...) {
		k, _, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if i, seen := index[k]; seen {
			result[i] = entry
			continue
		}
		index[k] = len(result)
		result = append(result, entry)
	}
	return result
}

// Closes eof the first time the wrapped reader reports [io.EOF].
type eofReader struct {
	r    io.Reader
	once sync.Once
	eof  chan struct{}
}

func (e *eofReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err == io.EOF {
		e.once.Do(func() { close(e.eof) })
	}
	return n, err
}

// Keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
