package service

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/cruciblehq/kiln/internal/runtime"
)

// Runs services on containerd.
//
// Services share the host network namespace, so the container port is also
// the host port. Output goes to a log file in logDir, one per container.
type Containerd struct {
	rt     *runtime.Runtime
	logDir string
}

// Creates a containerd runner writing service logs to logDir.
func NewContainerd(rt *runtime.Runtime, logDir string) *Containerd {
	return &Containerd{rt: rt, logDir: logDir}
}

// Imports the archive when one is given, then starts the service.
//
// An imported image is tagged under a unique name and removed again by
// [Containerd.Stop].
func (c *Containerd) Start(ctx context.Context, opts RunOptions) (*Instance, error) {
	tag := opts.Image
	imported := false

	if opts.Archive != "" {
		if tag == "" {
			tag = "kiln.local/run/" + uuid.NewString() + ":latest"
		}
		if err := c.rt.ImportImage(ctx, opts.Archive, tag); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrService, err)
		}
		imported = true
	}
	if tag == "" {
		return nil, fmt.Errorf("%w: no image or archive to run", ErrService)
	}

	name := opts.Name
	if name == "" {
		name = "kiln-run-" + uuid.NewString()[:8]
	}

	if err := os.MkdirAll(c.logDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrService, err)
	}

	ctr, err := c.rt.StartService(ctx, tag, name, runtime.ServiceOptions{
		Env:     opts.Env,
		LogPath: c.logPath(name),
	})
	if err != nil {
		if imported {
			c.rt.DestroyImage(context.WithoutCancel(ctx), tag)
		}
		return nil, fmt.Errorf("%w: %w", ErrService, err)
	}

	port, _, _ := strings.Cut(orDefault(opts.Port, DefaultPort), "/")

	return &Instance{
		ID:       ctr.ID(),
		Name:     name,
		Image:    tag,
		Address:  address(opts.Host, port),
		imported: imported,
	}, nil
}

// Stops and removes the service container, and the image when it was
// imported for this instance.
func (c *Containerd) Stop(ctx context.Context, inst *Instance) error {
	c.rt.Container(inst.ID).Destroy(ctx)

	if inst.imported {
		if err := c.rt.DestroyImage(ctx, inst.Image); err != nil {
			return fmt.Errorf("%w: %w", ErrService, err)
		}
	}
	return nil
}

// Returns the service process environment.
func (c *Containerd) Env(ctx context.Context, inst *Instance) ([]string, error) {
	return c.rt.Container(inst.ID).Env(ctx)
}

// Returns the last lines of the service log.
func (c *Containerd) Logs(ctx context.Context, inst *Instance, tail int) (string, error) {
	f, err := os.Open(c.logPath(inst.Name))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrService, err)
	}
	defer f.Close()
	return tailLines(bufio.NewScanner(f), tail), nil
}

func (c *Containerd) logPath(name string) string {
	return filepath.Join(c.logDir, name+".log")
}

// Returns the last n lines from s, or every line when n is not positive.
func tailLines(s *bufio.Scanner, n int) string {
	var ring []string
	for s.Scan() {
		if n > 0 && len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, s.Text())
	}
	return strings.Join(ring, "\n")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
