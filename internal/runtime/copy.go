package runtime

import (
	"context"
	"fmt"
	"io"
	"path"
)

// Creates a directory inside the container, including parents.
func (c *Container) MkdirAll(ctx context.Context, dir string) error {
	return c.runChecked(ctx, "mkdir "+dir, Command{Args: []string{"mkdir", "-p", dir}})
}

// Extracts the tar stream r into dir inside the container.
func (c *Container) CopyTo(ctx context.Context, r io.Reader, dir string) error {
	return c.runChecked(ctx, "extract into "+dir, Command{
		Args:  []string{"tar", "-x", "-f", "-", "-C", dir},
		Stdin: r,
	})
}

// Writes the file or directory at p inside the container to w as a tar
// stream whose single top-level entry is the base name of p.
func (c *Container) CopyFrom(ctx context.Context, w io.Writer, p string) error {
	p = path.Clean(p)
	return c.runChecked(ctx, "archive "+p, Command{
		Args:   []string{"tar", "-c", "-f", "-", "-C", path.Dir(p), path.Base(p)},
		Stdout: w,
	})
}

// Runs cmd and turns a non-zero exit into an error naming what failed.
func (c *Container) runChecked(ctx context.Context, what string, cmd Command) error {
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr

	code, err := c.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("%w: %s: exit code %d: %s", ErrRuntime, what, code, stderr.String())
	}
	return nil
}
