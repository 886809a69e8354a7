package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/errdefs"
)

// Lifecycle state of a container.
type State string

const (
	StateRunning    State = "running"
	StateStopped    State = "stopped"
	StateNotCreated State = "not-created"
)

// A containerd container, either a build step or a running service.
type Container struct {
	client      *containerd.Client // Containerd client for managing the container.
	id          string             // Containerd container ID.
	platform    string             // OCI platform (e.g., "linux/amd64").
	snapshotter string             // Snapshotter holding the container's rootfs.
}

// Returns the containerd container ID.
func (c *Container) ID() string {
	return c.id
}

// Queries the current state of the container.
func (c *Container) Status(ctx context.Context) (State, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return StateNotCreated, nil
		}
		return "", fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return StateStopped, nil
		}
		return "", fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	status, err := task.Status(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if status.Status == containerd.Running {
		return StateRunning, nil
	}
	return StateStopped, nil
}

// Returns the process environment from the container's OCI spec.
func (c *Container) Env(ctx context.Context) ([]string, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	spec, err := ctr.Spec(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	if spec.Process == nil {
		return nil, nil
	}
	return spec.Process.Env, nil
}

// Stops the container's task.
//
// The running task is killed and deleted. The container metadata is
// preserved. Stopping an already-stopped container is not an error.
func (c *Container) Stop(ctx context.Context) error {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return stopTask(ctx, ctr)
}

// Removes the container and its snapshot.
//
// After destruction the handle is invalid.
func (c *Container) Destroy(ctx context.Context) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			slog.Warn("failed to load container for destruction", "id", c.id, "error", err)
		}
		return
	}

	if err := stopTask(ctx, ctr); err != nil {
		slog.Warn("failed to stop container during destruction", "id", c.id, "error", err)
	}

	if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		slog.Warn("failed to delete container during destruction", "id", c.id, "error", err)
	}
}

// Kills and deletes the task of ctr, if it has one.
func stopTask(ctx context.Context, ctr containerd.Container) error {
	task, err := ctr.Task(ctx, nil)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	task.Kill(ctx, syscall.SIGKILL)
	if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return nil
}

// Starts the container's task with the given IO.
func (c *Container) startTask(ctx context.Context, ctr containerd.Container, ioCreator cio.Creator) error {
	task, err := ctr.NewTask(ctx, ioCreator)
	if err != nil {
		return err
	}
	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		return err
	}
	return nil
}

// Removes an existing container with this ID, if one exists, together with
// its snapshot.
func (c *Container) remove(ctx context.Context) {
	existing, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return
	}
	stopTask(ctx, existing)
	existing.Delete(ctx, containerd.WithSnapshotCleanup)
}
