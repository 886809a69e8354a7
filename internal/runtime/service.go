package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Controls how a service container is started.
type ServiceOptions struct {
	Env     []string  // Extra "KEY=value" entries over the image environment.
	LogPath string    // When set, the shim writes stdout and stderr to this file.
	Stdout  io.Writer // Used when LogPath is empty; nil discards.
	Stderr  io.Writer // Used when LogPath is empty; nil discards.
}

// Starts a service container from an imported image tag.
//
// The process comes from the image config (entrypoint, cmd, env, working
// directory). The container shares the host network namespace, so a server
// listening on 0.0.0.0:8000 inside is reachable on the host at port 8000.
// Any stale container with the same ID is removed first.
func (rt *Runtime) StartService(ctx context.Context, tag, id string, opts ServiceOptions) (*Container, error) {
	platform := DefaultPlatform()
	c := rt.container(id, platform)
	c.remove(ctx)

	image, err := rt.resolveImage(ctx, tag, platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	specOpts := []oci.SpecOpts{
		oci.WithDefaultSpecForPlatform(platform),
		oci.WithImageConfig(image),
		oci.WithHostNamespace(specs.NetworkNamespace),
		oci.WithHostResolvconf,
		oci.WithHostHostsFile,
	}
	if len(opts.Env) > 0 {
		specOpts = append(specOpts, oci.WithEnv(opts.Env))
	}

	ctr, err := rt.client.NewContainer(ctx, id,
		containerd.WithImage(image),
		containerd.WithSnapshotter(rt.snapshotter),
		containerd.WithNewSnapshot(id, image),
		containerd.WithRuntime(ociRuntime, nil),
		containerd.WithNewSpec(specOpts...),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := c.startTask(ctx, ctr, serviceIO(opts)); err != nil {
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Info("service started", "id", id, "image", tag)
	return c, nil
}

// Blocks until the container's task exits and returns its exit code.
func (c *Container) Wait(ctx context.Context) (int, error) {
	task, err := c.loadTask(ctx)
	if err != nil {
		return 0, err
	}

	statusC, err := task.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case status := <-statusC:
		code, _, err := status.Result()
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
		}
		return int(code), nil
	}
}

func serviceIO(opts ServiceOptions) cio.Creator {
	if opts.LogPath != "" {
		return cio.LogFile(opts.LogPath)
	}
	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return cio.NewCreator(cio.WithStreams(nil, stdout, stderr))
}
