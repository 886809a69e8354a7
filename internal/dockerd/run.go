package dockerd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	"github.com/cruciblehq/kiln/internal/recipe"
	"github.com/cruciblehq/kiln/internal/service"
)

// Grace period before a stopped service is killed.
const stopTimeout = 10

var _ service.Runner = (*Backend)(nil)

// Starts a service container.
//
// When an archive is given it is loaded into the daemon first. The service
// port is published on every host interface under the same number.
func (b *Backend) Start(ctx context.Context, opts service.RunOptions) (*service.Instance, error) {
	image := opts.Image
	if opts.Archive != "" {
		loaded, err := b.load(ctx, opts.Archive)
		if err != nil {
			return nil, err
		}
		if image == "" {
			image = loaded
		}
	}
	if image == "" {
		return nil, fmt.Errorf("%w: no image or archive to run", ErrDocker)
	}

	port := opts.Port
	if port == "" {
		port = service.DefaultPort
	}
	exposed, bindings, err := portBindings(port)
	if err != nil {
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = "kiln-run-" + uuid.NewString()[:8]
	}

	config := &container.Config{
		Image:        image,
		Env:          opts.Env,
		ExposedPorts: exposed,
	}
	hostConfig := &container.HostConfig{PortBindings: bindings}

	resp, err := b.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDocker, err)
	}
	for _, w := range resp.Warnings {
		slog.Warn("docker", "warning", w)
	}

	if err := b.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		b.cli.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("%w: %w", ErrDocker, err)
	}

	slog.Info("service started", "id", resp.ID, "name", name, "image", image)

	return &service.Instance{
		ID:      resp.ID,
		Name:    name,
		Image:   image,
		Address: hostAddress(opts.Host, nat.Port(port)),
	}, nil
}

// Stops and removes the service container. A container that is already gone
// is not an error.
func (b *Backend) Stop(ctx context.Context, inst *service.Instance) error {
	timeout := stopTimeout
	if err := b.cli.ContainerStop(ctx, inst.ID, container.StopOptions{Timeout: &timeout}); err != nil && !errdefs.IsNotFound(err) {
		slog.Warn("failed to stop container", "id", inst.ID, "error", err)
	}
	if err := b.cli.ContainerRemove(ctx, inst.ID, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %w", ErrDocker, err)
	}
	return nil
}

// Returns the environment the service process was started with.
func (b *Backend) Env(ctx context.Context, inst *service.Instance) ([]string, error) {
	info, err := b.cli.ContainerInspect(ctx, inst.ID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, inst.ID)
		}
		return nil, fmt.Errorf("%w: %w", ErrDocker, err)
	}
	if info.Config == nil {
		return nil, nil
	}
	return info.Config.Env, nil
}

// Returns the last tail lines of the service's combined output.
func (b *Backend) Logs(ctx context.Context, inst *service.Instance, tail int) (string, error) {
	opts := container.LogsOptions{ShowStdout: true, ShowStderr: true}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}

	rc, err := b.cli.ContainerLogs(ctx, inst.ID, opts)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDocker, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDocker, err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// Loads an image archive and returns the reference it was loaded under.
func (b *Backend) load(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDocker, err)
	}
	defer f.Close()

	resp, err := b.cli.ImageLoad(ctx, f)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDocker, err)
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, &out, 0, false, nil); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDocker, err)
	}
	return loadedImage(&out), nil
}

// Picks the last image named in an image load stream.
func loadedImage(r io.Reader) string {
	data, _ := io.ReadAll(r)

	var ref string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "Loaded image: "); ok {
			ref = v
		} else if v, ok := strings.CutPrefix(line, "Loaded image ID: "); ok && ref == "" {
			ref = v
		}
	}
	return ref
}

// Exposes port and binds it on every host interface under the same number.
func portBindings(spec string) (nat.PortSet, nat.PortMap, error) {
	port, err := recipe.ParsePort(spec)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrDocker, err)
	}

	exposed := nat.PortSet{port: struct{}{}}
	bindings := nat.PortMap{
		port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: port.Port()}},
	}
	return exposed, bindings, nil
}

func hostAddress(host string, port nat.Port) string {
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port.Port())
}
