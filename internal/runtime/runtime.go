package runtime

import (
	"context"
	"fmt"
	"log/slog"
	goruntime "runtime"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/errdefs"
	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"
)

const (

	// Snapshotter used when none is configured.
	DefaultSnapshotter = "overlayfs"

	// OCI runtime shim for running containers.
	ociRuntime = "io.containerd.runc.v2"

	// Label that keeps committed snapshots and layer blobs alive across builds.
	gcRootLabel = "containerd.io/gc.root"
)

// Manages the containerd client and provides image and container operations.
type Runtime struct {
	client      *containerd.Client // Containerd client for managing containers and images.
	snapshotter string             // Snapshotter for every filesystem the runtime creates.
}

// Creates a runtime connected to the containerd socket at the given address.
//
// The namespace scopes all containerd operations to a single tenant. An
// empty snapshotter selects [DefaultSnapshotter]. The runtime must be closed
// when no longer needed.
func New(address, namespace, snapshotter string) (*Runtime, error) {
	client, err := containerd.New(address, containerd.WithDefaultNamespace(namespace))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	if snapshotter == "" {
		snapshotter = DefaultSnapshotter
	}
	return &Runtime{client: client, snapshotter: snapshotter}, nil
}

// Closes the containerd client connection.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Acquires a containerd lease for the duration of a build.
//
// Content and active snapshots created under the returned context are
// protected from garbage collection until done is called.
func (rt *Runtime) WithLease(ctx context.Context) (context.Context, func(context.Context) error, error) {
	ctx, done, err := rt.client.WithLease(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return ctx, done, nil
}

// Pulls and unpacks an image for the target platform.
//
// Short references are normalised the way Docker does ("python:3.12-slim"
// becomes "docker.io/library/python:3.12-slim").
func (rt *Runtime) Pull(ctx context.Context, ref, platform string) (*Image, error) {
	named, err := reference.ParseDockerRef(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrReference, ref, err)
	}

	slog.Info("pulling image", "ref", named.String(), "platform", platform)

	img, err := rt.client.Pull(ctx, named.String(),
		containerd.WithPlatform(platform),
		containerd.WithPullUnpack,
		containerd.WithPullSnapshotter(rt.snapshotter),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: pull %s: %w", ErrRuntime, named, err)
	}

	return newImage(ctx, img, platform)
}

// Removes a committed layer snapshot. Missing snapshots are ignored.
func (rt *Runtime) RemoveSnapshot(ctx context.Context, name string) error {
	err := rt.client.SnapshotService(rt.snapshotter).Remove(ctx, name)
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return nil
}

// Whether a committed layer can still be reused: its snapshot exists and its
// blob is in the content store.
func (rt *Runtime) HasLayer(ctx context.Context, snapshot string, blob digest.Digest) bool {
	if _, err := rt.client.SnapshotService(rt.snapshotter).Stat(ctx, snapshot); err != nil {
		return false
	}
	if _, err := rt.client.ContentStore().Info(ctx, blob); err != nil {
		return false
	}
	return true
}

// Removes an image and all containers created from it.
//
// Containers are discovered by querying containerd for records whose image
// field matches the tag. Each container's task is killed before the container
// and its snapshot are deleted.
func (rt *Runtime) DestroyImage(ctx context.Context, tag string) error {
	ctrs, err := rt.client.Containers(ctx, fmt.Sprintf("image==%s", tag))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	for _, ctr := range ctrs {
		if task, taskErr := ctr.Task(ctx, nil); taskErr == nil {
			task.Kill(ctx, syscall.SIGKILL)
			task.Delete(ctx, containerd.WithProcessKill)
		}
		if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %w", ErrRuntime, err)
		}
	}

	if err := rt.client.ImageService().Delete(ctx, tag); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Debug("image destroyed", "tag", tag)
	return nil
}

// Returns a handle for an existing container.
//
// The container is not loaded or verified; the handle is a lightweight
// reference that resolves the container lazily on subsequent calls.
func (rt *Runtime) Container(id string) *Container {
	return rt.container(id, DefaultPlatform())
}

func (rt *Runtime) container(id, platform string) *Container {
	return &Container{
		client:      rt.client,
		id:          id,
		platform:    platform,
		snapshotter: rt.snapshotter,
	}
}

// Tag under which a base archive is imported. Derived from the archive path,
// so rebuilding from the same archive reuses the import.
func imageTag(path string) string {
	return "kiln.local/archive/" + digest.FromString(path).Encoded()[:16] + ":latest"
}

// Returns the OCI platform for the host architecture.
func DefaultPlatform() string {
	return "linux/" + goruntime.GOARCH
}
