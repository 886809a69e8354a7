package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/diff"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/containerd/v2/core/snapshots"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/oci"
	"github.com/containerd/containerd/v2/pkg/rootfs"
	"github.com/containerd/errdefs"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// A committed filesystem layer.
type Layer struct {
	Descriptor ocispec.Descriptor // Compressed layer blob.
	DiffID     digest.Digest      // Digest of the uncompressed layer.
	Snapshot   string             // Committed snapshot name, the parent of the next layer.
	CreatedBy  string             // History entry, e.g. "run pip install ...".
}

// Starts a build container on a fresh active snapshot of parent.
//
// Parent is a committed snapshot name: the base image chain ID for the first
// layer of a stage, then each committed layer in turn. The container runs
// "sleep infinity" so that Exec calls have a running task to attach to. Any
// stale container or snapshot with the same ID is removed first.
func (rt *Runtime) StartLayer(ctx context.Context, id string, base *Image, parent string) (*Container, error) {
	c := rt.container(id, base.Platform)
	c.remove(ctx)

	sn := rt.client.SnapshotService(rt.snapshotter)
	if err := sn.Remove(ctx, id); err != nil && !errdefs.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	if _, err := sn.Prepare(ctx, id, parent); err != nil {
		return nil, fmt.Errorf("%w: prepare %s: %w", ErrRuntime, id, err)
	}

	ctr, err := rt.client.NewContainer(ctx, id,
		containerd.WithImage(base.image),
		containerd.WithSnapshotter(rt.snapshotter),
		containerd.WithSnapshot(id),
		containerd.WithRuntime(ociRuntime, nil),
		containerd.WithNewSpec(
			oci.WithDefaultSpecForPlatform(base.Platform),
			oci.WithImageConfig(base.image),
			oci.WithHostNamespace(specs.NetworkNamespace),
			oci.WithHostResolvconf,
			oci.WithProcessArgs("sleep", "infinity"),
		),
	)
	if err != nil {
		sn.Remove(ctx, id)
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := c.startTask(ctx, ctr, cio.NullIO); err != nil {
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Debug("layer container started", "id", id, "parent", parent)
	return c, nil
}

// Stops the container and commits its filesystem changes as a layer.
//
// The container is deleted but its snapshot is kept, diffed against its
// parent and committed under name with a GC root label. The layer blob is
// labelled the same way so that cached layers outlive the build lease. An
// existing snapshot with the same name is reused.
func (c *Container) Commit(ctx context.Context, name, createdBy string) (*Layer, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := stopTask(ctx, ctr); err != nil {
		return nil, err
	}

	if err := ctr.Delete(ctx); err != nil && !errdefs.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	sn := c.client.SnapshotService(c.snapshotter)
	labels := map[string]string{gcRootLabel: strconv.FormatInt(time.Now().Unix(), 10)}

	desc, err := rootfs.CreateDiff(ctx, c.id, sn, c.client.DiffService(), diff.WithLabels(labels))
	if err != nil {
		sn.Remove(ctx, c.id)
		return nil, fmt.Errorf("%w: diff %s: %w", ErrRuntime, c.id, err)
	}

	diffID, err := images.GetDiffID(ctx, c.client.ContentStore(), desc)
	if err != nil {
		sn.Remove(ctx, c.id)
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := sn.Commit(ctx, name, c.id, snapshots.WithLabels(labels)); err != nil {
		if !errdefs.IsAlreadyExists(err) {
			sn.Remove(ctx, c.id)
			return nil, fmt.Errorf("%w: commit %s: %w", ErrRuntime, name, err)
		}
		sn.Remove(ctx, c.id)
	}

	slog.Debug("layer committed", "snapshot", name, "digest", desc.Digest, "size", desc.Size)

	return &Layer{
		Descriptor: desc,
		DiffID:     diffID,
		Snapshot:   name,
		CreatedBy:  createdBy,
	}, nil
}
