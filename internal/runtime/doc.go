// Package runtime builds and runs images on containerd.
//
// A [Runtime] connects to a containerd daemon. Stage bases are pulled from a
// registry or imported from an OCI archive and unpacked into the configured
// snapshotter. Each filesystem-changing build step runs in its own
// [Container], started on an active snapshot prepared from the previous
// layer. [Container.Commit] stops the container, computes the layer diff and
// commits the snapshot under a stable name so later builds can start from
// it. [Runtime.Export] writes the base manifest plus the recorded layers and
// the final image config as an OCI archive.
//
// Example usage:
//
//	rt, err := runtime.New("/run/containerd/containerd.sock", "kiln", "overlayfs")
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	base, err := rt.Pull(ctx, "python:3.12-slim", "linux/amd64")
//	if err != nil {
//	    return err
//	}
//
//	ctr, err := rt.StartLayer(ctx, "build-1", base, base.ChainID.String())
//	if err != nil {
//	    return err
//	}
//
//	if _, err := ctr.Exec(ctx, "/bin/sh", "pip install -r requirements.txt", nil, "/app", os.Stderr); err != nil {
//	    return err
//	}
//
//	layer, err := ctr.Commit(ctx, "kiln-layer-1", "run pip install")
//	if err != nil {
//	    return err
//	}
package runtime
