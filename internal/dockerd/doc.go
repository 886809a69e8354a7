// Package dockerd builds and runs recipes through the Docker Engine API.
//
// It is the alternative to the containerd backend for hosts where only a
// Docker daemon is available. Recipes are rendered to a Dockerfile and built
// by the daemon, so layer caching is the daemon's own. Services are started
// as ordinary containers publishing the service port on every interface.
//
//	b, err := dockerd.New("")
//	if err != nil {
//		return err
//	}
//	defer b.Close()
//
//	res, err := b.Build(ctx, dockerd.BuildOptions{
//		Recipe:  rec,
//		Context: bctx,
//		Name:    "kiln.local/app:latest",
//	})
package dockerd
