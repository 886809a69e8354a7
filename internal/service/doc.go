// Package service starts a built image as a running service and checks it.
//
// A [Runner] starts, inspects and stops service containers; there is one
// per backend ([Containerd] here, the Docker backend in package dockerd).
// [Verify] exercises the runtime contract of a built image: the service
// accepts connections on its port within a bounded time and its process
// environment carries the expected values. Stopping the service is the only
// teardown; nothing else is cleaned up or notified.
package service
