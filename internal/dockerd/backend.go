package dockerd

import (
	"context"
	"fmt"

	"github.com/docker/docker/client"
)

// Talks to a Docker daemon.
type Backend struct {
	cli *client.Client
}

// Connects to the daemon at host, or to the one named by the DOCKER_*
// environment when host is empty. The API version is negotiated.
func New(host string) (*Backend, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDocker, err)
	}
	return &Backend{cli: cli}, nil
}

// Checks that the daemon answers.
func (b *Backend) Ping(ctx context.Context) error {
	if _, err := b.cli.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrDocker, err)
	}
	return nil
}

// Closes the client connection.
func (b *Backend) Close() error {
	return b.cli.Close()
}
