package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cruciblehq/kiln/internal/client"
	"github.com/cruciblehq/kiln/internal/protocol"
	"github.com/cruciblehq/kiln/internal/server"
	"github.com/cruciblehq/kiln/internal/settings"
)

// Represents the 'kiln serve' command.
type ServeCmd struct {
	HTTP string `help:"Address of the status and metrics listener." placeholder:"HOST:PORT"`
}

// Executes the serve command.
//
// Starts the daemon on a Unix domain socket and blocks until the context
// is cancelled (e.g. via SIGINT or SIGTERM) or a shutdown command arrives.
func (c *ServeCmd) Run(ctx context.Context, cfg *settings.Config) error {
	if c.HTTP != "" {
		cfg.Daemon.HTTPAddr = c.HTTP
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		srv.Stop()
		return err
	}

	slog.Info("kiln is running")

	stopped := make(chan struct{})
	go func() {
		srv.Wait()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case <-stopped:
	}
	return srv.Stop()
}

// Represents the 'kiln status' command.
type StatusCmd struct{}

// Executes the status command.
func (c *StatusCmd) Run(ctx context.Context, cfg *settings.Config) error {
	var res protocol.StatusResult
	if err := client.Call(ctx, cfg.Daemon.Socket, protocol.CmdStatus, nil, &res); err != nil {
		return err
	}
	fmt.Printf("running  pid %d  version %s  uptime %s  builds %d  active %d\n",
		res.Pid, res.Version, res.Uptime, res.Builds, res.Active)
	return nil
}

// Represents the 'kiln shutdown' command.
type ShutdownCmd struct{}

// Executes the shutdown command.
func (c *ShutdownCmd) Run(ctx context.Context, cfg *settings.Config) error {
	if err := client.Call(ctx, cfg.Daemon.Socket, protocol.CmdShutdown, nil, nil); err != nil {
		return err
	}
	slog.Info("daemon stopping")
	return nil
}
