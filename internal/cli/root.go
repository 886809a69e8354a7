package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/cruciblehq/kiln/internal"
	"github.com/cruciblehq/kiln/internal/build"
	"github.com/cruciblehq/kiln/internal/client"
	"github.com/cruciblehq/kiln/internal/logging"
	"github.com/cruciblehq/kiln/internal/settings"
)

// Root command and global flags.
type CLI struct {
	Quiet   bool   `short:"q" help:"Suppress informational output."`
	Verbose bool   `short:"v" help:"Enable verbose output."`
	Debug   bool   `short:"d" help:"Enable debug output."`
	Config  string `short:"c" help:"Configuration file." placeholder:"PATH" type:"path"`
	Backend string `help:"Build and run backend (containerd or docker)." placeholder:"NAME"`
	Socket  string `short:"s" help:"Override the daemon socket path." placeholder:"PATH"`

	Build    BuildCmd    `cmd:"" help:"Build an image from a recipe."`
	Plan     PlanCmd     `cmd:"" help:"Show the layer steps of a build and their cache state."`
	Run      RunCmd      `cmd:"" help:"Run a built image in the foreground."`
	Verify   VerifyCmd   `cmd:"" help:"Start a built image, check it serves and stop it."`
	Render   RenderCmd   `cmd:"" help:"Print a recipe as a Dockerfile."`
	Import   ImportCmd   `cmd:"" help:"Convert a Dockerfile into a recipe."`
	Cache    CacheCmd    `cmd:"" help:"Inspect and prune the layer cache."`
	Serve    ServeCmd    `cmd:"" help:"Start the daemon."`
	Status   StatusCmd   `cmd:"" help:"Show daemon status."`
	Shutdown ShutdownCmd `cmd:"" help:"Stop the daemon."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`
}

// Parses arguments, loads configuration, configures logging, and runs the
// selected subcommand.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var root CLI
	kongCtx := kong.Parse(&root,
		kong.Name(internal.Name),
		kong.Description("Builds service images from recipes and runs them.\n\nThe default recipe packages a Django application: python:3.12-slim, postgresql-client, requirements.txt and the development server on port 8000."),
		kong.UsageOnError(),
		kong.Vars{
			"version": internal.VersionString(),
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	cfg, err := root.settings()
	if err != nil {
		return err
	}

	root.configureLogger(cfg)

	return kongCtx.Run(cfg)
}

// Loads configuration and applies the global flag overrides.
func (c *CLI) settings() (*settings.Config, error) {
	cfg, err := settings.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if c.Backend != "" {
		cfg.Backend = strings.ToLower(c.Backend)
	}
	if c.Socket != "" {
		cfg.Daemon.Socket = c.Socket
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Records the output modes from flags and settings, then configures the
// global logger from them. Flags only ever enable a mode set by the linker.
func (c *CLI) configureLogger(cfg *settings.Config) {
	internal.SetDebug(c.Debug || internal.IsDebug())
	internal.SetQuiet(c.Quiet || internal.IsQuiet())
	internal.SetVerbose(c.Verbose || internal.IsVerbose())
	internal.SetJSON(strings.EqualFold(cfg.Log.Format, "json") || internal.IsJSON())

	level := logging.ParseLevel(cfg.Log.Level)
	if internal.IsDebug() || internal.IsQuiet() {
		level = logging.Level(internal.IsQuiet(), internal.IsDebug())
	}

	slog.SetDefault(logging.New(os.Stderr, logging.Options{
		Level:   level,
		JSON:    internal.IsJSON(),
		Verbose: internal.IsVerbose(),
	}))
}

// Exit status for err: the exit code of a failed run step when there is
// one, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if code, ok := build.ExitCode(err); ok && code > 0 {
		return code
	}
	var remote *client.RemoteError
	if errors.As(err, &remote) && remote.ExitCode > 0 {
		return remote.ExitCode
	}
	return 1
}
