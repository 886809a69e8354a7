package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/cruciblehq/kiln/internal/build"
	"github.com/cruciblehq/kiln/internal/cache"
	"github.com/cruciblehq/kiln/internal/client"
	"github.com/cruciblehq/kiln/internal/dockerd"
	"github.com/cruciblehq/kiln/internal/protocol"
	"github.com/cruciblehq/kiln/internal/runtime"
	"github.com/cruciblehq/kiln/internal/settings"
)

// Image name used when none is given, matching the containerd builder's.
const defaultImage = "kiln.local/kiln:latest"

// Represents the 'kiln build' command.
type BuildCmd struct {
	sourceFlags `embed:""`

	Output   string   `short:"o" help:"Directory for the exported image." default:"dist" type:"path"`
	Name     string   `short:"t" help:"Image name." placeholder:"REF"`
	Platform []string `short:"p" help:"Target platforms (os/arch)." placeholder:"PLATFORM"`
	NoCache  bool     `help:"Rebuild every layer."`
	Daemon   bool     `help:"Build through the running daemon."`
}

// Executes the build command.
func (c *BuildCmd) Run(ctx context.Context, cfg *settings.Config) error {
	switch {
	case cfg.Backend == settings.BackendDocker:
		return c.runDocker(ctx, cfg)
	case c.Daemon:
		return c.runDaemon(ctx, cfg)
	default:
		return c.runLocal(ctx, cfg)
	}
}

func (c *BuildCmd) runLocal(ctx context.Context, cfg *settings.Config) error {
	bctx, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer bctx.Close()

	rec, err := c.recipe(bctx.Root())
	if err != nil {
		return err
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	store, err := cache.Open(cfg.Cache.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := build.Run(ctx, rt, build.Options{
		Recipe:    rec,
		Context:   bctx,
		Cache:     store,
		NoCache:   c.NoCache,
		Name:      c.Name,
		Output:    c.Output,
		Platforms: c.Platform,
	})
	if err != nil {
		return err
	}

	for _, image := range result.Images {
		fmt.Println(image)
	}
	slog.Info("build complete", "layers_cached", result.Hits, "layers_built", result.Misses)
	return nil
}

func (c *BuildCmd) runDaemon(ctx context.Context, cfg *settings.Config) error {
	bctx, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer bctx.Close()

	req, err := c.request(bctx.Root())
	if err != nil {
		return err
	}

	var res protocol.BuildResult
	if err := client.Call(ctx, cfg.Daemon.Socket, protocol.CmdBuild, req, &res); err != nil {
		return err
	}

	for _, image := range res.Images {
		fmt.Println(image)
	}
	slog.Info("build complete", "layers_cached", res.Hits, "layers_built", res.Misses)
	return nil
}

// Builds a daemon request. Only the recipe is resolved locally; the daemon
// opens or clones the context itself.
func (c *BuildCmd) request(root string) (*protocol.BuildRequest, error) {
	rec, err := c.recipe(root)
	if err != nil {
		return nil, err
	}
	return &protocol.BuildRequest{
		Recipe:    rec,
		Context:   c.contextSource(),
		Name:      c.Name,
		Output:    c.Output,
		Platforms: c.Platform,
		NoCache:   c.NoCache,
	}, nil
}

func (c *BuildCmd) runDocker(ctx context.Context, cfg *settings.Config) error {
	if len(c.Platform) > 1 {
		return fmt.Errorf("%w: the docker backend builds one platform at a time", dockerd.ErrBuildFailed)
	}

	bctx, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer bctx.Close()

	rec, err := c.recipe(bctx.Root())
	if err != nil {
		return err
	}

	backend, err := dockerd.New(cfg.Docker.Host)
	if err != nil {
		return err
	}
	defer backend.Close()

	opts := dockerd.BuildOptions{
		Recipe:  rec,
		Context: bctx,
		Name:    orDefault(c.Name, defaultImage),
		NoCache: c.NoCache,
		Output:  c.Output,
	}
	if len(c.Platform) == 1 {
		opts.Platform = c.Platform[0]
	}
	if slog.Default().Enabled(ctx, slog.LevelInfo) {
		opts.Progress = os.Stderr
	}

	res, err := backend.Build(ctx, opts)
	if err != nil {
		return err
	}

	fmt.Println(res.Image)
	return nil
}

// Represents the 'kiln plan' command.
type PlanCmd struct {
	sourceFlags `embed:""`

	Platform []string `short:"p" help:"Target platforms (os/arch)." placeholder:"PLATFORM"`
	NoCache  bool     `help:"Plan as if the cache were empty."`
	JSON     bool     `help:"Print the plan as JSON."`
	Daemon   bool     `help:"Plan through the running daemon."`
}

// Executes the plan command.
func (c *PlanCmd) Run(ctx context.Context, cfg *settings.Config) error {
	if cfg.Backend == settings.BackendDocker {
		return fmt.Errorf("%w: plan needs the containerd backend", settings.ErrInvalidConfig)
	}

	bctx, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer bctx.Close()

	rec, err := c.recipe(bctx.Root())
	if err != nil {
		return err
	}

	var steps []protocol.PlanStep
	if c.Daemon {
		var res protocol.PlanResult
		req := &protocol.BuildRequest{Recipe: rec, Context: c.contextSource(), Platforms: c.Platform, NoCache: c.NoCache}
		if err := client.Call(ctx, cfg.Daemon.Socket, protocol.CmdPlan, req, &res); err != nil {
			return err
		}
		steps = res.Steps
	} else {
		rt, err := newRuntime(cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		store, err := cache.Open(cfg.Cache.DSN)
		if err != nil {
			return err
		}
		defer store.Close()

		planned, err := build.Plan(ctx, rt, build.Options{
			Recipe:    rec,
			Context:   bctx,
			Cache:     store,
			NoCache:   c.NoCache,
			Platforms: c.Platform,
		})
		if err != nil {
			return err
		}
		for _, st := range planned {
			steps = append(steps, protocol.PlanStep(st))
		}
	}

	if c.JSON {
		return printJSON(os.Stdout, steps)
	}
	return printPlan(os.Stdout, steps)
}

func printPlan(w io.Writer, steps []protocol.PlanStep) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLATFORM\tSTAGE\tSTEP\tCACHE\tKEY\tDESCRIPTION")
	for _, st := range steps {
		state := "miss"
		if st.Cached {
			state = "hit"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", st.Platform, st.Stage, st.Step, state, shortKey(st.Key), st.Description)
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRuntime(cfg *settings.Config) (*runtime.Runtime, error) {
	return runtime.New(cfg.Containerd.Address, cfg.Containerd.Namespace, cfg.Containerd.Snapshotter)
}

// Shortens a digest for display.
func shortKey(key string) string {
	const n = 12
	if i := len("sha256:"); len(key) > i && key[:i] == "sha256:" {
		key = key[i:]
	}
	if len(key) > n {
		return key[:n]
	}
	return key
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
