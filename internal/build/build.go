package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cruciblehq/kiln/internal/buildctx"
	"github.com/cruciblehq/kiln/internal/cache"
	"github.com/cruciblehq/kiln/internal/metrics"
	"github.com/cruciblehq/kiln/internal/paths"
	"github.com/cruciblehq/kiln/internal/recipe"
	"github.com/cruciblehq/kiln/internal/runtime"
)

// Controls recipe execution.
type Options struct {
	Recipe    *recipe.Recipe    // Recipe to execute.
	Context   *buildctx.Context // Build context, for resolving copy sources.
	Cache     *cache.Store      // Layer cache index. Nil disables caching.
	NoCache   bool              // Rebuild every layer, still recording the results.
	Resource  string            // Resource name, used as a prefix for container IDs.
	Name      string            // Reference annotation for the exported image.
	Output    string            // Directory for the exported image.
	Platforms []string          // Target platforms (e.g., ["linux/amd64"]). Defaults to host.
}

// Returned after successful recipe execution.
type Result struct {
	Output string   // Directory containing the exported image.
	Images []string // Paths of the exported archives, one per platform.
	Hits   int      // Layers reused from the cache.
	Misses int      // Layers built.
}

// A layer step as it would run.
type PlannedStep struct {
	Platform    string `json:"platform"`
	Stage       string `json:"stage"`
	Step        string `json:"step"`
	Description string `json:"description"`
	Key         string `json:"key"`
	Cached      bool   `json:"cached"`
}

// Executes a recipe against the container runtime.
//
// Stages are built in declaration order. Each layer step of a stage either
// reuses a cached layer or runs in a fresh container on top of the previous
// layer and is committed. The non-transient stage is exported as the final
// image to the output directory.
func Run(ctx context.Context, rt *runtime.Runtime, opts Options) (*Result, error) {
	if err := prepare(&opts); err != nil {
		return nil, err
	}

	slog.Info("executing recipe",
		"resource", opts.Resource,
		"output", opts.Output,
		"stages", len(opts.Recipe.Stages),
		"platforms", opts.Platforms,
	)

	if err := os.MkdirAll(opts.Output, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}

	ctx, done, err := rt.WithLease(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}
	defer done(context.Background())

	start := time.Now()
	result, err := newBuilder(rt, opts).build(ctx)
	metrics.ObserveBuild(time.Since(start), err)
	return result, err
}

// Computes every layer step's cache key and reports whether it would be
// reused, without running anything. Stage bases are still resolved, since
// their chain IDs root the keys.
func Plan(ctx context.Context, rt *runtime.Runtime, opts Options) ([]PlannedStep, error) {
	if err := prepare(&opts); err != nil {
		return nil, err
	}
	return newBuilder(rt, opts).plan(ctx)
}

func prepare(opts *Options) error {
	if opts.Recipe == nil {
		return fmt.Errorf("%w: no recipe", ErrBuild)
	}
	if opts.Context == nil {
		return fmt.Errorf("%w: no build context", ErrBuild)
	}
	if err := opts.Recipe.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrBuild, err)
	}
	if len(opts.Platforms) == 0 {
		opts.Platforms = []string{runtime.DefaultPlatform()}
	}
	if opts.Resource == "" {
		opts.Resource = "kiln"
	}
	if opts.Name == "" {
		opts.Name = "kiln.local/" + opts.Resource + ":latest"
	}
	return nil
}

// Whether err comes from a failing run step, and its exit code.
func ExitCode(err error) (int, bool) {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode, true
	}
	return 0, false
}
