package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/cruciblehq/kiln/internal/buildctx"
	"github.com/cruciblehq/kiln/internal/cache"
	"github.com/cruciblehq/kiln/internal/metrics"
	"github.com/cruciblehq/kiln/internal/paths"
	"github.com/cruciblehq/kiln/internal/recipe"
	"github.com/cruciblehq/kiln/internal/runtime"
)

// Holds shared state for building all stages of a recipe.
type builder struct {
	rt         *runtime.Runtime     // Container runtime for image and container operations.
	cache      *cache.Store         // Layer index, nil when caching is off.
	noCache    bool                 // Skip lookups.
	recipe     *recipe.Recipe       // Recipe being built.
	context    *buildctx.Context    // Root for resolving copy sources.
	resource   string               // Resource name, used as a prefix for container IDs.
	buildID    string               // Distinguishes this build's containers from concurrent builds.
	name       string               // Reference annotation for exported images.
	output     string               // Output directory for the final build artifact.
	platforms  []string             // Target platforms to build for.
	containers []*runtime.Container // Every container started, destroyed after the build completes.
	hits       int
	misses     int
}

// A built stage, the source of cross-stage copies.
type stageResult struct {
	base     *runtime.Image
	snapshot string // Final committed snapshot, or the base chain ID.
	key      string // Final layer key.
}

// Creates a new [builder] from the given options.
func newBuilder(rt *runtime.Runtime, opts Options) *builder {
	return &builder{
		rt:        rt,
		cache:     opts.Cache,
		noCache:   opts.NoCache,
		recipe:    opts.Recipe,
		context:   opts.Context,
		resource:  opts.Resource,
		buildID:   uuid.NewString()[:8],
		name:      opts.Name,
		output:    opts.Output,
		platforms: opts.Platforms,
	}
}

// Builds the recipe end-to-end against the container runtime.
//
// Each target platform is built independently. Stages are built in
// declaration order for each platform. Every container is destroyed when
// the build completes.
func (b *builder) build(ctx context.Context) (*Result, error) {
	defer b.destroyContainers(context.WithoutCancel(ctx))

	result := &Result{Output: b.output}
	for _, platform := range b.platforms {
		image, err := b.buildPlatform(ctx, platform)
		if err != nil {
			return nil, err
		}
		result.Images = append(result.Images, image)
	}

	result.Hits, result.Misses = b.hits, b.misses
	slog.Info("build complete", "images", result.Images, "cached", b.hits, "built", b.misses)
	return result, nil
}

// Builds all stages of the recipe for a single platform and returns the
// path of the exported archive.
func (b *builder) buildPlatform(ctx context.Context, platform string) (string, error) {
	slog.Info("building platform", "platform", platform)

	output := b.platformOutput(platform)
	if err := os.MkdirAll(output, paths.DefaultDirMode); err != nil {
		return "", fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}

	stages := make(map[string]*stageResult)
	var image string

	for i, stage := range b.recipe.Stages {
		path, err := b.buildStage(ctx, stage, i, platform, output, stages)
		if err != nil {
			return "", fmt.Errorf("%w: platform %s, stage %s: %w", ErrBuild, platform, stage.Label(i), err)
		}
		if path != "" {
			image = path
		}
	}

	return image, nil
}

// Builds a single stage of a recipe for a specific platform.
//
// Resolves the stage's base image, plans its layer steps, then reuses or
// builds each layer in order. A non-transient stage is exported and the
// archive path returned.
func (b *builder) buildStage(ctx context.Context, stage recipe.Stage, index int, platform, output string, stages map[string]*stageResult) (string, error) {
	slog.Info("building stage", "stage", stage.Label(index), "from", stage.From, "platform", platform)

	base, plan, err := b.resolveStage(ctx, stage, platform, stages)
	if err != nil {
		return "", err
	}

	parent := base.ChainID.String()
	layers := make([]runtime.Layer, 0, len(plan.ops))

	for _, op := range plan.ops {
		layer, err := b.buildLayer(ctx, stage, index, base, parent, op, platform, stages)
		if err != nil {
			return "", fmt.Errorf("step %s: %w", op.index, err)
		}
		layers = append(layers, *layer)
		parent = layer.Snapshot
	}

	if stage.Name != "" {
		stages[stage.Name] = &stageResult{base: base, snapshot: parent, key: plan.key}
	}

	if stage.Transient {
		return "", nil
	}

	return b.rt.Export(ctx, runtime.ExportRequest{
		Base:   base,
		Layers: layers,
		Config: plan.final.imageConfig(),
		Name:   b.name,
		Output: output,
	})
}

// Resolves the stage base and plans its steps.
func (b *builder) resolveStage(ctx context.Context, stage recipe.Stage, platform string, stages map[string]*stageResult) (*runtime.Image, *stagePlan, error) {
	src, err := stage.ParseFrom()
	if err != nil {
		return nil, nil, err
	}
	if src.Kind == recipe.SourceArchive && !filepath.IsAbs(src.Value) {
		src.Value = filepath.Join(b.context.Root(), src.Value)
	}

	base, err := b.rt.Base(ctx, src, platform)
	if err != nil {
		return nil, nil, err
	}

	stageKeys := make(map[string]string, len(stages))
	for name, s := range stages {
		stageKeys[name] = s.key
	}

	plan, err := b.planStage(stage, platform, base.ChainID.String(), stageKeys)
	if err != nil {
		return nil, nil, err
	}
	return base, plan, nil
}

// Reuses the cached layer for op or builds and commits it.
func (b *builder) buildLayer(ctx context.Context, stage recipe.Stage, index int, base *runtime.Image, parent string, op layerOp, platform string, stages map[string]*stageResult) (*runtime.Layer, error) {
	if layer, ok := b.lookup(ctx, op.key); ok {
		b.hits++
		metrics.LayerCacheResult(true)
		slog.Info("using cached layer", "step", op.index, "description", op.description)
		return layer, nil
	}

	b.misses++
	metrics.LayerCacheResult(false)
	slog.Info("building layer", "step", op.index, "description", op.description)

	ctr, err := b.rt.StartLayer(ctx, b.containerID(stage.Name, index, platform), base, parent)
	if err != nil {
		return nil, err
	}
	b.containers = append(b.containers, ctr)

	if err := b.executeOperation(ctx, ctr, op, platform, stages); err != nil {
		return nil, err
	}

	layer, err := ctr.Commit(ctx, snapshotName(op.key), op.description)
	if err != nil {
		return nil, err
	}

	b.record(ctx, op, platform, layer)
	return layer, nil
}

// Returns the cached layer for key if both its index entry and its
// snapshot and blob still exist. Stale entries are dropped.
func (b *builder) lookup(ctx context.Context, key string) (*runtime.Layer, bool) {
	if b.cache == nil || b.noCache {
		return nil, false
	}

	entry, err := b.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			slog.Warn("layer cache lookup failed", "key", key, "error", err)
		}
		return nil, false
	}

	if !b.rt.HasLayer(ctx, entry.Snapshot, entry.Layer.Digest) {
		slog.Debug("cached layer missing from runtime", "key", key, "snapshot", entry.Snapshot)
		b.cache.Delete(ctx, key)
		return nil, false
	}

	if err := b.cache.Touch(ctx, key); err != nil {
		slog.Warn("layer cache touch failed", "key", key, "error", err)
	}

	return &runtime.Layer{
		Descriptor: entry.Layer,
		DiffID:     entry.DiffID,
		Snapshot:   entry.Snapshot,
		CreatedBy:  entry.Description,
	}, true
}

// Records a built layer in the cache. Failures only cost a future rebuild.
func (b *builder) record(ctx context.Context, op layerOp, platform string, layer *runtime.Layer) {
	if b.cache == nil {
		return
	}
	err := b.cache.Put(ctx, cache.Entry{
		Key:         op.key,
		Parent:      op.parentKey,
		Snapshot:    layer.Snapshot,
		Platform:    platform,
		Description: op.description,
		Layer:       layer.Descriptor,
		DiffID:      layer.DiffID,
	})
	if err != nil {
		slog.Warn("layer cache write failed", "key", op.key, "error", err)
	}
}

// Plans every stage for every platform and reports cache status.
func (b *builder) plan(ctx context.Context) ([]PlannedStep, error) {
	var planned []PlannedStep

	for _, platform := range b.platforms {
		stages := make(map[string]*stageResult)

		for i, stage := range b.recipe.Stages {
			base, plan, err := b.resolveStage(ctx, stage, platform, stages)
			if err != nil {
				return nil, fmt.Errorf("%w: platform %s, stage %s: %w", ErrBuild, platform, stage.Label(i), err)
			}

			for _, op := range plan.ops {
				_, cached := b.peek(ctx, op.key)
				planned = append(planned, PlannedStep{
					Platform:    platform,
					Stage:       recipe.StageAlias(stage, i),
					Step:        op.index,
					Description: op.description,
					Key:         op.key,
					Cached:      cached,
				})
			}

			if stage.Name != "" {
				stages[stage.Name] = &stageResult{base: base, key: plan.key}
			}
		}
	}

	return planned, nil
}

// Like lookup, without side effects on the index.
func (b *builder) peek(ctx context.Context, key string) (*cache.Entry, bool) {
	if b.cache == nil || b.noCache {
		return nil, false
	}
	entry, err := b.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	return entry, b.rt.HasLayer(ctx, entry.Snapshot, entry.Layer.Digest)
}

// Destroys all tracked containers.
func (b *builder) destroyContainers(ctx context.Context) {
	for _, ctr := range b.containers {
		ctr.Destroy(ctx)
	}
}

// Returns a container ID for a stage, scoped to this build and platform.
// Layer containers of a stage run one at a time and share it.
func (b *builder) containerID(name string, index int, platform string) string {
	prefix := b.resource + "-" + b.buildID + "-" + platformSlug(platform)
	if name != "" {
		return prefix + "-stage-" + name
	}
	return fmt.Sprintf("%s-stage-%d", prefix, index+1)
}

// Returns the output directory for a specific platform.
//
// A single-platform build writes {output}/image.tar. Multi-platform builds
// get a subdirectory per platform (e.g., {output}/linux-amd64).
func (b *builder) platformOutput(platform string) string {
	if len(b.platforms) == 1 {
		return b.output
	}
	return filepath.Join(b.output, platformSlug(platform))
}

// Converts a platform string to a filesystem-safe slug.
func platformSlug(platform string) string {
	return strings.ReplaceAll(platform, "/", "-")
}
