package dockerd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/cruciblehq/kiln/internal/buildctx"
	"github.com/cruciblehq/kiln/internal/logging"
	"github.com/cruciblehq/kiln/internal/paths"
	"github.com/cruciblehq/kiln/internal/recipe"
)

// Name of the rendered Dockerfile inside the build context.
const Dockerfile = ".kiln.Dockerfile"

// Name of the saved image inside the output directory.
const ExportFilename = "image.tar"

// Controls a Docker build.
type BuildOptions struct {
	Recipe   *recipe.Recipe
	Context  *buildctx.Context
	Name     string    // Image tag.
	Platform string    // Target platform; the daemon's when empty.
	NoCache  bool      // Ignore the daemon's build cache.
	Output   string    // When set, the image is also saved to Output/image.tar.
	Progress io.Writer // Receives the daemon's build output; nil discards.
}

// Returned after a successful Docker build.
type BuildResult struct {
	Image   string // Tag of the built image.
	ID      string // Image ID reported by the daemon.
	Archive string // Path of the saved image, when an output was requested.
}

// Renders the recipe to a Dockerfile and builds it with the daemon.
//
// Archive bases are rejected since the daemon only resolves references. The
// output stage becomes the build target, so transient stages after it are
// not built. Errors reported in the build stream are returned as
// [ErrBuildFailed].
func (b *Backend) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	if err := checkRecipe(opts.Recipe); err != nil {
		return nil, err
	}
	if opts.Context == nil {
		return nil, fmt.Errorf("%w: no build context", ErrBuildFailed)
	}

	dockerfile := recipe.RenderDockerfile(opts.Recipe, opts.Platform)
	slog.Debug("rendered dockerfile", "content", string(dockerfile))

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(opts.Context.Tar(pw, map[string][]byte{Dockerfile: dockerfile}))
	}()
	defer pr.Close()

	resp, err := b.cli.ImageBuild(ctx, pr, buildOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}
	defer resp.Body.Close()

	res := &BuildResult{Image: opts.Name}
	if err := displayStream(resp.Body, opts.Progress, res); err != nil {
		return nil, err
	}

	slog.Info("image built", "image", res.Image, "id", res.ID)

	if opts.Output != "" {
		archive, err := b.save(ctx, opts.Name, opts.Output)
		if err != nil {
			return nil, err
		}
		res.Archive = archive
	}
	return res, nil
}

// Validates the recipe and rejects stage bases the daemon cannot resolve.
func checkRecipe(r *recipe.Recipe) error {
	if r == nil {
		return fmt.Errorf("%w: no recipe", ErrBuildFailed)
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}
	for i, stage := range r.Stages {
		src, err := stage.ParseFrom()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBuildFailed, err)
		}
		if src.Kind == recipe.SourceArchive {
			return fmt.Errorf("%w: stage %s is based on archive %s", ErrUnsupportedBase, stage.Label(i), src.Value)
		}
	}
	if r.Output() < 0 {
		return ErrNoOutputStage
	}
	return nil
}

func buildOptions(opts BuildOptions) build.ImageBuildOptions {
	out := opts.Recipe.Output()
	return build.ImageBuildOptions{
		Tags:        []string{opts.Name},
		Dockerfile:  Dockerfile,
		Target:      recipe.StageAlias(opts.Recipe.Stages[out], out),
		Platform:    opts.Platform,
		NoCache:     opts.NoCache,
		Remove:      true,
		ForceRemove: true,
	}
}

// Copies the build stream to w and picks up the image ID from the aux
// messages. The first error message of the stream is returned.
func displayStream(r io.Reader, w io.Writer, res *BuildResult) error {
	if w == nil {
		w = io.Discard
	}

	aux := func(msg jsonmessage.JSONMessage) {
		if msg.Aux == nil {
			return
		}
		var id struct {
			ID string `json:"ID"`
		}
		if err := json.Unmarshal(*msg.Aux, &id); err == nil && id.ID != "" {
			res.ID = id.ID
		}
	}

	var fd uintptr
	var term bool
	if f, ok := w.(*os.File); ok && logging.IsTerminal(f) {
		fd, term = f.Fd(), true
	}

	if err := jsonmessage.DisplayJSONMessagesStream(r, w, fd, term, aux); err != nil {
		return fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}
	return nil
}

// Saves the image to dir and returns the archive path.
func (b *Backend) save(ctx context.Context, name, dir string) (string, error) {
	if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDocker, err)
	}

	rc, err := b.cli.ImageSave(ctx, []string{name})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDocker, err)
	}
	defer rc.Close()

	path := filepath.Join(dir, ExportFilename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, paths.DefaultFileMode)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDocker, err)
	}

	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return "", fmt.Errorf("%w: %w", ErrDocker, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDocker, err)
	}

	slog.Info("image saved", "image", name, "path", path)
	return path, nil
}
