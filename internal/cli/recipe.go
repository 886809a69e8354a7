package cli

import (
	"context"
	"os"

	"github.com/cruciblehq/kiln/internal/paths"
	"github.com/cruciblehq/kiln/internal/recipe"
	"github.com/cruciblehq/kiln/internal/settings"
)

// Represents the 'kiln render' command.
type RenderCmd struct {
	sourceFlags `embed:""`

	Platform string `short:"p" help:"Platform whose groups are rendered." placeholder:"PLATFORM"`
	Output   string `short:"o" help:"Write to a file instead of stdout." placeholder:"PATH" type:"path"`
}

// Executes the render command.
func (c *RenderCmd) Run(ctx context.Context, cfg *settings.Config) error {
	rec, err := c.recipe(c.Context)
	if err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	return writeOutput(c.Output, recipe.RenderDockerfile(rec, c.Platform))
}

// Represents the 'kiln import' command.
type ImportCmd struct {
	Dockerfile string `arg:"" help:"Dockerfile to convert." type:"existingfile"`
	Output     string `short:"o" help:"Write to a file instead of stdout." placeholder:"PATH" type:"path"`
}

// Executes the import command.
func (c *ImportCmd) Run(ctx context.Context, cfg *settings.Config) error {
	rec, err := importDockerfile(c.Dockerfile)
	if err != nil {
		return err
	}
	data, err := rec.Marshal()
	if err != nil {
		return err
	}
	return writeOutput(c.Output, data)
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, paths.DefaultFileMode)
}
