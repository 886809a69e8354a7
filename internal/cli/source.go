package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cruciblehq/kiln/internal/buildctx"
	"github.com/cruciblehq/kiln/internal/paths"
	"github.com/cruciblehq/kiln/internal/protocol"
	"github.com/cruciblehq/kiln/internal/recipe"
)

// Recipe looked up in the build context when no recipe is named.
const DefaultRecipeFile = "kiln.yaml"

// Selects the build context and the recipe.
//
// The recipe is, in order of preference: the file given with --file, the
// Dockerfile given with --dockerfile, kiln.yaml at the context root, or the
// built-in Django recipe shaped by the remaining flags.
type sourceFlags struct {
	Context    string   `arg:"" optional:"" default:"." help:"Build context directory." type:"path"`
	File       string   `short:"f" help:"Recipe file. Defaults to kiln.yaml in the context when present." placeholder:"PATH" type:"path"`
	Dockerfile string   `help:"Import the recipe from a Dockerfile." placeholder:"PATH" type:"path"`
	Git        string   `help:"Clone the build context from a git repository." placeholder:"URL"`
	Ref        string   `help:"Branch or tag to clone." placeholder:"REF"`
	Base       string   `help:"Base image of the default recipe." default:"python:3.12-slim"`
	Packages   []string `help:"OS packages of the default recipe." default:"postgresql-client"`
	NoPackages bool     `help:"Install no OS packages in the default recipe."`
	Manifest   string   `help:"Dependency manifest of the default recipe." default:"requirements.txt"`
	Port       int      `help:"Service port of the default recipe." default:"8000"`
}

// Opens the build context.
func (f *sourceFlags) open(ctx context.Context) (*buildctx.Context, error) {
	if f.Git != "" {
		return buildctx.Clone(ctx, f.Git, f.Ref, filepath.Join(paths.Cache(), "contexts"))
	}
	return buildctx.Open(f.Context)
}

// Where the daemon finds the build context.
func (f *sourceFlags) contextSource() protocol.ContextSource {
	if f.Git != "" {
		return protocol.ContextSource{URL: f.Git, Ref: f.Ref}
	}
	return protocol.ContextSource{Dir: f.Context}
}

// Loads the recipe for a context rooted at root.
func (f *sourceFlags) recipe(root string) (*recipe.Recipe, error) {
	switch {
	case f.File != "":
		return recipe.Load(f.File)
	case f.Dockerfile != "":
		return importDockerfile(f.Dockerfile)
	}

	path := filepath.Join(root, DefaultRecipeFile)
	if _, err := os.Stat(path); err == nil {
		return recipe.Load(path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %w", recipe.ErrInvalidRecipe, err)
	}

	opts := recipe.DjangoOptions{
		Base:     f.Base,
		Packages: f.Packages,
		Manifest: f.Manifest,
		Port:     f.Port,
	}
	if f.NoPackages {
		opts.Packages = []string{}
	}
	return recipe.Django(opts), nil
}

func importDockerfile(path string) (*recipe.Recipe, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return recipe.ImportDockerfile(file)
}
