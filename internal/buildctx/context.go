package buildctx

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
)

// Ignore files, in order of precedence.
var ignoreFiles = []string{".kilnignore", ".dockerignore"}

// A build context rooted at a directory.
type Context struct {
	root    string                       // Absolute path of the context root.
	matcher *patternmatcher.PatternMatcher // Nil when no ignore file exists.
	owned   bool                         // Root is a clone removed by Close.
}

// Opens a local directory as a build context.
func Open(dir string) (*Context, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContext, err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContext, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrContext, root)
	}

	matcher, err := loadIgnore(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContext, err)
	}

	return &Context{root: root, matcher: matcher}, nil
}

// Shallow-clones a git repository into a fresh directory under parent and
// opens it as a build context. An empty ref clones the default branch.
//
// The clone is removed by [Context.Close].
func Clone(ctx context.Context, url, ref, parent string) (*Context, error) {
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContext, err)
	}

	dir, err := os.MkdirTemp(parent, "context-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContext, err)
	}

	opts := &git.CloneOptions{
		URL:          url,
		Depth:        1,
		SingleBranch: true,
	}
	if ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
	}

	slog.Info("cloning build context", "url", url, "ref", ref)

	if _, err := git.PlainCloneContext(ctx, dir, false, opts); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: clone %s: %w", ErrContext, url, err)
	}

	c, err := Open(dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	c.owned = true
	return c, nil
}

// Releases the context. Cloned contexts are deleted from disk.
func (c *Context) Close() error {
	if !c.owned {
		return nil
	}
	return os.RemoveAll(c.root)
}

// Returns the absolute context root.
func (c *Context) Root() string {
	return c.root
}

// Resolves a copy source to an absolute path inside the context.
//
// Sources are always relative to the context root; a leading slash is
// ignored. Paths that climb out of the root are rejected.
func (c *Context) Resolve(src string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(src, "/")))
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideContext, src)
	}

	abs := filepath.Join(c.root, rel)
	if _, err := os.Lstat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrSourceNotFound, src)
		}
		return "", fmt.Errorf("%w: %w", ErrContext, err)
	}
	return abs, nil
}

// Whether the path, relative to the root, is excluded by the ignore rules.
func (c *Context) Ignored(rel string) (bool, error) {
	if c.matcher == nil {
		return false, nil
	}
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == "." {
		return false, nil
	}
	return c.matcher.MatchesOrParentMatches(rel)
}

// Converts an absolute path inside the context to a root-relative path.
func (c *Context) rel(abs string) (string, error) {
	return filepath.Rel(c.root, abs)
}

// Whether walking can skip an ignored directory entirely. Exclusion
// patterns ("!keep") may re-include descendants, so nothing is skipped then.
func (c *Context) canSkipDir() bool {
	return c.matcher == nil || !c.matcher.Exclusions()
}

// Reads the first ignore file present at root.
func loadIgnore(root string) (*patternmatcher.PatternMatcher, error) {
	for _, name := range ignoreFiles {
		f, err := os.Open(filepath.Join(root, name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		patterns, err := ignorefile.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return patternmatcher.New(patterns)
	}
	return nil, nil
}
