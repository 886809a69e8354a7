package buildctx

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
)

// Computes a content digest of a copy source.
//
// The digest covers every non-ignored entry's relative path, file mode and
// content (or link target), in lexical order. Modification times and
// ownership are not included, so touching a file without changing it keeps
// the digest.
func (c *Context) Digest(src string) (digest.Digest, error) {
	abs, err := c.Resolve(src)
	if err != nil {
		return "", err
	}

	d := digest.Canonical.Digester()
	h := d.Hash()

	err = c.walk(abs, func(path, rel string, info fs.FileInfo) error {
		fmt.Fprintf(h, "%s\x00%o\x00", filepath.ToSlash(rel), info.Mode())

		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			io.WriteString(h, target)

		case info.Mode().IsRegular():
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			if _, err := io.Copy(h, f); err != nil {
				return err
			}
		}

		h.Write([]byte{0})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: digest %s: %w", ErrContext, src, err)
	}

	return d.Digest(), nil
}

// Visits abs and, for directories, every non-ignored descendant in lexical
// order. rel is the path relative to abs ("." for abs itself).
func (c *Context) walk(abs string, fn func(path, rel string, info fs.FileInfo) error) error {
	return filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rootRel, err := c.rel(path)
		if err != nil {
			return err
		}
		ignored, err := c.Ignored(rootRel)
		if err != nil {
			return err
		}
		if ignored && path != abs {
			if d.IsDir() && c.canSkipDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(abs, path)
		if err != nil {
			return err
		}
		return fn(path, rel, info)
	})
}
