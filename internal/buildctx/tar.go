package buildctx

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Writes a copy source to a tar stream.
//
// A file is written as a single entry called name. A directory's non-ignored
// contents are written under the prefix name ("." places them at the
// archive root).
func (c *Context) WriteTar(tw *tar.Writer, src, name string) error {
	abs, err := c.Resolve(src)
	if err != nil {
		return err
	}

	err = c.walk(abs, func(path, rel string, info fs.FileInfo) error {
		archivePath := filepath.ToSlash(filepath.Join(name, rel))
		if info.IsDir() && archivePath == "." {
			return nil
		}
		return writeTarEntry(tw, path, archivePath, info)
	})
	if err != nil {
		return fmt.Errorf("%w: archive %s: %w", ErrContext, src, err)
	}
	return nil
}

// Writes the whole context as a tar stream, plus extra in-memory files
// (e.g. a generated Dockerfile) at the archive root. The writer is closed.
func (c *Context) Tar(w io.Writer, extra map[string][]byte) error {
	tw := tar.NewWriter(w)

	if err := c.WriteTar(tw, ".", "."); err != nil {
		return err
	}

	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		data := extra[name]
		header := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(data)),
			ModTime: time.Unix(0, 0),
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if _, err := tw.Write(data); err != nil {
			return err
		}
	}

	return tw.Close()
}

// Writes a single file, directory or symlink entry.
func writeTarEntry(tw *tar.Writer, hostPath, archivePath string, info fs.FileInfo) error {
	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(hostPath)
		if err != nil {
			return err
		}
		link = target
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	header.Name = archivePath
	if info.IsDir() {
		header.Name += "/"
	}

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}
