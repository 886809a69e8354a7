package build

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/cruciblehq/kiln/internal/recipe"
	"github.com/cruciblehq/kiln/internal/runtime"
)

// Executes a copy operation, transferring files into the container.
//
// The copy string has the format "src dest" for context copies, or
// "stage:src dest" for cross-stage copies. Context sources are resolved
// relative to the build context root and honour its ignore rules.
// Cross-stage sources are read from the named stage's final filesystem.
//
// A directory source copies its contents into dest. A file source lands at
// dest, or inside it when dest is a directory.
func (b *builder) executeCopy(ctx context.Context, ctr *runtime.Container, copyStr, workdir, platform string, stages map[string]*stageResult) error {
	src, dest, dirDest, err := parseCopy(copyStr, workdir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	if stage, srcPath, ok := recipe.SplitStageSource(src); ok {
		return b.executeStageCopy(ctx, ctr, stages, stage, srcPath, dest, dirDest, platform)
	}

	return b.executeContextCopy(ctx, ctr, src, dest, dirDest)
}

// Copies a file or directory from the build context into the container.
func (b *builder) executeContextCopy(ctx context.Context, ctr *runtime.Container, src, dest string, dirDest bool) error {
	abs, err := b.context.Resolve(src)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	// Directory contents go into dest; a file is written as one entry.
	extractDir, name := dest, "."
	if !info.IsDir() {
		target := dest
		if dirDest {
			target = path.Join(dest, path.Base(abs))
		}
		extractDir, name = path.Dir(target), path.Base(target)
	}

	slog.Debug("copy", "src", src, "dest", dest, "dir", info.IsDir())

	if err := ctr.MkdirAll(ctx, extractDir); err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	pr, pw := io.Pipe()
	go func() {
		tw := tar.NewWriter(pw)
		writeErr := b.context.WriteTar(tw, src, name)
		if closeErr := tw.Close(); writeErr == nil {
			writeErr = closeErr
		}
		pw.CloseWithError(writeErr)
	}()

	if err := ctr.CopyTo(ctx, pr, extractDir); err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	return nil
}

// Copies a path from a built stage into the target container.
//
// A short-lived container is started on the source stage's final snapshot.
// Its tar stream is renamed on the way through so that the entries land at
// dest.
func (b *builder) executeStageCopy(ctx context.Context, ctr *runtime.Container, stages map[string]*stageResult, stage, srcPath, dest string, dirDest bool, platform string) error {
	from, ok := stages[stage]
	if !ok {
		return fmt.Errorf("%w: unknown stage %q", ErrCopy, stage)
	}

	slog.Debug("cross-stage copy", "stage", stage, "src", srcPath, "dest", dest)

	srcCtr, err := b.rt.StartLayer(ctx, ctr.ID()+"-from-"+stage, from.base, from.snapshot)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}
	defer srcCtr.Destroy(context.WithoutCancel(ctx))

	extractDir, name := splitDest(dest)
	if err := ctr.MkdirAll(ctx, extractDir); err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	raw, rawW := io.Pipe()
	renamed, renamedW := io.Pipe()

	errc := make(chan error, 2)
	go func() {
		err := srcCtr.CopyFrom(ctx, rawW, srcPath)
		rawW.CloseWithError(err)
		errc <- err
	}()
	go func() {
		err := retarget(raw, renamedW, path.Base(path.Clean(srcPath)), name, dirDest)
		raw.CloseWithError(err)
		renamedW.CloseWithError(err)
		errc <- err
	}()

	if err := ctr.CopyTo(ctx, renamed, extractDir); err != nil {
		renamed.CloseWithError(err)
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	for range 2 {
		if err := <-errc; err != nil {
			return fmt.Errorf("%w: %w", ErrCopy, err)
		}
	}
	return nil
}

// Rewrites a tar stream produced by "tar cf - -C dir base" so that it
// extracts to name inside the destination's parent directory.
//
// A directory source is renamed to name, so its contents fill dest. A file
// source becomes name, or name/base when dest is a directory.
func retarget(r io.Reader, w io.Writer, base, name string, dirDest bool) error {
	tr := tar.NewReader(r)
	tw := tar.NewWriter(w)

	prefix := ""
	first := true

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		if first {
			first = false
			prefix = name
			if header.Typeflag != tar.TypeDir && dirDest {
				prefix = path.Join(name, base)
			}
			if prefix == "" && header.Typeflag != tar.TypeDir {
				return fmt.Errorf("cannot copy file %q to /", base)
			}
		}

		rel := strings.TrimPrefix(strings.TrimPrefix(header.Name, "./"), base)
		header.Name = strings.TrimPrefix(path.Join(prefix, rel), "/")
		if header.Name == "" || header.Name == "." {
			continue
		}
		if header.Typeflag == tar.TypeDir {
			header.Name += "/"
		}

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if _, err := io.Copy(tw, tr); err != nil {
			return err
		}
	}

	return tw.Close()
}

// Splits a destination into the directory tar extracts in and the entry
// name within it. The root has no name.
func splitDest(dest string) (dir, name string) {
	clean := path.Clean(dest)
	if clean == "/" {
		return "/", ""
	}
	return path.Dir(clean), path.Base(clean)
}

// Parses a copy string into source and destination paths.
//
// A relative dest is joined with workdir. A dest ending in "/" or equal to
// "." names a directory.
func parseCopy(s, workdir string) (src, dest string, dirDest bool, err error) {
	src, dest, err = recipe.SplitCopy(s)
	if err != nil {
		return "", "", false, err
	}

	dirDest = strings.HasSuffix(dest, "/") || dest == "." || strings.HasSuffix(dest, "/.")

	if !path.IsAbs(dest) {
		if workdir == "" {
			return "", "", false, fmt.Errorf("relative dest %q requires workdir", dest)
		}
		dest = path.Join(workdir, dest)
	}

	return src, path.Clean(dest), dirDest, nil
}
