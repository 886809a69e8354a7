package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/identity"

	"github.com/cruciblehq/kiln/internal/recipe"
)

// An unpacked image selected for one platform.
type Image struct {
	Name     string        // Containerd image name.
	Platform string        // Platform whose manifest was selected.
	ChainID  digest.Digest // Chain ID of the unpacked rootfs, the parent of the first layer.

	image containerd.Image
}

func newImage(ctx context.Context, img containerd.Image, platform string) (*Image, error) {
	diffIDs, err := img.RootFS(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	return &Image{
		Name:     img.Name(),
		Platform: platform,
		ChainID:  identity.ChainID(diffIDs),
		image:    img,
	}, nil
}

// Resolves a stage base to an unpacked image.
//
// Registry references are pulled. Archives are imported under a tag derived
// from their path.
func (rt *Runtime) Base(ctx context.Context, src recipe.Source, platform string) (*Image, error) {
	if src.Kind == recipe.SourceRegistry {
		return rt.Pull(ctx, src.Value, platform)
	}

	tag := imageTag(src.Value)
	if err := rt.importTagged(ctx, src.Value, tag, platform); err != nil {
		return nil, err
	}

	img, err := rt.resolveImage(ctx, tag, platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return newImage(ctx, img, platform)
}

// Imports an OCI archive, tags it under the given name, and unpacks it for
// the host platform.
func (rt *Runtime) ImportImage(ctx context.Context, path, tag string) error {
	if err := rt.importTagged(ctx, path, tag, DefaultPlatform()); err != nil {
		return err
	}
	slog.Debug("image imported", "tag", tag)
	return nil
}

func (rt *Runtime) importTagged(ctx context.Context, path, tag, platform string) error {
	source, err := rt.importArchive(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: import %s: %w", ErrRuntime, path, err)
	}

	if err := rt.tagImage(ctx, source, tag); err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	img, err := rt.resolveImage(ctx, tag, platform)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := img.Unpack(ctx, rt.snapshotter); err != nil {
		return fmt.Errorf("%w: unpack %s: %w", ErrRuntime, tag, err)
	}
	return nil
}

// Imports an OCI archive into the content store.
//
// The archive must contain exactly one image. A multi-platform image is a
// single index entry; the platform is selected later by resolveImage.
func (rt *Runtime) importArchive(ctx context.Context, path string) (images.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return images.Image{}, err
	}
	defer fh.Close()

	imported, err := rt.client.Import(ctx, fh)
	if err != nil {
		return images.Image{}, err
	}

	switch len(imported) {
	case 0:
		return images.Image{}, ErrEmptyArchive
	case 1:
		return imported[0], nil
	default:
		return images.Image{}, ErrMultipleImages
	}
}

// Points tag at the imported image, creating or updating the record. The
// source record is dropped when its name differs from the tag.
func (rt *Runtime) tagImage(ctx context.Context, source images.Image, tag string) error {
	is := rt.client.ImageService()

	img := images.Image{
		Name:   tag,
		Target: source.Target,
	}

	if _, err := is.Create(ctx, img); err != nil {
		if !errdefs.IsAlreadyExists(err) {
			return err
		}
		if _, err := is.Update(ctx, img, "target"); err != nil {
			return err
		}
	}

	if source.Name != tag {
		_ = is.Delete(ctx, source.Name)
	}

	return nil
}

// Looks up a tagged image and selects the manifest for the given platform.
func (rt *Runtime) resolveImage(ctx context.Context, tag, platform string) (containerd.Image, error) {
	p, err := platforms.Parse(platform)
	if err != nil {
		return nil, err
	}

	img, err := rt.client.ImageService().Get(ctx, tag)
	if err != nil {
		return nil, err
	}

	return containerd.NewImageWithPlatform(rt.client, img, platforms.Only(p)), nil
}
