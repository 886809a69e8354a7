package build

import (
	"io"

	"github.com/opencontainers/go-digest"
)

// Version of the cache key derivation. Changing how keys are computed
// requires bumping it so that old entries stop matching.
const keyVersion = "kiln-layer-v1"

// Inputs that determine a layer's content.
type keyInput struct {
	parent   string   // Parent layer key, or the base image chain ID.
	platform string   // Target platform.
	kind     string   // "run" or "copy".
	spec     string   // Command, or the copy string.
	source   string   // Content digest of the copy source.
	shell    string   // Effective shell.
	workdir  string   // Effective working directory.
	env      []string // Effective environment, sorted.
}

// Derives the cache key of a layer step.
//
// Fields are NUL-separated so that no two different inputs share an
// encoding.
func layerKey(in keyInput) string {
	d := digest.Canonical.Digester()
	h := d.Hash()

	for _, field := range []string{keyVersion, in.parent, in.platform, in.kind, in.spec, in.source, in.shell, in.workdir} {
		io.WriteString(h, field)
		h.Write([]byte{0})
	}
	for _, kv := range in.env {
		io.WriteString(h, kv)
		h.Write([]byte{0})
	}

	return d.Digest().String()
}

// Returns the snapshot name that holds the layer for key.
func snapshotName(key string) string {
	return "kiln-layer-" + digest.Digest(key).Encoded()
}
