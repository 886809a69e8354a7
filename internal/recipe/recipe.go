package recipe

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Dependency manifest assumed when a recipe does not name one.
const DefaultManifest = "requirements.txt"

// An ordered list of stages.
type Recipe struct {
	Manifest string  `yaml:"manifest,omitempty"` // Dependency manifest, checked by [Recipe.Validate].
	Stages   []Stage `yaml:"stages"`
}

// A build stage backed by a container created from From.
type Stage struct {
	Name      string `yaml:"name,omitempty"`      // Optional, referenced by cross-stage copies.
	From      string `yaml:"from"`                // Image reference or OCI archive path.
	Transient bool   `yaml:"transient,omitempty"` // Transient stages are not exported.
	Steps     []Step `yaml:"steps"`
}

// A single recipe step.
//
// Which fields are set determines what the step does. An operation (Run or
// Copy) combined with modifiers applies the modifiers to that operation only.
// Modifiers without an operation persist for the rest of the stage. A step
// with nested Steps is a group; its modifiers persist and it only applies
// when Platform is empty or matches the platform being built.
type Step struct {
	Run  string `yaml:"run,omitempty"`  // Shell command.
	Copy string `yaml:"copy,omitempty"` // "src dest" or "stage:src dest".

	Env     map[string]string `yaml:"env,omitempty"`
	Workdir string            `yaml:"workdir,omitempty"`
	Shell   string            `yaml:"shell,omitempty"`

	Expose     []string `yaml:"expose,omitempty"` // "8000" or "8000/tcp".
	Cmd        []string `yaml:"cmd,omitempty"`
	Entrypoint []string `yaml:"entrypoint,omitempty"`

	Platform string `yaml:"platform,omitempty"` // Restricts a group to one platform.
	Steps    []Step `yaml:"steps,omitempty"`
}

// Kind of base image source.
type SourceKind int

const (
	SourceRegistry SourceKind = iota // Pulled from a registry.
	SourceArchive                    // Imported from a local OCI archive.
)

// A resolved stage base.
type Source struct {
	Kind  SourceKind
	Value string // Reference or archive path.
}

// Reads and decodes a recipe file.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Decodes a YAML recipe. Unknown fields are rejected.
func Parse(data []byte) (*Recipe, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var r Recipe
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
	}
	return &r, nil
}

// Encodes the recipe as YAML.
func (r *Recipe) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Returns the configured dependency manifest, or [DefaultManifest].
func (r *Recipe) ManifestName() string {
	if r.Manifest != "" {
		return r.Manifest
	}
	return DefaultManifest
}

// Returns the index of the exported (non-transient) stage, or -1.
func (r *Recipe) Output() int {
	for i, s := range r.Stages {
		if !s.Transient {
			return i
		}
	}
	return -1
}

// Classifies the stage base.
//
// A "file:" prefix or a ".tar" suffix selects an OCI archive; anything else
// is a registry reference.
func (s Stage) ParseFrom() (Source, error) {
	from := strings.TrimSpace(s.From)
	switch {
	case from == "":
		return Source{}, fmt.Errorf("%w: stage has no base image", ErrInvalidRecipe)
	case strings.HasPrefix(from, "file:"):
		return Source{Kind: SourceArchive, Value: strings.TrimPrefix(from, "file:")}, nil
	case strings.HasSuffix(from, ".tar"):
		return Source{Kind: SourceArchive, Value: from}, nil
	default:
		return Source{Kind: SourceRegistry, Value: from}, nil
	}
}

// Returns a label for the stage at index, preferring its name.
func (s Stage) Label(index int) string {
	if s.Name != "" {
		return fmt.Sprintf("%q", s.Name)
	}
	return fmt.Sprintf("%d", index+1)
}

// Whether the step runs a command or copies files.
func (s Step) IsOperation() bool {
	return s.Run != "" || s.Copy != ""
}

// Whether the step is a group of nested steps.
func (s Step) IsGroup() bool {
	return len(s.Steps) > 0
}

// Whether a group applies to the given platform.
func (s Step) Matches(platform string) bool {
	return s.Platform == "" || s.Platform == platform
}

// Splits a copy string into its source and destination tokens.
func SplitCopy(s string) (src, dest string, err error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("expected source and destination, got %q", s)
	}
	return parts[0], parts[1], nil
}

// Resolves a workdir against the current one. Relative paths are relative
// to the current workdir, or to "/" when none is set.
func JoinWorkdir(current, next string) string {
	if path.IsAbs(next) {
		return path.Clean(next)
	}
	if current == "" {
		current = "/"
	}
	return path.Join(current, next)
}

// Splits a cross-stage copy source of the form "stage:path".
//
// Returns false for host paths. A colon after a path separator is not a
// stage prefix (e.g. "/foo:bar").
func SplitStageSource(src string) (stage, path string, ok bool) {
	i := strings.IndexByte(src, ':')
	if i < 1 {
		return "", "", false
	}
	if strings.ContainsRune(src[:i], '/') {
		return "", "", false
	}
	return src[:i], src[i+1:], true
}
