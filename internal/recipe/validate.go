package recipe

import (
	"fmt"
	"path"
	"strings"

	"github.com/docker/go-connections/nat"
)

// Checks the recipe's structure and the dependency layer ordering.
//
// The ordering rule keeps the dependency install cacheable: within a stage,
// copying the whole build context (".") must not precede copying the
// dependency manifest, nor a command that reads the manifest.
func (r *Recipe) Validate() error {
	if len(r.Stages) == 0 {
		return fmt.Errorf("%w: no stages", ErrInvalidRecipe)
	}

	names := make(map[string]bool)
	outputs := 0

	for i, stage := range r.Stages {
		label := stage.Label(i)

		if _, err := stage.ParseFrom(); err != nil {
			return fmt.Errorf("stage %s: %w", label, err)
		}
		if stage.Name != "" {
			if names[stage.Name] {
				return fmt.Errorf("%w: duplicate stage name %q", ErrInvalidRecipe, stage.Name)
			}
		}
		if !stage.Transient {
			outputs++
		}

		if err := validateSteps(stage.Steps, names); err != nil {
			return fmt.Errorf("stage %s: %w", label, err)
		}
		if err := checkLayerOrder(stage.Steps, r.ManifestName()); err != nil {
			return fmt.Errorf("stage %s: %w", label, err)
		}

		if stage.Name != "" {
			names[stage.Name] = true
		}
	}

	if outputs != 1 {
		return fmt.Errorf("%w: want exactly one non-transient stage, have %d", ErrInvalidRecipe, outputs)
	}
	return nil
}

// Validates steps recursively. Earlier holds names of stages declared before
// the current one, the only valid cross-stage copy sources.
func validateSteps(steps []Step, earlier map[string]bool) error {
	for i, step := range steps {
		if err := validateStep(step, earlier); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

func validateStep(step Step, earlier map[string]bool) error {
	if step.Run != "" && step.Copy != "" {
		return fmt.Errorf("%w: run and copy are mutually exclusive", ErrInvalidRecipe)
	}

	if step.IsGroup() {
		if step.IsOperation() {
			return fmt.Errorf("%w: a group cannot run or copy", ErrInvalidRecipe)
		}
		return validateSteps(step.Steps, earlier)
	}

	if step.Platform != "" {
		return fmt.Errorf("%w: platform is only valid on groups", ErrInvalidRecipe)
	}

	if step.Copy != "" {
		src, _, err := SplitCopy(step.Copy)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
		}
		if stage, _, ok := SplitStageSource(src); ok && !earlier[stage] {
			return fmt.Errorf("%w: copy from unknown or later stage %q", ErrInvalidRecipe, stage)
		}
	}

	for _, spec := range step.Expose {
		if _, err := ParsePort(spec); err != nil {
			return err
		}
	}

	for k := range step.Env {
		if k == "" || strings.ContainsAny(k, "= \t") {
			return fmt.Errorf("%w: invalid environment variable name %q", ErrInvalidRecipe, k)
		}
	}
	return nil
}

// Normalizes a port spec to "<port>/<proto>", defaulting to tcp.
func ParsePort(spec string) (nat.Port, error) {
	proto, port := nat.SplitProtoPort(strings.TrimSpace(spec))
	if port == "" {
		return "", fmt.Errorf("%w: invalid port %q", ErrInvalidRecipe, spec)
	}
	n, err := nat.ParsePort(port)
	if err != nil || n < 1 {
		return "", fmt.Errorf("%w: invalid port %q", ErrInvalidRecipe, spec)
	}
	switch proto {
	case "tcp", "udp", "sctp":
	default:
		return "", fmt.Errorf("%w: invalid protocol in %q", ErrInvalidRecipe, spec)
	}
	return nat.NewPort(proto, port)
}

// Walks the stage's steps in order and rejects a whole-context copy that
// comes before the manifest is copied or used.
func checkLayerOrder(steps []Step, manifest string) error {
	var treeCopied, manifestCopied bool

	for _, step := range flatten(steps) {
		switch {
		case step.Copy != "":
			src, _, _ := SplitCopy(step.Copy)
			if _, _, ok := SplitStageSource(src); ok {
				continue
			}
			switch {
			case isContextRoot(src):
				treeCopied = true
			case path.Base(path.Clean(src)) == manifest:
				if treeCopied {
					return ErrLayerOrder
				}
				manifestCopied = true
			}

		case step.Run != "":
			if treeCopied && !manifestCopied && strings.Contains(step.Run, manifest) {
				return ErrLayerOrder
			}
		}
	}
	return nil
}

// Whether a copy source names the whole build context.
func isContextRoot(src string) bool {
	switch path.Clean(src) {
	case ".", "/", "./":
		return true
	}
	return false
}

// Returns the steps in execution order with groups expanded.
func flatten(steps []Step) []Step {
	var out []Step
	for _, s := range steps {
		if s.IsGroup() {
			out = append(out, flatten(s.Steps)...)
			continue
		}
		out = append(out, s)
	}
	return out
}
