package build

import (
	"maps"
	"slices"
	"sort"

	"github.com/cruciblehq/kiln/internal/recipe"
	"github.com/cruciblehq/kiln/internal/runtime"
)

// Default shell used for run steps when no shell modifier has been set.
const defaultShell = "/bin/sh"

// Tracks accumulated modifiers and image configuration during step
// execution.
//
// State flows linearly through the step list. Standalone modifiers update
// the state permanently via apply. Operations read the effective values for
// a single step via resolve without modifying the persistent state. Image
// configuration (expose, cmd, entrypoint) always persists, whichever step
// carries it.
type stepState struct {
	shell   string
	workdir string
	env     map[string]string

	expose     []string
	cmd        []string
	entrypoint []string
}

// Creates a new [stepState] with default values.
func newStepState() *stepState {
	return &stepState{
		shell: defaultShell,
		env:   make(map[string]string),
	}
}

// Persists modifier fields from a step into the state.
//
// Called for standalone modifier steps and groups. The state is mutated
// permanently, affecting all subsequent steps.
func (s *stepState) apply(step recipe.Step) {
	if step.Shell != "" {
		s.shell = step.Shell
	}
	if step.Workdir != "" {
		s.workdir = recipe.JoinWorkdir(s.workdir, step.Workdir)
	}
	maps.Copy(s.env, step.Env)
	s.applyImageConfig(step)
}

// Persists image configuration fields from a step.
func (s *stepState) applyImageConfig(step recipe.Step) {
	for _, spec := range step.Expose {
		port, err := recipe.ParsePort(spec)
		if err != nil {
			continue
		}
		if !slices.Contains(s.expose, string(port)) {
			s.expose = append(s.expose, string(port))
		}
	}
	if step.Entrypoint != nil {
		s.entrypoint = step.Entrypoint
		if step.Cmd == nil {
			s.cmd = nil
		}
	}
	if step.Cmd != nil {
		s.cmd = step.Cmd
	}
}

// Returns a new [stepState] with step-level modifiers overlaid on the
// persistent state. The receiver is not modified.
func (s *stepState) resolve(step recipe.Step) *stepState {
	resolved := &stepState{
		shell:   s.shell,
		workdir: s.workdir,
		env:     make(map[string]string, len(s.env)+len(step.Env)),
	}
	maps.Copy(resolved.env, s.env)
	maps.Copy(resolved.env, step.Env)

	if step.Shell != "" {
		resolved.shell = step.Shell
	}
	if step.Workdir != "" {
		resolved.workdir = recipe.JoinWorkdir(s.workdir, step.Workdir)
	}

	return resolved
}

// Formats the environment as sorted "key=value" strings.
func (s *stepState) environ() []string {
	env := make([]string, 0, len(s.env))
	for k, v := range s.env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// Returns the process configuration for the exported image.
func (s *stepState) imageConfig() runtime.ImageConfig {
	return runtime.ImageConfig{
		Env:          s.environ(),
		WorkingDir:   s.workdir,
		ExposedPorts: slices.Clone(s.expose),
		Cmd:          s.cmd,
		Entrypoint:   s.entrypoint,
	}
}
