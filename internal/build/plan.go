package build

import (
	"fmt"
	"strings"

	"github.com/cruciblehq/kiln/internal/recipe"
)

// A filesystem-changing operation with its resolved inputs and cache key.
type layerOp struct {
	index       string     // Step position, e.g. "4" or "2.1" inside a group.
	step        recipe.Step // The run or copy step.
	state       *stepState // Effective modifiers for this step.
	key         string     // Cache key.
	parentKey   string     // Key of the previous layer, or the base chain ID.
	description string     // History entry for the layer.
}

// The result of planning one stage.
type stagePlan struct {
	ops   []layerOp
	final *stepState // Persistent state after the last step, for the image config.
	key   string     // Key of the last layer, or the base chain ID.
}

// Walks a stage's steps for one platform, resolving modifiers and deriving
// the cache key of every layer step.
//
// Keys depend only on inputs, never on execution results, so the whole
// stage can be planned before anything runs. root is the base image chain
// ID. stageKeys maps earlier stage names to their final keys for cross-stage
// copies.
func (b *builder) planStage(stage recipe.Stage, platform, root string, stageKeys map[string]string) (*stagePlan, error) {
	p := &stagePlan{final: newStepState(), key: root}
	if err := b.walk(stage.Steps, "", platform, p, stageKeys); err != nil {
		return nil, err
	}
	return p, nil
}

func (b *builder) walk(steps []recipe.Step, prefix, platform string, p *stagePlan, stageKeys map[string]string) error {
	for i, step := range steps {
		index := fmt.Sprintf("%s%d", prefix, i+1)

		switch {
		case step.IsGroup():
			if !step.Matches(platform) {
				continue
			}
			p.final.apply(step)
			if err := b.walk(step.Steps, index+".", platform, p, stageKeys); err != nil {
				return err
			}

		case step.IsOperation():
			op, err := b.planOp(step, index, platform, p, stageKeys)
			if err != nil {
				return fmt.Errorf("step %s: %w", index, err)
			}
			p.final.applyImageConfig(step)
			p.ops = append(p.ops, op)
			p.key = op.key

		default:
			p.final.apply(step)
		}
	}
	return nil
}

func (b *builder) planOp(step recipe.Step, index, platform string, p *stagePlan, stageKeys map[string]string) (layerOp, error) {
	state := p.final.resolve(step)

	in := keyInput{
		parent:   p.key,
		platform: platform,
		shell:    state.shell,
		workdir:  state.workdir,
		env:      state.environ(),
	}

	switch {
	case step.Run != "":
		in.kind, in.spec = "run", step.Run

	case step.Copy != "":
		in.kind, in.spec = "copy", step.Copy
		source, err := b.sourceDigest(step.Copy, stageKeys)
		if err != nil {
			return layerOp{}, err
		}
		in.source = source
	}

	return layerOp{
		index:       index,
		step:        step,
		state:       state,
		key:         layerKey(in),
		parentKey:   p.key,
		description: describe(step),
	}, nil
}

// Returns the cache input that stands for a copy source's content: the
// content digest of a context path, or the source stage's final key.
func (b *builder) sourceDigest(copyStr string, stageKeys map[string]string) (string, error) {
	src, _, err := recipe.SplitCopy(copyStr)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCopy, err)
	}

	if stage, path, ok := recipe.SplitStageSource(src); ok {
		key, found := stageKeys[stage]
		if !found {
			return "", fmt.Errorf("%w: unknown stage %q", ErrCopy, stage)
		}
		return key + ":" + path, nil
	}

	d, err := b.context.Digest(src)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCopy, err)
	}
	return d.String(), nil
}

// Returns a short, human-readable form of an operation step.
func describe(step recipe.Step) string {
	if step.Run != "" {
		return "run " + strings.Join(strings.Fields(step.Run), " ")
	}
	return "copy " + step.Copy
}
