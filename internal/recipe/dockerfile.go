package recipe

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/moby/buildkit/frontend/dockerfile/parser"
)

// Renders the recipe as a Dockerfile for the given platform.
//
// Platform groups that do not match are left out. Step-scoped modifiers are
// emulated: a scoped workdir or shell is set before the instruction and
// restored after it, scoped environment is exported inside the RUN. Unnamed
// stages get a "stage-N" alias so cross-stage copies and build targets can
// refer to them.
func RenderDockerfile(r *Recipe, platform string) []byte {
	var b strings.Builder
	b.WriteString("# syntax=docker/dockerfile:1\n")

	for i, stage := range r.Stages {
		fmt.Fprintf(&b, "\nFROM %s AS %s\n", stage.From, StageAlias(stage, i))
		w := &dockerfileWriter{b: &b, platform: platform}
		w.steps(stage.Steps)
	}
	return []byte(b.String())
}

// Returns the name used for a stage in rendered Dockerfiles.
func StageAlias(stage Stage, index int) string {
	if stage.Name != "" {
		return stage.Name
	}
	return fmt.Sprintf("stage-%d", index+1)
}

// Tracks persistent modifiers while rendering a stage. The workdir is kept
// resolved so restoring it after a scoped step lands in the same directory.
type dockerfileWriter struct {
	b        *strings.Builder
	platform string
	workdir  string
	shell    string
}

func (w *dockerfileWriter) steps(steps []Step) {
	for _, s := range steps {
		w.step(s)
	}
}

func (w *dockerfileWriter) step(s Step) {
	if s.IsGroup() {
		if !s.Matches(w.platform) {
			return
		}
		w.modifiers(s)
		w.steps(s.Steps)
		return
	}

	if !s.IsOperation() {
		w.modifiers(s)
		w.metadata(s)
		return
	}

	scopedDir := s.Workdir != "" && JoinWorkdir(w.workdir, s.Workdir) != w.workdir
	scopedShell := s.Shell != "" && s.Shell != w.shell
	if scopedDir {
		fmt.Fprintf(w.b, "WORKDIR %s\n", JoinWorkdir(w.workdir, s.Workdir))
	}
	if scopedShell {
		fmt.Fprintf(w.b, "SHELL %s\n", jsonArray(shellArgs(s.Shell)))
	}

	switch {
	case s.Run != "":
		fmt.Fprintf(w.b, "RUN %s%s\n", exportPrefix(s.Env), s.Run)
	case s.Copy != "":
		src, dest, _ := SplitCopy(s.Copy)
		if stage, path, ok := SplitStageSource(src); ok {
			fmt.Fprintf(w.b, "COPY --from=%s %s %s\n", stage, path, dest)
		} else {
			fmt.Fprintf(w.b, "COPY %s %s\n", src, dest)
		}
	}

	if scopedDir {
		fmt.Fprintf(w.b, "WORKDIR %s\n", orRoot(w.workdir))
	}
	if scopedShell {
		fmt.Fprintf(w.b, "SHELL %s\n", jsonArray(shellArgs(orDefault(w.shell, "/bin/sh"))))
	}

	// Image config on an operation step persists, as it does for containerd.
	w.metadata(s)
}

// Emits persistent modifiers.
func (w *dockerfileWriter) modifiers(s Step) {
	for _, k := range slices.Sorted(maps.Keys(s.Env)) {
		fmt.Fprintf(w.b, "ENV %s=%s\n", k, strconv.Quote(s.Env[k]))
	}
	if s.Workdir != "" {
		w.workdir = JoinWorkdir(w.workdir, s.Workdir)
		fmt.Fprintf(w.b, "WORKDIR %s\n", w.workdir)
	}
	if s.Shell != "" {
		w.shell = s.Shell
		fmt.Fprintf(w.b, "SHELL %s\n", jsonArray(shellArgs(s.Shell)))
	}
}

// Emits image metadata.
func (w *dockerfileWriter) metadata(s Step) {
	if len(s.Expose) > 0 {
		fmt.Fprintf(w.b, "EXPOSE %s\n", strings.Join(s.Expose, " "))
	}
	if len(s.Entrypoint) > 0 {
		fmt.Fprintf(w.b, "ENTRYPOINT %s\n", jsonArray(s.Entrypoint))
	}
	if len(s.Cmd) > 0 {
		fmt.Fprintf(w.b, "CMD %s\n", jsonArray(s.Cmd))
	}
}

// Builds "export K='v' && " for step-scoped environment.
func exportPrefix(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	var parts []string
	for _, k := range slices.Sorted(maps.Keys(env)) {
		parts = append(parts, k+"="+shellQuote(env[k]))
	}
	return "export " + strings.Join(parts, " ") + " && "
}

func shellArgs(shell string) []string {
	return []string{shell, "-c"}
}

func jsonArray(args []string) string {
	b, _ := json.Marshal(args)
	return string(b)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func orRoot(dir string) string {
	return orDefault(dir, "/")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Converts a Dockerfile into a recipe.
//
// FROM, ENV, WORKDIR, RUN, COPY, EXPOSE, CMD, ENTRYPOINT and SHELL are
// supported; anything else fails with [ErrUnsupportedInstruction]. COPY with
// several sources becomes one copy step per source. Exec-form RUN is joined
// into a quoted shell command. Every stage except the last is transient.
func ImportDockerfile(r io.Reader) (*Recipe, error) {
	res, err := parser.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
	}

	var rec Recipe
	for _, node := range res.AST.Children {
		if err := importInstruction(&rec, node); err != nil {
			return nil, fmt.Errorf("line %d: %w", node.StartLine, err)
		}
	}

	if len(rec.Stages) == 0 {
		return nil, fmt.Errorf("%w: no FROM instruction", ErrInvalidRecipe)
	}
	for i := range rec.Stages[:len(rec.Stages)-1] {
		rec.Stages[i].Transient = true
	}
	return &rec, nil
}

func importInstruction(rec *Recipe, node *parser.Node) error {
	instr := strings.ToLower(node.Value)
	args := nodeArgs(node)
	isJSON := node.Attributes["json"]

	if instr == "from" {
		return importFrom(rec, args)
	}
	if len(rec.Stages) == 0 {
		return fmt.Errorf("%w: %s before FROM", ErrInvalidRecipe, strings.ToUpper(instr))
	}
	stage := &rec.Stages[len(rec.Stages)-1]

	switch instr {
	case "env":
		// The parser emits (key, value, separator) triples.
		if len(args) == 0 || len(args)%3 != 0 {
			return fmt.Errorf("%w: malformed ENV", ErrInvalidRecipe)
		}
		env := make(map[string]string, len(args)/3)
		for i := 0; i < len(args); i += 3 {
			env[args[i]] = unquote(args[i+1])
		}
		stage.Steps = append(stage.Steps, Step{Env: env})

	case "workdir":
		if len(args) != 1 {
			return fmt.Errorf("%w: WORKDIR takes one argument", ErrInvalidRecipe)
		}
		stage.Steps = append(stage.Steps, Step{Workdir: args[0]})

	case "run":
		if len(args) == 0 {
			return fmt.Errorf("%w: empty RUN", ErrInvalidRecipe)
		}
		cmd := args[0]
		if isJSON {
			quoted := make([]string, len(args))
			for i, a := range args {
				quoted[i] = shellQuote(a)
			}
			cmd = strings.Join(quoted, " ")
		}
		stage.Steps = append(stage.Steps, Step{Run: cmd})

	case "copy":
		return importCopy(rec, node.Flags, args)

	case "expose":
		stage.Steps = append(stage.Steps, Step{Expose: args})

	case "cmd":
		stage.Steps = append(stage.Steps, Step{Cmd: processArgs(args, isJSON)})

	case "entrypoint":
		stage.Steps = append(stage.Steps, Step{Entrypoint: processArgs(args, isJSON)})

	case "shell":
		if !isJSON || len(args) == 0 {
			return fmt.Errorf("%w: SHELL requires exec form", ErrInvalidRecipe)
		}
		stage.Steps = append(stage.Steps, Step{Shell: args[0]})

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedInstruction, strings.ToUpper(instr))
	}
	return nil
}

// Handles "FROM image [AS name]".
func importFrom(rec *Recipe, args []string) error {
	var stage Stage
	switch {
	case len(args) == 1:
		stage.From = args[0]
	case len(args) == 3 && strings.EqualFold(args[1], "as"):
		stage.From = args[0]
		stage.Name = args[2]
	default:
		return fmt.Errorf("%w: malformed FROM", ErrInvalidRecipe)
	}
	rec.Stages = append(rec.Stages, stage)
	return nil
}

func importCopy(rec *Recipe, flags, args []string) error {
	current := len(rec.Stages) - 1
	stage := &rec.Stages[current]

	var from string
	for _, f := range flags {
		name, value, _ := strings.Cut(strings.TrimPrefix(f, "--"), "=")
		if name != "from" {
			return fmt.Errorf("%w: COPY --%s", ErrUnsupportedInstruction, name)
		}
		from = value
	}

	if from != "" {
		name, err := copySourceStage(rec.Stages[:current], from)
		if err != nil {
			return err
		}
		from = name
	}

	if len(args) < 2 {
		return fmt.Errorf("%w: COPY needs a source and a destination", ErrInvalidRecipe)
	}
	dest := args[len(args)-1]
	srcs := args[:len(args)-1]
	if len(srcs) > 1 && !strings.HasSuffix(dest, "/") {
		dest += "/"
	}

	for _, src := range srcs {
		if from != "" {
			src = from + ":" + src
		}
		stage.Steps = append(stage.Steps, Step{Copy: src + " " + dest})
	}
	return nil
}

// Resolves a COPY --from value to the name of an earlier stage. Numeric
// values are stage indexes; an unnamed stage gets its rendered alias so the
// copy can refer to it. Copies from external images are not supported.
func copySourceStage(earlier []Stage, from string) (string, error) {
	if n, err := strconv.Atoi(from); err == nil {
		if n < 0 || n >= len(earlier) {
			return "", fmt.Errorf("%w: COPY --from=%d is not an earlier stage", ErrInvalidRecipe, n)
		}
		if earlier[n].Name == "" {
			earlier[n].Name = StageAlias(earlier[n], n)
		}
		return earlier[n].Name, nil
	}
	for _, s := range earlier {
		if strings.EqualFold(s.Name, from) {
			return s.Name, nil
		}
	}
	return "", fmt.Errorf("%w: COPY --from=%s (not an earlier stage)", ErrUnsupportedInstruction, from)
}

// Converts CMD or ENTRYPOINT arguments; shell form runs through /bin/sh -c.
func processArgs(args []string, isJSON bool) []string {
	if isJSON {
		return args
	}
	return []string{"/bin/sh", "-c", strings.Join(args, " ")}
}

// Collects the argument chain of an instruction node.
func nodeArgs(node *parser.Node) []string {
	var args []string
	for n := node.Next; n != nil; n = n.Next {
		args = append(args, n.Value)
	}
	return args
}

// Strips one level of matching double or single quotes.
func unquote(s string) string {
	if len(s) >= 2 {
		switch {
		case s[0] == '"' && s[len(s)-1] == '"':
			if u, err := strconv.Unquote(s); err == nil {
				return u
			}
		case s[0] == '\'' && s[len(s)-1] == '\'':
			return s[1 : len(s)-1]
		}
	}
	return s
}
