package build

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/cruciblehq/kiln/internal/buildctx"
	"github.com/cruciblehq/kiln/internal/recipe"
)

const testRoot = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

var djangoEnv = []string{"PYTHONDONTWRITEBYTECODE=1", "PYTHONUNBUFFERED=1"}

func djangoProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{
		"requirements.txt": "Django>=5.0\npsycopg2-binary\n",
		"manage.py":        "#!/usr/bin/env python\n",
		"app/settings.py":  "DEBUG = True\n",
	} {
		writeFile(t, filepath.Join(dir, name), content)
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func openContext(t *testing.T, dir string) *buildctx.Context {
	t.Helper()
	c, err := buildctx.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c
}

func planDjango(t *testing.T, dir string, opts recipe.DjangoOptions) *stagePlan {
	t.Helper()
	r := recipe.Django(opts)
	b := &builder{context: openContext(t, dir), recipe: r}

	p, err := b.planStage(r.Stages[0], "linux/amd64", testRoot, nil)
	if err != nil {
		t.Fatalf("planStage: %v", err)
	}
	return p
}

func keysOf(p *stagePlan) []string {
	keys := make([]string, len(p.ops))
	for i, op := range p.ops {
		keys[i] = op.key
	}
	return keys
}

func TestPlanDjangoLayers(t *testing.T) {
	p := planDjango(t, djangoProject(t), recipe.DjangoOptions{})

	if len(p.ops) != 4 {
		t.Fatalf("len(ops) = %d, want 4", len(p.ops))
	}
	if !strings.Contains(p.ops[0].description, "apt-get install -y --no-install-recommends postgresql-client") {
		t.Errorf("ops[0] = %q, want the package install", p.ops[0].description)
	}
	if p.ops[1].description != "copy requirements.txt ." {
		t.Errorf("ops[1] = %q, want the manifest copy", p.ops[1].description)
	}
	if !strings.Contains(p.ops[2].description, "pip install -r requirements.txt") {
		t.Errorf("ops[2] = %q, want the dependency install", p.ops[2].description)
	}
	if p.ops[3].description != "copy . ." {
		t.Errorf("ops[3] = %q, want the tree copy", p.ops[3].description)
	}

	if p.ops[0].parentKey != testRoot {
		t.Errorf("ops[0].parentKey = %q, want the base chain ID", p.ops[0].parentKey)
	}
	for i := 1; i < len(p.ops); i++ {
		if p.ops[i].parentKey != p.ops[i-1].key {
			t.Errorf("ops[%d].parentKey does not chain to ops[%d]", i, i-1)
		}
	}
	if p.key != p.ops[3].key {
		t.Errorf("stage key = %q, want last layer key", p.key)
	}

	for _, op := range p.ops {
		if op.state.workdir != "/app" {
			t.Errorf("op %s workdir = %q, want /app", op.index, op.state.workdir)
		}
		if env := op.state.environ(); !slices.Equal(env, djangoEnv) {
			t.Errorf("op %s env = %v, want %v", op.index, env, djangoEnv)
		}
	}

	cfg := p.final.imageConfig()
	if cfg.WorkingDir != "/app" {
		t.Errorf("WorkingDir = %q, want /app", cfg.WorkingDir)
	}
	if !slices.Equal(cfg.ExposedPorts, []string{"8000/tcp"}) {
		t.Errorf("ExposedPorts = %v, want [8000/tcp]", cfg.ExposedPorts)
	}
	if want := []string{"python", "manage.py", "runserver", "0.0.0.0:8000"}; !slices.Equal(cfg.Cmd, want) {
		t.Errorf("Cmd = %v, want %v", cfg.Cmd, want)
	}
	if !slices.Equal(cfg.Env, djangoEnv) {
		t.Errorf("Env = %v, want %v", cfg.Env, djangoEnv)
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	dir := djangoProject(t)
	a := keysOf(planDjango(t, dir, recipe.DjangoOptions{}))
	b := keysOf(planDjango(t, dir, recipe.DjangoOptions{}))
	if !slices.Equal(a, b) {
		t.Fatalf("keys differ between plans:\n%v\n%v", a, b)
	}
}

func TestSourceEditKeepsDependencyLayers(t *testing.T) {
	dir := djangoProject(t)
	before := keysOf(planDjango(t, dir, recipe.DjangoOptions{}))

	writeFile(t, filepath.Join(dir, "app/settings.py"), "DEBUG = False\n")
	after := keysOf(planDjango(t, dir, recipe.DjangoOptions{}))

	if !slices.Equal(before[:3], after[:3]) {
		t.Errorf("package, manifest and dependency layers changed: %v -> %v", before[:3], after[:3])
	}
	if before[3] == after[3] {
		t.Error("source tree layer kept its key after a source edit")
	}
}

func TestManifestEditRebuildsDependencies(t *testing.T) {
	dir := djangoProject(t)
	before := keysOf(planDjango(t, dir, recipe.DjangoOptions{}))

	writeFile(t, filepath.Join(dir, "requirements.txt"), "Django>=5.1\n")
	after := keysOf(planDjango(t, dir, recipe.DjangoOptions{}))

	if before[0] != after[0] {
		t.Error("package layer changed after a manifest edit")
	}
	for i := 1; i < 4; i++ {
		if before[i] == after[i] {
			t.Errorf("layer %d kept its key after a manifest edit", i)
		}
	}
}

func TestIgnoredFilesDoNotInvalidate(t *testing.T) {
	dir := djangoProject(t)
	writeFile(t, filepath.Join(dir, ".dockerignore"), "*.log\n")
	before := keysOf(planDjango(t, dir, recipe.DjangoOptions{}))

	writeFile(t, filepath.Join(dir, "debug.log"), "noise")
	after := keysOf(planDjango(t, dir, recipe.DjangoOptions{}))

	if !slices.Equal(before, after) {
		t.Fatalf("ignored file changed keys: %v -> %v", before, after)
	}
}

func TestPlanWithoutPackages(t *testing.T) {
	p := planDjango(t, djangoProject(t), recipe.DjangoOptions{Packages: []string{}})

	if len(p.ops) != 3 {
		t.Fatalf("len(ops) = %d, want 3", len(p.ops))
	}
	if p.ops[0].description != "copy requirements.txt ." {
		t.Fatalf("ops[0] = %q, want the manifest copy", p.ops[0].description)
	}
}

func TestPlanMissingManifest(t *testing.T) {
	dir := djangoProject(t)
	if err := os.Remove(filepath.Join(dir, "requirements.txt")); err != nil {
		t.Fatal(err)
	}

	r := recipe.Django(recipe.DjangoOptions{})
	b := &builder{context: openContext(t, dir), recipe: r}

	_, err := b.planStage(r.Stages[0], "linux/amd64", testRoot, nil)
	if !errors.Is(err, ErrCopy) {
		t.Fatalf("err = %v, want ErrCopy", err)
	}
	if !errors.Is(err, buildctx.ErrSourceNotFound) {
		t.Fatalf("err = %v, want ErrSourceNotFound", err)
	}
}

func TestPlanGroupsByPlatform(t *testing.T) {
	stage := recipe.Stage{
		From: "alpine:3.20",
		Steps: []recipe.Step{
			{Run: "echo common"},
			{Platform: "linux/arm64", Steps: []recipe.Step{{Run: "echo arm"}}},
			{Platform: "linux/amd64", Env: map[string]string{"ARCH": "amd64"}, Steps: []recipe.Step{{Run: "echo amd"}}},
			{Run: "echo after"},
		},
	}
	b := &builder{context: openContext(t, t.TempDir())}

	p, err := b.planStage(stage, "linux/amd64", testRoot, nil)
	if err != nil {
		t.Fatalf("planStage: %v", err)
	}
	if len(p.ops) != 3 {
		t.Fatalf("len(ops) = %d, want 3", len(p.ops))
	}
	for i, want := range []string{"1", "3.1", "4"} {
		if p.ops[i].index != want {
			t.Errorf("ops[%d].index = %q, want %q", i, p.ops[i].index, want)
		}
	}
	// Group modifiers persist past the group.
	if env := p.ops[2].state.environ(); !slices.Equal(env, []string{"ARCH=amd64"}) {
		t.Errorf("env after group = %v, want [ARCH=amd64]", env)
	}
}

func TestPlanOperationImageConfig(t *testing.T) {
	stage := recipe.Stage{
		From: "alpine:3.20",
		Steps: []recipe.Step{
			{Workdir: "/app"},
			{Run: "true", Cmd: []string{"serve"}, Expose: []string{"9000"}},
		},
	}
	b := &builder{context: openContext(t, t.TempDir())}

	p, err := b.planStage(stage, "linux/amd64", testRoot, nil)
	if err != nil {
		t.Fatalf("planStage: %v", err)
	}
	cfg := p.final.imageConfig()
	if !slices.Equal(cfg.Cmd, []string{"serve"}) {
		t.Errorf("Cmd = %v, want [serve]", cfg.Cmd)
	}
	if !slices.Equal(cfg.ExposedPorts, []string{"9000/tcp"}) {
		t.Errorf("ExposedPorts = %v, want [9000/tcp]", cfg.ExposedPorts)
	}
}

func TestPlanCrossStageKey(t *testing.T) {
	b := &builder{context: openContext(t, t.TempDir())}

	stage := recipe.Stage{
		From:  "python:3.12-slim",
		Steps: []recipe.Step{{Copy: "deps:/venv /venv"}},
	}

	a, err := b.planStage(stage, "linux/amd64", testRoot, map[string]string{"deps": "sha256:aaa"})
	if err != nil {
		t.Fatalf("planStage: %v", err)
	}
	z, err := b.planStage(stage, "linux/amd64", testRoot, map[string]string{"deps": "sha256:bbb"})
	if err != nil {
		t.Fatalf("planStage: %v", err)
	}
	if a.key == z.key {
		t.Error("stage key ignores the source stage key")
	}

	if _, err := b.planStage(stage, "linux/amd64", testRoot, nil); !errors.Is(err, ErrCopy) {
		t.Fatalf("err = %v, want ErrCopy", err)
	}
}
