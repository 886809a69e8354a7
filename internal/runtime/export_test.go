package runtime

import (
	"reflect"
	"testing"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

func TestManifestGCLabels(t *testing.T) {
	m := ocispec.Manifest{
		Config: ocispec.Descriptor{
			Digest: digest.FromString("config"),
		},
		Layers: []ocispec.Descriptor{
			{Digest: digest.FromString("layer0")},
			{Digest: digest.FromString("layer1")},
		},
	}

	labels := manifestGCLabels(m)

	configLabel := labels["containerd.io/gc.ref.content.config"]
	if configLabel != m.Config.Digest.String() {
		t.Fatalf("config label = %q, want %q", configLabel, m.Config.Digest.String())
	}

	for i, layer := range m.Layers {
		key := "containerd.io/gc.ref.content.l." + string(rune('0'+i))
		got := labels[key]
		if got != layer.Digest.String() {
			t.Fatalf("labels[%q] = %q, want %q", key, got, layer.Digest.String())
		}
	}

	if len(labels) != 3 {
		t.Fatalf("len(labels) = %d, want 3", len(labels))
	}
}

func TestManifestGCLabelsNoLayers(t *testing.T) {
	m := ocispec.Manifest{
		Config: ocispec.Descriptor{
			Digest: digest.FromString("config-only"),
		},
	}

	labels := manifestGCLabels(m)
	if len(labels) != 1 {
		t.Fatalf("len(labels) = %d, want 1", len(labels))
	}
	if labels["containerd.io/gc.ref.content.config"] != m.Config.Digest.String() {
		t.Fatal("config label mismatch")
	}
}

func TestApplyConfig(t *testing.T) {
	dst := ocispec.ImageConfig{
		Env:        []string{"PATH=/usr/local/bin:/usr/bin", "LANG=C.UTF-8"},
		Cmd:        []string{"python3"},
		WorkingDir: "/",
	}

	applyConfig(&dst, ImageConfig{
		Env:          []string{"PYTHONDONTWRITEBYTECODE=1", "PYTHONUNBUFFERED=1"},
		WorkingDir:   "/app",
		ExposedPorts: []string{"8000/tcp"},
		Cmd:          []string{"python", "manage.py", "runserver", "0.0.0.0:8000"},
	})

	wantEnv := []string{"PATH=/usr/local/bin:/usr/bin", "LANG=C.UTF-8", "PYTHONDONTWRITEBYTECODE=1", "PYTHONUNBUFFERED=1"}
	if !reflect.DeepEqual(dst.Env, wantEnv) {
		t.Fatalf("Env = %v, want %v", dst.Env, wantEnv)
	}
	if dst.WorkingDir != "/app" {
		t.Fatalf("WorkingDir = %q, want /app", dst.WorkingDir)
	}
	if _, ok := dst.ExposedPorts["8000/tcp"]; !ok || len(dst.ExposedPorts) != 1 {
		t.Fatalf("ExposedPorts = %v, want 8000/tcp", dst.ExposedPorts)
	}
	wantCmd := []string{"python", "manage.py", "runserver", "0.0.0.0:8000"}
	if !reflect.DeepEqual(dst.Cmd, wantCmd) {
		t.Fatalf("Cmd = %v, want %v", dst.Cmd, wantCmd)
	}
}

func TestApplyConfigEntrypointClearsInheritedCmd(t *testing.T) {
	dst := ocispec.ImageConfig{Cmd: []string{"python3"}}

	applyConfig(&dst, ImageConfig{Entrypoint: []string{"/entrypoint.sh"}})

	if len(dst.Cmd) != 0 {
		t.Fatalf("Cmd = %v, want empty", dst.Cmd)
	}
	if !reflect.DeepEqual(dst.Entrypoint, []string{"/entrypoint.sh"}) {
		t.Fatalf("Entrypoint = %v", dst.Entrypoint)
	}

	applyConfig(&dst, ImageConfig{Entrypoint: []string{"/entrypoint.sh"}, Cmd: []string{"serve"}})
	if !reflect.DeepEqual(dst.Cmd, []string{"serve"}) {
		t.Fatalf("Cmd = %v, want [serve]", dst.Cmd)
	}
}

func TestApplyConfigEmptyKeepsBase(t *testing.T) {
	dst := ocispec.ImageConfig{
		Env:        []string{"A=1"},
		Cmd:        []string{"python3"},
		WorkingDir: "/srv",
	}

	applyConfig(&dst, ImageConfig{})

	if !reflect.DeepEqual(dst.Env, []string{"A=1"}) || dst.WorkingDir != "/srv" || !reflect.DeepEqual(dst.Cmd, []string{"python3"}) {
		t.Fatalf("base config changed: %+v", dst)
	}
}
