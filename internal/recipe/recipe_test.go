package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const djangoYAML = `
manifest: requirements.txt
stages:
  - from: python:3.12-slim
    steps:
      - env: {PYTHONDONTWRITEBYTECODE: "1", PYTHONUNBUFFERED: "1"}
      - workdir: /app
      - run: apt-get update && apt-get install -y postgresql-client && rm -rf /var/lib/apt/lists/*
      - copy: requirements.txt .
      - run: pip install --upgrade pip && pip install -r requirements.txt
      - copy: . .
      - expose: ["8000/tcp"]
      - cmd: [python, manage.py, runserver, "0.0.0.0:8000"]
`

func TestParse(t *testing.T) {
	r, err := Parse([]byte(djangoYAML))
	require.NoError(t, err)
	require.Len(t, r.Stages, 1)

	steps := r.Stages[0].Steps
	require.Len(t, steps, 8)
	assert.Equal(t, "1", steps[0].Env["PYTHONUNBUFFERED"])
	assert.Equal(t, "/app", steps[1].Workdir)
	assert.Equal(t, "requirements.txt .", steps[3].Copy)
	assert.Equal(t, []string{"8000/tcp"}, steps[6].Expose)
	assert.Equal(t, []string{"python", "manage.py", "runserver", "0.0.0.0:8000"}, steps[7].Cmd)
	assert.NoError(t, r.Validate())
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("stages:\n  - from: alpine\n    stepz: []\n"))
	assert.ErrorIs(t, err, ErrInvalidRecipe)
}

func TestMarshalRoundTrip(t *testing.T) {
	orig := Django(DjangoOptions{})
	data, err := orig.Marshal()
	require.NoError(t, err)

	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, orig, back)
}

func TestParseFrom(t *testing.T) {
	tests := []struct {
		from  string
		kind  SourceKind
		value string
		err   bool
	}{
		{from: "python:3.12-slim", kind: SourceRegistry, value: "python:3.12-slim"},
		{from: "file:base/image.tar", kind: SourceArchive, value: "base/image.tar"},
		{from: "dist/image.tar", kind: SourceArchive, value: "dist/image.tar"},
		{from: "  ", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			src, err := Stage{From: tt.from}.ParseFrom()
			if tt.err {
				assert.ErrorIs(t, err, ErrInvalidRecipe)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, src.Kind)
			assert.Equal(t, tt.value, src.Value)
		})
	}
}

func TestSplitStageSource(t *testing.T) {
	tests := []struct {
		input string
		stage string
		path  string
		ok    bool
	}{
		{input: "build:/app/bin", stage: "build", path: "/app/bin", ok: true},
		{input: "/usr/local/bin"},
		{input: ":/some/path"},
		{input: "/foo:bar"},
		{input: "some/stage:path"},
		{input: "file.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			stage, path, ok := SplitStageSource(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.stage, stage)
				assert.Equal(t, tt.path, path)
			}
		})
	}
}

func TestOutput(t *testing.T) {
	r := &Recipe{Stages: []Stage{
		{Name: "deps", From: "python:3.12", Transient: true},
		{From: "python:3.12-slim"},
	}}
	assert.Equal(t, 1, r.Output())

	r.Stages[1].Transient = true
	assert.Equal(t, -1, r.Output())
}

func TestManifestName(t *testing.T) {
	assert.Equal(t, DefaultManifest, (&Recipe{}).ManifestName())
	assert.Equal(t, "Pipfile", (&Recipe{Manifest: "Pipfile"}).ManifestName())
}

func TestJoinWorkdir(t *testing.T) {
	tests := []struct {
		current, next, want string
	}{
		{"", "/app", "/app"},
		{"/app", "src", "/app/src"},
		{"", "app", "/app"},
		{"/app", "/srv/", "/srv"},
		{"/app/src", "..", "/app"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, JoinWorkdir(tt.current, tt.next), "%q + %q", tt.current, tt.next)
	}
}
