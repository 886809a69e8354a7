package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendContainerd, cfg.Backend)
	assert.Equal(t, "kiln", cfg.Containerd.Namespace)
	assert.Equal(t, 60*time.Second, cfg.Run.ReadyTimeout)
	assert.Equal(t, 168*time.Hour, cfg.Cache.MaxAge)
	assert.Equal(t, "127.0.0.1", cfg.Run.ProbeHost)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiln.yaml")
	data := []byte("backend: docker\nlog:\n  level: debug\n  format: json\nrun:\n  ready_timeout: 5s\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendDocker, cfg.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 5*time.Second, cfg.Run.ReadyTimeout)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiln.yaml")
	require.NoError(t, os.WriteFile(path, []byte("containerd:\n  namespace: fromfile\n"), 0o644))
	t.Setenv("KILN_CONTAINERD_NAMESPACE", "fromenv")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fromenv", cfg.Containerd.Namespace)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Backend:    BackendContainerd,
			Containerd: ContainerdConfig{Address: "/run/containerd/containerd.sock"},
			Log:        LogConfig{Format: "text"},
			Run:        RunConfig{ReadyTimeout: time.Second},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "valid", mutate: func(*Config) {}, ok: true},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "podman" }},
		{name: "missing containerd address", mutate: func(c *Config) { c.Containerd.Address = "" }},
		{name: "docker ignores containerd address", mutate: func(c *Config) {
			c.Backend = BackendDocker
			c.Containerd.Address = ""
		}, ok: true},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }},
		{name: "zero timeout", mutate: func(c *Config) { c.Run.ReadyTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}
