// Package settings loads kiln configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// KILN_* environment variables (KILN_CONTAINERD_ADDRESS, KILN_LOG_LEVEL, ...).
// Command-line flags are applied on top by the cli package.
package settings

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cruciblehq/kiln/internal/paths"
	"github.com/spf13/viper"
)

// Name of the backend that builds through containerd.
const BackendContainerd = "containerd"

// Name of the backend that builds through the Docker Engine API.
const BackendDocker = "docker"

var ErrInvalidConfig = errors.New("invalid configuration")

// Holds all configuration.
type Config struct {
	Backend    string           `mapstructure:"backend"`
	Containerd ContainerdConfig `mapstructure:"containerd"`
	Docker     DockerConfig     `mapstructure:"docker"`
	Daemon     DaemonConfig     `mapstructure:"daemon"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Log        LogConfig        `mapstructure:"log"`
	Run        RunConfig        `mapstructure:"run"`
}

type ContainerdConfig struct {
	Address     string `mapstructure:"address"`
	Namespace   string `mapstructure:"namespace"`
	Snapshotter string `mapstructure:"snapshotter"`
}

// Docker Engine connection. An empty host uses DOCKER_HOST or the default
// socket.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

type DaemonConfig struct {
	Socket   string `mapstructure:"socket"`    // Unix socket for CLI requests.
	HTTPAddr string `mapstructure:"http_addr"` // Status and metrics listener. Empty disables it.
}

type CacheConfig struct {
	DSN    string        `mapstructure:"dsn"`     // SQLite database path.
	MaxAge time.Duration `mapstructure:"max_age"` // Entries unused for longer are pruned.
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

// Service startup checks.
type RunConfig struct {
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
	ProbeHost    string        `mapstructure:"probe_host"` // Host used to reach published ports.
}

// Loads configuration from defaults, the file at path and the environment.
//
// An empty path reads the default config file when it exists. An explicit
// path that cannot be read is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("KILN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch {
	case path != "":
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrInvalidConfig, path, err)
		}
	case fileExists(paths.ConfigFile()):
		v.SetConfigFile(paths.ConfigFile())
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrInvalidConfig, paths.ConfigFile(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", BackendContainerd)
	v.SetDefault("containerd.address", "/run/containerd/containerd.sock")
	v.SetDefault("containerd.namespace", "kiln")
	v.SetDefault("containerd.snapshotter", "overlayfs")
	v.SetDefault("docker.host", "")
	v.SetDefault("daemon.socket", paths.Socket())
	v.SetDefault("daemon.http_addr", "")
	v.SetDefault("cache.dsn", paths.CacheDB())
	v.SetDefault("cache.max_age", "168h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("run.ready_timeout", "60s")
	v.SetDefault("run.probe_host", "127.0.0.1")
}

// Checks enumerated and required values.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendContainerd, BackendDocker:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}

	if c.Backend == BackendContainerd && c.Containerd.Address == "" {
		return fmt.Errorf("%w: containerd.address is empty", ErrInvalidConfig)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Log.Format)
	}

	if c.Run.ReadyTimeout <= 0 {
		return fmt.Errorf("%w: run.ready_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
