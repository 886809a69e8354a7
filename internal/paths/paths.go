package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/cruciblehq/kiln/internal"
)

const (

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the directory for runtime files (sockets, PIDs).
//
//	Linux:   $XDG_RUNTIME_DIR/kiln or /run/user/<uid>/kiln
//	macOS:   ~/Library/Caches/kiln/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, internal.Name)
	}
	return filepath.Join(xdg.CacheHome, internal.Name, "run")
}

// Default path to the daemon's Unix domain socket.
func Socket() string {
	return filepath.Join(Runtime(), internal.Name+".sock")
}

// Default path to the daemon's PID file.
func PIDFile() string {
	return filepath.Join(Runtime(), internal.Name+".pid")
}

// Directory holding the layer cache index and cloned build contexts.
//
//	Linux:   $XDG_CACHE_HOME/kiln
//	macOS:   ~/Library/Caches/kiln
func Cache() string {
	return filepath.Join(xdg.CacheHome, internal.Name)
}

// Default path to the layer cache database.
func CacheDB() string {
	return filepath.Join(Cache(), "layers.db")
}

// Default path to the optional configuration file.
//
//	Linux:   $XDG_CONFIG_HOME/kiln/config.yaml
//	macOS:   ~/Library/Application Support/kiln/config.yaml
func ConfigFile() string {
	return filepath.Join(xdg.ConfigHome, internal.Name, "config.yaml")
}
