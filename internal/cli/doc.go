// Parses flags, loads configuration and runs kiln commands.
//
// Global flags:
//
//	-q, --quiet     Suppress informational output.
//	-v, --verbose   Enable verbose output.
//	-d, --debug     Enable debug output.
//	-c, --config    Configuration file.
//	    --backend   containerd or docker.
//	-s, --socket    Daemon socket path.
//
// Flags override build-time defaults set via linker flags and values from
// the configuration file and KILN_* environment. After parsing, the global
// logger is reconfigured to reflect the final level and format before the
// command runs.
package cli
