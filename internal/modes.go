package internal

import (
	"strconv"
	"sync/atomic"
)

var (
	quietMode   atomic.Bool // Suppress informational output.
	debugMode   atomic.Bool // Emit debug records.
	verboseMode atomic.Bool // Include source and extra attributes.
	jsonMode    atomic.Bool // Emit records as JSON lines.
)

// Seeds the output modes from linker flags. Unparseable values are ignored.
func init() {
	seed(&quietMode, rawQuiet)
	seed(&debugMode, rawDebug)
	seed(&verboseMode, rawVerbose)
	seed(&jsonMode, rawJSON)
}

func seed(mode *atomic.Bool, raw string) {
	if v, err := strconv.ParseBool(raw); err == nil {
		mode.Store(v)
	}
}

// Enables or disables quiet mode.
func SetQuiet(enabled bool) { quietMode.Store(enabled) }

// Returns true if informational output is suppressed.
func IsQuiet() bool { return quietMode.Load() }

// Enables or disables debug mode.
func SetDebug(enabled bool) { debugMode.Store(enabled) }

// Returns true if debug records are emitted.
func IsDebug() bool { return debugMode.Load() }

// Enables or disables verbose mode.
func SetVerbose(enabled bool) { verboseMode.Store(enabled) }

// Returns true if records include source locations.
func IsVerbose() bool { return verboseMode.Load() }

// Enables or disables JSON log output.
func SetJSON(enabled bool) { jsonMode.Store(enabled) }

// Returns true if logs are emitted as JSON.
func IsJSON() bool { return jsonMode.Load() }
