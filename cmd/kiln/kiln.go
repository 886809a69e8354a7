package main

import (
	"log/slog"
	"os"

	"github.com/cruciblehq/kiln/internal"
	"github.com/cruciblehq/kiln/internal/cli"
	"github.com/cruciblehq/kiln/internal/logging"
)

// The entry point for kiln.
//
// Initializes logging, displays startup information, and executes the root
// command. A failing run step exits with that step's exit code, any other
// error with 1.
func main() {
	slog.SetDefault(logger())

	slog.Debug("build", "version", internal.VersionString())

	slog.Debug("kiln is running",
		"pid", os.Getpid(),
		"cwd", cwd(),
		"args", os.Args,
	)

	if err := cli.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(cli.ExitCode(err))
	}
}

// Creates a logger seeded from build-time linker flags.
//
// The logger is reconfigured after flag parsing via cli.Execute.
func logger() *slog.Logger {
	return logging.New(os.Stderr, logging.Options{
		Level:   logging.Level(internal.IsQuiet(), internal.IsDebug()),
		JSON:    internal.IsJSON(),
		Verbose: internal.IsVerbose(),
	})
}

// Returns the current working directory or "(unknown)".
func cwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "(unknown)"
	}
	return cwd
}
