package internal

import (
	"fmt"
	"runtime"
	"strings"
)

const (

	// Program name, used for the binary, directories and log groups.
	Name = "kiln"

	// String to indicate an undefined variable
	defaultUndefined = "(undefined)"

	// String to indicate a local (non-pipeline) build
	defaultLocalBuild = "(local)"

	// Release channel that is omitted from version strings.
	mainBranch = "main"
)

// Set via -ldflags "-X github.com/cruciblehq/kiln/internal.version=...".
var (
	version   = "" // Version number (e.g., "1.2.3")
	stage     = "" // Release channel or git branch (e.g., "staging", "main")
	gitCommit = "" // Git commit hash (e.g., "a1b2c3d4")

	rawQuiet   = "false" // Whether to enable quiet mode
	rawDebug   = "false" // Whether to enable debug mode
	rawVerbose = "false" // Whether to enable verbose logging
	rawJSON    = "false" // Whether logs are emitted as JSON
)

// Returns the current version without a leading "v".
//
// Returns "(undefined)" when the version was not injected at build time.
func Version() string {
	v := strings.TrimSpace(version)
	if v == "" {
		return defaultUndefined
	}
	return strings.TrimPrefix(strings.ToLower(v), "v")
}

// Returns the release channel, lowercased.
func Stage() string {
	s := strings.TrimSpace(stage)
	if s == "" {
		return defaultUndefined
	}
	return strings.ToLower(s)
}

// Returns the git commit hash.
func GitCommit() string {
	c := strings.TrimSpace(gitCommit)
	if c == "" {
		return defaultUndefined
	}
	return c
}

// Returns true if any of the version, commit or channel variables is unset.
func IsLocal() bool {
	return strings.TrimSpace(version) == "" ||
		strings.TrimSpace(gitCommit) == "" ||
		strings.TrimSpace(stage) == ""
}

// Build metadata injected by the release pipeline.
type BuildInfo struct {
	Version  string `json:"version"`
	Channel  string `json:"channel"`
	Commit   string `json:"commit"`
	Platform string `json:"platform"`
	Local    bool   `json:"local"`
}

// Returns the build metadata of the running binary.
func Info() BuildInfo {
	return BuildInfo{
		Version:  Version(),
		Channel:  Stage(),
		Commit:   GitCommit(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
		Local:    IsLocal(),
	}
}

// Returns a detailed version string.
//
// Local builds return "(local)". Pipeline builds return
// "<version>[+<channel>] <commit> [<os>/<arch>]"; the main channel is omitted.
func VersionString() string {
	info := Info()
	if info.Local {
		return defaultLocalBuild
	}

	channel := ""
	if info.Channel != mainBranch {
		channel = "+" + info.Channel
	}
	return fmt.Sprintf("%s%s %s [%s]", info.Version, channel, info.Commit, info.Platform)
}
