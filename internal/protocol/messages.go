package protocol

import (
	"time"

	"github.com/cruciblehq/kiln/internal/recipe"
)

// Where a build context comes from. Exactly one of Dir and URL is set.
type ContextSource struct {
	Dir string `json:"dir,omitempty"` // Local directory, absolute.
	URL string `json:"url,omitempty"` // Git repository.
	Ref string `json:"ref,omitempty"` // Branch or tag for URL; the default branch when empty.
}

// Payload of [CmdBuild] and [CmdPlan].
type BuildRequest struct {
	Recipe    *recipe.Recipe `json:"recipe"`
	Context   ContextSource  `json:"context"`
	Resource  string         `json:"resource,omitempty"`
	Name      string         `json:"name,omitempty"`
	Output    string         `json:"output,omitempty"`
	Platforms []string       `json:"platforms,omitempty"`
	NoCache   bool           `json:"no_cache,omitempty"`
}

// Result of [CmdBuild].
type BuildResult struct {
	Output string   `json:"output"`
	Images []string `json:"images"`
	Hits   int      `json:"hits"`
	Misses int      `json:"misses"`
}

// A layer step of a plan.
type PlanStep struct {
	Platform    string `json:"platform"`
	Stage       string `json:"stage"`
	Step        string `json:"step"`
	Description string `json:"description"`
	Key         string `json:"key"`
	Cached      bool   `json:"cached"`
}

// Result of [CmdPlan].
type PlanResult struct {
	Steps []PlanStep `json:"steps"`
}

// A layer in the cache index.
type CacheEntry struct {
	Key         string    `json:"key"`
	Parent      string    `json:"parent"`
	Platform    string    `json:"platform"`
	Description string    `json:"description"`
	Digest      string    `json:"digest"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at"`
	Hits        int64     `json:"hits"`
}

// Result of [CmdCacheList].
type CacheListResult struct {
	Entries []CacheEntry `json:"entries"`
}

// Payload of [CmdCachePrune]. Layers unused for longer than MaxAge are
// removed; zero selects the daemon's configured age, All removes every
// unreferenced layer.
type CachePruneRequest struct {
	MaxAge time.Duration `json:"max_age,omitempty"`
	All    bool          `json:"all,omitempty"`
}

// Result of [CmdCachePrune].
type CachePruneResult struct {
	Removed int   `json:"removed"`
	Bytes   int64 `json:"bytes"`
}

// Result of [CmdStatus].
type StatusResult struct {
	Running bool   `json:"running"`
	Version string `json:"version"`
	Pid     int    `json:"pid"`
	Uptime  string `json:"uptime"`
	Builds  int    `json:"builds"`
	Active  int    `json:"active"`
}

// Payload of [CmdError].
type ErrorResult struct {
	Message  string `json:"message"`
	ExitCode int    `json:"exit_code,omitempty"` // Exit code of a failed run step.
}
