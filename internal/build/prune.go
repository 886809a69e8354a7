package build

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cruciblehq/kiln/internal/cache"
	"github.com/cruciblehq/kiln/internal/metrics"
	"github.com/cruciblehq/kiln/internal/runtime"
)

// Outcome of a cache prune.
type PruneResult struct {
	Removed int   // Layers removed.
	Bytes   int64 // Compressed size of the removed layers.
}

// Removes cached layers last used before the cutoff.
//
// Children go before their parents. A layer whose snapshot cannot be removed
// stays in the index, and so do its ancestors for this run.
func Prune(ctx context.Context, rt *runtime.Runtime, store *cache.Store, before time.Time) (*PruneResult, error) {
	stale, err := store.Stale(ctx, before)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}

	res := &PruneResult{}
	blocked := make(map[string]bool)
	for _, e := range stale {
		if blocked[e.Key] {
			blocked[e.Parent] = true
			continue
		}
		if err := rt.RemoveSnapshot(ctx, e.Snapshot); err != nil {
			slog.Warn("failed to remove layer snapshot", "snapshot", e.Snapshot, "error", err)
			blocked[e.Parent] = true
			continue
		}
		if err := store.Delete(ctx, e.Key); err != nil {
			return res, fmt.Errorf("%w: %w", ErrBuild, err)
		}
		res.Removed++
		res.Bytes += e.Layer.Size
		slog.Debug("pruned layer", "key", e.Key, "description", e.Description)
	}

	metrics.Pruned(res.Removed)
	slog.Info("cache pruned", "removed", res.Removed, "bytes", res.Bytes)
	return res, nil
}
