package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keys(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out
}

func TestStaleOrdersChildrenFirst(t *testing.T) {
	s, clock := setupStore(t)
	ctx := context.Background()

	// base -> apt -> pip -> tree
	require.NoError(t, s.Put(ctx, entry("apt", "sha256:base")))
	require.NoError(t, s.Put(ctx, entry("pip", "apt")))
	require.NoError(t, s.Put(ctx, entry("tree", "pip")))

	stale, err := s.Stale(ctx, clock.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, []string{"tree", "pip", "apt"}, keys(stale))
}

func TestStaleKeepsAncestorsOfFreshLayers(t *testing.T) {
	s, clock := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, entry("apt", "sha256:base")))
	require.NoError(t, s.Put(ctx, entry("pip", "apt")))
	require.NoError(t, s.Put(ctx, entry("tree-v1", "pip")))

	*clock = clock.Add(24 * time.Hour)
	require.NoError(t, s.Put(ctx, entry("tree-v2", "pip")))
	cutoff := clock.Add(-time.Hour)

	stale, err := s.Stale(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"tree-v1"}, keys(stale))
}

func TestStaleEmpty(t *testing.T) {
	s, clock := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, entry("a", "")))

	stale, err := s.Stale(ctx, clock.Add(-time.Second))
	require.NoError(t, err)
	assert.Empty(t, stale)
}
