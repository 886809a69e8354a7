package cache

import (
	"context"
	"time"
)

// Returns the layers that can be pruned: entries last used before the cutoff
// whose descendants are all prunable too. The result is ordered children
// first, so snapshots can be removed in order without orphaning a child.
func (s *Store) Stale(ctx context.Context, before time.Time) ([]Entry, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]Entry, len(entries))
	children := make(map[string][]string)
	for _, e := range entries {
		byKey[e.Key] = e
		children[e.Parent] = append(children[e.Parent], e.Key)
	}

	prunable := make(map[string]bool, len(entries))
	var check func(key string) bool
	check = func(key string) bool {
		if v, ok := prunable[key]; ok {
			return v
		}
		ok := byKey[key].LastUsedAt.Before(before)
		for _, child := range children[key] {
			if !check(child) {
				ok = false
			}
		}
		prunable[key] = ok
		return ok
	}

	var out []Entry
	visited := make(map[string]bool, len(entries))
	var visit func(key string)
	visit = func(key string) {
		if visited[key] {
			return
		}
		visited[key] = true
		for _, child := range children[key] {
			visit(child)
		}
		if check(key) {
			out = append(out, byKey[key])
		}
	}

	for _, e := range entries {
		visit(e.Key)
	}
	return out, nil
}
