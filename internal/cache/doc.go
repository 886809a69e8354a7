// Package cache indexes committed build layers by cache key.
//
// Every filesystem-changing build step has a key derived from its parent's
// key and its own inputs. When a key is found, the builder reuses the
// committed snapshot and recorded layer descriptor instead of executing the
// step. The index lives in SQLite; the snapshots themselves belong to the
// container runtime.
//
//	store, err := cache.Open(paths.CacheDB())
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	entry, err := store.Get(ctx, key)
//	if errors.Is(err, cache.ErrNotFound) {
//		// build the step, then store.Put(ctx, entry)
//	}
package cache
