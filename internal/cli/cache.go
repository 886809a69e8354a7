package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cruciblehq/kiln/internal/build"
	"github.com/cruciblehq/kiln/internal/cache"
	"github.com/cruciblehq/kiln/internal/client"
	"github.com/cruciblehq/kiln/internal/protocol"
	"github.com/cruciblehq/kiln/internal/settings"
)

// Represents the 'kiln cache' command group.
type CacheCmd struct {
	Ls    CacheLsCmd    `cmd:"" help:"List cached layers."`
	Prune CachePruneCmd `cmd:"" help:"Remove layers unused for a while."`
}

// Represents the 'kiln cache ls' command.
type CacheLsCmd struct {
	JSON   bool `help:"Print entries as JSON."`
	Daemon bool `help:"Ask the running daemon."`
}

// Executes the cache ls command.
func (c *CacheLsCmd) Run(ctx context.Context, cfg *settings.Config) error {
	var entries []protocol.CacheEntry

	if c.Daemon {
		var res protocol.CacheListResult
		if err := client.Call(ctx, cfg.Daemon.Socket, protocol.CmdCacheList, nil, &res); err != nil {
			return err
		}
		entries = res.Entries
	} else {
		store, err := cache.Open(cfg.Cache.DSN)
		if err != nil {
			return err
		}
		defer store.Close()

		list, err := store.List(ctx)
		if err != nil {
			return err
		}
		for _, e := range list {
			entries = append(entries, protocol.CacheEntry{
				Key:         e.Key,
				Parent:      e.Parent,
				Platform:    e.Platform,
				Description: e.Description,
				Digest:      e.Layer.Digest.String(),
				Size:        e.Layer.Size,
				CreatedAt:   e.CreatedAt,
				LastUsedAt:  e.LastUsedAt,
				Hits:        e.Hits,
			})
		}
	}

	if c.JSON {
		return printJSON(os.Stdout, entries)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tPLATFORM\tSIZE\tHITS\tLAST USED\tDESCRIPTION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			shortKey(e.Key), e.Platform, e.Size, e.Hits, e.LastUsedAt.Format(time.DateTime), e.Description)
	}
	return tw.Flush()
}

// Represents the 'kiln cache prune' command.
type CachePruneCmd struct {
	MaxAge time.Duration `help:"Remove layers unused for longer than this. Defaults to cache.max_age."`
	All    bool          `help:"Remove every cached layer."`
	Daemon bool          `help:"Prune through the running daemon."`
}

// Executes the cache prune command.
func (c *CachePruneCmd) Run(ctx context.Context, cfg *settings.Config) error {
	if c.Daemon {
		var res protocol.CachePruneResult
		req := &protocol.CachePruneRequest{MaxAge: c.MaxAge, All: c.All}
		if err := client.Call(ctx, cfg.Daemon.Socket, protocol.CmdCachePrune, req, &res); err != nil {
			return err
		}
		fmt.Printf("removed %d layers, %d bytes\n", res.Removed, res.Bytes)
		return nil
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	store, err := cache.Open(cfg.Cache.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := build.Prune(ctx, rt, store, c.cutoff(cfg, time.Now()))
	if err != nil {
		return err
	}
	fmt.Printf("removed %d layers, %d bytes\n", res.Removed, res.Bytes)
	return nil
}

func (c *CachePruneCmd) cutoff(cfg *settings.Config, now time.Time) time.Time {
	if c.All {
		return now.Add(time.Second)
	}
	age := c.MaxAge
	if age <= 0 {
		age = cfg.Cache.MaxAge
	}
	return now.Add(-age)
}
