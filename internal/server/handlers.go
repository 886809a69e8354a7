package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"time"

	"github.com/cruciblehq/kiln/internal/build"
	"github.com/cruciblehq/kiln/internal/buildctx"
	"github.com/cruciblehq/kiln/internal/cache"
	"github.com/cruciblehq/kiln/internal/paths"
	"github.com/cruciblehq/kiln/internal/protocol"
)

// Handles a build command.
//
// Opens the requested build context and executes the recipe against the
// container runtime. A failing run step reports its exit code.
func (s *Server) handleBuild(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.BuildRequest](payload)
	if err != nil {
		s.fail(conn, err)
		return
	}

	opts, closeCtx, err := s.buildOptions(ctx, req)
	if err != nil {
		s.fail(conn, err)
		return
	}
	defer closeCtx()

	s.mu.Lock()
	s.active++
	s.mu.Unlock()

	result, err := build.Run(ctx, s.runtime, opts)

	s.mu.Lock()
	s.active--
	if err == nil {
		s.builds++
	}
	s.mu.Unlock()

	if err != nil {
		s.fail(conn, err)
		return
	}

	s.respond(conn, protocol.CmdOK, &protocol.BuildResult{
		Output: result.Output,
		Images: result.Images,
		Hits:   result.Hits,
		Misses: result.Misses,
	})
}

// Handles a plan command.
func (s *Server) handlePlan(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.BuildRequest](payload)
	if err != nil {
		s.fail(conn, err)
		return
	}

	opts, closeCtx, err := s.buildOptions(ctx, req)
	if err != nil {
		s.fail(conn, err)
		return
	}
	defer closeCtx()

	steps, err := build.Plan(ctx, s.runtime, opts)
	if err != nil {
		s.fail(conn, err)
		return
	}

	res := &protocol.PlanResult{Steps: make([]protocol.PlanStep, 0, len(steps))}
	for _, st := range steps {
		res.Steps = append(res.Steps, protocol.PlanStep(st))
	}
	s.respond(conn, protocol.CmdOK, res)
}

// Handles a cache list command.
func (s *Server) handleCacheList(ctx context.Context, conn net.Conn) {
	entries, err := s.cacheEntries(ctx)
	if err != nil {
		s.fail(conn, err)
		return
	}
	s.respond(conn, protocol.CmdOK, &protocol.CacheListResult{Entries: entries})
}

// Handles a cache prune command.
func (s *Server) handleCachePrune(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.CachePruneRequest](payload)
	if err != nil {
		s.fail(conn, err)
		return
	}

	res, err := build.Prune(ctx, s.runtime, s.cache, s.pruneCutoff(req))
	if err != nil {
		s.fail(conn, err)
		return
	}
	s.respond(conn, protocol.CmdOK, &protocol.CachePruneResult{Removed: res.Removed, Bytes: res.Bytes})
}

// Handles a status command.
func (s *Server) handleStatus(conn net.Conn) {
	s.respond(conn, protocol.CmdOK, s.status())
}

// Handles a shutdown command.
func (s *Server) handleShutdown(conn net.Conn) {
	s.respond(conn, protocol.CmdOK, nil)
	slog.Info("shutdown requested")

	go s.Stop()
}

// Reports err to the client, with the exit code of a failed run step.
func (s *Server) fail(conn net.Conn, err error) {
	res := &protocol.ErrorResult{Message: err.Error()}
	if code, ok := build.ExitCode(err); ok {
		res.ExitCode = code
	}
	slog.Error("command failed", "error", err)
	s.respond(conn, protocol.CmdError, res)
}

// Translates a request into build options. The returned function releases
// the build context.
func (s *Server) buildOptions(ctx context.Context, req *protocol.BuildRequest) (build.Options, func(), error) {
	bctx, err := openContext(ctx, req.Context)
	if err != nil {
		return build.Options{}, nil, err
	}

	opts := build.Options{
		Recipe:    req.Recipe,
		Context:   bctx,
		Cache:     s.cache,
		NoCache:   req.NoCache,
		Resource:  req.Resource,
		Name:      req.Name,
		Output:    req.Output,
		Platforms: req.Platforms,
	}
	if opts.Output == "" {
		opts.Output = filepath.Join(bctx.Root(), "dist")
	}
	return opts, func() { bctx.Close() }, nil
}

func openContext(ctx context.Context, src protocol.ContextSource) (*buildctx.Context, error) {
	switch {
	case src.URL != "":
		return buildctx.Clone(ctx, src.URL, src.Ref, filepath.Join(paths.Cache(), "contexts"))
	case src.Dir != "":
		return buildctx.Open(src.Dir)
	default:
		return nil, fmt.Errorf("%w: no build context", ErrServer)
	}
}

// Entries of the layer cache, most recently used first.
func (s *Server) cacheEntries(ctx context.Context) ([]protocol.CacheEntry, error) {
	entries, err := s.cache.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]protocol.CacheEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, cacheEntry(e))
	}
	return out, nil
}

func cacheEntry(e cache.Entry) protocol.CacheEntry {
	return protocol.CacheEntry{
		Key:         e.Key,
		Parent:      e.Parent,
		Platform:    e.Platform,
		Description: e.Description,
		Digest:      e.Layer.Digest.String(),
		Size:        e.Layer.Size,
		CreatedAt:   e.CreatedAt,
		LastUsedAt:  e.LastUsedAt,
		Hits:        e.Hits,
	}
}

// Cutoff for a prune request: everything with All, the requested age, or
// the configured one.
func (s *Server) pruneCutoff(req *protocol.CachePruneRequest) time.Time {
	if req.All {
		return time.Now().Add(time.Second)
	}
	age := req.MaxAge
	if age <= 0 {
		age = s.cfg.Cache.MaxAge
	}
	return time.Now().Add(-age)
}
