package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/user"
	"strconv"
	"sync"
	"time"

	"github.com/cruciblehq/kiln/internal"
	"github.com/cruciblehq/kiln/internal/cache"
	"github.com/cruciblehq/kiln/internal/paths"
	"github.com/cruciblehq/kiln/internal/protocol"
	"github.com/cruciblehq/kiln/internal/runtime"
	"github.com/cruciblehq/kiln/internal/settings"
)

const (

	// Group name used to grant socket access. Members of this group can
	// connect to the daemon socket without owning the process.
	socketGroup = "kiln"

	// File mode applied to the Unix socket. Owner and group get read-write
	// (required for connect); others get no access.
	socketMode = 0660

	// Longest a single request line may be.
	maxRequest = 16 << 20
)

// Listens on a Unix domain socket and dispatches commands.
type Server struct {
	cfg        *settings.Config
	socketPath string           // Path to the Unix socket file.
	runtime    *runtime.Runtime // Containerd-backed container runtime.
	cache      *cache.Store     // Layer cache index.
	listener   net.Listener     // Listener for incoming connections.
	http       *http.Server     // Optional status and metrics listener.
	startedAt  time.Time        // Timestamp when the server started.
	builds     int              // Total number of build commands completed.
	active     int              // Builds currently running.
	done       chan struct{}    // Closed on shutdown.
	stopOnce   sync.Once
	mu         sync.Mutex // Protects builds and active.
}

// Creates a server connected to containerd and the layer cache.
//
// The socket is not opened until [Server.Start] is called.
func New(cfg *settings.Config) (*Server, error) {
	rt, err := runtime.New(cfg.Containerd.Address, cfg.Containerd.Namespace, cfg.Containerd.Snapshotter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServer, err)
	}

	store, err := cache.Open(cfg.Cache.DSN)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("%w: %w", ErrServer, err)
	}

	return newServer(cfg, rt, store), nil
}

func newServer(cfg *settings.Config, rt *runtime.Runtime, store *cache.Store) *Server {
	socketPath := cfg.Daemon.Socket
	if socketPath == "" {
		socketPath = paths.Socket()
	}
	return &Server{
		cfg:        cfg,
		socketPath: socketPath,
		runtime:    rt,
		cache:      store,
		done:       make(chan struct{}),
	}
}

// Opens the Unix socket, and the HTTP listener when configured, and begins
// accepting connections.
func (s *Server) Start() error {
	listener, err := listen(s.socketPath)
	if err != nil {
		return err
	}

	s.listener = listener
	s.startedAt = time.Now()

	if err := writePID(); err != nil {
		slog.Warn("failed to write PID file", "error", err)
	}

	slog.Info("server listening on socket", "path", s.socketPath)
	go s.accept()

	if addr := s.cfg.Daemon.HTTPAddr; addr != "" {
		s.http = &http.Server{
			Addr:              addr,
			Handler:           s.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("http listening", "addr", addr)
			if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http listener failed", "error", err)
			}
		}()
	}
	return nil
}

// Creates the Unix socket listener, removes any stale socket from a previous
// run, and applies permissions.
func listen(socketPath string) (net.Listener, error) {
	if err := os.MkdirAll(paths.Runtime(), paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServer, err)
	}

	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to listen on %s: %w", ErrServer, socketPath, err)
	}

	if err := setSocketPermissions(socketPath); err != nil {
		listener.Close()
		return nil, err
	}

	return listener, nil
}

// Restricts socket access to owner and group. Any user in the kiln group
// can also connect.
func setSocketPermissions(socketPath string) error {
	if err := os.Chmod(socketPath, socketMode); err != nil {
		return fmt.Errorf("%w: failed to chmod socket %s: %w", ErrServer, socketPath, err)
	}

	g, err := user.LookupGroup(socketGroup)
	if err != nil {
		slog.Debug("socket group not found, socket accessible to owner only", "group", socketGroup)
		return nil
	}
	if gid, err := strconv.Atoi(g.Gid); err == nil {
		if err := os.Chown(socketPath, -1, gid); err != nil {
			slog.Warn("failed to chgrp socket", "group", socketGroup, "error", err)
		}
	}
	return nil
}

// Shuts down the server and releases its resources. Safe to call more
// than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)

		if s.listener != nil {
			s.listener.Close()
		}
		if s.http != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.http.Shutdown(ctx)
			cancel()
		}
		if s.cache != nil {
			s.cache.Close()
		}
		if s.runtime != nil {
			s.runtime.Close()
		}

		os.Remove(s.socketPath)
		os.Remove(paths.PIDFile())
	})
	return nil
}

// Blocks until the server stops.
func (s *Server) Wait() {
	<-s.done
}

// Accepts connections in a loop until the server shuts down.
func (s *Server) accept() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Error("accept error", "error", err)
				continue
			}
		}

		go s.handle(conn)
	}
}

// Processes a single connection.
//
// Reads one newline-delimited JSON message, dispatches the command, and
// writes the response. The connection is closed after one exchange.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReaderSize(conn, 64<<10)

	line, err := readLine(reader)
	if err != nil {
		slog.Error("read error", "error", err)
		return
	}

	env, payload, err := protocol.Decode(line)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	slog.Info("command received", "command", env.Command)

	ctx, cancel := contextWithDisconnect(context.Background(), reader)
	defer cancel()

	s.dispatch(ctx, conn, env.Command, payload)
}

// Reads up to the first newline, refusing lines longer than maxRequest.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxRequest {
			return nil, fmt.Errorf("%w: request exceeds %d bytes", ErrServer, maxRequest)
		}
		if err == nil {
			return line, nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return nil, err
		}
	}
}

// Routes a command to the appropriate handler.
func (s *Server) dispatch(ctx context.Context, conn net.Conn, cmd protocol.Command, payload json.RawMessage) {
	switch cmd {
	case protocol.CmdBuild:
		s.handleBuild(ctx, conn, payload)
	case protocol.CmdPlan:
		s.handlePlan(ctx, conn, payload)
	case protocol.CmdCacheList:
		s.handleCacheList(ctx, conn)
	case protocol.CmdCachePrune:
		s.handleCachePrune(ctx, conn, payload)
	case protocol.CmdStatus:
		s.handleStatus(conn)
	case protocol.CmdShutdown:
		s.handleShutdown(conn)
	default:
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{
			Message: fmt.Sprintf("unknown command: %s", cmd),
		})
	}
}

// Writes a JSON envelope response to the connection.
func (s *Server) respond(conn io.Writer, cmd protocol.Command, payload any) {
	data, err := protocol.Encode(cmd, payload)
	if err != nil {
		slog.Error("encode response failed", "error", err)
		return
	}
	data = append(data, '\n')
	conn.Write(data)
}

// Current daemon status.
func (s *Server) status() *protocol.StatusResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &protocol.StatusResult{
		Running: true,
		Version: internal.VersionString(),
		Pid:     os.Getpid(),
		Uptime:  time.Since(s.startedAt).Truncate(time.Second).String(),
		Builds:  s.builds,
		Active:  s.active,
	}
}

// Writes the daemon PID to the PID file so the CLI can detect whether the
// daemon is already running and send it signals.
func writePID() error {
	if err := os.MkdirAll(paths.Runtime(), paths.DefaultDirMode); err != nil {
		return err
	}
	return os.WriteFile(paths.PIDFile(), []byte(strconv.Itoa(os.Getpid())), paths.DefaultFileMode)
}

// Returns a derived context that is cancelled when the remote end of the
// connection closes.
//
// Detection works by reading from r in a background goroutine; the read
// returns once the peer closes the connection. No further data may be
// expected on r for the lifetime of the returned context. The returned
// [context.CancelFunc] must always be called.
func contextWithDisconnect(parent context.Context, r io.Reader) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		buf := make([]byte, 1)
		r.Read(buf)
		cancel()
	}()

	return ctx, cancel
}
