package service

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverAddr(t *testing.T, status int) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

// Returns an address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestWaitReady(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusNotFound, http.StatusBadRequest, http.StatusInternalServerError} {
		err := WaitReady(context.Background(), serverAddr(t, status), 5*time.Second)
		assert.NoError(t, err, "status %d", status)
	}
}

func TestWaitReadyTimeout(t *testing.T) {
	start := time.Now()
	err := WaitReady(context.Background(), closedAddr(t), 700*time.Millisecond)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWaitReadyLateListener(t *testing.T) {
	addr := closedAddr(t)
	srv := &http.Server{Handler: http.NotFoundHandler()}
	t.Cleanup(func() { srv.Close() })

	go func() {
		time.Sleep(400 * time.Millisecond)
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return
		}
		srv.Serve(l)
	}()

	assert.NoError(t, WaitReady(context.Background(), addr, 10*time.Second))
}

func TestCheckEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     []string
		wantErr bool
		mention []string
	}{
		{
			name: "both set",
			env:  []string{"PATH=/usr/local/bin", "PYTHONDONTWRITEBYTECODE=1", "PYTHONUNBUFFERED=1"},
		},
		{
			name:    "one missing",
			env:     []string{"PYTHONUNBUFFERED=1"},
			wantErr: true,
			mention: []string{"PYTHONDONTWRITEBYTECODE is not set"},
		},
		{
			name:    "wrong value",
			env:     []string{"PYTHONDONTWRITEBYTECODE=0", "PYTHONUNBUFFERED=1"},
			wantErr: true,
			mention: []string{`PYTHONDONTWRITEBYTECODE="0"`},
		},
		{
			name:    "empty",
			wantErr: true,
			mention: []string{"PYTHONDONTWRITEBYTECODE", "PYTHONUNBUFFERED"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckEnv(tt.env, PythonEnv)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrEnvMismatch)
			for _, m := range tt.mention {
				assert.Contains(t, err.Error(), m)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("# local\nDJANGO_DEBUG=1\nDATABASE_URL=postgres://db/app\n"), 0o644))

	env, err := LoadEnvFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"DATABASE_URL=postgres://db/app", "DJANGO_DEBUG=1"}, env)

	_, err = LoadEnvFile(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrService)
}

func TestTailLines(t *testing.T) {
	text := "one\ntwo\nthree\nfour\n"
	assert.Equal(t, "three\nfour", tailLines(bufio.NewScanner(strings.NewReader(text)), 2))
	assert.Equal(t, "one\ntwo\nthree\nfour", tailLines(bufio.NewScanner(strings.NewReader(text)), 10))
	assert.Equal(t, "one\ntwo\nthree\nfour", tailLines(bufio.NewScanner(strings.NewReader(text)), 0))
}

// Runner backed by a local address.
type fakeRunner struct {
	addr     string
	env      []string
	startErr error
	started  int
	stopped  int
}

func (f *fakeRunner) Start(ctx context.Context, opts RunOptions) (*Instance, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started++
	return &Instance{ID: "fake", Name: opts.Name, Address: f.addr}, nil
}

func (f *fakeRunner) Stop(ctx context.Context, inst *Instance) error {
	f.stopped++
	return nil
}

func (f *fakeRunner) Env(ctx context.Context, inst *Instance) ([]string, error) {
	return f.env, nil
}

func (f *fakeRunner) Logs(ctx context.Context, inst *Instance, tail int) (string, error) {
	return "Watching for file changes with StatReloader", nil
}

func TestVerify(t *testing.T) {
	runner := &fakeRunner{
		addr: serverAddr(t, http.StatusNotFound),
		env:  []string{"PYTHONDONTWRITEBYTECODE=1", "PYTHONUNBUFFERED=1"},
	}

	report, err := Verify(context.Background(), runner, VerifyOptions{Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, runner.addr, report.Address)
	assert.Equal(t, runner.env, report.Env)
	assert.Empty(t, report.Logs)
	assert.Equal(t, 1, runner.stopped)
}

func TestVerifyEnvMismatchStops(t *testing.T) {
	runner := &fakeRunner{
		addr: serverAddr(t, http.StatusOK),
		env:  []string{"PYTHONUNBUFFERED=1"},
	}

	report, err := Verify(context.Background(), runner, VerifyOptions{Timeout: 5 * time.Second})
	assert.ErrorIs(t, err, ErrEnvMismatch)
	require.NotNil(t, report)
	assert.Contains(t, report.Logs, "StatReloader")
	assert.Equal(t, 1, runner.stopped)
}

func TestVerifyNotReadyStops(t *testing.T) {
	runner := &fakeRunner{addr: closedAddr(t)}

	_, err := Verify(context.Background(), runner, VerifyOptions{Timeout: 500 * time.Millisecond})
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, 1, runner.stopped)
}

func TestVerifyStartFailure(t *testing.T) {
	boom := errors.New("no such image")
	runner := &fakeRunner{startErr: boom}

	_, err := Verify(context.Background(), runner, VerifyOptions{Timeout: time.Second})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, runner.stopped)
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8000", address("", "8000"))
	assert.Equal(t, "0.0.0.0:8000", address("0.0.0.0", "8000"))
	assert.Equal(t, "[::1]:8000", address("::1", "8000"))
}
