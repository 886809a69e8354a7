package service

import (
	"context"
	"fmt"
	"net"
	"sort"

	"github.com/joho/godotenv"
)

// Port the reference service listens on.
const DefaultPort = "8000/tcp"

// Environment every Python service image must carry.
var PythonEnv = map[string]string{
	"PYTHONDONTWRITEBYTECODE": "1",
	"PYTHONUNBUFFERED":        "1",
}

// Describes a service to start.
type RunOptions struct {
	Image   string   // Image reference (Docker) or containerd tag.
	Archive string   // OCI archive to import before starting (containerd).
	Name    string   // Container name.
	Env     []string // Extra "KEY=value" entries over the image environment.
	Port    string   // Container port, e.g. "8000/tcp".
	Host    string   // Host address the readiness probe connects to.
}

// A started service.
type Instance struct {
	ID      string // Backend container ID.
	Name    string
	Image   string
	Address string // host:port where the service accepts connections.

	imported bool // The image was imported for this instance and is removed on stop.
}

// Starts and stops service containers.
type Runner interface {
	Start(ctx context.Context, opts RunOptions) (*Instance, error)
	Stop(ctx context.Context, inst *Instance) error
	Env(ctx context.Context, inst *Instance) ([]string, error)
	Logs(ctx context.Context, inst *Instance, tail int) (string, error)
}

// Reads a dotenv file into sorted "KEY=value" entries.
func LoadEnvFile(path string) ([]string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrService, path, err)
	}

	env := make([]string, 0, len(values))
	for k, v := range values {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env, nil
}

func address(host, port string) string {
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
