package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cruciblehq/kiln/internal/dockerd"
	"github.com/cruciblehq/kiln/internal/paths"
	"github.com/cruciblehq/kiln/internal/runtime"
	"github.com/cruciblehq/kiln/internal/service"
	"github.com/cruciblehq/kiln/internal/settings"
)

// Flags shared by 'kiln run' and 'kiln verify'.
type serviceFlags struct {
	Image   string   `short:"i" help:"Image to run. Defaults to the exported archive (containerd) or the default image name (docker)." placeholder:"REF"`
	Archive string   `short:"a" help:"OCI archive to run." placeholder:"PATH" type:"path"`
	Name    string   `help:"Container name." placeholder:"NAME"`
	Port    string   `help:"Service port inside the container." default:"8000/tcp"`
	Env     []string `short:"e" help:"Extra environment entries (KEY=value)." placeholder:"KEY=VALUE"`
	EnvFile string   `help:"Dotenv file with extra environment entries." placeholder:"PATH" type:"path"`
}

// Resolves the flags into run options for the configured backend.
func (f *serviceFlags) options(cfg *settings.Config) (service.RunOptions, error) {
	opts := service.RunOptions{
		Image:   f.Image,
		Archive: f.Archive,
		Name:    f.Name,
		Port:    f.Port,
		Host:    cfg.Run.ProbeHost,
	}

	if opts.Image == "" && opts.Archive == "" {
		if cfg.Backend == settings.BackendDocker {
			opts.Image = defaultImage
		} else {
			abs, err := filepath.Abs(filepath.Join("dist", runtime.ExportFilename))
			if err != nil {
				return opts, err
			}
			opts.Archive = abs
		}
	}

	if f.EnvFile != "" {
		env, err := service.LoadEnvFile(f.EnvFile)
		if err != nil {
			return opts, err
		}
		opts.Env = append(opts.Env, env...)
	}
	opts.Env = append(opts.Env, f.Env...)
	return opts, nil
}

// Creates the runner for the configured backend. The returned function
// releases it.
func newRunner(cfg *settings.Config) (service.Runner, func(), error) {
	if cfg.Backend == settings.BackendDocker {
		backend, err := dockerd.New(cfg.Docker.Host)
		if err != nil {
			return nil, nil, err
		}
		return backend, func() { backend.Close() }, nil
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return nil, nil, err
	}
	runner := service.NewContainerd(rt, filepath.Join(paths.Cache(), "logs"))
	return runner, func() { rt.Close() }, nil
}

// Represents the 'kiln run' command.
type RunCmd struct {
	serviceFlags `embed:""`
}

// Executes the run command.
//
// Starts the service, waits until it accepts connections and keeps it
// running until interrupted. The container is removed on exit.
func (c *RunCmd) Run(ctx context.Context, cfg *settings.Config) error {
	opts, err := c.options(cfg)
	if err != nil {
		return err
	}

	runner, release, err := newRunner(cfg)
	if err != nil {
		return err
	}
	defer release()

	inst, err := runner.Start(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := runner.Stop(context.WithoutCancel(ctx), inst); err != nil {
			slog.Warn("failed to stop service", "name", inst.Name, "error", err)
		}
	}()

	if err := service.WaitReady(ctx, inst.Address, cfg.Run.ReadyTimeout); err != nil {
		printLogs(ctx, runner, inst)
		return err
	}

	slog.Info("service is running", "url", "http://"+inst.Address+"/", "name", inst.Name)

	<-ctx.Done()
	slog.Info("stopping service", "name", inst.Name)
	return nil
}

// Represents the 'kiln verify' command.
type VerifyCmd struct {
	serviceFlags `embed:""`

	Timeout time.Duration `help:"Readiness deadline. Defaults to run.ready_timeout."`
}

// Executes the verify command.
func (c *VerifyCmd) Run(ctx context.Context, cfg *settings.Config) error {
	opts, err := c.options(cfg)
	if err != nil {
		return err
	}

	runner, release, err := newRunner(cfg)
	if err != nil {
		return err
	}
	defer release()

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = cfg.Run.ReadyTimeout
	}

	report, err := service.Verify(ctx, runner, service.VerifyOptions{Run: opts, Timeout: timeout})
	if err != nil {
		if report != nil && report.Logs != "" {
			fmt.Fprintln(os.Stderr, report.Logs)
		}
		return err
	}

	fmt.Printf("ok %s ready in %s\n", report.Address, report.Ready.Round(time.Millisecond))
	return nil
}

func printLogs(ctx context.Context, runner service.Runner, inst *service.Instance) {
	logs, err := runner.Logs(context.WithoutCancel(ctx), inst, 20)
	if err != nil || logs == "" {
		return
	}
	fmt.Fprintln(os.Stderr, logs)
}
