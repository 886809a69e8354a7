package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Number of log lines attached to a failed verification.
const logTail = 20

// Controls a verification run.
type VerifyOptions struct {
	Run     RunOptions
	Timeout time.Duration     // Readiness deadline.
	Env     map[string]string // Expected environment, [PythonEnv] when nil.
}

// Outcome of a verification run.
type Report struct {
	Address string        // Where the service answered.
	Ready   time.Duration // Time from start to the first response.
	Env     []string      // Process environment of the service.
	Logs    string        // Last log lines, filled in on failure.
}

// Starts the service, waits for it to accept connections, checks its
// environment and stops it again.
//
// The service is stopped whatever the outcome. On failure the report
// carries the last log lines of the service.
func Verify(ctx context.Context, runner Runner, opts VerifyOptions) (*Report, error) {
	want := opts.Env
	if want == nil {
		want = PythonEnv
	}

	start := time.Now()
	inst, err := runner.Start(ctx, opts.Run)
	if err != nil {
		return nil, err
	}

	report := &Report{Address: inst.Address}
	defer func() {
		if err := runner.Stop(context.WithoutCancel(ctx), inst); err != nil {
			slog.Warn("failed to stop service", "name", inst.Name, "error", err)
		}
	}()

	fail := func(err error) (*Report, error) {
		if logs, logErr := runner.Logs(context.WithoutCancel(ctx), inst, logTail); logErr == nil {
			report.Logs = logs
		}
		return report, err
	}

	if err := WaitReady(ctx, inst.Address, opts.Timeout); err != nil {
		return fail(err)
	}
	report.Ready = time.Since(start)

	env, err := runner.Env(ctx, inst)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrService, err))
	}
	report.Env = env

	if err := CheckEnv(env, want); err != nil {
		return fail(err)
	}

	slog.Info("service verified", "address", inst.Address, "ready", report.Ready.Round(time.Millisecond))
	return report, nil
}
