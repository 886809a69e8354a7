package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	probeInterval = 250 * time.Millisecond
	probeTimeout  = 2 * time.Second
)

// Waits until something answers HTTP at addr.
//
// Any response, whatever its status, proves the listener is up; only
// connection failures are retried. Returns [ErrNotReady] once timeout
// elapses.
func WaitReady(ctx context.Context, addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := retryablehttp.NewClient()
	client.Logger = slog.Default().With("probe", addr)
	client.HTTPClient.Timeout = probeTimeout
	client.RetryWaitMin = probeInterval
	client.RetryWaitMax = probeInterval
	client.RetryMax = int(timeout/probeInterval) + 1
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return err != nil, nil
	}
	client.ErrorHandler = func(resp *http.Response, err error, attempts int) (*http.Response, error) {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("after %d attempts: %w", attempts, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/", nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return fmt.Errorf("%w: %s within %s", ErrNotReady, addr, timeout)
		}
		return fmt.Errorf("%w: %s: %w", ErrNotReady, addr, err)
	}
	resp.Body.Close()

	slog.Debug("service ready", "addr", addr, "status", resp.StatusCode)
	return nil
}
