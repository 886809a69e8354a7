// Package client sends requests to the kiln daemon.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cruciblehq/kiln/internal/protocol"
)

// Timeout for establishing the connection.
const dialTimeout = 5 * time.Second

var ErrUnavailable = errors.New("daemon is not running")

// Error reported by the daemon.
type RemoteError struct {
	Message  string
	ExitCode int // Exit code of a failed run step, zero otherwise.
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Sends cmd with payload req to the daemon listening on socket and decodes
// the result into res, which may be nil.
//
// The connection stays open until the daemon answers; closing it, which
// happens when ctx is cancelled, cancels the request on the daemon side.
func Call(ctx context.Context, socket string, cmd protocol.Command, req, res any) error {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	data, err := protocol.Encode(cmd, req)
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("receive %s: %w", cmd, err)
	}

	env, payload, err := protocol.Decode(line)
	if err != nil {
		return err
	}

	switch env.Command {
	case protocol.CmdError:
		e, err := protocol.DecodePayload[protocol.ErrorResult](payload)
		if err != nil {
			return err
		}
		return &RemoteError{Message: e.Message, ExitCode: e.ExitCode}
	case protocol.CmdOK:
	default:
		return fmt.Errorf("%w: unexpected response %q", protocol.ErrMalformed, env.Command)
	}

	if res == nil || len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, res)
}
