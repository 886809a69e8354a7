package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope format version.
const Version = 1

var (
	ErrMalformed = errors.New("malformed message")
	ErrVersion   = errors.New("unsupported protocol version")
)

// Names a request or response.
type Command string

const (
	CmdBuild      Command = "build"
	CmdPlan       Command = "plan"
	CmdCacheList  Command = "cache.list"
	CmdCachePrune Command = "cache.prune"
	CmdStatus     Command = "status"
	CmdShutdown   Command = "shutdown"
	CmdOK         Command = "ok"
	CmdError      Command = "error"
)

// Wraps every message on the wire.
type Envelope struct {
	Version int             `json:"version"`
	Command Command         `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encodes a command and its payload. A nil payload is omitted.
func Encode(cmd Command, payload any) ([]byte, error) {
	env := Envelope{Version: Version, Command: cmd}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		env.Payload = data
	}
	return json.Marshal(env)
}

// Decodes an envelope, returning it along with its raw payload.
func Decode(data []byte) (*Envelope, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if env.Version != Version {
		return nil, nil, fmt.Errorf("%w: %d", ErrVersion, env.Version)
	}
	if env.Command == "" {
		return nil, nil, fmt.Errorf("%w: missing command", ErrMalformed)
	}
	return &env, env.Payload, nil
}

// Decodes a payload into T. An empty payload yields the zero value.
func DecodePayload[T any](payload json.RawMessage) (*T, error) {
	var v T
	if len(payload) == 0 {
		return &v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return &v, nil
}
