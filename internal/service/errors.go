package service

import "errors"

var (
	ErrService     = errors.New("service error")
	ErrNotReady    = errors.New("service did not become ready")
	ErrEnvMismatch = errors.New("service environment mismatch")
)
