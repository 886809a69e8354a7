package buildctx

import "errors"

var (
	ErrContext        = errors.New("build context error")
	ErrOutsideContext = errors.New("path escapes the build context")
	ErrSourceNotFound = errors.New("copy source not found")
)
