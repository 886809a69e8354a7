package dockerd

import "errors"

var (
	ErrDocker            = errors.New("docker error")
	ErrBuildFailed       = errors.New("docker build failed")
	ErrUnsupportedBase   = errors.New("unsupported stage base")
	ErrNoOutputStage     = errors.New("recipe has no output stage")
	ErrContainerNotFound = errors.New("container not found")
)
