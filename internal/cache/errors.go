package cache

import "errors"

var (
	ErrCache    = errors.New("layer cache error")
	ErrNotFound = errors.New("layer not cached")
	ErrMigrate  = errors.New("layer cache migration failed")
)
