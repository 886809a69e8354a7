package recipe

import "errors"

var (
	ErrInvalidRecipe          = errors.New("invalid recipe")
	ErrLayerOrder             = errors.New("dependency manifest must be copied before the source tree")
	ErrUnsupportedInstruction = errors.New("unsupported dockerfile instruction")
)
