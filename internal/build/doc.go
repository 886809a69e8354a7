// Package build executes recipes against containerd.
//
// A recipe is an ordered sequence of stages, each built on a base image.
// Every run or copy step in a stage produces one layer. Before anything
// runs, the stage is planned: modifiers are resolved and each layer step
// gets a cache key derived from its parent's key, the step itself, the
// content digest of any copied sources, and the effective environment,
// working directory and shell. A key found in the layer cache reuses the
// committed snapshot; otherwise the step runs in a fresh container on top
// of the previous layer and the result is committed and recorded.
//
// Because keys chain, editing application source only changes the key of
// the step that copies the source tree and everything after it. Layers for
// OS packages and dependency installation stay cached.
//
// Example usage:
//
//	result, err := build.Run(ctx, rt, build.Options{
//	    Recipe:    recipe.Django(recipe.DjangoOptions{}),
//	    Context:   buildCtx,
//	    Cache:     store,
//	    Resource:  "shop",
//	    Output:    "dist",
//	    Platforms: []string{"linux/amd64"},
//	})
//	if err != nil {
//	    return err
//	}
package build
