// Package buildctx provides the build context: the directory tree that copy
// steps read from.
//
// A context is opened from a local directory or cloned from a git
// repository. Ignore rules are read from ".kilnignore", falling back to
// ".dockerignore", using the same pattern syntax as Docker. Ignored paths
// are never copied and never contribute to content digests, so editing an
// ignored file does not invalidate cached layers.
package buildctx
