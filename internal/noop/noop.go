// Package noop is the compiled-out engine: the same Task/Operation shapes as
// internal/engine, collapsed to direct calls with no scheduling control
// whatsoever. It backs the root package's parcheck_disabled build tag, the
// Go analogue of original_source/src/disabled/mod.rs.
package noop

import "context"

// Task runs fn with no scheduling control.
func Task[T any](ctx context.Context, _ string, fn func(context.Context) (T, error)) (T, error) {
	return fn(ctx)
}

// Operation runs fn with no scheduling control.
func Operation[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	return fn(ctx)
}
