//go:build !parcheck_disabled

package parcheck

import (
	"context"
	"runtime"

	"github.com/hrygo/parcheck/internal/engine"
)

// Lock is one request applied atomically when an operation begins, with
// Release entries deferred until the operation ends.
type Lock = engine.Lock

// AcquireShared requests a shared hold on scope when the operation begins.
func AcquireShared(scope string) Lock { return engine.AcquireShared(scope) }

// AcquireExclusive requests an exclusive hold on scope when the operation begins.
func AcquireExclusive(scope string) Lock { return engine.AcquireExclusive(scope) }

// ReleaseLock gives up scope when the operation ends. Named ReleaseLock (not
// Release) to avoid colliding with ctx-cancel-shaped helpers callers tend to
// write locally.
func ReleaseLock(scope string) Lock { return engine.Release(scope) }

// TaskID is the dense identifier the engine assigns each initial task, in
// the order passed to Runner.Run. Exposed so hooks (Runner.BeforeStep etc.)
// can be written by callers outside this module without reaching into
// internal/engine.
type TaskID = engine.TaskID

// OperationMetadata identifies an operation call site; build exactly one per
// call site (typically via Op, assigned to a package-level var) and reuse it
// on every call. Re-entrancy is detected from the task's state (a second
// permit request while it is inside an operation), not by comparing sites.
type OperationMetadata = engine.OperationMetadata

// Op captures the caller's file and line once, to be stored in a
// package-level var and passed to Operation/OperationValue on every call.
// This stands in for the file!()/line!() macro machinery that the
// user-facing annotation layer (out of scope for this core) would normally
// generate.
func Op(name string) *OperationMetadata {
	_, file, line, _ := runtime.Caller(1)
	return &OperationMetadata{Name: name, File: file, Line: line}
}

// Task wraps body as a named task. If name matches a task registered for
// the current iteration, entry binds body to that task's handle for the
// duration of the call (current-task discovery inside body goes through
// ctx); otherwise the annotation is transparent.
func Task(ctx context.Context, name string, body func(context.Context) error) error {
	_, err := engine.RunTask(ctx, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, body(ctx)
	})
	return err
}

// TaskValue is Task for bodies that produce a value.
func TaskValue[T any](ctx context.Context, name string, body func(context.Context) (T, error)) (T, error) {
	return engine.RunTask(ctx, name, body)
}

// Operation wraps body as a single annotated operation on the current task
// (if any). locks are applied atomically when body is about to run and
// released per the Release entries when this operation ends.
func Operation(ctx context.Context, metadata *OperationMetadata, locks []Lock, body func(context.Context) error) error {
	_, err := engine.RunOperation(ctx, metadata, locks, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, body(ctx)
	})
	return err
}

// OperationValue is Operation for bodies that produce a value.
func OperationValue[T any](ctx context.Context, metadata *OperationMetadata, locks []Lock, body func(context.Context) (T, error)) (T, error) {
	return engine.RunOperation(ctx, metadata, locks, body)
}
