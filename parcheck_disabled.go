//go:build parcheck_disabled

package parcheck

import (
	"context"
	"runtime"

	"github.com/hrygo/parcheck/internal/noop"
)

// Lock/OperationMetadata still need concrete types so calling code compiles
// unchanged in the disabled build; they just carry no behavior.
type (
	Lock              struct{}
	OperationMetadata struct {
		Name string
		File string
		Line int
	}
)

func AcquireShared(string) Lock    { return Lock{} }
func AcquireExclusive(string) Lock { return Lock{} }
func ReleaseLock(string) Lock      { return Lock{} }

// Op is kept even in the disabled build so callers don't need a second
// build-tagged copy of their call sites.
func Op(name string) *OperationMetadata {
	_, file, line, _ := runtime.Caller(1)
	return &OperationMetadata{Name: name, File: file, Line: line}
}

// Task runs body directly with no scheduling control: the disabled build's
// contract is that every annotation becomes a no-op pass-through, matching
// original_source/src/disabled/mod.rs.
func Task(ctx context.Context, name string, body func(context.Context) error) error {
	_, err := noop.Task(ctx, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, body(ctx)
	})
	return err
}

func TaskValue[T any](ctx context.Context, name string, body func(context.Context) (T, error)) (T, error) {
	return noop.Task(ctx, name, body)
}

func Operation(ctx context.Context, _ *OperationMetadata, _ []Lock, body func(context.Context) error) error {
	_, err := noop.Operation(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, body(ctx)
	})
	return err
}

func OperationValue[T any](ctx context.Context, _ *OperationMetadata, _ []Lock, body func(context.Context) (T, error)) (T, error) {
	return noop.Operation(ctx, body)
}
