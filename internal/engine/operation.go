package engine

import (
	"context"
	"fmt"
)

// RunOperation wraps fn as a single annotated operation. If the calling
// goroutine has a current task (see CurrentTask), entry requests a
// scheduling permit and blocks until the controller grants it, then runs fn
// and reports completion; otherwise fn runs immediately (uncontrolled).
//
// Rust's OperationFuture is a hand-rolled poll state machine because a
// Future can stop being polled (dropped) at any await point, and the
// original needs to observe that. Go goroutines block rather than get
// polled, so the state machine collapses into a blocking function; the
// "dropped while suspended" case becomes ctx cancellation observed in the
// select below.
func RunOperation[T any](ctx context.Context, metadata *OperationMetadata, locks []Lock, fn func(context.Context) (T, error)) (T, error) {
	task, ok := CurrentTask(ctx)
	if !ok {
		return fn(ctx)
	}

	permitReply := make(chan PermitResult, 1)
	task.sendEvent(taskEvent{
		kind:        evPermitRequested,
		opMeta:      metadata,
		permitReply: permitReply,
		locks:       locks,
	})

	select {
	case permit := <-permitReply:
		if permit.Kind == PermitAlreadyInProgress {
			panic(fmt.Sprintf(
				"parcheck: operation %q already in progress for task %q (operation at %s:%d)",
				permit.Other.Name, task.Name(), permit.Other.File, permit.Other.Line,
			))
		}
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-task.done:
		// Controller went away; best-effort continuation preserves clean shutdown.
	}

	value, err := fn(ctx)
	// If fn panicked, this line never runs: the controller treats the
	// task's eventual TaskFinished as authoritative, exactly as the
	// original documents for a future dropped mid-operation.
	task.sendEvent(taskEvent{kind: evOperationFinished})
	return value, err
}
