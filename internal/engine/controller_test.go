package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runSimpleTask(t *testing.T, wg *sync.WaitGroup, name string, ops int, fn func(i int)) {
	t.Helper()
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := RunTask(context.Background(), name, func(ctx context.Context) (struct{}, error) {
			meta := &OperationMetadata{Name: "op", File: "controller_test.go", Line: 1}
			for i := 0; i < ops; i++ {
				i := i
				_, err := RunOperation(ctx, meta, nil, func(context.Context) (struct{}, error) {
					fn(i)
					return struct{}{}, nil
				})
				require.NoError(t, err)
			}
			return struct{}{}, nil
		})
		require.NoError(t, err)
	}()
}

func driveToCompletion(c *Controller) {
	for {
		ready := c.Ready()
		all := true
		for _, e := range ready {
			if e.State.Kind != TaskFinished {
				all = false
				break
			}
		}
		if all {
			return
		}
		for _, e := range ready {
			if e.CanExecute() {
				c.StepForward(e.Handle.ID())
				break
			}
		}
	}
}

func TestControllerStepsTwoTasksToCompletion(t *testing.T) {
	c := Register([]TaskName{"a", "b"})
	defer c.Close()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var order []string
	runSimpleTask(t, &wg, "a", 2, func(i int) {
		mu.Lock()
		order = append(order, "a")
		mu.Unlock()
	})
	runSimpleTask(t, &wg, "b", 2, func(i int) {
		mu.Lock()
		order = append(order, "b")
		mu.Unlock()
	})

	driveToCompletion(c)
	c.AssertFinished()
	wg.Wait()

	assert.Len(t, order, 4)
}

func TestControllerReentrantOperationPanics(t *testing.T) {
	c := Register([]TaskName{"solo"})
	defer c.Close()

	panicked := make(chan any, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				panicked <- r
			} else {
				panicked <- nil
			}
		}()
		_, _ = RunTask(context.Background(), "solo", func(ctx context.Context) (struct{}, error) {
			outer := &OperationMetadata{Name: "outer", File: "f.go", Line: 1}
			inner := &OperationMetadata{Name: "inner", File: "f.go", Line: 2}
			return RunOperation(ctx, outer, nil, func(ctx context.Context) (struct{}, error) {
				// Nested call from inside the outer operation's body, i.e.
				// after the controller has granted the outer permit: another
				// request on the same task, which must be rejected as
				// already in progress.
				return RunOperation(ctx, inner, nil, func(context.Context) (struct{}, error) {
					return struct{}{}, nil
				})
			})
		})
	}()

	// Grant the outer permit, then the task immediately issues the nested
	// request while InsideOperation; keep draining until it panics.
	ready := c.Ready()
	require.Len(t, ready, 1)
	c.StepForward(ready[0].Handle.ID())

	select {
	case r := <-panicked:
		require.NotNil(t, r)
		assert.Contains(t, r.(string), "already in progress")
	case <-time.After(2 * time.Second):
		t.Fatal("expected reentrant operation to panic")
	}
}

func TestControllerFinishedWithoutReleasingLocksPanics(t *testing.T) {
	c := Register([]TaskName{"leaky"})
	defer c.Close()

	go func() {
		_, _ = RunTask(context.Background(), "leaky", func(ctx context.Context) (struct{}, error) {
			meta := &OperationMetadata{Name: "acquire-only", File: "f.go", Line: 1}
			return RunOperation(ctx, meta, []Lock{AcquireExclusive("scope")}, func(context.Context) (struct{}, error) {
				return struct{}{}, nil
			})
		})
	}()

	ready := c.Ready()
	require.Len(t, ready, 1)

	assert.Panics(t, func() {
		c.StepForward(ready[0].Handle.ID())
		c.Ready()
	})
}

func TestControllerAssertFinishedReportsDeadlock(t *testing.T) {
	// Classic ABBA deadlock: x holds A and wants B, y holds B and wants A,
	// via two sequential (non-nested) operations each so no reentrancy
	// check fires.
	c := Register([]TaskName{"x", "y"})
	defer c.Close()

	run := func(name, first, second string) {
		go func() {
			_, _ = RunTask(context.Background(), name, func(ctx context.Context) (struct{}, error) {
				hold := &OperationMetadata{Name: "hold", File: "f.go", Line: 1}
				_, err := RunOperation(ctx, hold, []Lock{AcquireExclusive(first)}, func(context.Context) (struct{}, error) {
					return struct{}{}, nil
				})
				if err != nil {
					return struct{}{}, err
				}
				want := &OperationMetadata{Name: "want", File: "f.go", Line: 2}
				return RunOperation(ctx, want, []Lock{AcquireExclusive(second), Release(first), Release(second)}, func(context.Context) (struct{}, error) {
					return struct{}{}, nil
				})
			})
		}()
	}
	run("x", "A", "B")
	run("y", "B", "A")

	ready := c.Ready()
	require.Len(t, ready, 2)
	for _, e := range ready {
		c.StepForward(e.Handle.ID())
	}

	// Both tasks are now waiting on the lock the other holds.
	ready = c.Ready()
	for _, e := range ready {
		assert.False(t, e.CanExecute(), "%s should be blocked", e.Handle.Name())
	}

	assert.Panics(t, func() {
		c.AssertFinished()
	})
}
