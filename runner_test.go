//go:build !parcheck_disabled

package parcheck

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoTaskBody runs "a" and "b" each through one unlocked operation and
// returns nil; the order they actually stepped in is observed separately
// via Runner.AfterStep, since a single Run call may drive many iterations.
func twoTaskBody(ctx context.Context) error {
	op := Op("op")
	errCh := make(chan error, 2)
	for _, name := range []string{"a", "b"} {
		name := name
		go func() {
			errCh <- Task(ctx, name, func(ctx context.Context) error {
				return Operation(ctx, op, nil, func(context.Context) error {
					return nil
				})
			})
		}()
	}
	for range 2 {
		if err := <-errCh; err != nil {
			return err
		}
	}
	return nil
}

func TestRunnerExploresBothInterleavings(t *testing.T) {
	var mu sync.Mutex
	perIteration := map[int][]string{}

	runner := NewRunner(Config{}).AfterStep(func(_ context.Context, iteration int, _ TaskID, name string) {
		mu.Lock()
		perIteration[iteration] = append(perIteration[iteration], name)
		mu.Unlock()
	})

	err := runner.Run(context.Background(), []string{"a", "b"}, twoTaskBody)
	require.NoError(t, err)

	require.Len(t, perIteration, 2, "expected the schedule tree to explore exactly 2 interleavings")
	seenAFirst, seenBFirst := false, false
	for _, order := range perIteration {
		require.Len(t, order, 2)
		if order[0] == "a" {
			seenAFirst = true
		} else {
			seenBFirst = true
		}
	}
	assert.True(t, seenAFirst, "expected to see schedule a-before-b")
	assert.True(t, seenBFirst, "expected to see schedule b-before-a")
}

func TestRunnerReplayForcesExactSchedule(t *testing.T) {
	var mu sync.Mutex
	var order []string

	runner := NewRunner(Config{}).Replay(Trace{{ID: 1}, {ID: 0}}).
		AfterStep(func(_ context.Context, _ int, _ TaskID, name string) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		})

	err := runner.Run(context.Background(), []string{"a", "b"}, twoTaskBody)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, order)
}
