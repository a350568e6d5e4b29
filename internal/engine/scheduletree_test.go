package engine

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runOpsTask runs a task with n sequential, unlocked operations, the
// minimal shape needed to exercise the tree's expand/classify/pick loop
// without lock interaction.
func runOpsTask(name string, n int) {
	go func() {
		_, _ = RunTask(context.Background(), name, func(ctx context.Context) (struct{}, error) {
			meta := &OperationMetadata{Name: "op", File: "f.go", Line: 1}
			for i := 0; i < n; i++ {
				_, err := RunOperation(ctx, meta, nil, func(context.Context) (struct{}, error) {
					return struct{}{}, nil
				})
				if err != nil {
					return struct{}{}, err
				}
			}
			return struct{}{}, nil
		})
	}()
}

func TestScheduleTreeExploresAllInterleavings(t *testing.T) {
	// Two tasks, one operation each: exactly 2 distinct interleavings (a
	// first or b first), and the tree must be exhausted after exploring both.
	names := []TaskName{"a", "b"}
	tree := NewScheduleTree(names)
	rng := rand.New(rand.NewPCG(1, 2))

	seen := map[string]bool{}
	for tree.HasUnfinishedPaths() {
		c := Register(names)
		runOpsTask("a", 1)
		runOpsTask("b", 1)

		cursor, ok := tree.PickUnfinishedPath(rng)
		require.True(t, ok)

		var order []string
		for {
			ready := c.Ready()
			id, ok := cursor.VisitAndPick(ready, rng)
			if !ok {
				break
			}
			order = append(order, string(ready[id].Handle.Name()))
			c.StepForward(id)
		}
		c.AssertFinished()
		c.Close()

		key := ""
		for _, n := range order {
			key += n + ","
		}
		seen[key] = true
	}

	assert.Len(t, seen, 2)
	assert.True(t, seen["a,b,"])
	assert.True(t, seen["b,a,"])
}
