package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// TaskStateKind is the controller's tagged view of a task's progress.
type TaskStateKind int

const (
	TaskNotStarted TaskStateKind = iota
	TaskOutsideOperation
	TaskWaitingForPermit
	TaskInsideOperation
	TaskFinished
	taskInvalid // transient placeholder while swapping state; never externally observed
)

func (k TaskStateKind) String() string {
	switch k {
	case TaskNotStarted:
		return "NotStarted"
	case TaskOutsideOperation:
		return "OutsideOperation"
	case TaskWaitingForPermit:
		return "WaitingForPermit"
	case TaskInsideOperation:
		return "InsideOperation"
	case TaskFinished:
		return "Finished"
	default:
		return "Invalid"
	}
}

// TaskState is the controller's per-task state, see spec §3.
type TaskState struct {
	Kind           TaskStateKind
	Op             *OperationMetadata
	permitReply    chan PermitResult
	RequestedLocks []Lock
	BlockedLocks   []Lock
}

// TaskEntry pairs a task handle with the controller's current view of it;
// returned by Ready as a read-only snapshot.
type TaskEntry struct {
	Handle *Task
	State  TaskState
}

// CanExecute reports whether this task is a legitimate choice point: waiting
// for a permit with nothing blocking it.
func (e TaskEntry) CanExecute() bool {
	return e.State.Kind == TaskWaitingForPermit && len(e.State.BlockedLocks) == 0
}

type entry struct {
	handle *Task
	state  TaskState
}

// Controller owns the set of task states for one run iteration: it drains
// lifecycle events, tracks lock holders, and grants permits one at a time.
// It is single-owner by construction (spec §5): only the control goroutine
// of one iteration ever touches it.
type Controller struct {
	tasks   []entry
	byName  map[TaskName]TaskID
	events  chan taskEvent
	done    chan struct{}
	locked  lockedState
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

// ControllerOption configures optional Controller behavior.
type ControllerOption func(*Controller)

// WithTimeout overrides the default 5s quiescence timeout; a non-positive d
// leaves the default in place.
func WithTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger overrides the default (slog.Default()) logger.
func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics attaches an optional metrics sink; nil is a valid no-op sink.
func WithMetrics(m *Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

const DefaultTimeout = 5 * time.Second

// Register constructs a fresh controller over initialTasks and publishes one
// handle per task to the process-wide pending registry, ready to be adopted
// by the first matching RunTask call.
func Register(initialTasks []TaskName, opts ...ControllerOption) *Controller {
	events := make(chan taskEvent, 32)
	done := make(chan struct{})

	tasks := make([]entry, len(initialTasks))
	byName := make(map[TaskName]TaskID, len(initialTasks))
	for i, name := range initialTasks {
		id := TaskID(i)
		handle := newTask(id, name, events, done)
		globalPendingRegistry.register(handle)
		tasks[i] = entry{handle: handle, state: TaskState{Kind: TaskNotStarted}}
		byName[name] = id
	}

	c := &Controller{
		tasks:   tasks,
		byName:  byName,
		events:  events,
		done:    done,
		locked:  newLockedState(),
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes the controller's done channel, so that any task still
// trying to send an event (e.g. one whose operation future was abandoned)
// observes the closed signal rather than blocking forever. The Go analogue
// of the controller's mpsc::Receiver being dropped.
func (c *Controller) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// Ready drains events until every task is WaitingForPermit or Finished,
// recomputes each waiting task's BlockedLocks, and returns a snapshot. It
// panics if quiescence isn't reached within the configured timeout — this is
// how the core surfaces a stuck (non-cooperating) task.
func (c *Controller) Ready() []TaskEntry {
	deadline := time.NewTimer(c.timeout)
	defer deadline.Stop()

	for {
		if snap, ok := c.trySnapshot(); ok {
			return snap
		}

		select {
		case ev := <-c.events:
			c.apply(ev)
		case <-deadline.C:
			panic(c.stuckDiagnostic())
		}
	}
}

func (c *Controller) trySnapshot() ([]TaskEntry, bool) {
	for i := range c.tasks {
		k := c.tasks[i].state.Kind
		if k != TaskWaitingForPermit && k != TaskFinished {
			return nil, false
		}
	}

	snap := make([]TaskEntry, len(c.tasks))
	for i := range c.tasks {
		if c.tasks[i].state.Kind == TaskWaitingForPermit {
			c.tasks[i].state.BlockedLocks = c.locked.blocked(c.tasks[i].handle.id, c.tasks[i].state.RequestedLocks)
		}
		snap[i] = TaskEntry{Handle: c.tasks[i].handle, State: c.tasks[i].state}
	}
	return snap, true
}

func (c *Controller) stuckDiagnostic() string {
	var b strings.Builder
	b.WriteString("parcheck: timed out waiting for tasks to reach quiescence:")
	for _, e := range c.tasks {
		switch e.state.Kind {
		case TaskInsideOperation:
			fmt.Fprintf(&b, " %s(in-progress:%s)", e.handle.name, e.state.Op)
		case TaskWaitingForPermit:
			if len(e.state.BlockedLocks) > 0 {
				fmt.Fprintf(&b, " %s(blocked:%v)", e.handle.name, e.state.BlockedLocks)
			}
		}
	}
	return b.String()
}

// apply performs one event transition; see spec §4.3's table.
func (c *Controller) apply(ev taskEvent) {
	e := &c.tasks[ev.taskID]

	if ev.kind == evTaskFinished {
		if held := c.locked.heldScopes(e.handle.id); len(held) > 0 {
			panic(fmt.Sprintf("parcheck: task %q finished without releasing locks: %s", e.handle.name, formatScopes(held)))
		}
		e.state = TaskState{Kind: TaskFinished}
		return
	}

	switch e.state.Kind {
	case TaskNotStarted:
		if ev.kind != evTaskStarted {
			panic(fmt.Sprintf("parcheck: protocol violation: task %q received %v before starting", e.handle.name, ev.kind))
		}
		e.state = TaskState{Kind: TaskOutsideOperation}

	case TaskOutsideOperation:
		if ev.kind != evPermitRequested {
			panic(fmt.Sprintf("parcheck: protocol violation: task %q received %v outside an operation", e.handle.name, ev.kind))
		}
		e.state = TaskState{
			Kind:           TaskWaitingForPermit,
			Op:             ev.opMeta,
			permitReply:    ev.permitReply,
			RequestedLocks: ev.locks,
		}

	case TaskWaitingForPermit:
		// Only a cancelled wait (task unwinding without ever being granted
		// a permit) reaches here with a non-TaskFinished event, and that's
		// already handled above; anything else is a protocol violation.
		panic(fmt.Sprintf("parcheck: protocol violation: task %q received %v while waiting for a permit", e.handle.name, ev.kind))

	case TaskInsideOperation:
		switch ev.kind {
		case evOperationFinished:
			e.state = TaskState{Kind: TaskOutsideOperation}
		case evPermitRequested:
			other := e.state.Op
			select {
			case ev.permitReply <- PermitResult{Kind: PermitAlreadyInProgress, Other: other}:
			default:
			}
			// state unchanged: the nested request is rejected, not queued.
		default:
			panic(fmt.Sprintf("parcheck: protocol violation: task %q received %v while inside an operation", e.handle.name, ev.kind))
		}

	default:
		panic(fmt.Sprintf("parcheck: protocol violation: task %q received %v in state %s", e.handle.name, ev.kind, e.state.Kind))
	}
}

// StepForward grants the permit for task id, which must be WaitingForPermit
// with no blocked locks, then blocks until that task leaves InsideOperation.
func (c *Controller) StepForward(id TaskID) {
	e := &c.tasks[id]
	if e.state.Kind != TaskWaitingForPermit {
		panic(fmt.Sprintf("parcheck: step_forward: task %q is not waiting for a permit (state %s)", e.handle.name, e.state.Kind))
	}
	if len(e.state.BlockedLocks) > 0 {
		panic(fmt.Sprintf("parcheck: step_forward: task %q is blocked by locks: %v", e.handle.name, e.state.BlockedLocks))
	}

	locks := e.state.RequestedLocks
	reply := e.state.permitReply
	op := e.state.Op
	e.state = TaskState{Kind: TaskInsideOperation, Op: op}

	c.locked.acquire(id, locks)
	c.logger.Debug("parcheck: granting permit", "task", e.handle.name, "operation", op)

	select {
	case reply <- PermitResult{Kind: PermitGranted}:
	default:
	}

	for c.tasks[id].state.Kind == TaskInsideOperation {
		ev := <-c.events
		c.apply(ev)
	}

	c.locked.release(id, locks)
	c.metrics.incOperationsStepped()
}

// AssertFinished is called once per iteration after the control goroutine
// exits; it is fatal if any task is not Finished.
func (c *Controller) AssertFinished() {
	var notFinished []string
	for _, e := range c.tasks {
		if e.state.Kind == TaskFinished {
			continue
		}
		reason := "in-progress"
		if e.state.Kind == TaskWaitingForPermit && len(e.state.BlockedLocks) > 0 {
			reason = "deadlocked"
		}
		notFinished = append(notFinished, fmt.Sprintf("%s (%s)", e.handle.name, reason))
	}
	if len(notFinished) > 0 {
		c.metrics.incDeadlocksDetected()
		panic(fmt.Sprintf("parcheck: some tasks did not finish: %s", strings.Join(notFinished, ", ")))
	}
}

// Tasks returns the controller's task entries in registration order,
// independent of quiescence (used by the runner for trace lookups).
func (c *Controller) Tasks() []TaskEntry {
	out := make([]TaskEntry, len(c.tasks))
	for i, e := range c.tasks {
		out[i] = TaskEntry{Handle: e.handle, State: e.state}
	}
	return out
}

func formatScopes(scopes []string) string {
	quoted := make([]string, len(scopes))
	for i, s := range scopes {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
