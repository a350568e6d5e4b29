package engine

import (
	"context"
	"sync"
)

type eventKind int

const (
	evTaskStarted eventKind = iota
	evPermitRequested
	evOperationFinished
	evTaskFinished
)

type taskEvent struct {
	taskID      TaskID
	kind        eventKind
	opMeta      *OperationMetadata
	permitReply chan PermitResult
	locks       []Lock
}

// Task is a cheap, reference-counted handle carrying {id, name, event-sink}.
// It is cloned freely (Go pointer copy) and stored in the current-task
// context slot for the duration of the wrapping task body.
type Task struct {
	id     TaskID
	name   TaskName
	events chan<- taskEvent
	done   <-chan struct{}
}

func newTask(id TaskID, name TaskName, events chan<- taskEvent, done <-chan struct{}) *Task {
	return &Task{id: id, name: name, events: events, done: done}
}

// ID returns the task's dense identifier.
func (t *Task) ID() TaskID { return t.id }

// Name returns the user-supplied task name.
func (t *Task) Name() TaskName { return t.name }

// sendEvent deposits the event into the controller's event queue. It never
// blocks past the controller's lifetime: once the controller closes `done`
// (the Go analogue of the original mpsc receiver being dropped), further
// sends are silently discarded instead of blocking forever.
func (t *Task) sendEvent(ev taskEvent) {
	ev.taskID = t.id
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

// pendingRegistry is the one process-wide mutable datum the core allows: a
// mutex-guarded list of handles that have been registered but not yet
// adopted by a running task body, keyed by name. A task body's first entry
// into RunTask with a matching name atomically pops its entry.
type pendingRegistry struct {
	mu      sync.Mutex
	pending []*Task
}

var globalPendingRegistry pendingRegistry

func (r *pendingRegistry) register(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, t)
}

func (r *pendingRegistry) pop(name TaskName) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.pending {
		if t.name == name {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return t, true
		}
	}
	return nil, false
}

type taskCtxKey struct{}

// WithTask binds t as the current task for the lifetime of ctx's scope. This
// is the explicit-context translation of the original's future-local
// TASK.scope(...): Go has no future/goroutine-local storage, and spec.md §9
// names an explicit context object as the sanctioned substitute.
func WithTask(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, taskCtxKey{}, t)
}

// CurrentTask reports the task bound by the nearest enclosing RunTask, if any.
func CurrentTask(ctx context.Context) (*Task, bool) {
	t, ok := ctx.Value(taskCtxKey{}).(*Task)
	return t, ok
}

// RunTask wraps fn as a named task. If name matches a handle registered by
// Controller.Register and not yet adopted, the body runs bound to that
// handle (TaskStarted is sent before fn runs, TaskFinished exactly once
// after, including on panic, via defer). Otherwise the annotation is
// transparent and fn runs uncontrolled, matching the disabled-build contract.
func RunTask[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) (T, error) {
	task, ok := globalPendingRegistry.pop(TaskName(name))
	if !ok {
		return fn(ctx)
	}

	task.sendEvent(taskEvent{kind: evTaskStarted})
	defer task.sendEvent(taskEvent{kind: evTaskFinished})

	return fn(WithTask(ctx, task))
}
