package engine

import "fmt"

type lockMode int

const (
	modeShared lockMode = iota
	modeExclusive
)

type holder struct {
	task TaskID
	mode lockMode
}

// lockedState maps scope -> ordered list of (task, mode) holders. See spec
// §3 invariants: no scope has two holders when either is Exclusive (aside
// from the same task upgrading in place), and a task appears at most once
// per scope.
type lockedState struct {
	scopes map[string][]holder
}

func newLockedState() lockedState {
	return lockedState{scopes: make(map[string][]holder)}
}

func hasConflict(task TaskID, mode lockMode, holders []holder) bool {
	for _, h := range holders {
		if h.task != task && (h.mode == modeExclusive || mode == modeExclusive) {
			return true
		}
	}
	return false
}

// blocked returns the subset of locks's acquire entries that conflict with
// another task's current holdings; Release entries are ignored.
func (s *lockedState) blocked(task TaskID, locks []Lock) []Lock {
	var blockers []Lock
	for _, l := range locks {
		mode, ok := acquireMode(l)
		if !ok {
			continue
		}
		if hasConflict(task, mode, s.scopes[l.Scope]) {
			blockers = append(blockers, l)
		}
	}
	return blockers
}

// acquire applies every AcquireShared/AcquireExclusive entry, inserting a
// new holder or upgrading an existing Shared holding to Exclusive in place
// (never downgrading — see spec §9 re-entrant lock upgrade policy).
func (s *lockedState) acquire(task TaskID, locks []Lock) {
	for _, l := range locks {
		mode, ok := acquireMode(l)
		if !ok {
			continue
		}
		holders := s.scopes[l.Scope]
		if hasConflict(task, mode, holders) {
			panic(fmt.Sprintf("parcheck: acquire lock conflict on scope %q", l.Scope))
		}

		found := false
		for i, h := range holders {
			if h.task == task {
				found = true
				if mode == modeExclusive {
					holders[i].mode = modeExclusive
				}
				break
			}
		}
		if !found {
			holders = append(holders, holder{task: task, mode: mode})
		}
		s.scopes[l.Scope] = holders
	}
}

// release applies every Release entry, removing task from the named scope's
// holder list. Releasing a scope the task doesn't hold is a silent no-op,
// which is what lets callers model "hold lock across N operations" by
// acquiring in operation 1 and releasing in operation N.
func (s *lockedState) release(task TaskID, locks []Lock) {
	for _, l := range locks {
		if l.Kind != LockRelease {
			continue
		}
		holders := s.scopes[l.Scope]
		for i, h := range holders {
			if h.task == task {
				s.scopes[l.Scope] = append(holders[:i], holders[i+1:]...)
				break
			}
		}
	}
}

// heldScopes lists every scope task currently holds, for the
// finished-without-releasing-locks check.
func (s *lockedState) heldScopes(task TaskID) []string {
	var out []string
	for scope, holders := range s.scopes {
		for _, h := range holders {
			if h.task == task {
				out = append(out, scope)
				break
			}
		}
	}
	return out
}

func acquireMode(l Lock) (lockMode, bool) {
	switch l.Kind {
	case LockAcquireShared:
		return modeShared, true
	case LockAcquireExclusive:
		return modeExclusive, true
	default:
		return 0, false
	}
}
