package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockedStateSharedSharedNoConflict(t *testing.T) {
	s := newLockedState()
	s.acquire(0, []Lock{AcquireShared("a")})
	s.acquire(1, []Lock{AcquireShared("a")})
	assert.Empty(t, s.blocked(2, []Lock{AcquireShared("a")}))
}

func TestLockedStateExclusiveConflictsWithShared(t *testing.T) {
	s := newLockedState()
	s.acquire(0, []Lock{AcquireShared("a")})
	blocked := s.blocked(1, []Lock{AcquireExclusive("a")})
	assert.Len(t, blocked, 1)
}

func TestLockedStateAcquireConflictPanics(t *testing.T) {
	s := newLockedState()
	s.acquire(0, []Lock{AcquireExclusive("a")})
	require.Panics(t, func() {
		s.acquire(1, []Lock{AcquireExclusive("a")})
	})
}

func TestLockedStateUpgradeInPlaceNeverDowngrades(t *testing.T) {
	s := newLockedState()
	s.acquire(0, []Lock{AcquireShared("a")})
	s.acquire(0, []Lock{AcquireExclusive("a")})
	assert.Equal(t, modeExclusive, s.scopes["a"][0].mode)

	// Re-acquiring Shared must not downgrade the existing Exclusive holding.
	s.acquire(0, []Lock{AcquireShared("a")})
	assert.Equal(t, modeExclusive, s.scopes["a"][0].mode)
}

func TestLockedStateReleaseIsNoopIfNotHeld(t *testing.T) {
	s := newLockedState()
	assert.NotPanics(t, func() {
		s.release(0, []Lock{Release("a")})
	})
}

func TestLockedStateHeldScopes(t *testing.T) {
	s := newLockedState()
	s.acquire(0, []Lock{AcquireShared("a"), AcquireExclusive("b")})
	held := s.heldScopes(0)
	assert.ElementsMatch(t, []string{"a", "b"}, held)

	s.release(0, []Lock{Release("a")})
	assert.ElementsMatch(t, []string{"b"}, s.heldScopes(0))
}
