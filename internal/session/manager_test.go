package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strobehq/strobe/internal/strobeerr"
	"github.com/strobehq/strobe/internal/types"
)

func TestCreateAssignsStagedPatterns(t *testing.T) {
	m := New()
	m.StagePatterns("conn-1", []string{"foo::**"})

	sess, err := m.Create("conn-1", "/bin/app", "/proj", 1234, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"foo::**"}, sess.ActivePatterns)

	// Pending state was consumed, not left around for a future launch.
	sess2, err := m.Create("conn-1", "/bin/app", "/proj", 5678, 2)
	require.NoError(t, err)
	require.Empty(t, sess2.ActivePatterns)
}

func TestDropPendingDiscardsOnDisconnect(t *testing.T) {
	m := New()
	m.StagePatterns("conn-1", []string{"foo::**"})
	m.DropPending("conn-1")

	sess, err := m.Create("conn-1", "/bin/app", "/proj", 1, 1)
	require.NoError(t, err)
	require.Empty(t, sess.ActivePatterns)
}

func TestCreateRejectsDuplicateRunningPID(t *testing.T) {
	m := New()
	_, err := m.Create("c1", "/bin/app", "/proj", 42, 1)
	require.NoError(t, err)

	_, err = m.Create("c2", "/bin/app", "/proj", 42, 2)
	require.Error(t, err)
	require.Equal(t, strobeerr.SessionExists, strobeerr.CodeOf(err))
}

func TestSessionIDsAreUniqueUnderCollisionRetry(t *testing.T) {
	m := New()
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		sess, err := m.Create("c", "/bin/app", "/proj", i+1, int64(i))
		require.NoError(t, err)
		require.False(t, seen[sess.ID], "duplicate session id %s", sess.ID)
		seen[sess.ID] = true
	}
}

func TestRetainIsTerminal(t *testing.T) {
	m := New()
	sess, err := m.Create("c", "/bin/app", "/proj", 1, 1)
	require.NoError(t, err)

	require.NoError(t, m.Transition(sess.ID, types.SessionExited))
	require.NoError(t, m.Retain(sess.ID))

	err = m.Transition(sess.ID, types.SessionRunning)
	require.Error(t, err)
}

func TestAdvisoryStatusFlagsHookMismatch(t *testing.T) {
	sess := &types.Session{ActivePatterns: []string{"foo::**"}, HookedFunctions: []string{"foo::bar"}}
	msg := AdvisoryStatus(sess, 3)
	require.Contains(t, msg, "1 of 3")
}

func TestAdvisoryStatusFlagsZeroHooks(t *testing.T) {
	sess := &types.Session{ActivePatterns: []string{"foo::**"}}
	msg := AdvisoryStatus(sess, 0)
	require.Contains(t, msg, "no functions are hooked")
}
