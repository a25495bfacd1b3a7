// Package session implements the session manager (spec §4.6): the
// authoritative in-memory map of live and retained debuggees, session
// id assignment, per-connection pending-pattern staging applied at
// launch, and advisory status composition.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/strobehq/strobe/internal/idgen"
	"github.com/strobehq/strobe/internal/strobeerr"
	"github.com/strobehq/strobe/internal/types"
)

// Manager owns the live session map. One Manager exists per daemon.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session

	// pending holds trace patterns staged by a connection before it has
	// launched a binary, keyed by connection id; they are applied to the
	// session atomically at launch and discarded if the connection closes
	// first without launching (spec §9 open question, resolved this way).
	pendingMu sync.Mutex
	pending   map[string][]string
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{
		sessions: make(map[string]*types.Session),
		pending:  make(map[string][]string),
	}
}

// StagePatterns records trace patterns for connID before a launch has
// happened, so a client can say "trace these" before "launch this."
func (m *Manager) StagePatterns(connID string, patterns []string) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	m.pending[connID] = append(m.pending[connID], patterns...)
}

// DropPending discards any staged patterns for connID, called when a
// connection closes without ever launching.
func (m *Manager) DropPending(connID string) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	delete(m.pending, connID)
}

// takePending atomically removes and returns connID's staged patterns.
func (m *Manager) takePending(connID string) []string {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	patterns := m.pending[connID]
	delete(m.pending, connID)
	return patterns
}

// Create registers a new session for a just-spawned process, assigning
// it an id derived from binaryPath and the current time, retried on the
// vanishingly rare collision against a live session map. Any patterns
// staged by connID are applied atomically as the session's initial
// ActivePatterns.
func (m *Manager) Create(connID, binaryPath, projectRoot string, pid int, launchNanos int64) (*types.Session, error) {
	patterns := m.takePending(connID)

	m.mu.Lock()
	defer m.mu.Unlock()

	var id string
	for nonce := 0; ; nonce++ {
		candidate := idgen.New(binaryPath, launchNanos, nonce)
		if _, exists := m.sessions[candidate]; !exists {
			id = candidate
			break
		}
	}

	for _, existing := range m.sessions {
		if existing.PID == pid && existing.Status == types.SessionRunning {
			return nil, strobeerr.New(strobeerr.SessionExists,
				"pid %d already has a running session %s", pid, existing.ID)
		}
	}

	sess := &types.Session{
		ID:             id,
		BinaryPath:     binaryPath,
		ProjectRoot:    projectRoot,
		PID:            pid,
		StartedAt:      time.Unix(0, launchNanos),
		Status:         types.SessionRunning,
		ActivePatterns: patterns,
		Breakpoints:    make(map[string]*types.Breakpoint),
		Logpoints:      make(map[string]*types.Breakpoint),
		Watches:        make(map[string]*types.Watch),
		PausedThreads:  make(map[int64]string),
	}
	m.sessions[id] = sess
	return sess, nil
}

// Get looks up a session by id.
func (m *Manager) Get(id string) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, strobeerr.New(strobeerr.SessionNotFound, "no session %s", id)
	}
	return sess, nil
}

// List returns every session currently tracked, live or retained.
func (m *Manager) List() []*types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Transition moves a session to a new status, recording the transition
// time for terminal states.
func (m *Manager) Transition(id string, status types.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return strobeerr.New(strobeerr.SessionNotFound, "no session %s", id)
	}
	if sess.Status == types.SessionRetained {
		return strobeerr.New(strobeerr.ValidationError, "session %s is retained, a terminal state", id)
	}
	sess.Status = status
	if status == types.SessionExited || status == types.SessionStopped || status == types.SessionRetained {
		now := time.Now()
		sess.EndedAt = &now
	}
	return nil
}

// Retain marks a terminated session retained, extending its lifetime
// for post-mortem queries; it is the terminal status and can never be
// left once entered.
func (m *Manager) Retain(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return strobeerr.New(strobeerr.SessionNotFound, "no session %s", id)
	}
	if sess.Status == types.SessionRunning || sess.Status == types.SessionPaused {
		return strobeerr.New(strobeerr.ValidationError, "session %s must be exited or stopped before retaining", id)
	}
	now := time.Now()
	sess.Status = types.SessionRetained
	sess.RetainedAt = &now
	return nil
}

// Delete removes a session entirely, called once its retention period
// elapses.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// AdvisoryStatus composes a short human-readable health hint for a
// session, per §7's advisory-status guidance: flag zero hooks installed
// despite active patterns, a mismatch between matched and installed
// function counts (a likely crash/detach signal), and high installed
// counts that tend to destabilize tracing.
func AdvisoryStatus(sess *types.Session, matchedCount int) string {
	installed := len(sess.HookedFunctions)
	switch {
	case len(sess.ActivePatterns) > 0 && installed == 0:
		return "patterns are active but no functions are hooked yet"
	case matchedCount > 0 && installed < matchedCount:
		return fmt.Sprintf("only %d of %d matched functions are hooked; the agent may have detached", installed, matchedCount)
	case installed >= 100:
		return fmt.Sprintf("%d functions hooked; tracing at this scale may affect timing-sensitive code", installed)
	case installed >= 50:
		return fmt.Sprintf("%d functions hooked", installed)
	case len(sess.ActivePatterns) == 0 && sess.Status == types.SessionRunning:
		return "no trace patterns set; launch pending patterns before spawn to hook from the start"
	default:
		return ""
	}
}
