// Package eventstore persists sessions and their execution-timeline
// events in an embedded SQLite database, batching writes and enforcing
// the per-session FIFO event bound the daemon advertises to clients.
package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/strobehq/strobe/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	binary_path    TEXT NOT NULL,
	project_root   TEXT NOT NULL,
	pid            INTEGER NOT NULL,
	started_at     INTEGER NOT NULL,
	ended_at       INTEGER,
	status         TEXT NOT NULL,
	events_dropped INTEGER NOT NULL DEFAULT 0,
	retained_at    INTEGER
);

CREATE TABLE IF NOT EXISTS events (
	id             INTEGER NOT NULL,
	session_id     TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	elapsed_nanos  INTEGER NOT NULL,
	thread_id      INTEGER NOT NULL,
	parent_event_id INTEGER,
	kind           TEXT NOT NULL,
	function_name  TEXT,
	source_file    TEXT,
	payload        BLOB NOT NULL,
	PRIMARY KEY (session_id, id)
);

CREATE INDEX IF NOT EXISTS idx_events_session_timestamp
	ON events (session_id, elapsed_nanos);
CREATE INDEX IF NOT EXISTS idx_events_session_function
	ON events (session_id, function_name);
CREATE INDEX IF NOT EXISTS idx_events_session_source
	ON events (session_id, source_file);
`

// Options configures a Store's durability and bound behavior.
type Options struct {
	// Path is the SQLite database file; ":memory:" is valid for tests.
	Path string
	// BusyTimeoutMs bounds how long a connection waits for SQLITE_BUSY
	// before giving up, ahead of the writer's own backoff retries.
	BusyTimeoutMs int
	// MaxEventsPerSession is the FIFO bound (§4.3); zero uses the default.
	MaxEventsPerSession int
	// FlushInterval and FlushBatchSize bound how long an event can sit
	// unpersisted and how many accumulate before a forced flush.
	FlushInterval  time.Duration
	FlushBatchSize int
}

func (o Options) withDefaults() Options {
	if o.BusyTimeoutMs == 0 {
		o.BusyTimeoutMs = 5000
	}
	if o.MaxEventsPerSession == 0 {
		o.MaxEventsPerSession = 200_000
	}
	if o.FlushInterval == 0 {
		o.FlushInterval = 10 * time.Millisecond
	}
	if o.FlushBatchSize == 0 {
		o.FlushBatchSize = 100
	}
	return o
}

// Store is the event store's connection pool and batched writer.
type Store struct {
	db   *sql.DB
	opts Options

	writer *writer
}

// Open creates or attaches to the database at opts.Path, running schema
// migration, and starts the background batched writer.
func Open(ctx context.Context, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	db, err := sql.Open("sqlite3", dsn(opts.Path, opts.BusyTimeoutMs))
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	// Up to four pooled connections; the batched writer begins its
	// transactions in the driver's default DEFERRED mode on whichever
	// pooled connection it gets, and WAL lets reads run during a write.
	db.SetMaxOpenConns(4)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate event store schema: %w", err)
	}

	s := &Store{db: db, opts: opts}
	s.writer = newWriter(db, opts)
	s.writer.start()
	return s, nil
}

// Close flushes any buffered events and closes the database.
func (s *Store) Close() error {
	s.writer.stop()
	return s.db.Close()
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess *types.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, binary_path, project_root, pid, started_at, status, events_dropped)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		sess.ID, sess.BinaryPath, sess.ProjectRoot, sess.PID, sess.StartedAt.UnixNano(), string(sess.Status))
	if err != nil {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	return nil
}

// UpdateSessionStatus transitions a session's status and, for terminal
// transitions, records the end and/or retention timestamps.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID string, status types.SessionStatus, at time.Time) error {
	var err error
	switch status {
	case types.SessionExited, types.SessionStopped:
		_, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`,
			string(status), at.UnixNano(), sessionID)
	case types.SessionRetained:
		_, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET status = ?, retained_at = ? WHERE id = ?`,
			string(status), at.UnixNano(), sessionID)
	default:
		_, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET status = ? WHERE id = ?`, string(status), sessionID)
	}
	if err != nil {
		return fmt.Errorf("update session %s status: %w", sessionID, err)
	}
	return nil
}

// DeleteSession removes a session and, via ON DELETE CASCADE, its events.
// Used once a retained session's retention period elapses.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// MaxEventsPerSession reports the configured FIFO bound.
func (s *Store) MaxEventsPerSession() int { return s.opts.MaxEventsPerSession }
