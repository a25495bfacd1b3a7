package eventstore

import (
	"context"
	"fmt"

	"github.com/strobehq/strobe/internal/telemetry"
	"github.com/strobehq/strobe/internal/types"
)

// AppendEvent persists ev under sessionID through the batched writer,
// keeping the id the caller already set on ev, and returns once the batch
// holding it has been flushed. After that, it enforces the per-session
// FIFO bound: if the session now
// holds more than MaxEventsPerSession rows, the oldest excess rows are
// evicted and the session's events_dropped flag is set (once set, it is
// never cleared — §3's invariant on Session.EventsDropped).
func (s *Store) AppendEvent(ctx context.Context, sessionID string, ev *types.Event) error {
	ev.SessionID = sessionID
	if err := s.writer.enqueue(sessionID, ev); err != nil {
		return fmt.Errorf("append event to session %s: %w", sessionID, err)
	}
	telemetry.RecordEventsIngested(ctx, sessionID, 1)
	return s.enforceBound(ctx, sessionID)
}

func (s *Store) enforceBound(ctx context.Context, sessionID string) error {
	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE session_id = ?`, sessionID)
	if err := row.Scan(&count); err != nil {
		return fmt.Errorf("count events for session %s: %w", sessionID, err)
	}
	bound := s.opts.MaxEventsPerSession
	if count <= bound {
		return nil
	}
	excess := count - bound
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM events WHERE session_id = ? AND id IN (
			SELECT id FROM events WHERE session_id = ? ORDER BY id ASC LIMIT ?
		)`, sessionID, sessionID, excess)
	if err != nil {
		return fmt.Errorf("evict excess events for session %s: %w", sessionID, err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE sessions SET events_dropped = 1 WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("mark events dropped for session %s: %w", sessionID, err)
	}
	telemetry.RecordEventsDropped(ctx, sessionID, int64(excess))
	return nil
}
