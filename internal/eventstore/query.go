package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/strobehq/strobe/internal/types"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// QueryFilter narrows a timeline query; zero values mean "unfiltered."
// AfterID implements the cursor: repeated queries with AfterID set to
// the previous page's last event id never re-return a row, regardless
// of events appended between calls (spec's cursor-query idempotence
// scenario).
type QueryFilter struct {
	AfterID      int64
	FunctionName string
	SourceFile   string
	Kind         types.EventKind
	Limit        int
}

func (f QueryFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultPageSize
	case f.Limit > maxPageSize:
		return maxPageSize
	default:
		return f.Limit
	}
}

// QueryEvents returns the next page of sessionID's timeline matching
// filter, ordered by id ascending.
func (s *Store) QueryEvents(ctx context.Context, sessionID string, filter QueryFilter) ([]*types.Event, error) {
	query := `SELECT id, elapsed_nanos, thread_id, parent_event_id, kind, payload
		FROM events WHERE session_id = ? AND id > ?`
	args := []any{sessionID, filter.AfterID}

	if filter.FunctionName != "" {
		query += ` AND function_name = ?`
		args = append(args, filter.FunctionName)
	}
	if filter.SourceFile != "" {
		query += ` AND source_file = ?`
		args = append(args, filter.SourceFile)
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []*types.Event
	for rows.Next() {
		ev, err := scanEvent(rows, sessionID)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events for session %s: %w", sessionID, err)
	}
	return out, nil
}

func scanEvent(rows *sql.Rows, sessionID string) (*types.Event, error) {
	var (
		ev        types.Event
		parent    sql.NullInt64
		kind      string
		payloadJS []byte
	)
	if err := rows.Scan(&ev.ID, &ev.ElapsedNanos, &ev.ThreadID, &parent, &kind, &payloadJS); err != nil {
		return nil, fmt.Errorf("scan event row: %w", err)
	}
	ev.SessionID = sessionID
	ev.Kind = types.EventKind(kind)
	if parent.Valid {
		id := parent.Int64
		ev.ParentEventID = &id
	}
	if err := json.Unmarshal(payloadJS, &ev.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal event %d payload: %w", ev.ID, err)
	}
	return &ev, nil
}
