package eventstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strobehq/strobe/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{
		Path:                t.TempDir() + "/events.db",
		MaxEventsPerSession: 5,
		FlushInterval:       time.Millisecond,
		FlushBatchSize:      2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedSession(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.CreateSession(context.Background(), &types.Session{
		ID: id, BinaryPath: "/bin/x", ProjectRoot: "/proj", PID: 1,
		StartedAt: time.Unix(0, 0), Status: types.SessionRunning,
	})
	require.NoError(t, err)
}

func appendN(t *testing.T, s *Store, sessionID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := s.AppendEvent(context.Background(), sessionID, &types.Event{
			ID:           int64(i + 1),
			ElapsedNanos: int64(i),
			ThreadID:     1,
			Kind:         types.EventStdout,
			Payload:      types.Payload{Text: "line"},
		})
		require.NoError(t, err)
	}
}

func TestAppendAndQueryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedSession(t, s, "sess-1")
	appendN(t, s, "sess-1", 3)

	events, err := s.QueryEvents(context.Background(), "sess-1", QueryFilter{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, int64(1), events[0].ID)
	require.Equal(t, "line", events[0].Payload.Text)
}

func TestQueryCursorIsIdempotentAcrossAppends(t *testing.T) {
	s := newTestStore(t)
	seedSession(t, s, "sess-1")
	appendN(t, s, "sess-1", 2)

	first, err := s.QueryEvents(context.Background(), "sess-1", QueryFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, first, 2)
	cursor := first[len(first)-1].ID

	appendN(t, s, "sess-1", 2) // ids 3,4 appended after the cursor was taken

	second, err := s.QueryEvents(context.Background(), "sess-1", QueryFilter{AfterID: cursor})
	require.NoError(t, err)
	require.Len(t, second, 2)
	require.Equal(t, int64(3), second[0].ID)

	// Re-querying with the same cursor again never re-returns page one.
	third, err := s.QueryEvents(context.Background(), "sess-1", QueryFilter{AfterID: cursor})
	require.NoError(t, err)
	require.Equal(t, second, third)
}

func TestFIFOBoundEvictsOldestAndSetsDroppedFlag(t *testing.T) {
	s := newTestStore(t)
	seedSession(t, s, "sess-1")
	appendN(t, s, "sess-1", 8) // bound is 5

	events, err := s.QueryEvents(context.Background(), "sess-1", QueryFilter{Limit: 100})
	require.NoError(t, err)
	require.Len(t, events, 5)
	require.Equal(t, int64(4), events[0].ID) // oldest 3 evicted

	var dropped bool
	row := s.db.QueryRowContext(context.Background(), `SELECT events_dropped FROM sessions WHERE id = ?`, "sess-1")
	require.NoError(t, row.Scan(&dropped))
	require.True(t, dropped)
}

func TestQueryFilterByFunctionName(t *testing.T) {
	s := newTestStore(t)
	seedSession(t, s, "sess-1")
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, "sess-1", &types.Event{
		ID: 1, Kind: types.EventFunctionEnter,
		Payload: types.Payload{FunctionName: "foo::bar"},
	}))
	require.NoError(t, s.AppendEvent(ctx, "sess-1", &types.Event{
		ID: 2, Kind: types.EventFunctionEnter,
		Payload: types.Payload{FunctionName: "foo::baz"},
	}))

	events, err := s.QueryEvents(ctx, "sess-1", QueryFilter{FunctionName: "foo::bar"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, int64(1), events[0].ID)
}

func TestSessionStatusTransitionsRecordTimestamps(t *testing.T) {
	s := newTestStore(t)
	seedSession(t, s, "sess-1")
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.UpdateSessionStatus(ctx, "sess-1", types.SessionExited, now))

	var endedAt int64
	row := s.db.QueryRowContext(ctx, `SELECT ended_at FROM sessions WHERE id = ?`, "sess-1")
	require.NoError(t, row.Scan(&endedAt))
	require.Equal(t, now.UnixNano(), endedAt)
}
