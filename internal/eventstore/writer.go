package eventstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/strobehq/strobe/internal/types"
)

// appendRequest is one event destined for the write-behind batch, with a
// channel on which the writer reports the outcome of the flush that
// inserted it; enqueue always creates it and waits on it.
type appendRequest struct {
	sessionID string
	event     *types.Event
	done      chan error
}

// writer batches event inserts to amortize SQLite transaction overhead:
// up to FlushBatchSize events or FlushInterval, whichever comes first,
// per the store's documented batching policy (§4.3).
type writer struct {
	db   *sql.DB
	opts Options

	queue chan appendRequest
	stop_ chan struct{}
	done  chan struct{}
}

func newWriter(db *sql.DB, opts Options) *writer {
	return &writer{
		db:    db,
		opts:  opts,
		queue: make(chan appendRequest, opts.FlushBatchSize*4),
		stop_: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (w *writer) start() { go w.run() }

func (w *writer) stop() {
	close(w.stop_)
	<-w.done
}

func (w *writer) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()

	var batch []appendRequest
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flushBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case req := <-w.queue:
			batch = append(batch, req)
			if len(batch) >= w.opts.FlushBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.stop_:
			// Drain anything already queued before exiting.
			for {
				select {
				case req := <-w.queue:
					batch = append(batch, req)
				default:
					flush()
					return
				}
			}
		}
	}
}

// enqueue hands an event to the writer for the next batch flush and
// blocks until that flush has committed or failed. The event keeps the
// id its caller set; enqueue assigns none.
func (w *writer) enqueue(sessionID string, ev *types.Event) error {
	req := appendRequest{sessionID: sessionID, event: ev, done: make(chan error, 1)}
	select {
	case w.queue <- req:
	case <-w.stop_:
		return fmt.Errorf("event store writer is stopped")
	}
	return <-req.done
}

func (w *writer) flushBatch(batch []appendRequest) {
	op := func() error {
		tx, err := w.db.Begin()
		if err != nil {
			return err
		}
		stmt, err := tx.Prepare(`
			INSERT INTO events
				(id, session_id, elapsed_nanos, thread_id, parent_event_id, kind, function_name, source_file, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			tx.Rollback()
			return err
		}
		defer stmt.Close()

		for _, req := range batch {
			payload, err := json.Marshal(req.event.Payload)
			if err != nil {
				tx.Rollback()
				return err
			}
			var parent any
			if req.event.ParentEventID != nil {
				parent = *req.event.ParentEventID
			}
			fn := nullable(req.event.Payload.FunctionName)
			file := nullable(req.event.Payload.SourceFile)
			if _, err := stmt.Exec(
				req.event.ID, req.sessionID, req.event.ElapsedNanos, req.event.ThreadID,
				parent, string(req.event.Kind), fn, file, payload,
			); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Second
	err := backoff.Retry(func() error {
		err := op()
		if err != nil && isSQLiteBusy(err) {
			return err // retryable
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, b)

	if err != nil {
		slog.Error("event store batch flush failed", "count", len(batch), "error", err)
	}
	for _, req := range batch {
		req.done <- err
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
