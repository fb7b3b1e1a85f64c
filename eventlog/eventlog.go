// Package eventlog persists per-node reconciliation outcomes to SQLite
// asynchronously. Recording never blocks the engine: entries are queued
// and flushed in batches, and a full buffer drops rather than backing up
// a reconciliation pass.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mosbree/embedkeeper/dbopen"
)

// Schema for the reconcile_events table.
const Schema = `
CREATE TABLE IF NOT EXISTS reconcile_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pass_id TEXT NOT NULL,
	node INTEGER NOT NULL,
	kind TEXT NOT NULL,
	outcome TEXT NOT NULL,
	height_px INTEGER NOT NULL,
	duration_us INTEGER NOT NULL,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reconcile_events_ts ON reconcile_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_reconcile_events_pass ON reconcile_events(pass_id);
`

// Event is one reconciliation outcome for one node.
type Event struct {
	PassID     string `json:"pass_id"`
	Node       int64  `json:"node"`
	Kind       string `json:"kind"`
	Outcome    string `json:"outcome"`
	HeightPx   int    `json:"height_px"`
	DurationUs int64  `json:"duration_us"`
	Timestamp  int64  `json:"timestamp"`
}

// Store persists events asynchronously.
type Store struct {
	db   *sql.DB
	ch   chan *Event
	done chan struct{}
	once sync.Once
}

// Open opens (or creates) an event log at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	return NewStore(db), nil
}

// NewStore wraps an existing database connection. Call Init before use.
func NewStore(db *sql.DB) *Store {
	s := &Store{
		db:   db,
		ch:   make(chan *Event, 1024),
		done: make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

// Init creates the reconcile_events table if it doesn't exist.
func (s *Store) Init() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return fmt.Errorf("eventlog: init schema: %w", err)
	}
	return nil
}

// RecordAsync queues an event. Non-blocking; drops if the buffer is full.
func (s *Store) RecordAsync(e *Event) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	select {
	case s.ch <- e:
	default:
		// buffer full: drop rather than backpressure the engine
	}
}

// Recent returns the most recent events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT pass_id, node, kind, outcome, height_px, duration_us, timestamp
		FROM reconcile_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("eventlog: recent: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.PassID, &e.Node, &e.Kind, &e.Outcome,
			&e.HeightPx, &e.DurationUs, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close drains the buffer and stops the flush goroutine. The database
// connection is left to the caller.
func (s *Store) Close() error {
	s.once.Do(func() {
		close(s.ch)
		<-s.done
	})
	return nil
}

func (s *Store) flushLoop() {
	defer close(s.done)

	batch := make([]*Event, 0, 64)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-s.ch:
			if !ok {
				s.flushBatch(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= 64 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

func (s *Store) flushBatch(batch []*Event) {
	if len(batch) == 0 {
		return
	}
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("eventlog: begin flush", "error", err)
		return
	}
	stmt, err := tx.Prepare(`
		INSERT INTO reconcile_events
			(pass_id, node, kind, outcome, height_px, duration_us, timestamp)
		VALUES (?,?,?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		slog.Error("eventlog: prepare flush", "error", err)
		return
	}
	for _, e := range batch {
		if _, err := stmt.Exec(e.PassID, e.Node, e.Kind, e.Outcome,
			e.HeightPx, e.DurationUs, e.Timestamp); err != nil {
			slog.Error("eventlog: insert event", "error", err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		slog.Error("eventlog: commit flush", "error", err)
	}
}
