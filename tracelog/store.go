// Package tracelog persists extraction run traces to SQLite
// asynchronously. Every pipeline run produces a sequence of stage
// entries; the store batches them off the request path so a slow disk
// never stalls an extraction.
package tracelog

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"
)

// Schema for the run_traces table. Call Store.Init() or apply manually.
const Schema = `
CREATE TABLE IF NOT EXISTS run_traces (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	status TEXT NOT NULL,
	detail TEXT,
	timestamp_us INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_traces_run ON run_traces(run_id);
CREATE INDEX IF NOT EXISTS idx_run_traces_ts ON run_traces(timestamp_us);
`

// Entry is one persisted trace line.
type Entry struct {
	RunID       string
	Stage       string
	Status      string
	Detail      string
	TimestampUs int64
}

// Store writes entries in batches from a background goroutine.
type Store struct {
	db   *sql.DB
	ch   chan *Entry
	done chan struct{}
	once sync.Once
}

// NewStore creates a trace store backed by the given database connection
// and starts its flush goroutine.
func NewStore(db *sql.DB) *Store {
	s := &Store{
		db:   db,
		ch:   make(chan *Entry, 1024),
		done: make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

// Init creates the run_traces table if it doesn't exist.
func (s *Store) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// RecordAsync queues an entry for persistence. Non-blocking; drops if the
// buffer is full so extraction never waits on trace IO.
func (s *Store) RecordAsync(e *Entry) {
	select {
	case s.ch <- e:
	default:
	}
}

// Close drains the buffer and stops the flush goroutine.
func (s *Store) Close() error {
	s.once.Do(func() {
		close(s.ch)
		<-s.done
	})
	return nil
}

// ByRun returns the persisted entries of one run in insertion order.
func (s *Store) ByRun(runID string) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT run_id, stage, status, detail, timestamp_us FROM run_traces WHERE run_id = ? ORDER BY id`,
		runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.RunID, &e.Stage, &e.Status, &e.Detail, &e.TimestampUs); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) flushLoop() {
	defer close(s.done)

	batch := make([]*Entry, 0, 64)
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

func (s *Store) flushBatch(batch []*Entry) {
	if len(batch) == 0 {
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("tracelog: begin tx", "error", err)
		return
	}

	stmt, err := tx.Prepare(`INSERT INTO run_traces (run_id, stage, status, detail, timestamp_us)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		slog.Error("tracelog: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.Exec(e.RunID, e.Stage, e.Status, e.Detail, e.TimestampUs); err != nil {
			slog.Error("tracelog: insert", "error", err)
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("tracelog: commit", "error", err)
	}
}
