// Package store archives finished simulation runs in SQLite.
//
// A run is written once, after the driver is done with it, and is never
// used to seed a live process: processes always start from counter 0. The
// archive exists so that a run can be listed, dumped and re-verified later.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/daviddao/lamportsim/pkg/model"

	_ "modernc.org/sqlite"
)

// Store manages all SQLite operations with WAL mode for concurrent access.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		run_id                TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		process_id            TEXT NOT NULL,
		seq                   INTEGER NOT NULL,
		kind                  TEXT NOT NULL,
		counter               INTEGER NOT NULL,
		target                TEXT,
		source                TEXT,
		payload               TEXT,
		sent_counter          INTEGER NOT NULL DEFAULT 0,
		received_sent_counter INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, process_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_events_total_order ON events(run_id, counter, process_id);

	CREATE TABLE IF NOT EXISTS pairs (
		run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		recv_process TEXT NOT NULL,
		recv_seq     INTEGER NOT NULL,
		send_process TEXT NOT NULL,
		send_seq     INTEGER NOT NULL,
		PRIMARY KEY (run_id, recv_process, recv_seq)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// CreateRun registers a new run under a fresh UUID.
func (s *Store) CreateRun(name string) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	err := retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO runs (id, name, created_at) VALUES (?, ?, ?)`,
			run.ID, run.Name, run.CreatedAt.Format(time.RFC3339Nano),
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (*model.Run, error) {
	var r model.Run
	var created string
	err := s.db.QueryRow(`SELECT id, name, created_at FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &r.Name, &created)
	if err != nil {
		return nil, err
	}
	r.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for run %s: %w", id, err)
	}
	return &r, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns() ([]model.Run, error) {
	rows, err := s.db.Query(`SELECT id, name, created_at FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var created string
		if err := rows.Scan(&r.ID, &r.Name, &created); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse created_at for run %s: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run together with its events and pairs.
func (s *Store) DeleteRun(id string) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
		return err
	})
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// InsertEvents appends events to a run in one transaction.
func (s *Store) InsertEvents(runID string, events []model.Event) error {
	return retryOnContention(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		stmt, err := tx.Prepare(
			`INSERT INTO events (run_id, process_id, seq, kind, counter, target, source, payload,
			                     sent_counter, received_sent_counter)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range events {
			if _, err := stmt.Exec(runID, string(e.ProcessID), e.Seq, string(e.Kind), e.Counter,
				string(e.Target), string(e.Source), e.Payload, e.SentCounter, e.ReceivedSentCounter); err != nil {
				return fmt.Errorf("insert event %s: %w", e.ID(), err)
			}
		}
		return tx.Commit()
	})
}

// ListEvents returns a run's events in Lamport total order:
// counter ascending, ties broken by process ID.
func (s *Store) ListEvents(runID string) ([]model.Event, error) {
	rows, err := s.db.Query(
		`SELECT process_id, seq, kind, counter, COALESCE(target,''), COALESCE(source,''),
		        COALESCE(payload,''), sent_counter, received_sent_counter
		 FROM events WHERE run_id = ?
		 ORDER BY counter ASC, process_id ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListProcessEvents returns one process's history in append order.
func (s *Store) ListProcessEvents(runID string, pid model.ProcessID) ([]model.Event, error) {
	rows, err := s.db.Query(
		`SELECT process_id, seq, kind, counter, COALESCE(target,''), COALESCE(source,''),
		        COALESCE(payload,''), sent_counter, received_sent_counter
		 FROM events WHERE run_id = ? AND process_id = ?
		 ORDER BY seq ASC`,
		runID, string(pid),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// CountEvents returns the number of events archived for a run.
func (s *Store) CountEvents(runID string) int64 {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0
	}
	return n
}

func scanEvents(rows *sql.Rows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var e model.Event
		var pid, kind, target, source string
		if err := rows.Scan(&pid, &e.Seq, &kind, &e.Counter, &target, &source,
			&e.Payload, &e.SentCounter, &e.ReceivedSentCounter); err != nil {
			return nil, err
		}
		e.ProcessID = model.ProcessID(pid)
		e.Kind = model.EventKind(kind)
		if !e.Kind.Valid() {
			return nil, fmt.Errorf("event %s: unknown kind %q", e.ID(), kind)
		}
		e.Target = model.ProcessID(target)
		e.Source = model.ProcessID(source)
		events = append(events, e)
	}
	return events, rows.Err()
}

// ---------------------------------------------------------------------------
// Pairs
// ---------------------------------------------------------------------------

// InsertPairs stores the receive → send pairing of a run.
func (s *Store) InsertPairs(runID string, pairs map[model.EventID]model.EventID) error {
	return retryOnContention(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		for r, snd := range pairs {
			if _, err := tx.Exec(
				`INSERT INTO pairs (run_id, recv_process, recv_seq, send_process, send_seq)
				 VALUES (?, ?, ?, ?, ?)`,
				runID, string(r.ProcessID), r.Seq, string(snd.ProcessID), snd.Seq,
			); err != nil {
				return fmt.Errorf("insert pair %s: %w", r, err)
			}
		}
		return tx.Commit()
	})
}

// ListPairs returns the stored pairing of a run. An empty map means none
// was archived.
func (s *Store) ListPairs(runID string) (map[model.EventID]model.EventID, error) {
	rows, err := s.db.Query(
		`SELECT recv_process, recv_seq, send_process, send_seq FROM pairs WHERE run_id = ?`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pairs := make(map[model.EventID]model.EventID)
	for rows.Next() {
		var rp, sp string
		var r, snd model.EventID
		if err := rows.Scan(&rp, &r.Seq, &sp, &snd.Seq); err != nil {
			return nil, err
		}
		r.ProcessID, snd.ProcessID = model.ProcessID(rp), model.ProcessID(sp)
		pairs[r] = snd
	}
	return pairs, rows.Err()
}

// SaveRun archives a complete run (events and pairing) and returns it.
func (s *Store) SaveRun(name string, events []model.Event, pairs map[model.EventID]model.EventID) (*model.Run, error) {
	run, err := s.CreateRun(name)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	if err := s.InsertEvents(run.ID, events); err != nil {
		_ = s.DeleteRun(run.ID)
		return nil, fmt.Errorf("archive events: %w", err)
	}
	if err := s.InsertPairs(run.ID, pairs); err != nil {
		_ = s.DeleteRun(run.ID)
		return nil, fmt.Errorf("archive pairs: %w", err)
	}
	return run, nil
}
