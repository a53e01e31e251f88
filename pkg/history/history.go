// Package history keeps a local record of sync runs in an SQLite database.
// The journal answers "what happened across all machines"; history answers
// "what did this machine do last", cheap to query from the CLI without
// parsing log lines.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ksp-modsync/modsync/pkg/pathutil"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session     TEXT    NOT NULL,
	host        TEXT    NOT NULL,
	sync_dir    TEXT    NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	actions     INTEGER NOT NULL,
	errors      INTEGER NOT NULL,
	succeeded   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS run_actions (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id    INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	direction TEXT    NOT NULL,
	op        TEXT    NOT NULL,
	rel_path  TEXT    NOT NULL,
	reason    TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_run_actions_run ON run_actions(run_id);
`

// RunRecord summarizes one complete sync run (both directed passes).
type RunRecord struct {
	ID         int64
	Session    string
	Host       string
	SyncDir    string
	StartedAt  time.Time
	FinishedAt time.Time
	Actions    int
	Errors     int
	Succeeded  bool
}

// ActionRecord is one applied action within a run.
type ActionRecord struct {
	Direction string // "push" (local to remote) or "pull" (remote to local)
	Op        string
	RelPath   string
	Reason    string
}

// Store is an open history database. Safe for use from one process.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), pathutil.UserWritableDirPerms); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun stores one run and its actions in a single transaction and
// returns the run ID.
func (s *Store) RecordRun(rec RunRecord, actions []ActionRecord) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin history transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO runs (session, host, sync_dir, started_at, finished_at, actions, errors, succeeded)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Session, rec.Host, rec.SyncDir,
		rec.StartedAt.UnixNano(), rec.FinishedAt.UnixNano(),
		rec.Actions, rec.Errors, boolToInt(rec.Succeeded),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run record: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, a := range actions {
		if _, err := tx.Exec(
			`INSERT INTO run_actions (run_id, direction, op, rel_path, reason) VALUES (?, ?, ?, ?, ?)`,
			runID, a.Direction, a.Op, a.RelPath, a.Reason,
		); err != nil {
			return 0, fmt.Errorf("insert action record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit history transaction: %w", err)
	}
	return runID, nil
}

// LastRun returns the most recent run for a sync directory. The bool is
// false when no run has been recorded yet.
func (s *Store) LastRun(syncDir string) (RunRecord, bool, error) {
	row := s.db.QueryRow(
		`SELECT id, session, host, sync_dir, started_at, finished_at, actions, errors, succeeded
		 FROM runs WHERE sync_dir = ? ORDER BY finished_at DESC, id DESC LIMIT 1`, syncDir)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, false, nil
	}
	if err != nil {
		return RunRecord{}, false, err
	}
	return rec, true, nil
}

// RecentRuns returns up to n most recent runs across all sync directories,
// newest first.
func (s *Store) RecentRuns(n int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, session, host, sync_dir, started_at, finished_at, actions, errors, succeeded
		 FROM runs ORDER BY finished_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RunActions returns the actions of one run in insertion order.
func (s *Store) RunActions(runID int64) ([]ActionRecord, error) {
	rows, err := s.db.Query(
		`SELECT direction, op, rel_path, reason FROM run_actions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActionRecord
	for rows.Next() {
		var a ActionRecord
		if err := rows.Scan(&a.Direction, &a.Op, &a.RelPath, &a.Reason); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var rec RunRecord
	var started, finished int64
	var succeeded int
	err := row.Scan(&rec.ID, &rec.Session, &rec.Host, &rec.SyncDir,
		&started, &finished, &rec.Actions, &rec.Errors, &succeeded)
	if err != nil {
		return RunRecord{}, err
	}
	rec.StartedAt = time.Unix(0, started)
	rec.FinishedAt = time.Unix(0, finished)
	rec.Succeeded = succeeded != 0
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
