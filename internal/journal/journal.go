// Package journal records every annotation attempt in a SQLite database
// under the data directory, keyed by run id.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeError    Outcome = "error"
	OutcomeCached   Outcome = "cached"
)

type Attempt struct {
	RunID    string
	Chunk    int
	Label    string
	Outcome  Outcome
	Reason   string
	Duration time.Duration
	Bytes    int
	At       time.Time
}

// ReasonCount aggregates attempts of one run by outcome and reason.
type ReasonCount struct {
	Outcome Outcome
	Reason  string
	Count   int
}

const schemaVersion = 1

const ddlAttempts = `CREATE TABLE IF NOT EXISTS attempts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT    NOT NULL,
	chunk       INTEGER NOT NULL,
	label       TEXT    NOT NULL,
	outcome     TEXT    NOT NULL,
	reason      TEXT    NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	bytes       INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT    NOT NULL
)`

const ddlAttemptsIndex = `CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts (run_id, chunk)`

type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and migrates it.
// Driver name is "sqlite" (modernc.org/sqlite).
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal.Open: mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("journal.Open: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal.Open: ping %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	var version int
	_ = j.db.QueryRow(`PRAGMA user_version`).Scan(&version)
	if version >= schemaVersion {
		return nil
	}
	for _, ddl := range []string{ddlAttempts, ddlAttemptsIndex} {
		if _, err := j.db.Exec(ddl); err != nil {
			return fmt.Errorf("journal.migrate: %w", err)
		}
	}
	if _, err := j.db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion)); err != nil {
		return fmt.Errorf("journal.migrate: user_version: %w", err)
	}
	return nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) Record(ctx context.Context, a Attempt) error {
	if a.At.IsZero() {
		a.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO attempts (run_id, chunk, label, outcome, reason, duration_ms, bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, a.Chunk, a.Label, string(a.Outcome), a.Reason,
		a.Duration.Milliseconds(), a.Bytes, a.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal.Record: %w", err)
	}
	return nil
}

// Attempts lists one run's attempts for a chunk in insertion order. A chunk
// of 0 lists every chunk.
func (j *Journal) Attempts(ctx context.Context, runID string, chunk int) ([]Attempt, error) {
	query := `SELECT run_id, chunk, label, outcome, reason, duration_ms, bytes, created_at
		FROM attempts WHERE run_id = ?`
	args := []any{runID}
	if chunk > 0 {
		query += ` AND chunk = ?`
		args = append(args, chunk)
	}
	query += ` ORDER BY id`
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal.Attempts: %w", err)
	}
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		var (
			a          Attempt
			outcome    string
			durationMS int64
			createdAt  string
		)
		if err := rows.Scan(&a.RunID, &a.Chunk, &a.Label, &outcome, &a.Reason, &durationMS, &a.Bytes, &createdAt); err != nil {
			return nil, fmt.Errorf("journal.Attempts: scan: %w", err)
		}
		a.Outcome = Outcome(outcome)
		a.Duration = time.Duration(durationMS) * time.Millisecond
		a.At, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Summary counts one run's attempts per outcome and reason.
func (j *Journal) Summary(ctx context.Context, runID string) ([]ReasonCount, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT outcome, reason, COUNT(*) FROM attempts WHERE run_id = ?
		 GROUP BY outcome, reason ORDER BY outcome, reason`, runID)
	if err != nil {
		return nil, fmt.Errorf("journal.Summary: %w", err)
	}
	defer rows.Close()
	var out []ReasonCount
	for rows.Next() {
		var (
			rc      ReasonCount
			outcome string
		)
		if err := rows.Scan(&outcome, &rc.Reason, &rc.Count); err != nil {
			return nil, fmt.Errorf("journal.Summary: scan: %w", err)
		}
		rc.Outcome = Outcome(outcome)
		out = append(out, rc)
	}
	return out, rows.Err()
}
