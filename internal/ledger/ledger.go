// Package ledger records harvest runs in a SQLite database.
//
// Workers never write to the ledger. The CLI records the aggregated report
// once the pool has finished, so there is a single writer.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ligustah/docharvest/internal/pool"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("ledger: run not found")

// Ledger stores run reports.
type Ledger struct {
	db *sql.DB
}

// Run is the stored summary of one run.
type Run struct {
	ID        string
	Started   time.Time
	Finished  time.Time
	Workers   int
	LoggedIn  int
	Queued    int
	Entities  int
	Documents int
	Bytes     int64
	Skipped   int
	Failures  int
	Pending   int
}

// FailureRecord is one stored failure.
type FailureRecord struct {
	RunID       string
	WorkerID    int
	Kind        string
	Entity      string
	Label       string
	Error       string
	Quarantined []string
}

// DocumentRecord is one stored filed document.
type DocumentRecord struct {
	RunID    string
	WorkerID int
	Entity   string
	Label    string
	Path     string
	Size     int64
	Pages    int
}

// Open opens the ledger at path, creating and migrating it as needed.
func Open(path string) (*Ledger, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	l, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// New wraps db and initialises the schema.
func New(db *sql.DB) (*Ledger, error) {
	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return l, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// currentSchemaVersion is bumped whenever the schema changes.
const currentSchemaVersion = 2

func (l *Ledger) migrate() error {
	if _, err := l.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := l.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := l.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	migrations := []func() error{
		l.migrateV1, // v0 → v1: runs, workers, documents, failures
		l.migrateV2, // v1 → v2: pending entities, skipped count
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](); err != nil {
			return fmt.Errorf("migration v%d→v%d: %w", i, i+1, err)
		}
		if _, err := l.db.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			return fmt.Errorf("update schema version to %d: %w", i+1, err)
		}
	}
	return nil
}

func (l *Ledger) migrateV1() error {
	_, err := l.db.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		started_at  TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		workers     INTEGER NOT NULL,
		logged_in   INTEGER NOT NULL,
		queued      INTEGER NOT NULL,
		entities    INTEGER NOT NULL,
		documents   INTEGER NOT NULL,
		bytes       INTEGER NOT NULL,
		failures    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS workers (
		run_id      TEXT NOT NULL REFERENCES runs(id),
		worker_id   INTEGER NOT NULL,
		status      TEXT NOT NULL,
		entities    INTEGER NOT NULL,
		documents   INTEGER NOT NULL,
		failures    INTEGER NOT NULL,
		started_at  TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		PRIMARY KEY (run_id, worker_id)
	);

	CREATE TABLE IF NOT EXISTS documents (
		run_id    TEXT NOT NULL REFERENCES runs(id),
		worker_id INTEGER NOT NULL,
		entity    TEXT NOT NULL,
		label     TEXT NOT NULL,
		path      TEXT NOT NULL,
		size      INTEGER NOT NULL,
		pages     INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_entity ON documents(entity, label);

	CREATE TABLE IF NOT EXISTS failures (
		run_id      TEXT NOT NULL REFERENCES runs(id),
		worker_id   INTEGER NOT NULL,
		kind        TEXT NOT NULL,
		entity      TEXT NOT NULL,
		label       TEXT NOT NULL,
		error       TEXT NOT NULL,
		quarantined TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_failures_run ON failures(run_id, kind);
	`)
	return err
}

func (l *Ledger) migrateV2() error {
	if _, err := l.db.Exec(`ALTER TABLE runs ADD COLUMN skipped INTEGER NOT NULL DEFAULT 0`); err != nil {
		return err
	}
	_, err := l.db.Exec(`
	CREATE TABLE IF NOT EXISTS pending (
		run_id TEXT NOT NULL REFERENCES runs(id),
		entity TEXT NOT NULL
	);
	`)
	return err
}

// timeLayout has a fixed width so that stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// Record stores report in a single transaction.
func (l *Ledger) Record(ctx context.Context, report pool.Report) error {
	if report.RunID == "" {
		return errors.New("ledger: report has no run id")
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback()

	s := report.Summary()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, workers, logged_in, queued, entities, documents, bytes, failures, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID, formatTime(report.Started), formatTime(report.Finished),
		s.Workers, s.LoggedIn, report.Queued, s.Entities, s.Documents, s.Bytes, s.Failures, s.Skipped,
	); err != nil {
		return fmt.Errorf("ledger: insert run: %w", err)
	}

	for _, res := range report.Results {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO workers (run_id, worker_id, status, entities, documents, failures, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			report.RunID, res.WorkerID, res.Status.String(), len(res.Entities), len(res.Documents),
			len(res.Failures), formatTime(res.Started), formatTime(res.Finished),
		); err != nil {
			return fmt.Errorf("ledger: insert worker %d: %w", res.WorkerID, err)
		}

		for _, d := range res.Documents {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO documents (run_id, worker_id, entity, label, path, size, pages)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				report.RunID, res.WorkerID, d.Entity, d.Label, d.Path, d.Size, d.Pages,
			); err != nil {
				return fmt.Errorf("ledger: insert document: %w", err)
			}
		}

		for _, f := range res.Failures {
			msg := ""
			if f.Err != nil {
				msg = f.Err.Error()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO failures (run_id, worker_id, kind, entity, label, error, quarantined)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				report.RunID, res.WorkerID, f.Kind.String(), f.Entity, f.Label, msg,
				strings.Join(f.Quarantined, "\n"),
			); err != nil {
				return fmt.Errorf("ledger: insert failure: %w", err)
			}
		}
	}

	for _, e := range report.Pending {
		if _, err := tx.ExecContext(ctx, `INSERT INTO pending (run_id, entity) VALUES (?, ?)`, report.RunID, e); err != nil {
			return fmt.Errorf("ledger: insert pending: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, workers, logged_in, queued, entities, documents, bytes, failures, skipped,
	(SELECT COUNT(*) FROM pending p WHERE p.run_id = runs.id)`

func scanRun(row interface{ Scan(...any) error }) (Run, error) {
	var (
		r                 Run
		started, finished string
	)
	err := row.Scan(&r.ID, &started, &finished, &r.Workers, &r.LoggedIn, &r.Queued,
		&r.Entities, &r.Documents, &r.Bytes, &r.Failures, &r.Skipped, &r.Pending)
	if err != nil {
		return Run{}, err
	}
	r.Started = parseTime(started)
	r.Finished = parseTime(finished)
	return r, nil
}

// Runs returns the most recent runs, newest first. limit <= 0 returns all.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Run returns one run by id.
func (l *Ledger) Run(ctx context.Context, id string) (Run, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("ledger: scan run: %w", err)
	}
	return r, nil
}

// Failures returns the failures recorded for a run.
func (l *Ledger) Failures(ctx context.Context, runID string) ([]FailureRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, worker_id, kind, entity, label, error, quarantined
		FROM failures WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: query failures: %w", err)
	}
	defer rows.Close()

	var out []FailureRecord
	for rows.Next() {
		var (
			f           FailureRecord
			quarantined string
		)
		if err := rows.Scan(&f.RunID, &f.WorkerID, &f.Kind, &f.Entity, &f.Label, &f.Error, &quarantined); err != nil {
			return nil, fmt.Errorf("ledger: scan failure: %w", err)
		}
		if quarantined != "" {
			f.Quarantined = strings.Split(quarantined, "\n")
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Documents returns the documents filed during a run.
func (l *Ledger) Documents(ctx context.Context, runID string) ([]DocumentRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, worker_id, entity, label, path, size, pages
		FROM documents WHERE run_id = ? ORDER BY entity, label`, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: query documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentRecord
	for rows.Next() {
		var d DocumentRecord
		if err := rows.Scan(&d.RunID, &d.WorkerID, &d.Entity, &d.Label, &d.Path, &d.Size, &d.Pages); err != nil {
			return nil, fmt.Errorf("ledger: scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Pending returns the entities a run left unprocessed.
func (l *Ledger) Pending(ctx context.Context, runID string) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT entity FROM pending WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: query pending: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, fmt.Errorf("ledger: scan pending: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
