// Package ledger keeps the history of pipeline runs, consensus decisions and applied cleanup
// scripts in a small SQLite database.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"factaudit/internal/cleanup"
	"factaudit/internal/consensus"
	"factaudit/internal/logging"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// timeFormat has fixed-width fractions so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one recorded pipeline invocation.
type Run struct {
	ID         string     `json:"id"`
	Command    string     `json:"command"`
	DBPath     string     `json:"db_path"`
	Workdir    string     `json:"workdir"`
	Seed       uint64     `json:"seed"`
	Status     string     `json:"status"`
	Items      int        `json:"items"`
	Batches    int        `json:"batches"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Ledger is the run history database.
type Ledger struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the ledger at path and applies pending migrations.
func Open(ctx context.Context, path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}

	migrationsFS, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations sub-fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, migrationsFS)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	if len(results) > 0 {
		logging.Ledger("Applied %d ledger migrations to %s", len(results), path)
	}
	return &Ledger{db: conn, path: path}, nil
}

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// RecordRun inserts a run in the running state and returns its id, generating one if empty.
func (l *Ledger) RecordRun(ctx context.Context, r *Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = StatusRunning
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, db_path, workdir, seed, status, items, batches, error, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Command, r.DBPath, r.Workdir, int64(r.Seed), r.Status, r.Items, r.Batches, r.Error,
		r.StartedAt.UTC().Format(timeFormat))
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	logging.Ledger("Recorded run %s (%s)", r.ID, r.Command)
	return r.ID, nil
}

// FinishRun stores the final status, counters and error of r and stamps the finish time.
func (l *Ledger) FinishRun(ctx context.Context, r *Run) error {
	now := time.Now().UTC()
	r.FinishedAt = &now
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, items = ?, batches = ?, error = ?, finished_at = ? WHERE id = ?`,
		r.Status, r.Items, r.Batches, r.Error, now.Format(timeFormat), r.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, r.ID)
	}
	logging.Ledger("Run %s finished: %s", r.ID, r.Status)
	return nil
}

// RecordDecisions stores consensus decisions for a run in one transaction.
func (l *Ledger) RecordDecisions(ctx context.Context, runID string, decisions []consensus.Decision) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO decisions (run_id, item_id, statement, verdict, confidence, agreement, action, correction, note, votes, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(timeFormat)
	for _, d := range decisions {
		if _, err := stmt.ExecContext(ctx, runID, d.ID, d.Statement, d.Verdict, d.Confidence, d.Agreement,
			d.Action, d.Correction, d.Note, len(d.Votes), now); err != nil {
			return fmt.Errorf("insert decision %s: %w", d.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	logging.Ledger("Recorded %d decisions for run %s", len(decisions), runID)
	return nil
}

// RecordApply stores the outcome of a cleanup run.
func (l *Ledger) RecordApply(ctx context.Context, runID, script string, rep *cleanup.Report) error {
	committed := 0
	if rep.Committed {
		committed = 1
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO applies (run_id, mode, script, statements, rows_affected, backup_path, committed, applied_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, rep.Mode, script, rep.Statements, rep.RowsAffected, rep.BackupPath, committed,
		time.Now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("insert apply: %w", err)
	}
	logging.Ledger("Recorded %s of %s (%d rows)", rep.Mode, script, rep.RowsAffected)
	return nil
}

const runColumns = `id, command, db_path, workdir, seed, status, items, batches, error, started_at, finished_at`

func scanRun(scanner interface{ Scan(...any) error }) (Run, error) {
	var (
		r        Run
		seed     int64
		started  string
		finished sql.NullString
	)
	if err := scanner.Scan(&r.ID, &r.Command, &r.DBPath, &r.Workdir, &seed, &r.Status, &r.Items, &r.Batches,
		&r.Error, &started, &finished); err != nil {
		return r, err
	}
	r.Seed = uint64(seed)
	r.StartedAt, _ = time.Parse(timeFormat, started)
	if finished.Valid {
		if t, err := time.Parse(timeFormat, finished.String); err == nil {
			r.FinishedAt = &t
		}
	}
	return r, nil
}

// Runs returns the most recent runs first. limit <= 0 returns all.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns one run.
func (l *Ledger) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(l.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

// ActionCounts returns decision counts per action for a run.
func (l *Ledger) ActionCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT action, COUNT(*) FROM decisions WHERE run_id = ? GROUP BY action`, runID)
	if err != nil {
		return nil, fmt.Errorf("count decisions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var action string
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return nil, err
		}
		out[action] = n
	}
	return out, rows.Err()
}

// Applies returns how many scripts were committed for a run.
func (l *Ledger) Applies(ctx context.Context, runID string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM applies WHERE run_id = ? AND committed = 1`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count applies: %w", err)
	}
	return n, nil
}
