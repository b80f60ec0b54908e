// Package store provides access to the SQLite knowledge base that holds fact statements.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"factaudit/internal/logging"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when the database file does not exist and Create is off.
	ErrNotFound = errors.New("knowledge base not found")
	// ErrNoFactsTable is returned when the configured table is missing.
	ErrNoFactsTable = errors.New("facts table not found")
	// ErrNoStatementColumn is returned when the configured column is missing.
	ErrNoStatementColumn = errors.New("statement column not found")
	// ErrBadIdentifier is returned for table or column names that are not plain identifiers.
	ErrBadIdentifier = errors.New("invalid SQL identifier")
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options controls how the knowledge base is opened.
type Options struct {
	Table       string
	Column      string
	ReadOnly    bool
	Create      bool
	BusyTimeout time.Duration
}

// DefaultOptions returns the layout used by the fact generators: facts(statement).
func DefaultOptions() Options {
	return Options{Table: "facts", Column: "statement", BusyTimeout: 5 * time.Second}
}

// Store is a handle on one knowledge base file.
type Store struct {
	db     *sql.DB
	path   string
	table  string
	column string
}

// Open opens the knowledge base at path and verifies the facts table layout.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.Open")
	defer timer.Stop()

	if opts.Table == "" {
		opts.Table = "facts"
	}
	if opts.Column == "" {
		opts.Column = "statement"
	}
	if !identPattern.MatchString(opts.Table) || !identPattern.MatchString(opts.Column) {
		return nil, fmt.Errorf("%w: %q.%q", ErrBadIdentifier, opts.Table, opts.Column)
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat knowledge base: %w", err)
		}
		if !opts.Create {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	logging.Store("Opening knowledge base at %s (table=%s column=%s readonly=%v)", path, opts.Table, opts.Column, opts.ReadOnly)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds())); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if opts.ReadOnly {
		if _, err := db.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable query_only: %w", err)
		}
	} else {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA synchronous = NORMAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
		}
	}

	s := &Store{db: db, path: path, table: opts.Table, column: opts.Column}
	if opts.Create && !opts.ReadOnly {
		if err := s.createSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := s.verifyLayout(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		%s TEXT UNIQUE NOT NULL,
		source TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`, s.table, s.column)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create facts table: %w", err)
	}
	return nil
}

func (s *Store) verifyLayout(ctx context.Context) error {
	var name string
	err := s.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", s.table).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s in %s", ErrNoFactsTable, s.table, s.path)
	}
	if err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", s.table))
	if err != nil {
		return fmt.Errorf("failed to inspect columns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid       int
			col, typ  string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &col, &typ, &notNull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("failed to scan column info: %w", err)
		}
		if col == s.column {
			return rows.Err()
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s.%s", ErrNoStatementColumn, s.table, s.column)
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Table returns the facts table name.
func (s *Store) Table() string { return s.table }

// Column returns the statement column name.
func (s *Store) Column() string { return s.column }

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Count returns the number of rows in the facts table.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count facts: %w", err)
	}
	return n, nil
}

// Exists reports whether a statement is stored verbatim.
func (s *Store) Exists(ctx context.Context, statement string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ? LIMIT 1", s.table, s.column), statement).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up statement: %w", err)
	}
	return true, nil
}

// Insert adds a statement unless it already exists. It reports whether a row was written.
func (s *Store) Insert(ctx context.Context, statement string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (?)", s.table, s.column), statement)
	if err != nil {
		return false, fmt.Errorf("failed to insert statement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Backup writes a compacted copy of the database to dest with VACUUM INTO.
// dest must not exist.
func (s *Store) Backup(ctx context.Context, dest string) error {
	timer := logging.StartTimer(logging.CategoryStore, "store.Backup")
	defer timer.StopWithInfo()

	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("backup target already exists: %s", dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		logging.StoreError("VACUUM INTO %s failed: %v", dest, err)
		return fmt.Errorf("failed to back up database: %w", err)
	}
	logging.Store("Backup written to %s", dest)
	return nil
}

// ExecResult is the outcome of one statement in a script.
type ExecResult struct {
	SQL          string `json:"sql"`
	RowsAffected int64  `json:"rows_affected"`
}

// ExecScript runs statements in a single transaction. The transaction is committed only
// when commit is true; otherwise it is rolled back after every statement has run.
func (s *Store) ExecScript(ctx context.Context, statements []string, commit bool) ([]ExecResult, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.ExecScript")
	defer timer.Stop()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	results := make([]ExecResult, 0, len(statements))
	for i, stmt := range statements {
		res, err := tx.ExecContext(ctx, stmt)
		if err != nil {
			return results, fmt.Errorf("statement %d failed: %w", i+1, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return results, fmt.Errorf("statement %d: rows affected: %w", i+1, err)
		}
		results = append(results, ExecResult{SQL: stmt, RowsAffected: n})
	}

	if !commit {
		logging.StoreDebug("Rolled back %d statements (dry run)", len(statements))
		return results, nil
	}
	if err := tx.Commit(); err != nil {
		return results, fmt.Errorf("failed to commit: %w", err)
	}
	logging.Store("Committed %d statements", len(statements))
	return results, nil
}
