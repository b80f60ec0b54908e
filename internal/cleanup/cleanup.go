// Package cleanup applies consensus cleanup scripts to the knowledge base, with a backup first.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"factaudit/internal/logging"
	"factaudit/internal/store"
)

// ErrEmptyScript is returned when a script has no executable statements.
var ErrEmptyScript = errors.New("script has no executable statements")

// Mode selects whether changes are kept.
type Mode int

const (
	// ModeDryRun executes inside a transaction that is rolled back.
	ModeDryRun Mode = iota
	// ModeApply backs up the database, then executes and commits.
	ModeApply
)

func (m Mode) String() string {
	if m == ModeApply {
		return "apply"
	}
	return "dry-run"
}

// Report describes one run of a script.
type Report struct {
	Mode         string             `json:"mode"`
	Statements   int                `json:"statements"`
	RowsAffected int64              `json:"rows_affected"`
	Committed    bool               `json:"committed"`
	BackupPath   string             `json:"backup_path,omitempty"`
	Results      []store.ExecResult `json:"results"`
	Elapsed      time.Duration      `json:"elapsed"`
}

// Applier runs cleanup scripts against a store.
type Applier struct {
	Store     *store.Store
	BackupDir string

	// Now is used for backup names; nil means time.Now.
	Now func() time.Time
}

// BackupPath returns <BackupDir>/<db>.backup_<YYYYmmdd_HHMMSS>.db for the current time.
func (a *Applier) BackupPath() string {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	base := filepath.Base(a.Store.Path())
	base = strings.TrimSuffix(base, filepath.Ext(base))
	dir := a.BackupDir
	if dir == "" {
		dir = filepath.Dir(a.Store.Path())
	}
	return filepath.Join(dir, fmt.Sprintf("%s.backup_%s.db", base, now().Format("20060102_150405")))
}

// RunFile reads a script from path and runs it.
func (a *Applier) RunFile(ctx context.Context, path string, mode Mode) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return a.Run(ctx, string(data), mode)
}

// Run executes script in one transaction. In ModeApply a backup is written first and left in
// place even if the script fails.
func (a *Applier) Run(ctx context.Context, script string, mode Mode) (*Report, error) {
	stmts := SplitSQL(script)
	if len(stmts) == 0 {
		return nil, ErrEmptyScript
	}

	start := time.Now()
	report := &Report{Mode: mode.String(), Statements: len(stmts)}

	if mode == ModeApply {
		report.BackupPath = a.BackupPath()
		if err := a.Store.Backup(ctx, report.BackupPath); err != nil {
			logging.CleanupError("Backup failed: %v", err)
			return nil, err
		}
		logging.Cleanup("Backup written to %s", report.BackupPath)
	}

	results, err := a.Store.ExecScript(ctx, stmts, mode == ModeApply)
	report.Results = results
	for _, r := range results {
		report.RowsAffected += r.RowsAffected
	}
	report.Elapsed = time.Since(start)
	if err != nil {
		logging.CleanupError("%s failed after %d statements: %v", report.Mode, len(results), err)
		return report, err
	}
	report.Committed = mode == ModeApply

	logging.Cleanup("%s: %d statements, %d rows affected in %v", report.Mode, report.Statements, report.RowsAffected, report.Elapsed)
	return report, nil
}
