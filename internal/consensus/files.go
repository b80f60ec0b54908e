package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"factaudit/internal/batch"
	"factaudit/internal/logging"
)

// Output file names.
const (
	SQLFile     = "cleanup.sql"
	SummaryFile = "summary.md"
	JSONFile    = "consensus.json"
)

// WriteAll writes cleanup.sql, summary.md and consensus.json into dir.
func (r *Result) WriteAll(dir, table, column string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal consensus: %w", err)
	}
	files := map[string][]byte{
		SQLFile:     []byte(r.SQL(table, column)),
		SummaryFile: []byte(r.Markdown()),
		JSONFile:    data,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	logging.Consensus("Wrote consensus output to %s", dir)
	return nil
}

// LoadResult reads a consensus.json.
func LoadResult(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &r, nil
}

// JudgedFiles lists judged batch files under dir (one level of provider subdirectories).
func JudgedFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel, _ := filepath.Rel(dir, path); strings.Count(rel, string(filepath.Separator)) > 0 {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) == ".json" && filepath.Dir(path) != filepath.Clean(dir) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list judged files: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadJudgedDir loads every judged batch under dir concurrently, in path order.
func LoadJudgedDir(ctx context.Context, dir string) ([]*batch.Judged, error) {
	paths, err := JudgedFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoJudgments, dir)
	}

	out := make([]*batch.Judged, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			j, err := batch.LoadJudged(p)
			if err != nil {
				return err
			}
			out[i] = j
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	logging.Consensus("Loaded %d judged batches from %s", len(out), dir)
	return out, nil
}

// LoadRun loads the judged batches of manifest m from resultsDir. Missing files and files
// from other runs are skipped. Every result takes its statement from the batch file in
// batchDir by item id, and results for ids the batch does not list are dropped.
func LoadRun(ctx context.Context, batchDir, resultsDir string, m *batch.Manifest) ([]*batch.Judged, error) {
	loaded := make([]*batch.Judged, len(m.Batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, e := range m.Batches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			j, err := m.LoadJudgedFor(resultsDir, e)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				logging.Consensus("No judged file for %s yet", e.BatchID)
				return nil
			case errors.Is(err, batch.ErrStale):
				logging.ConsensusWarn("Skipping %v", err)
				return nil
			case err != nil:
				return err
			}
			b, err := batch.LoadBatch(filepath.Join(batchDir, e.Path))
			if err != nil {
				return err
			}
			resolveStatements(j, b)
			loaded[i] = j
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*batch.Judged
	for _, j := range loaded {
		if j != nil {
			out = append(out, j)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w for run %s in %s", ErrNoJudgments, m.RunID, resultsDir)
	}
	logging.Consensus("Loaded %d of %d judged batches for run %s", len(out), len(m.Batches), m.RunID)
	return out, nil
}

func resolveStatements(j *batch.Judged, b *batch.Batch) {
	byID := make(map[string]string, len(b.Items))
	for _, it := range b.Items {
		byID[it.ID] = it.Statement
	}
	kept := j.Results[:0]
	for _, r := range j.Results {
		st, ok := byID[r.ID]
		if !ok {
			logging.ConsensusWarn("%s: dropping result for unknown item %s", j.BatchID, r.ID)
			continue
		}
		r.Statement = st
		kept = append(kept, r)
	}
	j.Results = kept
}
