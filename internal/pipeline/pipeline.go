// Package pipeline runs the audit end to end: sample, score, batch, optionally judge and
// merge, then record the run.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"factaudit/internal/batch"
	"factaudit/internal/consensus"
	"factaudit/internal/judge"
	"factaudit/internal/ledger"
	"factaudit/internal/logging"
	"factaudit/internal/metrics"
	"factaudit/internal/sampler"
	"factaudit/internal/scorer"
	"factaudit/internal/store"
)

// Deps are the collaborators of a run. Only Store and Scorer are required.
type Deps struct {
	Store      *store.Store
	Scorer     *scorer.Scorer
	Dispatcher *judge.Dispatcher
	Ledger     *ledger.Ledger
	Metrics    *metrics.Metrics
}

// Options controls one run.
type Options struct {
	Command   string
	Workdir   string
	Sampler   sampler.Config
	TopK      int
	ScanLimit int
	BatchSize int
	Providers []string

	// Judge sends the batches through Deps.Dispatcher.
	Judge bool
	// Merge majority-votes the results directory after judging.
	Merge     bool
	Consensus consensus.Options

	MetricsTextfile string
}

// Result is the run manifest written to <workdir>/run.json.
type Result struct {
	RunID      string         `json:"run_id"`
	Command    string         `json:"command"`
	DBPath     string         `json:"db_path"`
	Seed       uint64         `json:"seed"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	TotalFacts int64          `json:"total_facts"`
	Sampled    int            `json:"sampled"`
	Reserve    int            `json:"reserve"`
	Uncertain  int            `json:"uncertain"`
	Items      int            `json:"items"`
	Batches    int            `json:"batches"`
	Providers  []string       `json:"providers"`
	Judge      *judge.Report  `json:"judge,omitempty"`
	Actions    map[string]int `json:"actions,omitempty"`
	Paths      Paths          `json:"paths"`
	Error      string         `json:"error,omitempty"`
}

// Run executes one audit run. The run is recorded in the ledger (when present) whether or
// not it succeeds, and the run manifest is written on success.
func Run(ctx context.Context, deps Deps, opts Options) (*Result, error) {
	if deps.Store == nil || deps.Scorer == nil {
		return nil, errors.New("pipeline needs a store and a scorer")
	}
	if opts.Judge && deps.Dispatcher == nil {
		return nil, errors.New("judging requested without a dispatcher")
	}
	if opts.Command == "" {
		opts.Command = "run"
	}

	paths := NewPaths(opts.Workdir)
	res := &Result{
		RunID:     uuid.NewString(),
		Command:   opts.Command,
		DBPath:    deps.Store.Path(),
		Seed:      opts.Sampler.Seed,
		StartedAt: time.Now().UTC(),
		Providers: opts.Providers,
		Paths:     paths,
	}
	logging.Pipeline("Run %s started on %s", res.RunID, res.DBPath)

	run := &ledger.Run{
		ID:        res.RunID,
		Command:   res.Command,
		DBPath:    res.DBPath,
		Workdir:   opts.Workdir,
		Seed:      res.Seed,
		StartedAt: res.StartedAt,
	}
	if deps.Ledger != nil {
		if _, err := deps.Ledger.RecordRun(ctx, run); err != nil {
			return nil, err
		}
	}

	err := execute(ctx, deps, opts, paths, res)
	res.FinishedAt = time.Now().UTC()
	if err != nil {
		res.Error = err.Error()
		logging.PipelineError("Run %s failed: %v", res.RunID, err)
	}

	if deps.Ledger != nil {
		run.Items, run.Batches = res.Items, res.Batches
		run.Status, run.Error = ledger.StatusCompleted, res.Error
		if err != nil {
			run.Status = ledger.StatusFailed
		}
		// The run may have failed because ctx ended; the ledger still gets the outcome.
		if ferr := deps.Ledger.FinishRun(context.WithoutCancel(ctx), run); ferr != nil && err == nil {
			err = ferr
		}
	}
	if err != nil {
		return res, err
	}

	if deps.Metrics != nil {
		deps.Metrics.ObserveRun(res.StartedAt)
		if opts.MetricsTextfile != "" {
			if err := deps.Metrics.WriteTextfile(opts.MetricsTextfile); err != nil {
				return res, err
			}
		}
	}
	if err := writeJSON(paths.Run(), res); err != nil {
		return res, err
	}
	logging.Pipeline("Run %s completed: %d items in %d batches", res.RunID, res.Items, res.Batches)
	return res, nil
}

func execute(ctx context.Context, deps Deps, opts Options, paths Paths, res *Result) error {
	sample, err := sampler.Sample(ctx, deps.Store, opts.Sampler)
	if err != nil {
		return fmt.Errorf("sample: %w", err)
	}
	if err := sample.WriteJSON(paths.Sample()); err != nil {
		return err
	}
	res.TotalFacts = sample.TotalFacts
	res.Sampled, res.Reserve = len(sample.Items), len(sample.Reserve)

	uncertain, err := Uncertain(ctx, deps.Scorer, deps.Store, sample, opts.ScanLimit, opts.TopK)
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}
	if err := scorer.WriteJSON(paths.Uncertain(), uncertain); err != nil {
		return err
	}
	res.Uncertain = len(uncertain)

	items := batch.Merge(sample.Items, uncertain)
	batches, err := batch.Build(res.RunID, items, opts.Providers, opts.BatchSize)
	if err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	manifest, err := batch.WriteAll(paths.Batches(), batches)
	if err != nil {
		return err
	}
	res.Items, res.Batches = len(items), len(batches)

	if deps.Metrics != nil {
		deps.Metrics.ObserveSample(sample)
		deps.Metrics.Uncertain.Set(float64(len(uncertain)))
		perProvider := make(map[string]int)
		for _, e := range manifest.Batches {
			perProvider[e.Provider]++
		}
		deps.Metrics.ObserveBatches(perProvider)
	}

	if !opts.Judge {
		return nil
	}
	report, err := deps.Dispatcher.Run(ctx, paths.Batches(), paths.Results(), manifest)
	res.Judge = report
	if deps.Metrics != nil && report != nil {
		deps.Metrics.ObserveJudge(report)
	}
	if err != nil {
		return fmt.Errorf("judge: %w", err)
	}

	if !opts.Merge {
		return nil
	}
	merged, err := MergeResults(ctx, paths.Batches(), paths.Results(), paths.Consensus(), manifest, opts.Consensus, deps.Store.Table(), deps.Store.Column())
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	res.Actions = merged.ActionCounts()
	if deps.Metrics != nil {
		deps.Metrics.ObserveConsensus(merged)
	}
	if deps.Ledger != nil {
		if err := deps.Ledger.RecordDecisions(ctx, res.RunID, merged.Decisions); err != nil {
			return err
		}
	}
	return nil
}

// Uncertain scores every sampled and reserve statement, adds the top of a scan over the
// store when scanLimit is positive, and returns the k highest non-zero scores.
func Uncertain(ctx context.Context, sc *scorer.Scorer, src scorer.StatementSource, sample *sampler.Result, scanLimit, k int) ([]scorer.Assessment, error) {
	statements := sample.Statements()
	for _, it := range sample.Reserve {
		statements = append(statements, it.Statement)
	}
	scored, err := sc.ScoreAll(statements)
	if err != nil {
		return nil, err
	}
	if scanLimit > 0 && src != nil {
		scanned, err := sc.Scan(ctx, src, scanLimit, k)
		if err != nil {
			return nil, err
		}
		scored = append(scored, scanned...)
	}

	seen := make(map[string]bool, len(scored))
	var out []scorer.Assessment
	for _, a := range scorer.TopK(scored, 0) {
		if a.Score <= 0 || seen[a.Statement] {
			continue
		}
		seen[a.Statement] = true
		out = append(out, a)
		if k > 0 && len(out) == k {
			break
		}
	}
	logging.Pipeline("%d uncertain statements from %d scored", len(out), len(scored))
	return out, nil
}

// MergeResults majority-votes the judged batches of manifest m found under resultsDir and
// writes the consensus outputs to outDir. Judged files from other runs are ignored.
func MergeResults(ctx context.Context, batchDir, resultsDir, outDir string, m *batch.Manifest, opts consensus.Options, table, column string) (*consensus.Result, error) {
	judged, err := consensus.LoadRun(ctx, batchDir, resultsDir, m)
	if err != nil {
		return nil, err
	}
	res, err := consensus.Merge(judged, opts)
	if err != nil {
		return nil, err
	}
	res.RunID = m.RunID
	if err := res.WriteAll(outDir, table, column); err != nil {
		return nil, err
	}
	return res, nil
}

// LoadResult reads a run manifest.
func LoadResult(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run manifest: %w", err)
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse run manifest: %w", err)
	}
	return &r, nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0644)
}
