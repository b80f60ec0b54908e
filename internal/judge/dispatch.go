package judge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"factaudit/internal/batch"
	"factaudit/internal/logging"
)

// ProviderStats counts what happened to one provider's batches.
type ProviderStats struct {
	Judged  int      `json:"judged"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// Report summarizes a dispatch run.
type Report struct {
	Providers map[string]*ProviderStats `json:"providers"`
	Elapsed   time.Duration             `json:"elapsed"`
}

// Totals sums the per-provider counters.
func (r *Report) Totals() (judged, skipped, failed int) {
	for _, s := range r.Providers {
		judged += s.Judged
		skipped += s.Skipped
		failed += s.Failed
	}
	return judged, skipped, failed
}

type registration struct {
	provider Provider
	limiter  *rate.Limiter
}

// Dispatcher fans batches out to providers, one goroutine per provider.
type Dispatcher struct {
	mu        sync.Mutex
	providers map[string]registration

	// Overwrite re-judges batches whose result file already exists.
	Overwrite bool
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{providers: make(map[string]registration)}
}

// Register adds a provider limited to perMinute requests. Zero or less means unlimited.
func (d *Dispatcher) Register(p Provider, perMinute int) {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	d.mu.Lock()
	d.providers[p.Name()] = registration{provider: p, limiter: rate.NewLimiter(limit, 1)}
	d.mu.Unlock()
}

// Providers returns registered provider names, sorted.
func (d *Dispatcher) Providers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.providers))
	for name := range d.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run judges every batch in the manifest and writes results to outDir/<provider>/<batch_id>.json.
// Batch paths in the manifest are relative to batchDir. A failing batch is counted and logged
// without stopping the other batches; only context cancellation aborts the run.
func (d *Dispatcher) Run(ctx context.Context, batchDir, outDir string, m *batch.Manifest) (*Report, error) {
	start := time.Now()

	d.mu.Lock()
	regs := make(map[string]registration, len(m.Providers))
	for _, name := range m.Providers {
		reg, ok := d.providers[name]
		if !ok {
			d.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
		}
		regs[name] = reg
	}
	d.mu.Unlock()

	report := &Report{Providers: make(map[string]*ProviderStats, len(regs))}
	for name := range regs {
		report.Providers[name] = &ProviderStats{}
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, reg := range regs {
		stats := report.Providers[name]
		entries := m.ForProvider(name)
		g.Go(func() error {
			return d.runProvider(gctx, reg, m, entries, batchDir, outDir, stats)
		})
	}
	err := g.Wait()
	report.Elapsed = time.Since(start)

	judged, skipped, failed := report.Totals()
	logging.Judge("Dispatch finished in %v: %d judged, %d skipped, %d failed", report.Elapsed, judged, skipped, failed)
	return report, err
}

func (d *Dispatcher) runProvider(ctx context.Context, reg registration, m *batch.Manifest, entries []batch.ManifestEntry, batchDir, outDir string, stats *ProviderStats) error {
	name := reg.provider.Name()
	for _, e := range entries {
		out := batch.FilePath(outDir, name, e.BatchID)
		if !d.Overwrite {
			_, err := m.LoadJudgedFor(outDir, e)
			switch {
			case err == nil:
				logging.JudgeDebug("%s %s already judged, skipping", name, e.BatchID)
				stats.Skipped++
				continue
			case !errors.Is(err, fs.ErrNotExist):
				logging.JudgeDebug("%s %s re-judging: %v", name, e.BatchID, err)
			}
		}

		if err := reg.limiter.Wait(ctx); err != nil {
			return err
		}

		if err := judgeOne(ctx, reg.provider, filepath.Join(batchDir, e.Path), out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.JudgeWarn("%s %s: %v", name, e.BatchID, err)
			stats.Failed++
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", e.BatchID, err))
			continue
		}
		stats.Judged++
	}
	return nil
}

func judgeOne(ctx context.Context, p Provider, in, out string) error {
	b, err := batch.LoadBatch(in)
	if err != nil {
		return err
	}
	judged, err := p.Judge(ctx, b)
	if err != nil {
		return err
	}
	if judged == nil {
		return errors.New("provider returned no result")
	}
	return batch.WriteJudged(out, judged)
}
