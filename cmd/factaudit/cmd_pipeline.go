package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"factaudit/internal/batch"
	"factaudit/internal/config"
	"factaudit/internal/consensus"
	"factaudit/internal/judge"
	"factaudit/internal/metrics"
	"factaudit/internal/pipeline"
	"factaudit/internal/report"
	"factaudit/internal/sampler"
	"factaudit/internal/scorer"
	"factaudit/internal/watch"
)

var (
	seedFlag     uint64
	topKFlag     int
	scanFlag     int
	sizeFlag     int
	providerFlag []string
	overwrite    bool
	resultsDir   string
	judgeFlag    bool
	mergeFlag    bool
)

// sampleCmd draws the stratified sample
var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Draw a stratified sample of statements",
	Long: `Ranks predicates by frequency and samples statements from the most frequent
and rarest predicates, adds random statements from the whole base and sets aside a
disjoint reserve pool. The result is written to <workdir>/sample.json.`,
	RunE: runSample,
}

// scoreCmd ranks statements by uncertainty
var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Rank statements by heuristic uncertainty",
	Long: `Scores every sampled and reserve statement (when sample.json exists) plus a scan
over the knowledge base, and writes the top statements to <workdir>/uncertain.json.`,
	RunE: runScore,
}

// batchCmd builds provider batches
var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Build provider batches from the sample and uncertainty files",
	RunE:  runBatch,
}

// judgeCmd sends batches to the configured providers
var judgeCmd = &cobra.Command{
	Use:   "judge",
	Short: "Judge batches with the configured providers",
	Long: `Sends every batch listed in <workdir>/batches/manifest.json to its provider and
writes judged batches to <workdir>/results/<provider>/. Batches that already have a
judged file are skipped unless --overwrite is given.

Example:
  factaudit judge --providers local,gemini`,
	RunE: runJudge,
}

// mergeCmd majority-votes judged batches
var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Majority-vote judged batches into cleanup SQL and a summary",
	RunE:  runMerge,
}

// runCmd runs the whole pipeline
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sample, score and batch in one step, optionally judging and merging",
	Long: `Runs the audit pipeline:
  1. Sample: stratified sample with a reserve pool
  2. Score: uncertainty over the sample and a knowledge base scan
  3. Batch: merged items split into batches for every provider
  4. Judge (--judge): send batches to providers
  5. Merge (--merge): majority vote into cleanup.sql and summary.md

The run is recorded in the ledger and described in <workdir>/run.json.`,
	RunE: runPipeline,
}

// watchCmd merges once all judged batches arrive
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Wait for judged batches and merge when all have arrived",
	RunE:  runWatch,
}

func init() {
	sampleCmd.Flags().Uint64Var(&seedFlag, "seed", 0, "Random seed (overrides config)")

	scoreCmd.Flags().IntVar(&topKFlag, "top-k", 0, "Number of statements to keep (overrides config)")
	scoreCmd.Flags().IntVar(&scanFlag, "scan-limit", 0, "Statements to scan from the store (overrides config)")

	batchCmd.Flags().IntVar(&sizeFlag, "size", 0, "Items per batch (overrides config)")
	batchCmd.Flags().StringSliceVar(&providerFlag, "providers", nil, "Providers to build batches for")

	judgeCmd.Flags().StringSliceVar(&providerFlag, "providers", nil, "Only judge these providers")
	judgeCmd.Flags().BoolVar(&overwrite, "overwrite", false, "Re-judge batches that already have results")

	mergeCmd.Flags().StringVar(&resultsDir, "results", "", "Judged batch directory (default <workdir>/results)")

	runCmd.Flags().Uint64Var(&seedFlag, "seed", 0, "Random seed (overrides config)")
	runCmd.Flags().StringSliceVar(&providerFlag, "providers", nil, "Providers to build batches for")
	runCmd.Flags().BoolVar(&judgeFlag, "judge", false, "Judge the batches after building them")
	runCmd.Flags().BoolVar(&mergeFlag, "merge", false, "Merge judged batches (implies --judge)")

	watchCmd.Flags().StringVar(&resultsDir, "results", "", "Judged batch directory (default <workdir>/results)")
}

func runSample(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	kb, err := openStore(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer kb.Close()

	sc := pipeline.SamplerConfig(cfg)
	if cmd.Flags().Changed("seed") {
		sc.Seed = seedFlag
	}
	res, err := sampler.Sample(ctx, kb, sc)
	if err != nil {
		return err
	}
	paths := pipeline.NewPaths(cfg.Workdir)
	if err := res.WriteJSON(paths.Sample()); err != nil {
		return err
	}
	logger.Info("Sample written", zap.String("path", paths.Sample()), zap.Int("items", len(res.Items)))

	m := metrics.New()
	m.ObserveSample(res)
	if err := writeMetrics(cfg, m); err != nil {
		return err
	}

	st := styles()
	t := report.NewTable("Buckets", "Stratum", "Predicate", "Count", "Sampled")
	for _, b := range res.Buckets {
		t.AddRow(b.Stratum, b.Predicate, report.Count(b.Count), report.Count(b.Sampled))
	}
	fmt.Print(t.View(st))
	counts := res.CountByStratum()
	fmt.Printf("%s facts, %d predicates: %d top, %d rare, %d random, %d reserve -> %s\n",
		report.Count(res.TotalFacts), res.Predicates,
		counts[sampler.StratumTop], counts[sampler.StratumRare], counts[sampler.StratumRandom],
		counts[sampler.StratumReserve], paths.Sample())
	return nil
}

func runScore(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	kb, err := openStore(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer kb.Close()
	sc, err := newScorer(cfg)
	if err != nil {
		return err
	}

	k, limit := cfg.Scorer.TopK, cfg.Scorer.ScanLimit
	if cmd.Flags().Changed("top-k") {
		k = topKFlag
	}
	if cmd.Flags().Changed("scan-limit") {
		limit = scanFlag
	}

	paths := pipeline.NewPaths(cfg.Workdir)
	sample := &sampler.Result{}
	if fileExists(paths.Sample()) {
		if sample, err = sampler.LoadResult(paths.Sample()); err != nil {
			return err
		}
	} else {
		logger.Info("No sample found, scoring the store scan only", zap.String("path", paths.Sample()))
	}

	uncertain, err := pipeline.Uncertain(ctx, sc, kb, sample, limit, k)
	if err != nil {
		return err
	}
	if err := scorer.WriteJSON(paths.Uncertain(), uncertain); err != nil {
		return err
	}

	t := report.NewTable("Most uncertain", "Score", "Statement", "Signals")
	for i, a := range uncertain {
		if i == 20 {
			break
		}
		t.AddRow(fmt.Sprintf("%.2f", a.Score), a.Statement, strings.Join(a.SignalNames(), ","))
	}
	fmt.Print(t.View(styles()))
	fmt.Printf("%d uncertain statements -> %s\n", len(uncertain), paths.Uncertain())
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	paths := pipeline.NewPaths(cfg.Workdir)

	sample, err := sampler.LoadResult(paths.Sample())
	if err != nil {
		return fmt.Errorf("%w (run 'factaudit sample' first)", err)
	}
	var uncertain []scorer.Assessment
	if fileExists(paths.Uncertain()) {
		if uncertain, err = scorer.LoadAssessments(paths.Uncertain()); err != nil {
			return err
		}
	}

	size, providers := cfg.Batch.Size, cfg.Batch.Providers
	if sizeFlag > 0 {
		size = sizeFlag
	}
	if len(providerFlag) > 0 {
		providers = providerFlag
	}

	items := batch.Merge(sample.Items, uncertain)
	batches, err := batch.Build(uuid.NewString(), items, providers, size)
	if err != nil {
		return err
	}
	manifest, err := batch.WriteAll(paths.Batches(), batches)
	if err != nil {
		return err
	}
	logger.Info("Batches written", zap.String("run_id", manifest.RunID), zap.Int("batches", len(batches)))

	t := report.NewTable("Batches", "Provider", "Batches", "Items")
	for _, p := range manifest.Providers {
		entries := manifest.ForProvider(p)
		n := 0
		for _, e := range entries {
			n += e.Items
		}
		t.AddRow(p, report.Count(len(entries)), report.Count(n))
	}
	fmt.Print(t.View(styles()))
	fmt.Printf("%d items (%d sampled, %d uncertain) -> %s\n", len(items), len(sample.Items), len(uncertain), paths.Batches())
	return nil
}

func runJudge(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	paths := pipeline.NewPaths(cfg.Workdir)
	manifest, err := batch.LoadManifest(paths.Batches())
	if err != nil {
		return fmt.Errorf("%w (run 'factaudit batch' first)", err)
	}
	manifest = filterManifest(manifest, providerFlag)
	if len(manifest.Batches) == 0 {
		return errors.New("no batches to judge for the selected providers")
	}

	sc, err := newScorer(cfg)
	if err != nil {
		return err
	}
	d, err := pipeline.NewDispatcher(ctx, cfg, sc, manifest.Providers)
	if err != nil {
		return err
	}
	d.Overwrite = overwrite

	rep, err := d.Run(ctx, paths.Batches(), paths.Results(), manifest)
	if rep != nil {
		printJudgeReport(rep)
		m := metrics.New()
		m.ObserveJudge(rep)
		if werr := writeMetrics(cfg, m); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

// filterManifest keeps only the named providers. An empty list keeps everything.
func filterManifest(m *batch.Manifest, providers []string) *batch.Manifest {
	if len(providers) == 0 {
		return m
	}
	keep := make(map[string]bool, len(providers))
	for _, p := range providers {
		keep[p] = true
	}
	out := *m
	out.Providers, out.Batches = nil, nil
	for _, p := range m.Providers {
		if keep[p] {
			out.Providers = append(out.Providers, p)
		}
	}
	for _, e := range m.Batches {
		if keep[e.Provider] {
			out.Batches = append(out.Batches, e)
		}
	}
	return &out
}

func printJudgeReport(rep *judge.Report) {
	names := make([]string, 0, len(rep.Providers))
	for name := range rep.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	st := styles()
	t := report.NewTable("Judged batches", "Provider", "Judged", "Skipped", "Failed")
	for _, name := range names {
		s := rep.Providers[name]
		t.AddRow(name, report.Count(s.Judged), report.Count(s.Skipped), report.Count(s.Failed))
	}
	fmt.Print(t.View(st))
	for _, name := range names {
		for _, e := range rep.Providers[name].Errors {
			fmt.Println(st.Error.Render(name + ": " + e))
		}
	}
	judged, skipped, failed := rep.Totals()
	fmt.Printf("%d judged, %d skipped, %d failed in %s\n", judged, skipped, failed, rep.Elapsed.Round(time.Millisecond))
}

func runMerge(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	paths := pipeline.NewPaths(cfg.Workdir)
	dir := resultsDir
	if dir == "" {
		dir = paths.Results()
	}
	manifest, err := batch.LoadManifest(paths.Batches())
	if err != nil {
		return fmt.Errorf("%w (run 'factaudit batch' first)", err)
	}
	return mergeAndRecord(ctx, cfg, dir, paths, manifest)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	kb, err := openStore(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer kb.Close()
	sc, err := newScorer(cfg)
	if err != nil {
		return err
	}
	led, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	if led != nil {
		defer led.Close()
	}

	opts := pipeline.Options{
		Command:         "run",
		Workdir:         cfg.Workdir,
		Sampler:         pipeline.SamplerConfig(cfg),
		TopK:            cfg.Scorer.TopK,
		ScanLimit:       cfg.Scorer.ScanLimit,
		BatchSize:       cfg.Batch.Size,
		Providers:       cfg.Batch.Providers,
		Judge:           judgeFlag || mergeFlag,
		Merge:           mergeFlag,
		Consensus:       pipeline.ConsensusOptions(cfg),
		MetricsTextfile: cfg.Metrics.Textfile,
	}
	if cmd.Flags().Changed("seed") {
		opts.Sampler.Seed = seedFlag
	}
	if len(providerFlag) > 0 {
		opts.Providers = providerFlag
	}

	deps := pipeline.Deps{Store: kb, Scorer: sc, Ledger: led, Metrics: metrics.New()}
	if opts.Judge {
		if deps.Dispatcher, err = pipeline.NewDispatcher(ctx, cfg, sc, opts.Providers); err != nil {
			return err
		}
	}

	res, err := pipeline.Run(ctx, deps, opts)
	if err != nil {
		if res != nil {
			logger.Error("Run failed", zap.String("run_id", res.RunID), zap.Error(err))
		}
		return err
	}
	logger.Info("Run completed", zap.String("run_id", res.RunID), zap.Int("items", res.Items))

	st := styles()
	fmt.Println(st.Title.Render("Run " + res.RunID))
	fmt.Printf("  facts:     %s\n", report.Count(res.TotalFacts))
	fmt.Printf("  sampled:   %d (+%d reserve)\n", res.Sampled, res.Reserve)
	fmt.Printf("  uncertain: %d\n", res.Uncertain)
	fmt.Printf("  items:     %d in %d batches for %s\n", res.Items, res.Batches, strings.Join(res.Providers, ", "))
	if res.Judge != nil {
		printJudgeReport(res.Judge)
	}
	if res.Actions != nil {
		fmt.Printf("  actions:   %d keep, %d update, %d delete, %d review\n",
			res.Actions[consensus.ActionKeep], res.Actions[consensus.ActionUpdate],
			res.Actions[consensus.ActionDelete], res.Actions[consensus.ActionReview])
		fmt.Printf("  cleanup:   %s\n", consensusFile(res.Paths, consensus.SQLFile))
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	paths := pipeline.NewPaths(cfg.Workdir)
	dir := resultsDir
	if dir == "" {
		dir = paths.Results()
	}
	manifest, err := batch.LoadManifest(paths.Batches())
	if err != nil {
		return fmt.Errorf("%w (run 'factaudit batch' first)", err)
	}

	w, err := watch.New(dir, manifest, func(ctx context.Context) error {
		return mergeAndRecord(ctx, cfg, dir, paths, manifest)
	})
	if err != nil {
		return err
	}
	fmt.Printf("Waiting for %d judged batches in %s (%d missing)\n", len(manifest.Batches), dir, len(w.Missing()))
	return w.Wait(ctx)
}

// mergeAndRecord merges the manifest's judged batches in dir into <workdir>/consensus, prints
// the summary and stores the decisions in the ledger.
func mergeAndRecord(ctx context.Context, cfg *config.Config, dir string, paths pipeline.Paths, manifest *batch.Manifest) error {
	res, err := pipeline.MergeResults(ctx, paths.Batches(), dir, paths.Consensus(), manifest, pipeline.ConsensusOptions(cfg), cfg.Database.Table, cfg.Database.Column)
	if err != nil {
		return err
	}
	logger.Info("Merged judged batches", zap.String("run_id", res.RunID), zap.Int("decisions", len(res.Decisions)))

	led, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	if led != nil {
		defer led.Close()
		if res.RunID != "" {
			if err := led.RecordDecisions(ctx, res.RunID, res.Decisions); err != nil {
				return err
			}
		}
	}

	m := metrics.New()
	m.ObserveConsensus(res)
	if err := writeMetrics(cfg, m); err != nil {
		return err
	}

	printMarkdown(res.Markdown())
	fmt.Printf("cleanup SQL -> %s\n", consensusFile(paths, consensus.SQLFile))
	return nil
}

func consensusFile(paths pipeline.Paths, name string) string {
	return filepath.Join(paths.Consensus(), name)
}
