package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"factaudit/internal/metrics"
	"factaudit/internal/pipeline"
	"factaudit/internal/quality"
)

var reportOut string

// errSanityFailed is returned when the sanity check finds problems so the exit code is non-zero.
var errSanityFailed = errors.New("sanity check failed")

// sanityCmd runs the quick health check
var sanityCmd = &cobra.Command{
	Use:   "sanity",
	Short: "Quick health check of the knowledge base",
	Long: `Counts facts and predicates, checks the syntax of a random sample, measures the
trailing-dot and n-ary rates and looks for duplicate rows. Exits non-zero when the
syntax failure rate or the duplicate count exceeds the configured thresholds.`,
	RunE: runSanity,
}

// analyzeCmd runs the full quality analysis
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Full quality analysis with a 0-100 score and recommendations",
	RunE:  runAnalyze,
}

func init() {
	sanityCmd.Flags().StringVarP(&reportOut, "output", "o", "", "Also write the markdown report to this file")
	analyzeCmd.Flags().StringVarP(&reportOut, "output", "o", "", "Also write the markdown report to this file")
}

func runSanity(cmd *cobra.Command, args []string) error {
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

	rep, err := quality.Sanity(ctx, kb, pipeline.QualityOptions(cfg, nil))
	if err != nil {
		return err
	}
	md := rep.Markdown()
	if err := writeReport(md); err != nil {
		return err
	}
	printMarkdown(md)

	if !rep.Passed {
		logger.Warn("Sanity check failed", zap.Strings("problems", rep.Problems))
		return errSanityFailed
	}
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
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
	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}

	a, err := quality.Analyze(ctx, kb, pipeline.QualityOptions(cfg, engine))
	if err != nil {
		return err
	}
	logger.Info("Quality analysis finished", zap.Float64("score", a.Score), zap.String("grade", quality.Grade(a.Score)))

	m := metrics.New()
	m.Facts.Set(float64(a.TotalFacts))
	m.ObserveQuality(a)
	if err := writeMetrics(cfg, m); err != nil {
		return err
	}

	md := a.Markdown()
	if err := writeReport(md); err != nil {
		return err
	}
	printMarkdown(md)
	return nil
}

func writeReport(md string) error {
	if reportOut == "" {
		return nil
	}
	if err := os.WriteFile(reportOut, []byte(md), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
