package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"factaudit/internal/config"
	"factaudit/internal/ledger"
	"factaudit/internal/logging"
	"factaudit/internal/metrics"
	"factaudit/internal/pipeline"
	"factaudit/internal/report"
	"factaudit/internal/rules"
	"factaudit/internal/scorer"
	"factaudit/internal/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	// Global flags
	verbose    bool
	configPath string
	dbPath     string
	workdir    string
	timeout    time.Duration
	plain      bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "factaudit",
	Short: "factaudit - sample, judge and clean a SQLite fact knowledge base",
	Long: `factaudit audits a knowledge base of Predicate(Arg1, Arg2, ...). statements.

A run draws a stratified sample, ranks statements by heuristic uncertainty, and writes
JSON batches for several judges. Judged batches are majority-voted into cleanup SQL and
a markdown summary, which can be dry-run or applied against a backed-up database.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Knowledge base path (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&workdir, "workdir", "w", "", "Work directory (overrides config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "Operation timeout")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "Plain output without colors")

	rootCmd.AddCommand(sampleCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(judgeCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(sanityCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// commandContext returns a context bounded by --timeout and cancelled on SIGINT/SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	return sigCtx, func() {
		stop()
		cancel()
	}
}

// loadConfig reads the config file, applies flag overrides, validates it and
// initializes category logging in the work directory.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if workdir != "" {
		cfg.Workdir = workdir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.Initialize(cfg.Workdir, cfg.LoggingSettings()); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config, readOnly bool) (*store.Store, error) {
	opts := pipeline.StoreOptions(cfg)
	opts.ReadOnly = readOnly
	kb, err := store.Open(ctx, cfg.Database.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Database.Path, err)
	}
	logger.Debug("Opened knowledge base", zap.String("path", cfg.Database.Path), zap.Bool("read_only", readOnly))
	return kb, nil
}

func newEngine(cfg *config.Config) (*rules.Engine, error) {
	engine, err := rules.NewEngine(cfg.NoGoPairs())
	if err != nil {
		return nil, fmt.Errorf("compile no-go rules: %w", err)
	}
	return engine, nil
}

func newScorer(cfg *config.Config) (*scorer.Scorer, error) {
	engine, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	return scorer.New(pipeline.ScorerOptions(cfg), engine), nil
}

// openLedger returns nil when the ledger is disabled.
func openLedger(ctx context.Context, cfg *config.Config) (*ledger.Ledger, error) {
	if !cfg.Ledger.Enabled {
		return nil, nil
	}
	return ledger.Open(ctx, cfg.LedgerPath())
}

// writeMetrics writes the textfile when one is configured.
func writeMetrics(cfg *config.Config, m *metrics.Metrics) error {
	if cfg.Metrics.Textfile == "" {
		return nil
	}
	if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		return err
	}
	logger.Debug("Wrote metrics", zap.String("path", cfg.Metrics.Textfile))
	return nil
}

func styles() report.Styles {
	if plain {
		return report.NewStyles(report.LightTheme())
	}
	return report.DefaultStyles()
}

// printMarkdown renders md for the terminal, falling back to the raw text.
func printMarkdown(md string) {
	out, err := report.RenderMarkdown(md, 100, report.DetectTheme(), plain)
	if err != nil {
		logger.Warn("Markdown rendering failed", zap.Error(err))
		fmt.Print(md)
		return
	}
	fmt.Print(out)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
