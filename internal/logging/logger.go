// Package logging provides config-driven categorized file-based logging for factaudit.
// Logs are written to <workdir>/.factaudit/logs/ with separate files per category.
// Logging is controlled by logging.debug_mode in factaudit.yaml - when false, no logs are written.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // Boot/initialization
	CategoryStore     Category = "store"     // SQLite knowledge base access
	CategorySampler   Category = "sampler"   // Stratified sampling
	CategoryScorer    Category = "scorer"    // Uncertainty scoring
	CategoryRules     Category = "rules"     // Mangle no-go evaluation
	CategoryBatch     Category = "batch"     // Batch building and loading
	CategoryJudge     Category = "judge"     // Provider dispatch and LLM calls
	CategoryConsensus Category = "consensus" // Majority vote merge
	CategoryCleanup   Category = "cleanup"   // Backup and SQL apply
	CategoryQuality   Category = "quality"   // Sanity and quality analysis
	CategoryLedger    Category = "ledger"    // Run history
	CategoryWatch     Category = "watch"     // Results directory watcher
	CategoryPipeline  Category = "pipeline"  // End-to-end runs
)

// AllCategories lists every category in declaration order.
var AllCategories = []Category{
	CategoryBoot, CategoryStore, CategorySampler, CategoryScorer, CategoryRules, CategoryBatch,
	CategoryJudge, CategoryConsensus, CategoryCleanup, CategoryQuality, CategoryLedger, CategoryWatch,
	CategoryPipeline,
}

// Settings mirrors config.LoggingConfig to avoid an import cycle.
type Settings struct {
	DebugMode  bool
	Categories map[string]bool
	Level      string
	JSONFormat bool
}

// Logger wraps a zap logger bound to one category file.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	settings  Settings
	level     zapcore.Level = zapcore.InfoLevel
	configMu  sync.RWMutex
)

// Initialize sets up the logging directory for a workdir.
// Should be called once at startup; with DebugMode off it is a no-op.
func Initialize(workdir string, s Settings) error {
	if workdir == "" {
		return fmt.Errorf("workdir path required")
	}

	CloseAll()

	configMu.Lock()
	settings = s
	level = parseLevel(s.Level)
	logsDir = filepath.Join(workdir, ".factaudit", "logs")
	configMu.Unlock()

	if !s.DebugMode {
		return nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== factaudit logging initialized ===")
	boot.Info("Workdir: %s", workdir)
	boot.Info("Log level: %s", level)
	if len(s.Categories) == 0 {
		boot.Info("All categories enabled (no category filter)")
	}
	return nil
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return settings.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !settings.DebugMode {
		return false
	}
	if settings.Categories == nil {
		return true
	}
	enabled, exists := settings.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// LogsDir returns the directory category files are written to.
func LogsDir() string {
	configMu.RLock()
	defer configMu.RUnlock()
	return logsDir
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) || LogsDir() == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(LogsDir(), fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		sugar:    zap.New(newCore(file)).Sugar().With("cat", string(category)),
	}
	loggers[category] = l
	return l
}

func newCore(file *os.File) zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	configMu.RLock()
	jsonFormat := settings.JSONFormat
	lvl := level
	configMu.RUnlock()

	var enc zapcore.Encoder
	if jsonFormat {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewCore(enc, zapcore.AddSync(file), lvl)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// With returns a logger that attaches key-value pairs to every entry.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, file: l.file, sugar: l.sugar.With(keysAndValues...)}
}

// CloseAll flushes and closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.sugar != nil {
			_ = l.sugar.Sync()
		}
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// BootWarn logs warning to the boot category
func BootWarn(format string, args ...interface{}) { Get(CategoryBoot).Warn(format, args...) }

// Store logs to the store category
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// StoreError logs error to the store category
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

// Sampler logs to the sampler category
func Sampler(format string, args ...interface{}) { Get(CategorySampler).Info(format, args...) }

// SamplerDebug logs debug to the sampler category
func SamplerDebug(format string, args ...interface{}) { Get(CategorySampler).Debug(format, args...) }

// Scorer logs to the scorer category
func Scorer(format string, args ...interface{}) { Get(CategoryScorer).Info(format, args...) }

// ScorerDebug logs debug to the scorer category
func ScorerDebug(format string, args ...interface{}) { Get(CategoryScorer).Debug(format, args...) }

// RulesDebug logs debug to the rules category
func RulesDebug(format string, args ...interface{}) { Get(CategoryRules).Debug(format, args...) }

// Batch logs to the batch category
func Batch(format string, args ...interface{}) { Get(CategoryBatch).Info(format, args...) }

// BatchWarn logs warning to the batch category
func BatchWarn(format string, args ...interface{}) { Get(CategoryBatch).Warn(format, args...) }

// Judge logs to the judge category
func Judge(format string, args ...interface{}) { Get(CategoryJudge).Info(format, args...) }

// JudgeDebug logs debug to the judge category
func JudgeDebug(format string, args ...interface{}) { Get(CategoryJudge).Debug(format, args...) }

// JudgeWarn logs warning to the judge category
func JudgeWarn(format string, args ...interface{}) { Get(CategoryJudge).Warn(format, args...) }

// JudgeError logs error to the judge category
func JudgeError(format string, args ...interface{}) { Get(CategoryJudge).Error(format, args...) }

// Consensus logs to the consensus category
func Consensus(format string, args ...interface{}) { Get(CategoryConsensus).Info(format, args...) }

// ConsensusWarn logs warning to the consensus category
func ConsensusWarn(format string, args ...interface{}) { Get(CategoryConsensus).Warn(format, args...) }

// Cleanup logs to the cleanup category
func Cleanup(format string, args ...interface{}) { Get(CategoryCleanup).Info(format, args...) }

// CleanupError logs error to the cleanup category
func CleanupError(format string, args ...interface{}) { Get(CategoryCleanup).Error(format, args...) }

// Quality logs to the quality category
func Quality(format string, args ...interface{}) { Get(CategoryQuality).Info(format, args...) }

// Ledger logs to the ledger category
func Ledger(format string, args ...interface{}) { Get(CategoryLedger).Info(format, args...) }

// Watch logs to the watch category
func Watch(format string, args ...interface{}) { Get(CategoryWatch).Info(format, args...) }

// WatchDebug logs debug to the watch category
func WatchDebug(format string, args ...interface{}) { Get(CategoryWatch).Debug(format, args...) }

// Pipeline logs to the pipeline category
func Pipeline(format string, args ...interface{}) { Get(CategoryPipeline).Info(format, args...) }

// PipelineError logs error to the pipeline category
func PipelineError(format string, args ...interface{}) { Get(CategoryPipeline).Error(format, args...) }

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
