package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"factaudit/internal/logging"
	"factaudit/internal/rules"
)

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "factaudit.yaml"

// Config holds all factaudit configuration.
type Config struct {
	// Knowledge base location and layout
	Database DatabaseConfig `yaml:"database"`

	// Directory for samples, batches, results and reports
	Workdir string `yaml:"workdir" validate:"required"`

	Sampler   SamplerConfig    `yaml:"sampler"`
	Scorer    ScorerConfig     `yaml:"scorer"`
	Rules     RulesConfig      `yaml:"rules"`
	Batch     BatchConfig      `yaml:"batch"`
	Providers []ProviderConfig `yaml:"providers" validate:"dive"`
	Consensus ConsensusConfig  `yaml:"consensus"`
	Cleanup   CleanupConfig    `yaml:"cleanup"`
	Quality   QualityConfig    `yaml:"quality"`
	Ledger    LedgerConfig     `yaml:"ledger"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// DatabaseConfig locates the SQLite knowledge base.
type DatabaseConfig struct {
	Path        string `yaml:"path" validate:"required"`
	Table       string `yaml:"table" validate:"required,sqlident"`
	Column      string `yaml:"column" validate:"required,sqlident"`
	BusyTimeout string `yaml:"busy_timeout" validate:"omitempty,duration"`
}

// SamplerConfig configures the stratified sampler.
type SamplerConfig struct {
	TopN              int    `yaml:"top_n" validate:"gte=0"`
	RareN             int    `yaml:"rare_n" validate:"gte=0"`
	PerPredicate      int    `yaml:"per_predicate" validate:"gte=1"`
	RandomN           int    `yaml:"random_n" validate:"gte=0"`
	ReserveN          int    `yaml:"reserve_n" validate:"gte=0"`
	MinPredicateCount int    `yaml:"min_predicate_count" validate:"gte=1"`
	Seed              uint64 `yaml:"seed"`
}

// ScorerConfig configures the uncertainty scorer.
type ScorerConfig struct {
	TopK           int           `yaml:"top_k" validate:"gte=0"`
	ScanLimit      int           `yaml:"scan_limit" validate:"gte=0"`
	Weights        WeightsConfig `yaml:"weights"`
	MinArgs        int           `yaml:"min_args" validate:"gte=0"`
	MaxArgs        int           `yaml:"max_args" validate:"gtefield=MinArgs"`
	MinLength      int           `yaml:"min_length" validate:"gte=0"`
	MaxLength      int           `yaml:"max_length" validate:"gtefield=MinLength"`
	Placeholders   []string      `yaml:"placeholders"`
	JunkPredicates []string      `yaml:"junk_predicates"`
}

// WeightsConfig holds the contribution of each uncertainty signal.
type WeightsConfig struct {
	Syntax         float64 `yaml:"syntax" validate:"gte=0,lte=1"`
	PredicateShape float64 `yaml:"predicate_shape" validate:"gte=0,lte=1"`
	Arity          float64 `yaml:"arity" validate:"gte=0,lte=1"`
	NoGo           float64 `yaml:"no_go" validate:"gte=0,lte=1"`
	Length         float64 `yaml:"length" validate:"gte=0,lte=1"`
	Placeholder    float64 `yaml:"placeholder" validate:"gte=0,lte=1"`
	NonASCII       float64 `yaml:"non_ascii" validate:"gte=0,lte=1"`
}

// RulesConfig configures no-go pairs.
type RulesConfig struct {
	DisableDefaults bool             `yaml:"disable_defaults"`
	ExtraPairs      []rules.NoGoPair `yaml:"extra_pairs"`
}

// BatchConfig configures batch building.
type BatchConfig struct {
	Size      int      `yaml:"size" validate:"gte=1,lte=1000"`
	Providers []string `yaml:"providers" validate:"min=1,dive,required"`
}

// ProviderConfig describes one judge.
type ProviderConfig struct {
	Name          string  `yaml:"name" validate:"required,alphanum"`
	Kind          string  `yaml:"kind" validate:"required,oneof=local gemini openai deepseek"`
	Model         string  `yaml:"model"`
	BaseURL       string  `yaml:"base_url" validate:"omitempty,url"`
	APIKey        string  `yaml:"api_key,omitempty"`
	RatePerMinute int     `yaml:"rate_per_minute" validate:"gte=0"`
	Timeout       string  `yaml:"timeout" validate:"omitempty,duration"`
	Temperature   float32 `yaml:"temperature" validate:"gte=0,lte=2"`
}

// ConsensusConfig configures the majority vote.
type ConsensusConfig struct {
	Quorum          int     `yaml:"quorum" validate:"gte=1"`
	MinConfidence   float64 `yaml:"min_confidence" validate:"gte=0,lte=1"`
	DeleteThreshold float64 `yaml:"delete_threshold" validate:"gte=0,lte=1"`
}

// CleanupConfig configures the applier.
type CleanupConfig struct {
	BackupDir string `yaml:"backup_dir"`
}

// QualityConfig configures sanity and analysis passes.
type QualityConfig struct {
	SanitySample         int     `yaml:"sanity_sample" validate:"gte=1"`
	SimilaritySample     int     `yaml:"similarity_sample" validate:"gte=0"`
	EntitySample         int     `yaml:"entity_sample" validate:"gte=0"`
	MaxSyntaxFailureRate float64 `yaml:"max_syntax_failure_rate" validate:"gte=0,lte=1"`
	MaxDuplicates        int64   `yaml:"max_duplicates" validate:"gte=0"`
}

// LedgerConfig configures the run history database.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig configures the Prometheus textfile output.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// LoggingConfig configures category file logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "k_assistant.db",
			Table:       "facts",
			Column:      "statement",
			BusyTimeout: "5s",
		},
		Workdir: "validation_work",
		Sampler: SamplerConfig{
			TopN:              10,
			RareN:             10,
			PerPredicate:      5,
			RandomN:           50,
			ReserveN:          50,
			MinPredicateCount: 1,
			Seed:              42,
		},
		Scorer: ScorerConfig{
			TopK:      100,
			ScanLimit: 20000,
			Weights: WeightsConfig{
				Syntax:         0.40,
				PredicateShape: 0.15,
				Arity:          0.15,
				NoGo:           0.35,
				Length:         0.10,
				Placeholder:    0.20,
				NonASCII:       0.05,
			},
			MinArgs:        2,
			MaxArgs:        7,
			MinLength:      10,
			MaxLength:      300,
			Placeholders:   []string{"test", "foo", "bar", "baz", "lorem", "ipsum", "asdf", "example", "placeholder", "todo"},
			JunkPredicates: []string{"DirectTest", "Test", "Example"},
		},
		Batch: BatchConfig{
			Size:      50,
			Providers: []string{"gemini", "openai", "deepseek"},
		},
		Providers: []ProviderConfig{
			{Name: "local", Kind: "local"},
			{Name: "gemini", Kind: "gemini", Model: "gemini-2.5-flash", RatePerMinute: 30, Timeout: "120s", Temperature: 0.1},
			{Name: "openai", Kind: "openai", Model: "gpt-4o-mini", RatePerMinute: 60, Timeout: "120s", Temperature: 0.1},
			{Name: "deepseek", Kind: "deepseek", Model: "deepseek-chat", BaseURL: "https://api.deepseek.com/v1", RatePerMinute: 30, Timeout: "180s", Temperature: 0.1},
		},
		Consensus: ConsensusConfig{
			Quorum:          2,
			MinConfidence:   0.6,
			DeleteThreshold: 0.8,
		},
		Cleanup: CleanupConfig{BackupDir: "backups"},
		Quality: QualityConfig{
			SanitySample:         1000,
			SimilaritySample:     1000,
			EntitySample:         5000,
			MaxSyntaxFailureRate: 0.05,
			MaxDuplicates:        0,
		},
		Ledger:  LedgerConfig{Enabled: true},
		Metrics: MetricsConfig{},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load loads configuration from a YAML file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logging.Boot("No config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file. API keys are not written.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	out := *c
	out.Providers = make([]ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		p.APIKey = ""
		out.Providers[i] = p
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("FACTAUDIT_DB"); path != "" {
		c.Database.Path = path
	}
	if dir := os.Getenv("FACTAUDIT_WORKDIR"); dir != "" {
		c.Workdir = dir
	}

	keys := map[string]string{
		"gemini":   os.Getenv("GEMINI_API_KEY"),
		"openai":   os.Getenv("OPENAI_API_KEY"),
		"deepseek": os.Getenv("DEEPSEEK_API_KEY"),
	}
	for i := range c.Providers {
		if key := keys[c.Providers[i].Kind]; key != "" && c.Providers[i].APIKey == "" {
			c.Providers[i].APIKey = key
		}
	}
}

// Provider returns the provider with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// GetBusyTimeout returns the SQLite busy timeout as a duration.
func (c *Config) GetBusyTimeout() time.Duration {
	d, err := time.ParseDuration(c.Database.BusyTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetTimeout returns the provider request timeout as a duration.
func (p ProviderConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(p.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// BackupDir returns the backup directory, relative to the workdir unless absolute.
func (c *Config) BackupDir() string {
	if c.Cleanup.BackupDir == "" {
		return filepath.Join(c.Workdir, "backups")
	}
	if filepath.IsAbs(c.Cleanup.BackupDir) {
		return c.Cleanup.BackupDir
	}
	return filepath.Join(c.Workdir, c.Cleanup.BackupDir)
}

// LedgerPath returns the ledger database path, defaulting to <workdir>/ledger.db.
func (c *Config) LedgerPath() string {
	if c.Ledger.Path != "" {
		return c.Ledger.Path
	}
	return filepath.Join(c.Workdir, "ledger.db")
}

// NoGoPairs returns the default pairs (unless disabled) followed by the extra pairs.
func (c *Config) NoGoPairs() []rules.NoGoPair {
	var pairs []rules.NoGoPair
	if !c.Rules.DisableDefaults {
		pairs = rules.DefaultPairs()
	}
	return append(pairs, c.Rules.ExtraPairs...)
}

// LoggingSettings converts the logging section for logging.Initialize.
func (c *Config) LoggingSettings() logging.Settings {
	return logging.Settings{
		DebugMode:  c.Logging.DebugMode,
		Level:      c.Logging.Level,
		JSONFormat: c.Logging.JSONFormat,
		Categories: c.Logging.Categories,
	}
}

// ValidKinds lists all supported provider kinds.
var ValidKinds = []string{"local", "gemini", "openai", "deepseek"}

// Validate validates struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	names := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if names[p.Name] {
			return fmt.Errorf("invalid config: duplicate provider %q", p.Name)
		}
		names[p.Name] = true
	}

	var missing []string
	for _, name := range c.Batch.Providers {
		if !names[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid config: batch providers not configured: %s", strings.Join(missing, ", "))
	}

	w := c.Scorer.Weights
	if w.Syntax+w.PredicateShape+w.Arity+w.NoGo+w.Length+w.Placeholder+w.NonASCII == 0 {
		return fmt.Errorf("invalid config: all scorer weights are zero")
	}
	if c.Consensus.DeleteThreshold < c.Consensus.MinConfidence {
		return fmt.Errorf("invalid config: consensus.delete_threshold (%.2f) below min_confidence (%.2f)",
			c.Consensus.DeleteThreshold, c.Consensus.MinConfidence)
	}
	return nil
}
