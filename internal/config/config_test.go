package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factaudit/internal/rules"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"FACTAUDIT_DB", "FACTAUDIT_WORKDIR", "GEMINI_API_KEY", "OPENAI_API_KEY", "DEEPSEEK_API_KEY"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "facts", cfg.Database.Table)
	assert.Equal(t, "statement", cfg.Database.Column)
	assert.Equal(t, 2, cfg.Consensus.Quorum)
	assert.Len(t, cfg.Providers, 4)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sub", "factaudit.yaml")

	cfg := DefaultConfig()
	cfg.Database.Path = "/data/kb.db"
	cfg.Sampler.Seed = 7
	cfg.Providers[1].APIKey = "secret"
	require.NoError(t, cfg.Save(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/kb.db", loaded.Database.Path)
	assert.Equal(t, uint64(7), loaded.Sampler.Seed)
	assert.Empty(t, loaded.Providers[1].APIKey)
	assert.Equal(t, "secret", cfg.Providers[1].APIKey, "Save must not mutate the receiver")
}

func TestPartialYAMLKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "factaudit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("consensus:\n  quorum: 3\nsampler:\n  top_n: 4\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Consensus.Quorum)
	assert.Equal(t, 4, cfg.Sampler.TopN)
	assert.Equal(t, 10, cfg.Sampler.RareN)
	assert.InDelta(t, 0.6, cfg.Consensus.MinConfidence, 1e-9)
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "factaudit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sampler: [unclosed"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FACTAUDIT_DB", "/tmp/env.db")
	t.Setenv("FACTAUDIT_WORKDIR", "/tmp/work")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("DEEPSEEK_API_KEY", "d-key")

	cfg := DefaultConfig()
	cfg.Providers[3].APIKey = "from-file"
	cfg.applyEnvOverrides()

	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
	assert.Equal(t, "/tmp/work", cfg.Workdir)
	gemini, ok := cfg.Provider("gemini")
	require.True(t, ok)
	assert.Equal(t, "g-key", gemini.APIKey)
	openai, _ := cfg.Provider("openai")
	assert.Empty(t, openai.APIKey)
	deepseek, _ := cfg.Provider("deepseek")
	assert.Equal(t, "from-file", deepseek.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"bad table", func(c *Config) { c.Database.Table = "facts;--" }},
		{"bad busy timeout", func(c *Config) { c.Database.BusyTimeout = "soon" }},
		{"per predicate zero", func(c *Config) { c.Sampler.PerPredicate = 0 }},
		{"max args below min", func(c *Config) { c.Scorer.MaxArgs = 1 }},
		{"weight above one", func(c *Config) { c.Scorer.Weights.NoGo = 1.5 }},
		{"unknown kind", func(c *Config) { c.Providers[0].Kind = "anthropic" }},
		{"bad base url", func(c *Config) { c.Providers[3].BaseURL = "not a url" }},
		{"duplicate provider", func(c *Config) { c.Providers[1].Name = "local" }},
		{"batch provider missing", func(c *Config) { c.Batch.Providers = []string{"gemini", "claude"} }},
		{"no batch providers", func(c *Config) { c.Batch.Providers = nil }},
		{"quorum zero", func(c *Config) { c.Consensus.Quorum = 0 }},
		{"delete below min", func(c *Config) { c.Consensus.DeleteThreshold = 0.1 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"zero weights", func(c *Config) { c.Scorer.Weights = WeightsConfig{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationsAndPaths(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5*time.Second, cfg.GetBusyTimeout())
	cfg.Database.BusyTimeout = "garbage"
	assert.Equal(t, 5*time.Second, cfg.GetBusyTimeout())

	deepseek, _ := cfg.Provider("deepseek")
	assert.Equal(t, 180*time.Second, deepseek.GetTimeout())
	local, _ := cfg.Provider("local")
	assert.Equal(t, 120*time.Second, local.GetTimeout())

	assert.Equal(t, filepath.Join("validation_work", "backups"), cfg.BackupDir())
	cfg.Cleanup.BackupDir = "/abs/backups"
	assert.Equal(t, "/abs/backups", cfg.BackupDir())
	assert.Equal(t, filepath.Join("validation_work", "ledger.db"), cfg.LedgerPath())
}

func TestNoGoPairs(t *testing.T) {
	cfg := DefaultConfig()
	extra := rules.NoGoPair{Subject: "iron", Forbidden: "gas", Reason: "iron is solid at room temperature"}
	cfg.Rules.ExtraPairs = []rules.NoGoPair{extra}
	pairs := cfg.NoGoPairs()
	assert.Len(t, pairs, len(rules.DefaultPairs())+1)
	assert.Equal(t, extra, pairs[len(pairs)-1])

	cfg.Rules.DisableDefaults = true
	assert.Equal(t, []rules.NoGoPair{extra}, cfg.NoGoPairs())
}
