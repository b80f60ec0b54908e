package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factaudit/internal/cleanup"
	"factaudit/internal/consensus"
	"factaudit/internal/judge"
	"factaudit/internal/quality"
	"factaudit/internal/sampler"
)

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveSample(&sampler.Result{
		TotalFacts: 1234,
		Items: []sampler.Item{
			{Statement: "a", Stratum: sampler.StratumTop},
			{Statement: "b", Stratum: sampler.StratumTop},
			{Statement: "c", Stratum: sampler.StratumRandom},
		},
		Reserve: []sampler.Item{{Statement: "d", Stratum: sampler.StratumReserve}},
	})
	assert.Equal(t, 1234.0, testutil.ToFloat64(m.Facts))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Samples.WithLabelValues(sampler.StratumTop)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Samples.WithLabelValues(sampler.StratumReserve)))

	m.ObserveBatches(map[string]int{"gemini": 3})
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Batches.WithLabelValues("gemini")))

	m.ObserveJudge(&judge.Report{Providers: map[string]*judge.ProviderStats{"gemini": {Judged: 2, Failed: 1}}})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JudgedBatches.WithLabelValues("gemini", "failed")))

	m.ObserveConsensus(&consensus.Result{Decisions: []consensus.Decision{
		{Action: consensus.ActionDelete}, {Action: consensus.ActionDelete}, {Action: consensus.ActionKeep},
	}})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Decisions.WithLabelValues(consensus.ActionDelete)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Decisions.WithLabelValues(consensus.ActionUpdate)))

	m.ObserveApply(&cleanup.Report{RowsAffected: 9})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Applied))
	m.ObserveApply(&cleanup.Report{RowsAffected: 9, Committed: true})
	assert.Equal(t, 9.0, testutil.ToFloat64(m.Applied))

	m.ObserveQuality(&quality.Analysis{Score: 71.5})
	assert.Equal(t, 71.5, testutil.ToFloat64(m.QualityScore))

	m.ObserveRun(time.Now().Add(-time.Second))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.RunDuration), 1.0)
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.Facts.Set(42)
	path := filepath.Join(t.TempDir(), "textfile", "factaudit.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# TYPE factaudit_facts_total gauge")
	assert.Contains(t, string(data), "factaudit_facts_total 42")
}
