// Package metrics exposes pipeline gauges in the Prometheus text format, written to a file
// for the node_exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"factaudit/internal/cleanup"
	"factaudit/internal/consensus"
	"factaudit/internal/judge"
	"factaudit/internal/quality"
	"factaudit/internal/sampler"
)

const namespace = "factaudit"

// Metrics holds the gauges of one process. Each instance has its own registry.
type Metrics struct {
	registry *prometheus.Registry

	Facts         prometheus.Gauge
	Samples       *prometheus.GaugeVec
	Uncertain     prometheus.Gauge
	Batches       *prometheus.GaugeVec
	JudgedBatches *prometheus.GaugeVec
	Decisions     *prometheus.GaugeVec
	Applied       prometheus.Gauge
	QualityScore  prometheus.Gauge
	LastRun       prometheus.Gauge
	RunDuration   prometheus.Gauge
}

// New registers every gauge on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Facts: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "facts_total",
			Help: "Statements in the knowledge base at the last run.",
		}),
		Samples: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sampled_statements",
			Help: "Statements drawn by the stratified sampler.",
		}, []string{"stratum"}),
		Uncertain: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "uncertain_statements",
			Help: "Top uncertain statements selected by the scorer.",
		}),
		Batches: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "batches",
			Help: "Batches written per provider.",
		}, []string{"provider"}),
		JudgedBatches: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "judged_batches",
			Help: "Batches judged per provider and outcome.",
		}, []string{"provider", "outcome"}),
		Decisions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "consensus_decisions",
			Help: "Consensus decisions by action.",
		}, []string{"action"}),
		Applied: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "applied_rows",
			Help: "Rows changed by the last committed cleanup script.",
		}),
		QualityScore: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "quality_score",
			Help: "Knowledge base quality score from 0 to 100.",
		}),
		LastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
		RunDuration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
	}
}

// Registry returns the registry the gauges live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveSample records facts and per-stratum sample sizes.
func (m *Metrics) ObserveSample(r *sampler.Result) {
	m.Facts.Set(float64(r.TotalFacts))
	for stratum, n := range r.CountByStratum() {
		m.Samples.WithLabelValues(stratum).Set(float64(n))
	}
}

// ObserveBatches records how many batches each provider received.
func (m *Metrics) ObserveBatches(perProvider map[string]int) {
	for p, n := range perProvider {
		m.Batches.WithLabelValues(p).Set(float64(n))
	}
}

// ObserveJudge records dispatch outcomes.
func (m *Metrics) ObserveJudge(r *judge.Report) {
	for p, s := range r.Providers {
		m.JudgedBatches.WithLabelValues(p, "judged").Set(float64(s.Judged))
		m.JudgedBatches.WithLabelValues(p, "skipped").Set(float64(s.Skipped))
		m.JudgedBatches.WithLabelValues(p, "failed").Set(float64(s.Failed))
	}
}

// ObserveConsensus records decisions per action.
func (m *Metrics) ObserveConsensus(r *consensus.Result) {
	for action, n := range r.ActionCounts() {
		m.Decisions.WithLabelValues(action).Set(float64(n))
	}
}

// ObserveApply records rows changed by a committed script. Dry runs are ignored.
func (m *Metrics) ObserveApply(r *cleanup.Report) {
	if r.Committed {
		m.Applied.Set(float64(r.RowsAffected))
	}
}

// ObserveQuality records the quality score.
func (m *Metrics) ObserveQuality(a *quality.Analysis) {
	m.QualityScore.Set(a.Score)
}

// ObserveRun stamps the finish time and duration of a run.
func (m *Metrics) ObserveRun(started time.Time) {
	m.LastRun.SetToCurrentTime()
	m.RunDuration.Set(time.Since(started).Seconds())
}

// WriteTextfile writes every metric to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
