package pipeline

import "path/filepath"

// Paths is the layout of a work directory.
type Paths struct {
	Root string `json:"root"`
}

// NewPaths returns the layout rooted at workdir.
func NewPaths(workdir string) Paths { return Paths{Root: workdir} }

// Sample is the stratified sample file.
func (p Paths) Sample() string { return filepath.Join(p.Root, "sample.json") }

// Uncertain is the ranked uncertainty file.
func (p Paths) Uncertain() string { return filepath.Join(p.Root, "uncertain.json") }

// Batches is the directory batches and their manifest are written to.
func (p Paths) Batches() string { return filepath.Join(p.Root, "batches") }

// Results is the directory judged batches are read from.
func (p Paths) Results() string { return filepath.Join(p.Root, "results") }

// Consensus is the directory the merge writes cleanup.sql and summary.md to.
func (p Paths) Consensus() string { return filepath.Join(p.Root, "consensus") }

// Run is the run manifest.
func (p Paths) Run() string { return filepath.Join(p.Root, "run.json") }

// Metrics is the default Prometheus textfile.
func (p Paths) Metrics() string { return filepath.Join(p.Root, "metrics.prom") }
