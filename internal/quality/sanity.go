package quality

import (
	"context"
	"fmt"
	"strings"
	"time"

	"factaudit/internal/fact"
	"factaudit/internal/logging"
	"factaudit/internal/sampler"
)

// SanityReport is the result of a quick health check.
type SanityReport struct {
	CheckedAt         time.Time `json:"checked_at"`
	TotalFacts        int64     `json:"total_facts"`
	Predicates        int       `json:"predicates"`
	Sampled           int       `json:"sampled"`
	SyntaxFailures    int       `json:"syntax_failures"`
	SyntaxFailureRate float64   `json:"syntax_failure_rate"`
	TrailingDotRate   float64   `json:"trailing_dot_rate"`
	NAryRate          float64   `json:"n_ary_rate"`
	DuplicateRows     int64     `json:"duplicate_rows"`
	Passed            bool      `json:"passed"`
	Problems          []string  `json:"problems,omitempty"`
	Examples          []string  `json:"examples,omitempty"`
}

// Sanity counts facts and predicates, checks syntax on a random sample and looks for
// duplicate rows.
func Sanity(ctx context.Context, src Source, opts Options) (*SanityReport, error) {
	timer := logging.StartTimer(logging.CategoryQuality, "quality.Sanity")
	defer timer.StopWithInfo()

	r := &SanityReport{CheckedAt: time.Now().UTC()}
	var err error
	if r.TotalFacts, err = src.Count(ctx); err != nil {
		return nil, err
	}
	counts, err := src.PredicateCounts(ctx)
	if err != nil {
		return nil, err
	}
	r.Predicates = len(counts)

	sample, err := src.SampleRandom(ctx, opts.SanitySample, sampler.NewRand(opts.Seed), nil)
	if err != nil {
		return nil, err
	}
	r.Sampled = len(sample)
	dots, nary := 0, 0
	for _, st := range sample {
		if strings.HasSuffix(strings.TrimSpace(st), ".") {
			dots++
		}
		if !fact.Valid(st) {
			r.SyntaxFailures++
			if len(r.Examples) < 10 {
				r.Examples = append(r.Examples, st)
			}
		}
		if f, err := fact.Parse(st); err == nil && f.Arity() > 2 {
			nary++
		}
	}
	if r.Sampled > 0 {
		n := float64(r.Sampled)
		r.SyntaxFailureRate = float64(r.SyntaxFailures) / n
		r.TrailingDotRate = float64(dots) / n
		r.NAryRate = float64(nary) / n
	}

	dups, err := src.ExactDuplicates(ctx, 0)
	if err != nil {
		return nil, err
	}
	for _, d := range dups {
		r.DuplicateRows += d.Count - 1
	}

	if r.TotalFacts == 0 {
		r.Problems = append(r.Problems, "knowledge base is empty")
	}
	if r.SyntaxFailureRate > opts.MaxSyntaxFailureRate {
		r.Problems = append(r.Problems, fmt.Sprintf("syntax failure rate %.1f%% exceeds %.1f%%",
			r.SyntaxFailureRate*100, opts.MaxSyntaxFailureRate*100))
	}
	if r.DuplicateRows > opts.MaxDuplicates {
		r.Problems = append(r.Problems, fmt.Sprintf("%d duplicate rows (max %d)", r.DuplicateRows, opts.MaxDuplicates))
	}
	r.Passed = len(r.Problems) == 0

	logging.Quality("Sanity: %d facts, %d predicates, syntax failures %d/%d, passed=%v",
		r.TotalFacts, r.Predicates, r.SyntaxFailures, r.Sampled, r.Passed)
	return r, nil
}
