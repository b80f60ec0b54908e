// Package quality measures the health of the knowledge base: a quick sanity pass and a
// fuller analysis with a 0..100 quality score.
package quality

import (
	"context"
	"math/rand/v2"

	"factaudit/internal/rules"
	"factaudit/internal/store"
)

// Source is the read access the checks need. *store.Store implements it.
type Source interface {
	Count(ctx context.Context) (int64, error)
	PredicateCounts(ctx context.Context) ([]store.PredicateCount, error)
	SampleRandom(ctx context.Context, n int, rng *rand.Rand, exclude map[string]bool) ([]string, error)
	ExactDuplicates(ctx context.Context, limit int) ([]store.Duplicate, error)
	Recent(ctx context.Context, n int) ([]string, error)
}

// Options controls sample sizes and pass thresholds.
type Options struct {
	SanitySample         int
	SimilaritySample     int
	EntitySample         int
	MaxSyntaxFailureRate float64
	MaxDuplicates        int64
	Seed                 uint64

	// Engine finds semantic issues; nil skips that part of the analysis.
	Engine *rules.Engine
}

// DefaultOptions mirrors the config defaults.
func DefaultOptions() Options {
	return Options{
		SanitySample:         1000,
		SimilaritySample:     1000,
		EntitySample:         5000,
		MaxSyntaxFailureRate: 0.05,
		Seed:                 42,
	}
}
