// Package sampler draws stratified samples of statements from the knowledge base.
//
// Predicates are ranked by frequency. The most frequent TopN and the rarest RareN each
// contribute PerPredicate random statements; RandomN statements are then drawn from the
// whole base, and a disjoint reserve pool of ReserveN statements is set aside.
package sampler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"factaudit/internal/fact"
	"factaudit/internal/logging"
	"factaudit/internal/store"
)

// Strata an item can be drawn from.
const (
	StratumTop     = "top"
	StratumRare    = "rare"
	StratumRandom  = "random"
	StratumReserve = "reserve"
)

// Source is the subset of the knowledge base the sampler reads.
type Source interface {
	Count(ctx context.Context) (int64, error)
	PredicateCounts(ctx context.Context) ([]store.PredicateCount, error)
	SamplePredicate(ctx context.Context, predicate string, n int, rng *rand.Rand) ([]string, error)
	SampleRandom(ctx context.Context, n int, rng *rand.Rand, exclude map[string]bool) ([]string, error)
}

// Config controls bucket sizes.
type Config struct {
	TopN              int
	RareN             int
	PerPredicate      int
	RandomN           int
	ReserveN          int
	MinPredicateCount int
	Seed              uint64
}

// Item is one sampled statement.
type Item struct {
	Statement string `json:"statement"`
	Predicate string `json:"predicate"`
	Stratum   string `json:"stratum"`
}

// Bucket is a predicate selected for the top or rare stratum.
type Bucket struct {
	Predicate string `json:"predicate"`
	Count     int64  `json:"count"`
	Stratum   string `json:"stratum"`
	Sampled   int    `json:"sampled"`
}

// Result is a complete sample.
type Result struct {
	Seed       uint64    `json:"seed"`
	CreatedAt  time.Time `json:"created_at"`
	TotalFacts int64     `json:"total_facts"`
	Predicates int       `json:"predicates"`
	Buckets    []Bucket  `json:"buckets"`
	Items      []Item    `json:"items"`
	Reserve    []Item    `json:"reserve"`
}

// Statements returns the sampled statements in order, reserve excluded.
func (r *Result) Statements() []string {
	out := make([]string, len(r.Items))
	for i, it := range r.Items {
		out[i] = it.Statement
	}
	return out
}

// CountByStratum counts items per stratum, reserve included.
func (r *Result) CountByStratum() map[string]int {
	out := map[string]int{StratumReserve: len(r.Reserve)}
	for _, it := range r.Items {
		out[it.Stratum]++
	}
	return out
}

// NewRand returns the generator used for a seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Sample draws a stratified sample. The same seed over the same data yields the same result.
func Sample(ctx context.Context, src Source, cfg Config) (*Result, error) {
	timer := logging.StartTimer(logging.CategorySampler, "sampler.Sample")
	defer timer.StopWithInfo()

	if cfg.PerPredicate <= 0 {
		cfg.PerPredicate = 1
	}
	if cfg.MinPredicateCount <= 0 {
		cfg.MinPredicateCount = 1
	}

	total, err := src.Count(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := src.PredicateCounts(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Seed:       cfg.Seed,
		CreatedAt:  time.Now().UTC(),
		TotalFacts: total,
		Predicates: len(counts),
	}
	res.Buckets = selectBuckets(counts, cfg)
	logging.Sampler("Sampling %d facts across %d predicates (%d buckets)", total, len(counts), len(res.Buckets))

	rng := NewRand(cfg.Seed)
	seen := make(map[string]bool)
	add := func(dst *[]Item, st, predicate, stratum string) bool {
		if seen[st] {
			return false
		}
		seen[st] = true
		*dst = append(*dst, Item{Statement: st, Predicate: predicate, Stratum: stratum})
		return true
	}

	for i := range res.Buckets {
		b := &res.Buckets[i]
		statements, err := src.SamplePredicate(ctx, b.Predicate, cfg.PerPredicate, rng)
		if err != nil {
			return nil, err
		}
		for _, st := range statements {
			if add(&res.Items, st, b.Predicate, b.Stratum) {
				b.Sampled++
			}
		}
		logging.SamplerDebug("Bucket %s/%s: %d of %d", b.Stratum, b.Predicate, b.Sampled, b.Count)
	}

	if cfg.RandomN > 0 {
		statements, err := src.SampleRandom(ctx, cfg.RandomN, rng, seen)
		if err != nil {
			return nil, err
		}
		for _, st := range statements {
			add(&res.Items, st, fact.PredicateOf(st), StratumRandom)
		}
	}

	if cfg.ReserveN > 0 {
		statements, err := src.SampleRandom(ctx, cfg.ReserveN, rng, seen)
		if err != nil {
			return nil, err
		}
		for _, st := range statements {
			add(&res.Reserve, st, fact.PredicateOf(st), StratumReserve)
		}
	}

	logging.Sampler("Sampled %d items plus %d reserve", len(res.Items), len(res.Reserve))
	return res, nil
}

// selectBuckets picks the TopN most frequent predicates and the RareN rarest ones with at
// least MinPredicateCount statements that are not already in the top bucket. counts must
// be sorted most frequent first.
func selectBuckets(counts []store.PredicateCount, cfg Config) []Bucket {
	var buckets []Bucket
	inTop := make(map[string]bool)
	for i := 0; i < len(counts) && i < cfg.TopN; i++ {
		buckets = append(buckets, Bucket{Predicate: counts[i].Predicate, Count: counts[i].Count, Stratum: StratumTop})
		inTop[counts[i].Predicate] = true
	}

	eligible := make([]store.PredicateCount, 0, len(counts))
	for _, pc := range counts {
		if pc.Count >= int64(cfg.MinPredicateCount) {
			eligible = append(eligible, pc)
		}
	}
	rare := 0
	for i := len(eligible) - 1; i >= 0 && rare < cfg.RareN; i-- {
		if inTop[eligible[i].Predicate] {
			continue
		}
		buckets = append(buckets, Bucket{Predicate: eligible[i].Predicate, Count: eligible[i].Count, Stratum: StratumRare})
		rare++
	}
	return buckets
}

// WriteJSON writes the result to path, creating parent directories.
func (r *Result) WriteJSON(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create sample directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// LoadResult reads a result written by WriteJSON.
func LoadResult(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sample: %w", err)
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse sample %s: %w", path, err)
	}
	return &r, nil
}
