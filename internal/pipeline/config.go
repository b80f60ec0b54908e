package pipeline

import (
	"context"
	"fmt"

	"factaudit/internal/config"
	"factaudit/internal/consensus"
	"factaudit/internal/judge"
	"factaudit/internal/quality"
	"factaudit/internal/rules"
	"factaudit/internal/sampler"
	"factaudit/internal/scorer"
	"factaudit/internal/store"
)

// SamplerConfig converts the sampler section.
func SamplerConfig(cfg *config.Config) sampler.Config {
	s := cfg.Sampler
	return sampler.Config{
		TopN:              s.TopN,
		RareN:             s.RareN,
		PerPredicate:      s.PerPredicate,
		RandomN:           s.RandomN,
		ReserveN:          s.ReserveN,
		MinPredicateCount: s.MinPredicateCount,
		Seed:              s.Seed,
	}
}

// ScorerOptions converts the scorer section.
func ScorerOptions(cfg *config.Config) scorer.Options {
	s := cfg.Scorer
	return scorer.Options{
		Weights: scorer.Weights{
			Syntax:         s.Weights.Syntax,
			PredicateShape: s.Weights.PredicateShape,
			Arity:          s.Weights.Arity,
			NoGo:           s.Weights.NoGo,
			Length:         s.Weights.Length,
			Placeholder:    s.Weights.Placeholder,
			NonASCII:       s.Weights.NonASCII,
		},
		MinArgs:        s.MinArgs,
		MaxArgs:        s.MaxArgs,
		MinLength:      s.MinLength,
		MaxLength:      s.MaxLength,
		Placeholders:   s.Placeholders,
		JunkPredicates: s.JunkPredicates,
	}
}

// ConsensusOptions converts the consensus section.
func ConsensusOptions(cfg *config.Config) consensus.Options {
	return consensus.Options{
		Quorum:          cfg.Consensus.Quorum,
		MinConfidence:   cfg.Consensus.MinConfidence,
		DeleteThreshold: cfg.Consensus.DeleteThreshold,
	}
}

// QualityOptions converts the quality section. engine may be nil.
func QualityOptions(cfg *config.Config, engine *rules.Engine) quality.Options {
	q := cfg.Quality
	return quality.Options{
		SanitySample:         q.SanitySample,
		SimilaritySample:     q.SimilaritySample,
		EntitySample:         q.EntitySample,
		MaxSyntaxFailureRate: q.MaxSyntaxFailureRate,
		MaxDuplicates:        q.MaxDuplicates,
		Seed:                 cfg.Sampler.Seed,
		Engine:               engine,
	}
}

// StoreOptions converts the database section.
func StoreOptions(cfg *config.Config) store.Options {
	return store.Options{
		Table:       cfg.Database.Table,
		Column:      cfg.Database.Column,
		BusyTimeout: cfg.GetBusyTimeout(),
	}
}

// NewDispatcher registers the named providers from cfg. An empty names list registers
// every provider listed under batch.providers.
func NewDispatcher(ctx context.Context, cfg *config.Config, sc *scorer.Scorer, names []string) (*judge.Dispatcher, error) {
	if len(names) == 0 {
		names = cfg.Batch.Providers
	}
	d := judge.NewDispatcher()
	for _, name := range names {
		pc, ok := cfg.Provider(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", judge.ErrUnknownProvider, name)
		}
		p, err := judge.NewProvider(ctx, pc, sc)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		d.Register(p, pc.RatePerMinute)
	}
	return d, nil
}
