package quality

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"factaudit/internal/fact"
	"factaudit/internal/logging"
	"factaudit/internal/rules"
	"factaudit/internal/sampler"
	"factaudit/internal/store"
)

// Severity and priority labels.
const (
	Critical = "CRITICAL"
	High     = "HIGH"
	Warning  = "WARNING"
	Medium   = "MEDIUM"
	Info     = "INFO"
)

const (
	dominantShare   = 0.5
	top3Share       = 0.8
	maxSimilarPairs = 20
	maxSemantic     = 50
	duplicateLimit  = 100
)

// Issue is a distribution problem.
type Issue struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Impact   string `json:"impact"`
}

// PredicateStats describes how statements spread over predicates.
type PredicateStats struct {
	Distribution []store.PredicateCount `json:"distribution"`
	Unique       int                    `json:"unique"`
	Top3Share    float64                `json:"top3_share"`
	Diversity    float64                `json:"diversity"`
	Dominant     string                 `json:"dominant,omitempty"`
	DominantRate float64                `json:"dominant_rate,omitempty"`
	Issues       []Issue                `json:"issues,omitempty"`
}

// SimilarPair is two different statements that are nearly the same text.
type SimilarPair struct {
	A          string  `json:"a"`
	B          string  `json:"b"`
	Similarity float64 `json:"similarity"`
}

// DuplicateStats holds exact and near duplicates.
type DuplicateStats struct {
	Exact        []store.Duplicate `json:"exact,omitempty"`
	ExactCount   int               `json:"exact_count"`
	Similar      []SimilarPair     `json:"similar,omitempty"`
	SimilarCount int               `json:"similar_count"`
	Rate         float64           `json:"rate"`
}

// SemanticIssue is a sampled statement that trips a no-go rule.
type SemanticIssue struct {
	Statement string           `json:"statement"`
	Conflicts []rules.Conflict `json:"conflicts"`
}

// SemanticStats summarizes rule violations in the random sample.
type SemanticStats struct {
	Sampled   int             `json:"sampled"`
	Issues    []SemanticIssue `json:"issues,omitempty"`
	Total     int             `json:"total"`
	BySubject map[string]int  `json:"by_subject,omitempty"`
}

// EntityCount is how often an argument appears.
type EntityCount struct {
	Entity string  `json:"entity"`
	Count  int     `json:"count"`
	Share  float64 `json:"share"`
}

// EntityStats measures argument diversity over recent statements.
type EntityStats struct {
	Sampled            int           `json:"sampled"`
	Unique             int           `json:"unique"`
	Diversity          float64       `json:"diversity"`
	UniquePredicates   int           `json:"unique_predicates"`
	PredicateDiversity float64       `json:"predicate_diversity"`
	Top                []EntityCount `json:"top,omitempty"`
	Repetitive         []EntityCount `json:"repetitive,omitempty"`
}

// Recommendation is a suggested follow-up.
type Recommendation struct {
	Priority string `json:"priority"`
	Action   string `json:"action"`
	Reason   string `json:"reason"`
}

// Analysis is the full quality report.
type Analysis struct {
	GeneratedAt     time.Time        `json:"generated_at"`
	TotalFacts      int64            `json:"total_facts"`
	Predicates      PredicateStats   `json:"predicates"`
	Duplicates      DuplicateStats   `json:"duplicates"`
	Semantic        SemanticStats    `json:"semantic"`
	Entities        EntityStats      `json:"entities"`
	Score           float64          `json:"score"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Analyze runs every quality check and computes the score.
func Analyze(ctx context.Context, src Source, opts Options) (*Analysis, error) {
	timer := logging.StartTimer(logging.CategoryQuality, "quality.Analyze")
	defer timer.StopWithInfo()

	a := &Analysis{GeneratedAt: time.Now().UTC()}
	var err error
	if a.TotalFacts, err = src.Count(ctx); err != nil {
		return nil, err
	}

	counts, err := src.PredicateCounts(ctx)
	if err != nil {
		return nil, err
	}
	a.Predicates = predicateStats(counts)

	exact, err := src.ExactDuplicates(ctx, duplicateLimit)
	if err != nil {
		return nil, err
	}
	a.Duplicates.Exact = exact
	a.Duplicates.ExactCount = len(exact)
	if a.TotalFacts > 0 {
		a.Duplicates.Rate = float64(len(exact)) / float64(a.TotalFacts)
	}

	sample, err := src.SampleRandom(ctx, opts.SimilaritySample, sampler.NewRand(opts.Seed), nil)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.Duplicates.Similar, a.Duplicates.SimilarCount = similarPairs(sample)

	if opts.Engine != nil {
		if a.Semantic, err = semanticStats(opts.Engine, sample); err != nil {
			return nil, err
		}
	}

	recent, err := src.Recent(ctx, opts.EntitySample)
	if err != nil {
		return nil, err
	}
	a.Entities = entityStats(recent)

	a.Score = score(a)
	a.Recommendations = recommend(a)
	logging.Quality("Analysis: %d facts, score %.1f, %d recommendations", a.TotalFacts, a.Score, len(a.Recommendations))
	return a, nil
}

func predicateStats(counts []store.PredicateCount) PredicateStats {
	ps := PredicateStats{Distribution: counts}
	var total, top3 int64
	for i, c := range counts {
		if c.Predicate == "" {
			continue
		}
		ps.Unique++
		total += c.Count
		if i < 3 {
			top3 += c.Count
		}
	}
	if total == 0 {
		return ps
	}
	ps.Top3Share = float64(top3) / float64(total)
	ps.Diversity = 1 - ps.Top3Share

	top := counts[0]
	if share := float64(top.Count) / float64(total); share > dominantShare && top.Predicate != "" {
		ps.Dominant, ps.DominantRate = top.Predicate, share
		ps.Issues = append(ps.Issues, Issue{
			Severity: Critical,
			Message:  fmt.Sprintf("%s makes up %.1f%% of all facts", top.Predicate, share*100),
			Impact:   "very low diversity",
		})
	}
	if ps.Top3Share > top3Share {
		ps.Issues = append(ps.Issues, Issue{
			Severity: Warning,
			Message:  fmt.Sprintf("top 3 predicates make up %.1f%% of all facts", ps.Top3Share*100),
			Impact:   "unbalanced knowledge distribution",
		})
	}
	return ps
}

// similarPairs compares every pair of the sample and keeps those with a ratio in (0.8, 1).
func similarPairs(sample []string) ([]SimilarPair, int) {
	var pairs []SimilarPair
	for i := 0; i < len(sample); i++ {
		for j := i + 1; j < len(sample); j++ {
			a, b := sample[i], sample[j]
			if a == b || quickRatio(a, b) <= 0.8 {
				continue
			}
			if r := Ratio(a, b); r > 0.8 && r < 1 {
				pairs = append(pairs, SimilarPair{A: a, B: b, Similarity: r})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].Similarity > pairs[j].Similarity })
	n := len(pairs)
	if n > maxSimilarPairs {
		pairs = pairs[:maxSimilarPairs]
	}
	return pairs, n
}

func semanticStats(engine *rules.Engine, sample []string) (SemanticStats, error) {
	ss := SemanticStats{Sampled: len(sample), BySubject: make(map[string]int)}
	conflicts, err := engine.Evaluate(sample)
	if err != nil {
		return ss, err
	}
	idx := make([]int, 0, len(conflicts))
	for i := range conflicts {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		ss.Total++
		for _, c := range conflicts[i] {
			ss.BySubject[c.Subject]++
		}
		if len(ss.Issues) < maxSemantic {
			ss.Issues = append(ss.Issues, SemanticIssue{Statement: sample[i], Conflicts: conflicts[i]})
		}
	}
	return ss, nil
}

func entityStats(statements []string) EntityStats {
	es := EntityStats{Sampled: len(statements)}
	entities := make(map[string]int)
	predicates := make(map[string]bool)
	totalEntities, parsed := 0, 0
	for _, st := range statements {
		f, err := fact.Parse(st)
		if err != nil {
			continue
		}
		parsed++
		predicates[f.Predicate] = true
		for _, arg := range f.Args {
			entities[arg]++
			totalEntities++
		}
	}
	es.Unique = len(entities)
	es.UniquePredicates = len(predicates)
	if totalEntities > 0 {
		es.Diversity = float64(es.Unique) / float64(totalEntities)
	}
	if parsed > 0 {
		es.PredicateDiversity = float64(es.UniquePredicates) / float64(parsed)
	}

	ranked := make([]EntityCount, 0, len(entities))
	for e, n := range entities {
		ranked = append(ranked, EntityCount{Entity: e, Count: n, Share: float64(n) / float64(max(parsed, 1))})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Entity < ranked[j].Entity
	})
	es.Top = ranked[:min(20, len(ranked))]
	for _, e := range ranked[:min(10, len(ranked))] {
		// more than 20 mentions per 500 statements
		if e.Share > 0.04 {
			es.Repetitive = append(es.Repetitive, e)
		}
	}
	return es
}

// score starts at 100 and deducts for dominance, duplicates, semantic issues and low entity
// diversity.
func score(a *Analysis) float64 {
	s := 100.0
	if a.Predicates.Dominant != "" {
		s -= math.Min(40, a.Predicates.DominantRate*50)
	}
	s -= math.Min(20, a.Duplicates.Rate*100)
	s -= math.Min(20, float64(a.Semantic.Total)*0.5)
	if a.Entities.Sampled > 0 && a.Entities.Diversity < 0.5 {
		s -= (0.5 - a.Entities.Diversity) * 20
	}
	return math.Round(math.Max(0, math.Min(100, s))*10) / 10
}

var priorityRank = map[string]int{Critical: 0, High: 1, Medium: 2, Info: 3}

func recommend(a *Analysis) []Recommendation {
	var recs []Recommendation
	if a.Predicates.Dominant != "" {
		recs = append(recs, Recommendation{
			Priority: Critical,
			Action:   fmt.Sprintf("Stop or throttle the generator producing %s facts", a.Predicates.Dominant),
			Reason:   fmt.Sprintf("%s is %.1f%% of the knowledge base", a.Predicates.Dominant, a.Predicates.DominantRate*100),
		})
	}
	switch n := a.Duplicates.ExactCount; {
	case n >= duplicateLimit:
		recs = append(recs, Recommendation{Priority: High, Action: "Remove duplicate facts", Reason: fmt.Sprintf("at least %d statements are stored more than once", n)})
	case n > 0:
		recs = append(recs, Recommendation{Priority: Medium, Action: "Remove duplicate facts", Reason: fmt.Sprintf("%d statements are stored more than once", n)})
	}
	switch n := a.Semantic.Total; {
	case n > 10:
		recs = append(recs, Recommendation{Priority: High, Action: "Run the consensus pipeline on facts that break no-go rules", Reason: fmt.Sprintf("%d of %d sampled facts conflict", n, a.Semantic.Sampled)})
	case n > 0:
		recs = append(recs, Recommendation{Priority: Medium, Action: "Review facts that break no-go rules", Reason: fmt.Sprintf("%d of %d sampled facts conflict", n, a.Semantic.Sampled)})
	}
	if a.Entities.Sampled > 0 && a.Entities.Diversity < 0.5 {
		recs = append(recs, Recommendation{Priority: Medium, Action: "Increase entity diversity", Reason: fmt.Sprintf("only %.0f%% of recent arguments are distinct", a.Entities.Diversity*100)})
	}
	if a.Duplicates.SimilarCount > 0 {
		recs = append(recs, Recommendation{Priority: Info, Action: "Review near-duplicate pairs", Reason: fmt.Sprintf("%d sampled pairs are more than 80%% similar", a.Duplicates.SimilarCount)})
	}
	if len(recs) == 0 {
		recs = append(recs, Recommendation{Priority: Info, Action: "No action needed", Reason: "no quality problems found"})
	}
	sort.SliceStable(recs, func(i, j int) bool { return priorityRank[recs[i].Priority] < priorityRank[recs[j].Priority] })
	return recs
}
