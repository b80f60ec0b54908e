// Package scorer ranks statements by how suspicious they look.
package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"factaudit/internal/fact"
	"factaudit/internal/logging"
	"factaudit/internal/rules"
)

// Signal names.
const (
	SignalSyntax         = "syntax"
	SignalPredicateShape = "predicate_shape"
	SignalArity          = "arity"
	SignalNoGo           = "no_go"
	SignalLength         = "length"
	SignalPlaceholder    = "placeholder"
	SignalNonASCII       = "non_ascii"
)

// Weights is the contribution of each signal to the score.
type Weights struct {
	Syntax         float64
	PredicateShape float64
	Arity          float64
	NoGo           float64
	Length         float64
	Placeholder    float64
	NonASCII       float64
}

// Options configures a Scorer.
type Options struct {
	Weights        Weights
	MinArgs        int
	MaxArgs        int
	MinLength      int
	MaxLength      int
	MaxPredicate   int
	Placeholders   []string
	JunkPredicates []string
}

// DefaultOptions returns the weights and bounds used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Weights: Weights{
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
		MaxPredicate:   40,
		Placeholders:   []string{"test", "foo", "bar", "baz", "lorem", "ipsum", "asdf", "example", "placeholder", "todo"},
		JunkPredicates: []string{"DirectTest", "Test", "Example"},
	}
}

// Signal is one reason a statement is suspicious.
type Signal struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Detail string  `json:"detail"`
}

// Assessment is the score of one statement.
type Assessment struct {
	Statement string   `json:"statement"`
	Predicate string   `json:"predicate"`
	Score     float64  `json:"score"`
	Signals   []Signal `json:"signals,omitempty"`
}

// SignalNames returns the names of the signals that fired.
func (a Assessment) SignalNames() []string {
	out := make([]string, len(a.Signals))
	for i, s := range a.Signals {
		out[i] = s.Name
	}
	return out
}

var upperCamel = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*$`)

// Scorer computes heuristic uncertainty scores.
type Scorer struct {
	opts         Options
	engine       *rules.Engine
	placeholders map[string]bool
	junk         map[string]bool
}

// New returns a Scorer. engine may be nil, which disables the no_go signal.
func New(opts Options, engine *rules.Engine) *Scorer {
	if opts.MaxPredicate <= 0 {
		opts.MaxPredicate = 40
	}
	s := &Scorer{
		opts:         opts,
		engine:       engine,
		placeholders: make(map[string]bool, len(opts.Placeholders)),
		junk:         make(map[string]bool, len(opts.JunkPredicates)),
	}
	for _, p := range opts.Placeholders {
		s.placeholders[strings.ToLower(p)] = true
	}
	for _, j := range opts.JunkPredicates {
		s.junk[j] = true
	}
	return s
}

// Score scores one statement.
func (s *Scorer) Score(statement string) (Assessment, error) {
	out, err := s.ScoreAll([]string{statement})
	if err != nil {
		return Assessment{}, err
	}
	return out[0], nil
}

// ScoreAll scores statements in input order. No-go rules are evaluated once for the whole slice.
func (s *Scorer) ScoreAll(statements []string) ([]Assessment, error) {
	timer := logging.StartTimer(logging.CategoryScorer, "scorer.ScoreAll")
	defer timer.Stop()

	var conflicts map[int][]rules.Conflict
	if s.engine != nil && s.opts.Weights.NoGo > 0 {
		var err error
		if conflicts, err = s.engine.Evaluate(statements); err != nil {
			return nil, err
		}
	}

	out := make([]Assessment, len(statements))
	for i, st := range statements {
		out[i] = s.assess(st, conflicts[i])
	}
	logging.ScorerDebug("Scored %d statements (%d with no-go conflicts)", len(statements), len(conflicts))
	return out, nil
}

func (s *Scorer) assess(statement string, conflicts []rules.Conflict) Assessment {
	w := s.opts.Weights
	a := Assessment{Statement: statement, Predicate: fact.PredicateOf(statement)}
	add := func(name string, weight float64, detail string) {
		if weight <= 0 {
			return
		}
		a.Signals = append(a.Signals, Signal{Name: name, Weight: weight, Detail: detail})
	}

	var structural []string
	nonASCII := false
	for _, issue := range fact.Check(statement) {
		if issue.Code == fact.IssueNonASCII {
			nonASCII = true
			continue
		}
		structural = append(structural, issue.Code)
	}
	if len(structural) > 0 {
		add(SignalSyntax, w.Syntax, strings.Join(structural, ","))
	}

	if reason := s.predicateProblem(a.Predicate); reason != "" {
		add(SignalPredicateShape, w.PredicateShape, reason)
	}

	if f, err := fact.Parse(statement); err == nil {
		if n := f.Arity(); n < s.opts.MinArgs || n > s.opts.MaxArgs {
			add(SignalArity, w.Arity, fmt.Sprintf("%d arguments, expected %d..%d", n, s.opts.MinArgs, s.opts.MaxArgs))
		}
	}

	for _, c := range conflicts {
		add(SignalNoGo, w.NoGo, c.String())
	}

	if n := len(strings.TrimSpace(statement)); n < s.opts.MinLength || n > s.opts.MaxLength {
		add(SignalLength, w.Length, fmt.Sprintf("%d characters, expected %d..%d", n, s.opts.MinLength, s.opts.MaxLength))
	}

	if tok := s.placeholderToken(statement); tok != "" {
		add(SignalPlaceholder, w.Placeholder, tok)
	}

	if nonASCII {
		add(SignalNonASCII, w.NonASCII, "contains non-ASCII characters")
	}

	total := 0.0
	for _, sig := range a.Signals {
		total += sig.Weight
	}
	a.Score = math.Round(math.Min(total, 1)*1e6) / 1e6
	return a
}

func (s *Scorer) predicateProblem(p string) string {
	switch {
	case p == "":
		return "no predicate"
	case s.junk[p]:
		return "known junk predicate " + p
	case len(p) > s.opts.MaxPredicate:
		return fmt.Sprintf("predicate longer than %d characters", s.opts.MaxPredicate)
	case !upperCamel.MatchString(p):
		return "predicate is not UpperCamelCase"
	}
	return ""
}

// placeholderToken returns the first argument token that is a known placeholder.
func (s *Scorer) placeholderToken(statement string) string {
	args := statement
	if i := strings.IndexByte(statement, '('); i >= 0 {
		args = statement[i+1:]
	}
	for _, tok := range fact.Tokens(args) {
		if s.placeholders[tok] {
			return tok
		}
	}
	return ""
}

// TopK returns the k highest scores, ties broken by statement. k <= 0 returns everything sorted.
func TopK(assessments []Assessment, k int) []Assessment {
	sorted := append([]Assessment(nil), assessments...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Statement < sorted[j].Statement
	})
	if k > 0 && k < len(sorted) {
		sorted = sorted[:k]
	}
	return sorted
}

// StatementSource streams statements from the knowledge base.
type StatementSource interface {
	Statements(ctx context.Context, limit int, fn func(id int64, statement string) error) error
}

// Scan scores up to limit statements from src and returns the top k.
func (s *Scorer) Scan(ctx context.Context, src StatementSource, limit, k int) ([]Assessment, error) {
	var statements []string
	err := src.Statements(ctx, limit, func(_ int64, st string) error {
		statements = append(statements, st)
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan statements: %w", err)
	}
	scored, err := s.ScoreAll(statements)
	if err != nil {
		return nil, err
	}
	logging.Scorer("Scanned %d statements for top %d", len(statements), k)
	return TopK(scored, k), nil
}

// WriteJSON writes assessments to path.
func WriteJSON(path string, assessments []Assessment) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	data, err := json.MarshalIndent(assessments, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal assessments: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// LoadAssessments reads assessments written by WriteJSON.
func LoadAssessments(path string) ([]Assessment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read assessments: %w", err)
	}
	var out []Assessment
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse assessments %s: %w", path, err)
	}
	return out, nil
}
