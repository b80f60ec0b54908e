// Package rules evaluates domain no-go pairs over fact statements with Google Mangle.
//
// Each statement is reduced to token(Index, Token) facts. A pair of tokens that may not
// appear together is a no_go(A, B) fact, and the program derives
//
//	conflict(S, A, B) :- token(S, A), token(S, B), no_go(A, B).
package rules

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"factaudit/internal/fact"
	"factaudit/internal/logging"
)

// NoGoPair names two tokens that must not occur in the same statement.
type NoGoPair struct {
	Subject   string `yaml:"subject" json:"subject"`
	Forbidden string `yaml:"forbidden" json:"forbidden"`
	Reason    string `yaml:"reason" json:"reason"`
}

// Conflict is a no-go pair found in a statement.
type Conflict struct {
	Subject   string `json:"subject"`
	Forbidden string `json:"forbidden"`
	Reason    string `json:"reason"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s/%s: %s", c.Subject, c.Forbidden, c.Reason)
}

// DefaultPairs returns the chemistry, biology and physics combinations known to be wrong.
func DefaultPairs() []NoGoPair {
	return []NoGoPair{
		{Subject: "nh3", Forbidden: "oxygen", Reason: "ammonia (NH3) consists of nitrogen and hydrogen, not oxygen"},
		{Subject: "h2o", Forbidden: "carbon", Reason: "water (H2O) consists of hydrogen and oxygen, not carbon"},
		{Subject: "co2", Forbidden: "nitrogen", Reason: "carbon dioxide consists of carbon and oxygen, not nitrogen"},
		{Subject: "ch4", Forbidden: "oxygen", Reason: "methane (CH4) consists of carbon and hydrogen, not oxygen"},
		{Subject: "nacl", Forbidden: "carbon", Reason: "sodium chloride consists of sodium and chlorine, not carbon"},
		{Subject: "virus", Forbidden: "organ", Reason: "viruses are not organisms and have no organs"},
		{Subject: "bacteria", Forbidden: "nucleus", Reason: "bacteria are prokaryotes without a nucleus"},
		{Subject: "plant", Forbidden: "blood", Reason: "plants have no blood"},
		{Subject: "gravity", Forbidden: "particle", Reason: "gravity is a force, not a particle composition"},
		{Subject: "gravity", Forbidden: "haspart", Reason: "gravity is a force and has no parts"},
		{Subject: "momentum", Forbidden: "haspart", Reason: "momentum is a quantity and has no parts"},
	}
}

var tokenPattern = regexp.MustCompile(`^[a-z0-9]+$`)

const program = `
Decl token(Statement, Token).
Decl no_go(Subject, Forbidden).
Decl conflict(Statement, Subject, Forbidden).

conflict(S, A, B) :- token(S, A), token(S, B), no_go(A, B).
`

var (
	tokenSym    = ast.PredicateSym{Symbol: "token", Arity: 2}
	conflictSym = ast.PredicateSym{Symbol: "conflict", Arity: 3}
)

// Engine holds a compiled no-go program. It is safe for concurrent use.
type Engine struct {
	programInfo *analysis.ProgramInfo
	reasons     map[[2]string]string
	pairs       []NoGoPair
}

// NewEngine compiles the program for the given pairs. Tokens are compared lower-cased.
func NewEngine(pairs []NoGoPair) (*Engine, error) {
	timer := logging.StartTimer(logging.CategoryRules, "rules.NewEngine")
	defer timer.Stop()

	var src bytes.Buffer
	src.WriteString(program)

	reasons := make(map[[2]string]string, len(pairs))
	normalized := make([]NoGoPair, 0, len(pairs))
	for _, p := range pairs {
		a, b := strings.ToLower(strings.TrimSpace(p.Subject)), strings.ToLower(strings.TrimSpace(p.Forbidden))
		if !tokenPattern.MatchString(a) || !tokenPattern.MatchString(b) {
			return nil, fmt.Errorf("invalid no-go pair %q/%q: tokens must be alphanumeric", p.Subject, p.Forbidden)
		}
		key := [2]string{a, b}
		if _, dup := reasons[key]; dup {
			continue
		}
		reasons[key] = p.Reason
		normalized = append(normalized, NoGoPair{Subject: a, Forbidden: b, Reason: p.Reason})
		fmt.Fprintf(&src, "no_go(%q, %q).\n", a, b)
	}

	unit, err := parse.Unit(bytes.NewReader(src.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse no-go program: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze no-go program: %w", err)
	}

	logging.RulesDebug("Compiled no-go program with %d pairs", len(normalized))
	return &Engine{programInfo: programInfo, reasons: reasons, pairs: normalized}, nil
}

// Pairs returns the normalized pairs the engine was built with.
func (e *Engine) Pairs() []NoGoPair {
	return append([]NoGoPair(nil), e.pairs...)
}

// Evaluate returns the conflicts of every statement that has at least one, keyed by
// the statement's index in the input.
func (e *Engine) Evaluate(statements []string) (map[int][]Conflict, error) {
	timer := logging.StartTimer(logging.CategoryRules, "rules.Evaluate")
	defer timer.Stop()

	store := factstore.NewSimpleInMemoryStore()
	for i, st := range statements {
		for _, tok := range statementTokens(st) {
			store.Add(ast.NewAtom(tokenSym.Symbol, ast.Number(int64(i)), ast.String(tok)))
		}
	}

	stats, err := mengine.EvalProgramWithStats(e.programInfo, store)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate no-go program: %w", err)
	}
	logging.RulesDebug("Evaluated %d statements: %+v", len(statements), stats)

	out := make(map[int][]Conflict)
	err = store.GetFacts(ast.NewQuery(conflictSym), func(atom ast.Atom) error {
		idx, ok := atom.Args[0].(ast.Constant)
		if !ok {
			return fmt.Errorf("unexpected conflict term %v", atom.Args[0])
		}
		a, _ := atom.Args[1].(ast.Constant)
		b, _ := atom.Args[2].(ast.Constant)
		out[int(idx.NumValue)] = append(out[int(idx.NumValue)], Conflict{
			Subject:   a.Symbol,
			Forbidden: b.Symbol,
			Reason:    e.reasons[[2]string{a.Symbol, b.Symbol}],
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range out {
		sort.Slice(out[i], func(x, y int) bool {
			if out[i][x].Subject != out[i][y].Subject {
				return out[i][x].Subject < out[i][y].Subject
			}
			return out[i][x].Forbidden < out[i][y].Forbidden
		})
	}
	return out, nil
}

// Check evaluates a single statement.
func (e *Engine) Check(statement string) ([]Conflict, error) {
	res, err := e.Evaluate([]string{statement})
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// statementTokens adds a singular form for plural-looking tokens so "organs" matches "organ".
func statementTokens(statement string) []string {
	toks := fact.Tokens(statement)
	out := make([]string, 0, len(toks)*2)
	seen := make(map[string]bool, len(toks)*2)
	add := func(t string) {
		if !seen[t] && tokenPattern.MatchString(t) {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range toks {
		add(t)
		if len(t) > 3 && strings.HasSuffix(t, "s") && !strings.HasSuffix(t, "ss") {
			add(strings.TrimSuffix(t, "s"))
		}
	}
	return out
}
