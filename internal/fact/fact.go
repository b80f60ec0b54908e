// Package fact models knowledge base statements of the form Predicate(Arg1, Arg2, ...).
package fact

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// ErrSyntax is returned when a statement is not of the form Name(arg, ...).
var ErrSyntax = errors.New("invalid fact syntax")

var (
	statementPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*\(.+\)\.$`)
	namePattern      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Fact is a parsed statement.
type Fact struct {
	Raw       string
	Predicate string
	Args      []string
}

// Arity returns the number of arguments.
func (f Fact) Arity() int { return len(f.Args) }

// String renders the fact in canonical form.
func (f Fact) String() string {
	return fmt.Sprintf("%s(%s).", f.Predicate, strings.Join(f.Args, ", "))
}

// Parse parses a statement strictly. Commas nested inside parentheses do not split arguments.
func Parse(statement string) (Fact, error) {
	s := strings.TrimSpace(statement)
	if !strings.HasSuffix(s, ").") {
		return Fact{}, fmt.Errorf("%w: missing \").\" terminator in %q", ErrSyntax, statement)
	}
	open := strings.IndexByte(s, '(')
	if open <= 0 {
		return Fact{}, fmt.Errorf("%w: missing predicate in %q", ErrSyntax, statement)
	}
	name := strings.TrimSpace(s[:open])
	if !namePattern.MatchString(name) {
		return Fact{}, fmt.Errorf("%w: bad predicate name %q", ErrSyntax, name)
	}
	body := s[open+1 : len(s)-2]
	args, ok := splitArgs(body)
	if !ok {
		return Fact{}, fmt.Errorf("%w: unbalanced parentheses in %q", ErrSyntax, statement)
	}
	if len(args) == 0 {
		return Fact{}, fmt.Errorf("%w: no arguments in %q", ErrSyntax, statement)
	}
	return Fact{Raw: statement, Predicate: name, Args: args}, nil
}

func splitArgs(body string) ([]string, bool) {
	if strings.TrimSpace(body) == "" {
		return nil, true
	}
	var (
		args  []string
		depth int
		start int
	)
	for i, r := range body {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, false
			}
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(body[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, false
	}
	return append(args, strings.TrimSpace(body[start:])), true
}

// PredicateOf returns the text before the first '(' or "" when there is none.
func PredicateOf(statement string) string {
	i := strings.IndexByte(statement, '(')
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(statement[:i])
}

// Issue codes reported by Check.
const (
	IssueSyntax            = "syntax"
	IssueUnbalancedParens  = "unbalanced_parens"
	IssueMissingTerminator = "missing_terminator"
	IssueNonASCII          = "non_ascii"
	IssueEmptyArgument     = "empty_argument"
)

// Issue is a structural problem found in a statement.
type Issue struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// Check reports structural problems. An empty result means the statement is well formed.
func Check(statement string) []Issue {
	var issues []Issue
	s := strings.TrimSpace(statement)

	if !statementPattern.MatchString(s) {
		issues = append(issues, Issue{Code: IssueSyntax, Detail: "does not match Name(args)."})
	}
	if strings.Count(s, "(") != strings.Count(s, ")") {
		issues = append(issues, Issue{Code: IssueUnbalancedParens, Detail: fmt.Sprintf("%d '(' vs %d ')'", strings.Count(s, "("), strings.Count(s, ")"))})
	}
	if !strings.HasSuffix(s, ").") {
		issues = append(issues, Issue{Code: IssueMissingTerminator, Detail: `does not end with ").`})
	}
	for _, r := range s {
		if r > unicode.MaxASCII {
			issues = append(issues, Issue{Code: IssueNonASCII, Detail: fmt.Sprintf("contains %q", r)})
			break
		}
	}
	if f, err := Parse(s); err == nil {
		for i, a := range f.Args {
			if a == "" {
				issues = append(issues, Issue{Code: IssueEmptyArgument, Detail: fmt.Sprintf("argument %d is empty", i+1)})
				break
			}
		}
	}
	return issues
}

// Valid reports whether Check finds nothing.
func Valid(statement string) bool { return len(Check(statement)) == 0 }

// Tokens returns the lower-cased alphanumeric tokens of a statement, predicate included,
// de-duplicated in order of first appearance.
func Tokens(statement string) []string {
	fields := strings.FieldsFunc(statement, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		t := strings.ToLower(f)
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
