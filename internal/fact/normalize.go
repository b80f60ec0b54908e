package fact

import (
	"regexp"
	"strings"
)

// Change names a normalization step that altered a statement.
type Change string

const (
	ChangeEncoding      Change = "encoding"
	ChangeNonASCII      Change = "non_ascii"
	ChangeWhitespace    Change = "whitespace"
	ChangePredicateName Change = "predicate_slash"
	ChangeParentheses   Change = "parentheses"
	ChangeNestedParens  Change = "nested_parens"
	ChangeTerminator    Change = "terminator"
)

// Broken UTF-8 sequences come first so their fragments are not replaced piecemeal.
var encodingReplacer = strings.NewReplacer(
	"â€™", "'",
	"â€”", "-",
	"â€œ", `"`,
	"â€", `"`,
	"²", "2",
	"³", "3",
	"°", "deg",
	"—", "-",
	"–", "-",
	"‘", "'",
	"’", "'",
	"“", `"`,
	"”", `"`,
	"…", "...",
	"×", "x",
	"÷", "/",
	"±", "+/-",
	"≈", "~",
	"≠", "!=",
	"≤", "<=",
	"≥", ">=",
	"∞", "infinity",
	"µ", "micro",
	"€", "EUR",
	"£", "GBP",
	"¥", "JPY",
	"©", "(c)",
	"®", "(R)",
	"™", "(TM)",
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	nestedGroup   = regexp.MustCompile(`\(([^)]*\([^)]*\)[^)]*)\)`)
	innerGroup    = regexp.MustCompile(`\(([^)]*)\)`)
)

// Normalize repairs common encoding and structure damage. It is idempotent.
func Normalize(statement string) (string, []Change) {
	var changes []Change
	step := func(c Change, before, after string) string {
		if before != after {
			changes = append(changes, c)
		}
		return after
	}

	s := step(ChangeEncoding, statement, encodingReplacer.Replace(statement))
	s = step(ChangeNonASCII, s, replaceNonASCII(s))
	s = step(ChangeWhitespace, s, strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " ")))
	if s == "" {
		return s, changes
	}

	body := strings.TrimRight(s, ". ")
	if open := strings.IndexByte(body, '('); open > 0 && strings.Contains(body[:open], "/") {
		body = step(ChangePredicateName, body, strings.ReplaceAll(body[:open], "/", "_")+body[open:])
	}
	body = step(ChangeParentheses, body, balanceParens(body))
	body = step(ChangeNestedParens, body, flattenNested(body))

	out := body + "."
	if out != s && (!strings.HasSuffix(s, ").") || strings.HasSuffix(s, "..")) {
		changes = append(changes, ChangeTerminator)
	}
	return out, changes
}

// flattenNested turns groups inside arguments into underscores until none are left.
func flattenNested(s string) string {
	for {
		next := nestedGroup.ReplaceAllStringFunc(s, func(m string) string {
			content := m[1 : len(m)-1]
			return "(" + innerGroup.ReplaceAllString(content, "_${1}_") + ")"
		})
		if next == s {
			return s
		}
		s = next
	}
}

func replaceNonASCII(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 128 {
			b.WriteRune(r)
		} else {
			b.WriteByte('?')
		}
	}
	return b.String()
}

func balanceParens(s string) string {
	open, closed := strings.Count(s, "("), strings.Count(s, ")")
	if open > closed {
		return s + strings.Repeat(")", open-closed)
	}
	for ; closed > open; closed-- {
		i := strings.LastIndexByte(s, ')')
		s = s[:i] + s[i+1:]
	}
	return s
}
