package fact

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	f, err := Parse("  HasProperty(water, liquid).  ")
	require.NoError(t, err)
	assert.Equal(t, "HasProperty", f.Predicate)
	assert.Equal(t, []string{"water", "liquid"}, f.Args)
	assert.Equal(t, 2, f.Arity())
	assert.Equal(t, "HasProperty(water, liquid).", f.String())

	nested, err := Parse("Foo(a, g(b, c)).")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "g(b, c)"}, nested.Args)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"no terminator": "Foo(a, b)",
		"no predicate":  "(a).",
		"bad name":      "Has Property(a).",
		"empty args":    "Foo().",
		"extra close":   "Foo(a)).",
		"missing paren": "Foo a.",
		"leading digit": "1Foo(a).",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSyntax))
		})
	}
}

func TestPredicateOf(t *testing.T) {
	assert.Equal(t, "HasPart", PredicateOf("HasPart(cell, nucleus)."))
	assert.Equal(t, "Bad Name", PredicateOf(" Bad Name (x)."))
	assert.Equal(t, "", PredicateOf("no parens here"))
}

func codes(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Code)
	}
	return out
}

func TestCheck(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"HasProperty(water, liquid).", []string{}},
		{"HasProperty(water, liquid)", []string{IssueSyntax, IssueMissingTerminator}},
		{"Foo(a,,b).", []string{IssueEmptyArgument}},
		{"Foo(H₂O).", []string{IssueNonASCII}},
		{"Foo(a.", []string{IssueSyntax, IssueUnbalancedParens, IssueMissingTerminator}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, codes(Check(tt.in)))
		})
	}
	assert.True(t, Valid("IsA(dog, mammal)."))
	assert.False(t, Valid("IsA(dog, mammal)"))
}

func TestTokens(t *testing.T) {
	assert.Equal(t,
		[]string{"haspart", "nh3", "oxygen", "gas"},
		Tokens("HasPart(NH3, oxygen-gas, Oxygen)."))
	assert.Empty(t, Tokens("(),."))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		changes []Change
	}{
		{"canonical", "HasProperty(water, liquid).", "HasProperty(water, liquid).", nil},
		{"encoding", "Temp(water,  100°C)", "Temp(water, 100degC).", []Change{ChangeEncoding, ChangeWhitespace, ChangeTerminator}},
		{"slash predicate", "TCP/IP(protocol, network).", "TCP_IP(protocol, network).", []Change{ChangePredicateName}},
		{"unbalanced", "Foo(a, b", "Foo(a, b).", []Change{ChangeParentheses, ChangeTerminator}},
		{"extra close", "Foo(a)).", "Foo(a).", []Change{ChangeParentheses}},
		{"nested", "Replicates(DNA, OneOriginal(parental)Strand).", "Replicates(DNA, OneOriginal_parental_Strand).", []Change{ChangeNestedParens}},
		{"deeply nested", "Foo(a(b(c))).", "Foo(a_b_c__).", []Change{ChangeNestedParens}},
		{"spaced dots", "Foo(a) . .", "Foo(a).", []Change{ChangeTerminator}},
		{"broken dash", "Range(1â€”5).", "Range(1-5).", []Change{ChangeEncoding}},
		{"non ascii", "Foo(café).", "Foo(caf?).", []Change{ChangeNonASCII}},
		{"smart quotes", "Says(bob, “hi”).", `Says(bob, "hi").`, []Change{ChangeEncoding}},
		{"empty", "   ", "", []Change{ChangeWhitespace}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changes := Normalize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.changes, changes)
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"Temp(water,  100°C)",
		"TCP/IP(protocol, network",
		"Replicates(DNA, OneOriginal(parental)Strand",
		"Brand(Acme©).",
		"Foo(a)))..",
		"weird ≥ text",
		"Foo(a(b(c))).",
		"Foo(a(b(c(d)))",
		"Foo(a) . .",
		"Foo(x) .. . ",
		"Quote(â€œhiâ€, â€”)",
	}
	for _, in := range inputs {
		once, _ := Normalize(in)
		twice, changes := Normalize(once)
		assert.Equal(t, once, twice, in)
		assert.Empty(t, changes, in)
	}
}
