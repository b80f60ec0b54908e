package quality

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Markdown renders the sanity report.
func (r *SanityReport) Markdown() string {
	var sb strings.Builder
	status := "PASS"
	if !r.Passed {
		status = "FAIL"
	}
	fmt.Fprintf(&sb, "# Sanity Check: %s\n\n", status)
	sb.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&sb, "| Facts | %s |\n", humanize.Comma(r.TotalFacts))
	fmt.Fprintf(&sb, "| Predicates | %s |\n", humanize.Comma(int64(r.Predicates)))
	fmt.Fprintf(&sb, "| Sampled | %s |\n", humanize.Comma(int64(r.Sampled)))
	fmt.Fprintf(&sb, "| Syntax failures | %d (%.1f%%) |\n", r.SyntaxFailures, r.SyntaxFailureRate*100)
	fmt.Fprintf(&sb, "| Trailing dot | %.1f%% |\n", r.TrailingDotRate*100)
	fmt.Fprintf(&sb, "| N-ary (>2 args) | %.1f%% |\n", r.NAryRate*100)
	fmt.Fprintf(&sb, "| Duplicate rows | %s |\n", humanize.Comma(r.DuplicateRows))

	if len(r.Problems) > 0 {
		sb.WriteString("\n## Problems\n\n")
		for _, p := range r.Problems {
			fmt.Fprintf(&sb, "- %s\n", p)
		}
	}
	if len(r.Examples) > 0 {
		sb.WriteString("\n## Malformed examples\n\n")
		for _, e := range r.Examples {
			fmt.Fprintf(&sb, "- `%s`\n", e)
		}
	}
	return sb.String()
}

// Markdown renders the analysis.
func (a *Analysis) Markdown() string {
	var sb strings.Builder
	sb.WriteString("# Knowledge Base Quality\n\n")
	fmt.Fprintf(&sb, "**Quality score: %.1f / 100** (%s)\n\n", a.Score, Grade(a.Score))
	fmt.Fprintf(&sb, "- Facts: %s\n", humanize.Comma(a.TotalFacts))
	fmt.Fprintf(&sb, "- Predicates: %s, top 3 share %.1f%%, diversity %.2f\n",
		humanize.Comma(int64(a.Predicates.Unique)), a.Predicates.Top3Share*100, a.Predicates.Diversity)
	fmt.Fprintf(&sb, "- Exact duplicates: %d, similar pairs: %d\n", a.Duplicates.ExactCount, a.Duplicates.SimilarCount)
	fmt.Fprintf(&sb, "- Semantic issues: %d of %d sampled\n", a.Semantic.Total, a.Semantic.Sampled)
	fmt.Fprintf(&sb, "- Entity diversity: %.1f%% over %d recent facts\n", a.Entities.Diversity*100, a.Entities.Sampled)

	if len(a.Predicates.Issues) > 0 {
		sb.WriteString("\n## Distribution issues\n\n")
		for _, is := range a.Predicates.Issues {
			fmt.Fprintf(&sb, "- **%s** %s (%s)\n", is.Severity, is.Message, is.Impact)
		}
	}

	if n := min(10, len(a.Predicates.Distribution)); n > 0 {
		sb.WriteString("\n## Top predicates\n\n| Predicate | Facts |\n|---|---|\n")
		for _, c := range a.Predicates.Distribution[:n] {
			fmt.Fprintf(&sb, "| %s | %s |\n", c.Predicate, humanize.Comma(c.Count))
		}
	}

	sb.WriteString("\n## Recommendations\n\n")
	for _, r := range a.Recommendations {
		fmt.Fprintf(&sb, "- **[%s]** %s: %s\n", r.Priority, r.Action, r.Reason)
	}

	if len(a.Semantic.Issues) > 0 {
		sb.WriteString("\n## Conflicting facts\n\n")
		for _, is := range a.Semantic.Issues[:min(5, len(a.Semantic.Issues))] {
			fmt.Fprintf(&sb, "- `%s`: %s\n", is.Statement, is.Conflicts[0].Reason)
		}
	}
	if len(a.Duplicates.Similar) > 0 {
		sb.WriteString("\n## Similar pairs\n\n")
		for _, p := range a.Duplicates.Similar[:min(5, len(a.Duplicates.Similar))] {
			fmt.Fprintf(&sb, "- `%s` ~ `%s` (%.2f)\n", p.A, p.B, p.Similarity)
		}
	}
	return sb.String()
}

// Grade buckets a score into good, fair or poor.
func Grade(score float64) string {
	switch {
	case score > 70:
		return "good"
	case score > 40:
		return "fair"
	default:
		return "poor"
	}
}
