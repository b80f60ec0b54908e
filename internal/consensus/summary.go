package consensus

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"factaudit/internal/batch"
)

// Markdown renders a human summary of the merge.
func (r *Result) Markdown() string {
	var sb strings.Builder
	sb.WriteString("# Consensus Summary\n\n")
	fmt.Fprintf(&sb, "- Generated: %s\n", r.CreatedAt.Format(time.RFC3339))
	if r.RunID != "" {
		fmt.Fprintf(&sb, "- Run: `%s`\n", r.RunID)
	}
	fmt.Fprintf(&sb, "- Providers: %s\n", strings.Join(r.Providers, ", "))
	fmt.Fprintf(&sb, "- Statements: %d\n", len(r.Decisions))
	fmt.Fprintf(&sb, "- Quorum: %d, min confidence: %.2f, delete threshold: %.2f\n\n",
		r.Options.Quorum, r.Options.MinConfidence, r.Options.DeleteThreshold)

	verdicts := r.VerdictCounts()
	sb.WriteString("## Verdicts\n\n| Verdict | Count |\n|---|---|\n")
	for _, v := range []string{batch.VerdictValid, batch.VerdictInvalid, batch.VerdictUncertain} {
		fmt.Fprintf(&sb, "| %s | %d |\n", v, verdicts[v])
	}

	actions := r.ActionCounts()
	sb.WriteString("\n## Actions\n\n| Action | Count |\n|---|---|\n")
	for _, a := range []string{ActionKeep, ActionUpdate, ActionDelete, ActionReview} {
		fmt.Fprintf(&sb, "| %s | %d |\n", a, actions[a])
	}

	if changes := r.Actionable(); len(changes) > 0 {
		sb.WriteString("\n## Changes\n\n| ID | Action | Statement | Correction | Confidence |\n|---|---|---|---|---|\n")
		for _, d := range changes {
			fmt.Fprintf(&sb, "| %s | %s | `%s` | %s | %.2f |\n", d.ID, d.Action, cell(d.Statement), code(d.Correction), d.Confidence)
		}
	}

	if review := r.Review(); len(review) > 0 {
		sb.WriteString("\n## Needs Review\n\n")
		for _, d := range review {
			note := d.Note
			if note == "" {
				note = fmt.Sprintf("%s at %.2f", d.Verdict, d.Confidence)
			}
			fmt.Fprintf(&sb, "- %s `%s` (%s)\n", d.ID, cell(d.Statement), note)
		}
	}

	agreement := r.ProviderAgreement()
	if len(agreement) > 0 {
		names := make([]string, 0, len(agreement))
		for p := range agreement {
			names = append(names, p)
		}
		sort.Strings(names)
		sb.WriteString("\n## Provider Agreement\n\n| Provider | Agreement |\n|---|---|\n")
		for _, p := range names {
			fmt.Fprintf(&sb, "| %s | %.1f%% |\n", p, agreement[p]*100)
		}
	}
	return sb.String()
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func code(s string) string {
	if s == "" {
		return ""
	}
	return "`" + cell(s) + "`"
}
