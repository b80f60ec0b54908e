package consensus

import (
	"fmt"
	"strings"
	"time"
)

// quote renders s as a SQL string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// SQL renders the cleanup script for table and column. Identifiers are expected to be
// validated already.
func (r *Result) SQL(table, column string) string {
	var sb strings.Builder
	counts := r.ActionCounts()
	fmt.Fprintf(&sb, "-- factaudit consensus cleanup\n")
	fmt.Fprintf(&sb, "-- generated %s\n", r.CreatedAt.Format(time.RFC3339))
	if r.RunID != "" {
		fmt.Fprintf(&sb, "-- run %s\n", r.RunID)
	}
	fmt.Fprintf(&sb, "-- providers: %s\n", strings.Join(r.Providers, ", "))
	fmt.Fprintf(&sb, "-- updates: %d, deletes: %d, review: %d\n\n", counts[ActionUpdate], counts[ActionDelete], counts[ActionReview])

	for _, d := range r.Actionable() {
		if d.Statement == "" {
			continue
		}
		old := quote(d.Statement)
		fmt.Fprintf(&sb, "-- %s %s confidence=%.2f agreement=%.2f\n", d.ID, d.Action, d.Confidence, d.Agreement)
		switch d.Action {
		case ActionUpdate:
			repl := quote(d.Correction)
			fmt.Fprintf(&sb, "UPDATE %[1]s SET %[2]s = %[3]s WHERE %[2]s = %[4]s AND NOT EXISTS (SELECT 1 FROM %[1]s WHERE %[2]s = %[3]s);\n",
				table, column, repl, old)
			fmt.Fprintf(&sb, "DELETE FROM %s WHERE %s = %s;\n", table, column, old)
		case ActionDelete:
			fmt.Fprintf(&sb, "DELETE FROM %s WHERE %s = %s;\n", table, column, old)
		}
	}
	return sb.String()
}
