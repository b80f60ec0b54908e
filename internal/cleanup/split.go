package cleanup

import "strings"

// SplitSQL splits a script into statements on semicolons outside quotes. Line comments
// starting with -- outside quotes are dropped, as are empty statements.
func SplitSQL(script string) []string {
	var (
		out    []string
		cur    strings.Builder
		quote  rune
		inLine bool
	)
	runes := []rune(script)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case inLine:
			if r == '\n' {
				inLine = false
				cur.WriteRune(r)
			}
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
			cur.WriteRune(r)
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			inLine = true
			i++
		case r == ';':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
