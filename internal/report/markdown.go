package report

import (
	"fmt"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/dustin/go-humanize"
)

// RenderMarkdown renders markdown for the terminal, wrapped at width. plain selects the
// no-color style for pipes and tests.
func RenderMarkdown(md string, width int, theme Theme, plain bool) (string, error) {
	style := "light"
	switch {
	case plain:
		style = "notty"
	case theme.IsDark:
		style = "dark"
	}
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return out, nil
}

// Count formats n with thousands separators.
func Count[T ~int | ~int64](n T) string {
	return humanize.Comma(int64(n))
}

// Percent formats a 0..1 ratio.
func Percent(ratio float64) string {
	return humanize.FormatFloat("#,###.#", ratio*100) + "%"
}

// Ago formats t relative to now, or "-" for the zero time.
func Ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

// Size formats a byte count.
func Size(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}
