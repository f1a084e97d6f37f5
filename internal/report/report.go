// Package report renders a finished session into a human-readable
// report: a Markdown document summarizing the rounds and findings, and
// an HTML rendering of the same document.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/reviewloop/reviewloop/internal/session"
	"github.com/reviewloop/reviewloop/internal/store"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// markdown is the shared converter, configured once. GFM gives us the
// tables the round summary uses.
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// Markdown builds the session report as a Markdown document.
func Markdown(rec store.SessionRecord,
	rounds []session.RoundRecord) string {

	var b strings.Builder

	fmt.Fprintf(&b, "# Review Session %s\n\n", rec.ID)

	outcome := string(rec.Outcome.UnwrapOr("in progress"))
	fmt.Fprintf(&b, "- **Outcome:** %s\n", outcome)
	if rec.Summary != "" {
		fmt.Fprintf(&b, "- **Summary:** %s\n", rec.Summary)
	}
	fmt.Fprintf(&b, "- **Rounds:** %d (cap %d)\n", len(rounds),
		rec.MaxIterations)
	fmt.Fprintf(&b, "- **Started:** %s\n",
		rec.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Finished:** %s\n\n",
		rec.UpdatedAt.Format(time.RFC3339))

	if len(rounds) > 0 {
		b.WriteString("| Round | Kind | Verdict | Summary |\n")
		b.WriteString("|------:|------|---------|--------|\n")
		for _, r := range rounds {
			kind := "review"
			if r.ReReview {
				kind = "re-review"
			}
			fmt.Fprintf(&b, "| %d | %s | %s | %s |\n",
				r.Iteration, kind, r.Action,
				tableCell(r.Summary))
		}
		b.WriteString("\n")
	}

	for _, r := range rounds {
		if len(r.Comments) == 0 && len(r.Blocking) == 0 {
			continue
		}

		kind := "Review"
		if r.ReReview {
			kind = "Re-review"
		}
		fmt.Fprintf(&b, "## Round %d — %s\n\n", r.Iteration, kind)

		for _, issue := range r.Blocking {
			fmt.Fprintf(&b, "- **Blocking:** %s\n", issue)
		}
		for _, c := range r.Comments {
			fmt.Fprintf(&b, "- `%s:%d` (%s): %s\n",
				c.Path, c.Line, c.Severity, c.Body)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// HTML renders the session report as a standalone HTML document.
func HTML(rec store.SessionRecord,
	rounds []session.RoundRecord) (string, error) {

	var body bytes.Buffer
	src := Markdown(rec, rounds)
	if err := markdown.Convert([]byte(src), &body); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}

	var doc strings.Builder
	doc.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	doc.WriteString("<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&doc, "<title>Review Session %s</title>\n", rec.ID)
	doc.WriteString("</head>\n<body>\n")
	doc.Write(body.Bytes())
	doc.WriteString("</body>\n</html>\n")

	return doc.String(), nil
}

// tableCell makes a summary safe for a one-line Markdown table cell.
func tableCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", "\\|")
	return s
}
