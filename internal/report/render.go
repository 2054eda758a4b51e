// Package report renders terminal session reports as JSON and Markdown.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"veridict/internal/model"
)

// Renderer formats terminal reports.
type Renderer struct {
	includeFooter bool
}

// NewRenderer creates a renderer.
func NewRenderer(includeFooter bool) *Renderer {
	return &Renderer{includeFooter: includeFooter}
}

// RenderJSON writes the report as indented JSON.
func (r *Renderer) RenderJSON(rep *model.Report, path string) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// RenderMarkdown writes the Markdown rendition to path.
func (r *Renderer) RenderMarkdown(rep *model.Report, path string) error {
	if err := os.WriteFile(path, []byte(r.Markdown(rep)), 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// verdictMarker maps a verdict to its severity marker.
func verdictMarker(v model.Verdict) string {
	switch v {
	case model.VerdictFalse:
		return "🚨"
	case model.VerdictTrue:
		return "✅"
	default:
		return "⚠️"
	}
}

// Markdown renders the full human-readable report.
func (r *Renderer) Markdown(rep *model.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s Verdict: %s\n\n", verdictMarker(rep.Verdict), rep.Verdict)
	fmt.Fprintf(&b, "**Claim:** %s\n\n", rep.Claim)
	fmt.Fprintf(&b, "Checked across %d round(s).", rep.RoundsRun)
	if rep.Forced {
		b.WriteString(" Finalized at the round cap; coverage is incomplete.")
	}
	b.WriteString("\n\n## Propositions\n\n")

	for _, p := range rep.Propositions {
		fmt.Fprintf(&b, "### %s %s — %s\n\n", verdictMarker(p.Verdict), p.ID, p.Verdict)
		fmt.Fprintf(&b, "%s\n\n", p.Text)
		if len(p.Evidence) == 0 {
			b.WriteString("_No evidence on record._\n\n")
			continue
		}
		for _, c := range p.Evidence {
			fmt.Fprintf(&b, "- [%s](%s) — %s, retrieved %s\n", c.Title, c.URL, c.Publisher, c.RetrievedAt.Format("2006-01-02"))
			if c.Quote != "" {
				fmt.Fprintf(&b, "  > %s\n", c.Quote)
			}
		}
		b.WriteString("\n")
	}

	if len(rep.Conflicts) > 0 {
		b.WriteString("## Unresolved conflicts\n\n")
		fmt.Fprintf(&b, "Approved findings still disagree on scope for: %s.\n\n", strings.Join(rep.Conflicts, ", "))
	}
	if len(rep.Unresolved) > 0 {
		b.WriteString("## Insufficient evidence\n\n")
		fmt.Fprintf(&b, "Below the source minimum: %s.\n\n", strings.Join(rep.Unresolved, ", "))
	}
	if len(rep.Caveats) > 0 {
		b.WriteString("## Caveats\n\n")
		for _, c := range rep.Caveats {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}

	if urls := rep.EvidenceURLs(); len(urls) > 0 {
		b.WriteString("## Sources\n\n")
		for _, u := range urls {
			fmt.Fprintf(&b, "- %s\n", u)
		}
		b.WriteString("\n")
	}

	if r.includeFooter {
		fmt.Fprintf(&b, "---\n\nGenerated by Veridict on %s. Veridict reports evidence support, not certainty.\n",
			rep.GeneratedAt.Format("2006-01-02 15:04 UTC"))
	}
	return b.String()
}

// RenderSummary prints the one-screen terminal summary.
func (r *Renderer) RenderSummary(rep *model.Report, w io.Writer) {
	fmt.Fprintf(w, "\n%s Overall verdict: %s\n", verdictMarker(rep.Verdict), rep.Verdict)
	for _, p := range rep.Propositions {
		fmt.Fprintf(w, "  %s %-4s %-12s %s\n", verdictMarker(p.Verdict), p.ID, p.Verdict, truncate(p.Text, 70))
	}
	if rep.Forced {
		fmt.Fprintf(w, "  (forced finalize: round cap reached before full coverage)\n")
	}
	if len(rep.Caveats) > 0 {
		fmt.Fprintf(w, "  %d caveat(s) — see the full report\n", len(rep.Caveats))
	}
	fmt.Fprintln(w)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
