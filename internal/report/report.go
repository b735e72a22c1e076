package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"pspec/domain/likelihood"
	"pspec/domain/spectrum"
)

// BuildMarkdown renders an evaluation record and the measurement profiles
// it was computed against as a markdown summary.
func BuildMarkdown(e *likelihood.Evaluation, profiles []spectrum.QualityProfile) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Likelihood evaluation %s\n\n", e.ID)
	fmt.Fprintf(&b, "- **Strategy:** %s\n", e.Strategy)
	fmt.Fprintf(&b, "- **Method:** %s\n", e.Method)
	fmt.Fprintf(&b, "- **Log-likelihood:** %.6g\n", e.Result.LogLikelihood)
	fmt.Fprintf(&b, "- **Evaluated:** %s\n\n", e.CreatedAt.Time().Format("2006-01-02 15:04:05 MST"))

	b.WriteString("## Parameters\n\n")
	b.WriteString("| Name | Value |\n|---|---|\n")
	names := make([]string, 0, len(e.Params))
	for name := range e.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "| %s | %.6g |\n", name, e.Params[name])
	}

	b.WriteString("\n## Per-window contributions\n\n")
	b.WriteString("| Window | logL |\n|---|---|\n")
	windows := make([]string, 0, len(e.Result.PerWindow))
	for w := range e.Result.PerWindow {
		windows = append(windows, w)
	}
	sort.Strings(windows)
	for _, w := range windows {
		fmt.Fprintf(&b, "| %s | %.6g |\n", w, e.Result.PerWindow[w])
	}

	if len(profiles) > 0 {
		b.WriteString("\n## Measurement quality\n\n")
		b.WriteString("| Window | Bins | Mean power | Std dev | Negative bins | z |\n|---|---|---|---|---|---|\n")
		for _, p := range profiles {
			z := "unresolved"
			if p.HasRedshift {
				z = fmt.Sprintf("%.3f", p.Redshift)
			}
			fmt.Fprintf(&b, "| %s | %d | %.6g | %.6g | %d | %s |\n",
				p.Window, p.NBins, p.PowerMean, p.PowerStdDev, p.NegativeBins, z)
		}
	}
	return b.String()
}

// RenderHTML converts a markdown summary to HTML.
func RenderHTML(md string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.Tables)
	doc := p.Parse([]byte(md))
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	return markdown.Render(doc, renderer)
}
