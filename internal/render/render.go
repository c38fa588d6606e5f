// Package render turns finished reports into downloadable formats.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/afsalb/deep-researcher/internal/research"
)

// Renderer implements research.ReportRenderer.
type Renderer struct{}

func New() *Renderer { return &Renderer{} }

// RenderMarkdown emits the report with its executive summary and citation
// list appended.
func (r *Renderer) RenderMarkdown(report research.Report) []byte {
	var b strings.Builder
	if report.ExecutiveSummary != "" {
		b.WriteString("## Executive Summary\n\n")
		b.WriteString(report.ExecutiveSummary)
		b.WriteString("\n\n")
	}
	b.WriteString(report.FullText)
	if len(report.Citations) > 0 {
		b.WriteString("\n\n## Sources\n\n")
		for _, c := range report.Citations {
			fmt.Fprintf(&b, "%d. %s (%s)\n", c.Index, citationTitle(c), c.URLOrID)
		}
	}
	return []byte(b.String())
}

// RenderPDF lays the report out as a simple A4 document.
func (r *Renderer) RenderPDF(report research.Report) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if report.ExecutiveSummary != "" {
		pdf.SetFont("Helvetica", "B", 14)
		pdf.MultiCell(0, 7, tr("Executive Summary"), "", "L", false)
		pdf.Ln(2)
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 5.5, tr(report.ExecutiveSummary), "", "L", false)
		pdf.Ln(4)
	}

	pdf.SetFont("Helvetica", "", 11)
	for _, line := range strings.Split(report.FullText, "\n") {
		switch {
		case strings.HasPrefix(line, "## "):
			pdf.Ln(2)
			pdf.SetFont("Helvetica", "B", 13)
			pdf.MultiCell(0, 6.5, tr(strings.TrimPrefix(line, "## ")), "", "L", false)
			pdf.SetFont("Helvetica", "", 11)
		case strings.HasPrefix(line, "# "):
			pdf.SetFont("Helvetica", "B", 16)
			pdf.MultiCell(0, 8, tr(strings.TrimPrefix(line, "# ")), "", "L", false)
			pdf.SetFont("Helvetica", "", 11)
		case strings.TrimSpace(line) == "":
			pdf.Ln(3)
		default:
			pdf.MultiCell(0, 5.5, tr(line), "", "L", false)
		}
	}

	if len(report.Citations) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 13)
		pdf.MultiCell(0, 6.5, tr("Sources"), "", "L", false)
		pdf.SetFont("Helvetica", "", 10)
		for _, c := range report.Citations {
			pdf.MultiCell(0, 5, tr(fmt.Sprintf("%d. %s (%s)", c.Index, citationTitle(c), c.URLOrID)), "", "L", false)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderBibTeX emits one @misc entry per citation.
func (r *Renderer) RenderBibTeX(report research.Report) string {
	year := time.Now().Year()
	var b strings.Builder
	for _, c := range report.Citations {
		fmt.Fprintf(&b, "@misc{source%d,\n", c.Index)
		fmt.Fprintf(&b, "  title = {%s},\n", escapeBibTeX(citationTitle(c)))
		if c.Origin == research.OriginUpload {
			fmt.Fprintf(&b, "  note = {Uploaded document: %s},\n", escapeBibTeX(c.URLOrID))
		} else {
			fmt.Fprintf(&b, "  howpublished = {\\url{%s}},\n", c.URLOrID)
		}
		fmt.Fprintf(&b, "  year = {%d}\n}\n\n", year)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func citationTitle(c research.Citation) string {
	if c.Title != "" {
		return c.Title
	}
	return c.URLOrID
}

func escapeBibTeX(s string) string {
	replacer := strings.NewReplacer("{", "\\{", "}", "\\}", "%", "\\%", "&", "\\&", "#", "\\#", "_", "\\_")
	return replacer.Replace(s)
}
