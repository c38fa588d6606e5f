package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/afsalb/deep-researcher/internal/research"
)

func sampleReport() research.Report {
	return research.Report{
		FullText:         "# Fusion Energy\n\n## Findings\n\nTokamaks lead the field [1].",
		ExecutiveSummary: "Fusion remains decades out but progress is real.",
		Citations: []research.Citation{
			{Index: 1, Title: "ITER Update", URLOrID: "https://iter.example/news", Origin: research.OriginWeb},
			{Index: 2, Title: "Lab Notes", URLOrID: "upload:notes.txt#abc123def456", Origin: research.OriginUpload},
		},
	}
}

func TestRenderMarkdown(t *testing.T) {
	out := string(New().RenderMarkdown(sampleReport()))
	for _, want := range []string{
		"## Executive Summary",
		"Fusion remains decades out",
		"Tokamaks lead the field [1]",
		"## Sources",
		"1. ITER Update (https://iter.example/news)",
		"2. Lab Notes (upload:notes.txt#abc123def456)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("markdown missing %q:\n%s", want, out)
		}
	}
}

func TestRenderPDFProducesDocument(t *testing.T) {
	out, err := New().RenderPDF(sampleReport())
	if err != nil {
		t.Fatalf("RenderPDF: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF")) {
		t.Fatalf("output is not a PDF, starts with %q", out[:min(8, len(out))])
	}
}

func TestRenderBibTeX(t *testing.T) {
	out := New().RenderBibTeX(sampleReport())
	for _, want := range []string{
		"@misc{source1,",
		"title = {ITER Update}",
		"howpublished = {\\url{https://iter.example/news}}",
		"@misc{source2,",
		"note = {Uploaded document: upload:notes.txt\\#abc123def456}",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("bibtex missing %q:\n%s", want, out)
		}
	}
}

func TestBibTeXEscapesSpecials(t *testing.T) {
	report := research.Report{Citations: []research.Citation{
		{Index: 1, Title: "100% Growth & Co_op {Study}", URLOrID: "https://x.example", Origin: research.OriginWeb},
	}}
	out := New().RenderBibTeX(report)
	if !strings.Contains(out, `100\% Growth \& Co\_op \{Study\}`) {
		t.Fatalf("specials not escaped:\n%s", out)
	}
}
