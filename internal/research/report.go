package research

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
)

// ReportBuilder composes the final long-form document from everything the
// earlier stages produced, plus a citation list keyed to source identity.
type ReportBuilder struct {
	llm    LLMProvider
	logger *log.Logger
}

func NewReportBuilder(llm LLMProvider) *ReportBuilder {
	return &ReportBuilder{
		llm:    llm,
		logger: log.New(log.Writer(), "[REPORT] ", log.LstdFlags),
	}
}

// Build synthesizes the report from the run's artifacts. If the synthesis
// call fails after its retry, a deterministic fallback report is assembled
// from the artifacts directly so the run still completes.
func (b *ReportBuilder) Build(ctx context.Context, topic string, subQueries []string, analysis Analysis, insights Insights) Report {
	citations := buildCitations(analysis)

	prompt := b.prompt(topic, subQueries, analysis, insights, citations)
	out, err := b.llm.Generate(ctx, prompt, "synthesis", map[string]interface{}{"temperature": 0.3, "max_tokens": 3000})
	if err != nil || strings.TrimSpace(out) == "" {
		b.logger.Printf("synthesis failed, assembling fallback report: %v", err)
		return Report{FullText: b.fallback(topic, subQueries, analysis, insights), Citations: citations}
	}
	return Report{FullText: strings.TrimSpace(out), Citations: citations}
}

func (b *ReportBuilder) prompt(topic string, subQueries []string, analysis Analysis, insights Insights, citations []Citation) string {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "TOPIC: %s\n\nRESEARCH QUESTIONS:\n", topic)
	for _, q := range subQueries {
		fmt.Fprintf(buf, "- %s\n", q)
	}
	buf.WriteString("\nSOURCE NOTES:\n")
	for _, c := range citations {
		if as, ok := analysis.ByKey(c.URLOrID); ok {
			fmt.Fprintf(buf, "[%d] %s (credibility %.2f): %s\n", c.Index, as.Source.Title, as.Credibility, as.Summary)
		}
	}
	if len(analysis.Contradictions) > 0 {
		buf.WriteString("\nCONTRADICTIONS:\n")
		for _, c := range analysis.Contradictions {
			fmt.Fprintf(buf, "- %s\n", c.Description)
		}
	}
	if !insights.Empty() {
		buf.WriteString("\nINSIGHTS:\n")
		for _, t := range insights.Trends {
			fmt.Fprintf(buf, "- trend: %s\n", t)
		}
		for _, g := range insights.Gaps {
			fmt.Fprintf(buf, "- gap: %s\n", g)
		}
		for _, h := range insights.Hypotheses {
			fmt.Fprintf(buf, "- hypothesis: %s\n", h)
		}
	}
	buf.WriteString(`
Write a structured Markdown research report with sections: Introduction,
Findings, Contradictions (if any), Insights, Conclusion. Cite sources inline
as [n] using the numbers above. Use ONLY the material given; do not invent
facts. Return the Markdown only, no JSON, no code fences.`)
	return buf.String()
}

// fallback assembles a plain report directly from the artifacts.
func (b *ReportBuilder) fallback(topic string, subQueries []string, analysis Analysis, insights Insights) string {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "# Research Report: %s\n\n## Research Questions\n\n", topic)
	for _, q := range subQueries {
		fmt.Fprintf(buf, "- %s\n", q)
	}
	buf.WriteString("\n## Findings\n\n")
	for i, s := range analysis.Sources {
		if s.Summary == "" {
			continue
		}
		fmt.Fprintf(buf, "**[%d] %s** (credibility %.2f)\n\n%s\n\n", i+1, s.Source.Title, s.Credibility, s.Summary)
	}
	if len(analysis.Contradictions) > 0 {
		buf.WriteString("## Contradictions\n\n")
		for _, c := range analysis.Contradictions {
			fmt.Fprintf(buf, "- %s\n", c.Description)
		}
		buf.WriteString("\n")
	}
	if !insights.Empty() {
		buf.WriteString("## Insights\n\n")
		for _, t := range insights.Trends {
			fmt.Fprintf(buf, "- Trend: %s\n", t)
		}
		for _, g := range insights.Gaps {
			fmt.Fprintf(buf, "- Gap: %s\n", g)
		}
		for _, h := range insights.Hypotheses {
			fmt.Fprintf(buf, "- Hypothesis: %s\n", h)
		}
	}
	return buf.String()
}

func buildCitations(analysis Analysis) []Citation {
	citations := make([]Citation, 0, len(analysis.Sources))
	for i, s := range analysis.Sources {
		citations = append(citations, Citation{
			Index:   i + 1,
			Title:   s.Source.Title,
			URLOrID: s.Source.URLOrID,
			Origin:  s.Source.Origin,
		})
	}
	return citations
}

// Summarizer condenses a report's full text into an executive summary. It
// works from the full text alone so the summary cannot drift from the
// underlying evidence.
type Summarizer struct {
	llm    LLMProvider
	logger *log.Logger
}

func NewSummarizer(llm LLMProvider) *Summarizer {
	return &Summarizer{
		llm:    llm,
		logger: log.New(log.Writer(), "[SUMMARIZER] ", log.LstdFlags),
	}
}

// Summarize returns a short executive summary of fullText. On provider
// failure it falls back to the report's opening paragraphs.
func (s *Summarizer) Summarize(ctx context.Context, fullText string) string {
	prompt := fmt.Sprintf(`Summarize the following report in 3 to 5 sentences.
Use ONLY facts, names and figures that appear in the text. Do not add
anything that is not already written below.
REPORT:
%s`, fullText)

	out, err := s.llm.Generate(ctx, prompt, "synthesis", map[string]interface{}{"temperature": 0.2, "max_tokens": 400})
	if err != nil || strings.TrimSpace(out) == "" {
		s.logger.Printf("summarization failed, using report head: %v", err)
		return headOf(fullText, 600)
	}
	out = strings.TrimSpace(out)
	if !mirrorsReport(out, fullText) {
		s.logger.Printf("summary introduced material absent from the report, using report head")
		return headOf(fullText, 600)
	}
	return out
}

// mirrorsReport reports whether the summary's substantive words already
// appear in the report text. A summary failing this has invented material,
// so the caller discards it.
func mirrorsReport(summary, fullText string) bool {
	known := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(fullText)) {
		known[trimWord(w)] = struct{}{}
	}
	var total, novel int
	for _, w := range strings.Fields(strings.ToLower(summary)) {
		w = trimWord(w)
		if len(w) <= 3 {
			continue
		}
		total++
		if _, ok := known[w]; !ok {
			novel++
		}
	}
	if total == 0 {
		return false
	}
	// Connective words the model adds are tolerable up to 30%.
	return novel*10 <= total*3
}

func trimWord(w string) string {
	return strings.Trim(w, ".,;:!?()[]{}\"'`*#")
}

// headOf returns the first n characters of text, cut at a word boundary.
func headOf(text string, n int) string {
	text = strings.TrimSpace(text)
	if len(text) <= n {
		return text
	}
	cut := text[:n]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}
