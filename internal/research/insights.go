package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
)

// InsightGenerator derives trends, gaps and hypotheses from an analysis
// bundle. Pure transformation: no retrieval, no mutation of its input.
type InsightGenerator struct {
	llm    LLMProvider
	logger *log.Logger
}

func NewInsightGenerator(llm LLMProvider) *InsightGenerator {
	return &InsightGenerator{
		llm:    llm,
		logger: log.New(log.Writer(), "[INSIGHTS] ", log.LstdFlags),
	}
}

// Generate returns the insight bundle for topic. An analysis with zero
// entries yields empty lists without touching the language model.
func (g *InsightGenerator) Generate(ctx context.Context, analysis Analysis, topic string) (Insights, error) {
	if len(analysis.Sources) == 0 {
		return Insights{Trends: []string{}, Gaps: []string{}, Hypotheses: []string{}}, nil
	}

	buf := &bytes.Buffer{}
	for _, s := range analysis.Sources {
		if s.Summary == "" {
			continue
		}
		fmt.Fprintf(buf, "- [credibility %.2f] %s :: %s\n", s.Credibility, s.Source.Title, s.Summary)
	}
	for _, c := range analysis.Contradictions {
		fmt.Fprintf(buf, "- CONFLICT: %s\n", c.Description)
	}

	prompt := fmt.Sprintf(`You are extracting research insights about "%s" from analyzed sources.
NOTES:
%s
Identify emerging trends, open gaps the sources do not cover, and testable hypotheses.
Return ONLY strict JSON: {"trends": [string], "gaps": [string], "hypotheses": [string]}`, topic, buf.String())

	out, err := g.llm.Generate(ctx, prompt, "insights", map[string]interface{}{"temperature": 0.4, "max_tokens": 900})
	if err != nil {
		return Insights{}, err
	}
	raw, err := ExtractJSON(out)
	if err != nil {
		return Insights{}, fmt.Errorf("parse insights output: %w", err)
	}
	var insights Insights
	if err := json.Unmarshal([]byte(raw), &insights); err != nil {
		return Insights{}, fmt.Errorf("unmarshal insights output: %w", err)
	}
	return insights, nil
}
