package research

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const sampleReport = `# Solid State Batteries

Solid state batteries replace the liquid electrolyte with a ceramic layer.
Production costs remain high, but energy density improves by roughly forty
percent over conventional lithium cells [1].`

func TestSummarizeKeepsGroundedSummary(t *testing.T) {
	llm := &fakeLLM{respond: func(prompt, tier string) (string, error) {
		return "Solid state batteries improve energy density but production costs remain high.", nil
	}}
	s := NewSummarizer(llm)

	got := s.Summarize(context.Background(), sampleReport)
	if got != "Solid state batteries improve energy density but production costs remain high." {
		t.Fatalf("grounded summary rejected: %q", got)
	}
}

func TestSummarizeDiscardsInventedMaterial(t *testing.T) {
	llm := &fakeLLM{respond: func(prompt, tier string) (string, error) {
		return "Toyota announced a gigafactory partnership with Panasonic in Nevada.", nil
	}}
	s := NewSummarizer(llm)

	got := s.Summarize(context.Background(), sampleReport)
	if !strings.HasPrefix(got, "# Solid State Batteries") {
		t.Fatalf("invented summary not replaced by report head: %q", got)
	}
}

func TestSummarizeFallsBackOnProviderError(t *testing.T) {
	llm := &fakeLLM{respond: func(prompt, tier string) (string, error) {
		return "", errors.New("provider down")
	}}
	s := NewSummarizer(llm)

	got := s.Summarize(context.Background(), sampleReport)
	if got == "" || !strings.HasPrefix(got, "# Solid State Batteries") {
		t.Fatalf("expected report head fallback, got %q", got)
	}

	empty := &fakeLLM{respond: func(prompt, tier string) (string, error) { return "   ", nil }}
	if got := NewSummarizer(empty).Summarize(context.Background(), sampleReport); !strings.HasPrefix(got, "# Solid State Batteries") {
		t.Fatalf("expected report head fallback for blank output, got %q", got)
	}
}

func TestMirrorsReport(t *testing.T) {
	if !mirrorsReport("Production costs remain high.", sampleReport) {
		t.Fatal("verbatim material should mirror")
	}
	if mirrorsReport("Quarterly revenue exceeded expectations worldwide.", sampleReport) {
		t.Fatal("novel material should not mirror")
	}
	if mirrorsReport("", sampleReport) {
		t.Fatal("empty summary should not mirror")
	}
}

func TestHeadOfCutsAtWordBoundary(t *testing.T) {
	text := strings.Repeat("word ", 200)
	got := headOf(text, 50)
	if len(got) > 54 || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected head: %q", got)
	}
	if strings.Contains(strings.TrimSuffix(got, "..."), "wor ") {
		t.Fatalf("cut mid-word: %q", got)
	}
}
