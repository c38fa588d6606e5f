package research

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestAnalyzeDegradesSingleFailure(t *testing.T) {
	llm := &fakeLLM{respond: func(prompt, tier string) (string, error) {
		if strings.Contains(prompt, "broken source") {
			return "", errors.New("provider blew up")
		}
		if strings.Contains(prompt, "conflicting claims") {
			return `{"conflicting": false, "description": ""}`, nil
		}
		return analysisJSON("a fine summary", 0.8), nil
	}}
	a := NewAnalyzer(testResearchConfig(), llm)

	sources := []Source{
		webSource("u1", "good source", "content one"),
		webSource("u2", "broken source", "content two"),
	}
	analysis, err := a.Analyze(context.Background(), sources)
	if err != nil {
		t.Fatalf("partial failure must not abort the batch: %v", err)
	}
	if len(analysis.Sources) != 2 {
		t.Fatalf("expected 2 analyzed sources, got %d", len(analysis.Sources))
	}
	degraded, ok := analysis.ByKey("u2")
	if !ok {
		t.Fatalf("degraded source missing from output")
	}
	if degraded.Credibility != 0.0 || degraded.Summary != "" {
		t.Fatalf("failed source should degrade to credibility 0.0 with empty summary, got %+v", degraded)
	}
	good, _ := analysis.ByKey("u1")
	if good.Credibility != 0.8 {
		t.Fatalf("healthy source should keep its score, got %g", good.Credibility)
	}
}

func TestAnalyzeAllFailedReturnsAnalysisError(t *testing.T) {
	llm := &fakeLLM{respond: func(prompt, tier string) (string, error) {
		return "", errors.New("provider down")
	}}
	a := NewAnalyzer(testResearchConfig(), llm)

	_, err := a.Analyze(context.Background(), []Source{
		webSource("u1", "1", "x"),
		webSource("u2", "2", "y"),
	})
	var ae *AnalysisError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AnalysisError when 100%% of the batch fails, got %v", err)
	}
	if ae.Failed != 2 || ae.Total != 2 {
		t.Fatalf("unexpected failure counts: %+v", ae)
	}
}

func TestAnalyzeEmptyInput(t *testing.T) {
	llm := &fakeLLM{}
	a := NewAnalyzer(testResearchConfig(), llm)
	analysis, err := a.Analyze(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(analysis.Sources) != 0 || llm.callCount() != 0 {
		t.Fatalf("empty input must not touch the model")
	}
}

func TestContradictionsSymmetricSingleEntry(t *testing.T) {
	llm := &fakeLLM{respond: func(prompt, tier string) (string, error) {
		if strings.Contains(prompt, "conflicting claims") {
			return `{"conflicting": true, "description": "A says up, B says down"}`, nil
		}
		return analysisJSON("summary", 0.7), nil
	}}
	a := NewAnalyzer(testResearchConfig(), llm)

	analysis, err := a.Analyze(context.Background(), []Source{
		webSource("uA", "A", "up"),
		webSource("uB", "B", "down"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(analysis.Contradictions) != 1 {
		t.Fatalf("the unordered pair must be recorded exactly once, got %d entries", len(analysis.Contradictions))
	}
	c := analysis.Contradictions[0]
	if !c.SamePair("uA", "uB") || !c.SamePair("uB", "uA") {
		t.Fatalf("contradiction should match the pair in either order: %+v", c)
	}
	for _, as := range analysis.Sources {
		if len(as.Flags) != 1 || as.Flags[0] != c.ID {
			t.Fatalf("both sources should carry the contradiction flag, got %+v", as)
		}
	}
}

func TestContradictionPairCap(t *testing.T) {
	var pairChecks int
	llm := &fakeLLM{respond: func(prompt, tier string) (string, error) {
		if strings.Contains(prompt, "conflicting claims") {
			pairChecks++
			return `{"conflicting": true, "description": "conflict"}`, nil
		}
		return analysisJSON("summary", 0.5), nil
	}}
	cfg := testResearchConfig()
	cfg.MaxContradictionPairs = 2
	cfg.FanOutWorkers = 1 // keep pair counting deterministic
	a := NewAnalyzer(cfg, llm)

	// 4 sources yield 6 unordered pairs, but only 2 may be checked.
	analysis, err := a.Analyze(context.Background(), []Source{
		webSource("u1", "1", "a"), webSource("u2", "2", "b"),
		webSource("u3", "3", "c"), webSource("u4", "4", "d"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pairChecks != 2 {
		t.Fatalf("expected exactly 2 pair checks under the cap, got %d", pairChecks)
	}
	if len(analysis.Contradictions) != 2 {
		t.Fatalf("expected 2 recorded contradictions, got %d", len(analysis.Contradictions))
	}
}

func TestAnalyzeCapsBatchSize(t *testing.T) {
	llm := &fakeLLM{respond: func(prompt, tier string) (string, error) {
		if strings.Contains(prompt, "conflicting claims") {
			return `{"conflicting": false, "description": ""}`, nil
		}
		return analysisJSON("s", 0.5), nil
	}}
	cfg := testResearchConfig()
	cfg.MaxAnalyzedSources = 3
	cfg.MaxContradictionPairs = 0
	a := NewAnalyzer(cfg, llm)

	var sources []Source
	for _, k := range []string{"u1", "u2", "u3", "u4", "u5"} {
		sources = append(sources, webSource(k, k, "text"))
	}
	analysis, err := a.Analyze(context.Background(), sources)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(analysis.Sources) != 3 {
		t.Fatalf("expected the batch capped at 3, got %d", len(analysis.Sources))
	}
}
