package research

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/afsalb/deep-researcher/config"
	"github.com/afsalb/deep-researcher/internal/telemetry"
)

// pipelineLLM answers every tier of the pipeline plausibly.
func pipelineLLM() *fakeLLM {
	return &fakeLLM{respond: func(prompt, tier string) (string, error) {
		switch tier {
		case "decomposition":
			return `{"queries": ["q1", "q2"]}`, nil
		case "analysis":
			if strings.Contains(prompt, "conflicting claims") {
				return `{"conflicting": false, "description": ""}`, nil
			}
			return analysisJSON("battery summary", 0.8), nil
		case "insights":
			return `{"trends": ["trend"], "gaps": [], "hypotheses": ["hypothesis"]}`, nil
		case "synthesis":
			if strings.Contains(prompt, "Summarize the following report") {
				return "Findings about batteries.", nil
			}
			return "# Research Report\n\nFindings about batteries [1].", nil
		}
		return "{}", nil
	}}
}

func newTestOrchestrator(llm LLMProvider, providers []SearchProvider) *Orchestrator {
	return NewOrchestrator(testConfig(), llm, providers, nil, telemetry.New(config.TelemetryConfig{}))
}

func TestRunCompletesPipeline(t *testing.T) {
	llm := pipelineLLM()
	search := &fakeSearch{results: map[string][]Source{
		"q1": {webSource("u1", "one", "text one")},
		"q2": {webSource("u2", "two", "text two")},
	}}
	o := newTestOrchestrator(llm, []SearchProvider{search})

	result, err := o.Run(context.Background(), "Future of Solid State Batteries", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Stage != StageDone {
		t.Fatalf("expected StageDone, got %s", result.Stage)
	}
	if len(result.SubQueries) != 2 || len(result.Sources) != 2 {
		t.Fatalf("unexpected run shape: %d queries, %d sources", len(result.SubQueries), len(result.Sources))
	}
	if result.Report.FullText == "" {
		t.Fatalf("report should be populated")
	}
	if result.Summary == "" || result.Report.ExecutiveSummary != result.Summary {
		t.Fatalf("executive summary should mirror the run summary")
	}
	if len(result.Report.Citations) != 2 {
		t.Fatalf("expected a citation per analyzed source, got %d", len(result.Report.Citations))
	}
	if result.CostEstimate <= 0 || result.TokensUsed <= 0 {
		t.Fatalf("run usage not booked: cost=%f tokens=%d", result.CostEstimate, result.TokensUsed)
	}
	if len(result.TiersUsed) == 0 || result.TiersUsed[0] != "analysis" {
		t.Fatalf("expected sorted tier trail starting with analysis, got %v", result.TiersUsed)
	}
	if len(result.StageLog) != 6 {
		t.Fatalf("expected a log entry per executed stage, got %d", len(result.StageLog))
	}
	if result.StageLog[0].Stage != StageDecomposing || result.StageLog[5].Stage != StageSummarizing {
		t.Fatalf("stage log out of order: %v", result.StageLog)
	}
}

func TestRunNoSourcesShortCircuits(t *testing.T) {
	llm := pipelineLLM()
	search := &fakeSearch{err: errors.New("everything is down")}
	o := newTestOrchestrator(llm, []SearchProvider{search})

	result, err := o.Run(context.Background(), "topic nobody wrote about", nil)
	if err != nil {
		t.Fatalf("no-sources is a terminal state, not an error: %v", err)
	}
	if result.Stage != StageErrorNoSources {
		t.Fatalf("expected StageErrorNoSources, got %s", result.Stage)
	}
	if result.Message == "" {
		t.Fatalf("empty-result payload should carry a user-facing message")
	}
	if result.Report.FullText != "" || result.Summary != "" || len(result.Analysis.Sources) != 0 {
		t.Fatalf("no report fields may be populated after the short-circuit")
	}
	// Only the decomposition calls may have reached the model.
	for _, tier := range llm.calls {
		if tier != "decomposition" {
			t.Fatalf("stage after retrieval ran anyway: saw %q call", tier)
		}
	}
}

func TestRunDecompositionFailure(t *testing.T) {
	llm := &fakeLLM{respond: func(prompt, tier string) (string, error) {
		return "", errors.New("model down")
	}}
	o := newTestOrchestrator(llm, []SearchProvider{&fakeSearch{}})

	result, err := o.Run(context.Background(), "topic", nil)
	var de *DecompositionError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecompositionError, got %v", err)
	}
	if result.Stage != StageFailed {
		t.Fatalf("expected StageFailed, got %s", result.Stage)
	}
}

func TestRunUploadsReachAnalysis(t *testing.T) {
	llm := pipelineLLM()
	search := &fakeSearch{err: errors.New("search down")}
	o := newTestOrchestrator(llm, []SearchProvider{search})

	uploaded := []Source{{URLOrID: "doc-1", Title: "notes.txt", RawText: "uploaded text", Origin: OriginUpload}}
	result, err := o.Run(context.Background(), "topic", uploaded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Stage != StageDone {
		t.Fatalf("uploads alone should carry the run to StageDone, got %s", result.Stage)
	}
	if len(result.Sources) != 1 || result.Sources[0].Origin != OriginUpload {
		t.Fatalf("unexpected sources: %+v", result.Sources)
	}
}

func TestRunStatusLifecycle(t *testing.T) {
	llm := pipelineLLM()
	search := &fakeSearch{results: map[string][]Source{
		"q1": {webSource("u1", "one", "text")},
		"q2": {webSource("u2", "two", "text")},
	}}
	o := newTestOrchestrator(llm, []SearchProvider{search})

	result, err := o.Run(context.Background(), "topic", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, ok := o.GetStatus(result.ID)
	if !ok {
		t.Fatalf("terminal status should remain visible for pollers")
	}
	if st.Stage != StageDone || st.Progress != 1.0 {
		t.Fatalf("unexpected terminal status: %+v", st)
	}
}

func TestRunConcurrencyBound(t *testing.T) {
	var mu sync.Mutex
	active, peak := 0, 0
	llm := &fakeLLM{respond: func(prompt, tier string) (string, error) {
		if tier == "decomposition" {
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			defer func() {
				mu.Lock()
				active--
				mu.Unlock()
			}()
		}
		return "", errors.New("stop early")
	}}
	cfg := testConfig()
	cfg.Research.MaxConcurrentRuns = 1
	o := NewOrchestrator(cfg, llm, []SearchProvider{&fakeSearch{}}, nil, telemetry.New(config.TelemetryConfig{}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = o.Run(context.Background(), "topic", nil)
		}()
	}
	wg.Wait()

	if peak > 1 {
		t.Fatalf("run semaphore allowed %d concurrent runs, want 1", peak)
	}
}
