package research

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/afsalb/deep-researcher/config"
)

// fakeLLM scripts language-model responses per tier for tests.
type fakeLLM struct {
	mu      sync.Mutex
	calls   []string // tiers in call order
	prompts []string
	respond func(prompt, tier string) (string, error)
}

func (f *fakeLLM) Generate(ctx context.Context, prompt, tier string, options map[string]interface{}) (string, error) {
	out, _, _, err := f.GenerateWithTokens(ctx, prompt, tier, options)
	return out, err
}

func (f *fakeLLM) GenerateWithTokens(ctx context.Context, prompt, tier string, options map[string]interface{}) (string, int64, int64, error) {
	f.mu.Lock()
	f.calls = append(f.calls, tier)
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.respond == nil {
		return "{}", 10, 10, nil
	}
	out, err := f.respond(prompt, tier)
	return out, 10, 10, err
}

func (f *fakeLLM) CalculateCost(inputTokens, outputTokens int64, tier string) float64 {
	return float64(inputTokens+outputTokens) / 1000.0 * 0.01
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeSearch returns scripted results per query.
type fakeSearch struct {
	mu      sync.Mutex
	name    string
	results map[string][]Source
	err     error
	queries []string
}

func (f *fakeSearch) Search(ctx context.Context, query string, limit int) ([]Source, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.results[query], nil
}

func (f *fakeSearch) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}

func webSource(key, title, text string) Source {
	return Source{URLOrID: key, Title: title, RawText: text, Origin: OriginWeb, RetrievedAt: time.Now()}
}

func testResearchConfig() config.ResearchConfig {
	return config.ResearchConfig{
		MaxSubQueries:         5,
		MaxAnalyzedSources:    15,
		MaxContradictionPairs: 45,
		MaxConcurrentRuns:     2,
		FanOutWorkers:         4,
		ContentTruncation:     2000,
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Research: testResearchConfig(),
		Search:   config.SearchConfig{ResultsPerQuery: 5, Timeout: 5 * time.Second},
	}
}

func analysisJSON(summary string, credibility float64) string {
	return fmt.Sprintf(`{"summary": %q, "credibility": %g}`, summary, credibility)
}
