package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/afsalb/deep-researcher/config"
)

func testLLMConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		Timeout:    5 * time.Second,
		MaxRetries: 1,
		Models: map[string]config.LLMModel{
			"low_cost":       {Name: "gpt-5-mini", Fallback: "high_reasoning", MaxTokens: 1000, CostPer1KInput: 0.0001, CostPer1KOutput: 0.0004},
			"high_reasoning": {Name: "gpt-5", MaxTokens: 4000, CostPer1KInput: 0.001, CostPer1KOutput: 0.004},
		},
		Routing: config.LLMRoutingConfig{
			Decomposition:  "low_cost",
			Analysis:       "low_cost",
			Synthesis:      "high_reasoning",
			Classification: "low_cost",
			Fallback:       "low_cost",
		},
	}
}

func chatResponse(content string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
		"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 8},
	})
	return string(b)
}

func TestGenerateWithTokens(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		w.Write([]byte(chatResponse("hello")))
	}))
	defer srv.Close()

	p, err := New(testLLMConfig(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, inTok, outTok, err := p.GenerateWithTokens(context.Background(), "prompt", "decomposition", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello" || inTok != 12 || outTok != 8 {
		t.Fatalf("unexpected response: %q %d %d", out, inTok, outTok)
	}
	if gotModel != "gpt-5-mini" {
		t.Fatalf("decomposition tier should route to the low_cost model, got %q", gotModel)
	}
}

func TestGenerateRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(chatResponse("second try")))
	}))
	defer srv.Close()

	p, _ := New(testLLMConfig(srv.URL))
	out, err := p.Generate(context.Background(), "prompt", "analysis", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "second try" {
		t.Fatalf("unexpected output: %q", out)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", calls)
	}
}

func TestGenerateFallsBackToSecondModel(t *testing.T) {
	var models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		models = append(models, req.Model)
		if req.Model == "gpt-5-mini" {
			http.Error(w, "model unavailable", http.StatusBadGateway)
			return
		}
		w.Write([]byte(chatResponse("fallback answer")))
	}))
	defer srv.Close()

	cfg := testLLMConfig(srv.URL)
	cfg.MaxRetries = 0
	p, _ := New(cfg)

	out, err := p.Generate(context.Background(), "prompt", "analysis", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "fallback answer" {
		t.Fatalf("unexpected output: %q", out)
	}
	if len(models) != 2 || models[0] != "gpt-5-mini" || models[1] != "gpt-5" {
		t.Fatalf("expected primary then fallback, got %v", models)
	}
}

func TestResolveTierUnknown(t *testing.T) {
	cfg := testLLMConfig("http://unused")
	cfg.Routing.Fallback = ""
	p, _ := New(cfg)
	if _, err := p.resolveTier("nonsense"); err == nil {
		t.Fatalf("expected error for unroutable tier")
	}
	// A tier naming a model key directly is accepted.
	key, err := p.resolveTier("high_reasoning")
	if err != nil || key != "high_reasoning" {
		t.Fatalf("expected direct model key resolution, got %q, %v", key, err)
	}
}

func TestCalculateCost(t *testing.T) {
	p, _ := New(testLLMConfig("http://unused"))
	got := p.CalculateCost(1000, 1000, "synthesis")
	want := 0.001 + 0.004
	if got != want {
		t.Fatalf("expected cost %g, got %g", want, got)
	}
}

func TestAvailableModelsSorted(t *testing.T) {
	p, _ := New(testLLMConfig("http://unused"))
	got := p.AvailableModels()
	if len(got) != 2 || got[0] != "high_reasoning" || got[1] != "low_cost" {
		t.Fatalf("unexpected model list: %v", got)
	}
}
