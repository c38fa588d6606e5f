package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/afsalb/deep-researcher/config"
	"github.com/afsalb/deep-researcher/internal/research"
)

// Provider talks to any OpenAI-compatible chat completions endpoint
// (OpenRouter by default). Each pipeline task names a tier; the provider maps
// the tier to its configured primary model and falls back to the model's
// fallback when the primary fails.
type Provider struct {
	cfg    config.LLMConfig
	client *http.Client
	logger *log.Logger
}

func New(cfg config.LLMConfig) (*Provider, error) {
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("no LLM models configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: log.New(log.Writer(), "[LLM] ", log.LstdFlags),
	}, nil
}

// Generate generates text for the given tier.
func (p *Provider) Generate(ctx context.Context, prompt string, tier string, options map[string]interface{}) (string, error) {
	out, _, _, err := p.GenerateWithTokens(ctx, prompt, tier, options)
	return out, err
}

// GenerateWithTokens generates text and returns prompt/completion token counts.
// The primary model gets one retry; if it still fails and a fallback model is
// configured, the fallback gets the same treatment before the error escalates.
func (p *Provider) GenerateWithTokens(ctx context.Context, prompt string, tier string, options map[string]interface{}) (string, int64, int64, error) {
	modelKey, err := p.resolveTier(tier)
	if err != nil {
		return "", 0, 0, err
	}

	out, inTok, outTok, err := p.callWithRetry(ctx, prompt, modelKey, options)
	if err == nil {
		return out, inTok, outTok, nil
	}

	if fb := p.cfg.Models[modelKey].Fallback; fb != "" && fb != modelKey {
		if _, ok := p.cfg.Models[fb]; ok {
			p.logger.Printf("model %s failed, falling back to %s: %v", modelKey, fb, err)
			out, inTok, outTok, err2 := p.callWithRetry(ctx, prompt, fb, options)
			if err2 == nil {
				return out, inTok, outTok, nil
			}
			err = err2
		}
	}
	return "", 0, 0, &research.ProviderError{Provider: "llm/" + modelKey, Err: err}
}

// resolveTier maps a task tier to a configured model key. A tier that
// directly names a model key is accepted as-is.
func (p *Provider) resolveTier(tier string) (string, error) {
	r := p.cfg.Routing
	var key string
	switch tier {
	case "decomposition":
		key = r.Decomposition
	case "analysis":
		key = r.Analysis
	case "insights":
		key = r.Insights
	case "synthesis":
		key = r.Synthesis
	case "classification":
		key = r.Classification
	}
	if key == "" {
		if _, ok := p.cfg.Models[tier]; ok {
			key = tier
		} else {
			key = r.Fallback
		}
	}
	if key == "" {
		return "", fmt.Errorf("no model routed for tier %q", tier)
	}
	if _, ok := p.cfg.Models[key]; !ok {
		return "", fmt.Errorf("tier %q routed to unknown model %q", tier, key)
	}
	return key, nil
}

func (p *Provider) callWithRetry(ctx context.Context, prompt, modelKey string, options map[string]interface{}) (string, int64, int64, error) {
	retries := p.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			case <-ctx.Done():
				return "", 0, 0, ctx.Err()
			}
		}
		out, inTok, outTok, err := p.call(ctx, prompt, modelKey, options)
		if err == nil {
			return out, inTok, outTok, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", 0, 0, lastErr
}

func (p *Provider) call(ctx context.Context, prompt, modelKey string, options map[string]interface{}) (string, int64, int64, error) {
	apiKey := p.cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return "", 0, 0, fmt.Errorf("LLM API key not configured")
	}

	m := p.cfg.Models[modelKey]
	apiModel := m.APIName
	if apiModel == "" {
		apiModel = m.Name
	}

	temperature := m.Temperature
	if t, ok := options["temperature"].(float64); ok {
		temperature = t
	}
	maxTokens := m.MaxTokens
	if mt, ok := options["max_tokens"].(int); ok {
		maxTokens = mt
	}

	type chatMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type chatReq struct {
		Model       string    `json:"model"`
		Messages    []chatMsg `json:"messages"`
		Temperature float64   `json:"temperature,omitempty"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
	}

	body, err := json.Marshal(chatReq{
		Model:       apiModel,
		Messages:    []chatMsg{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", 0, 0, fmt.Errorf("marshal: %w", err)
	}

	baseURL := p.cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	req, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return "", 0, 0, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", 0, 0, fmt.Errorf("chat completions status %d: %s", resp.StatusCode, string(b))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, 0, fmt.Errorf("decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", 0, 0, fmt.Errorf("no choices")
	}
	return out.Choices[0].Message.Content, int64(out.Usage.PromptTokens), int64(out.Usage.CompletionTokens), nil
}

// CalculateCost converts token usage for a tier into USD.
func (p *Provider) CalculateCost(inputTokens, outputTokens int64, tier string) float64 {
	modelKey, err := p.resolveTier(tier)
	if err != nil {
		return 0.0
	}
	m := p.cfg.Models[modelKey]
	return float64(inputTokens)/1000.0*m.CostPer1KInput + float64(outputTokens)/1000.0*m.CostPer1KOutput
}

// AvailableModels lists the configured model keys in stable order.
func (p *Provider) AvailableModels() []string {
	var keys []string
	for k := range p.cfg.Models {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
