package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/afsalb/deep-researcher/config"
	"github.com/afsalb/deep-researcher/internal/research"
)

// NewProviders builds a search provider per configured API key, in preference
// order: Tavily first, then Brave, then Serper.
func NewProviders(cfg config.SearchConfig) []research.SearchProvider {
	httpc := NewHTTPClient(cfg.Timeout, 1, 300*time.Millisecond)
	var providers []research.SearchProvider
	if cfg.TavilyAPIKey != "" {
		providers = append(providers, &TavilyClient{apiKey: cfg.TavilyAPIKey, http: httpc})
	}
	if cfg.BraveAPIKey != "" {
		providers = append(providers, &BraveClient{apiKey: cfg.BraveAPIKey, http: httpc})
	}
	if cfg.SerperAPIKey != "" {
		providers = append(providers, &SerperClient{apiKey: cfg.SerperAPIKey, http: httpc})
	}
	return providers
}

// TavilyClient searches via tavily.com.
type TavilyClient struct {
	apiKey   string
	http     *HTTPClient
	endpoint string // test override
}

func (t *TavilyClient) Name() string { return "tavily" }

func (t *TavilyClient) Search(ctx context.Context, query string, limit int) ([]research.Source, error) {
	endpoint := t.endpoint
	if endpoint == "" {
		endpoint = "https://api.tavily.com/search"
	}
	body := map[string]any{
		"api_key":     t.apiKey,
		"query":       query,
		"max_results": max1(limit, 5),
	}
	var resp struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := t.http.DoJSON(ctx, "POST", endpoint, nil, body, &resp); err != nil {
		return nil, &research.ProviderError{Provider: t.Name(), Err: err}
	}
	var out []research.Source
	for _, r := range resp.Results {
		out = append(out, research.Source{
			URLOrID:     r.URL,
			Title:       r.Title,
			RawText:     strings.TrimSpace(r.Content),
			Origin:      research.OriginWeb,
			RetrievedAt: time.Now(),
		})
	}
	return out, nil
}

// BraveClient searches via the Brave Search API.
type BraveClient struct {
	apiKey   string
	http     *HTTPClient
	endpoint string // test override
}

func (b *BraveClient) Name() string { return "brave" }

func (b *BraveClient) Search(ctx context.Context, query string, limit int) ([]research.Source, error) {
	endpoint := b.endpoint
	if endpoint == "" {
		endpoint = "https://api.search.brave.com/res/v1/web/search"
	}
	var resp struct {
		Web struct {
			Results []struct{ Title, URL, Description string } `json:"results"`
		} `json:"web"`
	}
	headers := map[string]string{"X-Subscription-Token": b.apiKey}
	u := fmt.Sprintf("%s?q=%s&count=%d", endpoint, url.QueryEscape(query), max1(limit, 5))
	if err := b.http.DoJSON(ctx, "GET", u, headers, nil, &resp); err != nil {
		return nil, &research.ProviderError{Provider: b.Name(), Err: err}
	}
	var out []research.Source
	for _, r := range resp.Web.Results {
		out = append(out, research.Source{
			URLOrID:     r.URL,
			Title:       r.Title,
			RawText:     strings.TrimSpace(r.Description),
			Origin:      research.OriginWeb,
			RetrievedAt: time.Now(),
		})
	}
	return out, nil
}

// SerperClient searches via serper.dev.
type SerperClient struct {
	apiKey   string
	http     *HTTPClient
	endpoint string // test override
}

func (s *SerperClient) Name() string { return "serper" }

func (s *SerperClient) Search(ctx context.Context, query string, limit int) ([]research.Source, error) {
	endpoint := s.endpoint
	if endpoint == "" {
		endpoint = "https://google.serper.dev/search"
	}
	var resp struct {
		Organic []struct{ Title, Link, Snippet string } `json:"organic"`
	}
	headers := map[string]string{"X-API-KEY": s.apiKey}
	body := map[string]any{"q": query, "num": max1(limit, 5)}
	if err := s.http.DoJSON(ctx, "POST", endpoint, headers, body, &resp); err != nil {
		return nil, &research.ProviderError{Provider: s.Name(), Err: err}
	}
	var out []research.Source
	for _, r := range resp.Organic {
		out = append(out, research.Source{
			URLOrID:     r.Link,
			Title:       r.Title,
			RawText:     strings.TrimSpace(r.Snippet),
			Origin:      research.OriginWeb,
			RetrievedAt: time.Now(),
		})
	}
	return out, nil
}

func max1(a, def int) int {
	if a > 0 {
		return a
	}
	return def
}
