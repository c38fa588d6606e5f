package research

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/afsalb/deep-researcher/config"
)

// Retriever fans out one search call per sub-query, optionally enriches thin
// results with full page content, and merges everything with uploaded sources
// into a deduplicated set.
type Retriever struct {
	cfg       config.ResearchConfig
	searchCfg config.SearchConfig
	providers []SearchProvider
	fetcher   PageFetcher // optional
	logger    *log.Logger
}

func NewRetriever(cfg config.ResearchConfig, searchCfg config.SearchConfig, providers []SearchProvider, fetcher PageFetcher) *Retriever {
	return &Retriever{
		cfg:       cfg,
		searchCfg: searchCfg,
		providers: providers,
		fetcher:   fetcher,
		logger:    log.New(log.Writer(), "[RETRIEVER] ", log.LstdFlags),
	}
}

// Retrieve issues one provider call per sub-query (bounded fan-out, joined
// before returning), merges the candidates with uploaded, and deduplicates by
// url_or_id with first-seen wins. An empty result with empty uploads is the
// signal for the no-sources error branch; the retriever itself never errors
// on provider failures, it only logs them.
func (r *Retriever) Retrieve(ctx context.Context, subQueries []string, uploaded []Source) []Source {
	results := make([][]Source, len(subQueries))

	g, gctx := new(errgroup.Group), ctx
	if r.cfg.FanOutWorkers > 0 {
		g.SetLimit(r.cfg.FanOutWorkers)
	}
	for i, q := range subQueries {
		i, q := i, q
		g.Go(func() error {
			sources, err := r.searchOne(gctx, q)
			if err != nil {
				// A failed sub-query contributes zero sources.
				r.logger.Printf("sub-query %q failed: %v", q, err)
				return nil
			}
			results[i] = sources
			return nil
		})
	}
	_ = g.Wait()

	merged := make([]Source, 0, len(uploaded))
	merged = append(merged, uploaded...)
	for _, batch := range results {
		merged = append(merged, batch...)
	}
	return DeduplicateSources(merged)
}

// searchOne queries every configured provider for q under the search timeout
// and returns the first provider's successful results.
func (r *Retriever) searchOne(ctx context.Context, q string) ([]Source, error) {
	timeout := r.searchCfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limit := r.searchCfg.ResultsPerQuery
	if limit <= 0 {
		limit = 5
	}

	var lastErr error
	for _, p := range r.providers {
		sources, err := p.Search(cctx, q, limit)
		if err != nil {
			lastErr = err
			r.logger.Printf("provider %s failed for %q: %v", p.Name(), q, err)
			continue
		}
		if r.searchCfg.FetchFullContent && r.fetcher != nil {
			r.enrich(cctx, sources)
		}
		return sources, nil
	}
	return nil, lastErr
}

// enrich replaces snippet-only content with fetched page text where the
// snippet is too thin to analyze. Fetch failures keep the snippet.
func (r *Retriever) enrich(ctx context.Context, sources []Source) {
	const minUseful = 400
	for i := range sources {
		if len(sources[i].RawText) >= minUseful {
			continue
		}
		text, err := r.fetcher.Fetch(ctx, sources[i].URLOrID)
		if err != nil || text == "" {
			continue
		}
		if max := r.searchCfg.FetchMaxChars; max > 0 && len(text) > max {
			text = text[:max]
		}
		sources[i].RawText = text
	}
}

// DeduplicateSources drops later duplicates by url_or_id, preserving first-seen
// order. Duplicates are discarded, not merged or re-scored.
func DeduplicateSources(sources []Source) []Source {
	seen := make(map[string]struct{}, len(sources))
	out := make([]Source, 0, len(sources))
	for _, s := range sources {
		if s.URLOrID == "" {
			continue
		}
		if _, ok := seen[s.URLOrID]; ok {
			continue
		}
		seen[s.URLOrID] = struct{}{}
		out = append(out, s)
	}
	return out
}
