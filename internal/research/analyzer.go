package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/afsalb/deep-researcher/config"
)

// Analyzer summarizes and scores each source independently, then runs a
// pairwise contradiction pass over the summaries.
type Analyzer struct {
	cfg    config.ResearchConfig
	llm    LLMProvider
	logger *log.Logger
}

func NewAnalyzer(cfg config.ResearchConfig, llm LLMProvider) *Analyzer {
	return &Analyzer{
		cfg:    cfg,
		llm:    llm,
		logger: log.New(log.Writer(), "[ANALYZER] ", log.LstdFlags),
	}
}

// Analyze processes sources in a bounded parallel pass. A single source's
// failure degrades it to credibility 0.0 with an empty summary; an
// AnalysisError is returned only when every source in the batch failed.
func (a *Analyzer) Analyze(ctx context.Context, sources []Source) (Analysis, error) {
	if len(sources) == 0 {
		return Analysis{}, nil
	}
	if cap := a.cfg.MaxAnalyzedSources; cap > 0 && len(sources) > cap {
		a.logger.Printf("capping analysis batch from %d to %d sources", len(sources), cap)
		sources = sources[:cap]
	}

	analyzed := make([]AnalyzedSource, len(sources))
	var (
		mu      sync.Mutex
		failed  int
		lastErr error
	)

	g := new(errgroup.Group)
	if a.cfg.FanOutWorkers > 0 {
		g.SetLimit(a.cfg.FanOutWorkers)
	}
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			as, err := a.analyzeOne(ctx, src)
			if err != nil {
				a.logger.Printf("analysis of %s degraded: %v", src.URLOrID, err)
				as = AnalyzedSource{Source: src, Summary: "", Credibility: 0.0}
				mu.Lock()
				failed++
				lastErr = err
				mu.Unlock()
			}
			analyzed[i] = as
			return nil
		})
	}
	_ = g.Wait()

	if failed == len(sources) {
		return Analysis{}, &AnalysisError{Failed: failed, Total: len(sources), Err: lastErr}
	}

	contradictions := a.detectContradictions(ctx, analyzed)
	for _, c := range contradictions {
		for i := range analyzed {
			key := analyzed[i].Source.URLOrID
			if key == c.First || key == c.Second {
				analyzed[i].Flags = append(analyzed[i].Flags, c.ID)
			}
		}
	}

	return Analysis{Sources: analyzed, Contradictions: contradictions}, nil
}

func (a *Analyzer) analyzeOne(ctx context.Context, src Source) (AnalyzedSource, error) {
	content := src.RawText
	if max := a.cfg.ContentTruncation; max > 0 && len(content) > max {
		content = content[:max]
	}

	prompt := fmt.Sprintf(`You are analyzing one source for a research report.
TITLE: %s
ORIGIN: %s
CONTENT:
%s
Summarize the source in at most 200 words and estimate its credibility.
Return ONLY strict JSON: {"summary": string, "credibility": number 0..1}`, src.Title, src.Origin, content)

	out, err := a.llm.Generate(ctx, prompt, "analysis", map[string]interface{}{"temperature": 0.2, "max_tokens": 500})
	if err != nil {
		return AnalyzedSource{}, err
	}

	raw, err := ExtractJSON(out)
	if err != nil {
		return AnalyzedSource{}, fmt.Errorf("parse analysis output: %w", err)
	}
	var parsed struct {
		Summary     string  `json:"summary"`
		Credibility float64 `json:"credibility"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return AnalyzedSource{}, fmt.Errorf("unmarshal analysis output: %w", err)
	}
	if parsed.Credibility < 0 {
		parsed.Credibility = 0
	}
	if parsed.Credibility > 1 {
		parsed.Credibility = 1
	}
	return AnalyzedSource{Source: src, Summary: strings.TrimSpace(parsed.Summary), Credibility: parsed.Credibility}, nil
}

// detectContradictions runs the O(n²) second pass over unordered pairs of
// summaries, bounded by the configured pair cap. Each pair is checked once
// with i < j, so (A,B) and (B,A) can never both be recorded.
func (a *Analyzer) detectContradictions(ctx context.Context, analyzed []AnalyzedSource) []Contradiction {
	maxPairs := a.cfg.MaxContradictionPairs
	var contradictions []Contradiction
	checked := 0

	for i := 0; i < len(analyzed); i++ {
		if analyzed[i].Summary == "" {
			continue
		}
		for j := i + 1; j < len(analyzed); j++ {
			if analyzed[j].Summary == "" {
				continue
			}
			if maxPairs > 0 && checked >= maxPairs {
				a.logger.Printf("contradiction pass stopped at pair cap %d", maxPairs)
				return contradictions
			}
			checked++

			desc, conflicting, err := a.checkPair(ctx, analyzed[i], analyzed[j])
			if err != nil {
				a.logger.Printf("contradiction check %s vs %s failed: %v",
					analyzed[i].Source.URLOrID, analyzed[j].Source.URLOrID, err)
				continue
			}
			if conflicting {
				contradictions = append(contradictions, Contradiction{
					ID:          uuid.NewString(),
					First:       analyzed[i].Source.URLOrID,
					Second:      analyzed[j].Source.URLOrID,
					Description: desc,
				})
			}
		}
	}
	return contradictions
}

func (a *Analyzer) checkPair(ctx context.Context, x, y AnalyzedSource) (string, bool, error) {
	prompt := fmt.Sprintf(`Do these two source summaries make conflicting claims?
SOURCE A (%s): %s
SOURCE B (%s): %s
Return ONLY strict JSON: {"conflicting": bool, "description": string}`,
		x.Source.Title, x.Summary, y.Source.Title, y.Summary)

	out, err := a.llm.Generate(ctx, prompt, "analysis", map[string]interface{}{"temperature": 0.1, "max_tokens": 300})
	if err != nil {
		return "", false, err
	}
	raw, err := ExtractJSON(out)
	if err != nil {
		return "", false, err
	}
	var parsed struct {
		Conflicting bool   `json:"conflicting"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return "", false, err
	}
	return parsed.Description, parsed.Conflicting, nil
}
