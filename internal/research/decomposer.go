package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/afsalb/deep-researcher/config"
)

// QueryDecomposer turns a research topic into an ordered list of
// self-contained, search-engine-optimized sub-queries.
type QueryDecomposer struct {
	cfg    config.ResearchConfig
	llm    LLMProvider
	logger *log.Logger
}

func NewQueryDecomposer(cfg config.ResearchConfig, llm LLMProvider) *QueryDecomposer {
	return &QueryDecomposer{
		cfg:    cfg,
		llm:    llm,
		logger: log.New(log.Writer(), "[DECOMPOSER] ", log.LstdFlags),
	}
}

// Decompose returns 3 to MaxSubQueries ordered sub-queries for topic. It runs
// one simplified-prompt retry before giving up with a DecompositionError.
func (d *QueryDecomposer) Decompose(ctx context.Context, topic string) ([]string, error) {
	queries, err := d.attempt(ctx, d.fullPrompt(topic))
	if err == nil && len(queries) > 0 {
		return queries, nil
	}
	if err != nil {
		d.logger.Printf("decomposition failed, retrying with simplified prompt: %v", err)
	} else {
		d.logger.Printf("decomposition returned no usable queries, retrying with simplified prompt")
	}

	queries, err = d.attempt(ctx, d.simplePrompt(topic))
	if err != nil {
		return nil, &DecompositionError{Topic: topic, Err: err}
	}
	if len(queries) == 0 {
		return nil, &DecompositionError{Topic: topic, Err: fmt.Errorf("no usable queries returned")}
	}
	return queries, nil
}

func (d *QueryDecomposer) attempt(ctx context.Context, prompt string) ([]string, error) {
	out, err := d.llm.Generate(ctx, prompt, "decomposition", map[string]interface{}{"temperature": 0.3, "max_tokens": 400})
	if err != nil {
		return nil, err
	}

	raw, err := ExtractJSON(out)
	if err != nil {
		return nil, fmt.Errorf("parse decomposition output: %w", err)
	}
	var parsed struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		// Some models return a bare array instead of the documented object.
		var arr []string
		if e := json.Unmarshal([]byte(raw), &arr); e != nil {
			return nil, fmt.Errorf("unmarshal decomposition output: %w", err)
		}
		parsed.Queries = arr
	}

	max := d.cfg.MaxSubQueries
	if max <= 0 {
		max = 5
	}
	var queries []string
	for _, q := range parsed.Queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		queries = append(queries, q)
		if len(queries) >= max {
			break
		}
	}
	return queries, nil
}

func (d *QueryDecomposer) fullPrompt(topic string) string {
	return fmt.Sprintf(`You are a research planner breaking a topic into web search queries.
TOPIC: %s
Produce 3 to %d search-engine-optimized queries. Each query must stand on its
own: no pronouns, no references to the other queries, no fragments.
Return ONLY strict JSON: {"queries": [string]}`, topic, d.cfg.MaxSubQueries)
}

func (d *QueryDecomposer) simplePrompt(topic string) string {
	return fmt.Sprintf(`List 3 web search queries for researching: %s
Return ONLY strict JSON: {"queries": [string]}`, topic)
}
