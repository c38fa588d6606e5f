package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/afsalb/deep-researcher/internal/research"
)

// defaultSuggestions fills in when the model cannot produce usable followups.
var defaultSuggestions = []string{
	"What are the main takeaways?",
	"Which sources were most credible?",
	"What should I research next?",
}

// Suggester produces followup questions after each chat answer.
type Suggester struct {
	llm    research.LLMProvider
	count  int
	logger *log.Logger
}

func NewSuggester(llm research.LLMProvider, count int) *Suggester {
	if count <= 0 {
		count = 3
	}
	return &Suggester{
		llm:    llm,
		count:  count,
		logger: log.New(log.Writer(), "[SUGGEST] ", log.LstdFlags),
	}
}

// Suggest returns exactly count followup questions, padding or truncating
// whatever the model offers.
func (s *Suggester) Suggest(ctx context.Context, topic, message, answer string) []string {
	prompt := fmt.Sprintf(`The user is researching: %s
They just asked: %s
The answer was: %s

Propose %d short followup questions the user might ask next.
Respond with JSON only: {"suggestions": ["...", "...", "..."]}`,
		topic, message, truncate(answer, 1200), s.count)

	raw, err := s.llm.Generate(ctx, prompt, "classification", nil)
	if err != nil {
		s.logger.Printf("suggestion call failed: %v", err)
		return pad(nil, s.count)
	}
	cleaned, err := research.ExtractJSON(raw)
	if err != nil {
		return pad(nil, s.count)
	}
	var parsed struct {
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		var bare []string
		if err := json.Unmarshal([]byte(cleaned), &bare); err != nil {
			return pad(nil, s.count)
		}
		parsed.Suggestions = bare
	}
	var out []string
	for _, sg := range parsed.Suggestions {
		if sg = strings.TrimSpace(sg); sg != "" {
			out = append(out, sg)
		}
	}
	return pad(out, s.count)
}

// pad normalizes a suggestion list to exactly n entries.
func pad(suggestions []string, n int) []string {
	if len(suggestions) > n {
		return suggestions[:n]
	}
	for _, d := range defaultSuggestions {
		if len(suggestions) >= n {
			break
		}
		if !contains(suggestions, d) {
			suggestions = append(suggestions, d)
		}
	}
	for len(suggestions) < n {
		suggestions = append(suggestions, defaultSuggestions[0])
	}
	return suggestions
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
