package guard

import (
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/afsalb/deep-researcher/config"
)

// Guard validates user input, strips prompt-injection attempts, redacts PII
// from material sent to external providers, and enforces the per-session
// spend budget.
type Guard struct {
	cfg    config.GuardConfig
	logger *log.Logger
}

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts)`),
	regexp.MustCompile(`(?i)disregard\s+(your|the)\s+(instructions|system\s+prompt)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an)\s+`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?prompt`),
	regexp.MustCompile(`(?i)</?system>`),
}

var piiPatterns = map[string]*regexp.Regexp{
	"[EMAIL]": regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	"[SSN]":   regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	"[CARD]":  regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`),
	"[PHONE]": regexp.MustCompile(`\b\+?\d{1,3}[ \-.]?\(?\d{2,4}\)?[ \-.]?\d{3,4}[ \-.]?\d{3,4}\b`),
}

func New(cfg config.GuardConfig) *Guard {
	return &Guard{
		cfg:    cfg,
		logger: log.New(log.Writer(), "[GUARD] ", log.LstdFlags),
	}
}

// ValidateQuery checks a topic or chat message before it enters the pipeline.
func (g *Guard) ValidateQuery(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return fmt.Errorf("query is empty")
	}
	max := g.cfg.MaxQueryLength
	if max <= 0 {
		max = 500
	}
	if len(trimmed) > max {
		return fmt.Errorf("query exceeds %d characters", max)
	}
	return nil
}

// SanitizeQuery removes prompt-injection phrasing from user input. The input
// is not rejected; only the offending spans are dropped.
func (g *Guard) SanitizeQuery(query string) string {
	out := query
	for _, re := range injectionPatterns {
		if re.MatchString(out) {
			g.logger.Printf("stripped injection pattern %q", re.String())
			out = re.ReplaceAllString(out, "")
		}
	}
	return strings.Join(strings.Fields(out), " ")
}

// RedactPII masks emails, SSNs, card and phone numbers in text bound for
// external providers. No-op when redaction is disabled.
func (g *Guard) RedactPII(text string) string {
	if !g.cfg.RedactPII {
		return text
	}
	out := text
	for replacement, re := range piiPatterns {
		out = re.ReplaceAllString(out, replacement)
	}
	return out
}

// CheckBudget returns an error once a session's accumulated spend reaches the
// configured cap.
func (g *Guard) CheckBudget(sessionID string, spent float64) error {
	cap := g.cfg.MaxSessionCost
	if cap <= 0 {
		return nil
	}
	if spent >= cap {
		g.logger.Printf("session %s hit the spend cap ($%.2f >= $%.2f)", sessionID, spent, cap)
		return fmt.Errorf("session budget of $%.2f exhausted", cap)
	}
	return nil
}
