package research

import (
	"context"
	"time"
)

// Origin tells where a source came from.
type Origin string

const (
	OriginWeb    Origin = "web"
	OriginUpload Origin = "upload"
)

// Source represents one retrieved web page or uploaded document.
// Unique per URLOrID within a session; later duplicates are dropped, not merged.
type Source struct {
	URLOrID     string    `json:"url_or_id"`
	Title       string    `json:"title,omitempty"`
	RawText     string    `json:"raw_text,omitempty"`
	Origin      Origin    `json:"origin"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// AnalyzedSource couples a Source with its analysis output. Produced once per
// analysis pass and never mutated afterward; re-analysis yields a new value.
type AnalyzedSource struct {
	Source      Source   `json:"source"`
	Summary     string   `json:"summary"`
	Credibility float64  `json:"credibility"` // 0.0 to 1.0
	Flags       []string `json:"flags,omitempty"`
}

// Contradiction records a detected conflict between two analyzed sources.
// The pair is symmetric: (A,B) and (B,A) are the same contradiction.
type Contradiction struct {
	ID          string `json:"id"`
	First       string `json:"first"`  // url_or_id
	Second      string `json:"second"` // url_or_id
	Description string `json:"description"`
}

// SamePair reports whether the contradiction covers the given pair in either order.
func (c Contradiction) SamePair(a, b string) bool {
	return (c.First == a && c.Second == b) || (c.First == b && c.Second == a)
}

// Analysis is the full output of the analyzer stage.
type Analysis struct {
	Sources        []AnalyzedSource `json:"sources"`
	Contradictions []Contradiction  `json:"contradictions,omitempty"`
}

// ByKey returns the analyzed source for a url_or_id, if present.
func (a Analysis) ByKey(key string) (AnalyzedSource, bool) {
	for _, s := range a.Sources {
		if s.Source.URLOrID == key {
			return s, true
		}
	}
	return AnalyzedSource{}, false
}

// Insights are the trends, gaps and hypotheses derived from an analysis.
type Insights struct {
	Trends     []string `json:"trends"`
	Gaps       []string `json:"gaps"`
	Hypotheses []string `json:"hypotheses"`
}

// Empty reports whether no insight of any kind was produced.
func (i Insights) Empty() bool {
	return len(i.Trends) == 0 && len(i.Gaps) == 0 && len(i.Hypotheses) == 0
}

// Citation is one entry of a report's citation list, keyed to source identity.
type Citation struct {
	Index   int    `json:"index"`
	Title   string `json:"title,omitempty"`
	URLOrID string `json:"url_or_id"`
	Origin  Origin `json:"origin"`
}

// Report is the final structured document of a research run.
type Report struct {
	FullText         string     `json:"full_text"` // Markdown
	Citations        []Citation `json:"citations"`
	ExecutiveSummary string     `json:"executive_summary"`
}

// Intent is the classified purpose of a chat follow-up message.
type Intent string

const (
	IntentContext Intent = "context"
	IntentSearch  Intent = "search"
	IntentFile    Intent = "file"
)

// SourceBadge marks which route produced a chat answer.
type SourceBadge string

const (
	BadgeReport SourceBadge = "report"
	BadgeWeb    SourceBadge = "web"
	BadgeFile   SourceBadge = "file"
)

// Turn is one chat exchange. Immutable once created; appended to the session
// history in arrival order.
type Turn struct {
	ID          string      `json:"id"`
	Message     string      `json:"message"`
	Intent      Intent      `json:"intent"`
	Answer      string      `json:"answer"`
	Suggestions []string    `json:"suggestions"` // always exactly 3
	SourceBadge SourceBadge `json:"source_badge"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Result is everything a completed research run produced.
type Result struct {
	ID             string        `json:"id"`
	Topic          string        `json:"topic"`
	SubQueries     []string      `json:"sub_queries"`
	Sources        []Source      `json:"sources"`
	Analysis       Analysis      `json:"analysis"`
	Insights       Insights      `json:"insights"`
	Report         Report        `json:"report"`
	Summary        string        `json:"summary"`
	Stage          Stage         `json:"stage"` // StageDone or StageErrorNoSources
	Message        string        `json:"message,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
	CostEstimate   float64       `json:"cost_estimate"`
	TokensUsed     int64         `json:"tokens_used"`
	TiersUsed      []string      `json:"tiers_used,omitempty"`
	StageLog       []StageLog    `json:"stage_log,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// StageLog records one executed pipeline stage of a run, in order.
type StageLog struct {
	Stage      Stage     `json:"stage"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// LLMProvider is the language-model boundary. Tier names a configured model
// role (decomposition, analysis, insights, synthesis, classification); the
// provider maps it to a concrete model and its fallback.
type LLMProvider interface {
	Generate(ctx context.Context, prompt string, tier string, options map[string]interface{}) (string, error)
	GenerateWithTokens(ctx context.Context, prompt string, tier string, options map[string]interface{}) (string, int64, int64, error)
	CalculateCost(inputTokens, outputTokens int64, tier string) float64
}

// SearchProvider is the web search boundary.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]Source, error)
	Name() string
}

// DocumentParser extracts plain text from uploaded files.
type DocumentParser interface {
	Parse(filename string, data []byte, mimeType string) (string, error)
}

// PageFetcher pulls full page content for a URL when search snippets are too thin.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// ReportRenderer turns a report into downloadable byte streams.
type ReportRenderer interface {
	RenderMarkdown(r Report) []byte
	RenderPDF(r Report) ([]byte, error)
	RenderBibTeX(r Report) string
}
