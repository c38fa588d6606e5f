package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/afsalb/deep-researcher/config"
	"github.com/afsalb/deep-researcher/internal/guard"
	"github.com/afsalb/deep-researcher/internal/ingest"
	"github.com/afsalb/deep-researcher/internal/research"
	"github.com/afsalb/deep-researcher/internal/session"
	"github.com/afsalb/deep-researcher/internal/telemetry"
)

const apologyAnswer = "Sorry, I could not complete that request right now. Please try again."

// Upload is a file attached to a chat message.
type Upload struct {
	Filename string
	Data     []byte
	MimeType string
}

// Router classifies each chat message and dispatches it to exactly one of
// three routes: answer from session context, run a fresh web search, or
// ingest attached files. Route failures degrade to an apology turn rather
// than an error.
type Router struct {
	cfg       config.ChatConfig
	guard     *guard.Guard
	llm       research.LLMProvider
	retriever *research.Retriever
	analyzer  *research.Analyzer
	parser    *ingest.Parser
	store     session.Store
	telemetry *telemetry.Telemetry
	suggester *Suggester
	logger    *log.Logger
}

func NewRouter(cfg config.ChatConfig, g *guard.Guard, llm research.LLMProvider, orch *research.Orchestrator, store session.Store, tel *telemetry.Telemetry) *Router {
	return &Router{
		cfg:       cfg,
		guard:     g,
		llm:       llm,
		retriever: orch.Retriever(),
		analyzer:  orch.Analyzer(),
		parser:    ingest.NewParser(),
		store:     store,
		telemetry: tel,
		suggester: NewSuggester(llm, cfg.SuggestionCount),
		logger:    log.New(log.Writer(), "[CHAT] ", log.LstdFlags),
	}
}

// HandleMessage processes one chat message end to end and returns the
// committed turn. Messages within a session are processed one at a time so
// the history order always matches arrival order.
func (r *Router) HandleMessage(ctx context.Context, sessionID, message string, uploads []Upload) (research.Turn, error) {
	sess, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return research.Turn{}, err
	}

	sess.LockTurn()
	defer sess.UnlockTurn()

	if err := r.guard.ValidateQuery(message); err != nil {
		return research.Turn{}, err
	}
	message = r.guard.RedactPII(r.guard.SanitizeQuery(message))
	if err := r.guard.CheckBudget(sessionID, r.telemetry.SessionCost(sessionID)); err != nil {
		return research.Turn{}, err
	}

	started := time.Now()
	intent := r.classify(ctx, sessionID, sess, message, len(uploads) > 0)

	var answer string
	var badge research.SourceBadge
	degraded := false
	switch intent {
	case research.IntentFile:
		answer, err = r.routeFile(ctx, sessionID, sess, message, uploads)
		badge = research.BadgeFile
	case research.IntentSearch:
		answer, err = r.routeSearch(ctx, sessionID, sess, message)
		badge = research.BadgeWeb
	default:
		answer, err = r.routeContext(ctx, sessionID, sess, message)
		badge = research.BadgeReport
	}
	if err != nil {
		r.logger.Printf("session %s: %s route failed: %v", sessionID, intent, err)
		answer = apologyAnswer
		degraded = true
	}

	topic := ""
	if result, ok := sess.Result(); ok {
		topic = result.Topic
	}
	suggestions := r.suggester.Suggest(ctx, topic, message, answer)

	turn := research.Turn{
		ID:          uuid.NewString(),
		Message:     message,
		Intent:      intent,
		Answer:      answer,
		Suggestions: suggestions,
		SourceBadge: badge,
		CreatedAt:   time.Now(),
	}
	sess.AppendTurn(turn)
	if err := r.store.Save(ctx, sess); err != nil {
		r.logger.Printf("session %s: save failed: %v", sessionID, err)
	}

	r.telemetry.RecordTurnEvent(telemetry.TurnEvent{
		SessionID: sessionID,
		Route:     string(intent),
		Degraded:  degraded,
		Duration:  time.Since(started),
		Cost:      r.telemetry.SessionCost(sessionID),
	})
	return turn, nil
}

// classify picks the route. Attached files always win; otherwise the model
// decides, and anything unusable falls back to a web search.
func (r *Router) classify(ctx context.Context, sessionID string, sess *session.Session, message string, hasNewFiles bool) research.Intent {
	if hasNewFiles {
		return research.IntentFile
	}

	prompt := fmt.Sprintf(`Classify the user's followup message into exactly one route:
- "context": answerable from the existing research report and sources
- "search": needs fresh information from the web
- "file": is about documents the user uploaded earlier

Message: %s

Respond with JSON only: {"route": "context" | "search" | "file"}`, message)

	raw, tokIn, tokOut, err := r.llm.GenerateWithTokens(ctx, prompt, "classification", nil)
	r.addCost(sessionID, tokIn, tokOut, "classification")
	if err != nil {
		r.logger.Printf("session %s: classification failed, defaulting to search: %v", sessionID, err)
		return research.IntentSearch
	}
	cleaned, err := research.ExtractJSON(raw)
	if err != nil {
		return research.IntentSearch
	}
	var parsed struct {
		Route string `json:"route"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return research.IntentSearch
	}
	switch research.Intent(parsed.Route) {
	case research.IntentContext:
		return research.IntentContext
	case research.IntentFile:
		// A file route with nothing uploaded only makes sense if the
		// session already holds uploaded material.
		for key := range sess.KnownKeys() {
			if strings.HasPrefix(key, "upload:") {
				return research.IntentFile
			}
		}
		return research.IntentContext
	case research.IntentSearch:
		return research.IntentSearch
	default:
		return research.IntentSearch
	}
}

// routeContext answers from the session's existing material only. No
// retrieval happens on this route.
func (r *Router) routeContext(ctx context.Context, sessionID string, sess *session.Session, message string) (string, error) {
	k := r.cfg.ContextSnippets
	if k <= 0 {
		k = 5
	}
	hits, err := sess.SearchContext(message, k)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if result, ok := sess.Result(); ok && result.Report.FullText != "" {
		b.WriteString("Report excerpt:\n")
		b.WriteString(truncate(result.Report.FullText, max1(r.cfg.ReportContextMax, 4000)))
		b.WriteString("\n\n")
	}
	for _, h := range hits {
		fmt.Fprintf(&b, "[%d] %s: %s\n", h.Rank, h.Title, h.Snippet)
	}
	b.WriteString(r.historyBlock(sess))

	prompt := fmt.Sprintf(`Answer the user's question using ONLY the material below. If the material does not cover it, say so.

%s
Question: %s`, b.String(), message)

	return r.generate(ctx, sessionID, prompt, "synthesis")
}

// routeSearch runs a single-query retrieval, analyzes only sources the
// session has not seen, and answers from the new material.
func (r *Router) routeSearch(ctx context.Context, sessionID string, sess *session.Session, message string) (string, error) {
	found := r.retriever.Retrieve(ctx, []string{message}, nil)

	known := sess.KnownKeys()
	var fresh []research.Source
	for _, src := range found {
		if _, seen := known[src.URLOrID]; !seen {
			fresh = append(fresh, src)
		}
	}
	if len(fresh) == 0 {
		return "I searched the web but found nothing new beyond the sources already in this session.", nil
	}

	analysis, err := r.analyzer.Analyze(ctx, fresh)
	if err != nil {
		return "", err
	}
	if err := sess.AddAnalyzed(analysis); err != nil {
		r.logger.Printf("session %s: indexing new sources failed: %v", sessionID, err)
	}

	var b strings.Builder
	for i, as := range analysis.Sources {
		if as.Summary == "" {
			continue
		}
		fmt.Fprintf(&b, "[%d] %s (credibility %.2f): %s\n", i+1, as.Source.Title, as.Credibility, as.Summary)
	}
	prompt := fmt.Sprintf(`Answer the user's question using the freshly found sources below. Cite sources by their [number].

%s
Question: %s`, b.String(), message)

	return r.generate(ctx, sessionID, prompt, "synthesis")
}

// routeFile ingests the attached documents into the session and answers from
// them.
func (r *Router) routeFile(ctx context.Context, sessionID string, sess *session.Session, message string, uploads []Upload) (string, error) {
	topic := ""
	if result, ok := sess.Result(); ok {
		topic = result.Topic
	}

	var sources []research.Source
	for _, up := range uploads {
		text, err := r.parser.Parse(up.Filename, up.Data, up.MimeType)
		if err != nil {
			return "", err
		}
		if topic != "" && !r.uploadRelevant(ctx, sessionID, topic, up.Filename, text) {
			r.logger.Printf("session %s: upload %s unrelated to %q, ignoring", sessionID, up.Filename, topic)
			continue
		}
		sources = append(sources, r.parser.ToSource(up.Filename, text))
	}

	if len(sources) == 0 {
		// Question about documents uploaded earlier in the session.
		return r.answerFromUploads(ctx, sessionID, sess, message)
	}

	analysis, err := r.analyzer.Analyze(ctx, sources)
	if err != nil {
		return "", err
	}
	if err := sess.AddAnalyzed(analysis); err != nil {
		r.logger.Printf("session %s: indexing uploads failed: %v", sessionID, err)
	}

	var b strings.Builder
	for i, as := range analysis.Sources {
		fmt.Fprintf(&b, "[%d] %s: %s\n", i+1, as.Source.Title, as.Summary)
	}
	prompt := fmt.Sprintf(`The user uploaded documents. Answer their question from the document summaries below.

%s
Question: %s`, b.String(), message)

	return r.generate(ctx, sessionID, prompt, "synthesis")
}

// uploadRelevant screens a parsed upload against the session topic. The
// check fails open: a broken classifier must not block the user's files.
func (r *Router) uploadRelevant(ctx context.Context, sessionID, topic, filename, text string) bool {
	prompt := fmt.Sprintf(`Decide whether the document below relates to the research topic %q.

Document %q:
%s

Respond with JSON only: {"relevant": true | false}`, topic, filename, truncate(text, 1500))

	raw, tokIn, tokOut, err := r.llm.GenerateWithTokens(ctx, prompt, "classification", nil)
	r.addCost(sessionID, tokIn, tokOut, "classification")
	if err != nil {
		r.logger.Printf("session %s: relevance check for %s failed, keeping it: %v", sessionID, filename, err)
		return true
	}
	cleaned, err := research.ExtractJSON(raw)
	if err != nil {
		return true
	}
	var parsed struct {
		Relevant bool `json:"relevant"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return true
	}
	return parsed.Relevant
}

func (r *Router) answerFromUploads(ctx context.Context, sessionID string, sess *session.Session, message string) (string, error) {
	var b strings.Builder
	for _, as := range sess.AllAnalyzed() {
		if as.Source.Origin != research.OriginUpload || as.Summary == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", as.Source.Title, as.Summary)
	}
	if b.Len() == 0 {
		return "No uploaded documents are available in this session yet. Attach a file to your message and I will read it.", nil
	}
	prompt := fmt.Sprintf(`Answer the user's question from their uploaded documents, summarized below.

%s
Question: %s`, b.String(), message)
	return r.generate(ctx, sessionID, prompt, "synthesis")
}

func (r *Router) historyBlock(sess *session.Session) string {
	history := sess.History()
	limit := r.cfg.MaxHistoryTurns
	if limit <= 0 {
		limit = 10
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, t := range history {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", t.Message, truncate(t.Answer, 400))
	}
	b.WriteString("\n")
	return b.String()
}

func (r *Router) generate(ctx context.Context, sessionID, prompt, tier string) (string, error) {
	out, tokIn, tokOut, err := r.llm.GenerateWithTokens(ctx, prompt, tier, nil)
	r.addCost(sessionID, tokIn, tokOut, tier)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (r *Router) addCost(sessionID string, tokIn, tokOut int64, tier string) {
	if tokIn == 0 && tokOut == 0 {
		return
	}
	cost := r.llm.CalculateCost(tokIn, tokOut, tier)
	r.telemetry.AddSessionCost(sessionID, cost, tokIn+tokOut, tier)
}

func max1(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
