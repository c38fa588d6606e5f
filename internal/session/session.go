package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/blevesearch/bleve"

	"github.com/afsalb/deep-researcher/internal/ingest"
	"github.com/afsalb/deep-researcher/internal/research"
)

// DocChunk is one indexed piece of session material: report sections, source
// summaries, uploaded document fragments.
type DocChunk struct {
	DocID      string    `json:"doc_id"`
	Key        string    `json:"key"` // source url_or_id or artifact name
	Title      string    `json:"title"`
	Text       string    `json:"text"`
	ChunkIndex int       `json:"chunk_index"`
	IngestedAt time.Time `json:"ingested_at"`
}

// SearchHit is one retrieval result from the session's index.
type SearchHit struct {
	DocID   string  `json:"doc_id"`
	Key     string  `json:"key"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// Session owns the full lifecycle of one topic investigation: the Phase A
// artifacts (immutable once set), the growing chat history, sources
// accumulated by chat routes, and a per-session BM25 index over everything
// the chat context route may draw on.
type Session struct {
	id        string
	userID    string
	createdAt time.Time

	mu        sync.RWMutex
	expiresAt time.Time
	result    *research.Result
	extra     research.Analysis // sources added by chat search/file routes
	history   []research.Turn

	// chatMu serializes chat turns so history order matches arrival order.
	chatMu sync.Mutex

	index bleve.Index
	meta  map[string]DocChunk
}

// New creates a session with a fresh mem-only index.
func New(id, userID string, ttl time.Duration) (*Session, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Session{
		id:        id,
		userID:    userID,
		createdAt: now,
		expiresAt: now.Add(ttl),
		index:     index,
		meta:      make(map[string]DocChunk),
	}, nil
}

func (s *Session) ID() string           { return s.id }
func (s *Session) UserID() string       { return s.userID }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Expire pushes the expiry forward. Called on every access.
func (s *Session) Expire(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresAt = time.Now().Add(ttl)
}

// Expired reports whether the session has outlived its TTL.
func (s *Session) Expired(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.After(s.expiresAt)
}

// LockTurn serializes chat processing: one message at a time per session.
func (s *Session) LockTurn()   { s.chatMu.Lock() }
func (s *Session) UnlockTurn() { s.chatMu.Unlock() }

// SetResult stores the completed Phase A result. It may only be set once per
// run; restarting research replaces it wholesale.
func (s *Session) SetResult(result research.Result) error {
	s.mu.Lock()
	s.result = &result
	s.mu.Unlock()

	// Index the report and source summaries for the chat context route.
	if result.Report.FullText != "" {
		if err := s.IndexChunks("report", "Research Report", result.Report.FullText); err != nil {
			return err
		}
	}
	for _, as := range result.Analysis.Sources {
		if as.Summary == "" {
			continue
		}
		if err := s.IndexChunks(as.Source.URLOrID, as.Source.Title, as.Summary); err != nil {
			return err
		}
	}
	return nil
}

// Result returns the Phase A result, if research has completed.
func (s *Session) Result() (research.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.result == nil {
		return research.Result{}, false
	}
	return *s.result, true
}

// AppendTurn adds an immutable turn to the history.
func (s *Session) AppendTurn(turn research.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, turn)
}

// History returns a copy of the chat history in arrival order.
func (s *Session) History() []research.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]research.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// AddAnalyzed accumulates sources brought in by chat search/file routes and
// indexes their summaries.
func (s *Session) AddAnalyzed(analysis research.Analysis) error {
	s.mu.Lock()
	s.extra.Sources = append(s.extra.Sources, analysis.Sources...)
	s.extra.Contradictions = append(s.extra.Contradictions, analysis.Contradictions...)
	s.mu.Unlock()

	for _, as := range analysis.Sources {
		if as.Summary == "" {
			continue
		}
		if err := s.IndexChunks(as.Source.URLOrID, as.Source.Title, as.Summary); err != nil {
			return err
		}
	}
	return nil
}

// AllAnalyzed returns the Phase A analysis merged with chat-accumulated sources.
func (s *Session) AllAnalyzed() []research.AnalyzedSource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []research.AnalyzedSource
	if s.result != nil {
		out = append(out, s.result.Analysis.Sources...)
	}
	out = append(out, s.extra.Sources...)
	return out
}

// KnownKeys returns every url_or_id the session has already seen.
func (s *Session) KnownKeys() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make(map[string]struct{})
	if s.result != nil {
		for _, src := range s.result.Sources {
			keys[src.URLOrID] = struct{}{}
		}
	}
	for _, as := range s.extra.Sources {
		keys[as.Source.URLOrID] = struct{}{}
	}
	return keys
}

// IndexChunks splits text and adds the pieces to the session's BM25 index.
func (s *Session) IndexChunks(key, title, text string) error {
	now := time.Now()
	for i, part := range ingest.MakeChunks(text, 1000, 200) {
		chunk := DocChunk{
			DocID:      fmt.Sprintf("%s#%03d", key, i),
			Key:        key,
			Title:      title,
			Text:       part,
			ChunkIndex: i,
			IngestedAt: now,
		}
		s.mu.Lock()
		s.meta[chunk.DocID] = chunk
		err := s.index.Index(chunk.DocID, chunk)
		s.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// SearchContext runs a BM25 query over the session's indexed material.
func (s *Session) SearchContext(q string, k int) ([]SearchHit, error) {
	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, k*3, 0, false)
	res, err := s.index.Search(req)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SearchHit
	for i, hit := range res.Hits {
		doc := s.meta[hit.ID]
		out = append(out, SearchHit{
			DocID:   hit.ID,
			Key:     doc.Key,
			Title:   doc.Title,
			Snippet: snippet(doc.Text),
			Score:   hit.Score,
			Rank:    i + 1,
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// Chunks returns all indexed chunks, for persistence.
func (s *Session) Chunks() []DocChunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DocChunk, 0, len(s.meta))
	for _, c := range s.meta {
		out = append(out, c)
	}
	return out
}

// Close releases the in-memory index.
func (s *Session) Close() error {
	if s.index == nil {
		return nil
	}
	return s.index.Close()
}

func snippet(s string) string {
	if len(s) <= 300 {
		return s
	}
	return s[:300] + "..."
}
