// Package store persists users and archived research runs in Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/afsalb/deep-researcher/config"
	"github.com/afsalb/deep-researcher/internal/research"
)

type Store struct {
	DB *sql.DB
}

// New connects using the configured DSN, falling back to DATABASE_URL.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		if env := os.Getenv("DATABASE_URL"); env != "" {
			dsn = env
		} else {
			return nil, err
		}
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store from an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// User operations

func (s *Store) CreateUser(ctx context.Context, email, hash string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2) RETURNING id`, email, hash).Scan(&id)
	return id, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Run archive operations

// RunSummary is the listing view of an archived run.
type RunSummary struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Stage     string    `json:"stage"`
	Cost      float64   `json:"cost_estimate"`
	CreatedAt time.Time `json:"created_at"`
}

// ArchiveResult upserts a completed run. Re-archiving the same run ID
// replaces the stored document.
func (s *Store) ArchiveResult(ctx context.Context, userID string, result research.Result) error {
	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO research_runs (id, user_id, topic, stage, result, cost_usd, tokens_used, processing_ms)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  stage = EXCLUDED.stage,
  result = EXCLUDED.result,
  cost_usd = EXCLUDED.cost_usd,
  tokens_used = EXCLUDED.tokens_used,
  processing_ms = EXCLUDED.processing_ms`,
		result.ID, userID, result.Topic, string(result.Stage), doc,
		result.CostEstimate, result.TokensUsed, result.ProcessingTime.Milliseconds())
	return err
}

// GetResult loads an archived run owned by the given user.
func (s *Store) GetResult(ctx context.Context, id, userID string) (research.Result, bool, error) {
	var doc []byte
	err := s.DB.QueryRowContext(ctx, `SELECT result FROM research_runs WHERE id=$1 AND user_id=$2`, id, userID).Scan(&doc)
	if err == sql.ErrNoRows {
		return research.Result{}, false, nil
	}
	if err != nil {
		return research.Result{}, false, err
	}
	var result research.Result
	if err := json.Unmarshal(doc, &result); err != nil {
		return research.Result{}, false, fmt.Errorf("decode result %s: %w", id, err)
	}
	return result, true, nil
}

// ListRuns returns the user's archived runs, newest first.
func (s *Store) ListRuns(ctx context.Context, userID string) ([]RunSummary, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, topic, stage, cost_usd, created_at FROM research_runs
WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Topic, &r.Stage, &r.Cost, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRun removes an archived run owned by the given user.
func (s *Store) DeleteRun(ctx context.Context, id, userID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM research_runs WHERE id=$1 AND user_id=$2`, id, userID)
	return err
}

// Chat transcript operations

// ArchiveTurn appends a chat turn to a run's stored transcript.
func (s *Store) ArchiveTurn(ctx context.Context, sessionID, runID string, turn research.Turn) error {
	suggestions, err := json.Marshal(turn.Suggestions)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO chat_turns (id, session_id, run_id, message, intent, answer, suggestions, source_badge, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		turn.ID, sessionID, runID, turn.Message, string(turn.Intent), turn.Answer,
		suggestions, string(turn.SourceBadge), turn.CreatedAt)
	return err
}

// ListTurns returns a session's archived transcript in arrival order.
func (s *Store) ListTurns(ctx context.Context, sessionID string) ([]research.Turn, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, message, intent, answer, suggestions, source_badge, created_at
FROM chat_turns WHERE session_id=$1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []research.Turn
	for rows.Next() {
		var t research.Turn
		var intent, badge string
		var suggestions []byte
		if err := rows.Scan(&t.ID, &t.Message, &intent, &t.Answer, &suggestions, &badge, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Intent = research.Intent(intent)
		t.SourceBadge = research.SourceBadge(badge)
		if err := json.Unmarshal(suggestions, &t.Suggestions); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
