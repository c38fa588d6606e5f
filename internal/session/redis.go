package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/afsalb/deep-researcher/config"
	"github.com/afsalb/deep-researcher/internal/research"
)

// RedisStore persists session state in redis so it survives restarts. The
// BM25 index cannot be serialized, so live sessions are cached in memory and
// rebuilt from their stored chunks after a restart.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger

	mu   sync.RWMutex
	live map[string]*Session
}

type sessionMeta struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type sessionState struct {
	Meta    sessionMeta       `json:"meta"`
	Result  *research.Result  `json:"result,omitempty"`
	Extra   research.Analysis `json:"extra"`
	History []research.Turn   `json:"history"`
	Chunks  []DocChunk        `json:"chunks"`
}

func NewRedisStore(cfg config.RedisConfig, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: log.New(log.Writer(), "[SESSION] ", log.LstdFlags),
		live:   make(map[string]*Session),
	}, nil
}

func sessionKey(id string) string { return "deepresearcher:session:" + id }

func (r *RedisStore) Create(ctx context.Context, userID string) (*Session, error) {
	s, err := New(uuid.NewString(), userID, r.ttl)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.live[s.ID()] = s
	r.mu.Unlock()
	if err := r.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.live[id]
	r.mu.RUnlock()
	if ok {
		s.Expire(r.ttl)
		r.client.Expire(ctx, sessionKey(id), r.ttl)
		return s, nil
	}
	return r.rehydrate(ctx, id)
}

// rehydrate rebuilds a session object, including its index, from redis.
func (r *RedisStore) rehydrate(ctx context.Context, id string) (*Session, error) {
	raw, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var state sessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}

	s, err := New(id, state.Meta.UserID, r.ttl)
	if err != nil {
		return nil, err
	}
	s.createdAt = state.Meta.CreatedAt
	s.mu.Lock()
	s.result = state.Result
	s.extra = state.Extra
	s.history = state.History
	for _, c := range state.Chunks {
		s.meta[c.DocID] = c
		if err := s.index.Index(c.DocID, c); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	s.mu.Unlock()

	r.mu.Lock()
	r.live[id] = s
	r.mu.Unlock()
	r.logger.Printf("rehydrated session %s (%d chunks, %d turns)", id, len(state.Chunks), len(state.History))
	return s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	state := sessionState{
		Meta:    sessionMeta{UserID: s.UserID(), CreatedAt: s.CreatedAt()},
		History: s.History(),
		Chunks:  s.Chunks(),
	}
	if result, ok := s.Result(); ok {
		state.Result = &result
	}
	s.mu.RLock()
	state.Extra = s.extra
	s.mu.RUnlock()

	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, sessionKey(s.ID()), raw, r.ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.live[id]
	delete(r.live, id)
	r.mu.Unlock()
	if ok {
		_ = s.Close()
	}
	return r.client.Del(ctx, sessionKey(id)).Err()
}

// Sweep drops live sessions whose redis key has lapsed. Redis expires the
// persisted state itself.
func (r *RedisStore) Sweep(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.live))
	for id := range r.live {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var expired []string
	for _, id := range ids {
		n, err := r.client.Exists(ctx, sessionKey(id)).Result()
		if err != nil {
			return expired, fmt.Errorf("redis exists: %w", err)
		}
		if n == 0 {
			r.mu.Lock()
			if s, ok := r.live[id]; ok {
				delete(r.live, id)
				_ = s.Close()
			}
			r.mu.Unlock()
			expired = append(expired, id)
		}
	}
	if len(expired) > 0 {
		r.logger.Printf("swept %d expired sessions", len(expired))
	}
	return expired, nil
}
