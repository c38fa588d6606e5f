package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/afsalb/deep-researcher/config"
)

// Store manages session lifecycle. Implementations differ in where metadata
// outlives the process; the BM25 index is always held in memory.
type Store interface {
	// Create allocates a new session for the given user.
	Create(ctx context.Context, userID string) (*Session, error)
	// Get fetches a live session, refreshing its TTL.
	Get(ctx context.Context, id string) (*Session, error)
	// Save persists session state after a mutation. A no-op for purely
	// in-memory stores.
	Save(ctx context.Context, s *Session) error
	// Delete removes a session.
	Delete(ctx context.Context, id string) error
	// Sweep removes expired sessions and returns their IDs.
	Sweep(ctx context.Context) ([]string, error)
}

// NewStore builds the store named by the config.
func NewStore(cfg config.StorageConfig, ttl time.Duration) (Store, error) {
	switch cfg.SessionStore {
	case "", "inmemory":
		return NewInMemoryStore(ttl), nil
	case "redis":
		return NewRedisStore(cfg.Redis, ttl)
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.SessionStore)
	}
}

// InMemoryStore keeps sessions in a map. State is lost on restart.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	logger   *log.Logger
}

func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		logger:   log.New(log.Writer(), "[SESSION] ", log.LstdFlags),
	}
}

func (m *InMemoryStore) Create(ctx context.Context, userID string) (*Session, error) {
	s, err := New(uuid.NewString(), userID, m.ttl)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

func (m *InMemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if s.Expired(time.Now()) {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		_ = s.Close()
		return nil, ErrNotFound
	}
	s.Expire(m.ttl)
	return s, nil
}

func (m *InMemoryStore) Save(ctx context.Context, s *Session) error { return nil }

func (m *InMemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		_ = s.Close()
	}
	return nil
}

func (m *InMemoryStore) Sweep(ctx context.Context) ([]string, error) {
	now := time.Now()
	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		if s.Expired(now) {
			expired = append(expired, id)
			delete(m.sessions, id)
			_ = s.Close()
		}
	}
	m.mu.Unlock()
	if len(expired) > 0 {
		m.logger.Printf("swept %d expired sessions", len(expired))
	}
	return expired, nil
}

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = fmt.Errorf("session not found")
