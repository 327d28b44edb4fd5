package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ContextType classifies a working memory entry.
type ContextType string

const (
	ContextActiveAnalysis    ContextType = "active_analysis"
	ContextPendingDecision   ContextType = "pending_decision"
	ContextRecentInteraction ContextType = "recent_interaction"
)

// Valid reports whether c is a known context type.
func (c ContextType) Valid() bool {
	switch c {
	case ContextActiveAnalysis, ContextPendingDecision, ContextRecentInteraction:
		return true
	}
	return false
}

// WorkingMemory is transient per-session context. It is visible only while
// ExpiresAt is in the future.
type WorkingMemory struct {
	ID          string
	SessionID   string
	AgentID     string
	ContextType ContextType
	Data        map[string]any // JSONB; numbers are read back as json.Number
	Priority    int
	ExpiresAt   time.Time // derived from the TTL at write time
	CreatedAt   time.Time
}

// FindWorkingMemory specifies the conditions for finding active working memories.
type FindWorkingMemory struct {
	SessionID string
	Now       time.Time
}

func (m *WorkingMemory) validate(ttl time.Duration) error {
	if m == nil {
		return ValidationError("working memory cannot be nil")
	}
	if m.SessionID == "" {
		return ValidationError("working memory session_id is required")
	}
	if m.AgentID == "" {
		return ValidationError("working memory agent_id is required")
	}
	if !m.ContextType.Valid() {
		return ValidationError("invalid context_type: " + string(m.ContextType))
	}
	if ttl <= 0 {
		return ValidationError("working memory ttl must be positive")
	}
	return nil
}

func (m *WorkingMemory) prepare(now time.Time, ttl time.Duration) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now = normalizeTime(now)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.CreatedAt = normalizeTime(m.CreatedAt)
	m.ExpiresAt = now.Add(ttl)
	if m.Data == nil {
		m.Data = map[string]any{}
	}
}

// StoreWorkingMemory upserts a working memory that expires ttl from now.
// Storing the same id again refreshes its data, priority and expiry.
func (s *Store) StoreWorkingMemory(ctx context.Context, upsert *WorkingMemory, ttl time.Duration) (result *WorkingMemory, err error) {
	defer s.observe(ctx, "working.store", time.Now(), &err)
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := upsert.validate(ttl); err != nil {
		return nil, err
	}
	upsert.prepare(s.now(), ttl)
	return s.driver.UpsertWorkingMemory(ctx, upsert)
}

// RetrieveWorkingMemories returns the unexpired entries of a session by priority,
// then recency. Expired rows are hidden even before cleanup deletes them.
func (s *Store) RetrieveWorkingMemories(ctx context.Context, sessionID string) (list []*WorkingMemory, err error) {
	defer s.observe(ctx, "working.retrieve", time.Now(), &err)
	if err := s.ready(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, ValidationError("session_id is required")
	}
	return s.driver.ListWorkingMemories(ctx, &FindWorkingMemory{
		SessionID: sessionID,
		Now:       normalizeTime(s.now()),
	})
}

// ExpireSession makes every working memory of the session invisible immediately
// without deleting it. It returns the number of rows expired.
func (s *Store) ExpireSession(ctx context.Context, sessionID string) (expired int64, err error) {
	defer s.observe(ctx, "working.expire_session", time.Now(), &err)
	if err := s.ready(); err != nil {
		return 0, err
	}
	if sessionID == "" {
		return 0, ValidationError("session_id is required")
	}
	return s.driver.ExpireWorkingMemories(ctx, sessionID, normalizeTime(s.now()))
}
