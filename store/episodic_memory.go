package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InteractionType classifies an episodic memory.
type InteractionType string

const (
	InteractionAnalysisRequest   InteractionType = "analysis_request"
	InteractionStrategyExecution InteractionType = "strategy_execution"
	InteractionRiskAssessment    InteractionType = "risk_assessment"
	InteractionUserFeedback      InteractionType = "user_feedback"
)

// Valid reports whether t is a known interaction type.
func (t InteractionType) Valid() bool {
	switch t {
	case InteractionAnalysisRequest, InteractionStrategyExecution, InteractionRiskAssessment, InteractionUserFeedback:
		return true
	}
	return false
}

// EpisodicMetadata is the structured metadata attached to an interaction.
// Numbers inside MarketConditions are read back as json.Number.
type EpisodicMetadata struct {
	ConfidenceScore  float64        `json:"confidence_score"`
	ExecutionTimeMs  int64          `json:"execution_time_ms"`
	MarketConditions map[string]any `json:"market_conditions,omitempty"`
}

// EpisodicMemory represents one agent interaction. It is immutable once stored.
// Context is stored as JSONB; numbers in it are read back as json.Number.
type EpisodicMemory struct {
	ID              string
	SessionID       string
	UserID          string
	AgentID         string
	Timestamp       time.Time
	InteractionType InteractionType
	Context         map[string]any
	Input           string
	Output          string
	Metadata        EpisodicMetadata
}

// FindEpisodicMemory specifies the conditions for finding episodic memories.
// All filters are optional and combined with AND. A zero Limit returns every match.
type FindEpisodicMemory struct {
	ID              *string
	SessionID       *string
	UserID          *string
	AgentID         *string
	InteractionType *InteractionType
	StartTime       *time.Time
	EndTime         *time.Time
	Limit           int
	Offset          int
}

// DeleteEpisodicMemory specifies the conditions for deleting episodic memories.
type DeleteEpisodicMemory struct {
	ID        *string
	SessionID *string
}

func (m *EpisodicMemory) validate() error {
	if m == nil {
		return ValidationError("episodic memory cannot be nil")
	}
	switch {
	case m.SessionID == "":
		return ValidationError("episodic memory session_id is required")
	case m.UserID == "":
		return ValidationError("episodic memory user_id is required")
	case m.AgentID == "":
		return ValidationError("episodic memory agent_id is required")
	case m.Input == "":
		return ValidationError("episodic memory input is required")
	case m.Output == "":
		return ValidationError("episodic memory output is required")
	}
	if !m.InteractionType.Valid() {
		return ValidationError("invalid interaction_type: " + string(m.InteractionType))
	}
	return nil
}

// prepare fills generated fields. It must run after validate.
func (m *EpisodicMemory) prepare(now time.Time) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	m.Timestamp = normalizeTime(m.Timestamp)
	if m.Context == nil {
		m.Context = map[string]any{}
	}
}

// StoreEpisodicMemory inserts a single episodic memory.
func (s *Store) StoreEpisodicMemory(ctx context.Context, create *EpisodicMemory) (result *EpisodicMemory, err error) {
	defer s.observe(ctx, "episodic.store", time.Now(), &err)
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := create.validate(); err != nil {
		return nil, err
	}
	create.prepare(s.now())
	return s.driver.CreateEpisodicMemory(ctx, create)
}

// RetrieveEpisodicMemories lists episodic memories newest first.
func (s *Store) RetrieveEpisodicMemories(ctx context.Context, find *FindEpisodicMemory) (list []*EpisodicMemory, err error) {
	defer s.observe(ctx, "episodic.retrieve", time.Now(), &err)
	if err := s.ready(); err != nil {
		return nil, err
	}
	if find == nil {
		find = &FindEpisodicMemory{}
	}
	if err := validatePage(find.Limit, find.Offset); err != nil {
		return nil, err
	}
	return s.driver.ListEpisodicMemories(ctx, find)
}

// BatchStoreEpisodicMemories inserts all memories in one transaction.
// Either every row is persisted or none is.
func (s *Store) BatchStoreEpisodicMemories(ctx context.Context, creates []*EpisodicMemory) (err error) {
	defer s.observe(ctx, "episodic.batch_store", time.Now(), &err)
	if err := s.ready(); err != nil {
		return err
	}
	ops := make([]*BatchOperation, 0, len(creates))
	for _, m := range creates {
		ops = append(ops, &BatchOperation{Episodic: m})
	}
	_, err = s.executeBatch(ctx, ops)
	return err
}

// DeleteEpisodicMemory deletes episodic memories by id or session.
func (s *Store) DeleteEpisodicMemory(ctx context.Context, delete *DeleteEpisodicMemory) (deleted int64, err error) {
	defer s.observe(ctx, "episodic.delete", time.Now(), &err)
	if err := s.ready(); err != nil {
		return 0, err
	}
	if delete == nil || (delete.ID == nil && delete.SessionID == nil) {
		return 0, ValidationError("no condition to delete episodic_memory")
	}
	return s.driver.DeleteEpisodicMemory(ctx, delete)
}

func validatePage(limit, offset int) error {
	if limit < 0 {
		return ValidationError("limit cannot be negative")
	}
	if offset < 0 {
		return ValidationError("offset cannot be negative")
	}
	return nil
}

// normalizeTime truncates to the precision Postgres stores and drops the location.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
