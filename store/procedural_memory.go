package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PatternType classifies a procedural memory.
type PatternType string

const (
	PatternTradingPreference      PatternType = "trading_preference"
	PatternRiskTolerance          PatternType = "risk_tolerance"
	PatternAnalysisStyle          PatternType = "analysis_style"
	PatternNotificationPreference PatternType = "notification_preference"
)

// Valid reports whether p is a known pattern type.
func (p PatternType) Valid() bool {
	switch p {
	case PatternTradingPreference, PatternRiskTolerance, PatternAnalysisStyle, PatternNotificationPreference:
		return true
	}
	return false
}

// ProceduralMemory is a learned behavioral pattern of a user.
type ProceduralMemory struct {
	ID          string
	UserID      string
	PatternType PatternType
	Pattern     map[string]any // JSONB; numbers are read back as json.Number
	Frequency   int64
	Confidence  float64
	LastUsed    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FindProceduralMemory specifies the conditions for finding procedural memories.
type FindProceduralMemory struct {
	ID            *string
	UserID        *string
	PatternType   *PatternType
	MinFrequency  *int64
	MinConfidence *float64
	Limit         int
	Offset        int
}

func (m *ProceduralMemory) validate() error {
	if m == nil {
		return ValidationError("procedural memory cannot be nil")
	}
	if m.UserID == "" {
		return ValidationError("procedural memory user_id is required")
	}
	if !m.PatternType.Valid() {
		return ValidationError("invalid pattern_type: " + string(m.PatternType))
	}
	if m.Frequency < 0 {
		return ValidationError("frequency cannot be negative")
	}
	return validateConfidence(m.Confidence)
}

func (m *ProceduralMemory) prepare(now time.Time) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now = normalizeTime(now)
	if m.Frequency == 0 {
		m.Frequency = 1
	}
	if m.LastUsed.IsZero() {
		m.LastUsed = now
	}
	m.LastUsed = normalizeTime(m.LastUsed)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.CreatedAt = normalizeTime(m.CreatedAt)
	m.UpdatedAt = now
	if m.Pattern == nil {
		m.Pattern = map[string]any{}
	}
}

// StoreProceduralMemory upserts a procedural memory by id. An existing row keeps its
// frequency; use IncrementFrequency to reinforce a pattern.
func (s *Store) StoreProceduralMemory(ctx context.Context, upsert *ProceduralMemory) (result *ProceduralMemory, err error) {
	defer s.observe(ctx, "procedural.store", time.Now(), &err)
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := upsert.validate(); err != nil {
		return nil, err
	}
	upsert.prepare(s.now())
	return s.driver.UpsertProceduralMemory(ctx, upsert)
}

// GetProceduralMemory returns the procedural memory with id, or a NotFound error.
func (s *Store) GetProceduralMemory(ctx context.Context, id string) (*ProceduralMemory, error) {
	list, err := s.RetrieveProceduralMemories(ctx, &FindProceduralMemory{ID: &id, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, NotFound("procedural_memory", id)
	}
	return list[0], nil
}

// RetrieveProceduralMemories lists procedural memories by frequency, confidence,
// then last use.
func (s *Store) RetrieveProceduralMemories(ctx context.Context, find *FindProceduralMemory) (list []*ProceduralMemory, err error) {
	defer s.observe(ctx, "procedural.retrieve", time.Now(), &err)
	if err := s.ready(); err != nil {
		return nil, err
	}
	if find == nil {
		find = &FindProceduralMemory{}
	}
	if err := validatePage(find.Limit, find.Offset); err != nil {
		return nil, err
	}
	if find.PatternType != nil && !find.PatternType.Valid() {
		return nil, ValidationError("invalid pattern_type: " + string(*find.PatternType))
	}
	return s.driver.ListProceduralMemories(ctx, find)
}

// IncrementFrequency atomically adds one to the frequency of a pattern and marks it
// used now. Concurrent callers never lose an increment.
func (s *Store) IncrementFrequency(ctx context.Context, id string) (result *ProceduralMemory, err error) {
	defer s.observe(ctx, "procedural.increment_frequency", time.Now(), &err)
	if err := s.ready(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ValidationError("procedural memory id is required")
	}
	return s.driver.IncrementProceduralFrequency(ctx, id, normalizeTime(s.now()))
}
