package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// FactType classifies a semantic memory.
type FactType string

const (
	FactMarketKnowledge FactType = "market_knowledge"
	FactStrategyRule    FactType = "strategy_rule"
	FactRiskPrinciple   FactType = "risk_principle"
	FactUserInsight     FactType = "user_insight"
)

// Valid reports whether f is a known fact type.
func (f FactType) Valid() bool {
	switch f {
	case FactMarketKnowledge, FactStrategyRule, FactRiskPrinciple, FactUserInsight:
		return true
	}
	return false
}

// SemanticMemory represents a durable fact or insight with its embedding.
type SemanticMemory struct {
	ID              string
	FactType        FactType
	Content         string
	Embedding       []float32 // length equals the configured embedding dimension
	Confidence      float64   // 0-1
	Source          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Tags            []string
	RelatedEntities []string // e.g. ticker symbols
}

// FindSemanticMemory specifies the conditions for finding semantic memories.
// Tags and RelatedEntities match when any element overlaps.
type FindSemanticMemory struct {
	ID              *string
	FactType        *FactType
	ContentContains *string
	Tags            []string
	RelatedEntities []string
	MinConfidence   *float64
	UpdatedBefore   *time.Time
	Limit           int
	Offset          int
}

// SemanticMatch is a similarity search hit.
type SemanticMatch struct {
	Memory     *SemanticMemory
	Similarity float64 // 1 - cosine distance
}

// SimilaritySearch represents the options for a vector similarity search.
type SimilaritySearch struct {
	Embedding []float32
	Threshold float64
	Limit     int
}

// EmbeddingUpdate replaces the embedding of one semantic memory.
type EmbeddingUpdate struct {
	ID        string
	Embedding []float32
	UpdatedAt time.Time
}

func validateConfidence(c float64) error {
	if math.IsNaN(c) || c < 0 || c > 1 {
		return ValidationError(fmt.Sprintf("confidence must be within [0, 1], got %v", c))
	}
	return nil
}

func (s *Store) validateEmbedding(embedding []float32) error {
	if len(embedding) != s.dimension {
		return ValidationError(fmt.Sprintf("embedding has %d dimensions, expected %d", len(embedding), s.dimension))
	}
	return nil
}

func (s *Store) validateSemantic(m *SemanticMemory) error {
	if m == nil {
		return ValidationError("semantic memory cannot be nil")
	}
	if !m.FactType.Valid() {
		return ValidationError("invalid fact_type: " + string(m.FactType))
	}
	if m.Content == "" {
		return ValidationError("semantic memory content is required")
	}
	if err := validateConfidence(m.Confidence); err != nil {
		return err
	}
	return s.validateEmbedding(m.Embedding)
}

func (m *SemanticMemory) prepare(now time.Time) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now = normalizeTime(now)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.CreatedAt = normalizeTime(m.CreatedAt)
	m.UpdatedAt = now
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if m.RelatedEntities == nil {
		m.RelatedEntities = []string{}
	}
}

// StoreSemanticMemory upserts a semantic memory by id. On conflict the content,
// embedding, confidence, tags, related entities and update time are replaced; the
// fact type, source and creation time of the existing row are kept.
func (s *Store) StoreSemanticMemory(ctx context.Context, upsert *SemanticMemory) (result *SemanticMemory, err error) {
	defer s.observe(ctx, "semantic.store", time.Now(), &err)
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := s.validateSemantic(upsert); err != nil {
		return nil, err
	}
	upsert.prepare(s.now())
	return s.driver.UpsertSemanticMemory(ctx, upsert)
}

// GetSemanticMemory returns the semantic memory with id, or a NotFound error.
func (s *Store) GetSemanticMemory(ctx context.Context, id string) (*SemanticMemory, error) {
	list, err := s.RetrieveSemanticMemories(ctx, &FindSemanticMemory{ID: &id, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, NotFound("semantic_memory", id)
	}
	return list[0], nil
}

// RetrieveSemanticMemories lists semantic memories by confidence, then recency.
func (s *Store) RetrieveSemanticMemories(ctx context.Context, find *FindSemanticMemory) (list []*SemanticMemory, err error) {
	defer s.observe(ctx, "semantic.retrieve", time.Now(), &err)
	if err := s.ready(); err != nil {
		return nil, err
	}
	if find == nil {
		find = &FindSemanticMemory{}
	}
	if err := validatePage(find.Limit, find.Offset); err != nil {
		return nil, err
	}
	if find.FactType != nil && !find.FactType.Valid() {
		return nil, ValidationError("invalid fact_type: " + string(*find.FactType))
	}
	return s.driver.ListSemanticMemories(ctx, find)
}

// SearchSimilarity returns up to limit semantic memories whose cosine similarity to
// embedding is at least threshold, most similar first. No hit is not an error.
func (s *Store) SearchSimilarity(ctx context.Context, embedding []float32, threshold float64, limit int) (matches []*SemanticMatch, err error) {
	defer s.observe(ctx, "semantic.search_similarity", time.Now(), &err)
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := s.validateEmbedding(embedding); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, ValidationError("limit must be positive")
	}
	if math.IsNaN(threshold) {
		return nil, ValidationError("threshold cannot be NaN")
	}
	return s.driver.SearchSemanticMemories(ctx, &SimilaritySearch{
		Embedding: embedding,
		Threshold: threshold,
		Limit:     limit,
	})
}

// BatchUpdateEmbeddings replaces embeddings in one transaction, typically after a
// re-embedding pass. Any failure rolls back every update.
func (s *Store) BatchUpdateEmbeddings(ctx context.Context, updates []*EmbeddingUpdate) (err error) {
	defer s.observe(ctx, "semantic.batch_update_embeddings", time.Now(), &err)
	if err := s.ready(); err != nil {
		return err
	}
	now := normalizeTime(s.now())
	for i, u := range updates {
		if u == nil || u.ID == "" {
			return BatchError(i, ValidationError("embedding update requires an id"))
		}
		if err := s.validateEmbedding(u.Embedding); err != nil {
			return BatchError(i, err)
		}
		u.UpdatedAt = now
	}
	if len(updates) == 0 {
		return nil
	}
	return s.driver.UpdateSemanticEmbeddings(ctx, updates)
}
