package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/agentmemory/internal/metrics"
	"github.com/hrygo/agentmemory/internal/profile"
)

const testDimension = 4

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *MockDriver, *fakeClock) {
	t.Helper()
	driver := NewMockDriver()
	clock := newFakeClock()
	prof := &profile.Profile{EmbeddingDimension: testDimension}
	s := New(driver, prof, append([]Option{WithClock(clock.Now)}, opts...)...)
	require.NoError(t, s.Init(context.Background()))
	return s, driver, clock
}

func vec(values ...float32) []float32 {
	return values
}

func newEpisodic(session string) *EpisodicMemory {
	return &EpisodicMemory{
		SessionID:       session,
		UserID:          "u1",
		AgentID:         "analyst",
		InteractionType: InteractionAnalysisRequest,
		Input:           "analyze AAPL",
		Output:          "bullish",
		Metadata:        EpisodicMetadata{ConfidenceScore: 0.8, ExecutionTimeMs: 120},
	}
}

func TestOperationsBeforeInit(t *testing.T) {
	ctx := context.Background()
	s := New(NewMockDriver(), &profile.Profile{EmbeddingDimension: testDimension})

	_, err := s.StoreEpisodicMemory(ctx, newEpisodic("s1"))
	assert.True(t, IsCode(err, ErrCodeNotInitialized))
	_, err = s.RetrieveWorkingMemories(ctx, "s1")
	assert.True(t, IsCode(err, ErrCodeNotInitialized))
	_, err = s.ExecuteBatch(ctx, nil)
	assert.True(t, IsCode(err, ErrCodeNotInitialized))
	_, err = s.RunCleanup(ctx)
	assert.True(t, IsCode(err, ErrCodeNotInitialized))
	_, err = s.GetStatistics(ctx)
	assert.True(t, IsCode(err, ErrCodeNotInitialized))

	require.NoError(t, s.Init(ctx))
	assert.True(t, s.IsInitialized())
	require.NoError(t, s.Close())
	_, err = s.StoreEpisodicMemory(ctx, newEpisodic("s1"))
	assert.True(t, IsCode(err, ErrCodeNotInitialized))
}

func TestInitRendersSchemaWithDimension(t *testing.T) {
	_, driver, _ := newTestStore(t)

	applied := driver.AppliedSchemas()
	require.Len(t, applied, 1)
	statements := applied[0]
	require.NotEmpty(t, statements)
	assert.Equal(t, "CREATE EXTENSION IF NOT EXISTS vector;", statements[0])

	var sawVector, sawHNSW bool
	for _, stmt := range statements {
		assert.NotContains(t, stmt, "{{")
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS semantic_memory") && strings.Contains(stmt, "vector(4)") {
			sawVector = true
		}
		if strings.Contains(stmt, "USING hnsw") && strings.Contains(stmt, "vector_cosine_ops") {
			sawHNSW = true
		}
	}
	assert.True(t, sawVector, "semantic_memory should declare vector(4)")
	assert.True(t, sawHNSW, "embedding index should use hnsw cosine ops")
}

func TestInitFailsOnMissingTable(t *testing.T) {
	driver := NewMockDriver()
	driver.SkipTables = []string{"working_memory"}
	s := New(driver, &profile.Profile{EmbeddingDimension: testDimension})

	err := s.Init(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeSchema))
	assert.Contains(t, err.Error(), "working_memory")
	assert.False(t, s.IsInitialized())
}

func TestInitFailsOnApplyError(t *testing.T) {
	driver := NewMockDriver()
	driver.SetFail("ApplySchema", errors.New("permission denied to create extension"))
	s := New(driver, nil)

	err := s.Init(context.Background())
	assert.True(t, IsCode(err, ErrCodeSchema))
	assert.Equal(t, profile.DefaultEmbeddingDimension, s.Dimension())
}

func TestEpisodicValidation(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	tests := []struct {
		name   string
		mutate func(m *EpisodicMemory)
	}{
		{"missing session", func(m *EpisodicMemory) { m.SessionID = "" }},
		{"missing user", func(m *EpisodicMemory) { m.UserID = "" }},
		{"missing agent", func(m *EpisodicMemory) { m.AgentID = "" }},
		{"missing input", func(m *EpisodicMemory) { m.Input = "" }},
		{"missing output", func(m *EpisodicMemory) { m.Output = "" }},
		{"unknown interaction type", func(m *EpisodicMemory) { m.InteractionType = "chit_chat" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newEpisodic("s1")
			tt.mutate(m)
			_, err := s.StoreEpisodicMemory(ctx, m)
			assert.True(t, IsCode(err, ErrCodeValidation), "got %v", err)
		})
	}

	_, err := s.RetrieveEpisodicMemories(ctx, &FindEpisodicMemory{Limit: -1})
	assert.True(t, IsCode(err, ErrCodeValidation))
	_, err = s.DeleteEpisodicMemory(ctx, &DeleteEpisodicMemory{})
	assert.True(t, IsCode(err, ErrCodeValidation))
}

func TestEpisodicNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newTestStore(t)

	var ids []string
	for range 3 {
		m, err := s.StoreEpisodicMemory(ctx, newEpisodic("S1"))
		require.NoError(t, err)
		require.NotEmpty(t, m.ID)
		ids = append(ids, m.ID)
		clock.Advance(time.Minute)
	}
	_, err := s.StoreEpisodicMemory(ctx, newEpisodic("S2"))
	require.NoError(t, err)

	session := "S1"
	list, err := s.RetrieveEpisodicMemories(ctx, &FindEpisodicMemory{SessionID: &session, Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[1], list[1].ID)

	deleted, err := s.DeleteEpisodicMemory(ctx, &DeleteEpisodicMemory{SessionID: &session})
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
}

func TestSemanticDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	_, err := s.StoreSemanticMemory(ctx, &SemanticMemory{
		FactType:   FactMarketKnowledge,
		Content:    "rates up",
		Embedding:  vec(1, 0, 0),
		Confidence: 0.5,
	})
	assert.True(t, IsCode(err, ErrCodeValidation))

	_, err = s.SearchSimilarity(ctx, vec(1, 0, 0, 0, 0), 0.5, 10)
	assert.True(t, IsCode(err, ErrCodeValidation))

	_, err = s.StoreSemanticMemory(ctx, &SemanticMemory{
		FactType:   FactMarketKnowledge,
		Content:    "rates up",
		Embedding:  vec(1, 0, 0, 0),
		Confidence: 1.2,
	})
	assert.True(t, IsCode(err, ErrCodeValidation))
}

func TestSemanticUpsertKeepsIdentityFields(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newTestStore(t)

	first, err := s.StoreSemanticMemory(ctx, &SemanticMemory{
		ID:         "fact-1",
		FactType:   FactStrategyRule,
		Content:    "buy the dip",
		Embedding:  vec(1, 0, 0, 0),
		Confidence: 0.6,
		Source:     "backtest",
		Tags:       []string{"momentum"},
	})
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = s.StoreSemanticMemory(ctx, &SemanticMemory{
		ID:         "fact-1",
		FactType:   FactRiskPrinciple,
		Content:    "never buy the dip",
		Embedding:  vec(0, 1, 0, 0),
		Confidence: 0.9,
		Source:     "user",
	})
	require.NoError(t, err)

	got, err := s.GetSemanticMemory(ctx, "fact-1")
	require.NoError(t, err)
	assert.Equal(t, "never buy the dip", got.Content)
	assert.Equal(t, 0.9, got.Confidence)
	assert.Equal(t, FactStrategyRule, got.FactType)
	assert.Equal(t, "backtest", got.Source)
	assert.Equal(t, first.CreatedAt, got.CreatedAt)
	assert.Equal(t, clock.Now(), got.UpdatedAt)

	_, err = s.GetSemanticMemory(ctx, "missing")
	assert.True(t, IsCode(err, ErrCodeNotFound))
}

func TestSearchSimilarityThresholdAndOrder(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	for id, e := range map[string][]float32{
		"exact":      vec(1, 0, 0, 0),
		"close":      vec(1, 0.2, 0, 0),
		"orthogonal": vec(0, 1, 0, 0),
	} {
		_, err := s.StoreSemanticMemory(ctx, &SemanticMemory{ID: id, FactType: FactMarketKnowledge, Content: id, Embedding: e, Confidence: 0.5})
		require.NoError(t, err)
	}

	matches, err := s.SearchSimilarity(ctx, vec(1, 0, 0, 0), 0.9, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "exact", matches[0].Memory.ID)
	assert.Equal(t, "close", matches[1].Memory.ID)
	assert.GreaterOrEqual(t, matches[0].Similarity, matches[1].Similarity)

	none, err := s.SearchSimilarity(ctx, vec(0, 0, 0, 1), 0.99, 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.SearchSimilarity(ctx, vec(1, 0, 0, 0), 0.5, 0)
	assert.True(t, IsCode(err, ErrCodeValidation))
}

func TestBatchUpdateEmbeddings(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newTestStore(t)

	_, err := s.StoreSemanticMemory(ctx, &SemanticMemory{ID: "f", FactType: FactUserInsight, Content: "x", Embedding: vec(1, 0, 0, 0), Confidence: 0.4})
	require.NoError(t, err)

	err = s.BatchUpdateEmbeddings(ctx, []*EmbeddingUpdate{
		{ID: "f", Embedding: vec(0, 1, 0, 0)},
		{ID: "f", Embedding: vec(0, 1)},
	})
	require.True(t, IsCode(err, ErrCodeBatch))
	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, 1, storeErr.Context["index"])

	clock.Advance(time.Minute)
	require.NoError(t, s.BatchUpdateEmbeddings(ctx, []*EmbeddingUpdate{{ID: "f", Embedding: vec(0, 1, 0, 0)}}))
	got, err := s.GetSemanticMemory(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, vec(0, 1, 0, 0), got.Embedding)
	assert.Equal(t, clock.Now(), got.UpdatedAt)
}

func TestWorkingMemoryTTLVisibility(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newTestStore(t)

	_, err := s.StoreWorkingMemory(ctx, &WorkingMemory{SessionID: "s1", AgentID: "a", ContextType: ContextActiveAnalysis, Priority: 1}, 0)
	assert.True(t, IsCode(err, ErrCodeValidation))

	low, err := s.StoreWorkingMemory(ctx, &WorkingMemory{SessionID: "s1", AgentID: "a", ContextType: ContextActiveAnalysis, Priority: 1}, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(100*time.Millisecond), low.ExpiresAt)
	high, err := s.StoreWorkingMemory(ctx, &WorkingMemory{SessionID: "s1", AgentID: "a", ContextType: ContextPendingDecision, Priority: 5}, time.Hour)
	require.NoError(t, err)

	list, err := s.RetrieveWorkingMemories(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, high.ID, list[0].ID)

	clock.Advance(200 * time.Millisecond)
	list, err = s.RetrieveWorkingMemories(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, high.ID, list[0].ID)

	expired, err := s.ExpireSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)
	list, err = s.RetrieveWorkingMemories(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, list)

	stats, err := s.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.WorkingActive)
	assert.Equal(t, int64(2), stats.WorkingExpired)
}

func TestIncrementFrequency(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	p, err := s.StoreProceduralMemory(ctx, &ProceduralMemory{UserID: "u1", PatternType: PatternRiskTolerance, Confidence: 0.7})
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Frequency)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementFrequency(ctx, p.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetProceduralMemory(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(21), got.Frequency)

	// Re-storing keeps the accumulated frequency.
	p.Confidence = 0.9
	_, err = s.StoreProceduralMemory(ctx, p)
	require.NoError(t, err)
	got, err = s.GetProceduralMemory(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(21), got.Frequency)
	assert.Equal(t, 0.9, got.Confidence)

	_, err = s.IncrementFrequency(ctx, "missing")
	assert.True(t, IsCode(err, ErrCodeNotFound))
}

func TestExecuteBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	bad := newEpisodic("s1")
	bad.Input = ""
	_, err := s.ExecuteBatch(ctx, []*BatchOperation{
		{Episodic: newEpisodic("s1")},
		{Episodic: newEpisodic("s1")},
		{Episodic: bad},
		{Episodic: newEpisodic("s1")},
		{Episodic: newEpisodic("s1")},
	})
	require.True(t, IsCode(err, ErrCodeBatch))
	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, 2, storeErr.Context["index"])

	list, err := s.RetrieveEpisodicMemories(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, list)

	result, err := s.ExecuteBatch(ctx, []*BatchOperation{
		{Episodic: newEpisodic("s1")},
		{Semantic: &SemanticMemory{FactType: FactMarketKnowledge, Content: "c", Embedding: vec(1, 1, 1, 1), Confidence: 0.5}},
		{Working: &WorkingMemory{SessionID: "s1", AgentID: "a", ContextType: ContextRecentInteraction}, WorkingTTL: time.Minute},
		{Procedural: &ProceduralMemory{UserID: "u1", PatternType: PatternAnalysisStyle, Confidence: 0.3}},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Successful)

	_, err = s.ExecuteBatch(ctx, []*BatchOperation{{}})
	assert.True(t, IsCode(err, ErrCodeBatch))
	_, err = s.ExecuteBatch(ctx, []*BatchOperation{{Working: &WorkingMemory{SessionID: "s1", AgentID: "a", ContextType: ContextRecentInteraction}}})
	assert.True(t, IsCode(err, ErrCodeBatch))
}

func TestBatchStoreEpisodicRollsBackOnDriverFailure(t *testing.T) {
	ctx := context.Background()
	s, driver, _ := newTestStore(t)

	driver.SetFail("ExecuteBatch", errors.New("deadlock detected"))
	err := s.BatchStoreEpisodicMemories(ctx, []*EpisodicMemory{newEpisodic("s1"), newEpisodic("s1")})
	require.True(t, IsCode(err, ErrCodeBatch))

	driver.SetFail("ExecuteBatch", nil)
	list, err := s.RetrieveEpisodicMemories(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, s.BatchStoreEpisodicMemories(ctx, []*EpisodicMemory{newEpisodic("s1"), newEpisodic("s1")}))
	list, err = s.RetrieveEpisodicMemories(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestRunCleanup(t *testing.T) {
	ctx := context.Background()
	s, driver, clock := newTestStore(t)

	old := newEpisodic("s1")
	old.Timestamp = clock.Now().Add(-91 * 24 * time.Hour)
	_, err := s.StoreEpisodicMemory(ctx, old)
	require.NoError(t, err)
	_, err = s.StoreEpisodicMemory(ctx, newEpisodic("s1"))
	require.NoError(t, err)

	_, err = s.StoreSemanticMemory(ctx, &SemanticMemory{FactType: FactUserInsight, Content: "stale", Embedding: vec(1, 0, 0, 0), Confidence: 0.1, CreatedAt: clock.Now().Add(-31 * 24 * time.Hour)})
	require.NoError(t, err)
	_, err = s.StoreSemanticMemory(ctx, &SemanticMemory{FactType: FactUserInsight, Content: "fresh", Embedding: vec(1, 0, 0, 0), Confidence: 0.1})
	require.NoError(t, err)

	_, err = s.StoreWorkingMemory(ctx, &WorkingMemory{SessionID: "s1", AgentID: "a", ContextType: ContextActiveAnalysis}, time.Second)
	require.NoError(t, err)
	clock.Advance(2 * time.Second)

	result, err := s.RunCleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, &CleanupResult{ExpiredWorking: 1, OldEpisodic: 1, LowConfidenceSemantic: 1}, result)
	assert.Equal(t, int64(3), result.Total())

	again, err := s.RunCleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.Total())

	// A failing rule does not stop the others.
	_, err = s.StoreWorkingMemory(ctx, &WorkingMemory{SessionID: "s1", AgentID: "a", ContextType: ContextActiveAnalysis}, time.Second)
	require.NoError(t, err)
	clock.Advance(2 * time.Second)
	driver.SetFail("DeleteEpisodicMemoriesBefore", errors.New("statement timeout"))
	partial, err := s.RunCleanup(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement timeout")
	require.NotNil(t, partial)
	assert.Equal(t, int64(1), partial.ExpiredWorking)
}

func TestCheckHealthNeverErrors(t *testing.T) {
	ctx := context.Background()
	s, driver, _ := newTestStore(t)

	status := s.CheckHealth(ctx)
	assert.True(t, status.Connected)
	assert.Empty(t, status.LastError)
	assert.Equal(t, 10, status.Pool.MaxOpen)

	driver.SetFail("Ping", ConnectionError("connection refused", nil))
	status = s.CheckHealth(ctx)
	assert.False(t, status.Connected)
	assert.Contains(t, status.LastError, "connection refused")

	bare := New(nil, nil)
	status = bare.CheckHealth(ctx)
	assert.False(t, status.Connected)
	assert.NotEmpty(t, status.LastError)
}

type recordingCollector struct {
	metrics.NoopCollector

	mu      sync.Mutex
	ops     map[string]int
	errors  map[string]int
	storage map[string]int64
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{ops: map[string]int{}, errors: map[string]int{}, storage: map[string]int64{}}
}

func (r *recordingCollector) RecordOperation(_ context.Context, operation, status string, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[operation+"/"+status]++
}

func (r *recordingCollector) RecordError(_ context.Context, operation, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[operation+"/"+code]++
}

func (r *recordingCollector) SetStorageCount(_ context.Context, kind string, count int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storage[kind] = count
}

func TestOperationMetrics(t *testing.T) {
	ctx := context.Background()
	collector := newRecordingCollector()
	s, driver, _ := newTestStore(t, WithMetrics(collector))

	_, err := s.StoreEpisodicMemory(ctx, newEpisodic("s1"))
	require.NoError(t, err)
	_, err = s.StoreEpisodicMemory(ctx, &EpisodicMemory{})
	require.Error(t, err)

	assert.Equal(t, 1, collector.ops["episodic.store/success"])
	assert.Equal(t, 1, collector.ops["episodic.store/error"])
	assert.Equal(t, 1, collector.errors["episodic.store/VALIDATION_ERROR"])

	driver.SetFail("ListEpisodicMemories", errors.New("boom"))
	_, err = s.RetrieveEpisodicMemories(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, 1, collector.errors["episodic.retrieve/QUERY_ERROR"])

	_, err = s.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), collector.storage["episodic"])
}
