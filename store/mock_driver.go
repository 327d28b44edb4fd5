package store

import (
	"context"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockDriver is an in-memory Driver for testing. Errors can be injected per
// method name through Fail.
type MockDriver struct {
	mu sync.Mutex

	episodic   map[string]*EpisodicMemory
	semantic   map[string]*SemanticMemory
	working    map[string]*WorkingMemory
	procedural map[string]*ProceduralMemory

	tables  []string
	applied [][]string
	closed  bool

	// Fail maps a method name (e.g. "Ping", "ExecuteBatch") to the error it returns.
	Fail map[string]error
	// Stats is returned by PoolStats.
	Stats PoolStats
	// SkipTables makes ApplySchema succeed without creating the listed tables.
	SkipTables []string
}

// NewMockDriver creates an empty MockDriver.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		episodic:   map[string]*EpisodicMemory{},
		semantic:   map[string]*SemanticMemory{},
		working:    map[string]*WorkingMemory{},
		procedural: map[string]*ProceduralMemory{},
		Fail:       map[string]error{},
		Stats:      PoolStats{Total: 1, Idle: 1, MaxOpen: 10},
	}
}

// SetFail injects err for method. A nil err clears the injection.
func (d *MockDriver) SetFail(method string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.Fail, method)
		return
	}
	d.Fail[method] = err
}

// AppliedSchemas returns the statement lists passed to ApplySchema.
func (d *MockDriver) AppliedSchemas() [][]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.applied)
}

// Closed reports whether Close was called.
func (d *MockDriver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *MockDriver) fail(method string) error {
	return d.Fail[method]
}

func (d *MockDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return d.fail("Close")
}

func (d *MockDriver) Ping(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.fail("Ping")
}

func (d *MockDriver) PoolStats() PoolStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Stats
}

func (d *MockDriver) ApplySchema(_ context.Context, statements []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("ApplySchema"); err != nil {
		return err
	}
	d.applied = append(d.applied, slices.Clone(statements))
	d.tables = d.tables[:0]
	for _, name := range memoryTables {
		if !slices.Contains(d.SkipTables, name) {
			d.tables = append(d.tables, name)
		}
	}
	return nil
}

func (d *MockDriver) ListTables(context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("ListTables"); err != nil {
		return nil, err
	}
	return slices.Clone(d.tables), nil
}

func (d *MockDriver) CreateEpisodicMemory(_ context.Context, create *EpisodicMemory) (*EpisodicMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateEpisodicMemory"); err != nil {
		return nil, err
	}
	if _, ok := d.episodic[create.ID]; ok {
		return nil, QueryError("duplicate episodic_memory id "+create.ID, nil)
	}
	clone := *create
	d.episodic[create.ID] = &clone
	return create, nil
}

func (d *MockDriver) ListEpisodicMemories(_ context.Context, find *FindEpisodicMemory) ([]*EpisodicMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("ListEpisodicMemories"); err != nil {
		return nil, err
	}
	list := []*EpisodicMemory{}
	for _, m := range d.episodic {
		switch {
		case find.ID != nil && m.ID != *find.ID,
			find.SessionID != nil && m.SessionID != *find.SessionID,
			find.UserID != nil && m.UserID != *find.UserID,
			find.AgentID != nil && m.AgentID != *find.AgentID,
			find.InteractionType != nil && m.InteractionType != *find.InteractionType,
			find.StartTime != nil && m.Timestamp.Before(*find.StartTime),
			find.EndTime != nil && m.Timestamp.After(*find.EndTime):
			continue
		}
		clone := *m
		list = append(list, &clone)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Timestamp.After(list[j].Timestamp) })
	return paginate(list, find.Limit, find.Offset), nil
}

func (d *MockDriver) DeleteEpisodicMemory(_ context.Context, find *DeleteEpisodicMemory) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("DeleteEpisodicMemory"); err != nil {
		return 0, err
	}
	var n int64
	for id, m := range d.episodic {
		if find.ID != nil && id != *find.ID {
			continue
		}
		if find.SessionID != nil && m.SessionID != *find.SessionID {
			continue
		}
		delete(d.episodic, id)
		n++
	}
	return n, nil
}

func (d *MockDriver) UpsertSemanticMemory(_ context.Context, upsert *SemanticMemory) (*SemanticMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("UpsertSemanticMemory"); err != nil {
		return nil, err
	}
	return d.upsertSemantic(upsert), nil
}

func (d *MockDriver) upsertSemantic(upsert *SemanticMemory) *SemanticMemory {
	if existing, ok := d.semantic[upsert.ID]; ok {
		existing.Content = upsert.Content
		existing.Embedding = slices.Clone(upsert.Embedding)
		existing.Confidence = upsert.Confidence
		existing.Tags = slices.Clone(upsert.Tags)
		existing.RelatedEntities = slices.Clone(upsert.RelatedEntities)
		existing.UpdatedAt = upsert.UpdatedAt
		clone := *existing
		return &clone
	}
	clone := *upsert
	clone.Embedding = slices.Clone(upsert.Embedding)
	d.semantic[upsert.ID] = &clone
	result := clone
	return &result
}

func (d *MockDriver) ListSemanticMemories(_ context.Context, find *FindSemanticMemory) ([]*SemanticMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("ListSemanticMemories"); err != nil {
		return nil, err
	}
	list := []*SemanticMemory{}
	for _, m := range d.semantic {
		switch {
		case find.ID != nil && m.ID != *find.ID,
			find.FactType != nil && m.FactType != *find.FactType,
			find.ContentContains != nil && !strings.Contains(strings.ToLower(m.Content), strings.ToLower(*find.ContentContains)),
			len(find.Tags) > 0 && !overlaps(m.Tags, find.Tags),
			len(find.RelatedEntities) > 0 && !overlaps(m.RelatedEntities, find.RelatedEntities),
			find.MinConfidence != nil && m.Confidence < *find.MinConfidence,
			find.UpdatedBefore != nil && !m.UpdatedAt.Before(*find.UpdatedBefore):
			continue
		}
		clone := *m
		list = append(list, &clone)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Confidence != list[j].Confidence {
			return list[i].Confidence > list[j].Confidence
		}
		if !list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].UpdatedAt.After(list[j].UpdatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return paginate(list, find.Limit, find.Offset), nil
}

func (d *MockDriver) SearchSemanticMemories(_ context.Context, search *SimilaritySearch) ([]*SemanticMatch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("SearchSemanticMemories"); err != nil {
		return nil, err
	}
	matches := []*SemanticMatch{}
	for _, m := range d.semantic {
		similarity := CosineSimilarity(m.Embedding, search.Embedding)
		if similarity < search.Threshold {
			continue
		}
		clone := *m
		matches = append(matches, &SemanticMatch{Memory: &clone, Similarity: similarity})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	return paginate(matches, search.Limit, 0), nil
}

func (d *MockDriver) UpdateSemanticEmbeddings(_ context.Context, updates []*EmbeddingUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("UpdateSemanticEmbeddings"); err != nil {
		return err
	}
	for i, u := range updates {
		if _, ok := d.semantic[u.ID]; !ok {
			return BatchError(i, NotFound("semantic_memory", u.ID))
		}
	}
	for _, u := range updates {
		m := d.semantic[u.ID]
		m.Embedding = slices.Clone(u.Embedding)
		m.UpdatedAt = u.UpdatedAt
	}
	return nil
}

func (d *MockDriver) UpsertWorkingMemory(_ context.Context, upsert *WorkingMemory) (*WorkingMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("UpsertWorkingMemory"); err != nil {
		return nil, err
	}
	return d.upsertWorking(upsert), nil
}

func (d *MockDriver) upsertWorking(upsert *WorkingMemory) *WorkingMemory {
	if existing, ok := d.working[upsert.ID]; ok {
		existing.Data = upsert.Data
		existing.Priority = upsert.Priority
		existing.ExpiresAt = upsert.ExpiresAt
		clone := *existing
		return &clone
	}
	clone := *upsert
	d.working[upsert.ID] = &clone
	result := clone
	return &result
}

func (d *MockDriver) ListWorkingMemories(_ context.Context, find *FindWorkingMemory) ([]*WorkingMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("ListWorkingMemories"); err != nil {
		return nil, err
	}
	list := []*WorkingMemory{}
	for _, m := range d.working {
		if m.SessionID != find.SessionID || !m.ExpiresAt.After(find.Now) {
			continue
		}
		clone := *m
		list = append(list, &clone)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority > list[j].Priority
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

func (d *MockDriver) ExpireWorkingMemories(_ context.Context, sessionID string, now time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("ExpireWorkingMemories"); err != nil {
		return 0, err
	}
	var n int64
	for _, m := range d.working {
		if m.SessionID == sessionID && m.ExpiresAt.After(now) {
			m.ExpiresAt = now
			n++
		}
	}
	return n, nil
}

func (d *MockDriver) UpsertProceduralMemory(_ context.Context, upsert *ProceduralMemory) (*ProceduralMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("UpsertProceduralMemory"); err != nil {
		return nil, err
	}
	return d.upsertProcedural(upsert), nil
}

func (d *MockDriver) upsertProcedural(upsert *ProceduralMemory) *ProceduralMemory {
	if existing, ok := d.procedural[upsert.ID]; ok {
		existing.Pattern = upsert.Pattern
		existing.Confidence = upsert.Confidence
		existing.LastUsed = upsert.LastUsed
		existing.UpdatedAt = upsert.UpdatedAt
		clone := *existing
		return &clone
	}
	clone := *upsert
	d.procedural[upsert.ID] = &clone
	result := clone
	return &result
}

func (d *MockDriver) ListProceduralMemories(_ context.Context, find *FindProceduralMemory) ([]*ProceduralMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("ListProceduralMemories"); err != nil {
		return nil, err
	}
	list := []*ProceduralMemory{}
	for _, m := range d.procedural {
		switch {
		case find.ID != nil && m.ID != *find.ID,
			find.UserID != nil && m.UserID != *find.UserID,
			find.PatternType != nil && m.PatternType != *find.PatternType,
			find.MinFrequency != nil && m.Frequency < *find.MinFrequency,
			find.MinConfidence != nil && m.Confidence < *find.MinConfidence:
			continue
		}
		clone := *m
		list = append(list, &clone)
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Frequency != b.Frequency {
			return a.Frequency > b.Frequency
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.LastUsed.After(b.LastUsed)
	})
	return paginate(list, find.Limit, find.Offset), nil
}

func (d *MockDriver) IncrementProceduralFrequency(_ context.Context, id string, now time.Time) (*ProceduralMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("IncrementProceduralFrequency"); err != nil {
		return nil, err
	}
	m, ok := d.procedural[id]
	if !ok {
		return nil, NotFound("procedural_memory", id)
	}
	m.Frequency++
	m.LastUsed = now
	m.UpdatedAt = now
	clone := *m
	return &clone, nil
}

// ExecuteBatch applies ops to a copy of the state and swaps it in only when every
// op succeeds.
func (d *MockDriver) ExecuteBatch(_ context.Context, ops []*BatchOperation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("ExecuteBatch"); err != nil {
		return BatchError(0, err)
	}
	shadow := &MockDriver{
		episodic:   cloneMap(d.episodic),
		semantic:   cloneMap(d.semantic),
		working:    cloneMap(d.working),
		procedural: cloneMap(d.procedural),
	}
	for i, op := range ops {
		switch {
		case op.Episodic != nil:
			if _, ok := shadow.episodic[op.Episodic.ID]; ok {
				return BatchError(i, QueryError("duplicate episodic_memory id "+op.Episodic.ID, nil))
			}
			clone := *op.Episodic
			shadow.episodic[clone.ID] = &clone
		case op.Semantic != nil:
			shadow.upsertSemantic(op.Semantic)
		case op.Working != nil:
			shadow.upsertWorking(op.Working)
		case op.Procedural != nil:
			shadow.upsertProcedural(op.Procedural)
		}
	}
	d.episodic, d.semantic, d.working, d.procedural = shadow.episodic, shadow.semantic, shadow.working, shadow.procedural
	return nil
}

func (d *MockDriver) DeleteExpiredWorkingMemories(_ context.Context, now time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("DeleteExpiredWorkingMemories"); err != nil {
		return 0, err
	}
	var n int64
	for id, m := range d.working {
		if !m.ExpiresAt.After(now) {
			delete(d.working, id)
			n++
		}
	}
	return n, nil
}

func (d *MockDriver) DeleteEpisodicMemoriesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("DeleteEpisodicMemoriesBefore"); err != nil {
		return 0, err
	}
	var n int64
	for id, m := range d.episodic {
		if m.Timestamp.Before(cutoff) {
			delete(d.episodic, id)
			n++
		}
	}
	return n, nil
}

func (d *MockDriver) DeleteLowConfidenceSemanticMemories(_ context.Context, minConfidence float64, createdBefore time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("DeleteLowConfidenceSemanticMemories"); err != nil {
		return 0, err
	}
	var n int64
	for id, m := range d.semantic {
		if m.Confidence < minConfidence && m.CreatedAt.Before(createdBefore) {
			delete(d.semantic, id)
			n++
		}
	}
	return n, nil
}

func (d *MockDriver) GetStatistics(_ context.Context, now time.Time) (*Statistics, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("GetStatistics"); err != nil {
		return nil, err
	}
	stats := &Statistics{
		EpisodicByAgent:         map[string]int64{},
		SemanticByFactType:      map[string]int64{},
		SemanticAvgConfidence:   map[string]float64{},
		ProceduralByPatternType: map[string]int64{},
		CollectedAt:             now,
	}
	for _, m := range d.episodic {
		stats.EpisodicTotal++
		stats.EpisodicByAgent[m.AgentID]++
	}
	sums := map[string]float64{}
	for _, m := range d.semantic {
		stats.SemanticTotal++
		stats.SemanticByFactType[string(m.FactType)]++
		sums[string(m.FactType)] += m.Confidence
	}
	for k, sum := range sums {
		stats.SemanticAvgConfidence[k] = sum / float64(stats.SemanticByFactType[k])
	}
	for _, m := range d.working {
		if m.ExpiresAt.After(now) {
			stats.WorkingActive++
		} else {
			stats.WorkingExpired++
		}
	}
	for _, m := range d.procedural {
		stats.ProceduralTotal++
		stats.ProceduralByPatternType[string(m.PatternType)]++
	}
	return stats, nil
}

// CosineSimilarity returns the cosine similarity of a and b, or 0 when either
// vector is zero or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func overlaps(a, b []string) bool {
	for _, v := range a {
		if slices.Contains(b, v) {
			return true
		}
	}
	return false
}

func paginate[T any](list []T, limit, offset int) []T {
	if offset >= len(list) {
		return list[:0]
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}

func cloneMap[V any](m map[string]*V) map[string]*V {
	out := make(map[string]*V, len(m))
	for k, v := range m {
		clone := *v
		out[k] = &clone
	}
	return out
}
