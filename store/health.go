package store

import (
	"context"
	"time"
)

// PoolStats describes connection pool utilization.
type PoolStats struct {
	Total     int   `json:"total"`
	Idle      int   `json:"idle"`
	Active    int   `json:"active"`
	MaxOpen   int   `json:"max_open"`
	WaitCount int64 `json:"wait_count"`
}

// HealthStatus is the result of a health check.
type HealthStatus struct {
	Connected bool      `json:"connected"`
	Pool      PoolStats `json:"pool"`
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Statistics holds per-kind record counts.
type Statistics struct {
	EpisodicTotal   int64            `json:"episodic_total"`
	EpisodicByAgent map[string]int64 `json:"episodic_by_agent"`

	SemanticTotal         int64              `json:"semantic_total"`
	SemanticByFactType    map[string]int64   `json:"semantic_by_fact_type"`
	SemanticAvgConfidence map[string]float64 `json:"semantic_avg_confidence"`

	WorkingActive  int64 `json:"working_active"`
	WorkingExpired int64 `json:"working_expired"`

	ProceduralTotal         int64            `json:"procedural_total"`
	ProceduralByPatternType map[string]int64 `json:"procedural_by_pattern_type"`

	CollectedAt time.Time `json:"collected_at"`
}

// CheckHealth runs a trivial query and reports pool utilization. It never fails;
// problems are reported through Connected and LastError.
func (s *Store) CheckHealth(ctx context.Context) *HealthStatus {
	status := &HealthStatus{CheckedAt: s.now().UTC()}
	if s.driver == nil {
		status.LastError = NotInitialized().Error()
		return status
	}

	start := time.Now()
	err := s.driver.Ping(ctx)
	status.Pool = s.driver.PoolStats()
	s.metrics.SetPoolStats(ctx, status.Pool.Total, status.Pool.Idle, status.Pool.Active)
	if err != nil {
		status.LastError = err.Error()
		s.observe(ctx, "health.check", start, &err)
		return status
	}
	status.Connected = true
	s.observe(ctx, "health.check", start, &err)
	return status
}

// GetStatistics collects per-kind totals and breakdowns. Errors propagate.
func (s *Store) GetStatistics(ctx context.Context) (stats *Statistics, err error) {
	defer s.observe(ctx, "health.statistics", time.Now(), &err)
	if err := s.ready(); err != nil {
		return nil, err
	}
	stats, err = s.driver.GetStatistics(ctx, normalizeTime(s.now()))
	if err != nil {
		return nil, err
	}
	s.metrics.SetStorageCount(ctx, "episodic", stats.EpisodicTotal)
	s.metrics.SetStorageCount(ctx, "semantic", stats.SemanticTotal)
	s.metrics.SetStorageCount(ctx, "working", stats.WorkingActive+stats.WorkingExpired)
	s.metrics.SetStorageCount(ctx, "procedural", stats.ProceduralTotal)
	return stats, nil
}
