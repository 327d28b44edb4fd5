package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultEpisodicRetention is how long episodic memories are kept.
	DefaultEpisodicRetention = 90 * 24 * time.Hour
	// DefaultSemanticRetention is the age after which low-confidence facts are pruned.
	DefaultSemanticRetention = 30 * 24 * time.Hour
	// DefaultSemanticMinConfidence is the confidence below which old facts are pruned.
	DefaultSemanticMinConfidence = 0.3
	// DefaultCleanupInterval is the default interval between cleanup runs.
	DefaultCleanupInterval = 5 * time.Minute
)

// RetentionPolicy holds the thresholds applied by RunCleanup.
type RetentionPolicy struct {
	EpisodicRetention     time.Duration
	SemanticRetention     time.Duration
	SemanticMinConfidence float64
}

// DefaultRetentionPolicy returns the default retention thresholds.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		EpisodicRetention:     DefaultEpisodicRetention,
		SemanticRetention:     DefaultSemanticRetention,
		SemanticMinConfidence: DefaultSemanticMinConfidence,
	}
}

// CleanupResult reports the rows removed by each retention rule.
type CleanupResult struct {
	ExpiredWorking        int64 `json:"expired_working"`
	OldEpisodic           int64 `json:"old_episodic"`
	LowConfidenceSemantic int64 `json:"low_confidence_semantic"`
}

// Total returns the number of rows removed.
func (r *CleanupResult) Total() int64 {
	return r.ExpiredWorking + r.OldEpisodic + r.LowConfidenceSemantic
}

// RunCleanup applies the three retention rules in sequence. They are independent:
// a failing rule does not stop the others, and the result always carries the counts
// of the rules that succeeded. Failures are joined into the returned error.
func (s *Store) RunCleanup(ctx context.Context) (result *CleanupResult, err error) {
	defer s.observe(ctx, "retention.cleanup", time.Now(), &err)
	if err := s.ready(); err != nil {
		return nil, err
	}

	now := normalizeTime(s.now())
	policy := s.retention
	result = &CleanupResult{}
	var errs []error

	if n, err := s.driver.DeleteExpiredWorkingMemories(ctx, now); err != nil {
		errs = append(errs, err)
	} else {
		result.ExpiredWorking = n
	}
	if n, err := s.driver.DeleteEpisodicMemoriesBefore(ctx, now.Add(-policy.EpisodicRetention)); err != nil {
		errs = append(errs, err)
	} else {
		result.OldEpisodic = n
	}
	if n, err := s.driver.DeleteLowConfidenceSemanticMemories(ctx, policy.SemanticMinConfidence, now.Add(-policy.SemanticRetention)); err != nil {
		errs = append(errs, err)
	} else {
		result.LowConfidenceSemantic = n
	}

	return result, errors.Join(errs...)
}

// CleanupJob runs RunCleanup periodically.
type CleanupJob struct {
	store    *Store
	interval time.Duration

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
}

// NewCleanupJob creates a new cleanup job. A non-positive interval uses the default.
func NewCleanupJob(store *Store, interval time.Duration) *CleanupJob {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &CleanupJob{
		store:    store,
		interval: interval,
	}
}

// Start begins the periodic cleanup job in a goroutine.
func (j *CleanupJob) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return nil
	}

	j.running = true
	j.stopChan = make(chan struct{})

	go j.run(ctx, j.stopChan)

	policy := j.store.Retention()
	slog.Info("memory cleanup job started",
		"interval", j.interval,
		"episodic_retention", policy.EpisodicRetention,
		"semantic_retention", policy.SemanticRetention,
		"semantic_min_confidence", policy.SemanticMinConfidence)

	return nil
}

// Stop stops the cleanup job.
func (j *CleanupJob) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return
	}

	close(j.stopChan)
	j.running = false

	slog.Info("memory cleanup job stopped")
}

// RunOnce executes a single cleanup run immediately.
func (j *CleanupJob) RunOnce(ctx context.Context) (*CleanupResult, error) {
	return j.store.RunCleanup(ctx)
}

// IsRunning returns whether the cleanup job is currently running.
func (j *CleanupJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *CleanupJob) run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			j.cleanup(ctx)
		}
	}
}

func (j *CleanupJob) cleanup(ctx context.Context) {
	result, err := j.store.RunCleanup(ctx)
	if err != nil {
		slog.Error("memory cleanup failed", "error", err)
	}
	if result != nil && result.Total() > 0 {
		slog.Info("memory cleanup completed",
			"expired_working", result.ExpiredWorking,
			"old_episodic", result.OldEpisodic,
			"low_confidence_semantic", result.LowConfidenceSemantic)
	}
}
