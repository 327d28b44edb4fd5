package store

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hrygo/agentmemory/internal/metrics"
	"github.com/hrygo/agentmemory/internal/observability"
	"github.com/hrygo/agentmemory/internal/profile"
)

// Store provides validated access to the four memory kinds.
type Store struct {
	profile *profile.Profile
	driver  Driver

	dimension int
	retention RetentionPolicy

	metrics metrics.Collector
	logger  *slog.Logger
	now     func() time.Time

	initialized atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics sets the metrics collector. Defaults to a no-op collector.
func WithMetrics(c metrics.Collector) Option {
	return func(s *Store) {
		if c != nil {
			s.metrics = c
		}
	}
}

// WithLogger sets the logger used for per-operation logs.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the clock used for timestamps, TTLs and retention cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a new instance of Store. Init must be called before use.
func New(driver Driver, profile *profile.Profile, opts ...Option) *Store {
	store := &Store{
		driver:    driver,
		profile:   profile,
		dimension: defaultDimension(profile),
		retention: retentionFromProfile(profile),
		metrics:   metrics.NewNoopCollector(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func defaultDimension(p *profile.Profile) int {
	if p == nil || p.EmbeddingDimension <= 0 {
		return profile.DefaultEmbeddingDimension
	}
	return p.EmbeddingDimension
}

func retentionFromProfile(p *profile.Profile) RetentionPolicy {
	policy := DefaultRetentionPolicy()
	if p == nil {
		return policy
	}
	if p.EpisodicRetention > 0 {
		policy.EpisodicRetention = p.EpisodicRetention
	}
	if p.SemanticRetention > 0 {
		policy.SemanticRetention = p.SemanticRetention
	}
	if p.SemanticMinConfidence != nil && *p.SemanticMinConfidence >= 0 {
		policy.SemanticMinConfidence = *p.SemanticMinConfidence
	}
	return policy
}

// Init ensures the schema and marks the store ready.
func (s *Store) Init(ctx context.Context) error {
	if s.driver == nil {
		return NotInitialized()
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}
	s.initialized.Store(true)
	s.logger.Info("memory store initialized", slog.Int("embedding_dimension", s.dimension))
	return nil
}

// IsInitialized reports whether Init has completed.
func (s *Store) IsInitialized() bool {
	return s.initialized.Load()
}

// Dimension returns the configured embedding dimension.
func (s *Store) Dimension() int {
	return s.dimension
}

// Retention returns the retention policy applied by RunCleanup.
func (s *Store) Retention() RetentionPolicy {
	return s.retention
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

// Close releases the pool. The store cannot be used afterwards.
func (s *Store) Close() error {
	s.initialized.Store(false)
	if s.driver == nil {
		return nil
	}
	return s.driver.Close()
}

func (s *Store) ready() error {
	if s.driver == nil || !s.initialized.Load() {
		return NotInitialized()
	}
	return nil
}

// observe logs and records the outcome of an operation. It is deferred with a
// pointer to the named error result.
func (s *Store) observe(ctx context.Context, operation string, start time.Time, errp *error) {
	op := observability.NewOperationContextAt(s.logger, operation, start)
	durationMs := op.DurationMs()
	if errp == nil || *errp == nil {
		s.metrics.RecordOperation(ctx, operation, "success", durationMs)
		op.Debug(ctx, "memory operation completed")
		return
	}
	code := string(GetCodeFromError(*errp, ErrCodeQuery))
	s.metrics.RecordOperation(ctx, operation, "error", durationMs)
	s.metrics.RecordError(ctx, operation, code)
	op.Warn(ctx, "memory operation failed", *errp, code)
}
