package store

import (
	"context"
	"time"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
// Implementations must run each call on a single pooled connection and
// return *Error values for classified failures.
type Driver interface {
	Close() error

	// Ping runs a trivial query on a pooled connection.
	Ping(ctx context.Context) error
	PoolStats() PoolStats

	// Schema related methods.
	ApplySchema(ctx context.Context, statements []string) error
	ListTables(ctx context.Context) ([]string, error)

	// EpisodicMemory model related methods.
	CreateEpisodicMemory(ctx context.Context, create *EpisodicMemory) (*EpisodicMemory, error)
	ListEpisodicMemories(ctx context.Context, find *FindEpisodicMemory) ([]*EpisodicMemory, error)
	DeleteEpisodicMemory(ctx context.Context, delete *DeleteEpisodicMemory) (int64, error)

	// SemanticMemory model related methods.
	UpsertSemanticMemory(ctx context.Context, upsert *SemanticMemory) (*SemanticMemory, error)
	ListSemanticMemories(ctx context.Context, find *FindSemanticMemory) ([]*SemanticMemory, error)
	SearchSemanticMemories(ctx context.Context, search *SimilaritySearch) ([]*SemanticMatch, error)
	UpdateSemanticEmbeddings(ctx context.Context, updates []*EmbeddingUpdate) error

	// WorkingMemory model related methods.
	UpsertWorkingMemory(ctx context.Context, upsert *WorkingMemory) (*WorkingMemory, error)
	ListWorkingMemories(ctx context.Context, find *FindWorkingMemory) ([]*WorkingMemory, error)
	ExpireWorkingMemories(ctx context.Context, sessionID string, now time.Time) (int64, error)

	// ProceduralMemory model related methods.
	UpsertProceduralMemory(ctx context.Context, upsert *ProceduralMemory) (*ProceduralMemory, error)
	ListProceduralMemories(ctx context.Context, find *FindProceduralMemory) ([]*ProceduralMemory, error)
	IncrementProceduralFrequency(ctx context.Context, id string, now time.Time) (*ProceduralMemory, error)

	// ExecuteBatch runs prepared operations in one transaction.
	ExecuteBatch(ctx context.Context, ops []*BatchOperation) error

	// Retention related methods.
	DeleteExpiredWorkingMemories(ctx context.Context, now time.Time) (int64, error)
	DeleteEpisodicMemoriesBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteLowConfidenceSemanticMemories(ctx context.Context, minConfidence float64, createdBefore time.Time) (int64, error)

	GetStatistics(ctx context.Context, now time.Time) (*Statistics, error)
}
