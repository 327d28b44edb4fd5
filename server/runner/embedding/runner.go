package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hrygo/agentmemory/plugin/embedding"
	"github.com/hrygo/agentmemory/store"
)

// Runner re-embeds semantic memories that were last written before a pass began,
// typically after the embedding model changed.
type Runner struct {
	store            *store.Store
	embeddingService embedding.Service
	interval         time.Duration
	batchSize        int
	now              func() time.Time
}

// NewRunner creates a re-embedding runner.
func NewRunner(store *store.Store, embeddingService embedding.Service) *Runner {
	return &Runner{
		store:            store,
		embeddingService: embeddingService,
		interval:         time.Hour,
		batchSize:        8,
		now:              time.Now,
	}
}

// WithBatchSize sets how many memories are embedded per request.
func (r *Runner) WithBatchSize(n int) *Runner {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

// WithInterval sets the period between passes in Run.
func (r *Runner) WithInterval(d time.Duration) *Runner {
	if d > 0 {
		r.interval = d
	}
	return r
}

// Run starts the background task.
func (r *Runner) Run(ctx context.Context) {
	r.runPass(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runPass(ctx)
		case <-ctx.Done():
			slog.Info("embedding runner stopped")
			return
		}
	}
}

func (r *Runner) runPass(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		slog.Error("re-embedding pass failed", "error", err)
	}
}

// RunOnce re-embeds every semantic memory updated before the pass started and
// returns how many were updated. It stops at the first failed batch; rows already
// updated keep their new embeddings.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	if r.embeddingService.Dimensions() != r.store.Dimension() {
		return 0, fmt.Errorf("embedding service produces %d dimensions, store expects %d",
			r.embeddingService.Dimensions(), r.store.Dimension())
	}

	// Updated rows leave the filter, so every page is read from offset zero.
	cutoff := r.now().UTC().Truncate(time.Microsecond)
	seen := make(map[string]bool)
	processed := 0
	for {
		select {
		case <-ctx.Done():
			slog.Info("re-embedding cancelled", "processed", processed)
			return processed, ctx.Err()
		default:
		}

		memories, err := r.store.RetrieveSemanticMemories(ctx, &store.FindSemanticMemory{
			UpdatedBefore: &cutoff,
			Limit:         r.batchSize,
		})
		if err != nil {
			return processed, fmt.Errorf("failed to list semantic memories: %w", err)
		}
		if len(memories) == 0 {
			break
		}
		if seen[memories[0].ID] {
			// The store clock is behind ours and rewritten rows still match.
			slog.Warn("re-embedding stopped on a row already processed", "id", memories[0].ID)
			break
		}
		for _, m := range memories {
			seen[m.ID] = true
		}
		if err := r.processBatch(ctx, memories); err != nil {
			return processed, err
		}
		processed += len(memories)
		slog.Info("batch re-embedded", "count", len(memories), "processed", processed)
	}

	if processed > 0 {
		slog.Info("re-embedding pass finished", "processed", processed)
	}
	return processed, nil
}

func (r *Runner) processBatch(ctx context.Context, memories []*store.SemanticMemory) error {
	texts := make([]string, len(memories))
	for i, m := range memories {
		texts[i] = m.Content
	}

	vectors, err := r.embeddingService.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed batch: %w", err)
	}
	if len(vectors) != len(memories) {
		return fmt.Errorf("embedding service returned %d vectors for %d texts", len(vectors), len(memories))
	}

	updates := make([]*store.EmbeddingUpdate, len(memories))
	for i, m := range memories {
		updates[i] = &store.EmbeddingUpdate{ID: m.ID, Embedding: vectors[i]}
	}
	if err := r.store.BatchUpdateEmbeddings(ctx, updates); err != nil {
		return fmt.Errorf("failed to update embeddings: %w", err)
	}
	return nil
}
