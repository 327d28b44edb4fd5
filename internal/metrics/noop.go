package metrics

import "context"

// NoopCollector discards every measurement.
type NoopCollector struct{}

// NewNoopCollector creates a no-op collector.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (n *NoopCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
}

func (n *NoopCollector) RecordError(ctx context.Context, operation string, errorCode string) {}

func (n *NoopCollector) SetStorageCount(ctx context.Context, kind string, count int64) {}

func (n *NoopCollector) SetPoolStats(ctx context.Context, total, idle, active int) {}
