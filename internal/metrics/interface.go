package metrics

import "context"

// Collector is the interface for memory store metrics.
// Implementations are the Prometheus-backed PrometheusCollector and NoopCollector.
type Collector interface {
	// RecordOperation records a finished store operation. Status is "success" or "error".
	RecordOperation(ctx context.Context, operation string, status string, durationMs int64)
	// RecordError records a failed operation by error code.
	RecordError(ctx context.Context, operation string, errorCode string)
	// SetStorageCount sets the current record count of a memory kind.
	SetStorageCount(ctx context.Context, kind string, count int64)
	// SetPoolStats sets the connection pool gauges.
	SetPoolStats(ctx context.Context, total, idle, active int)
}
