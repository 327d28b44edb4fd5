package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCollector_RecordOperation(t *testing.T) {
	collector := NewPrometheusCollector()
	ctx := context.Background()

	collector.RecordOperation(ctx, "episodic.store", "success", 12)
	collector.RecordOperation(ctx, "episodic.store", "success", 8)
	collector.RecordOperation(ctx, "episodic.store", "error", 3)
	collector.RecordOperation(ctx, "semantic.search_similarity", "success", 40)

	if got := testutil.CollectAndCount(collector.operationsTotal); got != 3 {
		t.Errorf("expected 3 operation series, got %d", got)
	}

	if got := testutil.ToFloat64(collector.operationsTotal.WithLabelValues("episodic.store", "success")); got != 2 {
		t.Errorf("expected 2 successful episodic.store operations, got %f", got)
	}

	if got := testutil.CollectAndCount(collector.operationDuration); got != 2 {
		t.Errorf("expected 2 histogram series, got %d", got)
	}
}

func TestPrometheusCollector_RecordError(t *testing.T) {
	collector := NewPrometheusCollector()
	ctx := context.Background()

	collector.RecordError(ctx, "batch.execute", "BATCH_ERROR")
	collector.RecordError(ctx, "batch.execute", "BATCH_ERROR")
	collector.RecordError(ctx, "episodic.store", "VALIDATION_ERROR")

	if got := testutil.ToFloat64(collector.errorsTotal.WithLabelValues("batch.execute", "BATCH_ERROR")); got != 2 {
		t.Errorf("expected 2 batch errors, got %f", got)
	}
	if got := testutil.ToFloat64(collector.errorsTotal.WithLabelValues("episodic.store", "VALIDATION_ERROR")); got != 1 {
		t.Errorf("expected 1 validation error, got %f", got)
	}
}

func TestPrometheusCollector_Gauges(t *testing.T) {
	collector := NewPrometheusCollector()
	ctx := context.Background()

	collector.SetStorageCount(ctx, "semantic", 10)
	collector.SetStorageCount(ctx, "semantic", 7)
	collector.SetPoolStats(ctx, 5, 3, 2)

	if got := testutil.ToFloat64(collector.storageCount.WithLabelValues("semantic")); got != 7 {
		t.Errorf("expected semantic count 7, got %f", got)
	}
	if got := testutil.ToFloat64(collector.poolConnections.WithLabelValues("active")); got != 2 {
		t.Errorf("expected 2 active connections, got %f", got)
	}
	if got := testutil.ToFloat64(collector.poolConnections.WithLabelValues("idle")); got != 3 {
		t.Errorf("expected 3 idle connections, got %f", got)
	}
}

func TestNoopCollector_ImplementsCollector(t *testing.T) {
	var c Collector = NewNoopCollector()
	c.RecordOperation(context.Background(), "op", "success", 1)
	c.RecordError(context.Background(), "op", "QUERY_ERROR")
	c.SetStorageCount(context.Background(), "working", 1)
	c.SetPoolStats(context.Background(), 1, 1, 0)

	var _ Collector = NewPrometheusCollector()
}
