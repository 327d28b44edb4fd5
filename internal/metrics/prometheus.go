package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector provides Prometheus metrics for memory store operations.
type PrometheusCollector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	storageCount      *prometheus.GaugeVec
	poolConnections   *prometheus.GaugeVec
	registry          *prometheus.Registry
}

// NewPrometheusCollector creates a collector registered on its own registry.
func NewPrometheusCollector() *PrometheusCollector {
	registry := prometheus.NewRegistry()

	operationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentmemory_operations_total",
			Help: "Total number of memory store operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentmemory_operation_duration_seconds",
			Help:    "Duration of memory store operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"operation"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentmemory_errors_total",
			Help: "Total number of failed operations by operation and error code",
		},
		[]string{"operation", "code"},
	)

	storageCount := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentmemory_storage_count",
			Help: "Current count of stored memories by kind",
		},
		[]string{"kind"},
	)

	poolConnections := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentmemory_pool_connections",
			Help: "Database pool connections by state",
		},
		[]string{"state"},
	)

	registry.MustRegister(operationsTotal)
	registry.MustRegister(operationDuration)
	registry.MustRegister(errorsTotal)
	registry.MustRegister(storageCount)
	registry.MustRegister(poolConnections)

	return &PrometheusCollector{
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		errorsTotal:       errorsTotal,
		storageCount:      storageCount,
		poolConnections:   poolConnections,
		registry:          registry,
	}
}

// RecordOperation records the completion of an operation.
func (m *PrometheusCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(float64(durationMs) / 1000.0)
}

// RecordError records an error occurrence.
func (m *PrometheusCollector) RecordError(ctx context.Context, operation string, errorCode string) {
	m.errorsTotal.WithLabelValues(operation, errorCode).Inc()
}

// SetStorageCount sets the current count for a memory kind.
func (m *PrometheusCollector) SetStorageCount(ctx context.Context, kind string, count int64) {
	m.storageCount.WithLabelValues(kind).Set(float64(count))
}

// SetPoolStats sets the pool gauges.
func (m *PrometheusCollector) SetPoolStats(ctx context.Context, total, idle, active int) {
	m.poolConnections.WithLabelValues("total").Set(float64(total))
	m.poolConnections.WithLabelValues("idle").Set(float64(idle))
	m.poolConnections.WithLabelValues("active").Set(float64(active))
}

// Registry returns the Prometheus registry for HTTP exposure.
func (m *PrometheusCollector) Registry() *prometheus.Registry {
	return m.registry
}
