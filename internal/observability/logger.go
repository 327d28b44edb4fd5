package observability

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	// LogFieldOperationID is the field name for operation ID.
	LogFieldOperationID = "operation_id"
	// LogFieldOperation is the field name for the operation name.
	LogFieldOperation = "operation"
	// LogFieldDuration is the field name for duration in milliseconds.
	LogFieldDuration = "duration_ms"
	// LogFieldErrorCode is the field name for error code.
	LogFieldErrorCode = "error_code"
)

// NewLogger builds the process logger. Production mode logs JSON, other modes text.
func NewLogger(w io.Writer, mode string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if mode == "prod" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// OperationContext represents one store operation with structured logging.
type OperationContext struct {
	OperationID string
	Operation   string
	StartTime   time.Time
	Logger      *slog.Logger
}

// NewOperationContext creates a new operation context with a generated ID.
func NewOperationContext(logger *slog.Logger, operation string) *OperationContext {
	return NewOperationContextAt(logger, operation, time.Now())
}

// NewOperationContextAt creates a new operation context that started at start.
func NewOperationContextAt(logger *slog.Logger, operation string, start time.Time) *OperationContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &OperationContext{
		OperationID: uuid.New().String(),
		Operation:   operation,
		StartTime:   start,
		Logger:      logger,
	}
}

// Duration returns the elapsed time since the operation started.
func (o *OperationContext) Duration() time.Duration {
	return time.Since(o.StartTime)
}

// DurationMs returns the elapsed time in milliseconds.
func (o *OperationContext) DurationMs() int64 {
	return o.Duration().Milliseconds()
}

// Debug logs a debug message.
func (o *OperationContext) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	o.Logger.LogAttrs(ctx, slog.LevelDebug, msg, o.baseAttrsAppended(attrs...)...)
}

// Warn logs a warning message with the error and its code.
func (o *OperationContext) Warn(ctx context.Context, msg string, err error, code string, attrs ...slog.Attr) {
	allAttrs := append(attrs, slog.String("error", err.Error()), slog.String(LogFieldErrorCode, code))
	o.Logger.LogAttrs(ctx, slog.LevelWarn, msg, o.baseAttrsAppended(allAttrs...)...)
}

func (o *OperationContext) baseAttrsAppended(attrs ...slog.Attr) []slog.Attr {
	base := []slog.Attr{
		slog.String(LogFieldOperationID, o.OperationID),
		slog.String(LogFieldOperation, o.Operation),
		slog.Int64(LogFieldDuration, o.DurationMs()),
	}
	return append(base, attrs...)
}
