package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerModes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "prod", slog.LevelInfo)
	logger.Info("hello", "k", "v")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "v", line["k"])

	buf.Reset()
	NewLogger(&buf, "dev", slog.LevelInfo).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestOperationContextWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "prod", slog.LevelDebug)
	op := NewOperationContext(logger, "episodic.store")
	require.NotEmpty(t, op.OperationID)

	op.Warn(context.Background(), "operation failed", errors.New("boom"), "QUERY_ERROR")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "episodic.store", line[LogFieldOperation])
	assert.Equal(t, op.OperationID, line[LogFieldOperationID])
	assert.Equal(t, "QUERY_ERROR", line[LogFieldErrorCode])
	assert.Equal(t, "boom", line["error"])
}
