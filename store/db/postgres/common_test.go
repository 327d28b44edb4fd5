package postgres

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/agentmemory/store"
)

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "$3", placeholder(3))
	assert.Equal(t, "$1, $2, $3", placeholders(3))
	assert.Equal(t, "", placeholders(0))
}

func TestAppendPage(t *testing.T) {
	query, args := appendPage("SELECT 1 WHERE a = $1", []any{"x"}, 10, 5)
	assert.Equal(t, "SELECT 1 WHERE a = $1 LIMIT $2 OFFSET $3", query)
	assert.Equal(t, []any{"x", 10, 5}, args)

	query, args = appendPage("SELECT 1", nil, 0, 0)
	assert.Equal(t, "SELECT 1", query)
	assert.Empty(t, args)

	query, _ = appendPage("SELECT 1", nil, 0, 7)
	assert.Equal(t, "SELECT 1 OFFSET $1", query)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want store.ErrorCode
	}{
		{"deadline", context.DeadlineExceeded, store.ErrCodeTimeout},
		{"canceled", fmt.Errorf("scan: %w", context.Canceled), store.ErrCodeTimeout},
		{"bad conn", driver.ErrBadConn, store.ErrCodeConnection},
		{"statement timeout", &pq.Error{Code: "57014"}, store.ErrCodeTimeout},
		{"connection failure", &pq.Error{Code: "08006"}, store.ErrCodeConnection},
		{"too many connections", &pq.Error{Code: "53300"}, store.ErrCodePoolExhausted},
		{"unique violation", &pq.Error{Code: "23505"}, store.ErrCodeQuery},
		{"plain", fmt.Errorf("boom"), store.ErrCodeQuery},
		{"passthrough", store.NotFound("procedural_memory", "x"), store.ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("failed", tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.want, store.GetCodeFromError(err, ""))
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.NoError(t, classify("failed", nil))
}

func TestWithStatementTimeout(t *testing.T) {
	dsn, err := withStatementTimeout("postgres://u:p@localhost:5432/db?sslmode=disable", 30*time.Second)
	require.NoError(t, err)
	assert.Contains(t, dsn, "statement_timeout=30000")
	assert.Contains(t, dsn, "sslmode=disable")

	dsn, err = withStatementTimeout("host=localhost dbname=db", 1500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "host=localhost dbname=db statement_timeout=1500", dsn)

	dsn, err = withStatementTimeout("host=localhost statement_timeout=5", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "host=localhost statement_timeout=5", dsn)

	dsn, err = withStatementTimeout("host=localhost", 0)
	require.NoError(t, err)
	assert.Equal(t, "host=localhost", dsn)
}

func TestJSONKeepsIntegerPrecision(t *testing.T) {
	data, err := marshalJSON(map[string]any{"qty": 100, "order_id": int64(9007199254740993)})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, unmarshalJSON(data, &got))
	assert.Equal(t, map[string]any{
		"qty":      json.Number("100"),
		"order_id": json.Number("9007199254740993"),
	}, got)

	var metadata store.EpisodicMetadata
	data, err = marshalJSON(store.EpisodicMetadata{ExecutionTimeMs: 340, MarketConditions: map[string]any{"volume": 1234567}})
	require.NoError(t, err)
	require.NoError(t, unmarshalJSON(data, &metadata))
	assert.EqualValues(t, 340, metadata.ExecutionTimeMs)
	assert.Equal(t, json.Number("1234567"), metadata.MarketConditions["volume"])

	assert.NoError(t, unmarshalJSON(nil, &got))
	assert.Error(t, unmarshalJSON([]byte("{"), &got))
}
