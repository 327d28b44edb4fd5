package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/agentmemory/store"
)

// querier is satisfied by *sql.Conn and *sql.Tx so that the same statements
// serve single operations and batches.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ querier = (*sql.Conn)(nil)
	_ querier = (*sql.Tx)(nil)
)

func placeholder(n int) string {
	return "$" + fmt.Sprint(n)
}

func placeholders(n int) string {
	list := make([]string, 0, n)
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

// appendPage adds LIMIT and OFFSET as bound parameters. A zero limit means no limit.
func appendPage(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, limit)
	}
	if offset > 0 {
		query += " OFFSET " + placeholder(len(args)+1)
		args = append(args, offset)
	}
	return query, args
}

// Postgres error codes that change how a failure is reported.
const (
	pqQueryCanceled        = "57014"
	pqConnectionException  = "08"
	pqAdminShutdown        = "57P01"
	pqCannotConnectNow     = "57P03"
	pqInsufficientResource = "53"
)

// classify maps err to a store.Error. Errors that already carry a code pass
// through unchanged. The original error stays reachable through Unwrap.
func classify(msg string, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return store.Timeout(msg, err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return store.ConnectionError(msg, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		switch {
		case code == pqQueryCanceled:
			return store.Timeout(msg, err).WithContext("pq_code", code)
		case strings.HasPrefix(code, pqConnectionException), code == pqAdminShutdown, code == pqCannotConnectNow:
			return store.ConnectionError(msg, err).WithContext("pq_code", code)
		case strings.HasPrefix(code, pqInsufficientResource):
			return store.PoolExhausted(err).WithContext("pq_code", code)
		}
		return store.QueryError(msg, err).WithContext("pq_code", code)
	}
	return store.QueryError(msg, err)
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal json")
	}
	return data, nil
}

// unmarshalJSON decodes a JSONB document. Numbers in untyped values decode as
// json.Number so integers keep every digit.
func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(v); err != nil {
		return errors.Wrap(err, "failed to unmarshal json")
	}
	return nil
}

func rowsAffected(result sql.Result) (int64, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read rows affected")
	}
	return n, nil
}

// stringArray binds a Go slice as a Postgres text[]; nil binds as an empty array.
func stringArray(values []string) any {
	if values == nil {
		values = []string{}
	}
	return pq.Array(values)
}
