package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/agentmemory/store"
)

// Acquire checks out one connection, waiting at most ConnectionTimeout.
// The caller must Release it on every path.
func (d *DB) Acquire(ctx context.Context) (*sql.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, d.profile.ConnectionTimeout)
	defer cancel()

	conn, err := d.db.Conn(acquireCtx)
	if err == nil {
		return conn, nil
	}
	switch {
	case ctx.Err() != nil:
		return nil, store.Timeout("context done while acquiring connection", ctx.Err())
	case errors.Is(acquireCtx.Err(), context.DeadlineExceeded):
		stats := d.db.Stats()
		if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			return nil, store.PoolExhausted(err)
		}
		return nil, store.ConnectionError("timed out connecting to database", err)
	default:
		return nil, classify("failed to acquire connection", err)
	}
}

// Release returns conn to the pool.
func (d *DB) Release(conn *sql.Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		slog.Warn("failed to release connection", slog.String("error", err.Error()))
	}
}

// withConn runs fn on one pooled connection bounded by QueryTimeout. Errors from
// fn are classified and reported with msg.
func (d *DB) withConn(ctx context.Context, msg string, fn func(ctx context.Context, conn *sql.Conn) error) error {
	conn, err := d.Acquire(ctx)
	if err != nil {
		return err
	}
	defer d.Release(conn)

	queryCtx, cancel := context.WithTimeout(ctx, d.profile.QueryTimeout)
	defer cancel()
	return classify(msg, fn(queryCtx, conn))
}

// WithTx runs fn in a transaction on one pooled connection. The transaction is
// committed when fn returns nil and rolled back otherwise, including on
// cancellation. Each statement is bounded by the server side statement_timeout;
// the whole transaction, from BEGIN to COMMIT, by txTimeout(statements).
func (d *DB) WithTx(ctx context.Context, statements int, fn func(ctx context.Context, tx *sql.Tx) error) error {
	conn, err := d.Acquire(ctx)
	if err != nil {
		return err
	}
	defer d.Release(conn)

	txCtx, cancel := context.WithTimeout(ctx, d.txTimeout(statements))
	defer cancel()

	tx, err := conn.BeginTx(txCtx, nil)
	if err != nil {
		return classify("failed to begin transaction", err)
	}
	if err := fn(txCtx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back transaction", slog.String("error", rbErr.Error()))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("failed to commit transaction", err)
	}
	return nil
}

// txTimeout allows QueryTimeout for each statement plus BEGIN and COMMIT.
func (d *DB) txTimeout(statements int) time.Duration {
	return time.Duration(max(statements, 0)+2) * d.profile.QueryTimeout
}
