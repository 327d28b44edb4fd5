package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/agentmemory/internal/profile"
	"github.com/hrygo/agentmemory/store"
)

// ============================================================================
// POSTGRESQL + PGVECTOR
// ============================================================================
// The only supported backend. Every store operation runs on exactly one
// pooled connection; batches hold one connection for their transaction.
// Vector columns are encoded with pgvector-go and searched by cosine
// distance (<=>) against an HNSW index.
// ============================================================================

type DB struct {
	db        *sql.DB
	profile   *profile.Profile
	connector *maxUseConnector
}

// NewDB opens the pool and verifies it with up to ConnectRetries pings spaced
// RetryBackoff apart. There is no reconnect loop after startup.
func NewDB(ctx context.Context, profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	dsn, err := withStatementTimeout(profile.DSN, profile.QueryTimeout)
	if err != nil {
		return nil, store.ConnectionError("invalid dsn", err)
	}
	base, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, store.ConnectionError("failed to create connector", err)
	}
	connector := newMaxUseConnector(base, profile.MaxUses)

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(profile.MaxPoolSize)
	db.SetMaxIdleConns(profile.MaxPoolSize)
	db.SetConnMaxIdleTime(profile.IdleTimeout)

	d := &DB{
		db:        db,
		profile:   profile,
		connector: connector,
	}
	if err := d.connectWithRetry(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) connectWithRetry(ctx context.Context) error {
	attempts := max(1, d.profile.ConnectRetries)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, d.profile.ConnectionTimeout)
		lastErr = d.db.PingContext(pingCtx)
		cancel()
		if lastErr == nil {
			slog.Info("connected to postgres",
				slog.Int("attempt", attempt),
				slog.Int("max_pool_size", d.profile.MaxPoolSize))
			return nil
		}

		slog.Warn("failed to connect to postgres",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.String("error", lastErr.Error()))
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return store.ConnectionError("connection aborted", ctx.Err())
		case <-time.After(d.profile.RetryBackoff):
		}
	}
	return store.ConnectionError("failed to connect after "+strconv.Itoa(attempts)+" attempts", lastErr)
}

// withStatementTimeout adds a server side statement_timeout to the DSN unless
// the caller already set one. lib/pq forwards unknown keys as run-time parameters.
func withStatementTimeout(dsn string, timeout time.Duration) (string, error) {
	if timeout <= 0 || strings.Contains(dsn, "statement_timeout") {
		return dsn, nil
	}
	ms := strconv.FormatInt(timeout.Milliseconds(), 10)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", errors.Wrap(err, "failed to parse dsn")
		}
		query := u.Query()
		query.Set("statement_timeout", ms)
		u.RawQuery = query.Encode()
		return u.String(), nil
	}
	return strings.TrimSpace(dsn + " statement_timeout=" + ms), nil
}

// Close closes the pool. Unless AllowExitOnIdle is set it first waits, up to
// ConnectionTimeout, for checked-out connections to come back.
func (d *DB) Close() error {
	if !d.profile.AllowExitOnIdle {
		deadline := time.Now().Add(d.profile.ConnectionTimeout)
		for d.db.Stats().InUse > 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if inUse := d.db.Stats().InUse; inUse > 0 {
			slog.Warn("closing pool with connections in use", slog.Int("in_use", inUse))
		}
	}
	return d.db.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	return d.withConn(ctx, "health check failed", func(ctx context.Context, conn *sql.Conn) error {
		var one int
		return conn.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	})
}

func (d *DB) PoolStats() store.PoolStats {
	stats := d.db.Stats()
	return store.PoolStats{
		Total:     stats.OpenConnections,
		Idle:      stats.Idle,
		Active:    stats.InUse,
		MaxOpen:   stats.MaxOpenConnections,
		WaitCount: stats.WaitCount,
	}
}
