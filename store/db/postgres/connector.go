package postgres

import (
	"context"
	"database/sql/driver"
	"sync/atomic"
)

// maxUseConnector wraps a driver.Connector so that every physical connection is
// retired after maxUses checkouts. A maxUses of zero disables recycling.
type maxUseConnector struct {
	base    driver.Connector
	maxUses int64

	opened  atomic.Int64
	retired atomic.Int64
}

func newMaxUseConnector(base driver.Connector, maxUses int) *maxUseConnector {
	return &maxUseConnector{base: base, maxUses: int64(maxUses)}
}

func (c *maxUseConnector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := c.base.Connect(ctx)
	if err != nil {
		return nil, err
	}
	c.opened.Add(1)
	return &countedConn{Conn: conn, connector: c}, nil
}

func (c *maxUseConnector) Driver() driver.Driver {
	return c.base.Driver()
}

// countedConn counts how often database/sql returns it to the pool. The pool
// asks IsValid exactly once per release, so that is where a use is recorded.
type countedConn struct {
	driver.Conn
	connector *maxUseConnector
	uses      int64
}

var (
	_ driver.ConnBeginTx        = (*countedConn)(nil)
	_ driver.ConnPrepareContext = (*countedConn)(nil)
	_ driver.QueryerContext     = (*countedConn)(nil)
	_ driver.ExecerContext      = (*countedConn)(nil)
	_ driver.Pinger             = (*countedConn)(nil)
	_ driver.SessionResetter    = (*countedConn)(nil)
	_ driver.Validator          = (*countedConn)(nil)
	_ driver.NamedValueChecker  = (*countedConn)(nil)
)

// IsValid reports false once the connection has served its quota, which makes
// database/sql close it instead of returning it to the idle set.
func (c *countedConn) IsValid() bool {
	c.uses++
	if v, ok := c.Conn.(driver.Validator); ok && !v.IsValid() {
		return false
	}
	if c.connector.maxUses > 0 && c.uses >= c.connector.maxUses {
		c.connector.retired.Add(1)
		return false
	}
	return true
}

func (c *countedConn) ResetSession(ctx context.Context) error {
	if r, ok := c.Conn.(driver.SessionResetter); ok {
		return r.ResetSession(ctx)
	}
	return nil
}

func (c *countedConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if b, ok := c.Conn.(driver.ConnBeginTx); ok {
		return b.BeginTx(ctx, opts)
	}
	return c.Conn.Begin() //nolint:staticcheck
}

func (c *countedConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if p, ok := c.Conn.(driver.ConnPrepareContext); ok {
		return p.PrepareContext(ctx, query)
	}
	return c.Conn.Prepare(query)
}

func (c *countedConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if q, ok := c.Conn.(driver.QueryerContext); ok {
		return q.QueryContext(ctx, query, args)
	}
	return nil, driver.ErrSkip
}

func (c *countedConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if e, ok := c.Conn.(driver.ExecerContext); ok {
		return e.ExecContext(ctx, query, args)
	}
	return nil, driver.ErrSkip
}

func (c *countedConn) Ping(ctx context.Context) error {
	if p, ok := c.Conn.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (c *countedConn) CheckNamedValue(nv *driver.NamedValue) error {
	if n, ok := c.Conn.(driver.NamedValueChecker); ok {
		return n.CheckNamedValue(nv)
	}
	return driver.ErrSkip
}
