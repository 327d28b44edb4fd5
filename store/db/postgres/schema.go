package postgres

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/pkg/errors"
)

// ApplySchema executes the schema statements in order inside one transaction.
func (d *DB) ApplySchema(ctx context.Context, statements []string) error {
	return d.WithTx(ctx, len(statements), func(ctx context.Context, tx *sql.Tx) error {
		for i, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return errors.Wrapf(err, "failed to execute statement %d: %s", i+1, stmt)
			}
		}
		slog.Debug("schema statements applied", slog.Int("count", len(statements)))
		return nil
	})
}

// ListTables returns the base tables of the current schema.
func (d *DB) ListTables(ctx context.Context) ([]string, error) {
	var tables []string
	err := d.withConn(ctx, "failed to list tables", func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT table_name FROM information_schema.tables
			WHERE table_catalog = current_database()
				AND table_schema = current_schema()
				AND table_type = 'BASE TABLE'`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return errors.Wrap(err, "failed to scan table name")
			}
			tables = append(tables, name)
		}
		return rows.Err()
	})
	return tables, err
}
