package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/agentmemory/store"
)

const workingColumns = "id, session_id, agent_id, context_type, data, priority, expires_at, created_at"

func (d *DB) UpsertWorkingMemory(ctx context.Context, upsert *store.WorkingMemory) (*store.WorkingMemory, error) {
	var result *store.WorkingMemory
	err := d.withConn(ctx, "failed to upsert working_memory", func(ctx context.Context, conn *sql.Conn) error {
		var err error
		result, err = upsertWorkingMemory(ctx, conn, upsert)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func upsertWorkingMemory(ctx context.Context, q querier, upsert *store.WorkingMemory) (*store.WorkingMemory, error) {
	dataBytes, err := marshalJSON(upsert.Data)
	if err != nil {
		return nil, err
	}
	stmt := `
		INSERT INTO working_memory (` + workingColumns + `)
		VALUES (` + placeholders(8) + `)
		ON CONFLICT (id)
		DO UPDATE SET
			data = EXCLUDED.data,
			priority = EXCLUDED.priority,
			expires_at = EXCLUDED.expires_at
		RETURNING ` + workingColumns

	row := q.QueryRowContext(ctx, stmt,
		upsert.ID,
		upsert.SessionID,
		upsert.AgentID,
		string(upsert.ContextType),
		dataBytes,
		upsert.Priority,
		upsert.ExpiresAt,
		upsert.CreatedAt,
	)
	return scanWorkingMemory(row)
}

func scanWorkingMemory(row rowScanner) (*store.WorkingMemory, error) {
	m := &store.WorkingMemory{}
	var contextType string
	var dataBytes []byte
	if err := row.Scan(
		&m.ID,
		&m.SessionID,
		&m.AgentID,
		&contextType,
		&dataBytes,
		&m.Priority,
		&m.ExpiresAt,
		&m.CreatedAt,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan working_memory")
	}
	m.ContextType = store.ContextType(contextType)
	m.ExpiresAt = m.ExpiresAt.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	if err := unmarshalJSON(dataBytes, &m.Data); err != nil {
		return nil, err
	}
	return m, nil
}

// ListWorkingMemories returns the entries of a session that expire after find.Now.
func (d *DB) ListWorkingMemories(ctx context.Context, find *store.FindWorkingMemory) ([]*store.WorkingMemory, error) {
	query := `SELECT ` + workingColumns + `
		FROM working_memory
		WHERE session_id = ` + placeholder(1) + ` AND expires_at > ` + placeholder(2) + `
		ORDER BY priority DESC, created_at DESC, id`

	list := make([]*store.WorkingMemory, 0)
	err := d.withConn(ctx, "failed to list working_memory", func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, find.SessionID, find.Now)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scanWorkingMemory(rows)
			if err != nil {
				return err
			}
			list = append(list, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) ExpireWorkingMemories(ctx context.Context, sessionID string, now time.Time) (int64, error) {
	return d.execCount(ctx, "failed to expire working_memory",
		`UPDATE working_memory SET expires_at = `+placeholder(2)+` WHERE session_id = `+placeholder(1)+` AND expires_at > `+placeholder(2),
		sessionID, now)
}

func (d *DB) DeleteExpiredWorkingMemories(ctx context.Context, now time.Time) (int64, error) {
	return d.execCount(ctx, "failed to delete expired working_memory",
		`DELETE FROM working_memory WHERE expires_at <= `+placeholder(1), now)
}
