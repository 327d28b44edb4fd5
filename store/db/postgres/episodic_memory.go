package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/agentmemory/store"
)

const episodicColumns = "id, session_id, user_id, agent_id, timestamp, interaction_type, context, input, output, metadata"

func (d *DB) CreateEpisodicMemory(ctx context.Context, create *store.EpisodicMemory) (*store.EpisodicMemory, error) {
	err := d.withConn(ctx, "failed to create episodic_memory", func(ctx context.Context, conn *sql.Conn) error {
		return insertEpisodicMemory(ctx, conn, create)
	})
	if err != nil {
		return nil, err
	}
	return create, nil
}

func insertEpisodicMemory(ctx context.Context, q querier, create *store.EpisodicMemory) error {
	contextBytes, err := marshalJSON(create.Context)
	if err != nil {
		return err
	}
	metadataBytes, err := marshalJSON(create.Metadata)
	if err != nil {
		return err
	}

	args := []any{
		create.ID,
		create.SessionID,
		create.UserID,
		create.AgentID,
		create.Timestamp,
		string(create.InteractionType),
		contextBytes,
		create.Input,
		create.Output,
		metadataBytes,
	}
	stmt := `INSERT INTO episodic_memory (` + episodicColumns + `)
		VALUES (` + placeholders(len(args)) + `)`
	_, err = q.ExecContext(ctx, stmt, args...)
	return err
}

func (d *DB) ListEpisodicMemories(ctx context.Context, find *store.FindEpisodicMemory) ([]*store.EpisodicMemory, error) {
	if find == nil {
		return nil, errors.New("find parameter cannot be nil")
	}

	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.SessionID != nil {
		where, args = append(where, "session_id = "+placeholder(len(args)+1)), append(args, *find.SessionID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.AgentID != nil {
		where, args = append(where, "agent_id = "+placeholder(len(args)+1)), append(args, *find.AgentID)
	}
	if find.InteractionType != nil {
		where, args = append(where, "interaction_type = "+placeholder(len(args)+1)), append(args, string(*find.InteractionType))
	}
	if find.StartTime != nil {
		where, args = append(where, "timestamp >= "+placeholder(len(args)+1)), append(args, *find.StartTime)
	}
	if find.EndTime != nil {
		where, args = append(where, "timestamp <= "+placeholder(len(args)+1)), append(args, *find.EndTime)
	}

	query := `SELECT ` + episodicColumns + `
		FROM episodic_memory WHERE ` + strings.Join(where, " AND ") + ` ORDER BY timestamp DESC, id`
	query, args = appendPage(query, args, find.Limit, find.Offset)

	list := make([]*store.EpisodicMemory, 0)
	err := d.withConn(ctx, "failed to list episodic_memory", func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			m := &store.EpisodicMemory{}
			var interactionType string
			var contextBytes, metadataBytes []byte
			if err := rows.Scan(
				&m.ID,
				&m.SessionID,
				&m.UserID,
				&m.AgentID,
				&m.Timestamp,
				&interactionType,
				&contextBytes,
				&m.Input,
				&m.Output,
				&metadataBytes,
			); err != nil {
				return errors.Wrap(err, "failed to scan episodic_memory")
			}
			m.InteractionType = store.InteractionType(interactionType)
			m.Timestamp = m.Timestamp.UTC()
			if err := unmarshalJSON(contextBytes, &m.Context); err != nil {
				return err
			}
			if err := unmarshalJSON(metadataBytes, &m.Metadata); err != nil {
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

func (d *DB) DeleteEpisodicMemory(ctx context.Context, delete *store.DeleteEpisodicMemory) (int64, error) {
	if delete == nil {
		return 0, errors.New("delete parameter cannot be nil")
	}

	where, args := []string{}, []any{}
	if delete.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *delete.ID)
	}
	if delete.SessionID != nil {
		where, args = append(where, "session_id = "+placeholder(len(args)+1)), append(args, *delete.SessionID)
	}
	if len(where) == 0 {
		return 0, store.ValidationError("no condition to delete episodic_memory")
	}

	stmt := `DELETE FROM episodic_memory WHERE ` + strings.Join(where, " AND ")
	return d.execCount(ctx, "failed to delete episodic_memory", stmt, args...)
}

func (d *DB) DeleteEpisodicMemoriesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return d.execCount(ctx, "failed to delete old episodic_memory",
		`DELETE FROM episodic_memory WHERE timestamp < `+placeholder(1), cutoff)
}

// execCount runs a single statement and returns the affected row count.
func (d *DB) execCount(ctx context.Context, msg, stmt string, args ...any) (int64, error) {
	var n int64
	err := d.withConn(ctx, msg, func(ctx context.Context, conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, stmt, args...)
		if err != nil {
			return err
		}
		n, err = rowsAffected(result)
		return err
	})
	return n, err
}
