package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/agentmemory/store"
)

const proceduralColumns = "id, user_id, pattern_type, pattern, frequency, confidence, last_used, created_at, updated_at"

func (d *DB) UpsertProceduralMemory(ctx context.Context, upsert *store.ProceduralMemory) (*store.ProceduralMemory, error) {
	var result *store.ProceduralMemory
	err := d.withConn(ctx, "failed to upsert procedural_memory", func(ctx context.Context, conn *sql.Conn) error {
		var err error
		result, err = upsertProceduralMemory(ctx, conn, upsert)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// upsertProceduralMemory keeps the stored frequency on conflict.
func upsertProceduralMemory(ctx context.Context, q querier, upsert *store.ProceduralMemory) (*store.ProceduralMemory, error) {
	patternBytes, err := marshalJSON(upsert.Pattern)
	if err != nil {
		return nil, err
	}
	stmt := `
		INSERT INTO procedural_memory (` + proceduralColumns + `)
		VALUES (` + placeholders(9) + `)
		ON CONFLICT (id)
		DO UPDATE SET
			pattern = EXCLUDED.pattern,
			confidence = EXCLUDED.confidence,
			last_used = EXCLUDED.last_used,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + proceduralColumns

	row := q.QueryRowContext(ctx, stmt,
		upsert.ID,
		upsert.UserID,
		string(upsert.PatternType),
		patternBytes,
		upsert.Frequency,
		upsert.Confidence,
		upsert.LastUsed,
		upsert.CreatedAt,
		upsert.UpdatedAt,
	)
	return scanProceduralMemory(row)
}

func scanProceduralMemory(row rowScanner) (*store.ProceduralMemory, error) {
	m := &store.ProceduralMemory{}
	var patternType string
	var patternBytes []byte
	if err := row.Scan(
		&m.ID,
		&m.UserID,
		&patternType,
		&patternBytes,
		&m.Frequency,
		&m.Confidence,
		&m.LastUsed,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan procedural_memory")
	}
	m.PatternType = store.PatternType(patternType)
	m.LastUsed = m.LastUsed.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	if err := unmarshalJSON(patternBytes, &m.Pattern); err != nil {
		return nil, err
	}
	return m, nil
}

func (d *DB) ListProceduralMemories(ctx context.Context, find *store.FindProceduralMemory) ([]*store.ProceduralMemory, error) {
	if find == nil {
		return nil, errors.New("find parameter cannot be nil")
	}

	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.PatternType != nil {
		where, args = append(where, "pattern_type = "+placeholder(len(args)+1)), append(args, string(*find.PatternType))
	}
	if find.MinFrequency != nil {
		where, args = append(where, "frequency >= "+placeholder(len(args)+1)), append(args, *find.MinFrequency)
	}
	if find.MinConfidence != nil {
		where, args = append(where, "confidence >= "+placeholder(len(args)+1)), append(args, *find.MinConfidence)
	}

	query := `SELECT ` + proceduralColumns + `
		FROM procedural_memory WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY frequency DESC, confidence DESC, last_used DESC, id`
	query, args = appendPage(query, args, find.Limit, find.Offset)

	list := make([]*store.ProceduralMemory, 0)
	err := d.withConn(ctx, "failed to list procedural_memory", func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scanProceduralMemory(rows)
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

// IncrementProceduralFrequency adds one in a single UPDATE so that concurrent
// increments serialize on the row lock.
func (d *DB) IncrementProceduralFrequency(ctx context.Context, id string, now time.Time) (*store.ProceduralMemory, error) {
	stmt := `
		UPDATE procedural_memory
		SET frequency = frequency + 1, last_used = ` + placeholder(2) + `, updated_at = ` + placeholder(2) + `
		WHERE id = ` + placeholder(1) + `
		RETURNING ` + proceduralColumns

	var result *store.ProceduralMemory
	err := d.withConn(ctx, "failed to increment procedural_memory frequency", func(ctx context.Context, conn *sql.Conn) error {
		m, err := scanProceduralMemory(conn.QueryRowContext(ctx, stmt, id, now))
		if errors.Is(err, sql.ErrNoRows) {
			return store.NotFound("procedural_memory", id)
		}
		result = m
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
