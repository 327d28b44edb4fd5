package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/agentmemory/store"
)

const semanticColumns = "id, fact_type, content, embedding, confidence, source, created_at, updated_at, tags, related_entities"

func (d *DB) UpsertSemanticMemory(ctx context.Context, upsert *store.SemanticMemory) (*store.SemanticMemory, error) {
	var result *store.SemanticMemory
	err := d.withConn(ctx, "failed to upsert semantic_memory", func(ctx context.Context, conn *sql.Conn) error {
		var err error
		result, err = upsertSemanticMemory(ctx, conn, upsert)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// upsertSemanticMemory replaces the mutable columns on conflict and keeps
// fact_type, source and created_at of the existing row.
func upsertSemanticMemory(ctx context.Context, q querier, upsert *store.SemanticMemory) (*store.SemanticMemory, error) {
	stmt := `
		INSERT INTO semantic_memory (` + semanticColumns + `)
		VALUES (` + placeholders(10) + `)
		ON CONFLICT (id)
		DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			confidence = EXCLUDED.confidence,
			tags = EXCLUDED.tags,
			related_entities = EXCLUDED.related_entities,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + semanticColumns

	row := q.QueryRowContext(ctx, stmt,
		upsert.ID,
		string(upsert.FactType),
		upsert.Content,
		pgvector.NewVector(upsert.Embedding),
		upsert.Confidence,
		upsert.Source,
		upsert.CreatedAt,
		upsert.UpdatedAt,
		stringArray(upsert.Tags),
		stringArray(upsert.RelatedEntities),
	)
	return scanSemanticMemory(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSemanticMemory(row rowScanner, extra ...any) (*store.SemanticMemory, error) {
	m := &store.SemanticMemory{}
	var factType string
	var vector pgvector.Vector
	dest := []any{
		&m.ID,
		&factType,
		&m.Content,
		&vector,
		&m.Confidence,
		&m.Source,
		&m.CreatedAt,
		&m.UpdatedAt,
		(*pq.StringArray)(&m.Tags),
		(*pq.StringArray)(&m.RelatedEntities),
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, errors.Wrap(err, "failed to scan semantic_memory")
	}
	m.FactType = store.FactType(factType)
	m.Embedding = vector.Slice()
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if m.RelatedEntities == nil {
		m.RelatedEntities = []string{}
	}
	return m, nil
}

func (d *DB) ListSemanticMemories(ctx context.Context, find *store.FindSemanticMemory) ([]*store.SemanticMemory, error) {
	if find == nil {
		return nil, errors.New("find parameter cannot be nil")
	}

	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.FactType != nil {
		where, args = append(where, "fact_type = "+placeholder(len(args)+1)), append(args, string(*find.FactType))
	}
	if find.ContentContains != nil && *find.ContentContains != "" {
		where, args = append(where, "content ILIKE "+placeholder(len(args)+1)), append(args, "%"+escapeLike(*find.ContentContains)+"%")
	}
	if len(find.Tags) > 0 {
		where, args = append(where, "tags && "+placeholder(len(args)+1)), append(args, pq.Array(find.Tags))
	}
	if len(find.RelatedEntities) > 0 {
		where, args = append(where, "related_entities && "+placeholder(len(args)+1)), append(args, pq.Array(find.RelatedEntities))
	}
	if find.MinConfidence != nil {
		where, args = append(where, "confidence >= "+placeholder(len(args)+1)), append(args, *find.MinConfidence)
	}
	if find.UpdatedBefore != nil {
		where, args = append(where, "updated_at < "+placeholder(len(args)+1)), append(args, *find.UpdatedBefore)
	}

	query := `SELECT ` + semanticColumns + `
		FROM semantic_memory WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY confidence DESC, updated_at DESC, id`
	query, args = appendPage(query, args, find.Limit, find.Offset)

	list := make([]*store.SemanticMemory, 0)
	err := d.withConn(ctx, "failed to list semantic_memory", func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scanSemanticMemory(rows)
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

// SearchSemanticMemories performs vector similarity search using pgvector.
// The <=> operator computes cosine distance (1 - cosine_similarity), so rows
// are ordered by distance ASC to get the most similar first.
func (d *DB) SearchSemanticMemories(ctx context.Context, search *store.SimilaritySearch) ([]*store.SemanticMatch, error) {
	query := `
		SELECT ` + semanticColumns + `, 1 - (embedding <=> ` + placeholder(1) + `) AS similarity
		FROM semantic_memory
		WHERE 1 - (embedding <=> ` + placeholder(1) + `) >= ` + placeholder(2) + `
		ORDER BY embedding <=> ` + placeholder(1) + `
		LIMIT ` + placeholder(3)

	vector := pgvector.NewVector(search.Embedding)
	matches := make([]*store.SemanticMatch, 0)
	err := d.withConn(ctx, "failed to search semantic_memory", func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, vector, search.Threshold, search.Limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var similarity float64
			m, err := scanSemanticMemory(rows, &similarity)
			if err != nil {
				return err
			}
			matches = append(matches, &store.SemanticMatch{Memory: m, Similarity: similarity})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// UpdateSemanticEmbeddings replaces embeddings in one transaction. A missing id
// fails the whole batch.
func (d *DB) UpdateSemanticEmbeddings(ctx context.Context, updates []*store.EmbeddingUpdate) error {
	stmt := `UPDATE semantic_memory SET embedding = ` + placeholder(1) + `, updated_at = ` + placeholder(2) + ` WHERE id = ` + placeholder(3)
	return d.WithTx(ctx, len(updates), func(ctx context.Context, tx *sql.Tx) error {
		for i, u := range updates {
			result, err := tx.ExecContext(ctx, stmt, pgvector.NewVector(u.Embedding), u.UpdatedAt, u.ID)
			if err != nil {
				return store.BatchError(i, classify("failed to update embedding", err))
			}
			n, err := rowsAffected(result)
			if err != nil {
				return store.BatchError(i, classify("failed to update embedding", err))
			}
			if n == 0 {
				return store.BatchError(i, store.NotFound("semantic_memory", u.ID))
			}
		}
		return nil
	})
}

func (d *DB) DeleteLowConfidenceSemanticMemories(ctx context.Context, minConfidence float64, createdBefore time.Time) (int64, error) {
	return d.execCount(ctx, "failed to delete low confidence semantic_memory",
		`DELETE FROM semantic_memory WHERE confidence < `+placeholder(1)+` AND created_at < `+placeholder(2),
		minConfidence, createdBefore)
}

// escapeLike escapes the LIKE wildcards in s.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
