package postgres

import (
	"context"
	"database/sql"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/agentmemory/store"
)

// GetStatistics runs the six aggregate queries concurrently, each on its own
// pooled connection. The first failure cancels the rest.
func (d *DB) GetStatistics(ctx context.Context, now time.Time) (*store.Statistics, error) {
	stats := &store.Statistics{
		EpisodicByAgent:         map[string]int64{},
		SemanticByFactType:      map[string]int64{},
		SemanticAvgConfidence:   map[string]float64{},
		ProceduralByPatternType: map[string]int64{},
		CollectedAt:             now,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.queryScalar(ctx, "failed to count episodic_memory",
			`SELECT COUNT(*) FROM episodic_memory`, nil, &stats.EpisodicTotal)
	})
	g.Go(func() error {
		return d.queryGroups(ctx, "failed to count episodic_memory by agent",
			`SELECT agent_id, COUNT(*) FROM episodic_memory GROUP BY agent_id`, nil,
			func(rows *sql.Rows) error {
				var agent string
				var count int64
				if err := rows.Scan(&agent, &count); err != nil {
					return err
				}
				stats.EpisodicByAgent[agent] = count
				return nil
			})
	})
	g.Go(func() error {
		return d.queryGroups(ctx, "failed to aggregate semantic_memory",
			`SELECT fact_type, COUNT(*), AVG(confidence) FROM semantic_memory GROUP BY fact_type`, nil,
			func(rows *sql.Rows) error {
				var factType string
				var count int64
				var avg float64
				if err := rows.Scan(&factType, &count, &avg); err != nil {
					return err
				}
				stats.SemanticByFactType[factType] = count
				stats.SemanticAvgConfidence[factType] = avg
				stats.SemanticTotal += count
				return nil
			})
	})
	g.Go(func() error {
		return d.withConn(ctx, "failed to count working_memory", func(ctx context.Context, conn *sql.Conn) error {
			return conn.QueryRowContext(ctx, `
				SELECT
					COUNT(*) FILTER (WHERE expires_at > `+placeholder(1)+`),
					COUNT(*) FILTER (WHERE expires_at <= `+placeholder(1)+`)
				FROM working_memory`, now).Scan(&stats.WorkingActive, &stats.WorkingExpired)
		})
	})
	g.Go(func() error {
		return d.queryGroups(ctx, "failed to count procedural_memory by pattern",
			`SELECT pattern_type, COUNT(*) FROM procedural_memory GROUP BY pattern_type`, nil,
			func(rows *sql.Rows) error {
				var patternType string
				var count int64
				if err := rows.Scan(&patternType, &count); err != nil {
					return err
				}
				stats.ProceduralByPatternType[patternType] = count
				return nil
			})
	})
	g.Go(func() error {
		return d.queryScalar(ctx, "failed to count procedural_memory",
			`SELECT COUNT(*) FROM procedural_memory`, nil, &stats.ProceduralTotal)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

func (d *DB) queryScalar(ctx context.Context, msg, query string, args []any, dest any) error {
	return d.withConn(ctx, msg, func(ctx context.Context, conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, query, args...).Scan(dest)
	})
}

func (d *DB) queryGroups(ctx context.Context, msg, query string, args []any, scan func(rows *sql.Rows) error) error {
	return d.withConn(ctx, msg, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			if err := scan(rows); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}
