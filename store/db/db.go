package db

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hrygo/agentmemory/internal/profile"
	"github.com/hrygo/agentmemory/store"
	"github.com/hrygo/agentmemory/store/db/postgres"
)

// ============================================================================
// DATABASE SUPPORT POLICY
// ============================================================================
// PostgreSQL with the pgvector extension is the only supported database.
// Similarity search depends on the vector type and HNSW index, which have
// no equivalent in the other engines.
// ============================================================================

// NewDBDriver creates new db driver based on profile.
func NewDBDriver(ctx context.Context, profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "postgres", "":
		driver, err = postgres.NewDB(ctx, profile)
	default:
		return nil, errors.Errorf("unknown db driver %q: only 'postgres' is supported", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
