package test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/hrygo/agentmemory/internal/profile"
	"github.com/hrygo/agentmemory/store"
	"github.com/hrygo/agentmemory/store/db"
)

// testDimension keeps test vectors small; the schema is rendered with it.
const testDimension = 3

func getDriverFromEnv() string {
	return os.Getenv("DRIVER")
}

func getTestingProfile(t *testing.T) *profile.Profile {
	t.Helper()
	p := &profile.Profile{
		Mode:               "dev",
		Driver:             "postgres",
		DSN:                GetPostgresDSN(t),
		MaxPoolSize:        5,
		ConnectionTimeout:  5 * time.Second,
		QueryTimeout:       10 * time.Second,
		RetryBackoff:       time.Second,
		EmbeddingDimension: testDimension,
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("failed to validate profile: %v", err)
	}
	return p
}

// NewTestingStore connects to a fresh database and initializes the schema.
func NewTestingStore(ctx context.Context, t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	p := getTestingProfile(t)
	driver, err := db.NewDBDriver(ctx, p)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}

	s := store.New(driver, p, opts...)
	if err := s.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Logf("failed to close store: %v", err)
		}
	})
	return s
}

func requirePostgres(t *testing.T) {
	t.Helper()
	if getDriverFromEnv() != "postgres" {
		t.Skip("memory store integration tests require DRIVER=postgres")
	}
}
