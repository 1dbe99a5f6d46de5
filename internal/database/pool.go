// Package database opens the Entity Store named by DATABASE_URL:
// PostgreSQL through a pgx pool, or an embedded SQLite file.
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caseledger/custody-server/internal/store"
	"github.com/caseledger/custody-server/internal/store/postgres"
	"github.com/caseledger/custody-server/internal/store/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrator applies the embedded schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Database is an opened store together with its schema migrator.
type Database interface {
	store.Store
	Migrator
}

// Open connects to the store named by databaseURL.
func Open(ctx context.Context, databaseURL string) (Database, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		pool, err := NewPool(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		return postgres.New(pool), nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		s, err := sqlite.Open(ctx, strings.TrimPrefix(databaseURL, "sqlite://"))
		if err != nil {
			return nil, err
		}
		return s, nil
	case databaseURL == "":
		return nil, fmt.Errorf("database URL is empty")
	}
	return nil, fmt.Errorf("unsupported database URL scheme: %q", redact(databaseURL))
}

// NewPool creates a new PostgreSQL connection pool with optimized settings
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is empty")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return pool, nil
}

func redact(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		return url[:i] + "://..."
	}
	return "..."
}
