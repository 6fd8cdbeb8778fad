// Package db provides PostgreSQL access for automation run records,
// persisted settings, and the read-only dependency snapshots shipped to the
// worker process.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// ConcurrencyLimitError is returned by CreateRunAdmitted and
// PromotePendingRun when the number of running runs of the requested type is
// already at the effective ceiling.
type ConcurrencyLimitError struct {
	RunType string
	Active  int
	Limit   int
}

func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("concurrency limit reached for %s runs: %d of %d active", e.RunType, e.Active, e.Limit)
}

// RunNotFoundError is returned for operations on an unknown run id.
type RunNotFoundError struct {
	RunID string
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("automation run not found: %s", e.RunID)
}
