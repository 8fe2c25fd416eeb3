package database

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/khabaroff/pcn-tracker/src/logging"
)

//go:embed schema.sql
var schemaSQL string

// Database holds the PostgreSQL connection pool
type Database struct {
	pool *pgxpool.Pool
}

// Options tunes the connection pool
type Options struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	SkipSchema      bool
}

// DefaultOptions matches a single service replica
func DefaultOptions() Options {
	return Options{
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 1 * time.Minute,
	}
}

// New creates a new database connection
func New(ctx context.Context, databaseURL string, opts Options) (*Database, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = opts.MaxConns
	config.MinConns = opts.MinConns
	config.MaxConnLifetime = opts.MaxConnLifetime
	config.MaxConnIdleTime = opts.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	db := &Database{pool: pool}

	if !opts.SkipSchema {
		if err := db.initializeSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return db, nil
}

// Close closes the database connection pool
func (db *Database) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// GetPool returns the connection pool
func (db *Database) GetPool() *pgxpool.Pool {
	return db.pool
}

// initializeSchema executes the embedded schema and migrations
func (db *Database) initializeSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := db.runMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logger := logging.NewLogger("database")
	logger.Info().Msg("database schema initialized")
	return nil
}

// migrations bring databases created by older releases up to the current schema
var migrations = []struct {
	name string
	sql  string
}{
	{
		name: "appointments.source_updated_at",
		sql:  `ALTER TABLE appointments ADD COLUMN IF NOT EXISTS source_updated_at TIMESTAMPTZ`,
	},
	{
		name: "pcn_records.revision",
		sql:  `ALTER TABLE pcn_records ADD COLUMN IF NOT EXISTS revision INTEGER NOT NULL DEFAULT 1`,
	},
	{
		// cancelled rows written before the flag existed must satisfy cancelled_is_excluded
		name: "appointments.cancelled_flag_backfill",
		sql:  `UPDATE appointments SET inclusion_flag = 'excluded' WHERE status = 'cancelled' AND inclusion_flag <> 'excluded'`,
	},
}

// runMigrations runs database migrations
func (db *Database) runMigrations(ctx context.Context) error {
	logger := logging.NewLogger("database")
	for _, m := range migrations {
		result, err := db.pool.Exec(ctx, m.sql)
		if err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		if result.RowsAffected() > 0 {
			logger.Info().Str("migration", m.name).Int64("rows", result.RowsAffected()).Msg("migration applied")
		}
	}
	return nil
}

// Health checks if the database is healthy
func (db *Database) Health(ctx context.Context) error {
	if db == nil || db.pool == nil {
		return fmt.Errorf("database connection not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return db.pool.Ping(ctx)
}

// WithTx runs fn in a transaction, committing on nil and rolling back otherwise
func (db *Database) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, db.pool, fn)
}
