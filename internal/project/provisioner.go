package project

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codexd/internal/naming"
)

// pgDuplicateDatabase is SQLSTATE 42P04, raised by CREATE DATABASE when the
// target already exists. Two processes racing to provision the same name
// after both missed the cache must both succeed.
const pgDuplicateDatabase = "42P04"

// Provisioner creates project databases and checks their existence.
type Provisioner interface {
	// Provision physically creates the named database and applies the init
	// schema. Idempotent: an already-existing database is success.
	Provision(ctx context.Context, databaseName string) error

	// Exists reports whether the named database physically exists, queried
	// from the engine catalog, not the registry.
	Exists(ctx context.Context, databaseName string) (bool, error)
}

// initSchema is the fixed initialization script applied to every freshly
// provisioned project database: the pgvector extension plus the tables the
// indexing pipeline writes into.
var initSchema = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS code_chunks (
		id         BIGSERIAL PRIMARY KEY,
		file_path  TEXT NOT NULL,
		start_line INT NOT NULL,
		end_line   INT NOT NULL,
		content    TEXT NOT NULL,
		embedding  vector(1536),
		indexed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS code_chunks_file_path_idx ON code_chunks (file_path)`,
	`CREATE TABLE IF NOT EXISTS index_runs (
		id          BIGSERIAL PRIMARY KEY,
		started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		finished_at TIMESTAMPTZ,
		status      TEXT NOT NULL DEFAULT 'running'
	)`,
}

// PostgresProvisioner implements Provisioner against a live Postgres server.
// CREATE DATABASE runs on the registry (admin) pool; schema init runs on the
// new database's own pool.
type PostgresProvisioner struct {
	admin  *pgxpool.Pool
	pools  *PoolManager
	logger *zap.Logger
}

// NewPostgresProvisioner creates a provisioner.
func NewPostgresProvisioner(admin *pgxpool.Pool, pools *PoolManager, logger *zap.Logger) (*PostgresProvisioner, error) {
	if admin == nil {
		return nil, fmt.Errorf("admin pool cannot be nil")
	}
	if pools == nil {
		return nil, fmt.Errorf("pool manager cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresProvisioner{admin: admin, pools: pools, logger: logger}, nil
}

// Provision creates the database and applies the init schema.
//
// Failure modes (insufficient privilege, engine unreachable) surface as
// errors; they are never retried here. A duplicate database is success so
// that racing provisioners and orphan recovery both converge.
func (p *PostgresProvisioner) Provision(ctx context.Context, databaseName string) error {
	// Only prefixed names may ever reach CREATE DATABASE.
	if err := naming.ValidateDatabaseName(databaseName); err != nil {
		return err
	}

	created := true
	_, err := p.admin.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{databaseName}.Sanitize())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgDuplicateDatabase {
			created = false
		} else {
			return fmt.Errorf("creating database %s: %w", databaseName, err)
		}
	}

	if created {
		// Any pool from before an out-of-band drop holds dead connections.
		p.pools.Evict(databaseName)
	}

	pool, err := p.pools.Get(ctx, databaseName)
	if err != nil {
		return fmt.Errorf("opening pool for %s: %w", databaseName, err)
	}

	for _, stmt := range initSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("initializing schema in %s: %w", databaseName, err)
		}
	}

	p.logger.Info("provisioned project database",
		zap.String("database", databaseName),
		zap.Bool("created", created),
	)
	return nil
}

// Exists checks the pg_database catalog for the named database.
func (p *PostgresProvisioner) Exists(ctx context.Context, databaseName string) (bool, error) {
	if databaseName == "" {
		return false, ErrEmptyDatabaseName
	}

	var exists bool
	err := p.admin.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", databaseName).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking database existence for %s: %w", databaseName, err)
	}
	return exists, nil
}
