package project

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store is the durable registry of projects. The Postgres implementation is
// authoritative; the in-memory Cache is only an index over it.
type Store interface {
	// Insert persists a project with insert-or-fetch semantics: when another
	// caller already registered the same name, the winner's row is returned
	// instead of an error.
	Insert(ctx context.Context, p *Project) (*Project, error)

	// FindByID returns the project with the given ID, or ErrProjectNotFound.
	FindByID(ctx context.Context, id string) (*Project, error)

	// FindByName returns the project with the given name, or ErrProjectNotFound.
	FindByName(ctx context.Context, name string) (*Project, error)

	// List returns all registered projects ordered by creation time.
	List(ctx context.Context) ([]*Project, error)
}

// PostgresStore implements Store on the shared registry database.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a store over the registry pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("registry pool cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

const projectColumns = "id, name, database_name, created_at, updated_at, metadata"

// Insert registers a project. Concurrent inserts for the same name are
// resolved by the uniqueness constraint: exactly one row survives and every
// caller reads it back. Never implemented as check-then-insert.
func (s *PostgresStore) Insert(ctx context.Context, p *Project) (*Project, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO projects (id, name, database_name, created_at, updated_at, metadata)
		VALUES ($1, $2, $3, now(), now(), $4)
		ON CONFLICT (name) DO NOTHING`,
		p.ID, p.Name, p.DatabaseName, p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("inserting project %s: %w", p.Name, err)
	}

	if tag.RowsAffected() == 0 {
		// Lost the race: read back the winner's row.
		s.logger.Debug("insert conflict, reading back winner", zap.String("name", p.Name))
		return s.FindByName(ctx, p.Name)
	}

	return s.FindByName(ctx, p.Name)
}

// FindByID returns the project with the given ID.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*Project, error) {
	if id == "" {
		return nil, ErrEmptyProjectID
	}
	return s.scanOne(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = $1", id)
}

// FindByName returns the project with the given name.
func (s *PostgresStore) FindByName(ctx context.Context, name string) (*Project, error) {
	if name == "" {
		return nil, ErrEmptyProjectName
	}
	return s.scanOne(ctx, "SELECT "+projectColumns+" FROM projects WHERE name = $1", name)
}

// List returns all projects, oldest first.
func (s *PostgresStore) List(ctx context.Context) ([]*Project, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+projectColumns+" FROM projects ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.DatabaseName, &p.CreatedAt, &p.UpdatedAt, &p.Metadata); err != nil {
			return nil, fmt.Errorf("scanning project row: %w", err)
		}
		projects = append(projects, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating project rows: %w", err)
	}

	return projects, nil
}

func (s *PostgresStore) scanOne(ctx context.Context, query string, arg any) (*Project, error) {
	var p Project
	err := s.pool.QueryRow(ctx, query, arg).
		Scan(&p.ID, &p.Name, &p.DatabaseName, &p.CreatedAt, &p.UpdatedAt, &p.Metadata)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", ErrProjectNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("querying project: %w", err)
	}
	return &p, nil
}
