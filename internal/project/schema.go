package project

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// registrySchema holds the DDL for the shared registry database: the
// projects relation plus the workspace_schemas mapping used by the
// schema-isolation variant.
var registrySchema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL UNIQUE,
		database_name TEXT NOT NULL UNIQUE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		metadata      JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,
	`CREATE TABLE IF NOT EXISTS workspace_schemas (
		project_id  TEXT PRIMARY KEY REFERENCES projects(id),
		schema_name TEXT NOT NULL UNIQUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS workspace_schemas_created_at_idx
		ON workspace_schemas (created_at)`,
}

// ErrSchemaNotFound indicates no schema mapping exists for a project.
var ErrSchemaNotFound = errors.New("schema mapping not found")

// SchemaMapping is one row of the schema-isolation variant: a project pinned
// to a named schema inside a shared database instead of its own database.
type SchemaMapping struct {
	ProjectID  string    `json:"project_id"`
	SchemaName string    `json:"schema_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// EnsureSchema applies the registry DDL. Safe to run on every startup.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range registrySchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying registry schema: %w", err)
		}
	}
	return nil
}

// AssignSchema records a schema name for a project, with the same
// insert-or-fetch semantics as project registration: when a mapping already
// exists for the project, the existing one is returned.
func (s *PostgresStore) AssignSchema(ctx context.Context, projectID, schemaName string) (*SchemaMapping, error) {
	if projectID == "" {
		return nil, ErrEmptyProjectID
	}
	if schemaName == "" {
		return nil, fmt.Errorf("schema name cannot be empty")
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO workspace_schemas (project_id, schema_name, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (project_id) DO NOTHING`,
		projectID, schemaName)
	if err != nil {
		return nil, fmt.Errorf("assigning schema for %s: %w", projectID, err)
	}

	return s.SchemaForProject(ctx, projectID)
}

// SchemaForProject returns the schema mapping for a project.
func (s *PostgresStore) SchemaForProject(ctx context.Context, projectID string) (*SchemaMapping, error) {
	var m SchemaMapping
	err := s.pool.QueryRow(ctx, `
		SELECT project_id, schema_name, created_at
		FROM workspace_schemas WHERE project_id = $1`, projectID).
		Scan(&m.ProjectID, &m.SchemaName, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying schema mapping: %w", err)
	}
	return &m, nil
}

// ListSchemas returns all schema mappings, oldest first. The created_at
// index keeps this cheap for listing and archival sweeps.
func (s *PostgresStore) ListSchemas(ctx context.Context) ([]*SchemaMapping, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT project_id, schema_name, created_at
		FROM workspace_schemas ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing schema mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*SchemaMapping
	for rows.Next() {
		var m SchemaMapping
		if err := rows.Scan(&m.ProjectID, &m.SchemaName, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning schema mapping: %w", err)
		}
		mappings = append(mappings, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schema mappings: %w", err)
	}

	return mappings, nil
}
