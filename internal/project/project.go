package project

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/codexd/internal/naming"
)

// Common errors.
var (
	ErrProjectNotFound   = errors.New("project not found")
	ErrEmptyProjectID    = errors.New("project ID cannot be empty")
	ErrEmptyProjectName  = errors.New("project name cannot be empty")
	ErrEmptyDatabaseName = errors.New("database name cannot be empty")
)

// DefaultProjectName is the fallback project used when no resolution tier
// produces a result. It is a real project, provisioned on first use.
const DefaultProjectName = "default"

// Project is one registry row: a tenant with its own isolated database.
type Project struct {
	// ID is the unique project identifier. Immutable once assigned.
	ID string `json:"id"`

	// Name is the human-chosen label, unique within the registry.
	Name string `json:"name"`

	// DatabaseName is the physical database backing this project. It always
	// carries the codexd_ prefix and is immutable after creation.
	DatabaseName string `json:"database_name"`

	// CreatedAt is when the project was registered.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the registry row was last modified.
	UpdatedAt time.Time `json:"updated_at"`

	// Metadata is an open key/value bag for provenance and feature flags.
	// Never interpreted by the control plane.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// New creates an unpersisted project with a generated UUID and database name.
func New(name string) (*Project, error) {
	if name == "" {
		return nil, ErrEmptyProjectName
	}

	now := time.Now().UTC()
	return &Project{
		ID:           uuid.New().String(),
		Name:         name,
		DatabaseName: naming.GenerateDatabaseName(name),
		CreatedAt:    now,
		UpdatedAt:    now,
		Metadata:     map[string]any{},
	}, nil
}

// Validate checks the fields required before insertion.
func (p *Project) Validate() error {
	if p.ID == "" {
		return ErrEmptyProjectID
	}
	if p.Name == "" {
		return ErrEmptyProjectName
	}
	if p.DatabaseName == "" {
		return ErrEmptyDatabaseName
	}
	return naming.ValidateDatabaseName(p.DatabaseName)
}
