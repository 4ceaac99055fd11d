package project

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codexd/internal/naming"
	"github.com/fyrsmithlabs/codexd/internal/workspace"
)

// Resolution tiers, in priority order.
const (
	tierExplicit    = "explicit"
	tierConfigFile  = "config_file"
	tierIntegration = "integration"
	tierDefault     = "default"
)

// Integration reports the externally active project. Implemented by
// workspace.Client; "" means no opinion.
type Integration interface {
	ActiveProject(ctx context.Context) string
}

// Sessions maps a session handle to its working directory. Implemented by
// session.Tracker.
type Sessions interface {
	WorkingDirectory(sessionID string) (string, bool)
}

// ConfigLocator finds and persists workspace config files. Implemented by
// workspace.Locator.
type ConfigLocator interface {
	Find(startDir string) (*workspace.FileConfig, string)
	Persist(path string, cfg *workspace.FileConfig) error
}

// Request carries the hints a caller presents for resolution. Both fields
// are optional; an empty request resolves to the default project.
type Request struct {
	// ProjectID is an explicit project id. When set, it always wins: an
	// unknown id creates a new project rather than falling through.
	ProjectID string `json:"project_id,omitempty"`

	// SessionID selects the working directory whose workspace config file,
	// if any, names the project.
	SessionID string `json:"session_id,omitempty"`
}

// Resolution is the outcome every caller needs: which project, which
// physical database.
type Resolution struct {
	ProjectID    string `json:"project_id"`
	DatabaseName string `json:"database_name"`
}

// Deps are the resolver's collaborators. Store, Provisioner and Logger are
// required; the rest disable their tier when nil.
type Deps struct {
	Store       Store
	Provisioner Provisioner
	Cache       *Cache
	Configs     ConfigLocator
	Sessions    Sessions
	Integration Integration
	Logger      *zap.Logger
}

// Resolver runs the 4-tier resolution chain.
type Resolver struct {
	store       Store
	prov        Provisioner
	cache       *Cache
	configs     ConfigLocator
	sessions    Sessions
	integration Integration
	logger      *zap.Logger
	metrics     *resolverMetrics
}

// NewResolver creates a resolver.
func NewResolver(deps Deps) (*Resolver, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if deps.Provisioner == nil {
		return nil, fmt.Errorf("provisioner cannot be nil")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Cache == nil {
		deps.Cache = NewCache()
	}

	return &Resolver{
		store:       deps.Store,
		prov:        deps.Provisioner,
		cache:       deps.Cache,
		configs:     deps.Configs,
		sessions:    deps.Sessions,
		integration: deps.Integration,
		logger:      deps.Logger,
		metrics:     newResolverMetrics(deps.Logger),
	}, nil
}

// Cache exposes the in-memory registry cache, primarily so operators and
// tests can force re-consultation of the durable store.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Resolve determines which project a request belongs to.
//
// Tiers run strictly in priority order and stop at the first result. A
// failure inside an optional tier (no config file, integration timeout)
// falls through silently; a failure in the mandatory provisioning step is
// returned loudly.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	// Tier 1: explicit id. Unconditional; never falls through.
	if req.ProjectID != "" {
		p, err := r.getOrCreateByID(ctx, req.ProjectID)
		if err != nil {
			return nil, err
		}
		r.metrics.recordResolution(ctx, tierExplicit)
		return resolution(p), nil
	}

	// Tier 2: workspace config file above the session's working directory.
	if req.SessionID != "" && r.sessions != nil && r.configs != nil {
		if dir, ok := r.sessions.WorkingDirectory(req.SessionID); ok {
			if cfg, path := r.configs.Find(dir); cfg != nil {
				p, err := r.getOrCreateFromConfig(ctx, cfg, path)
				if err != nil {
					return nil, err
				}
				r.metrics.recordResolution(ctx, tierConfigFile)
				return resolution(p), nil
			}
		}
	}

	// Tier 3: external workspace integration.
	if r.integration != nil {
		if id := r.integration.ActiveProject(ctx); id != "" {
			p, err := r.getOrCreateByID(ctx, id)
			if err != nil {
				return nil, err
			}
			r.metrics.recordResolution(ctx, tierIntegration)
			return resolution(p), nil
		}
	}

	// Tier 4: fixed default project. Never absent.
	p, err := r.getOrCreateByName(ctx, DefaultProjectName)
	if err != nil {
		return nil, err
	}
	r.metrics.recordResolution(ctx, tierDefault)
	return resolution(p), nil
}

func resolution(p *Project) *Resolution {
	return &Resolution{ProjectID: p.ID, DatabaseName: p.DatabaseName}
}

// getOrCreateByID looks a project up by id and creates it when missing. The
// new project is named after the id, per the explicit-tier contract.
func (r *Resolver) getOrCreateByID(ctx context.Context, id string) (*Project, error) {
	if p := r.cache.GetByID(id); p != nil {
		return p, nil
	}

	p, err := r.store.FindByID(ctx, id)
	switch {
	case err == nil:
		return r.ensureDatabase(ctx, p)
	case errors.Is(err, ErrProjectNotFound):
		return r.create(ctx, createSpec{id: id, name: id})
	default:
		return nil, err
	}
}

// getOrCreateByName looks a project up by name and creates it when missing.
func (r *Resolver) getOrCreateByName(ctx context.Context, name string) (*Project, error) {
	if p := r.cache.GetByName(name); p != nil {
		return p, nil
	}

	p, err := r.store.FindByName(ctx, name)
	switch {
	case err == nil:
		return r.ensureDatabase(ctx, p)
	case errors.Is(err, ErrProjectNotFound):
		return r.create(ctx, createSpec{name: name})
	default:
		return nil, err
	}
}

// getOrCreateFromConfig resolves a workspace config file: by id when the
// file carries one, else by name, creating on a full miss. A database-name
// override that lacks the fixed prefix is a hard input error and creates
// nothing.
func (r *Resolver) getOrCreateFromConfig(ctx context.Context, cfg *workspace.FileConfig, path string) (*Project, error) {
	if cfg.Project.DatabaseName != "" {
		if err := naming.ValidateDatabaseName(cfg.Project.DatabaseName); err != nil {
			return nil, fmt.Errorf("workspace config %s: invalid database_name override: %w", path, err)
		}
	}

	if cfg.Project.ID != "" {
		if p := r.cache.GetByID(cfg.Project.ID); p != nil {
			return p, nil
		}
		p, err := r.store.FindByID(ctx, cfg.Project.ID)
		switch {
		case err == nil:
			return r.ensureDatabase(ctx, p)
		case errors.Is(err, ErrProjectNotFound):
			// Fall through to name lookup; the file may predate a registry
			// wipe.
		default:
			return nil, err
		}
	}

	name := cfg.Project.Name
	if name == "" {
		name = cfg.Project.ID
	}

	if p := r.cache.GetByName(name); p != nil {
		return p, nil
	}

	p, err := r.store.FindByName(ctx, name)
	switch {
	case err == nil:
		return r.ensureDatabase(ctx, p)
	case errors.Is(err, ErrProjectNotFound):
	default:
		return nil, err
	}

	created, err := r.create(ctx, createSpec{
		id:           cfg.Project.ID,
		name:         name,
		databaseName: cfg.Project.DatabaseName,
	})
	if err != nil {
		return nil, err
	}

	// First-time resolution from a file lacking an id: write the generated
	// identity back so future lookups skip name resolution. Best-effort; the
	// resolution itself already succeeded.
	if cfg.Project.ID == "" {
		cfg.Project.ID = created.ID
		cfg.Project.DatabaseName = created.DatabaseName
		if err := r.configs.Persist(path, cfg); err != nil {
			r.logger.Warn("failed to write project id back to workspace config",
				zap.String("path", path),
				zap.String("project_id", created.ID),
				zap.Error(err),
			)
		}
	}

	return created, nil
}

// createSpec describes a project to create. Empty fields are generated.
type createSpec struct {
	id           string
	name         string
	databaseName string
}

// create registers and provisions a new project. The registry's uniqueness
// constraint is the tie-breaker for concurrent first-time creation: every
// racer converges on the surviving row and provisioning is idempotent under
// the winner's database name.
func (r *Resolver) create(ctx context.Context, spec createSpec) (*Project, error) {
	p, err := New(spec.name)
	if err != nil {
		return nil, err
	}
	if spec.id != "" {
		p.ID = spec.id
	}
	if spec.databaseName != "" {
		p.DatabaseName = spec.databaseName
	}

	winner, err := r.store.Insert(ctx, p)
	if err != nil {
		return nil, err
	}

	if winner.ID != p.ID {
		r.logger.Debug("lost creation race, adopting winner",
			zap.String("name", winner.Name),
			zap.String("project_id", winner.ID),
		)
	}

	if err := r.prov.Provision(ctx, winner.DatabaseName); err != nil {
		return nil, fmt.Errorf("provisioning database for project %s: %w", winner.Name, err)
	}
	r.metrics.recordProvision(ctx)

	r.cache.Put(winner)
	r.logger.Info("project ready",
		zap.String("project_id", winner.ID),
		zap.String("name", winner.Name),
		zap.String("database", winner.DatabaseName),
	)
	return winner, nil
}

// ensureDatabase verifies that a registry row's physical database still
// exists and re-provisions it under the same name when it does not. An
// orphaned row is an expected, self-healing condition, not an error. One
// recovery attempt per resolution call; a hard failure surfaces and the next
// call retries.
func (r *Resolver) ensureDatabase(ctx context.Context, p *Project) (*Project, error) {
	exists, err := r.prov.Exists(ctx, p.DatabaseName)
	if err != nil {
		return nil, fmt.Errorf("verifying database for project %s: %w", p.Name, err)
	}

	if !exists {
		r.logger.Warn("registry row orphaned, re-provisioning database",
			zap.String("project_id", p.ID),
			zap.String("database", p.DatabaseName),
		)
		// Same database_name, same identity. Never generate a new name here.
		if err := r.prov.Provision(ctx, p.DatabaseName); err != nil {
			return nil, fmt.Errorf("recovering database for project %s: %w", p.Name, err)
		}
		r.metrics.recordRecovery(ctx)
	}

	r.cache.Put(p)
	return p, nil
}
