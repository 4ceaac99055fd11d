package project

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codexd/internal/naming"
	"github.com/fyrsmithlabs/codexd/internal/session"
	"github.com/fyrsmithlabs/codexd/internal/workspace"
)

// memStore is an in-memory Store with the same insert-or-fetch semantics as
// the Postgres implementation.
type memStore struct {
	mu     sync.Mutex
	byID   map[string]*Project
	byName map[string]*Project
}

func newMemStore() *memStore {
	return &memStore{
		byID:   make(map[string]*Project),
		byName: make(map[string]*Project),
	}
}

func (s *memStore) Insert(_ context.Context, p *Project) (*Project, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Uniqueness on name decides the race; the loser reads back the winner.
	if existing, ok := s.byName[p.Name]; ok {
		return existing, nil
	}

	stored := *p
	s.byID[stored.ID] = &stored
	s.byName[stored.Name] = &stored
	return &stored, nil
}

func (s *memStore) FindByID(_ context.Context, id string) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.byID[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
}

func (s *memStore) FindByName(_ context.Context, name string) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.byName[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, name)
}

func (s *memStore) List(_ context.Context) ([]*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Project, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// fakeProvisioner tracks physical databases in a map.
type fakeProvisioner struct {
	mu         sync.Mutex
	databases  map[string]bool
	provisions int
	failWith   error
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{databases: make(map[string]bool)}
}

func (f *fakeProvisioner) Provision(_ context.Context, databaseName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.databases[databaseName] = true
	f.provisions++
	return nil
}

func (f *fakeProvisioner) Exists(_ context.Context, databaseName string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.databases[databaseName], nil
}

func (f *fakeProvisioner) drop(databaseName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.databases, databaseName)
}

func (f *fakeProvisioner) databaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.databases)
}

// staticIntegration always reports the same active project.
type staticIntegration struct{ id string }

func (s *staticIntegration) ActiveProject(context.Context) string { return s.id }

// resolverFixture wires a resolver over in-memory fakes.
type resolverFixture struct {
	resolver *Resolver
	store    *memStore
	prov     *fakeProvisioner
	sessions *session.Tracker
}

func newFixture(t *testing.T, integration Integration) *resolverFixture {
	t.Helper()

	store := newMemStore()
	prov := newFakeProvisioner()
	sessions := session.NewTracker()

	r, err := NewResolver(Deps{
		Store:       store,
		Provisioner: prov,
		Configs:     workspace.NewLocator(zap.NewNop()),
		Sessions:    sessions,
		Integration: integration,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)

	return &resolverFixture{resolver: r, store: store, prov: prov, sessions: sessions}
}

// writeConfig drops a .codexd.json into dir.
func writeConfig(t *testing.T, dir string, cfg workspace.FileConfig) string {
	t.Helper()
	if cfg.Version == "" {
		cfg.Version = "1"
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, workspace.FileName)
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func TestResolver_ExplicitIDAlwaysWins(t *testing.T) {
	fx := newFixture(t, &staticIntegration{id: "integration-project"})

	dir := t.TempDir()
	writeConfig(t, dir, workspace.FileConfig{Project: workspace.ProjectRef{Name: "from-config"}})
	require.NoError(t, fx.sessions.Register("s1", dir))

	res, err := fx.resolver.Resolve(context.Background(), Request{ProjectID: "explicit-id", SessionID: "s1"})
	require.NoError(t, err)

	assert.Equal(t, "explicit-id", res.ProjectID)
	assert.True(t, strings.HasPrefix(res.DatabaseName, naming.DatabasePrefix))

	// The explicit tier never falls through: an unknown id creates a
	// project under that id rather than consulting later tiers.
	p, err := fx.store.FindByID(context.Background(), "explicit-id")
	require.NoError(t, err)
	assert.Equal(t, "explicit-id", p.Name)
	assert.Equal(t, 1, fx.store.count())
}

func TestResolver_ConfigFileBeatsIntegration(t *testing.T) {
	fx := newFixture(t, &staticIntegration{id: "integration-project"})

	dir := t.TempDir()
	writeConfig(t, dir, workspace.FileConfig{Project: workspace.ProjectRef{Name: "from-config"}})
	require.NoError(t, fx.sessions.Register("s1", dir))

	res, err := fx.resolver.Resolve(context.Background(), Request{SessionID: "s1"})
	require.NoError(t, err)

	p, err := fx.store.FindByID(context.Background(), res.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, "from-config", p.Name)
}

func TestResolver_IntegrationTier(t *testing.T) {
	fx := newFixture(t, &staticIntegration{id: "integration-project"})

	res, err := fx.resolver.Resolve(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "integration-project", res.ProjectID)
}

func TestResolver_DefaultFallback(t *testing.T) {
	fx := newFixture(t, nil)

	res, err := fx.resolver.Resolve(context.Background(), Request{})
	require.NoError(t, err)

	p, err := fx.store.FindByID(context.Background(), res.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, DefaultProjectName, p.Name)

	// Resolving again with no hints converges on the same project.
	res2, err := fx.resolver.Resolve(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, res, res2)
	assert.Equal(t, 1, fx.store.count())
}

func TestResolver_SessionWithoutConfigFallsThrough(t *testing.T) {
	fx := newFixture(t, nil)
	require.NoError(t, fx.sessions.Register("s1", t.TempDir()))

	res, err := fx.resolver.Resolve(context.Background(), Request{SessionID: "s1"})
	require.NoError(t, err)

	p, err := fx.store.FindByID(context.Background(), res.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, DefaultProjectName, p.Name)
}

func TestResolver_Idempotence(t *testing.T) {
	fx := newFixture(t, nil)

	dir := t.TempDir()
	writeConfig(t, dir, workspace.FileConfig{Project: workspace.ProjectRef{Name: "p1"}})
	require.NoError(t, fx.sessions.Register("s1", dir))

	req := Request{SessionID: "s1"}
	first, err := fx.resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	second, err := fx.resolver.Resolve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fx.store.count())
	assert.Equal(t, 1, fx.prov.databaseCount())
}

func TestResolver_ConfigWriteBack(t *testing.T) {
	fx := newFixture(t, nil)

	dir := t.TempDir()
	path := writeConfig(t, dir, workspace.FileConfig{Project: workspace.ProjectRef{Name: "p1"}})
	require.NoError(t, fx.sessions.Register("s1", dir))

	res, err := fx.resolver.Resolve(context.Background(), Request{SessionID: "s1"})
	require.NoError(t, err)

	// The generated identity was persisted into the caller's file.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var cfg workspace.FileConfig
	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.Equal(t, res.ProjectID, cfg.Project.ID)
	assert.Equal(t, res.DatabaseName, cfg.Project.DatabaseName)

	// After a simulated restart the file's id resolves to the same project.
	fx.resolver.Cache().Clear()
	res2, err := fx.resolver.Resolve(context.Background(), Request{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, res, res2)
	assert.Equal(t, 1, fx.store.count())
}

func TestResolver_OverrideRejected(t *testing.T) {
	fx := newFixture(t, nil)

	dir := t.TempDir()
	writeConfig(t, dir, workspace.FileConfig{
		Project: workspace.ProjectRef{Name: "p1", DatabaseName: "not_prefixed"},
	})
	require.NoError(t, fx.sessions.Register("s1", dir))

	_, err := fx.resolver.Resolve(context.Background(), Request{SessionID: "s1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_prefixed")

	// The validation error created nothing.
	assert.Equal(t, 0, fx.store.count())
	assert.Equal(t, 0, fx.prov.databaseCount())
}

func TestResolver_OverrideAccepted(t *testing.T) {
	fx := newFixture(t, nil)

	dir := t.TempDir()
	writeConfig(t, dir, workspace.FileConfig{
		Project: workspace.ProjectRef{Name: "p1", DatabaseName: "codexd_custom_location"},
	})
	require.NoError(t, fx.sessions.Register("s1", dir))

	res, err := fx.resolver.Resolve(context.Background(), Request{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "codexd_custom_location", res.DatabaseName)
}

func TestResolver_RaceSafety(t *testing.T) {
	fx := newFixture(t, nil)

	dir := t.TempDir()
	writeConfig(t, dir, workspace.FileConfig{Project: workspace.ProjectRef{Name: "contested"}})
	require.NoError(t, fx.sessions.Register("s1", dir))

	const n = 16
	results := make([]*Resolution, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = fx.resolver.Resolve(context.Background(), Request{SessionID: "s1"})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].ProjectID, results[i].ProjectID)
		assert.Equal(t, results[0].DatabaseName, results[i].DatabaseName)
	}

	// Exactly one registry row and one physical database survived.
	assert.Equal(t, 1, fx.store.count())
	assert.Equal(t, 1, fx.prov.databaseCount())
}

func TestResolver_OrphanRecovery(t *testing.T) {
	fx := newFixture(t, nil)

	dir := t.TempDir()
	writeConfig(t, dir, workspace.FileConfig{Project: workspace.ProjectRef{Name: "p1"}})
	require.NoError(t, fx.sessions.Register("s1", dir))

	res, err := fx.resolver.Resolve(context.Background(), Request{SessionID: "s1"})
	require.NoError(t, err)

	// Drop the database out-of-band and force re-consultation of the store.
	fx.prov.drop(res.DatabaseName)
	fx.resolver.Cache().Clear()

	recovered, err := fx.resolver.Resolve(context.Background(), Request{ProjectID: res.ProjectID})
	require.NoError(t, err)

	assert.Equal(t, res.ProjectID, recovered.ProjectID)
	assert.Equal(t, res.DatabaseName, recovered.DatabaseName)

	exists, err := fx.prov.Exists(context.Background(), res.DatabaseName)
	require.NoError(t, err)
	assert.True(t, exists, "database was not re-provisioned")
	assert.Equal(t, 1, fx.store.count())
}

func TestResolver_ProvisioningFailureSurfaces(t *testing.T) {
	fx := newFixture(t, nil)
	fx.prov.failWith = fmt.Errorf("permission denied to create database")

	_, err := fx.resolver.Resolve(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestResolver_IntegrationDegradation(t *testing.T) {
	// Each failure mode individually degrades to "no opinion" and falls
	// through to the default project.
	scenarios := []struct {
		name  string
		setup func(t *testing.T) string
	}{
		{
			name: "timeout",
			setup: func(t *testing.T) string {
				srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					time.Sleep(500 * time.Millisecond)
				}))
				t.Cleanup(srv.Close)
				return srv.URL
			},
		},
		{
			name: "connection refused",
			setup: func(t *testing.T) string {
				srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
				url := srv.URL
				srv.Close()
				return url
			},
		},
		{
			name: "malformed response",
			setup: func(t *testing.T) string {
				srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					fmt.Fprint(w, "this is not json {")
				}))
				t.Cleanup(srv.Close)
				return srv.URL
			},
		},
	}

	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			client, err := workspace.NewClient(workspace.ClientConfig{
				BaseURL: sc.setup(t),
				Timeout: 50 * time.Millisecond,
			}, zap.NewNop())
			require.NoError(t, err)

			fx := newFixture(t, client)

			res, err := fx.resolver.Resolve(context.Background(), Request{})
			require.NoError(t, err)

			p, err := fx.store.FindByID(context.Background(), res.ProjectID)
			require.NoError(t, err)
			assert.Equal(t, DefaultProjectName, p.Name)
		})
	}
}
