package project

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PoolManager hands out one shared pgx pool per project database.
//
// Pools are created lazily on first use from the registry DSN with the
// database swapped, and are shared across requests. Close tears all of them
// down on daemon shutdown.
type PoolManager struct {
	mu       sync.Mutex
	adminDSN string
	maxConns int32
	pools    map[string]*pgxpool.Pool
	logger   *zap.Logger
}

// NewPoolManager creates a pool manager seeded with the registry DSN.
func NewPoolManager(adminDSN string, maxConns int32, logger *zap.Logger) *PoolManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolManager{
		adminDSN: adminDSN,
		maxConns: maxConns,
		pools:    make(map[string]*pgxpool.Pool),
		logger:   logger,
	}
}

// Get returns the pool for a project database, creating it if needed.
func (m *PoolManager) Get(ctx context.Context, databaseName string) (*pgxpool.Pool, error) {
	if databaseName == "" {
		return nil, ErrEmptyDatabaseName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if pool, ok := m.pools[databaseName]; ok {
		return pool, nil
	}

	cfg, err := pgxpool.ParseConfig(m.adminDSN)
	if err != nil {
		return nil, fmt.Errorf("parsing registry DSN: %w", err)
	}
	cfg.ConnConfig.Database = databaseName
	if m.maxConns > 0 {
		cfg.MaxConns = m.maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool for %s: %w", databaseName, err)
	}

	m.logger.Debug("created connection pool", zap.String("database", databaseName))
	m.pools[databaseName] = pool
	return pool, nil
}

// Evict closes and removes the pool for a database. Used when a database was
// dropped out-of-band and its pooled connections are no longer valid.
func (m *PoolManager) Evict(databaseName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pool, ok := m.pools[databaseName]; ok {
		pool.Close()
		delete(m.pools, databaseName)
		m.logger.Debug("evicted connection pool", zap.String("database", databaseName))
	}
}

// Close closes every pool.
func (m *PoolManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, pool := range m.pools {
		pool.Close()
		delete(m.pools, name)
	}
}
