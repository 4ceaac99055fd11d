package project

import "sync"

// Cache is a process-local index over registry rows, keyed by ID and by name.
//
// It is never authoritative: the durable store wins on any disagreement, and
// Clear forces re-consultation of the store (used by the resolver after a
// suspected staleness event, and by tests simulating a process restart).
type Cache struct {
	mu     sync.RWMutex
	byID   map[string]*Project
	byName map[string]*Project
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		byID:   make(map[string]*Project),
		byName: make(map[string]*Project),
	}
}

// Put stores a project under both keys.
func (c *Cache) Put(p *Project) {
	if p == nil || p.ID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.byID[p.ID] = p
	c.byName[p.Name] = p
}

// GetByID returns the cached project for an ID, or nil.
func (c *Cache) GetByID(id string) *Project {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byID[id]
}

// GetByName returns the cached project for a name, or nil.
func (c *Cache) GetByName(name string) *Project {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byName[name]
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byID = make(map[string]*Project)
	c.byName = make(map[string]*Project)
}

// Len returns the number of distinct cached projects.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}
