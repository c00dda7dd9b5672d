package memory

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Entity is a provisioned object in the memory service. A Placeholder entity
// stands in for an object that exists remotely but could not be located; it
// carries no ID and must not be written through.
type Entity struct {
	ID          string
	Name        string
	Placeholder bool
}

// EntityCache is a name-keyed lookup cache. Each client owns its caches;
// they are injected rather than shared through package globals so tests and
// parallel clients never observe each other's entries.
type EntityCache struct {
	mu      sync.RWMutex
	entries map[string]Entity
	group   singleflight.Group
}

// NewEntityCache creates an empty cache.
func NewEntityCache() *EntityCache {
	return &EntityCache{entries: make(map[string]Entity)}
}

// Lookup returns the cached entity for name, or runs loader to fill it.
// Concurrent lookups for the same name share a single loader call.
// Placeholder entities are not cached, so a later lookup can find the real
// object once the service catches up.
func (c *EntityCache) Lookup(name string, loader func() (Entity, error)) (Entity, error) {
	c.mu.RLock()
	if e, ok := c.entries[name]; ok {
		c.mu.RUnlock()
		return e, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.group.Do(name, func() (any, error) {
		c.mu.RLock()
		if e, ok := c.entries[name]; ok {
			c.mu.RUnlock()
			return e, nil
		}
		c.mu.RUnlock()

		e, err := loader()
		if err != nil {
			return Entity{}, err
		}
		if !e.Placeholder {
			c.mu.Lock()
			c.entries[name] = e
			c.mu.Unlock()
		}
		return e, nil
	})
	if err != nil {
		return Entity{}, err
	}
	return result.(Entity), nil
}

// Invalidate removes one entry.
func (c *EntityCache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}

// Clear removes all entries.
func (c *EntityCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]Entity)
	c.mu.Unlock()
}
