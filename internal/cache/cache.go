// file: internal/cache/cache.go
// version: 2.1.0
// guid: 3f8a1c2d-9b4e-4f7a-8c5d-6e1f2a3b4c5d

package cache

import (
	"sync"
	"time"
)

// DefaultTTL is applied by Set when no explicit TTL is given. Three minutes
// balances de-duplicating chatty dashboard reads against staleness of
// financial balances; only idempotent GET responses belong in this cache.
const DefaultTTL = 3 * time.Minute

type entry struct {
	value     any
	expiresAt time.Time
}

// Status reports cache occupancy for diagnostics. It must not be used for
// control-flow decisions: counts include expired entries that have not been
// swept yet.
type Status struct {
	TotalEntries int            `json:"total_entries"`
	EntriesBySfd map[string]int `json:"entries_by_sfd"`
}

// Cache is an in-memory TTL cache partitioned by SFD namespace, safe for
// concurrent use. Entries under one SFD are never visible to another even
// for identical keys. Expired entries are evicted lazily on lookup; there is
// no background sweeper unless the owner runs Sweep itself.
type Cache struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]entry
	defaultTTL time.Duration

	now func() time.Time
}

// New creates a cache. Pass 0 for defaultTTL to use DefaultTTL.
func New(defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Cache{
		namespaces: make(map[string]map[string]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Set stores a value under (sfdID, key) with the default TTL. It always
// succeeds; the cache is best-effort and never a source of truth.
func (c *Cache) Set(sfdID, key string, value any) {
	c.SetWithTTL(sfdID, key, value, c.defaultTTL)
}

// SetWithTTL stores a value with an explicit TTL, overwriting any previous
// entry for the same key. The namespace is created lazily.
func (c *Cache) SetWithTTL(sfdID, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	ns, ok := c.namespaces[sfdID]
	if !ok {
		ns = make(map[string]entry)
		c.namespaces[sfdID] = ns
	}
	ns[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Get returns the stored value if present and unexpired. An expired entry is
// deleted on lookup and reported as a miss; no expired value is ever
// returned.
func (c *Cache) Get(sfdID, key string) (any, bool) {
	c.mu.RLock()
	ns, ok := c.namespaces[sfdID]
	if !ok {
		c.mu.RUnlock()
		return nil, false
	}
	e, ok := ns[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have replaced
		// the entry with a fresh one.
		if cur, ok := c.namespaces[sfdID][key]; ok && !c.now().Before(cur.expiresAt) {
			delete(c.namespaces[sfdID], key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Delete removes a single entry. No-op if absent.
func (c *Cache) Delete(sfdID, key string) {
	c.mu.Lock()
	if ns, ok := c.namespaces[sfdID]; ok {
		delete(ns, key)
	}
	c.mu.Unlock()
}

// ClearSfd removes every entry under one SFD namespace. Used on tenant
// context switch or logout.
func (c *Cache) ClearSfd(sfdID string) {
	c.mu.Lock()
	delete(c.namespaces, sfdID)
	c.mu.Unlock()
}

// ClearAll resets the entire cache. Used on global sign-out.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	c.namespaces = make(map[string]map[string]entry)
	c.mu.Unlock()
}

// GetStatus returns current occupancy, including expired-but-unswept
// entries.
func (c *Cache) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Status{EntriesBySfd: make(map[string]int, len(c.namespaces))}
	for sfdID, ns := range c.namespaces {
		st.EntriesBySfd[sfdID] = len(ns)
		st.TotalEntries += len(ns)
	}
	return st
}

// Sweep removes every expired entry and empty namespace, returning the
// number of entries removed. Lookup-triggered eviction alone never frees
// keys that are set once and never read again, so long-running processes
// should call this periodically.
func (c *Cache) Sweep() int {
	now := c.now()
	removed := 0
	c.mu.Lock()
	for sfdID, ns := range c.namespaces {
		for key, e := range ns {
			if !now.Before(e.expiresAt) {
				delete(ns, key)
				removed++
			}
		}
		if len(ns) == 0 {
			delete(c.namespaces, sfdID)
		}
	}
	c.mu.Unlock()
	return removed
}
