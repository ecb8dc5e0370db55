package automation

import (
	"sync"
	"time"
)

// InMemoryRulesCache is a simple in-memory implementation of RulesCache.
// Thread-safe for concurrent access. Any rule mutation invalidates the
// whole cache rather than tracking per-owner entries.
type InMemoryRulesCache struct {
	entries map[cacheKey]cacheEntry
	config  CacheConfig
	mu      sync.RWMutex
}

type cacheKey struct {
	ownerID string
	trigger TriggerType
}

type cacheEntry struct {
	rules    []*Rule
	cachedAt time.Time
}

// NewInMemoryRulesCache creates a new in-memory rules cache.
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{
		entries: make(map[cacheKey]cacheEntry),
		config:  config,
	}
}

// Get retrieves cached rules for one owner and trigger.
// Returns nil if the entry is missing or expired.
func (c *InMemoryRulesCache) Get(ownerID string, trigger TriggerType) []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[cacheKey{ownerID, trigger}]
	if !ok {
		return nil
	}
	if c.config.TTL > 0 && time.Since(entry.cachedAt) > c.config.TTL {
		return nil
	}

	// Return copy to prevent external modifications
	rulesCopy := make([]*Rule, len(entry.rules))
	copy(rulesCopy, entry.rules)
	return rulesCopy
}

// Set stores one owner/trigger rule list in cache.
func (c *InMemoryRulesCache) Set(ownerID string, trigger TriggerType, rules []*Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Store copy to prevent external modifications
	rulesCopy := make([]*Rule, len(rules))
	copy(rulesCopy, rules)
	c.entries[cacheKey{ownerID, trigger}] = cacheEntry{
		rules:    rulesCopy,
		cachedAt: time.Now(),
	}
}

// Invalidate clears every cached entry.
func (c *InMemoryRulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[cacheKey]cacheEntry)
}
