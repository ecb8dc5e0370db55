package automation

import "time"

// RulesCache provides an abstraction for caching enabled rule lists per
// (owner, trigger) pair. This allows swapping between in-memory, Redis,
// or other caching implementations.
type RulesCache interface {
	// Get retrieves cached rules, returns nil on cache miss or expiry
	Get(ownerID string, trigger TriggerType) []*Rule

	// Set stores one owner/trigger rule list in cache
	Set(ownerID string, trigger TriggerType, rules []*Rule)

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate()
}

// CacheConfig holds configuration for cache behavior.
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (manual invalidation only).
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults for rule caching.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0, // No TTL - only invalidate on rule mutations
	}
}
