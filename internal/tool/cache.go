package tool

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/avandres/stepflow/pkg/schema"
)

// Cache holds tool results keyed by tool name plus canonical parameters.
// Each Executor owns its own Cache; sharing one across executors is an
// explicit constructor decision, never a process-wide singleton.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	output    any
	expiresAt time.Time
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached output for key if present and unexpired. Expired
// entries are removed lazily but never served.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock: a fresher Put may have replaced it.
		if cur, ok := c.entries[key]; ok && c.now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry.output, true
}

// Put stores an output with the given TTL.
func (c *Cache) Put(key string, output any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{output: output, expiresAt: c.now().Add(ttl)}
}

// Len returns the number of entries, including not-yet-evicted expired ones.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CacheKey builds the deterministic cache key for a tool call: tool name
// plus parameters re-encoded through a map, which sorts object keys, so
// semantically equal parameter documents share a key.
func CacheKey(toolName string, params json.RawMessage) (string, error) {
	if len(params) == 0 {
		return toolName + "::{}", nil
	}
	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeInvalidParameters,
			"parameters are not valid JSON: %s", err.Error()).WithCause(err)
	}
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeInvalidParameters,
			"cannot canonicalize parameters: %s", err.Error()).WithCause(err)
	}
	return fmt.Sprintf("%s::%s", toolName, canonical), nil
}
