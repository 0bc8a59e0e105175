package vector

import (
	"crypto/md5"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// queryCache memoizes search results for identical queries within a TTL.
type queryCache struct {
	mu      sync.Mutex
	entries map[string]queryCacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type queryCacheEntry struct {
	results   []SearchResult
	expiresAt time.Time
}

func newQueryCache(ttl time.Duration) *queryCache {
	return &queryCache{
		entries: make(map[string]queryCacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// key hashes the full query shape so near-identical queries never
// collide.
func (c *queryCache) key(collection string, embedding []float32, n int, where map[string]string) string {
	var b strings.Builder
	b.WriteString(collection)
	fmt.Fprintf(&b, "|%d|", n)
	for _, v := range embedding {
		fmt.Fprintf(&b, "%.6f,", v)
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, where[k])
	}
	return fmt.Sprintf("%x", md5.Sum([]byte(b.String())))
}

func (c *queryCache) get(key string) ([]SearchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.results, true
}

func (c *queryCache) set(key string, results []SearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = queryCacheEntry{results: results, expiresAt: c.now().Add(c.ttl)}
}

// invalidateAll drops all cached results. Called when a collection is
// recreated after a dimension mismatch.
func (c *queryCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]queryCacheEntry)
}
