// Package cache provides a TTL cache for fetched symbol data and a
// query history with embedding similarity search.
package cache

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long fetched symbol data stays valid.
	DefaultTTL = 24 * time.Hour
	// historyLimit caps the query history ring.
	historyLimit = 100
	// DefaultSimilarityThreshold is the minimum cosine similarity for a
	// history entry to count as similar.
	DefaultSimilarityThreshold = 0.8
)

type entry struct {
	value     any
	expiresAt time.Time
}

// QueryRecord is a past query with its embedding, kept for
// similar-query detection.
type QueryRecord struct {
	Query     string    `json:"query"`
	Symbols   []string  `json:"symbols"`
	QueryType string    `json:"query_type"`
	Embedding []float32 `json:"embedding"`
	Timestamp time.Time `json:"timestamp"`
}

// SimilarQuery is a history match above the similarity threshold.
type SimilarQuery struct {
	QueryRecord
	Similarity float64 `json:"similarity"`
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Entries       int `json:"entries"`
	HistoryLength int `json:"history_length"`
	Hits          int `json:"hits"`
	Misses        int `json:"misses"`
	Expired       int `json:"expired"`
}

// ContextCache caches per-symbol data-type payloads and keeps a bounded
// query history. Safe for concurrent use.
type ContextCache struct {
	mu      sync.Mutex
	entries map[string]entry
	history []QueryRecord
	ttl     time.Duration

	hits    int
	misses  int
	expired int

	now func() time.Time
}

type Option func(*ContextCache)

func WithTTL(ttl time.Duration) Option {
	return func(c *ContextCache) { c.ttl = ttl }
}

func withClock(now func() time.Time) Option {
	return func(c *ContextCache) { c.now = now }
}

func New(opts ...Option) *ContextCache {
	c := &ContextCache{
		entries: make(map[string]entry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func cacheKey(symbol, dataType string) string {
	return fmt.Sprintf("%s:%s", symbol, dataType)
}

// Get returns the cached payload for (symbol, dataType). Expired entries
// are deleted on access.
func (c *ContextCache) Get(symbol, dataType string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(symbol, dataType)
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		c.expired++
		c.misses++
		return nil, false
	}
	c.hits++
	return e.value, true
}

// Set stores a payload for (symbol, dataType) with the configured TTL.
func (c *ContextCache) Set(symbol, dataType string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(symbol, dataType)] = entry{
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	}
}

// AddQuery appends a query to the history. Queries without an embedding
// are skipped; the history keeps the most recent hundred entries.
func (c *ContextCache) AddQuery(record QueryRecord) {
	if len(record.Embedding) == 0 {
		return
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = c.now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, record)
	if len(c.history) > historyLimit {
		c.history = c.history[len(c.history)-historyLimit:]
	}
}

// History returns a copy of the query history.
func (c *ContextCache) History() []QueryRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]QueryRecord, len(c.history))
	copy(out, c.history)
	return out
}

// SetHistory replaces the history, trimming to the ring limit. Used when
// restoring a session.
func (c *ContextCache) SetHistory(records []QueryRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(records) > historyLimit {
		records = records[len(records)-historyLimit:]
	}
	c.history = make([]QueryRecord, len(records))
	copy(c.history, records)
}

// FindSimilarQueries returns history entries whose embedding similarity
// to the given embedding meets the threshold, most similar first.
func (c *ContextCache) FindSimilarQueries(embedding []float32, threshold float64) []SimilarQuery {
	c.mu.Lock()
	defer c.mu.Unlock()

	var matches []SimilarQuery
	for _, record := range c.history {
		similarity := CosineSimilarity(embedding, record.Embedding)
		if similarity >= threshold {
			matches = append(matches, SimilarQuery{QueryRecord: record, Similarity: similarity})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	return matches
}

// Stats returns current counters.
func (c *ContextCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:       len(c.entries),
		HistoryLength: len(c.history),
		Hits:          c.hits,
		Misses:        c.misses,
		Expired:       c.expired,
	}
}

// CosineSimilarity computes the cosine similarity of two vectors.
// Returns 0 for mismatched lengths or zero-norm vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
