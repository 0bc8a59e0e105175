package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSet(t *testing.T) {
	c := New()
	_, ok := c.Get("AAPL", "price")
	assert.False(t, ok)

	c.Set("AAPL", "price", map[string]any{"current_price": 185.5})
	value, ok := c.Get("AAPL", "price")
	require.True(t, ok)
	assert.Equal(t, 185.5, value.(map[string]any)["current_price"])

	// different data type is a different key
	_, ok = c.Get("AAPL", "news")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	now := time.Now()
	clock := &now
	c := New(WithTTL(time.Hour), withClock(func() time.Time { return *clock }))

	c.Set("AAPL", "price", 1)
	_, ok := c.Get("AAPL", "price")
	assert.True(t, ok)

	later := now.Add(2 * time.Hour)
	clock = &later
	_, ok = c.Get("AAPL", "price")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 0, stats.Entries)
}

func TestAddQuerySkipsMissingEmbedding(t *testing.T) {
	c := New()
	c.AddQuery(QueryRecord{Query: "no embedding"})
	assert.Empty(t, c.History())

	c.AddQuery(QueryRecord{Query: "with embedding", Embedding: []float32{0.1, 0.2}})
	assert.Len(t, c.History(), 1)
}

func TestHistoryRing(t *testing.T) {
	c := New()
	for i := 0; i < 150; i++ {
		c.AddQuery(QueryRecord{
			Query:     fmt.Sprintf("query %d", i),
			Embedding: []float32{1},
		})
	}
	history := c.History()
	require.Len(t, history, 100)
	assert.Equal(t, "query 50", history[0].Query)
	assert.Equal(t, "query 149", history[99].Query)
}

func TestFindSimilarQueries(t *testing.T) {
	c := New()
	c.AddQuery(QueryRecord{Query: "exact", Embedding: []float32{1, 0, 0}})
	c.AddQuery(QueryRecord{Query: "close", Embedding: []float32{0.9, 0.1, 0}})
	c.AddQuery(QueryRecord{Query: "orthogonal", Embedding: []float32{0, 1, 0}})

	matches := c.FindSimilarQueries([]float32{1, 0, 0}, DefaultSimilarityThreshold)
	require.Len(t, matches, 2)
	assert.Equal(t, "exact", matches[0].Query)
	assert.Equal(t, "close", matches[1].Query)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{1, 2}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)

	// zero norm and mismatched lengths yield 0
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 1}))
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
}

func TestStats(t *testing.T) {
	c := New()
	c.Set("AAPL", "price", 1)
	c.Get("AAPL", "price")
	c.Get("MSFT", "price")

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 1, stats.Hits)
	assert.Equal(t, 1, stats.Misses)
}
