// Package vector stores and searches embedded documents: news articles,
// generated analyses and market trend notes.
package vector

import "context"

// Collection names used by the pipeline.
const (
	CollectionFinancialNews   = "financial_news"
	CollectionCompanyAnalysis = "company_analysis"
	CollectionMarketTrends    = "market_trends"
)

// Document is a unit of storage. Metadata values are normalized to
// strings on write; nil values are dropped.
type Document struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]any
}

// SearchResult is a similarity match.
type SearchResult struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Distance float64           `json:"distance"`
}

// Store is the vector database contract.
type Store interface {
	AddDocument(ctx context.Context, collection string, doc Document) error
	SearchSimilar(ctx context.Context, collection string, embedding []float32, n int, where map[string]string) ([]SearchResult, error)
	Count(collection string) int
}
