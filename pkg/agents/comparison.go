package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quantlayer/finsight/pkg/config"
	"github.com/quantlayer/finsight/pkg/embedders"
	"github.com/quantlayer/finsight/pkg/llms"
	"github.com/quantlayer/finsight/pkg/metrics"
	"github.com/quantlayer/finsight/pkg/state"
	"github.com/quantlayer/finsight/pkg/tracking"
	"github.com/quantlayer/finsight/pkg/vector"
)

// comparisonHeaders is the column order of the side-by-side table.
var comparisonHeaders = []string{
	"Symbol", "Price", "Market Cap", "P/E Ratio", "Sector", "Sentiment", "Recommendation",
}

// ComparisonAgent builds a cross-symbol view: a side-by-side table for
// multi-symbol queries, a market benchmark framing for a single symbol.
// Insight generation failures degrade to an error note, never fail the
// stage.
type ComparisonAgent struct {
	llm      llms.Provider
	store    vector.Store
	embedder embedders.Embedder
	logger   *slog.Logger
}

func NewComparisonAgent(llm llms.Provider, store vector.Store, embedder embedders.Embedder, logger *slog.Logger) *ComparisonAgent {
	return &ComparisonAgent{llm: llm, store: store, embedder: embedder, logger: ensureLogger(logger)}
}

func (a *ComparisonAgent) Name() string { return NameComparison }

func (a *ComparisonAgent) Execute(ctx context.Context, c *state.SharedContext) (*state.SharedContext, error) {
	return run(ctx, c, a.Name(), 3, a.execute)
}

func (a *ComparisonAgent) execute(ctx context.Context, c *state.SharedContext) (*state.SharedContext, error) {
	var analyzed []string
	for _, symbol := range c.Symbols {
		if _, ok := c.AnalysisResults[symbol]; ok {
			analyzed = append(analyzed, symbol)
		}
	}
	if len(analyzed) == 0 {
		return c, nil
	}

	var result map[string]any
	if len(analyzed) == 1 {
		result = a.benchmark(ctx, c, analyzed[0])
	} else {
		result = a.sideBySide(c, analyzed)
	}

	insights, tokens := a.insights(ctx, c, analyzed, result)
	result["insights"] = insights
	if tokens > 0 {
		c.TrackTokens(a.Name(), tokens)
		metrics.LLMTokens.WithLabelValues(a.Name()).Add(float64(tokens))
	}

	c.ComparisonResult = result
	c.ContextVersion++
	return c, nil
}

// benchmark frames a lone symbol against the broader market, pulling
// comparable companies from the analysis collection when available.
func (a *ComparisonAgent) benchmark(ctx context.Context, c *state.SharedContext, symbol string) map[string]any {
	result := map[string]any{
		"comparison_type": "benchmark",
		"symbol":          symbol,
		"metrics":         asMap(c.AnalysisResults[symbol]["metrics"]),
		"benchmark":       "overall market",
	}
	if peers := a.peerPatterns(ctx, c, symbol); peers != nil {
		result["historical_patterns"] = peers
	}
	return result
}

// peerPatterns searches stored analyses for comparable companies. The
// store cannot express not-equals, so matches are over-fetched and the
// symbol's own entries dropped.
func (a *ComparisonAgent) peerPatterns(ctx context.Context, c *state.SharedContext, symbol string) []map[string]any {
	if a.store == nil || a.embedder == nil {
		return nil
	}
	price := asMap(c.ResearchData[symbol][config.DataTypePrice])
	company := asMap(c.ResearchData[symbol][config.DataTypeCompany])
	query := fmt.Sprintf("%v company P/E %v market cap %v",
		valueOr(company, "sector"), valueOr(price, "pe_ratio"), valueOr(price, "market_cap"))

	embedding, err := a.embedder.Embed(ctx, query)
	if err != nil {
		a.logger.Debug("peer embedding failed", "symbol", symbol, "error", err)
		return nil
	}
	results, err := a.store.SearchSimilar(ctx, vector.CollectionCompanyAnalysis, embedding, similarCompanyLimit*2, nil)
	if err != nil {
		a.logger.Debug("peer search failed", "symbol", symbol, "error", err)
		return nil
	}

	var peers []map[string]any
	for _, result := range results {
		if result.Metadata["symbol"] == symbol {
			continue
		}
		peers = append(peers, map[string]any{
			"symbol":   result.Metadata["symbol"],
			"content":  result.Content,
			"distance": result.Distance,
		})
		if len(peers) == similarCompanyLimit {
			break
		}
	}
	return peers
}

// sideBySide builds one table row per analyzed symbol.
func (a *ComparisonAgent) sideBySide(c *state.SharedContext, symbols []string) map[string]any {
	rows := make([][]any, 0, len(symbols))
	for _, symbol := range symbols {
		rows = append(rows, comparisonRow(c, symbol))
	}
	return map[string]any{
		"comparison_type": "side_by_side",
		"symbols":         symbols,
		"table": map[string]any{
			"headers": comparisonHeaders,
			"rows":    rows,
		},
	}
}

func comparisonRow(c *state.SharedContext, symbol string) []any {
	research := c.ResearchData[symbol]
	analysis := c.AnalysisResults[symbol]
	price := asMap(research[config.DataTypePrice])
	company := asMap(research[config.DataTypeCompany])
	sentiment := asMap(analysis["sentiment"])
	rec := asMap(analysis["recommendation"])

	return []any{
		symbol,
		valueOr(price, "current_price"),
		valueOr(price, "market_cap"),
		valueOr(price, "pe_ratio"),
		valueOr(company, "sector"),
		valueOr(sentiment, "sentiment"),
		valueOr(rec, "action"),
	}
}

func valueOr(m map[string]any, key string) any {
	if m == nil {
		return "N/A"
	}
	if value, ok := m[key]; ok && value != nil {
		return value
	}
	return "N/A"
}

// insights asks the model for a short comparative narrative. A failure
// is folded into the result as an error note.
func (a *ComparisonAgent) insights(ctx context.Context, c *state.SharedContext, symbols []string, result map[string]any) (string, int) {
	if a.llm == nil {
		return "", 0
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\nSymbols: %s\n\n", c.Query, strings.Join(symbols, ", "))
	for _, symbol := range symbols {
		if reasoning, ok := c.AnalysisReasoning[symbol]; ok {
			b.WriteString(reasoning)
			b.WriteString("\n")
		}
	}

	req := llms.Request{
		Messages: []llms.Message{
			{Role: llms.RoleSystem, Content: "You are a financial analyst. Compare the companies below in a few concise paragraphs: relative valuation, sentiment, and which looks stronger. Plain prose, no markdown tables."},
			{Role: llms.RoleUser, Content: b.String()},
		},
		Temperature: 0.4,
	}
	resp, err := a.llm.Complete(ctx, req)
	if err != nil {
		a.logger.Warn("comparison insights failed", "error", err)
		return fmt.Sprintf("Error generating comparison insights: %v", err), 0
	}

	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = tracking.EstimateTokens(resp.Content, resp.Model)
	}
	return resp.Content, tokens
}
