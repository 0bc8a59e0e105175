package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/quantlayer/finsight/pkg/config"
	"github.com/quantlayer/finsight/pkg/embedders"
	"github.com/quantlayer/finsight/pkg/llms"
	"github.com/quantlayer/finsight/pkg/metrics"
	"github.com/quantlayer/finsight/pkg/progress"
	"github.com/quantlayer/finsight/pkg/state"
	"github.com/quantlayer/finsight/pkg/tracking"
	"github.com/quantlayer/finsight/pkg/vector"
)

const (
	analystWorkerCap        = 16
	analystWorkersPerSymbol = 4

	// sentimentArticleLimit caps how many articles feed the sentiment
	// prompt.
	sentimentArticleLimit = 5
	// similarCompanyLimit caps the historical-pattern matches kept.
	similarCompanyLimit = 5

	buyThreshold  = 0.3
	sellThreshold = -0.3
)

// AnalystAgent turns raw research data into per-symbol metrics,
// sentiment, trend placeholders and a recommendation. Symbols that
// failed research are skipped.
type AnalystAgent struct {
	llm      llms.Provider
	store    vector.Store
	embedder embedders.Embedder
	logger   *slog.Logger
}

func NewAnalystAgent(llm llms.Provider, store vector.Store, embedder embedders.Embedder, logger *slog.Logger) *AnalystAgent {
	return &AnalystAgent{
		llm:      llm,
		store:    store,
		embedder: embedder,
		logger:   ensureLogger(logger),
	}
}

func (a *AnalystAgent) Name() string { return NameAnalyst }

func (a *AnalystAgent) Execute(ctx context.Context, c *state.SharedContext) (*state.SharedContext, error) {
	return run(ctx, c, a.Name(), 2, a.execute)
}

func (a *AnalystAgent) execute(ctx context.Context, c *state.SharedContext) (*state.SharedContext, error) {
	var analyzable []string
	for _, symbol := range c.Symbols {
		if c.SymbolStatus[symbol] == "failed" {
			a.logger.Info("skipping failed symbol", "symbol", symbol)
			continue
		}
		if _, ok := c.ResearchData[symbol]; !ok {
			continue
		}
		analyzable = append(analyzable, symbol)
	}
	if len(analyzable) == 0 {
		return c, nil
	}

	partials := make([]*state.SharedContext, len(analyzable))
	var totalTokens atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(poolSize(len(analyzable), analystWorkersPerSymbol, analystWorkerCap))

	for i, symbol := range analyzable {
		i, symbol := i, symbol
		g.Go(func() error {
			partial, tokens := a.analyzeSymbol(gctx, c, symbol)
			partials[i] = partial
			totalTokens.Add(int64(tokens))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return c, err
	}

	merged := state.MergeParallel(append([]*state.SharedContext{c}, partials...))
	if tokens := int(totalTokens.Load()); tokens > 0 {
		merged.TrackTokens(a.Name(), tokens)
		metrics.LLMTokens.WithLabelValues(a.Name()).Add(float64(tokens))
	}
	return merged, nil
}

// analyzeSymbol produces the analysis for one symbol in a fresh partial
// context, returning the tokens spent on it.
func (a *AnalystAgent) analyzeSymbol(ctx context.Context, c *state.SharedContext, symbol string) (*state.SharedContext, int) {
	partial := state.Empty()
	partial.ProgressEvents = append(partial.ProgressEvents, progress.TaskProgress(
		a.Name(), "analyze", symbol, c.TransactionID,
		fmt.Sprintf("Analyzing %s (parallel)", symbol), 2, true))
	research := c.ResearchData[symbol]

	price := asMap(research[config.DataTypePrice])
	analysis := map[string]any{
		"metrics": priceMetrics(price),
	}

	if patterns := a.historicalPatterns(ctx, symbol, price); patterns != nil {
		analysis["historical_patterns"] = patterns
	}

	if financials, ok := research[config.DataTypeFinancials]; ok {
		analysis["financials"] = flattenFinancials(financials)
	}

	sentiment, tokens := a.sentiment(ctx, symbol, research[config.DataTypeNews])
	analysis["sentiment"] = sentiment

	if _, ok := research[config.DataTypeHistorical]; ok && (c.QueryType == "trend" || c.QueryType == "comparison") {
		analysis["trends"] = trendPlaceholder(asMap(research[config.DataTypeHistorical]))
	}

	score, _ := sentiment["score"].(float64)
	analysis["recommendation"] = recommendation(score)

	partial.SetAnalysisResults(symbol, analysis)
	partial.AnalysisReasoning[symbol] = reasoningText(symbol, analysis)
	return partial, tokens
}

func priceMetrics(price map[string]any) map[string]any {
	metrics := map[string]any{}
	if price == nil {
		return metrics
	}
	for _, key := range []string{"current_price", "market_cap", "volume", "52_week_high", "52_week_low"} {
		if value, ok := price[key]; ok {
			metrics[key] = value
		}
	}
	current, okCurrent := price["current_price"].(float64)
	previous, okPrevious := price["previous_close"].(float64)
	if okCurrent && okPrevious && previous != 0 {
		metrics["price_change_pct"] = (current - previous) / previous * 100
	}
	return metrics
}

// historicalPatterns searches previously stored analyses for companies
// with a similar profile. The store cannot express a not-equals filter,
// so matches are over-fetched and the symbol's own entries dropped.
func (a *AnalystAgent) historicalPatterns(ctx context.Context, symbol string, price map[string]any) []map[string]any {
	if a.store == nil || a.embedder == nil || price == nil {
		return nil
	}

	query := fmt.Sprintf("Stock %s price %v market cap %v",
		symbol, price["current_price"], price["market_cap"])
	embedding, err := a.embedder.Embed(ctx, query)
	if err != nil {
		a.logger.Debug("pattern embedding failed", "symbol", symbol, "error", err)
		return nil
	}

	results, err := a.store.SearchSimilar(ctx, vector.CollectionCompanyAnalysis, embedding, similarCompanyLimit*2, nil)
	if err != nil {
		a.logger.Debug("pattern search failed", "symbol", symbol, "error", err)
		return nil
	}

	var patterns []map[string]any
	for _, result := range results {
		if result.Metadata["symbol"] == symbol {
			continue
		}
		patterns = append(patterns, map[string]any{
			"symbol":   result.Metadata["symbol"],
			"content":  result.Content,
			"distance": result.Distance,
		})
		if len(patterns) == similarCompanyLimit {
			break
		}
	}
	return patterns
}

func flattenFinancials(value any) map[string]any {
	flat := map[string]any{"available": false}
	financials := asMap(value)
	if financials == nil {
		return flat
	}
	flat["available"] = true
	if statementType, ok := financials["statement_type"]; ok {
		flat["statement_type"] = statementType
	}
	if count, ok := financials["count"]; ok {
		flat["statement_count"] = count
	}
	flat["has_statements"] = len(asSlice(financials["statements"])) > 0
	return flat
}

type sentimentVerdict struct {
	Sentiment string   `json:"sentiment"`
	Score     float64  `json:"score"`
	Factors   []string `json:"factors"`
	Summary   string   `json:"summary"`
}

// sentiment asks the model to judge recent coverage. Any failure falls
// back to a neutral verdict; the article count is always reported.
func (a *AnalystAgent) sentiment(ctx context.Context, symbol string, newsValue any) (map[string]any, int) {
	articles := asSlice(asMap(newsValue)["articles"])
	neutral := map[string]any{
		"sentiment":     "neutral",
		"score":         0.0,
		"article_count": len(articles),
	}
	if a.llm == nil || len(articles) == 0 {
		return neutral, 0
	}

	var b strings.Builder
	count := 0
	for _, raw := range articles {
		article := asMap(raw)
		if article == nil {
			continue
		}
		title, _ := article["title"].(string)
		summary, _ := article["summary"].(string)
		fmt.Fprintf(&b, "- %s", title)
		if summary != "" {
			fmt.Fprintf(&b, ": %s", summary)
		}
		b.WriteString("\n")
		count++
		if count == sentimentArticleLimit {
			break
		}
	}

	req := llms.Request{
		Messages: []llms.Message{
			{Role: llms.RoleSystem, Content: "You are a financial sentiment analyst. Respond with a JSON object: " +
				`{"sentiment": "positive|negative|neutral", "score": -1.0 to 1.0, "factors": [...], "summary": "..."}`},
			{Role: llms.RoleUser, Content: fmt.Sprintf("Assess the sentiment of recent news about %s:\n%s", symbol, b.String())},
		},
		Temperature: 0.2,
		JSONMode:    true,
	}
	resp, err := a.llm.Complete(ctx, req)
	if err != nil {
		a.logger.Warn("sentiment analysis failed", "symbol", symbol, "error", err)
		return neutral, 0
	}

	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = tracking.EstimateTokens(resp.Content, resp.Model)
	}

	var verdict sentimentVerdict
	if err := json.Unmarshal([]byte(resp.Content), &verdict); err != nil {
		a.logger.Warn("sentiment response not parseable", "symbol", symbol, "error", err)
		neutral["summary"] = truncateRunes(resp.Content, 200)
		return neutral, tokens
	}

	return map[string]any{
		"sentiment":     verdict.Sentiment,
		"score":         verdict.Score,
		"factors":       verdict.Factors,
		"summary":       verdict.Summary,
		"article_count": len(articles),
	}, tokens
}

// trendPlaceholder marks historical data as pending deeper analysis.
func trendPlaceholder(historical map[string]any) map[string]any {
	placeholder := map[string]any{"trend": "analyzing"}
	if historical == nil {
		return placeholder
	}
	placeholder["data_points"] = len(asSlice(historical["data"]))
	if period, ok := historical["period"]; ok {
		placeholder["period"] = period
	}
	return placeholder
}

func recommendation(score float64) map[string]any {
	action := "hold"
	switch {
	case score > buyThreshold:
		action = "buy"
	case score < sellThreshold:
		action = "sell"
	}
	return map[string]any{
		"action":     action,
		"confidence": "medium",
		"basis":      "sentiment",
	}
}

func reasoningText(symbol string, analysis map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analysis for %s:\n\n", symbol)

	if metrics := asMap(analysis["metrics"]); len(metrics) > 0 {
		b.WriteString("Financial metrics: ")
		if price, ok := metrics["current_price"]; ok {
			fmt.Fprintf(&b, "current price %v", price)
		}
		if marketCap, ok := metrics["market_cap"]; ok {
			fmt.Fprintf(&b, ", market cap %v", marketCap)
		}
		if change, ok := metrics["price_change_pct"].(float64); ok {
			fmt.Fprintf(&b, ", daily change %.2f%%", change)
		}
		b.WriteString("\n")
	}

	if sentiment := asMap(analysis["sentiment"]); sentiment != nil {
		fmt.Fprintf(&b, "News sentiment: %v (score %v, %v articles)\n",
			sentiment["sentiment"], sentiment["score"], sentiment["article_count"])
		if summary, ok := sentiment["summary"].(string); ok && summary != "" {
			fmt.Fprintf(&b, "Sentiment summary: %s\n", summary)
		}
	}

	if trends := asMap(analysis["trends"]); trends != nil {
		fmt.Fprintf(&b, "Trend: %v over %v data points\n", trends["trend"], trends["data_points"])
	}

	if rec := asMap(analysis["recommendation"]); rec != nil {
		fmt.Fprintf(&b, "Recommendation: %v (confidence %v)\n", rec["action"], rec["confidence"])
	}
	return b.String()
}
