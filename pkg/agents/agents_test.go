package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlayer/finsight/pkg/cache"
	"github.com/quantlayer/finsight/pkg/config"
	"github.com/quantlayer/finsight/pkg/llms"
	"github.com/quantlayer/finsight/pkg/state"
	"github.com/quantlayer/finsight/pkg/tracking"
	"github.com/quantlayer/finsight/pkg/vector"
)

type fakeData struct {
	mu       sync.Mutex
	payloads map[string]any
	errs     map[string]error
	calls    map[string]int
}

func newFakeData() *fakeData {
	return &fakeData{
		payloads: make(map[string]any),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func dataKey(symbol, dataType string) string { return symbol + ":" + dataType }

func (f *fakeData) set(symbol, dataType string, payload any) {
	f.payloads[dataKey(symbol, dataType)] = payload
}

func (f *fakeData) fail(symbol, dataType string, err error) {
	f.errs[dataKey(symbol, dataType)] = err
}

func (f *fakeData) GetData(ctx context.Context, symbol, dataType, preferred, txnID string) (any, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := dataKey(symbol, dataType)
	f.calls[key]++
	if err, ok := f.errs[key]; ok {
		return nil, "", err
	}
	if payload, ok := f.payloads[key]; ok {
		return payload, config.SourceYahoo, nil
	}
	return nil, "", errors.New("no data")
}

func (f *fakeData) CitationsForSymbol(symbol string) []tracking.Citation {
	return []tracking.Citation{{Source: "Yahoo Finance", Symbol: symbol, DataPoint: "stock_price"}}
}

type fakeProvider struct {
	mu      sync.Mutex
	content string
	err     error
	calls   int
	lastReq llms.Request
}

func (f *fakeProvider) Complete(ctx context.Context, req llms.Request) (*llms.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llms.Response{
		Content: f.content,
		Usage:   llms.Usage{TotalTokens: 42},
		Model:   "fake",
	}, nil
}

func (f *fakeProvider) Model() string { return "fake" }

type fakeStore struct {
	mu      sync.Mutex
	added   map[string][]vector.Document
	results []vector.SearchResult
}

func newFakeStore() *fakeStore {
	return &fakeStore{added: make(map[string][]vector.Document)}
}

func (f *fakeStore) AddDocument(ctx context.Context, collection string, doc vector.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added[collection] = append(f.added[collection], doc)
	return nil
}

func (f *fakeStore) SearchSimilar(ctx context.Context, collection string, embedding []float32, n int, where map[string]string) ([]vector.SearchResult, error) {
	if len(f.results) > n {
		return f.results[:n], nil
	}
	return f.results, nil
}

func (f *fakeStore) Count(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added[collection])
}

type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, f.dim), nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

func priceData(current float64) map[string]any {
	return map[string]any{
		"current_price":  current,
		"previous_close": current - 2,
		"market_cap":     1e12,
	}
}

func companyData(sector string) map[string]any {
	return map[string]any{"name": "Test Co", "sector": sector}
}

func newsData(titles ...string) map[string]any {
	articles := make([]any, 0, len(titles))
	for _, title := range titles {
		articles = append(articles, map[string]any{"title": title, "summary": "details", "publisher": "Wire"})
	}
	return map[string]any{"articles": articles, "count": len(articles)}
}

func seedResearch(f *fakeData, symbol string) {
	f.set(symbol, config.DataTypePrice, priceData(100))
	f.set(symbol, config.DataTypeCompany, companyData("Technology"))
	f.set(symbol, config.DataTypeNews, newsData("Earnings beat"))
	f.set(symbol, config.DataTypeFinancials, map[string]any{"statement_type": "income", "statements": []any{}})
}

func TestDataTypesFor(t *testing.T) {
	assert.ElementsMatch(t,
		[]string{config.DataTypePrice, config.DataTypeCompany, config.DataTypeNews},
		dataTypesFor("sentiment"))
	assert.ElementsMatch(t,
		[]string{config.DataTypePrice, config.DataTypeCompany, config.DataTypeNews},
		dataTypesFor("similarity"))
	assert.Contains(t, dataTypesFor("trend"), config.DataTypeHistorical)
	assert.Contains(t, dataTypesFor("single_stock"), config.DataTypeFinancials)
	assert.Contains(t, dataTypesFor("comparison"), config.DataTypeHistorical)
	assert.Contains(t, dataTypesFor("comparison"), config.DataTypeFinancials)
	assert.NotContains(t, dataTypesFor("sentiment"), config.DataTypeFinancials)
}

func TestResearchAgentSuccess(t *testing.T) {
	data := newFakeData()
	seedResearch(data, "AAPL")
	seedResearch(data, "MSFT")

	agent := NewResearchAgent(data, cache.New(), newFakeStore(), &fakeEmbedder{dim: 4}, nil)
	c := state.New("What is the price of AAPL and MSFT", "s")

	out, err := agent.Execute(context.Background(), c)
	require.NoError(t, err)

	for _, symbol := range []string{"AAPL", "MSFT"} {
		require.Contains(t, out.ResearchData, symbol)
		assert.Contains(t, out.ResearchData[symbol], config.DataTypePrice)
		assert.Equal(t, "success", out.SymbolStatus[symbol])
		assert.Equal(t, "complete", out.ResearchMetadata[symbol]["data_quality"])
	}
	assert.False(t, out.PartialSuccess)
	assert.NotEmpty(t, out.Citations)
	assert.Contains(t, out.AgentsExecuted, NameResearch)
	assert.Greater(t, out.ExecutionTimes[NameResearch], 0.0)
}

func TestResearchAgentCriticalFailureFailsSymbol(t *testing.T) {
	data := newFakeData()
	seedResearch(data, "AAPL")
	data.fail("FAKE", config.DataTypePrice, errors.New("all sources failed"))
	data.fail("FAKE", config.DataTypeCompany, errors.New("all sources failed"))
	data.fail("FAKE", config.DataTypeNews, errors.New("all sources failed"))

	agent := NewResearchAgent(data, cache.New(), nil, nil, nil)
	c := state.New("Analyze AAPL and FAKE performance", "s")
	c.Symbols = []string{"AAPL", "FAKE"}

	out, err := agent.Execute(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, "success", out.SymbolStatus["AAPL"])
	assert.Equal(t, "failed", out.SymbolStatus["FAKE"])
	assert.NotEmpty(t, out.SymbolErrors["FAKE"])
	assert.Equal(t, "error", out.ResearchMetadata["FAKE"]["data_quality"])
	assert.True(t, out.PartialSuccess)
}

func TestResearchAgentOptionalFailureDegradesQuality(t *testing.T) {
	data := newFakeData()
	data.set("AAPL", config.DataTypePrice, priceData(100))
	data.set("AAPL", config.DataTypeCompany, companyData("Technology"))
	data.fail("AAPL", config.DataTypeNews, errors.New("news down"))

	agent := NewResearchAgent(data, cache.New(), nil, nil, nil)
	c := state.New("What is the price of AAPL", "s")

	out, err := agent.Execute(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "success", out.SymbolStatus["AAPL"])
	assert.Equal(t, "partial", out.ResearchMetadata["AAPL"]["data_quality"])
	assert.False(t, out.PartialSuccess)
}

func TestResearchAgentUsesCache(t *testing.T) {
	data := newFakeData()
	seedResearch(data, "AAPL")

	contextCache := cache.New()
	contextCache.Set("AAPL", config.DataTypePrice, priceData(99))

	agent := NewResearchAgent(data, contextCache, nil, nil, nil)
	c := state.New("What is the price of AAPL", "s")

	out, err := agent.Execute(context.Background(), c)
	require.NoError(t, err)

	// cached price served without a client call
	assert.Equal(t, 0, data.calls[dataKey("AAPL", config.DataTypePrice)])
	price := out.ResearchData["AAPL"][config.DataTypePrice].(map[string]any)
	assert.Equal(t, 99.0, price["current_price"])
	// non-cached types still fetched
	assert.Equal(t, 1, data.calls[dataKey("AAPL", config.DataTypeCompany)])
}

func TestResearchAgentIndexesNews(t *testing.T) {
	data := newFakeData()
	seedResearch(data, "AAPL")
	store := newFakeStore()

	agent := NewResearchAgent(data, cache.New(), store, &fakeEmbedder{dim: 4}, nil)
	c := state.New("Latest news on AAPL", "s")

	_, err := agent.Execute(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, 1, store.Count(vector.CollectionFinancialNews))
	doc := store.added[vector.CollectionFinancialNews][0]
	assert.Contains(t, doc.Content, "Earnings beat")
	assert.Equal(t, "AAPL", doc.Metadata["symbol"])
}

func TestResearchAgentNoSymbols(t *testing.T) {
	agent := NewResearchAgent(newFakeData(), nil, nil, nil, nil)
	c := state.New("how do markets work generally", "s")
	out, err := agent.Execute(context.Background(), c)
	require.NoError(t, err)
	assert.Empty(t, out.ResearchData)
}

func analyzedContext(t *testing.T, symbols ...string) *state.SharedContext {
	t.Helper()
	c := state.New("Compare "+strings.Join(symbols, " and ")+" stock", "s")
	c.Symbols = symbols
	for i, symbol := range symbols {
		c.SetResearchData(symbol, map[string]any{
			config.DataTypePrice:   priceData(100 + float64(i)*10),
			config.DataTypeCompany: companyData("Technology"),
			config.DataTypeNews:    newsData("Earnings beat", "Product launch"),
		})
		c.SymbolStatus[symbol] = "success"
	}
	return c
}

func TestAnalystAgentProducesAnalysis(t *testing.T) {
	llm := &fakeProvider{content: `{"sentiment": "positive", "score": 0.6, "factors": ["earnings"], "summary": "strong quarter"}`}
	agent := NewAnalystAgent(llm, nil, nil, nil)
	c := analyzedContext(t, "AAPL")

	out, err := agent.Execute(context.Background(), c)
	require.NoError(t, err)

	analysis := out.AnalysisResults["AAPL"]
	require.NotNil(t, analysis)

	metrics := analysis["metrics"].(map[string]any)
	assert.Equal(t, 100.0, metrics["current_price"])
	assert.InDelta(t, 2.04, metrics["price_change_pct"].(float64), 0.01)

	sentiment := analysis["sentiment"].(map[string]any)
	assert.Equal(t, "positive", sentiment["sentiment"])
	assert.Equal(t, 0.6, sentiment["score"])
	assert.Equal(t, 2, sentiment["article_count"])

	rec := analysis["recommendation"].(map[string]any)
	assert.Equal(t, "buy", rec["action"])

	assert.Contains(t, out.AnalysisReasoning["AAPL"], "Analysis for AAPL:")
	assert.Equal(t, 42, out.TokenUsage[NameAnalyst])
}

func TestAnalystAgentSkipsFailedSymbols(t *testing.T) {
	llm := &fakeProvider{content: `{"sentiment": "neutral", "score": 0.0}`}
	agent := NewAnalystAgent(llm, nil, nil, nil)
	c := analyzedContext(t, "AAPL")
	c.Symbols = []string{"AAPL", "FAKE"}
	c.SymbolStatus["FAKE"] = "failed"

	out, err := agent.Execute(context.Background(), c)
	require.NoError(t, err)
	assert.Contains(t, out.AnalysisResults, "AAPL")
	assert.NotContains(t, out.AnalysisResults, "FAKE")
}

func TestAnalystAgentSentimentFallback(t *testing.T) {
	llm := &fakeProvider{err: errors.New("model unavailable")}
	agent := NewAnalystAgent(llm, nil, nil, nil)
	c := analyzedContext(t, "AAPL")

	out, err := agent.Execute(context.Background(), c)
	require.NoError(t, err)

	sentiment := out.AnalysisResults["AAPL"]["sentiment"].(map[string]any)
	assert.Equal(t, "neutral", sentiment["sentiment"])
	assert.Equal(t, 0.0, sentiment["score"])

	rec := out.AnalysisResults["AAPL"]["recommendation"].(map[string]any)
	assert.Equal(t, "hold", rec["action"])
}

func TestAnalystAgentSentimentParseFailureTruncatesSummary(t *testing.T) {
	llm := &fakeProvider{content: "не json " + strings.Repeat("é", 300)}
	agent := NewAnalystAgent(llm, nil, nil, nil)
	c := analyzedContext(t, "AAPL")

	out, err := agent.Execute(context.Background(), c)
	require.NoError(t, err)

	sentiment := out.AnalysisResults["AAPL"]["sentiment"].(map[string]any)
	assert.Equal(t, "neutral", sentiment["sentiment"])
	summary := sentiment["summary"].(string)
	assert.Equal(t, 200, utf8.RuneCountInString(summary))
	assert.True(t, utf8.ValidString(summary))
}

func TestAnalystAgentHistoricalPatternsExcludeOwnSymbol(t *testing.T) {
	store := newFakeStore()
	store.results = []vector.SearchResult{
		{Content: "AAPL analysis", Metadata: map[string]string{"symbol": "AAPL"}, Distance: 0.1},
		{Content: "MSFT analysis", Metadata: map[string]string{"symbol": "MSFT"}, Distance: 0.2},
	}
	llm := &fakeProvider{content: `{"sentiment": "neutral", "score": 0.0}`}
	agent := NewAnalystAgent(llm, store, &fakeEmbedder{dim: 4}, nil)
	c := analyzedContext(t, "AAPL")

	out, err := agent.Execute(context.Background(), c)
	require.NoError(t, err)

	patterns := out.AnalysisResults["AAPL"]["historical_patterns"].([]map[string]any)
	require.Len(t, patterns, 1)
	assert.Equal(t, "MSFT", patterns[0]["symbol"])
}

func TestAnalystAgentTrendPlaceholder(t *testing.T) {
	llm := &fakeProvider{content: `{"sentiment": "neutral", "score": 0.0}`}
	agent := NewAnalystAgent(llm, nil, nil, nil)
	c := analyzedContext(t, "AAPL")
	c.QueryType = "trend"
	c.ResearchData["AAPL"][config.DataTypeHistorical] = map[string]any{
		"period": "6mo",
		"data":   []any{map[string]any{"close": 1.0}, map[string]any{"close": 2.0}},
	}

	out, err := agent.Execute(context.Background(), c)
	require.NoError(t, err)

	trends := out.AnalysisResults["AAPL"]["trends"].(map[string]any)
	assert.Equal(t, "analyzing", trends["trend"])
	assert.Equal(t, 2, trends["data_points"])
	assert.Equal(t, "6mo", trends["period"])
}

func TestRecommendationThresholds(t *testing.T) {
	assert.Equal(t, "buy", recommendation(0.5)["action"])
	assert.Equal(t, "hold", recommendation(0.3)["action"])
	assert.Equal(t, "hold", recommendation(0.0)["action"])
	assert.Equal(t, "hold", recommendation(-0.3)["action"])
	assert.Equal(t, "sell", recommendation(-0.5)["action"])
}

func analystOutput(t *testing.T, symbols ...string) *state.SharedContext {
	t.Helper()
	c := analyzedContext(t, symbols...)
	for _, symbol := range symbols {
		c.SetAnalysisResults(symbol, map[string]any{
			"metrics":        map[string]any{"current_price": 100.0},
			"sentiment":      map[string]any{"sentiment": "positive", "score": 0.6, "article_count": 2},
			"recommendation": map[string]any{"action": "buy", "confidence": "medium"},
		})
		c.AnalysisReasoning[symbol] = fmt.Sprintf("Analysis for %s:\n\nFinancial metrics: solid\n", symbol)
	}
	return c
}

func TestComparisonAgentSingleSymbolBenchmark(t *testing.T) {
	llm := &fakeProvider{content: "AAPL looks strong against the market."}
	store := newFakeStore()
	store.results = []vector.SearchResult{
		{Content: "MSFT analysis", Metadata: map[string]string{"symbol": "MSFT"}, Distance: 0.2},
	}
	agent := NewComparisonAgent(llm, store, &fakeEmbedder{dim: 4}, nil)
	c := analystOutput(t, "AAPL")

	out, err := agent.Execute(context.Background(), c)
	require.NoError(t, err)
	require.NotNil(t, out.ComparisonResult)
	assert.Equal(t, "benchmark", out.ComparisonResult["comparison_type"])
	assert.Equal(t, "AAPL", out.ComparisonResult["symbol"])
	assert.NotEmpty(t, out.ComparisonResult["insights"])

	peers := out.ComparisonResult["historical_patterns"].([]map[string]any)
	require.Len(t, peers, 1)
	assert.Equal(t, "MSFT", peers[0]["symbol"])
}

func TestComparisonAgentSideBySideTable(t *testing.T) {
	llm := &fakeProvider{content: "MSFT edges out AAPL on sentiment."}
	agent := NewComparisonAgent(llm, nil, nil, nil)
	c := analystOutput(t, "AAPL", "MSFT")

	out, err := agent.Execute(context.Background(), c)
	require.NoError(t, err)

	result := out.ComparisonResult
	assert.Equal(t, "side_by_side", result["comparison_type"])

	table := result["table"].(map[string]any)
	assert.Equal(t, comparisonHeaders, table["headers"])
	rows := table["rows"].([][]any)
	require.Len(t, rows, 2)
	assert.Equal(t, "AAPL", rows[0][0])
	assert.Equal(t, "buy", rows[0][6])
	// missing P/E renders as N/A
	assert.Equal(t, "N/A", rows[0][3])
	assert.Equal(t, 42, out.TokenUsage[NameComparison])
}

func TestComparisonAgentInsightsErrorDegrades(t *testing.T) {
	llm := &fakeProvider{err: errors.New("model unavailable")}
	agent := NewComparisonAgent(llm, nil, nil, nil)
	c := analystOutput(t, "AAPL", "MSFT")

	out, err := agent.Execute(context.Background(), c)
	require.NoError(t, err)
	insights := out.ComparisonResult["insights"].(string)
	assert.Contains(t, insights, "Error generating comparison insights:")
}

func TestReportingAgentWritesReport(t *testing.T) {
	llm := &fakeProvider{content: "Executive Summary: AAPL stock price rose on strong earnings. Recommendation: buy."}
	store := newFakeStore()
	integrations := config.NewIntegrations(config.SourcesConfig{})
	agent := NewReportingAgent(llm, store, &fakeEmbedder{dim: 4}, integrations, nil)

	c := analystOutput(t, "AAPL")
	c.AddCitation(tracking.Citation{Source: "Yahoo Finance", DataPoint: "stock_price", Symbol: "AAPL"})

	out, err := agent.Execute(context.Background(), c)
	require.NoError(t, err)
	assert.NotEmpty(t, out.FinalReport)
	assert.Equal(t, 42, out.TokenUsage[NameReporting])

	// prompt carries the query, analysis, citations and section order
	prompt := llm.lastReq.Messages[1].Content
	assert.Contains(t, prompt, c.Query)
	assert.Contains(t, prompt, "Analysis for AAPL:")
	assert.Contains(t, prompt, "- Yahoo Finance: stock_price")
	assert.Contains(t, prompt, "Executive Summary, Company Overview, Financial Analysis, Sentiment Analysis, Trends, Recommendation, Risk, Sources")

	// system prompt names the available sources
	assert.Contains(t, llm.lastReq.Messages[0].Content, "AVAILABLE DATA SOURCES:")

	// report indexed for future pattern searches
	assert.Equal(t, 1, store.Count(vector.CollectionCompanyAnalysis))
}

func TestReportingAgentVisualizations(t *testing.T) {
	llm := &fakeProvider{content: "Report on stock price trends."}
	agent := NewReportingAgent(llm, nil, nil, nil, nil)

	c := analystOutput(t, "AAPL", "MSFT")
	c.ResearchData["AAPL"][config.DataTypeHistorical] = map[string]any{
		"period": "6mo",
		"dates":  []any{"2026-02-02", "2026-02-03"},
		"data":   []any{map[string]any{"close": 99.0}, map[string]any{"close": 101.0}},
	}
	c.ComparisonResult = map[string]any{
		"comparison_type": "side_by_side",
		"table":           map[string]any{"headers": comparisonHeaders, "rows": [][]any{}},
	}

	out, err := agent.Execute(context.Background(), c)
	require.NoError(t, err)

	viz := out.Visualizations
	require.NotNil(t, viz)
	trends := viz["price_trends"].([]map[string]any)
	require.Len(t, trends, 1)
	assert.Equal(t, "AAPL", trends[0]["symbol"])
	assert.Equal(t, []any{99.0, 101.0}, trends[0]["closes"])
	assert.Len(t, viz["sentiment_charts"], 2)
	charts := viz["comparison_charts"].([]map[string]any)
	require.Len(t, charts, 2)
	assert.Equal(t, 100.0, charts[0]["price"])
}

func TestReportingAgentLLMFailureDegradesToPlaceholder(t *testing.T) {
	llm := &fakeProvider{err: errors.New("llm unavailable")}
	agent := NewReportingAgent(llm, nil, nil, nil, nil)
	c := analystOutput(t, "AAPL")

	out, err := agent.Execute(context.Background(), c)
	require.NoError(t, err)
	assert.Contains(t, out.FinalReport, "Error generating report:")
	assert.Contains(t, out.FinalReport, "llm unavailable")
	assert.Contains(t, out.AgentsExecuted, NameReporting)
	assert.Zero(t, out.TokenUsage[NameReporting])
}

func TestReportingAgentFailsWithoutModel(t *testing.T) {
	agent := NewReportingAgent(nil, nil, nil, nil, nil)
	c := analystOutput(t, "AAPL")
	_, err := agent.Execute(context.Background(), c)
	assert.Error(t, err)
}

func TestReportingAgentMentionsFailedSymbols(t *testing.T) {
	llm := &fakeProvider{content: "Partial report on stock price."}
	agent := NewReportingAgent(llm, nil, nil, nil, nil)

	c := analystOutput(t, "AAPL")
	c.Symbols = []string{"AAPL", "FAKE"}
	c.SymbolStatus["FAKE"] = "failed"
	c.SymbolErrors["FAKE"] = "all sources failed"
	c.PartialSuccess = true

	_, err := agent.Execute(context.Background(), c)
	require.NoError(t, err)
	assert.Contains(t, llm.lastReq.Messages[1].Content, "FAILED SYMBOLS")
	assert.Contains(t, llm.lastReq.Messages[1].Content, "FAKE: all sources failed")
}

func TestRunHarnessRecordsFailure(t *testing.T) {
	c := state.New("Analyze AAPL stock", "s")
	_, err := run(context.Background(), c, "analyst", 2, func(ctx context.Context, c *state.SharedContext) (*state.SharedContext, error) {
		return c, errors.New("boom")
	})
	require.Error(t, err)

	last := c.ProgressEvents[len(c.ProgressEvents)-1]
	assert.Equal(t, "agent_complete", last.EventType)
	assert.Equal(t, "failed", last.Status)
	assert.Contains(t, c.AgentsExecuted, "analyst")
	require.NotEmpty(t, c.ExecutionOrder)
	assert.NotNil(t, c.ExecutionOrder[0].EndTime)
}
