package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quantlayer/finsight/pkg/config"
	"github.com/quantlayer/finsight/pkg/embedders"
	"github.com/quantlayer/finsight/pkg/guardrails"
	"github.com/quantlayer/finsight/pkg/llms"
	"github.com/quantlayer/finsight/pkg/metrics"
	"github.com/quantlayer/finsight/pkg/state"
	"github.com/quantlayer/finsight/pkg/tracking"
	"github.com/quantlayer/finsight/pkg/vector"
)

const (
	// reportCitationLimit caps the citations listed in the prompt.
	reportCitationLimit = 10
	// reportIndexLimit caps how much of the report is embedded for later
	// pattern search.
	reportIndexLimit = 2000
)

// ReportingAgent turns the accumulated context into the final report,
// derives visualization payloads, and indexes the report for future
// historical-pattern searches.
type ReportingAgent struct {
	llm          llms.Provider
	store        vector.Store
	embedder     embedders.Embedder
	integrations *config.Integrations
	logger       *slog.Logger
}

func NewReportingAgent(llm llms.Provider, store vector.Store, embedder embedders.Embedder, integrations *config.Integrations, logger *slog.Logger) *ReportingAgent {
	return &ReportingAgent{
		llm:          llm,
		store:        store,
		embedder:     embedder,
		integrations: integrations,
		logger:       ensureLogger(logger),
	}
}

func (a *ReportingAgent) Name() string { return NameReporting }

func (a *ReportingAgent) Execute(ctx context.Context, c *state.SharedContext) (*state.SharedContext, error) {
	return run(ctx, c, a.Name(), 4, a.execute)
}

func (a *ReportingAgent) execute(ctx context.Context, c *state.SharedContext) (*state.SharedContext, error) {
	if a.llm == nil {
		return c, fmt.Errorf("reporting requires an LLM provider")
	}

	req := llms.Request{
		Messages: []llms.Message{
			{Role: llms.RoleSystem, Content: a.systemPrompt()},
			{Role: llms.RoleUser, Content: a.userPrompt(c)},
		},
		Temperature: 0.3,
	}
	resp, err := a.llm.Complete(ctx, req)
	if err != nil {
		// an exhausted LLM degrades the report, never the workflow
		a.logger.Error("report generation failed", "error", err)
		c.FinalReport = fmt.Sprintf("Error generating report: %v", err)
		c.Visualizations = visualizations(c)
		c.ContextVersion++
		return c, nil
	}

	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = tracking.EstimateTokens(resp.Content, resp.Model)
	}
	c.TrackTokens(a.Name(), tokens)
	metrics.LLMTokens.WithLabelValues(a.Name()).Add(float64(tokens))

	if err := guardrails.ValidateAgentOutput(resp.Content, a.Name()); err != nil {
		a.logger.Warn("report failed output validation", "error", err)
	}

	c.FinalReport = resp.Content
	c.Visualizations = visualizations(c)
	c.ContextVersion++

	a.indexReport(ctx, c)
	return c, nil
}

func (a *ReportingAgent) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a financial reporting analyst. Write a clear, well-structured report answering the user's query from the data provided. Cite data inline as [Source: Data Point]. Cite only the data given; never invent numbers.\n\n")
	if a.integrations != nil {
		b.WriteString(a.integrations.AvailableDataSourcesText())
	}
	return b.String()
}

// userPrompt lays out everything the model may draw on, section by
// section.
func (a *ReportingAgent) userPrompt(c *state.SharedContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "QUERY: %s\n", c.Query)
	fmt.Fprintf(&b, "QUERY TYPE: %s\n", c.QueryType)
	fmt.Fprintf(&b, "SYMBOLS: %s\n\n", strings.Join(c.Symbols, ", "))

	b.WriteString("RESEARCH DATA:\n")
	for _, symbol := range c.Symbols {
		research, ok := c.ResearchData[symbol]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", symbol)
		for _, dataType := range []string{config.DataTypePrice, config.DataTypeCompany} {
			if data := asMap(research[dataType]); data != nil {
				fmt.Fprintf(&b, "  %s: %v\n", dataType, data)
			}
		}
	}

	b.WriteString("\nANALYSIS:\n")
	for _, symbol := range c.Symbols {
		if reasoning, ok := c.AnalysisReasoning[symbol]; ok {
			b.WriteString(reasoning)
			b.WriteString("\n")
		}
	}

	if c.ComparisonResult != nil {
		b.WriteString("\nCOMPARISON:\n")
		if insights, ok := c.ComparisonResult["insights"].(string); ok && insights != "" {
			b.WriteString(insights)
			b.WriteString("\n")
		}
	}

	if len(c.SymbolErrors) > 0 {
		b.WriteString("\nFAILED SYMBOLS (acknowledge these in the report):\n")
		for symbol, message := range c.SymbolErrors {
			fmt.Fprintf(&b, "- %s: %s\n", symbol, message)
		}
	}

	b.WriteString("\nSOURCES:\n")
	for i, citation := range c.Citations {
		if i == reportCitationLimit {
			break
		}
		fmt.Fprintf(&b, "- %s: %s (%s)\n",
			citation.Source, citation.DataPoint, citation.Date.Format("2006-01-02"))
	}

	b.WriteString("\nWrite the report with these sections: Executive Summary, Company Overview, Financial Analysis, Sentiment Analysis, Trends, Recommendation, Risk, Sources.")
	return b.String()
}

// visualizations derives chart payloads from the context. Pure data,
// no rendering.
func visualizations(c *state.SharedContext) map[string]any {
	viz := map[string]any{}

	var priceTrends []map[string]any
	var sentimentCharts []map[string]any
	var comparisonCharts []map[string]any
	for _, symbol := range c.Symbols {
		research := c.ResearchData[symbol]
		if historical := asMap(research[config.DataTypeHistorical]); historical != nil {
			priceTrends = append(priceTrends, map[string]any{
				"symbol": symbol,
				"period": historical["period"],
				"dates":  historical["dates"],
				"closes": closingPrices(historical),
			})
		}
		if sentiment := asMap(c.AnalysisResults[symbol]["sentiment"]); sentiment != nil {
			sentimentCharts = append(sentimentCharts, map[string]any{
				"symbol":    symbol,
				"sentiment": sentiment["sentiment"],
				"score":     sentiment["score"],
			})
		}
		if price := asMap(research[config.DataTypePrice]); price != nil && c.ComparisonResult != nil {
			comparisonCharts = append(comparisonCharts, map[string]any{
				"symbol":     symbol,
				"price":      price["current_price"],
				"market_cap": price["market_cap"],
				"volume":     price["volume"],
			})
		}
	}
	if priceTrends != nil {
		viz["price_trends"] = priceTrends
	}
	if sentimentCharts != nil {
		viz["sentiment_charts"] = sentimentCharts
	}
	if len(comparisonCharts) > 1 {
		viz["comparison_charts"] = comparisonCharts
	}
	return viz
}

func closingPrices(historical map[string]any) []any {
	var closes []any
	for _, raw := range asSlice(historical["data"]) {
		if row := asMap(raw); row != nil {
			closes = append(closes, row["close"])
		}
	}
	return closes
}

// indexReport embeds the report into the analysis collection so future
// queries can surface it as a historical pattern. Best-effort.
func (a *ReportingAgent) indexReport(ctx context.Context, c *state.SharedContext) {
	if a.store == nil || a.embedder == nil || c.FinalReport == "" {
		return
	}
	content := truncateRunes(c.FinalReport, reportIndexLimit)
	embedding, err := a.embedder.Embed(ctx, content)
	if err != nil {
		a.logger.Debug("report embedding failed", "error", err)
		return
	}
	for _, symbol := range c.Symbols {
		doc := vector.Document{
			Content:   content,
			Embedding: embedding,
			Metadata: map[string]any{
				"symbol":         symbol,
				"symbols":        strings.Join(c.Symbols, ","),
				"query_type":     c.QueryType,
				"source":         "reporting_agent",
				"report_length":  len(c.FinalReport),
				"transaction_id": c.TransactionID,
			},
		}
		if err := a.store.AddDocument(ctx, vector.CollectionCompanyAnalysis, doc); err != nil {
			a.logger.Debug("report indexing failed", "symbol", symbol, "error", err)
		}
	}
}
