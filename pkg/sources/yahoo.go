package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/quantlayer/finsight/pkg/config"
)

const (
	defaultYahooBaseURL = "https://query1.finance.yahoo.com"
	yahooMinInterval    = 100 * time.Millisecond
	yahooDisplayName    = "Yahoo Finance"

	// DefaultHistoricalPeriod is the range fetched for trend analysis.
	DefaultHistoricalPeriod = "6mo"
)

// YahooClient serves price, company, historical, financials and news
// data.
type YahooClient struct {
	baseClient
	baseURL string
}

func NewYahooClient(cfg config.SourcesConfig) *YahooClient {
	baseURL := cfg.YahooBaseURL
	if baseURL == "" {
		baseURL = defaultYahooBaseURL
	}
	timeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YahooClient{
		baseClient: newBaseClient(config.SourceYahoo, yahooMinInterval, timeout),
		baseURL:    baseURL,
	}
}

func (c *YahooClient) Name() string {
	return config.SourceYahoo
}

func (c *YahooClient) Fetch(ctx context.Context, symbol, dataType string) (any, error) {
	switch dataType {
	case config.DataTypePrice:
		return c.fetchPrice(ctx, symbol)
	case config.DataTypeCompany:
		return c.fetchCompany(ctx, symbol)
	case config.DataTypeHistorical:
		return c.fetchHistorical(ctx, symbol, DefaultHistoricalPeriod)
	case config.DataTypeFinancials:
		return c.fetchFinancials(ctx, symbol)
	case config.DataTypeNews:
		return c.fetchNews(ctx, symbol)
	default:
		return nil, unsupported(config.SourceYahoo, dataType, symbol)
	}
}

func (c *YahooClient) fetchPrice(ctx context.Context, symbol string) (map[string]any, error) {
	url := fmt.Sprintf("%s/v8/finance/chart/%s?range=1d&interval=1d", c.baseURL, symbol)
	var raw map[string]any
	if err := c.getJSON(ctx, url, &raw); err != nil {
		return nil, apiError(config.SourceYahoo, config.DataTypePrice, symbol, err)
	}

	meta, ok := dig(raw, "chart", "result", 0, "meta").(map[string]any)
	if !ok {
		return nil, notFound(config.SourceYahoo, config.DataTypePrice, symbol)
	}

	price := map[string]any{
		"current_price":  meta["regularMarketPrice"],
		"previous_close": meta["chartPreviousClose"],
		"market_cap":     meta["marketCap"],
		"volume":         meta["regularMarketVolume"],
		"day_high":       meta["regularMarketDayHigh"],
		"day_low":        meta["regularMarketDayLow"],
		"52_week_high":   meta["fiftyTwoWeekHigh"],
		"52_week_low":    meta["fiftyTwoWeekLow"],
		"timestamp":      time.Now().Format(time.RFC3339),
	}
	if _, ok := asFloat(price["current_price"]); !ok {
		return nil, notFound(config.SourceYahoo, config.DataTypePrice, symbol)
	}

	c.addCitation(yahooDisplayName,
		fmt.Sprintf("https://finance.yahoo.com/quote/%s", symbol),
		"stock_price", symbol)
	return price, nil
}

func (c *YahooClient) fetchCompany(ctx context.Context, symbol string) (map[string]any, error) {
	url := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=assetProfile,price", c.baseURL, symbol)
	var raw map[string]any
	if err := c.getJSON(ctx, url, &raw); err != nil {
		return nil, apiError(config.SourceYahoo, config.DataTypeCompany, symbol, err)
	}

	result, ok := dig(raw, "quoteSummary", "result", 0).(map[string]any)
	if !ok {
		return nil, notFound(config.SourceYahoo, config.DataTypeCompany, symbol)
	}
	profile, _ := result["assetProfile"].(map[string]any)
	priceModule, _ := result["price"].(map[string]any)
	if profile == nil && priceModule == nil {
		return nil, notFound(config.SourceYahoo, config.DataTypeCompany, symbol)
	}

	company := map[string]any{}
	if priceModule != nil {
		company["name"] = priceModule["longName"]
		company["market_cap"] = dig(priceModule, "marketCap", "raw")
	}
	if profile != nil {
		company["sector"] = profile["sector"]
		company["industry"] = profile["industry"]
		company["description"] = profile["longBusinessSummary"]
		company["employees"] = profile["fullTimeEmployees"]
		company["website"] = profile["website"]
		if city, ok := profile["city"].(string); ok {
			headquarters := city
			if country, ok := profile["country"].(string); ok {
				headquarters = city + ", " + country
			}
			company["headquarters"] = headquarters
		}
	}

	c.addCitation(yahooDisplayName,
		fmt.Sprintf("https://finance.yahoo.com/quote/%s/profile", symbol),
		"company_info", symbol)
	return company, nil
}

func (c *YahooClient) fetchHistorical(ctx context.Context, symbol, period string) (map[string]any, error) {
	url := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=1d", c.baseURL, symbol, period)
	var raw map[string]any
	if err := c.getJSON(ctx, url, &raw); err != nil {
		return nil, apiError(config.SourceYahoo, config.DataTypeHistorical, symbol, err)
	}

	result, ok := dig(raw, "chart", "result", 0).(map[string]any)
	if !ok {
		return nil, notFound(config.SourceYahoo, config.DataTypeHistorical, symbol)
	}
	timestamps, _ := result["timestamp"].([]any)
	quote, _ := dig(result, "indicators", "quote", 0).(map[string]any)
	if len(timestamps) == 0 || quote == nil {
		return nil, notFound(config.SourceYahoo, config.DataTypeHistorical, symbol)
	}

	opens, _ := quote["open"].([]any)
	highs, _ := quote["high"].([]any)
	lows, _ := quote["low"].([]any)
	closes, _ := quote["close"].([]any)
	volumes, _ := quote["volume"].([]any)

	var rows []map[string]any
	var dates []string
	for i, ts := range timestamps {
		seconds, ok := asFloat(ts)
		if !ok {
			continue
		}
		date := time.Unix(int64(seconds), 0).UTC().Format("2006-01-02")
		dates = append(dates, date)
		row := map[string]any{"date": date}
		if i < len(opens) {
			row["open"] = opens[i]
		}
		if i < len(highs) {
			row["high"] = highs[i]
		}
		if i < len(lows) {
			row["low"] = lows[i]
		}
		if i < len(closes) {
			row["close"] = closes[i]
		}
		if i < len(volumes) {
			row["volume"] = volumes[i]
		}
		rows = append(rows, row)
	}

	c.addCitation(yahooDisplayName,
		fmt.Sprintf("https://finance.yahoo.com/quote/%s/history", symbol),
		"historical_data", symbol)
	return map[string]any{
		"period": period,
		"data":   rows,
		"dates":  dates,
	}, nil
}

func (c *YahooClient) fetchFinancials(ctx context.Context, symbol string) (map[string]any, error) {
	url := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=incomeStatementHistory,balanceSheetHistory,cashflowStatementHistory",
		c.baseURL, symbol)
	var raw map[string]any
	if err := c.getJSON(ctx, url, &raw); err != nil {
		return nil, apiError(config.SourceYahoo, config.DataTypeFinancials, symbol, err)
	}

	result, ok := dig(raw, "quoteSummary", "result", 0).(map[string]any)
	if !ok {
		return nil, notFound(config.SourceYahoo, config.DataTypeFinancials, symbol)
	}

	financials := map[string]any{
		"income_statement": dig(result, "incomeStatementHistory", "incomeStatementHistory"),
		"balance_sheet":    dig(result, "balanceSheetHistory", "balanceSheetStatements"),
		"cash_flow":        dig(result, "cashflowStatementHistory", "cashflowStatements"),
	}

	c.addCitation(yahooDisplayName,
		fmt.Sprintf("https://finance.yahoo.com/quote/%s/financials", symbol),
		"financial_statements", symbol)
	return financials, nil
}

func (c *YahooClient) fetchNews(ctx context.Context, symbol string) ([]map[string]any, error) {
	url := fmt.Sprintf("%s/v1/finance/search?q=%s&newsCount=10", c.baseURL, symbol)
	var raw map[string]any
	if err := c.getJSON(ctx, url, &raw); err != nil {
		return nil, apiError(config.SourceYahoo, config.DataTypeNews, symbol, err)
	}

	items, _ := raw["news"].([]any)
	var articles []map[string]any
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		article := map[string]any{
			"title":     entry["title"],
			"publisher": entry["publisher"],
			"link":      entry["link"],
			"summary":   entry["summary"],
		}
		if published, ok := asFloat(entry["providerPublishTime"]); ok {
			article["published"] = time.Unix(int64(published), 0).UTC().Format(time.RFC3339)
		}
		articles = append(articles, article)
	}

	c.addCitation(yahooDisplayName,
		fmt.Sprintf("https://finance.yahoo.com/quote/%s/news", symbol),
		"news", symbol)
	return articles, nil
}

// dig walks nested decoded JSON by map keys and slice indices.
func dig(value any, path ...any) any {
	current := value
	for _, step := range path {
		switch key := step.(type) {
		case string:
			m, ok := current.(map[string]any)
			if !ok {
				return nil
			}
			current = m[key]
		case int:
			s, ok := current.([]any)
			if !ok || key < 0 || key >= len(s) {
				return nil
			}
			current = s[key]
		default:
			return nil
		}
	}
	return current
}
