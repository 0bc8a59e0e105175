package sources

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/quantlayer/finsight/pkg/config"
)

const (
	defaultAlphaVantageURL = "https://www.alphavantage.co"
	// Free-tier Alpha Vantage allows 5 calls per minute.
	alphaVantageMinInterval = 12 * time.Second
	alphaVantageDisplayName = "Alpha Vantage"
)

// AlphaVantageClient serves price quotes, company overviews and
// technical indicators.
type AlphaVantageClient struct {
	baseClient
	baseURL string
	apiKey  string
}

func NewAlphaVantageClient(cfg config.SourcesConfig) *AlphaVantageClient {
	baseURL := cfg.AlphaVantageURL
	if baseURL == "" {
		baseURL = defaultAlphaVantageURL
	}
	timeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AlphaVantageClient{
		baseClient: newBaseClient(config.SourceAlphaVantage, alphaVantageMinInterval, timeout),
		baseURL:    baseURL,
		apiKey:     cfg.AlphaVantageKey,
	}
}

func (c *AlphaVantageClient) Name() string {
	return config.SourceAlphaVantage
}

func (c *AlphaVantageClient) Fetch(ctx context.Context, symbol, dataType string) (any, error) {
	switch dataType {
	case config.DataTypePrice:
		return c.fetchPrice(ctx, symbol)
	case config.DataTypeCompany:
		return c.fetchCompany(ctx, symbol)
	case config.DataTypeIndicators:
		return c.FetchIndicator(ctx, symbol, "SMA", "daily", 20)
	default:
		return nil, unsupported(config.SourceAlphaVantage, dataType, symbol)
	}
}

func (c *AlphaVantageClient) query(ctx context.Context, params url.Values) (map[string]any, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("alpha vantage api key is not set (ALPHA_VANTAGE_API_KEY)")
	}
	params.Set("apikey", c.apiKey)
	var raw map[string]any
	if err := c.getJSON(ctx, c.baseURL+"/query?"+params.Encode(), &raw); err != nil {
		return nil, err
	}
	if note, ok := raw["Note"].(string); ok && note != "" {
		return nil, fmt.Errorf("alpha vantage rate limit: %s", note)
	}
	if message, ok := raw["Error Message"].(string); ok && message != "" {
		return nil, fmt.Errorf("alpha vantage error: %s", message)
	}
	return raw, nil
}

func (c *AlphaVantageClient) fetchPrice(ctx context.Context, symbol string) (map[string]any, error) {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)

	raw, err := c.query(ctx, params)
	if err != nil {
		return nil, apiError(config.SourceAlphaVantage, config.DataTypePrice, symbol, err)
	}
	quote, ok := raw["Global Quote"].(map[string]any)
	if !ok || len(quote) == 0 {
		return nil, notFound(config.SourceAlphaVantage, config.DataTypePrice, symbol)
	}

	price := map[string]any{
		"current_price":  parseQuoteNumber(quote["05. price"]),
		"previous_close": parseQuoteNumber(quote["08. previous close"]),
		"volume":         parseQuoteNumber(quote["06. volume"]),
		"day_high":       parseQuoteNumber(quote["03. high"]),
		"day_low":        parseQuoteNumber(quote["04. low"]),
		"change":         parseQuoteNumber(quote["09. change"]),
		"timestamp":      time.Now().Format(time.RFC3339),
	}
	if price["current_price"] == nil {
		return nil, notFound(config.SourceAlphaVantage, config.DataTypePrice, symbol)
	}

	c.addCitation(alphaVantageDisplayName,
		"https://www.alphavantage.co/query?function=GLOBAL_QUOTE&symbol="+symbol,
		"stock_price", symbol)
	return price, nil
}

func (c *AlphaVantageClient) fetchCompany(ctx context.Context, symbol string) (map[string]any, error) {
	params := url.Values{}
	params.Set("function", "OVERVIEW")
	params.Set("symbol", symbol)

	raw, err := c.query(ctx, params)
	if err != nil {
		return nil, apiError(config.SourceAlphaVantage, config.DataTypeCompany, symbol, err)
	}
	if raw["Name"] == nil {
		return nil, notFound(config.SourceAlphaVantage, config.DataTypeCompany, symbol)
	}

	company := map[string]any{
		"name":        raw["Name"],
		"sector":      raw["Sector"],
		"industry":    raw["Industry"],
		"description": raw["Description"],
		"market_cap":  parseQuoteNumber(raw["MarketCapitalization"]),
		"pe_ratio":    parseQuoteNumber(raw["PERatio"]),
		"website":     raw["OfficialSite"],
	}

	c.addCitation(alphaVantageDisplayName,
		"https://www.alphavantage.co/query?function=OVERVIEW&symbol="+symbol,
		"company_info", symbol)
	return company, nil
}

// FetchIndicator requests a technical indicator series such as SMA or
// RSI. The series is keyed "Technical Analysis: {indicator}" in the
// response.
func (c *AlphaVantageClient) FetchIndicator(ctx context.Context, symbol, indicator, interval string, timePeriod int) (map[string]any, error) {
	params := url.Values{}
	params.Set("function", indicator)
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("time_period", fmt.Sprintf("%d", timePeriod))
	params.Set("series_type", "close")

	raw, err := c.query(ctx, params)
	if err != nil {
		return nil, apiError(config.SourceAlphaVantage, config.DataTypeIndicators, symbol, err)
	}
	series, ok := raw["Technical Analysis: "+indicator].(map[string]any)
	if !ok {
		return nil, notFound(config.SourceAlphaVantage, config.DataTypeIndicators, symbol)
	}

	c.addCitation(alphaVantageDisplayName,
		"https://www.alphavantage.co/query?function="+indicator+"&symbol="+symbol,
		"technical_indicators", symbol)
	return map[string]any{
		"indicator":   indicator,
		"interval":    interval,
		"time_period": timePeriod,
		"series":      series,
	}, nil
}

// parseQuoteNumber converts Alpha Vantage's string-encoded numbers.
func parseQuoteNumber(value any) any {
	switch v := value.(type) {
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
			return f
		}
		return nil
	case float64:
		return v
	}
	return nil
}
