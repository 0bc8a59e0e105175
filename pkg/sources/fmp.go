package sources

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/quantlayer/finsight/pkg/config"
)

const (
	defaultFMPBaseURL = "https://financialmodelingprep.com/api/v3"
	fmpMinInterval    = 500 * time.Millisecond
	fmpDisplayName    = "Financial Modeling Prep"

	// DefaultStatementType is fetched when no statement is specified.
	DefaultStatementType = "income-statement"
)

// FMPClient serves quotes, company profiles, financial statements and
// news.
type FMPClient struct {
	baseClient
	baseURL string
	apiKey  string
}

func NewFMPClient(cfg config.SourcesConfig) *FMPClient {
	baseURL := cfg.FMPBaseURL
	if baseURL == "" {
		baseURL = defaultFMPBaseURL
	}
	timeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FMPClient{
		baseClient: newBaseClient(config.SourceFMP, fmpMinInterval, timeout),
		baseURL:    baseURL,
		apiKey:     cfg.FMPKey,
	}
}

func (c *FMPClient) Name() string {
	return config.SourceFMP
}

func (c *FMPClient) Fetch(ctx context.Context, symbol, dataType string) (any, error) {
	switch dataType {
	case config.DataTypePrice:
		return c.fetchPrice(ctx, symbol)
	case config.DataTypeCompany:
		return c.fetchCompany(ctx, symbol)
	case config.DataTypeFinancials:
		return c.FetchStatements(ctx, symbol, DefaultStatementType, 4)
	case config.DataTypeNews:
		return c.fetchNews(ctx, symbol, 10)
	default:
		return nil, unsupported(config.SourceFMP, dataType, symbol)
	}
}

func (c *FMPClient) get(ctx context.Context, path string, params url.Values) ([]any, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("fmp api key is not set (FMP_API_KEY)")
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", c.apiKey)

	var raw any
	if err := c.getJSON(ctx, c.baseURL+path+"?"+params.Encode(), &raw); err != nil {
		return nil, err
	}
	switch v := raw.(type) {
	case []any:
		return v, nil
	case map[string]any:
		if message, ok := v["Error Message"].(string); ok {
			return nil, fmt.Errorf("fmp error: %s", message)
		}
		return nil, fmt.Errorf("unexpected fmp response shape")
	}
	return nil, fmt.Errorf("unexpected fmp response shape")
}

func (c *FMPClient) fetchPrice(ctx context.Context, symbol string) (map[string]any, error) {
	rows, err := c.get(ctx, "/quote/"+symbol, nil)
	if err != nil {
		return nil, apiError(config.SourceFMP, config.DataTypePrice, symbol, err)
	}
	if len(rows) == 0 {
		return nil, notFound(config.SourceFMP, config.DataTypePrice, symbol)
	}
	quote, ok := rows[0].(map[string]any)
	if !ok {
		return nil, notFound(config.SourceFMP, config.DataTypePrice, symbol)
	}

	price := map[string]any{
		"current_price":  quote["price"],
		"previous_close": quote["previousClose"],
		"market_cap":     quote["marketCap"],
		"volume":         quote["volume"],
		"day_high":       quote["dayHigh"],
		"day_low":        quote["dayLow"],
		"52_week_high":   quote["yearHigh"],
		"52_week_low":    quote["yearLow"],
		"pe_ratio":       quote["pe"],
		"timestamp":      time.Now().Format(time.RFC3339),
	}
	if _, ok := asFloat(price["current_price"]); !ok {
		return nil, notFound(config.SourceFMP, config.DataTypePrice, symbol)
	}

	c.addCitation(fmpDisplayName,
		"https://financialmodelingprep.com/financial-summary/"+symbol,
		"stock_price", symbol)
	return price, nil
}

func (c *FMPClient) fetchCompany(ctx context.Context, symbol string) (map[string]any, error) {
	rows, err := c.get(ctx, "/profile/"+symbol, nil)
	if err != nil {
		return nil, apiError(config.SourceFMP, config.DataTypeCompany, symbol, err)
	}
	if len(rows) == 0 {
		return nil, notFound(config.SourceFMP, config.DataTypeCompany, symbol)
	}
	profile, ok := rows[0].(map[string]any)
	if !ok {
		return nil, notFound(config.SourceFMP, config.DataTypeCompany, symbol)
	}

	company := map[string]any{
		"name":        profile["companyName"],
		"sector":      profile["sector"],
		"industry":    profile["industry"],
		"description": profile["description"],
		"employees":   profile["fullTimeEmployees"],
		"website":     profile["website"],
		"market_cap":  profile["mktCap"],
	}
	if city, ok := profile["city"].(string); ok {
		headquarters := city
		if country, ok := profile["country"].(string); ok {
			headquarters = city + ", " + country
		}
		company["headquarters"] = headquarters
	}

	c.addCitation(fmpDisplayName,
		"https://financialmodelingprep.com/financial-summary/"+symbol,
		"company_info", symbol)
	return company, nil
}

// FetchStatements returns the most recent statements of the given type
// (income-statement, balance-sheet-statement or cash-flow-statement).
func (c *FMPClient) FetchStatements(ctx context.Context, symbol, statementType string, limit int) (map[string]any, error) {
	params := url.Values{}
	params.Set("limit", fmt.Sprintf("%d", limit))

	rows, err := c.get(ctx, "/"+statementType+"/"+symbol, params)
	if err != nil {
		return nil, apiError(config.SourceFMP, config.DataTypeFinancials, symbol, err)
	}
	if len(rows) == 0 {
		return nil, notFound(config.SourceFMP, config.DataTypeFinancials, symbol)
	}

	c.addCitation(fmpDisplayName,
		"https://financialmodelingprep.com/financial-statements/"+symbol,
		"financial_statements", symbol)
	return map[string]any{
		"statement_type": statementType,
		"statements":     rows,
		"count":          len(rows),
	}, nil
}

func (c *FMPClient) fetchNews(ctx context.Context, symbol string, limit int) ([]map[string]any, error) {
	params := url.Values{}
	params.Set("tickers", symbol)
	params.Set("limit", fmt.Sprintf("%d", limit))

	rows, err := c.get(ctx, "/stock_news", params)
	if err != nil {
		return nil, apiError(config.SourceFMP, config.DataTypeNews, symbol, err)
	}

	var articles []map[string]any
	for _, row := range rows {
		entry, ok := row.(map[string]any)
		if !ok {
			continue
		}
		articles = append(articles, map[string]any{
			"title":     entry["title"],
			"summary":   entry["text"],
			"publisher": entry["site"],
			"link":      entry["url"],
			"published": entry["publishedDate"],
			"image":     entry["image"],
		})
	}

	c.addCitation(fmpDisplayName,
		"https://financialmodelingprep.com/market-news/"+symbol,
		"news", symbol)
	return articles, nil
}
