// Package sources fetches finance data from the external providers:
// Yahoo Finance, Alpha Vantage and Financial Modeling Prep. Each client
// normalizes its responses to shared field names so downstream agents
// never see provider-specific shapes.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantlayer/finsight/pkg/httpclient"
	"github.com/quantlayer/finsight/pkg/tracking"
)

// Client fetches one data type for one symbol from a single provider.
type Client interface {
	// Name returns the canonical source name (config.Source*).
	Name() string
	Fetch(ctx context.Context, symbol, dataType string) (any, error)
	Citations() *tracking.CitationTracker
}

// baseClient carries the plumbing every source client shares: a
// min-interval rate limiter, a retrying HTTP client and a citation
// buffer.
type baseClient struct {
	name      string
	http      *httpclient.Client
	limiter   *rate.Limiter
	citations *tracking.CitationTracker
}

func newBaseClient(name string, minInterval time.Duration, timeout time.Duration) baseClient {
	return baseClient{
		name: name,
		http: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(3),
		),
		limiter:   rate.NewLimiter(rate.Every(minInterval), 1),
		citations: tracking.NewCitationTracker(),
	}
}

func (b *baseClient) Citations() *tracking.CitationTracker {
	return b.citations
}

// getJSON rate-limits, performs the request and decodes the body into
// out.
func (b *baseClient) getJSON(ctx context.Context, url string, out any) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "finsight/1.0")

	resp, err := b.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// addCitation records where a data point came from. The agent field
// marks the client as the producer.
func (b *baseClient) addCitation(source, url, dataPoint, symbol string) {
	b.citations.Add(tracking.Citation{
		Source:    source,
		URL:       url,
		Agent:     b.name + "_source",
		DataPoint: dataPoint,
		Symbol:    symbol,
	})
}

// asFloat converts the numeric shapes JSON decoding produces.
func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func unsupported(source, dataType, symbol string) error {
	return &SourceError{Source: source, DataType: dataType, Symbol: symbol, Kind: KindUnsupported}
}

func apiError(source, dataType, symbol string, err error) error {
	return &SourceError{Source: source, DataType: dataType, Symbol: symbol, Kind: KindAPI, Err: err}
}

func notFound(source, dataType, symbol string) error {
	return &SourceError{Source: source, DataType: dataType, Symbol: symbol, Kind: KindNotFound}
}
