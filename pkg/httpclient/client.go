package httpclient

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
)

// RetryStrategy decides how a failed request is retried.
type RetryStrategy int

const (
	// NoRetry fails immediately. Client errors other than 429 land here.
	NoRetry RetryStrategy = iota
	// BackoffRetry waits 2^attempt * baseDelay between attempts. Used for
	// rate limits, server errors and transport failures.
	BackoffRetry
)

// DefaultRetryStrategy retries 429 and 5xx responses and fails everything
// else immediately.
func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return BackoffRetry
	case statusCode >= 500:
		return BackoffRetry
	default:
		return NoRetry
	}
}

// RetryStrategyFunc maps an HTTP status code to a retry strategy.
type RetryStrategyFunc func(int) RetryStrategy

// Client is an http.Client wrapper with bounded exponential-backoff
// retries. Requests honor Retry-After headers when present.
type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	strategyFunc RetryStrategyFunc
	logger       *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

func WithMaxRetries(max int) Option {
	return func(c *Client) { c.maxRetries = max }
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) { c.baseDelay = delay }
}

func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) { c.strategyFunc = strategyFunc }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{Timeout: 30 * time.Second},
		maxRetries:   3,
		baseDelay:    time.Second,
		strategyFunc: DefaultRetryStrategy,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Do executes the request, retrying per the configured strategy. The
// request context cancels waits between attempts.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	var lastStatus int

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			// Transport failure: retry with backoff.
			lastErr = err
			lastStatus = 0
		} else if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		} else {
			strategy := c.strategyFunc(resp.StatusCode)
			retryAfter := parseRetryAfter(resp.Header)
			resp.Body.Close()
			if strategy == NoRetry {
				return nil, &RetryableError{
					StatusCode: resp.StatusCode,
					Message:    fmt.Sprintf("request to %s failed", req.URL.Host),
				}
			}
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			lastStatus = resp.StatusCode
			if retryAfter > 0 {
				if err := c.wait(req.Context(), retryAfter); err != nil {
					return nil, err
				}
				continue
			}
		}

		if attempt < c.maxRetries-1 {
			delay := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
			c.logger.Debug("retrying request",
				"url", req.URL.String(), "attempt", attempt+1, "delay", delay)
			if err := c.wait(req.Context(), delay); err != nil {
				return nil, err
			}
		}
	}

	return nil, &RetryableError{
		StatusCode: lastStatus,
		Message:    fmt.Sprintf("max retries (%d) exceeded", c.maxRetries),
		Err:        lastErr,
	}
}

func (c *Client) wait(ctx context.Context, delay time.Duration) error {
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func parseRetryAfter(header http.Header) time.Duration {
	value := header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}
