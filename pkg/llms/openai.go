package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quantlayer/finsight/pkg/config"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements Provider against the chat completions API.
type OpenAIProvider struct {
	apiKey      string
	model       string
	baseURL     string
	maxRetries  int
	backoffBase time.Duration
	httpClient  *http.Client
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:      apiKey,
		model:       model,
		baseURL:     defaultOpenAIBaseURL,
		maxRetries:  3,
		backoffBase: time.Second,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
	}
}

func NewOpenAIProviderFromConfig(cfg config.LLMConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required (set OPENAI_API_KEY)")
	}
	p := NewOpenAIProvider(cfg.APIKey, cfg.Model)
	if cfg.BaseURL != "" {
		p.baseURL = cfg.BaseURL
	}
	if cfg.MaxRetries > 0 {
		p.maxRetries = cfg.MaxRetries
	}
	return p, nil
}

func (p *OpenAIProvider) Model() string {
	return p.model
}

// Complete executes the request with bounded retries. Permanent errors
// (auth, invalid request) fail immediately; everything else backs off
// exponentially between attempts.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * p.backoffBase
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := p.attempt(ctx, req)
		if err == nil {
			resp.Duration = time.Since(start)
			return resp, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("completion failed after %d attempts: %w", p.maxRetries, lastErr)
}

func (p *OpenAIProvider) attempt(ctx context.Context, req Request) (*Response, error) {
	messages := make([]openAIMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openAIMessage{Role: m.Role, Content: m.Content}
	}

	body := openAIRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "request failed", Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "failed to read response", Err: err}
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil && httpResp.StatusCode == http.StatusOK {
		return nil, &Error{Kind: KindServer, Message: "failed to decode response", Err: err}
	}

	if httpResp.StatusCode != http.StatusOK {
		message := fmt.Sprintf("HTTP %d", httpResp.StatusCode)
		if parsed.Error != nil {
			message = parsed.Error.Message
		}
		return nil, &Error{
			Kind:       kindForStatus(httpResp.StatusCode),
			StatusCode: httpResp.StatusCode,
			Message:    message,
		}
	}

	if len(parsed.Choices) == 0 {
		return nil, &Error{Kind: KindServer, Message: "response contained no choices"}
	}

	return &Response{
		Content: parsed.Choices[0].Message.Content,
		Usage:   parsed.Usage,
		Model:   parsed.Model,
	}, nil
}
