package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlayer/finsight/pkg/config"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*OpenAIProvider, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	provider := NewOpenAIProvider("test-key", "gpt-4o-mini")
	provider.baseURL = server.URL
	provider.backoffBase = time.Millisecond
	return provider, server
}

func completionResponse(content string, totalTokens int) []byte {
	body := map[string]any{
		"model": "gpt-4o-mini",
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
		"usage": map[string]any{
			"prompt_tokens":     10,
			"completion_tokens": totalTokens - 10,
			"total_tokens":      totalTokens,
		},
	}
	data, _ := json.Marshal(body)
	return data
}

func TestCompleteSuccess(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		w.Write(completionResponse("the analysis", 42))
	})

	resp, err := provider.Complete(context.Background(), Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "you are an analyst"},
			{Role: RoleUser, Content: "analyze AAPL"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "the analysis", resp.Content)
	assert.Equal(t, 42, resp.Usage.TotalTokens)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
}

func TestCompleteNoRetryOnAuthError(t *testing.T) {
	var calls atomic.Int32
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"auth"}}`))
	})

	_, err := provider.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)

	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, KindAuth, llmErr.Kind)
	assert.False(t, llmErr.Retryable())
	assert.Equal(t, int32(1), calls.Load())
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(completionResponse("recovered", 20))
	})
	provider.maxRetries = 3

	resp, err := provider.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusBadRequest, KindInvalidRequest},
		{http.StatusInternalServerError, KindServer},
		{http.StatusBadGateway, KindServer},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, kindForStatus(tt.status), tt.status)
	}
}

func TestJSONModeSetsResponseFormat(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		w.Write(completionResponse(`{"sentiment":"positive"}`, 15))
	})

	_, err := provider.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "classify"}},
		JSONMode: true,
	})
	require.NoError(t, err)
}

func TestNewOpenAIProviderFromConfig(t *testing.T) {
	_, err := NewOpenAIProviderFromConfig(config.LLMConfig{Model: "gpt-4o-mini"})
	assert.Error(t, err)

	provider, err := NewOpenAIProviderFromConfig(config.LLMConfig{
		Model:      "gpt-4o-mini",
		APIKey:     "key",
		BaseURL:    "http://localhost:9999",
		MaxRetries: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", provider.Model())
	assert.Equal(t, "http://localhost:9999", provider.baseURL)
	assert.Equal(t, 2, provider.maxRetries)
}
