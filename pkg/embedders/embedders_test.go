package embedders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlayer/finsight/pkg/config"
)

func newTestEmbedder(t *testing.T, handler http.HandlerFunc) *OpenAIEmbedder {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	embedder := NewOpenAIEmbedder("test-key", "text-embedding-ada-002", 3)
	embedder.baseURL = server.URL
	embedder.maxRetries = 2
	return embedder
}

func TestEmbedSuccess(t *testing.T) {
	embedder := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-ada-002", req.Model)
		assert.Equal(t, "AAPL earnings beat", req.Input)
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	})

	embedding, err := embedder.Embed(context.Background(), "AAPL earnings beat")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, embedding)
}

func TestEmbedRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	embedder := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	})

	_, err := embedder.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")
	assert.Equal(t, int32(2), calls.Load())
}

type failingEmbedder struct {
	dim int
}

func (f *failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("provider down")
}

func (f *failingEmbedder) Dimension() int { return f.dim }

func TestZeroFallback(t *testing.T) {
	fallback := WithZeroFallback(&failingEmbedder{dim: 4}, nil)

	embedding, err := fallback.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0}, embedding)
	assert.Equal(t, 4, fallback.Dimension())
}

func TestNewOpenAIEmbedderFromConfig(t *testing.T) {
	_, err := NewOpenAIEmbedderFromConfig(config.EmbedderConfig{Model: "m", Dimension: 8})
	assert.Error(t, err)

	embedder, err := NewOpenAIEmbedderFromConfig(config.EmbedderConfig{
		Model: "text-embedding-ada-002", APIKey: "key", Dimension: 1536,
	})
	require.NoError(t, err)
	assert.Equal(t, 1536, embedder.Dimension())
}
