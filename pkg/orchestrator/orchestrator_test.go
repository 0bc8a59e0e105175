package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlayer/finsight/pkg/cache"
	"github.com/quantlayer/finsight/pkg/config"
	"github.com/quantlayer/finsight/pkg/guardrails"
	"github.com/quantlayer/finsight/pkg/state"
)

type stubAgent struct {
	name string
	fn   func(ctx context.Context, c *state.SharedContext) (*state.SharedContext, error)
}

func (s *stubAgent) Name() string { return s.name }

func (s *stubAgent) Execute(ctx context.Context, c *state.SharedContext) (*state.SharedContext, error) {
	c.MarkAgentExecuted(s.name)
	if s.fn == nil {
		return c, nil
	}
	return s.fn(ctx, c)
}

type constEmbedder struct {
	vec []float32
	err error
}

func (e *constEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vec, nil
}

func (e *constEmbedder) Dimension() int { return len(e.vec) }

func testConfig(sessionDir string) *config.Config {
	cfg := config.Default()
	cfg.Session.Dir = sessionDir
	return cfg
}

func reportingStub(report string) *stubAgent {
	return &stubAgent{name: "reporting", fn: func(ctx context.Context, c *state.SharedContext) (*state.SharedContext, error) {
		c.FinalReport = report
		return c, nil
	}}
}

func TestProcessQueryRunsStagesInOrder(t *testing.T) {
	var order []string
	stage := func(name string) *stubAgent {
		return &stubAgent{name: name, fn: func(ctx context.Context, c *state.SharedContext) (*state.SharedContext, error) {
			order = append(order, name)
			return c, nil
		}}
	}
	pipeline := NewPipeline(nil, stage("research"), stage("analyst"), stage("comparison"), reportingStub("All done: stock analysis."))

	o := newWithPipeline(testConfig(t.TempDir()), pipeline, &constEmbedder{vec: []float32{1, 0}}, cache.New(), nil)
	result, err := o.ProcessQuery(context.Background(), "What is the price of AAPL stock", "")

	require.NoError(t, err)
	assert.Equal(t, []string{"research", "analyst", "comparison"}, order)
	assert.Equal(t, "All done: stock analysis.", result.Report)
	assert.Len(t, result.TransactionID, 8)
	assert.NotEmpty(t, result.SessionID)
	assert.ElementsMatch(t, []string{"research", "analyst", "comparison", "reporting"}, result.Context.AgentsExecuted)
}

func TestProcessQueryRejectsOutOfScope(t *testing.T) {
	o := newWithPipeline(testConfig(t.TempDir()), NewPipeline(nil), nil, nil, nil)
	_, err := o.ProcessQuery(context.Background(), "how to hack a bank account", "")
	require.Error(t, err)

	var verr *guardrails.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestProcessQueryRejectsEmptyQuery(t *testing.T) {
	o := newWithPipeline(testConfig(t.TempDir()), NewPipeline(nil), nil, nil, nil)
	_, err := o.ProcessQuery(context.Background(), "", "")
	assert.Error(t, err)
}

func TestProcessQueryPartialSuccess(t *testing.T) {
	pipeline := NewPipeline(nil,
		&stubAgent{name: "research", fn: func(ctx context.Context, c *state.SharedContext) (*state.SharedContext, error) {
			c.SymbolStatus["AAPL"] = "success"
			c.SymbolStatus["FAKE"] = "failed"
			c.SymbolErrors["FAKE"] = "all sources failed"
			c.PartialSuccess = true
			return c, nil
		}},
		reportingStub("Partial stock report."),
	)

	o := newWithPipeline(testConfig(t.TempDir()), pipeline, nil, nil, nil)
	result, err := o.ProcessQuery(context.Background(), "Analyze AAPL and FAKE stock", "")

	require.NoError(t, err)
	assert.True(t, result.PartialSuccess)
	assert.Equal(t, "all sources failed", result.SymbolErrors["FAKE"])
	assert.Equal(t, "Partial stock report.", result.Report)
}

func TestProcessQueryStageErrorAborts(t *testing.T) {
	pipeline := NewPipeline(nil,
		&stubAgent{name: "research", fn: func(ctx context.Context, c *state.SharedContext) (*state.SharedContext, error) {
			return c, errors.New("boom")
		}},
		reportingStub("never reached"),
	)

	o := newWithPipeline(testConfig(t.TempDir()), pipeline, nil, nil, nil)
	_, err := o.ProcessQuery(context.Background(), "Analyze AAPL stock", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "research stage")
}

func TestSimilarQueryAndIncrementalDetection(t *testing.T) {
	contextCache := cache.New()
	contextCache.AddQuery(cache.QueryRecord{
		Query:     "Analyze AAPL stock",
		Symbols:   []string{"AAPL"},
		QueryType: "single_stock",
		Embedding: []float32{1, 0},
	})

	pipeline := NewPipeline(nil, reportingStub("Incremental stock report."))
	o := newWithPipeline(testConfig(t.TempDir()), pipeline, &constEmbedder{vec: []float32{1, 0}}, contextCache, nil)

	result, err := o.ProcessQuery(context.Background(), "Also analyze MSFT stock", "")
	require.NoError(t, err)

	require.NotEmpty(t, result.SimilarQueries)
	assert.Equal(t, "Analyze AAPL stock", result.SimilarQueries[0].Query)
	assert.True(t, result.IsIncremental)
	assert.Equal(t, []string{"AAPL"}, result.Context.PreviousSymbols)
	assert.Equal(t, []string{"MSFT"}, result.Context.NewSymbols)
}

func TestExactSymbolMatchOutranksSimilarity(t *testing.T) {
	contextCache := cache.New()
	contextCache.AddQuery(cache.QueryRecord{
		Query:     "MSFT outlook",
		Symbols:   []string{"MSFT"},
		Embedding: []float32{1, 0, 0},
	})
	contextCache.AddQuery(cache.QueryRecord{
		Query:     "AAPL deep dive",
		Symbols:   []string{"AAPL"},
		Embedding: []float32{0.95, 0.3, 0},
	})

	pipeline := NewPipeline(nil, reportingStub("stock report"))
	o := newWithPipeline(testConfig(t.TempDir()), pipeline, &constEmbedder{vec: []float32{1, 0, 0}}, contextCache, nil)

	result, err := o.ProcessQuery(context.Background(), "What is the price of AAPL stock", "")
	require.NoError(t, err)

	require.NotEmpty(t, result.SimilarQueries)
	// the exact AAPL match wins despite lower cosine similarity
	assert.Equal(t, "AAPL deep dive", result.SimilarQueries[0].Query)
}

func TestEmbeddingFailureSkipsHistory(t *testing.T) {
	contextCache := cache.New()
	contextCache.AddQuery(cache.QueryRecord{
		Query:     "Analyze AAPL stock",
		Symbols:   []string{"AAPL"},
		Embedding: []float32{1, 0},
	})

	pipeline := NewPipeline(nil, reportingStub("stock report"))
	o := newWithPipeline(testConfig(t.TempDir()), pipeline, &constEmbedder{err: errors.New("embedder down")}, contextCache, nil)

	result, err := o.ProcessQuery(context.Background(), "Analyze AAPL stock", "")
	require.NoError(t, err)
	assert.Empty(t, result.SimilarQueries)
	assert.False(t, result.IsIncremental)
	assert.Empty(t, result.Context.QueryEmbedding)
}

func TestSessionPersistence(t *testing.T) {
	dir := t.TempDir()
	pipeline := NewPipeline(nil, reportingStub("Persisted stock report."))
	o := newWithPipeline(testConfig(dir), pipeline, &constEmbedder{vec: []float32{1, 0}}, cache.New(), nil)

	result, err := o.ProcessQuery(context.Background(), "Analyze AAPL stock", "sess-42")
	require.NoError(t, err)
	assert.Equal(t, "sess-42", result.SessionID)

	restored, err := state.LoadSession(dir, "sess-42")
	require.NoError(t, err)
	assert.Equal(t, "Persisted stock report.", restored.FinalReport)

	records, err := state.LoadQueryHistory(dir, "sess-42")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"AAPL"}, records[0].Symbols)
}

func TestHistoryRestoredAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	embedder := &constEmbedder{vec: []float32{1, 0}}

	first := newWithPipeline(testConfig(dir), NewPipeline(nil, reportingStub("r1 stock")), embedder, cache.New(), nil)
	_, err := first.ProcessQuery(context.Background(), "Analyze AAPL stock", "sess-7")
	require.NoError(t, err)

	// a fresh orchestrator on the same session sees the old query
	second := newWithPipeline(testConfig(dir), NewPipeline(nil, reportingStub("r2 stock")), embedder, cache.New(), nil)
	result, err := second.ProcessQuery(context.Background(), "Also analyze MSFT stock", "sess-7")
	require.NoError(t, err)
	require.NotEmpty(t, result.SimilarQueries)
	assert.True(t, result.IsIncremental)
}

func TestStreamQueryEmitsStageUpdatesThenResult(t *testing.T) {
	pipeline := NewPipeline(nil,
		&stubAgent{name: "research"},
		reportingStub("Streamed stock report."),
	)
	o := newWithPipeline(testConfig(t.TempDir()), pipeline, nil, nil, nil)

	var stages []string
	var result *Result
	for update := range o.StreamQuery(context.Background(), "Analyze AAPL stock", "") {
		require.NoError(t, update.Err)
		if update.Result != nil {
			result = update.Result
			continue
		}
		stages = append(stages, update.Stage)
	}

	assert.Equal(t, []string{"research", "reporting"}, stages)
	require.NotNil(t, result)
	assert.Equal(t, "Streamed stock report.", result.Report)
}

func TestStreamQueryPropagatesError(t *testing.T) {
	o := newWithPipeline(testConfig(t.TempDir()), NewPipeline(nil), nil, nil, nil)

	var streamErr error
	for update := range o.StreamQuery(context.Background(), "tell me a joke", "") {
		if update.Err != nil {
			streamErr = update.Err
		}
	}
	assert.Error(t, streamErr)
}

func TestSymbolSetHelpers(t *testing.T) {
	assert.True(t, sameSymbolSet([]string{"AAPL", "MSFT"}, []string{"MSFT", "AAPL"}))
	assert.False(t, sameSymbolSet([]string{"AAPL"}, []string{"MSFT"}))
	assert.False(t, sameSymbolSet([]string{"AAPL"}, []string{"AAPL", "MSFT"}))

	assert.Equal(t, []string{"MSFT"}, symbolDiff([]string{"AAPL", "MSFT"}, []string{"AAPL"}))
	assert.Empty(t, symbolDiff([]string{"AAPL"}, []string{"AAPL"}))

	assert.True(t, hasIncrementalKeyword("Also include MSFT"))
	assert.True(t, hasIncrementalKeyword("Compare with GOOG"))
	assert.False(t, hasIncrementalKeyword("Analyze AAPL fundamentals"))
}
