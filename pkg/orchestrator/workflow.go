// Package orchestrator wires the agents into a pipeline and owns the
// query lifecycle: guardrail checks, similar-query detection, the
// research to reporting run, and session persistence.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/quantlayer/finsight/pkg/agents"
	"github.com/quantlayer/finsight/pkg/cache"
	"github.com/quantlayer/finsight/pkg/config"
	"github.com/quantlayer/finsight/pkg/embedders"
	"github.com/quantlayer/finsight/pkg/guardrails"
	"github.com/quantlayer/finsight/pkg/llms"
	"github.com/quantlayer/finsight/pkg/progress"
	"github.com/quantlayer/finsight/pkg/sources"
	"github.com/quantlayer/finsight/pkg/state"
	"github.com/quantlayer/finsight/pkg/vector"
)

// similarQueryLimit caps how many history matches are attached to a
// run.
const similarQueryLimit = 3

// incrementalKeywords mark a follow-up that extends a previous query
// rather than starting over.
var incrementalKeywords = []string{
	"add ", "compare with", "also include", "also analyze", "include ", "plus ",
}

// Result is the answer to one processed query.
type Result struct {
	Report         string               `json:"report"`
	Visualizations map[string]any       `json:"visualizations,omitempty"`
	PartialSuccess bool                 `json:"partial_success"`
	SymbolErrors   map[string]string    `json:"symbol_errors,omitempty"`
	TokenUsage     map[string]int       `json:"token_usage"`
	TotalTokens    int                  `json:"total_tokens"`
	ExecutionTimes map[string]float64   `json:"execution_times"`
	TransactionID  string               `json:"transaction_id"`
	SessionID      string               `json:"session_id"`
	SimilarQueries []cache.SimilarQuery `json:"similar_queries,omitempty"`
	IsIncremental  bool                 `json:"is_incremental"`

	Context *state.SharedContext `json:"-"`
}

// Orchestrator runs queries through the agent pipeline.
type Orchestrator struct {
	cfg          *config.Config
	pipeline     *Pipeline
	embedder     embedders.Embedder
	contextCache *cache.ContextCache
	logger       *slog.Logger
}

// New builds a fully wired orchestrator from configuration: LLM
// provider, embedder with zero-vector fallback, vector store, unified
// data client, cache, and the four agents.
func New(cfg *config.Config, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	llm, err := llms.NewOpenAIProviderFromConfig(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	baseEmbedder, err := embedders.NewOpenAIEmbedderFromConfig(cfg.Embedder)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	embedder := embedders.WithZeroFallback(baseEmbedder, logger)

	store, err := vector.NewChromemStore(cfg.Vector, embedder.Dimension(), logger)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}

	integrations := config.NewIntegrations(cfg.Sources)
	data := sources.NewUnifiedDataClient(cfg.Sources, integrations, logger)
	contextCache := cache.New(cache.WithTTL(cfg.Cache.TTL()))

	research := agents.NewResearchAgent(data, contextCache, store, embedder, logger)
	data.SetEventSink(research.CollectEvent)

	pipeline := NewPipeline(logger,
		research,
		agents.NewAnalystAgent(llm, store, embedder, logger),
		agents.NewComparisonAgent(llm, store, embedder, logger),
		agents.NewReportingAgent(llm, store, embedder, integrations, logger),
	)

	return &Orchestrator{
		cfg:          cfg,
		pipeline:     pipeline,
		embedder:     embedder,
		contextCache: contextCache,
		logger:       logger,
	}, nil
}

// newWithPipeline lets tests inject fakes.
func newWithPipeline(cfg *config.Config, pipeline *Pipeline, embedder embedders.Embedder, contextCache *cache.ContextCache, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:          cfg,
		pipeline:     pipeline,
		embedder:     embedder,
		contextCache: contextCache,
		logger:       logger,
	}
}

// ProcessQuery validates and runs one query end to end.
func (o *Orchestrator) ProcessQuery(ctx context.Context, query, sessionID string) (*Result, error) {
	c, err := o.prepare(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}

	final, err := o.pipeline.Run(ctx, c, nil)
	if err != nil {
		return nil, err
	}

	o.persist(final)
	return buildResult(final), nil
}

// StreamUpdate is one streaming emission: progress events after each
// stage, then the final result or error.
type StreamUpdate struct {
	Stage  string
	Events []progress.Event
	Result *Result
	Err    error
}

// StreamQuery runs a query, emitting events per completed stage. The
// channel closes after the final update, which carries the result or
// the error.
func (o *Orchestrator) StreamQuery(ctx context.Context, query, sessionID string) <-chan StreamUpdate {
	updates := make(chan StreamUpdate, 8)
	go func() {
		defer close(updates)

		c, err := o.prepare(ctx, query, sessionID)
		if err != nil {
			updates <- StreamUpdate{Err: err}
			return
		}

		sent := 0
		final, err := o.pipeline.Run(ctx, c, func(stage string, c *state.SharedContext) {
			events := make([]progress.Event, len(c.ProgressEvents)-sent)
			copy(events, c.ProgressEvents[sent:])
			sent = len(c.ProgressEvents)
			updates <- StreamUpdate{Stage: stage, Events: events}
		})
		if err != nil {
			updates <- StreamUpdate{Err: err}
			return
		}

		o.persist(final)
		updates <- StreamUpdate{Result: buildResult(final)}
	}()
	return updates
}

// prepare runs the guardrails and builds the initial context: sanitized
// query, embedding, similar-query matches, incremental flags, restored
// history.
func (o *Orchestrator) prepare(ctx context.Context, query, sessionID string) (*state.SharedContext, error) {
	if err := guardrails.ValidateQuery(query); err != nil {
		return nil, err
	}
	sanitized, err := guardrails.SanitizeInput(query)
	if err != nil {
		return nil, err
	}

	if sessionID == "" {
		sessionID = strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	} else {
		o.restoreHistory(sessionID)
	}

	c := state.New(sanitized, sessionID)
	if err := guardrails.ValidateContext(c.Query, c.QueryType, c.Symbols); err != nil {
		return nil, err
	}

	intent := guardrails.CheckQueryIntent(sanitized)
	o.logger.Info("processing query",
		"transaction_id", c.TransactionID,
		"query_type", c.QueryType,
		"symbols", c.Symbols,
		"risk", intent.RiskLevel)

	o.attachHistory(ctx, c)
	return c, nil
}

// attachHistory embeds the query, finds similar past queries and flags
// incremental follow-ups. Embedding failures degrade to a zero vector
// and skip history matching.
func (o *Orchestrator) attachHistory(ctx context.Context, c *state.SharedContext) {
	if o.embedder == nil {
		return
	}
	embedding, err := o.embedder.Embed(ctx, c.Query)
	if err != nil || isZeroVector(embedding) {
		return
	}
	c.QueryEmbedding = embedding

	if o.contextCache == nil {
		return
	}
	matches := o.contextCache.FindSimilarQueries(embedding, cache.DefaultSimilarityThreshold)
	if len(matches) == 0 {
		return
	}

	// exact symbol-set matches outrank raw similarity
	sort.SliceStable(matches, func(i, j int) bool {
		iExact := sameSymbolSet(matches[i].Symbols, c.Symbols)
		jExact := sameSymbolSet(matches[j].Symbols, c.Symbols)
		if iExact != jExact {
			return iExact
		}
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > similarQueryLimit {
		matches = matches[:similarQueryLimit]
	}
	c.SimilarQueries = matches

	if hasIncrementalKeyword(c.Query) {
		c.IsIncremental = true
		c.PreviousSymbols = matches[0].Symbols
		c.NewSymbols = symbolDiff(c.Symbols, c.PreviousSymbols)
		o.logger.Info("incremental query detected",
			"previous_symbols", c.PreviousSymbols, "new_symbols", c.NewSymbols)
	}
}

// persist saves the session context and query history. Best-effort.
func (o *Orchestrator) persist(c *state.SharedContext) {
	if o.contextCache != nil && len(c.QueryEmbedding) > 0 {
		o.contextCache.AddQuery(cache.QueryRecord{
			Query:     c.Query,
			Symbols:   c.Symbols,
			QueryType: c.QueryType,
			Embedding: c.QueryEmbedding,
		})
	}

	dir := o.sessionDir()
	if dir == "" {
		return
	}
	if err := state.SaveSession(dir, c); err != nil {
		o.logger.Warn("session save failed", "session_id", c.SessionID, "error", err)
	}
	if o.contextCache != nil {
		if err := state.SaveQueryHistory(dir, c.SessionID, o.contextCache.History()); err != nil {
			o.logger.Warn("history save failed", "session_id", c.SessionID, "error", err)
		}
	}
}

func (o *Orchestrator) restoreHistory(sessionID string) {
	dir := o.sessionDir()
	if dir == "" || o.contextCache == nil {
		return
	}
	records, err := state.LoadQueryHistory(dir, sessionID)
	if err != nil {
		o.logger.Warn("history load failed", "session_id", sessionID, "error", err)
		return
	}
	if len(records) > 0 {
		o.contextCache.SetHistory(records)
	}
}

func (o *Orchestrator) sessionDir() string {
	if o.cfg == nil {
		return ""
	}
	return o.cfg.Session.Dir
}

func buildResult(c *state.SharedContext) *Result {
	return &Result{
		Report:         c.FinalReport,
		Visualizations: c.Visualizations,
		PartialSuccess: c.PartialSuccess,
		SymbolErrors:   c.SymbolErrors,
		TokenUsage:     c.TokenUsage,
		TotalTokens:    c.TotalTokens(),
		ExecutionTimes: c.ExecutionTimes,
		TransactionID:  c.TransactionID,
		SessionID:      c.SessionID,
		SimilarQueries: c.SimilarQueries,
		IsIncremental:  c.IsIncremental,
		Context:        c,
	}
}

func isZeroVector(v []float32) bool {
	for _, value := range v {
		if value != 0 {
			return false
		}
	}
	return true
}

func sameSymbolSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, symbol := range a {
		set[symbol] = struct{}{}
	}
	for _, symbol := range b {
		if _, ok := set[symbol]; !ok {
			return false
		}
	}
	return true
}

func symbolDiff(current, previous []string) []string {
	seen := make(map[string]struct{}, len(previous))
	for _, symbol := range previous {
		seen[symbol] = struct{}{}
	}
	var diff []string
	for _, symbol := range current {
		if _, ok := seen[symbol]; !ok {
			diff = append(diff, symbol)
		}
	}
	return diff
}

func hasIncrementalKeyword(query string) bool {
	lower := strings.ToLower(query)
	for _, keyword := range incrementalKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
