package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantlayer/finsight/pkg/cache"
	"github.com/quantlayer/finsight/pkg/config"
	"github.com/quantlayer/finsight/pkg/embedders"
	"github.com/quantlayer/finsight/pkg/metrics"
	"github.com/quantlayer/finsight/pkg/progress"
	"github.com/quantlayer/finsight/pkg/state"
	"github.com/quantlayer/finsight/pkg/vector"
)

const (
	// researchWorkerCap bounds the fetch pool regardless of symbol count.
	researchWorkerCap = 20
	// researchWorkersPerSymbol scales the pool with the symbol count.
	researchWorkersPerSymbol = 5

	sourceCache = "cache"
)

// ResearchAgent fetches every relevant data type for every symbol in
// parallel and merges the per-symbol results into the shared context.
// A failed price or company fetch fails the symbol; news, historical
// and financials failures degrade data quality but never fail a symbol.
type ResearchAgent struct {
	data     DataClient
	cache    *cache.ContextCache
	store    vector.Store
	embedder embedders.Embedder
	logger   *slog.Logger

	mu        sync.Mutex
	apiEvents []progress.Event
}

func NewResearchAgent(data DataClient, contextCache *cache.ContextCache, store vector.Store, embedder embedders.Embedder, logger *slog.Logger) *ResearchAgent {
	return &ResearchAgent{
		data:     data,
		cache:    contextCache,
		store:    store,
		embedder: embedder,
		logger:   ensureLogger(logger),
	}
}

func (a *ResearchAgent) Name() string { return NameResearch }

// CollectEvent buffers API call events emitted by the data client while
// fetches run in parallel. Wire it as the client's event sink.
func (a *ResearchAgent) CollectEvent(event progress.Event) {
	a.mu.Lock()
	a.apiEvents = append(a.apiEvents, event)
	a.mu.Unlock()
}

func (a *ResearchAgent) drainEvents() []progress.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	events := a.apiEvents
	a.apiEvents = nil
	return events
}

func (a *ResearchAgent) Execute(ctx context.Context, c *state.SharedContext) (*state.SharedContext, error) {
	return run(ctx, c, a.Name(), 1, a.execute)
}

// dataTypesFor returns the data types worth fetching for a query type.
// Price, company and news are always fetched; historical data only
// serves trend and comparison queries, financial statements only
// single-stock and comparison queries.
func dataTypesFor(queryType string) []string {
	types := []string{config.DataTypePrice, config.DataTypeCompany, config.DataTypeNews}
	switch queryType {
	case "trend":
		types = append(types, config.DataTypeHistorical)
	case "single_stock":
		types = append(types, config.DataTypeFinancials)
	case "comparison":
		types = append(types, config.DataTypeHistorical, config.DataTypeFinancials)
	}
	return types
}

// criticalDataType reports whether a fetch failure fails the symbol.
func criticalDataType(dataType string) bool {
	return dataType == config.DataTypePrice || dataType == config.DataTypeCompany
}

type fetchOutcome struct {
	payload any
	source  string
	err     error
}

type symbolResult struct {
	mu       sync.Mutex
	data     map[string]any
	sources  map[string]string
	failures map[string]error
	events   []progress.Event
}

func newSymbolResult() *symbolResult {
	return &symbolResult{
		data:     make(map[string]any),
		sources:  make(map[string]string),
		failures: make(map[string]error),
	}
}

func (r *symbolResult) record(dataType string, outcome fetchOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if outcome.err != nil {
		r.failures[dataType] = outcome.err
		return
	}
	r.data[dataType] = outcome.payload
	r.sources[dataType] = outcome.source
}

func (r *symbolResult) addEvent(event progress.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (a *ResearchAgent) execute(ctx context.Context, c *state.SharedContext) (*state.SharedContext, error) {
	if len(c.Symbols) == 0 {
		a.logger.Info("no symbols to research", "query_type", c.QueryType)
		return c, nil
	}

	types := dataTypesFor(c.QueryType)
	results := make(map[string]*symbolResult, len(c.Symbols))
	for _, symbol := range c.Symbols {
		results[symbol] = newSymbolResult()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(poolSize(len(c.Symbols), researchWorkersPerSymbol, researchWorkerCap))

	for _, symbol := range c.Symbols {
		results[symbol].addEvent(progress.TaskProgress(a.Name(), "fetch_all", symbol, c.TransactionID,
			fmt.Sprintf("Fetching data for %s (parallel)", symbol), 1, true))
		for _, dataType := range types {
			symbol, dataType := symbol, dataType
			result := results[symbol]
			g.Go(func() error {
				task := "fetch_" + dataType
				result.addEvent(progress.TaskStart(a.Name(), task, symbol, c.TransactionID, 1, true))
				outcome := a.fetch(gctx, symbol, dataType, c.TransactionID)
				result.record(dataType, outcome)
				result.addEvent(progress.TaskComplete(a.Name(), task, symbol, c.TransactionID, 1, true, outcome.err != nil))
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return c, err
	}

	partials := make([]*state.SharedContext, 0, len(c.Symbols)+1)
	partials = append(partials, c)
	for _, symbol := range c.Symbols {
		partials = append(partials, a.assemble(ctx, symbol, results[symbol]))
	}
	merged := state.MergeParallel(partials)

	for _, event := range a.drainEvents() {
		merged.ProgressEvents = append(merged.ProgressEvents, event)
	}
	merged.UpdateSize()
	return merged, nil
}

// fetch serves one (symbol, data type) pair, consulting the TTL cache
// before the data client.
func (a *ResearchAgent) fetch(ctx context.Context, symbol, dataType, txnID string) fetchOutcome {
	if a.cache != nil {
		if cached, ok := a.cache.Get(symbol, dataType); ok {
			metrics.CacheHits.Inc()
			return fetchOutcome{payload: cached, source: sourceCache}
		}
		metrics.CacheMisses.Inc()
	}

	payload, source, err := a.data.GetData(ctx, symbol, dataType, "", txnID)
	if err != nil {
		if !criticalDataType(dataType) {
			a.logger.Debug("optional fetch failed",
				"symbol", symbol, "data_type", dataType, "error", err)
		}
		return fetchOutcome{err: err}
	}
	if a.cache != nil {
		a.cache.Set(symbol, dataType, payload)
	}
	return fetchOutcome{payload: payload, source: source}
}

// assemble folds one symbol's fetch results into a partial context.
func (a *ResearchAgent) assemble(ctx context.Context, symbol string, result *symbolResult) *state.SharedContext {
	partial := state.Empty()
	partial.ProgressEvents = append(partial.ProgressEvents, result.events...)

	var criticalErr error
	for dataType, err := range result.failures {
		if criticalDataType(dataType) {
			criticalErr = fmt.Errorf("%s: %w", dataType, err)
			break
		}
	}

	if len(result.data) > 0 {
		partial.SetResearchData(symbol, result.data)
	}

	if criticalErr != nil {
		partial.SymbolStatus[symbol] = "failed"
		partial.SymbolErrors[symbol] = criticalErr.Error()
		partial.ResearchMetadata[symbol] = map[string]any{
			"error":        criticalErr.Error(),
			"data_quality": "error",
			"timestamp":    time.Now().Format(time.RFC3339),
		}
		partial.PartialSuccess = true
		a.logger.Warn("symbol research failed", "symbol", symbol, "error", criticalErr)
	} else {
		quality := "complete"
		if len(result.failures) > 0 {
			quality = "partial"
		}
		partial.SymbolStatus[symbol] = "success"
		partial.ResearchMetadata[symbol] = map[string]any{
			"sources":      sourcesCopy(result.sources),
			"data_quality": quality,
			"timestamp":    time.Now().Format(time.RFC3339),
		}
	}

	for _, citation := range a.data.CitationsForSymbol(symbol) {
		partial.AddCitation(citation)
	}

	a.indexNews(ctx, symbol, result)
	return partial
}

func sourcesCopy(sources map[string]string) map[string]any {
	out := make(map[string]any, len(sources))
	keys := make([]string, 0, len(sources))
	for key := range sources {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		out[key] = sources[key]
	}
	return out
}

// indexNews embeds fetched articles into the news collection so the
// analyst can search historical coverage. Best-effort.
func (a *ResearchAgent) indexNews(ctx context.Context, symbol string, result *symbolResult) {
	if a.store == nil || a.embedder == nil {
		return
	}
	news := asMap(result.data[config.DataTypeNews])
	if news == nil {
		return
	}
	for _, raw := range asSlice(news["articles"]) {
		article := asMap(raw)
		if article == nil {
			continue
		}
		title, _ := article["title"].(string)
		summary, _ := article["summary"].(string)
		if title == "" {
			continue
		}
		content := title
		if summary != "" {
			content = title + "\n" + summary
		}
		embedding, err := a.embedder.Embed(ctx, content)
		if err != nil {
			a.logger.Debug("news embedding failed", "symbol", symbol, "error", err)
			continue
		}
		doc := vector.Document{
			Content:   content,
			Embedding: embedding,
			Metadata: map[string]any{
				"symbol":         symbol,
				"title":          title,
				"url":            article["link"],
				"publisher":      article["publisher"],
				"published_date": article["published"],
				"source":         "research_agent",
			},
		}
		if err := a.store.AddDocument(ctx, vector.CollectionFinancialNews, doc); err != nil {
			a.logger.Debug("news indexing failed", "symbol", symbol, "error", err)
		}
	}
}
