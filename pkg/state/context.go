// Package state defines the shared context that flows through the
// agent pipeline and the operations that mutate, merge and prune it.
package state

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quantlayer/finsight/pkg/cache"
	"github.com/quantlayer/finsight/pkg/guardrails"
	"github.com/quantlayer/finsight/pkg/progress"
	"github.com/quantlayer/finsight/pkg/tracking"
)

// MaxContextBytes is the size ceiling that triggers pruning.
const MaxContextBytes = 1_000_000

// ExecutionEntry records one agent's slot in the execution order.
type ExecutionEntry struct {
	Agent           string     `json:"agent"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
}

// SharedContext is the versioned state shared by all agents in a run.
type SharedContext struct {
	Query     string   `json:"query"`
	QueryType string   `json:"query_type"`
	Symbols   []string `json:"symbols"`

	ResearchData      map[string]map[string]any `json:"research_data"`
	ResearchMetadata  map[string]map[string]any `json:"research_metadata"`
	AnalysisResults   map[string]map[string]any `json:"analysis_results"`
	AnalysisReasoning map[string]string         `json:"analysis_reasoning"`
	ComparisonResult  map[string]any            `json:"comparison_result,omitempty"`
	FinalReport       string                    `json:"final_report"`
	Visualizations    map[string]any            `json:"visualizations,omitempty"`

	Citations      []tracking.Citation `json:"citations"`
	ProgressEvents []progress.Event    `json:"progress_events"`
	CurrentAgent   string              `json:"current_agent"`
	CurrentTasks   map[string][]string `json:"current_tasks,omitempty"`
	ExecutionOrder []ExecutionEntry    `json:"execution_order"`
	AgentsExecuted []string            `json:"agents_executed"`

	TokenUsage     map[string]int     `json:"token_usage"`
	ExecutionTimes map[string]float64 `json:"execution_times"`

	SymbolStatus   map[string]string `json:"symbol_status"`
	SymbolErrors   map[string]string `json:"symbol_errors"`
	PartialSuccess bool              `json:"partial_success"`

	ContextVersion   int    `json:"context_version"`
	ContextSizeBytes int    `json:"context_size_bytes"`
	TransactionID    string `json:"transaction_id"`
	SessionID        string `json:"session_id"`

	QueryEmbedding  []float32            `json:"query_embedding,omitempty"`
	SimilarQueries  []cache.SimilarQuery `json:"similar_queries,omitempty"`
	IsIncremental   bool                 `json:"is_incremental"`
	PreviousSymbols []string             `json:"previous_symbols,omitempty"`
	NewSymbols      []string             `json:"new_symbols,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// New builds the initial context for a query: fresh transaction id,
// detected query type, extracted symbols, version 1.
func New(query, sessionID string) *SharedContext {
	symbols := guardrails.ExtractSymbols(query)
	c := Empty()
	c.Query = query
	c.QueryType = guardrails.DetectQueryType(query)
	c.Symbols = symbols
	c.TransactionID = strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	c.SessionID = sessionID
	c.ContextVersion = 1
	c.CreatedAt = time.Now()
	c.ContextSizeBytes = c.Size()
	return c
}

// Empty builds a context with initialized maps and no identity. Used
// for the partial contexts parallel workers write into before merging.
func Empty() *SharedContext {
	return &SharedContext{
		ResearchData:      make(map[string]map[string]any),
		ResearchMetadata:  make(map[string]map[string]any),
		AnalysisResults:   make(map[string]map[string]any),
		AnalysisReasoning: make(map[string]string),
		TokenUsage:        make(map[string]int),
		ExecutionTimes:    make(map[string]float64),
		SymbolStatus:      make(map[string]string),
		SymbolErrors:      make(map[string]string),
	}
}

// Clone returns a deep copy via JSON round-trip.
func (c *SharedContext) Clone() *SharedContext {
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone SharedContext
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	ensureMaps(&clone)
	return &clone
}

func ensureMaps(c *SharedContext) {
	if c.ResearchData == nil {
		c.ResearchData = make(map[string]map[string]any)
	}
	if c.ResearchMetadata == nil {
		c.ResearchMetadata = make(map[string]map[string]any)
	}
	if c.AnalysisResults == nil {
		c.AnalysisResults = make(map[string]map[string]any)
	}
	if c.AnalysisReasoning == nil {
		c.AnalysisReasoning = make(map[string]string)
	}
	if c.TokenUsage == nil {
		c.TokenUsage = make(map[string]int)
	}
	if c.ExecutionTimes == nil {
		c.ExecutionTimes = make(map[string]float64)
	}
	if c.SymbolStatus == nil {
		c.SymbolStatus = make(map[string]string)
	}
	if c.SymbolErrors == nil {
		c.SymbolErrors = make(map[string]string)
	}
}

// Size returns the JSON-encoded size in bytes, 0 when encoding fails.
func (c *SharedContext) Size() int {
	data, err := json.Marshal(c)
	if err != nil {
		return 0
	}
	return len(data)
}

// UpdateSize recomputes ContextSizeBytes.
func (c *SharedContext) UpdateSize() {
	c.ContextSizeBytes = c.Size()
}

// SetResearchData stores fetched data for a symbol and bumps the
// version.
func (c *SharedContext) SetResearchData(symbol string, data map[string]any) {
	ensureMaps(c)
	if existing, ok := c.ResearchData[symbol]; ok {
		for key, value := range data {
			existing[key] = value
		}
	} else {
		c.ResearchData[symbol] = data
	}
	c.ContextVersion++
}

// SetAnalysisResults stores analysis output for a symbol and bumps the
// version.
func (c *SharedContext) SetAnalysisResults(symbol string, results map[string]any) {
	ensureMaps(c)
	if existing, ok := c.AnalysisResults[symbol]; ok {
		for key, value := range results {
			existing[key] = value
		}
	} else {
		c.AnalysisResults[symbol] = results
	}
	c.ContextVersion++
}

// AddCitation appends a citation, defaulting its date to now.
func (c *SharedContext) AddCitation(citation tracking.Citation) {
	if citation.Date.IsZero() {
		citation.Date = time.Now()
	}
	c.Citations = append(c.Citations, citation)
}

// TrackTokens adds to an agent's token total.
func (c *SharedContext) TrackTokens(agent string, tokens int) {
	ensureMaps(c)
	c.TokenUsage[agent] += tokens
}

// TrackExecutionTime records an agent's wall time, overwriting any
// previous value.
func (c *SharedContext) TrackExecutionTime(agent string, seconds float64) {
	ensureMaps(c)
	c.ExecutionTimes[agent] = seconds
}

// MarkAgentExecuted appends the agent to AgentsExecuted once.
func (c *SharedContext) MarkAgentExecuted(agent string) {
	for _, executed := range c.AgentsExecuted {
		if executed == agent {
			return
		}
	}
	c.AgentsExecuted = append(c.AgentsExecuted, agent)
}

// OpenExecutionEntry appends an execution order slot for an agent run.
func (c *SharedContext) OpenExecutionEntry(agent string) {
	c.ExecutionOrder = append(c.ExecutionOrder, ExecutionEntry{
		Agent:     agent,
		StartTime: time.Now(),
	})
}

// CloseExecutionEntry fills in the end time and duration of the last
// open entry for the agent.
func (c *SharedContext) CloseExecutionEntry(agent string) {
	for i := len(c.ExecutionOrder) - 1; i >= 0; i-- {
		entry := &c.ExecutionOrder[i]
		if entry.Agent == agent && entry.EndTime == nil {
			now := time.Now()
			entry.EndTime = &now
			entry.DurationSeconds = now.Sub(entry.StartTime).Seconds()
			return
		}
	}
}

// AddEvent appends a progress event and refreshes the derived
// current-agent and current-tasks views.
func (c *SharedContext) AddEvent(event progress.Event) {
	c.ProgressEvents = append(c.ProgressEvents, event)
	c.CurrentAgent = progress.CurrentAgent(c.ProgressEvents)
	c.CurrentTasks = progress.CurrentTasks(c.ProgressEvents)
}

// TotalTokens sums token usage across agents.
func (c *SharedContext) TotalTokens() int {
	total := 0
	for _, tokens := range c.TokenUsage {
		total += tokens
	}
	return total
}

// TotalExecutionTime sums per-agent execution times.
func (c *SharedContext) TotalExecutionTime() float64 {
	total := 0.0
	for _, seconds := range c.ExecutionTimes {
		total += seconds
	}
	return total
}
