// Package agents implements the four pipeline agents: research gathers
// source data in parallel, analyst derives metrics and sentiment,
// comparison builds cross-symbol views, reporting writes the final
// answer. Each agent consumes and extends the shared context.
package agents

import (
	"context"
	"log/slog"
	"time"

	"github.com/quantlayer/finsight/pkg/progress"
	"github.com/quantlayer/finsight/pkg/state"
	"github.com/quantlayer/finsight/pkg/tracking"
)

// Agent names in pipeline order. These are the identifiers recorded in
// agentsExecuted, token usage, execution times and progress events.
const (
	NameResearch   = "Research Agent"
	NameAnalyst    = "Analyst Agent"
	NameComparison = "Comparison Agent"
	NameReporting  = "Reporting Agent"
)

// Agent is one pipeline stage. Execute returns the context to hand to
// the next stage; agents that merge parallel partials return a new
// context, the rest return the one they were given.
type Agent interface {
	Name() string
	Execute(ctx context.Context, c *state.SharedContext) (*state.SharedContext, error)
}

// DataClient is the slice of the unified client the research agent
// needs. Satisfied by sources.UnifiedDataClient.
type DataClient interface {
	GetData(ctx context.Context, symbol, dataType, preferred, txnID string) (any, string, error)
	CitationsForSymbol(symbol string) []tracking.Citation
}

// run wraps an agent body with the event, timing and execution-order
// bookkeeping every stage shares. The body may return a replacement
// context; failures still record duration and a failed completion
// event.
func run(ctx context.Context, c *state.SharedContext, name string, order int, body func(context.Context, *state.SharedContext) (*state.SharedContext, error)) (*state.SharedContext, error) {
	start := time.Now()
	c.AddEvent(progress.AgentStart(name, c.TransactionID, order))
	c.OpenExecutionEntry(name)
	c.MarkAgentExecuted(name)

	out, err := body(ctx, c)
	if out == nil {
		out = c
	}

	elapsed := time.Since(start)
	out.TrackExecutionTime(name, elapsed.Seconds())
	out.CloseExecutionEntry(name)
	out.AddEvent(progress.AgentComplete(name, c.TransactionID, order, elapsed, err != nil))
	out.UpdateSize()
	return out, err
}

func ensureLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func poolSize(symbols, perSymbol, max int) int {
	size := symbols * perSymbol
	if size > max {
		return max
	}
	if size < 1 {
		return 1
	}
	return size
}

func asMap(value any) map[string]any {
	if m, ok := value.(map[string]any); ok {
		return m
	}
	return nil
}

func asSlice(value any) []any {
	if s, ok := value.([]any); ok {
		return s
	}
	return nil
}

// truncateRunes cuts a string to at most n characters without splitting
// a multibyte rune.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
