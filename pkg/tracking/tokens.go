package tracking

import (
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCall records a single LLM invocation.
type TokenCall struct {
	Agent  string    `json:"agent"`
	Tokens int       `json:"tokens"`
	Model  string    `json:"model"`
	Time   time.Time `json:"time"`
}

// TokenStatistics summarizes usage across a run.
type TokenStatistics struct {
	TotalTokens   int            `json:"total_tokens"`
	TokensByAgent map[string]int `json:"tokens_by_agent"`
	CallCount     int            `json:"call_count"`
}

// TokenTracker is a concurrency-safe token usage accumulator.
type TokenTracker struct {
	mu      sync.Mutex
	byAgent map[string]int
	history []TokenCall
}

func NewTokenTracker() *TokenTracker {
	return &TokenTracker{byAgent: make(map[string]int)}
}

// Track records token usage for an agent.
func (t *TokenTracker) Track(agent string, tokens int, model string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byAgent[agent] += tokens
	t.history = append(t.history, TokenCall{
		Agent:  agent,
		Tokens: tokens,
		Model:  model,
		Time:   time.Now(),
	})
}

// ByAgent returns a copy of the per-agent totals.
func (t *TokenTracker) ByAgent() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.byAgent))
	for agent, tokens := range t.byAgent {
		out[agent] = tokens
	}
	return out
}

// Statistics summarizes all tracked usage.
func (t *TokenTracker) Statistics() TokenStatistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := TokenStatistics{TokensByAgent: make(map[string]int, len(t.byAgent))}
	for agent, tokens := range t.byAgent {
		stats.TokensByAgent[agent] = tokens
		stats.TotalTokens += tokens
	}
	stats.CallCount = len(t.history)
	return stats
}

// History returns a copy of the call history.
func (t *TokenTracker) History() []TokenCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TokenCall, len(t.history))
	copy(out, t.history)
	return out
}

// EstimateTokens counts tokens for a model using its tiktoken encoding.
// Falls back to a length/4 heuristic when the encoding is unavailable,
// so callers always get a usable estimate.
func EstimateTokens(text, model string) int {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		return len(text) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}
