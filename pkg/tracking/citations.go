// Package tracking accumulates citations and token usage across a
// pipeline run.
package tracking

import (
	"fmt"
	"sync"
	"time"
)

// Citation records where a data point came from.
type Citation struct {
	Source    string    `json:"source"`
	URL       string    `json:"url,omitempty"`
	Date      time.Time `json:"date"`
	Agent     string    `json:"agent,omitempty"`
	DataPoint string    `json:"data_point,omitempty"`
	Symbol    string    `json:"symbol,omitempty"`
}

// Format renders a citation for inclusion in a report.
func (c Citation) Format() string {
	return fmt.Sprintf("Source: %s | Date: %s | URL: %s",
		c.Source, c.Date.Format("2006-01-02"), c.URL)
}

// CitationTracker is a concurrency-safe citation buffer.
type CitationTracker struct {
	mu        sync.Mutex
	citations []Citation
}

func NewCitationTracker() *CitationTracker {
	return &CitationTracker{}
}

// Add appends a citation. A zero Date is replaced with the current time.
func (t *CitationTracker) Add(citation Citation) {
	if citation.Date.IsZero() {
		citation.Date = time.Now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.citations = append(t.citations, citation)
}

// All returns a copy of the collected citations in insertion order.
func (t *CitationTracker) All() []Citation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Citation, len(t.citations))
	copy(out, t.citations)
	return out
}

// BySymbol returns citations recorded for the given symbol.
func (t *CitationTracker) BySymbol(symbol string) []Citation {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Citation
	for _, c := range t.citations {
		if c.Symbol == symbol {
			out = append(out, c)
		}
	}
	return out
}

// ByAgent returns citations recorded by the given agent.
func (t *CitationTracker) ByAgent(agent string) []Citation {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Citation
	for _, c := range t.citations {
		if c.Agent == agent {
			out = append(out, c)
		}
	}
	return out
}

// Drain returns the collected citations and empties the buffer.
func (t *CitationTracker) Drain() []Citation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.citations
	t.citations = nil
	return out
}
