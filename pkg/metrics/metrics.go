// Package metrics exposes prometheus counters for source API calls,
// LLM token consumption and cache effectiveness.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes for SourceAPICalls.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

var (
	// SourceAPICalls counts data source calls by source, data type and
	// outcome.
	SourceAPICalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finsight",
		Name:      "source_api_calls_total",
		Help:      "Finance data source API calls.",
	}, []string{"source", "data_type", "outcome"})

	// LLMTokens counts tokens consumed per agent.
	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finsight",
		Name:      "llm_tokens_total",
		Help:      "LLM tokens consumed per agent.",
	}, []string{"agent"})

	// CacheHits and CacheMisses track the context cache.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "finsight",
		Name:      "context_cache_hits_total",
		Help:      "Context cache hits.",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "finsight",
		Name:      "context_cache_misses_total",
		Help:      "Context cache misses.",
	})
)
