package state

import (
	"time"

	"github.com/quantlayer/finsight/pkg/progress"
)

// MergeParallel folds the partial contexts produced by parallel workers
// into the base context. The first element is the base; subsequent
// contexts contribute their writes in order, later values winning on
// map-key collisions and lists appending. The merged version is one
// past the highest input version, the current agent and task views are
// rederived from the merged events, and the size is recomputed.
func MergeParallel(contexts []*SharedContext) *SharedContext {
	if len(contexts) == 0 {
		return Empty()
	}

	merged := contexts[0].Clone()
	maxVersion := merged.ContextVersion

	for _, partial := range contexts[1:] {
		if partial == nil {
			continue
		}
		if partial.ContextVersion > maxVersion {
			maxVersion = partial.ContextVersion
		}

		for symbol, data := range partial.ResearchData {
			if existing, ok := merged.ResearchData[symbol]; ok {
				for key, value := range data {
					existing[key] = value
				}
			} else {
				merged.ResearchData[symbol] = data
			}
		}
		for symbol, metadata := range partial.ResearchMetadata {
			merged.ResearchMetadata[symbol] = metadata
		}
		for symbol, results := range partial.AnalysisResults {
			if existing, ok := merged.AnalysisResults[symbol]; ok {
				for key, value := range results {
					existing[key] = value
				}
			} else {
				merged.AnalysisResults[symbol] = results
			}
		}
		for symbol, reasoning := range partial.AnalysisReasoning {
			merged.AnalysisReasoning[symbol] = reasoning
		}
		for symbol, status := range partial.SymbolStatus {
			merged.SymbolStatus[symbol] = status
		}
		for symbol, message := range partial.SymbolErrors {
			merged.SymbolErrors[symbol] = message
		}
		for agent, tokens := range partial.TokenUsage {
			merged.TokenUsage[agent] = tokens
		}
		for agent, seconds := range partial.ExecutionTimes {
			merged.ExecutionTimes[agent] = seconds
		}

		merged.Citations = append(merged.Citations, partial.Citations...)
		merged.ProgressEvents = append(merged.ProgressEvents, partial.ProgressEvents...)
		merged.ExecutionOrder = append(merged.ExecutionOrder, partial.ExecutionOrder...)

		for _, agent := range partial.AgentsExecuted {
			merged.MarkAgentExecuted(agent)
		}

		if partial.PartialSuccess {
			merged.PartialSuccess = true
		}
		if partial.FinalReport != "" {
			merged.FinalReport = partial.FinalReport
		}
	}

	merged.CurrentAgent = progress.CurrentAgent(merged.ProgressEvents)
	merged.CurrentTasks = progress.CurrentTasks(merged.ProgressEvents)
	merged.ContextVersion = maxVersion + 1
	merged.UpdateSize()
	return merged
}

// MergeIncremental layers a follow-up run onto a previous context:
// symbols are unioned, token usage is additive, data maps take the
// newer values, and the version advances.
func MergeIncremental(base, update *SharedContext) *SharedContext {
	merged := base.Clone()

	seen := make(map[string]struct{}, len(merged.Symbols))
	for _, symbol := range merged.Symbols {
		seen[symbol] = struct{}{}
	}
	for _, symbol := range update.Symbols {
		if _, ok := seen[symbol]; !ok {
			merged.Symbols = append(merged.Symbols, symbol)
			seen[symbol] = struct{}{}
		}
	}

	for agent, tokens := range update.TokenUsage {
		merged.TokenUsage[agent] += tokens
	}
	for symbol, data := range update.ResearchData {
		merged.ResearchData[symbol] = data
	}
	for symbol, metadata := range update.ResearchMetadata {
		merged.ResearchMetadata[symbol] = metadata
	}
	for symbol, results := range update.AnalysisResults {
		merged.AnalysisResults[symbol] = results
	}
	for symbol, reasoning := range update.AnalysisReasoning {
		merged.AnalysisReasoning[symbol] = reasoning
	}
	if update.FinalReport != "" {
		merged.FinalReport = update.FinalReport
	}
	merged.Citations = append(merged.Citations, update.Citations...)

	version := merged.ContextVersion
	if update.ContextVersion > version {
		version = update.ContextVersion
	}
	merged.ContextVersion = version + 1
	merged.UpdateSize()
	return merged
}

// Prune shrinks the context below maxBytes in three stages: drop
// research metadata older than a day, truncate long analysis reasoning,
// then keep only the newest fifty progress events. Research data,
// analysis results, citations and the final report are never touched.
// Pruning an already-small context is a no-op, and pruning twice gives
// the same result as pruning once.
func (c *SharedContext) Prune(maxBytes int) {
	if maxBytes <= 0 {
		maxBytes = MaxContextBytes
	}
	if c.Size() <= maxBytes {
		c.UpdateSize()
		return
	}

	cutoff := time.Now().Add(-24 * time.Hour)
	for symbol, metadata := range c.ResearchMetadata {
		raw, ok := metadata["timestamp"].(string)
		if !ok {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			continue
		}
		if ts.Before(cutoff) {
			delete(c.ResearchMetadata, symbol)
		}
	}
	if c.Size() <= maxBytes {
		c.UpdateSize()
		return
	}

	for symbol, reasoning := range c.AnalysisReasoning {
		if runes := []rune(reasoning); len(runes) > 1000 {
			c.AnalysisReasoning[symbol] = string(runes[:500]) + "..."
		}
	}
	if c.Size() <= maxBytes {
		c.UpdateSize()
		return
	}

	if len(c.ProgressEvents) > 50 {
		c.ProgressEvents = c.ProgressEvents[len(c.ProgressEvents)-50:]
	}
	c.UpdateSize()
}
