package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quantlayer/finsight/pkg/agents"
	"github.com/quantlayer/finsight/pkg/state"
)

// Pipeline runs the agents in order, pruning the context after each
// stage. A stage error aborts the run; the context accumulated so far
// is returned alongside the error.
type Pipeline struct {
	stages []agents.Agent
	logger *slog.Logger
}

func NewPipeline(logger *slog.Logger, stages ...agents.Agent) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{stages: stages, logger: logger}
}

// Run executes the stages. When onStage is non-nil it is called after
// each stage completes with the context as it stands.
func (p *Pipeline) Run(ctx context.Context, c *state.SharedContext, onStage func(stage string, c *state.SharedContext)) (*state.SharedContext, error) {
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return c, err
		}

		out, err := stage.Execute(ctx, c)
		if out != nil {
			c = out
		}
		if err != nil {
			p.logger.Error("stage failed", "stage", stage.Name(), "error", err)
			return c, fmt.Errorf("%s stage: %w", stage.Name(), err)
		}

		c.Prune(state.MaxContextBytes)
		p.logger.Debug("stage complete",
			"stage", stage.Name(),
			"context_version", c.ContextVersion,
			"context_bytes", c.ContextSizeBytes)

		if onStage != nil {
			onStage(stage.Name(), c)
		}
	}
	return c, nil
}
