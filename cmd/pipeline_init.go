package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/synthesis-cli/internal/pipeline"
	"github.com/sells-group/synthesis-cli/internal/refine"
	"github.com/sells-group/synthesis-cli/internal/store"
	anthropicpkg "github.com/sells-group/synthesis-cli/pkg/anthropic"
	"github.com/sells-group/synthesis-cli/pkg/resolver"
)

// pipelineEnv holds the store and pipeline used by the synthesize, batch and
// serve commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates config, opens the store and builds the Pipeline.
// Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	return &pipelineEnv{
		Store:    st,
		Pipeline: pipeline.New(cfg, st, newResolver(), newRefiner(), nil),
	}, nil
}

func newResolver() resolver.Resolver {
	if !cfg.Resolver.Enabled {
		zap.L().Debug("citation resolver disabled")
		return nil
	}
	return resolver.New(
		time.Duration(cfg.Resolver.TimeoutSecs)*time.Second,
		resolver.WithRateLimit(cfg.Resolver.RequestsPerSec),
		resolver.WithUserAgent(cfg.Resolver.UserAgent),
	)
}

// newRefiner returns a Claude-backed executive refiner, or nil when no API
// key is configured.
func newRefiner() refine.Refiner {
	if cfg.Anthropic.Key == "" {
		zap.L().Debug("SYNTH_ANTHROPIC_KEY not set, executive refinement limited to deduplication")
		return nil
	}
	zap.L().Info("claude executive refinement enabled", zap.String("model", cfg.Anthropic.Model))
	return refine.NewClaudeRefiner(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
}
