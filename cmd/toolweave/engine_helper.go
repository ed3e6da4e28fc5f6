package main

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/genkit"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/toolweave"
	"github.com/ZanzyTHEbar/toolweave/internal/adapters"
	"github.com/ZanzyTHEbar/toolweave/internal/logging"
	"github.com/ZanzyTHEbar/toolweave/internal/planner"
	"github.com/ZanzyTHEbar/toolweave/internal/tools"
	"github.com/ZanzyTHEbar/toolweave/pkg/orchestrator"
)

func newLogger() zerolog.Logger {
	return logging.New(logging.Config{
		Level:  v.GetString("log_level"),
		Format: logging.Format(v.GetString("log_format")),
	})
}

func loadIndex() (*tools.Index, error) {
	if indexFile == "" {
		return tools.SampleIndex(), nil
	}
	return tools.LoadIndex(indexFile)
}

func newRegistry() (*adapters.StaticRegistry, error) {
	index, err := loadIndex()
	if err != nil {
		return nil, fmt.Errorf("failed to load class index: %w", err)
	}
	return tools.New(index).Registry()
}

// newIntentExtractor registers the intent flow with Genkit so extraction is
// traced like any other flow. No model plugin is configured here, so the flow
// only runs the pattern extractor, which is also the fallback. A model-backed
// flow built with genkit.Generate can replace it once a plugin is passed to
// genkit.Init; the adapter and fallback stay the same.
func newIntentExtractor(ctx context.Context, toolNames []string, logger zerolog.Logger) (toolweave.IntentExtractor, error) {
	g, err := genkit.Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Genkit: %w", err)
	}

	patterns := planner.NewPatternExtractor()
	// Traced plumbing only: same result as calling patterns directly.
	flow := genkit.DefineFlow(g, "intentFlow", func(ctx context.Context, input *adapters.IntentInput) (*toolweave.Intent, error) {
		return patterns.ExtractIntent(ctx, input.Request)
	})

	return adapters.NewGenkitIntentExtractor(flow,
		adapters.WithFallback(patterns),
		adapters.WithToolNames(toolNames),
		adapters.WithIntentLogger(logging.Component(logger, "intent")),
	), nil
}

// newOrchestrator wires the tool set, configuration and logger into a
// started orchestrator. Callers must Close it.
func newOrchestrator(cmd *cobra.Command) (*orchestrator.Orchestrator, error) {
	ctx := cmd.Context()
	logger := newLogger()

	cfg, err := loadConfig(v, configFile)
	if err != nil {
		return nil, err
	}

	reg, err := newRegistry()
	if err != nil {
		return nil, err
	}

	extractor, err := newIntentExtractor(ctx, reg.ListToolNames(), logger)
	if err != nil {
		return nil, err
	}

	o, err := orchestrator.New(reg, reg,
		orchestrator.WithConfig(cfg),
		orchestrator.WithLogger(logger),
		orchestrator.WithIntentExtractor(extractor),
	)
	if err != nil {
		return nil, err
	}
	o.Start(ctx)

	logger.Debug().Str("orchestrator", o.String()).Msg("Orchestrator ready")
	return o, nil
}
