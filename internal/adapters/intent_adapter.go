package adapters

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/toolweave"
	"github.com/ZanzyTHEbar/toolweave/internal/cache"
	"github.com/firebase/genkit/go/core"
	"github.com/rs/zerolog"
)

// IntentInput is the input structure for an intent extraction flow.
type IntentInput struct {
	Request   string   `json:"request"`
	ToolNames []string `json:"tool_names,omitempty"`
}

// GenkitIntentExtractor uses a Genkit Flow to implement toolweave.IntentExtractor.
// Results are cached per request when a cache engine is configured, and a
// fallback extractor is used when the flow fails or returns nothing usable.
type GenkitIntentExtractor struct {
	run       func(ctx context.Context, input *IntentInput) (*toolweave.Intent, error)
	toolNames []string
	cache     *cache.Engine
	tier      string
	fallback  toolweave.IntentExtractor
	logger    zerolog.Logger
}

// IntentOption configures a GenkitIntentExtractor.
type IntentOption func(*GenkitIntentExtractor)

// WithIntentCache caches extracted intents in the given tier.
func WithIntentCache(engine *cache.Engine, tier string) IntentOption {
	return func(a *GenkitIntentExtractor) {
		a.cache = engine
		a.tier = tier
	}
}

// WithFallback sets the extractor used when the flow fails.
func WithFallback(extractor toolweave.IntentExtractor) IntentOption {
	return func(a *GenkitIntentExtractor) {
		a.fallback = extractor
	}
}

// WithToolNames lists the available tools in every flow input.
func WithToolNames(names []string) IntentOption {
	return func(a *GenkitIntentExtractor) {
		a.toolNames = append([]string(nil), names...)
	}
}

// WithIntentLogger sets the logger.
func WithIntentLogger(logger zerolog.Logger) IntentOption {
	return func(a *GenkitIntentExtractor) {
		a.logger = logger
	}
}

// NewGenkitIntentExtractor creates a new adapter for the intent flow.
func NewGenkitIntentExtractor(flow *core.Flow[*IntentInput, *toolweave.Intent, struct{}], opts ...IntentOption) *GenkitIntentExtractor {
	var run func(context.Context, *IntentInput) (*toolweave.Intent, error)
	if flow != nil {
		run = func(ctx context.Context, input *IntentInput) (*toolweave.Intent, error) {
			return flow.Run(ctx, input)
		}
	}
	return NewFuncIntentExtractor(run, opts...)
}

// NewFuncIntentExtractor creates the adapter around a plain function with the
// flow's signature.
func NewFuncIntentExtractor(run func(ctx context.Context, input *IntentInput) (*toolweave.Intent, error), opts ...IntentOption) *GenkitIntentExtractor {
	a := &GenkitIntentExtractor{
		run:    run,
		tier:   toolweave.TierAnalysis,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().Str("component", "intent_adapter").Logger()
	return a
}

// ExtractIntent implements toolweave.IntentExtractor.
func (a *GenkitIntentExtractor) ExtractIntent(ctx context.Context, request string) (*toolweave.Intent, error) {
	if strings.TrimSpace(request) == "" {
		return nil, toolweave.NewDecompositionError("request is empty", nil)
	}
	if a.run == nil {
		if a.fallback != nil {
			return a.fallback.ExtractIntent(ctx, request)
		}
		return nil, toolweave.NewConfigurationError("intent flow is not configured", nil)
	}

	if a.cache == nil {
		return a.extract(ctx, request)
	}

	v, source, err := a.cache.GetCachedOrExecute(ctx, a.tier, a.cacheKey(request), func(ctx context.Context) (any, error) {
		return a.extract(ctx, request)
	}, toolweave.Params{"request": toolweave.String(request)})
	if err != nil {
		return nil, err
	}
	intent, ok := v.(*toolweave.Intent)
	if !ok {
		return nil, toolweave.NewInternalError("decomposition", fmt.Sprintf("intent cache returned %T", v), nil)
	}
	if source != cache.SourceMiss {
		a.logger.Debug().Str("source", source.String()).Msg("Intent served from cache")
	}
	// Intents are immutable once produced; hand out a copy so cached
	// entries stay untouched.
	out := *intent
	out.Filters = intent.Filters.Clone()
	out.Keywords = append([]string(nil), intent.Keywords...)
	return &out, nil
}

func (a *GenkitIntentExtractor) extract(ctx context.Context, request string) (*toolweave.Intent, error) {
	intent, err := a.run(ctx, &IntentInput{Request: request, ToolNames: a.toolNames})
	if err == nil && intent != nil && intent.Action != "" {
		if intent.Target == "" {
			intent.Target = toolweave.UnknownTarget
		}
		return intent, nil
	}
	if err == nil {
		err = fmt.Errorf("intent flow returned an empty intent")
	}
	if a.fallback == nil {
		return nil, toolweave.NewDecompositionError("intent flow execution failed", err)
	}
	a.logger.Warn().Err(err).Msg("Intent flow failed, using fallback extractor")
	return a.fallback.ExtractIntent(ctx, request)
}

// cacheKey hashes the request and tool list into a stable key.
func (a *GenkitIntentExtractor) cacheKey(request string) string {
	input, err := json.Marshal(IntentInput{Request: request, ToolNames: a.toolNames})
	if err != nil {
		return "intent:" + request
	}
	hasher := sha1.New()
	hasher.Write(input)
	return "intent:" + hex.EncodeToString(hasher.Sum(nil))
}
