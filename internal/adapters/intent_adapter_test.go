package adapters

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/ZanzyTHEbar/toolweave"
	"github.com/ZanzyTHEbar/toolweave/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticExtractor struct{ intent toolweave.Intent }

func (s staticExtractor) ExtractIntent(ctx context.Context, request string) (*toolweave.Intent, error) {
	out := s.intent
	return &out, nil
}

func TestGenkitIntentExtractor_UsesFlow(t *testing.T) {
	var got *IntentInput
	ext := NewFuncIntentExtractor(func(ctx context.Context, in *IntentInput) (*toolweave.Intent, error) {
		got = in
		return &toolweave.Intent{Action: toolweave.ActionAnalyze, Confidence: 0.9}, nil
	}, WithToolNames([]string{toolweave.ToolSearchCode}))

	intent, err := ext.ExtractIntent(context.Background(), "analyze Player")
	require.NoError(t, err)
	assert.Equal(t, toolweave.ActionAnalyze, intent.Action)
	assert.Equal(t, toolweave.UnknownTarget, intent.Target)
	assert.Equal(t, "analyze Player", got.Request)
	assert.Equal(t, []string{toolweave.ToolSearchCode}, got.ToolNames)
}

func TestGenkitIntentExtractor_Fallback(t *testing.T) {
	fallback := staticExtractor{intent: toolweave.Intent{Action: toolweave.ActionSearch, Target: "Player"}}
	ext := NewFuncIntentExtractor(func(ctx context.Context, in *IntentInput) (*toolweave.Intent, error) {
		return nil, errors.New("model unavailable")
	}, WithFallback(fallback))

	intent, err := ext.ExtractIntent(context.Background(), "find Player")
	require.NoError(t, err)
	assert.Equal(t, "Player", intent.Target)

	empty := NewFuncIntentExtractor(func(ctx context.Context, in *IntentInput) (*toolweave.Intent, error) {
		return &toolweave.Intent{}, nil
	}, WithFallback(fallback))
	intent, err = empty.ExtractIntent(context.Background(), "find Player")
	require.NoError(t, err)
	assert.Equal(t, toolweave.ActionSearch, intent.Action)
}

func TestGenkitIntentExtractor_Errors(t *testing.T) {
	failing := NewFuncIntentExtractor(func(ctx context.Context, in *IntentInput) (*toolweave.Intent, error) {
		return nil, errors.New("boom")
	})
	_, err := failing.ExtractIntent(context.Background(), "find Player")
	assert.Equal(t, toolweave.ErrCodeDecomposition, toolweave.CodeOf(err))

	_, err = failing.ExtractIntent(context.Background(), "  ")
	assert.Equal(t, toolweave.ErrCodeDecomposition, toolweave.CodeOf(err))

	_, err = NewGenkitIntentExtractor(nil).ExtractIntent(context.Background(), "find Player")
	assert.Equal(t, toolweave.ErrCodeConfiguration, toolweave.CodeOf(err))
}

func TestGenkitIntentExtractor_Cache(t *testing.T) {
	engine, err := cache.NewEngine(toolweave.DefaultTiers())
	require.NoError(t, err)

	var calls atomic.Int32
	ext := NewFuncIntentExtractor(func(ctx context.Context, in *IntentInput) (*toolweave.Intent, error) {
		calls.Add(1)
		return &toolweave.Intent{Action: toolweave.ActionFind, Target: "Enemy", Keywords: []string{"enemy"}}, nil
	}, WithIntentCache(engine, toolweave.TierAnalysis))

	first, err := ext.ExtractIntent(context.Background(), "find Enemy")
	require.NoError(t, err)
	first.Keywords[0] = "mutated"

	second, err := ext.ExtractIntent(context.Background(), "find Enemy")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []string{"enemy"}, second.Keywords)
	assert.Len(t, engine.Keys(toolweave.TierAnalysis), 1)
}
