package selector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/toolweave"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRegistry struct {
	tools     map[string]toolweave.ToolMetadata
	listCalls atomic.Int32
	metaCalls atomic.Int32
}

func (r *countingRegistry) ListToolNames() []string {
	r.listCalls.Add(1)
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

func (r *countingRegistry) GetMetadata(name string) (toolweave.ToolMetadata, bool) {
	r.metaCalls.Add(1)
	m, ok := r.tools[name]
	return m, ok
}

func (r *countingRegistry) IsValidTool(name string) bool {
	_, ok := r.tools[name]
	return ok
}

func newRegistry() *countingRegistry {
	search := func(required ...string) toolweave.ToolMetadata {
		return toolweave.ToolMetadata{Category: toolweave.CategorySearch, Complexity: toolweave.ComplexitySimple,
			RequiredParams: required, OptionalParams: []string{"scope"}, NominalCost: "fast"}
	}
	analysis := func(cost string) toolweave.ToolMetadata {
		return toolweave.ToolMetadata{Category: toolweave.CategoryAnalysis, Complexity: toolweave.ComplexityModerate,
			RequiredParams: []string{"className"}, NominalCost: cost}
	}
	return &countingRegistry{tools: map[string]toolweave.ToolMetadata{
		toolweave.ToolSearchCode:          search("query"),
		toolweave.ToolFindMonoBehaviours:  search(),
		toolweave.ToolFindEnums:           search(),
		toolweave.ToolGetClassDetails:     analysis("medium"),
		toolweave.ToolAnalyzeDependencies: analysis("slow"),
		toolweave.ToolAnalyzeInheritance:  analysis("slow"),
		toolweave.ToolGenerateCode: {Category: toolweave.CategoryGeneration, Complexity: toolweave.ComplexityComplex,
			RequiredParams: []string{"className", "description"}, NominalCost: "2s"},
	}}
}

// scriptedInvoker fails each tool a fixed number of times before succeeding.
type scriptedInvoker struct {
	mu       sync.Mutex
	failures map[string]int
	err      error
	calls    map[string]int
}

func (s *scriptedInvoker) Invoke(_ context.Context, tool string, _ toolweave.Params) (*toolweave.ToolResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[tool]++
	if s.calls[tool] <= s.failures[tool] {
		if s.err != nil {
			return nil, s.err
		}
		return &toolweave.ToolResponse{Success: false, Error: "temporarily unavailable"}, nil
	}
	return &toolweave.ToolResponse{
		Success: true,
		Data:    []toolweave.Item{{Content: tool + " output", Metadata: toolweave.Params{"name": toolweave.String(tool)}}},
	}, nil
}

func (s *scriptedInvoker) count(tool string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[tool]
}

func quick(opts ...Option) []Option {
	return append([]Option{WithRetry(3, time.Millisecond)}, opts...)
}

func TestBuildCapabilityMap_Memoized(t *testing.T) {
	reg := newRegistry()
	s := New(reg, &scriptedInvoker{})

	first := s.BuildCapabilityMap()
	listed, described := reg.listCalls.Load(), reg.metaCalls.Load()
	second := s.BuildCapabilityMap()

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), listed)
	assert.Equal(t, listed, reg.listCalls.Load())
	assert.Equal(t, described, reg.metaCalls.Load())
	assert.Len(t, first.Tools, len(reg.tools))
	assert.ElementsMatch(t,
		[]string{toolweave.ToolFindEnums, toolweave.ToolFindMonoBehaviours, toolweave.ToolSearchCode},
		first.Categories[toolweave.CategorySearch])
}

func TestBuildCapabilityMap_Compatibility(t *testing.T) {
	s := New(newRegistry(), &scriptedInvoker{})
	m := s.BuildCapabilityMap()

	// shared "scope" 0.2 + same category 0.3 + 0.1*3
	assert.InDelta(t, 0.8, m.Compatibility[toolweave.ToolSearchCode][toolweave.ToolFindEnums], 1e-9)
	assert.True(t, m.Compatible(toolweave.ToolSearchCode, toolweave.ToolFindEnums))

	// nothing shared, complexity delta 2
	assert.InDelta(t, 0.1, m.Compatibility[toolweave.ToolSearchCode][toolweave.ToolGenerateCode], 1e-9)
	assert.False(t, m.Compatible(toolweave.ToolSearchCode, toolweave.ToolGenerateCode))

	// shared className 0.2 + delta 1
	assert.InDelta(t, 0.4, m.Compatibility[toolweave.ToolGetClassDetails][toolweave.ToolGenerateCode], 1e-9)
	assert.Contains(t, m.CompatibleWith(toolweave.ToolGetClassDetails), toolweave.ToolGenerateCode)

	details := m.Tools[toolweave.ToolGetClassDetails]
	assert.Equal(t, 800.0, details.Performance.AvgExecTimeMs)
	assert.Contains(t, details.Relationships.FollowUp, toolweave.ToolAnalyzeDependencies)
	assert.Equal(t, toolweave.KindString, details.ParamTypes["className"])
}

func TestSelect_PrefersIntentMatch(t *testing.T) {
	s := New(newRegistry(), &scriptedInvoker{})
	intent := &toolweave.Intent{Action: toolweave.ActionAnalyze, Target: "PlayerController", Type: "class"}

	sel, err := s.Select(Criteria{Intent: intent})
	require.NoError(t, err)
	assert.Equal(t, toolweave.ToolGetClassDetails, sel.Tool)
	assert.Equal(t, StrategyBalanced, sel.Strategy)
	// 0.5*1.0 + 0.2*0 + 0.2*0.9 + 0.1*0
	assert.InDelta(t, 0.68, sel.Score, 1e-9)
	assert.False(t, sel.MeetsThreshold)
	assert.Len(t, sel.Alternatives, len(newRegistry().tools)-1)

	sel, err = s.Select(Criteria{Intent: intent, Strategy: StrategyAggressive})
	require.NoError(t, err)
	assert.Equal(t, toolweave.ToolGetClassDetails, sel.Tool)
	assert.True(t, sel.MeetsThreshold)
}

func TestSelect_RedundancyDampingAndFollowUp(t *testing.T) {
	s := New(newRegistry(), &scriptedInvoker{})
	intent := &toolweave.Intent{Action: toolweave.ActionAnalyze, Target: "PlayerController", Type: "class"}

	sel, err := s.Select(Criteria{
		Intent:  intent,
		Context: Context{PreviousTools: []string{toolweave.ToolGetClassDetails}},
	})
	require.NoError(t, err)
	assert.Contains(t, []string{toolweave.ToolAnalyzeDependencies, toolweave.ToolAnalyzeInheritance}, sel.Tool)
	// 0.5*0.8 + 0.2*0.3 + 0.2*0.9
	assert.InDelta(t, 0.64, sel.Score, 1e-9)

	for _, alt := range sel.Alternatives {
		if alt.Tool == toolweave.ToolGetClassDetails {
			assert.InDelta(t, 0.68*0.3, alt.Score, 1e-9)
		}
	}
}

func TestSelect_Constraints(t *testing.T) {
	s := New(newRegistry(), &scriptedInvoker{})
	intent := &toolweave.Intent{Action: toolweave.ActionAnalyze, Type: "class"}

	sel, err := s.Select(Criteria{Intent: intent, Constraints: Constraints{
		ExcludedTools: []string{toolweave.ToolGetClassDetails},
	}})
	require.NoError(t, err)
	assert.NotEqual(t, toolweave.ToolGetClassDetails, sel.Tool)

	sel, err = s.Select(Criteria{Intent: intent, Constraints: Constraints{
		PreferredCategories: []string{toolweave.CategoryGeneration},
	}})
	require.NoError(t, err)
	assert.Equal(t, toolweave.ToolGenerateCode, sel.Tool)

	sel, err = s.Select(Criteria{Intent: intent, Constraints: Constraints{MaxComplexity: toolweave.ComplexitySimple}})
	require.NoError(t, err)
	capability, ok := s.Capability(sel.Tool)
	require.True(t, ok)
	assert.Equal(t, toolweave.CategorySearch, capability.Category)

	_, err = s.Select(Criteria{Intent: intent, Constraints: Constraints{PreferredCategories: []string{"none"}}})
	require.Error(t, err)
	assert.Equal(t, toolweave.ErrCodeSelection, toolweave.CodeOf(err))
}

func TestSelect_AdaptiveFiltersByTime(t *testing.T) {
	s := New(newRegistry(), &scriptedInvoker{}, WithStrategy(StrategyAdaptive))
	intent := &toolweave.Intent{Action: toolweave.ActionAnalyze, Type: "class"}

	sel, err := s.Select(Criteria{Intent: intent, Constraints: Constraints{MaxExecutionTime: 500 * time.Millisecond}})
	require.NoError(t, err)
	assert.Equal(t, toolweave.ToolSearchCode, sel.Tool)
	for _, alt := range sel.Alternatives {
		assert.LessOrEqual(t, alt.EstimatedTimeMs, 500.0)
	}

	_, err = s.Select(Criteria{Intent: intent, Constraints: Constraints{MaxExecutionTime: time.Millisecond}})
	assert.Equal(t, toolweave.ErrCodeSelection, toolweave.CodeOf(err))
}

func TestExecuteTool_RetriesUntilSuccess(t *testing.T) {
	inv := &scriptedInvoker{failures: map[string]int{toolweave.ToolFindEnums: 2}}
	s := New(newRegistry(), inv, quick()...)

	res, err := s.ExecuteTool(context.Background(), toolweave.ToolFindEnums, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.RetryCount)
	assert.Equal(t, 3, inv.count(toolweave.ToolFindEnums))
	assert.Equal(t, "find_enums output", res.Data[0].Content)
}

func TestExecuteTool_AttemptCount(t *testing.T) {
	const retryAttempts = 3
	for failures := 0; failures <= 5; failures++ {
		inv := &scriptedInvoker{failures: map[string]int{toolweave.ToolFindEnums: failures}}
		s := New(newRegistry(), inv, WithRetry(retryAttempts, time.Microsecond))

		res, _ := s.ExecuteTool(context.Background(), toolweave.ToolFindEnums, nil)

		attemptsUntilSuccess := failures + 1
		assert.Equal(t, min(attemptsUntilSuccess, retryAttempts+1), inv.count(toolweave.ToolFindEnums), "failures=%d", failures)
		assert.Equal(t, failures <= retryAttempts, res.Success, "failures=%d", failures)
	}
}

func TestExecuteTool_TransportErrorsAreRetried(t *testing.T) {
	inv := &scriptedInvoker{failures: map[string]int{toolweave.ToolFindEnums: 10}, err: errors.New("connection reset")}
	s := New(newRegistry(), inv, quick()...)

	res, err := s.ExecuteTool(context.Background(), toolweave.ToolFindEnums, nil)
	require.Error(t, err)
	assert.Equal(t, toolweave.ErrCodeToolExecution, toolweave.CodeOf(err))
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.RetryCount)
	assert.Equal(t, 4, inv.count(toolweave.ToolFindEnums))
}

func TestExecuteTool_TerminalErrorsAreNotRetried(t *testing.T) {
	inv := &scriptedInvoker{}
	s := New(newRegistry(), inv, quick()...)

	res, err := s.ExecuteTool(context.Background(), "no_such_tool", nil)
	assert.Equal(t, toolweave.ErrCodeToolNotFound, toolweave.CodeOf(err))
	assert.False(t, res.Success)
	assert.Zero(t, inv.count("no_such_tool"))

	_, err = s.ExecuteTool(context.Background(), toolweave.ToolSearchCode, toolweave.Params{})
	assert.Equal(t, toolweave.ErrCodeInvalidParams, toolweave.CodeOf(err))
	assert.Zero(t, inv.count(toolweave.ToolSearchCode))

	_, err = s.ExecuteTool(context.Background(), toolweave.ToolGetClassDetails,
		toolweave.Params{"className": toolweave.Ref("t1", "className")})
	assert.Equal(t, toolweave.ErrCodeInvalidParams, toolweave.CodeOf(err))

	terminal := &scriptedInvoker{
		failures: map[string]int{toolweave.ToolFindEnums: 10},
		err:      toolweave.NewInvalidParamsError("tool", toolweave.ToolFindEnums, errors.New("bad scope")),
	}
	s = New(newRegistry(), terminal, quick()...)
	_, err = s.ExecuteTool(context.Background(), toolweave.ToolFindEnums, nil)
	assert.Equal(t, toolweave.ErrCodeInvalidParams, toolweave.CodeOf(err))
	assert.Equal(t, 1, terminal.count(toolweave.ToolFindEnums))
}

func TestExecuteTool_CancelledDuringBackoff(t *testing.T) {
	inv := &scriptedInvoker{failures: map[string]int{toolweave.ToolFindEnums: 10}}
	s := New(newRegistry(), inv, WithRetry(3, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := s.ExecuteTool(ctx, toolweave.ToolFindEnums, nil)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, toolweave.ErrCodeCancelled, toolweave.CodeOf(err))
	assert.False(t, res.Success)
	assert.Equal(t, 1, inv.count(toolweave.ToolFindEnums))
}

func TestExecuteToolsInParallel(t *testing.T) {
	inv := &scriptedInvoker{failures: map[string]int{toolweave.ToolFindMonoBehaviours: 10}}
	s := New(newRegistry(), inv, quick(WithMaxParallel(2))...)

	calls := []ToolCall{
		{ToolName: toolweave.ToolFindEnums},
		{ToolName: toolweave.ToolFindMonoBehaviours},
		{ToolName: toolweave.ToolSearchCode, Parameters: toolweave.Params{"query": toolweave.String("Player")}},
	}
	batch := s.ExecuteToolsInParallel(context.Background(), calls)

	require.Len(t, batch.Results, 3)
	assert.False(t, batch.Success)
	assert.True(t, batch.Results[0].Success)
	assert.Equal(t, "find_enums output", batch.Results[0].Data[0].Content)
	assert.False(t, batch.Results[1].Success)
	assert.True(t, batch.Results[2].Success)
	assert.Equal(t, "search_code output", batch.Results[2].Data[0].Content)
	assert.Greater(t, batch.Throughput, 0.0)

	empty := s.ExecuteToolsInParallel(context.Background(), nil)
	assert.True(t, empty.Success)
}

func TestLearning_UpdatesSuccessRateAndPreference(t *testing.T) {
	inv := &scriptedInvoker{failures: map[string]int{toolweave.ToolFindEnums: 10}}
	s := New(newRegistry(), inv, WithRetry(0, time.Millisecond))

	_, _ = s.ExecuteTool(context.Background(), toolweave.ToolFindEnums, nil)
	perf, ok := s.Performance(toolweave.ToolFindEnums)
	require.True(t, ok)
	assert.Zero(t, perf.SuccessRate)

	capability, ok := s.Capability(toolweave.ToolFindEnums)
	require.True(t, ok)
	assert.Zero(t, capability.Performance.SuccessRate)

	intent := &toolweave.Intent{Action: toolweave.ActionFind}
	before := s.Rank(Criteria{Intent: intent})
	s.RecordOutcome(toolweave.ActionFind, toolweave.ToolFindMonoBehaviours, true)
	after := s.Rank(Criteria{Intent: intent})

	scoreOf := func(cands []Candidate, tool string) float64 {
		for _, c := range cands {
			if c.Tool == tool {
				return c.Score
			}
		}
		return -1
	}
	assert.InDelta(t, 0.1, scoreOf(after, toolweave.ToolFindMonoBehaviours)-scoreOf(before, toolweave.ToolFindMonoBehaviours), 1e-9)
}

func TestLearning_Disabled(t *testing.T) {
	s := New(newRegistry(), &scriptedInvoker{}, WithLearning(false))
	_, err := s.ExecuteTool(context.Background(), toolweave.ToolFindEnums, nil)
	require.NoError(t, err)
	_, ok := s.Performance(toolweave.ToolFindEnums)
	assert.False(t, ok)
}

func TestValidateResult(t *testing.T) {
	withMeta := toolweave.Params{"name": toolweave.String("A")}
	tests := []struct {
		name    string
		result  *toolweave.ToolExecutionResult
		valid   bool
		quality float64
	}{
		{"well formed", &toolweave.ToolExecutionResult{Success: true, Data: []toolweave.Item{{Content: "a", Metadata: withMeta}}}, true, 1.0},
		{"failure with message", &toolweave.ToolExecutionResult{Success: false, Error: "boom"}, true, 1.0},
		{"failure without message", &toolweave.ToolExecutionResult{Success: false}, false, 0.7},
		{"success without data", &toolweave.ToolExecutionResult{Success: true}, false, 0},
		{"missing content", &toolweave.ToolExecutionResult{Success: true, Data: []toolweave.Item{{Metadata: withMeta}}}, false, 0.8},
		{"missing metadata", &toolweave.ToolExecutionResult{Success: true, Data: []toolweave.Item{{Content: "a"}, {Content: "b"}}}, false, 0.8},
		{"missing both", &toolweave.ToolExecutionResult{Success: true, Data: []toolweave.Item{{}}}, false, 0.7},
		{"nil", nil, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ValidateResult(tt.result)
			assert.Equal(t, tt.valid, v.Valid)
			assert.InDelta(t, tt.quality, v.Quality, 1e-9)
		})
	}
}

func TestParseStrategyAndBackoff(t *testing.T) {
	st, err := ParseStrategy("Adaptive")
	require.NoError(t, err)
	assert.Equal(t, StrategyAdaptive, st)

	st, err = ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyBalanced, st)

	_, err = ParseStrategy("reckless")
	assert.Equal(t, toolweave.ErrCodeConfiguration, toolweave.CodeOf(err))

	assert.Equal(t, 2*time.Second, Backoff(time.Second, 1))
	assert.Equal(t, 8*time.Second, Backoff(time.Second, 3))
}
