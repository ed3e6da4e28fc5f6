package planner

import (
	"context"
	"testing"

	"github.com/ZanzyTHEbar/toolweave"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		request    string
		action     toolweave.Action
		target     string
		typ        string
		confidence float64
	}{
		{"Find PlayerController class", toolweave.ActionFind, "PlayerController", "class", 1.0},
		{"Find all MonoBehaviours", toolweave.ActionFind, toolweave.UnknownTarget, "component", 0.8},
		{"Analyze dependencies of GameManager", toolweave.ActionAnalyze, "GameManager", UnknownType, 0.9},
		{"something vague", toolweave.ActionSearch, toolweave.UnknownTarget, UnknownType, 0.5},
		{"Generate a singleton template for AudioManager", toolweave.ActionGenerate, "AudioManager", "template", 1.0},
		{"list enums", toolweave.ActionList, toolweave.UnknownTarget, "enum", 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.request, func(t *testing.T) {
			intent := Extract(tt.request)
			assert.Equal(t, tt.action, intent.Action)
			assert.Equal(t, tt.target, intent.Target)
			assert.Equal(t, tt.typ, intent.Type)
			assert.InDelta(t, tt.confidence, intent.Confidence, 1e-9)
		})
	}
}

func TestExtractFilters(t *testing.T) {
	intent := Extract("Find all classes derived from EnemyBase in the Game.AI namespace")

	ns, ok := intent.Filters.GetString("namespace")
	require.True(t, ok)
	assert.Equal(t, "Game.AI", ns)

	base, ok := intent.Filters.GetString("baseClass")
	require.True(t, ok)
	assert.Equal(t, "EnemyBase", base)

	scope, _ := intent.Filters.GetString("scope")
	assert.Equal(t, "all", scope)

	assert.Contains(t, intent.Keywords, "derived")
	assert.NotContains(t, intent.Keywords, "the")
}

func TestExtractIntentRejectsEmpty(t *testing.T) {
	_, err := NewPatternExtractor().ExtractIntent(context.Background(), "   ")
	require.Error(t, err)
	assert.Equal(t, toolweave.ErrCodeDecomposition, toolweave.CodeOf(err))
}

func TestDecomposeSequentialWorkflow(t *testing.T) {
	d := NewDecomposer()
	got, err := d.Decompose(context.Background(), "Find PlayerController class, analyze its dependencies, and generate a wrapper class")
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(got.Subtasks), 3)
	assert.Equal(t, toolweave.StrategySequential, got.ExecutionStrategy)
	assert.Equal(t, []string{toolweave.ToolSearchCode, toolweave.ToolAnalyzeDependencies, toolweave.ToolGenerateCode}, got.ToolNames())

	byID := map[string]*toolweave.SubTask{}
	for i := range got.Subtasks {
		byID[got.Subtasks[i].ID] = &got.Subtasks[i]
	}
	first := got.Subtasks[0].ID
	for _, st := range got.Subtasks[1:] {
		assert.True(t, ancestors(byID, st.ID)[first], "%s should depend on %s", st.ID, first)
	}

	className := got.Subtasks[1].Parameters["className"]
	ref, ok := className.AsReference()
	require.True(t, ok)
	assert.Equal(t, first, ref.TaskID)
	assert.Equal(t, "className", ref.Field)
	assert.Equal(t, "PlayerController", ref.Fallback)

	query, _ := got.Subtasks[0].Parameters.GetString("query")
	assert.Equal(t, "PlayerController", query)
	assert.Equal(t, int64(3000), got.EstimatedDurationMs)
}

func TestDecomposeParallelWorkflow(t *testing.T) {
	d := NewDecomposer()
	got, err := d.Decompose(context.Background(), "Find all MonoBehaviours and find all enums")
	require.NoError(t, err)

	assert.Equal(t, toolweave.StrategyParallel, got.ExecutionStrategy)
	assert.Equal(t, []string{toolweave.ToolFindMonoBehaviours, toolweave.ToolFindEnums}, got.ToolNames())
	for _, st := range got.Subtasks {
		assert.Empty(t, st.Dependencies)
	}
	assert.Equal(t, int64(1000), got.EstimatedDurationMs)
}

func TestDecomposeSimpleRequestHasOneSubtask(t *testing.T) {
	for _, request := range []string{
		"Find all MonoBehaviours",
		"Find PlayerController",
		"Show details of GameManager",
		"Analyze PlayerController",
	} {
		t.Run(request, func(t *testing.T) {
			got, err := NewDecomposer().Decompose(context.Background(), request)
			require.NoError(t, err)
			assert.Len(t, got.Subtasks, 1)
			assert.Equal(t, toolweave.StrategySequential, got.ExecutionStrategy)
		})
	}
}

func TestDecomposeNamedPatternsExpand(t *testing.T) {
	tests := []struct {
		request string
		tools   []string
	}{
		{"Show the inheritance hierarchy of EnemyBase", []string{toolweave.ToolSearchCode, toolweave.ToolAnalyzeInheritance}},
		{"Analyze dependencies of GameManager", []string{toolweave.ToolSearchCode, toolweave.ToolAnalyzeDependencies}},
		{"Generate a singleton template for AudioManager", []string{toolweave.ToolSearchCode, toolweave.ToolApplyCodeTemplate}},
		{"Detect design patterns in MonoBehaviours", []string{toolweave.ToolFindMonoBehaviours, toolweave.ToolDetectDesignPatterns}},
	}
	for _, tt := range tests {
		t.Run(tt.request, func(t *testing.T) {
			got, err := NewDecomposer().Decompose(context.Background(), tt.request)
			require.NoError(t, err)
			assert.Equal(t, tt.tools, got.ToolNames())
			assert.Equal(t, []string{got.Subtasks[0].ID}, got.Subtasks[1].Dependencies)
			assert.Equal(t, toolweave.StrategySequential, got.ExecutionStrategy)
		})
	}
}

func TestDecomposeTemplateName(t *testing.T) {
	got, err := NewDecomposer().Decompose(context.Background(), "Generate a singleton template for AudioManager")
	require.NoError(t, err)
	name, _ := got.Subtasks[1].Parameters.GetString("templateName")
	assert.Equal(t, "singleton", name)
}

func TestDecomposeMultipleTargetsSearchInParallel(t *testing.T) {
	got, err := NewDecomposer().Decompose(context.Background(), "Find Player and Enemy classes")
	require.NoError(t, err)
	assert.Equal(t, []string{toolweave.ToolSearchCode, toolweave.ToolSearchCode}, got.ToolNames())
	assert.Equal(t, toolweave.StrategyParallel, got.ExecutionStrategy)
}

func TestDecomposeComplexRequestsHaveSeveralSubtasks(t *testing.T) {
	for _, request := range []string{
		"Find PlayerController and then show it",
		"Find Player and Enemy classes, then compare them",
		"List enums and also get their values",
	} {
		t.Run(request, func(t *testing.T) {
			got, err := NewDecomposer().Decompose(context.Background(), request)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, len(got.Subtasks), 2)
			require.NoError(t, Validate(got))
		})
	}
}

func TestDecomposeRequiredParamsFilled(t *testing.T) {
	required := map[string][]string{
		toolweave.ToolSearchCode:          {"query"},
		toolweave.ToolAnalyzeDependencies: {"className"},
		toolweave.ToolGenerateCode:        {"description"},
		toolweave.ToolCompareClasses:      {"classNames"},
		toolweave.ToolGetClassDetails:     {"className"},
	}
	got, err := NewDecomposer().Decompose(context.Background(),
		"Find Player and Enemy classes, compare them, analyze dependencies and generate a facade")
	require.NoError(t, err)
	for _, st := range got.Subtasks {
		for _, p := range required[st.ToolName] {
			v, ok := st.Parameters[p]
			assert.True(t, ok && !v.IsNull(), "%s (%s) misses %s", st.ID, st.ToolName, p)
		}
	}
}

func TestDecomposeMaxDepth(t *testing.T) {
	d := NewDecomposer(WithMaxDepth(2))
	_, err := d.Decompose(context.Background(), "Find PlayerController class, analyze its dependencies, and generate a wrapper class")
	require.Error(t, err)
	assert.Equal(t, toolweave.ErrCodeDecomposition, toolweave.CodeOf(err))
}

func TestDecomposeEmptyRequest(t *testing.T) {
	_, err := NewDecomposer().Decompose(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, toolweave.ErrCodeDecomposition, toolweave.CodeOf(err))
}

type fixedExtractor struct{ intent *toolweave.Intent }

func (f fixedExtractor) ExtractIntent(context.Context, string) (*toolweave.Intent, error) {
	return f.intent, nil
}

func TestDecomposeUsesConfiguredExtractor(t *testing.T) {
	d := NewDecomposer(WithExtractor(fixedExtractor{&toolweave.Intent{
		Action: toolweave.ActionAnalyze, Target: "Boss", Type: "class", Confidence: 0.42,
	}}))
	got, err := d.Decompose(context.Background(), "tell me about it")
	require.NoError(t, err)
	assert.Equal(t, []string{toolweave.ToolGetClassDetails}, got.ToolNames())
	name, _ := got.Subtasks[0].Parameters.GetString("className")
	assert.Equal(t, "Boss", name)
	assert.InDelta(t, 0.42, got.Confidence, 1e-9)
}

func TestDecomposeFlagsLowConfidence(t *testing.T) {
	vague := fixedExtractor{&toolweave.Intent{
		Action: toolweave.ActionAnalyze, Target: "Boss", Type: "class", Confidence: 0.42,
	}}

	got, err := NewDecomposer(WithExtractor(vague), WithConfidenceThreshold(0.6)).
		Decompose(context.Background(), "tell me about it")
	require.NoError(t, err)
	assert.Contains(t, got.Explanation, "low confidence 0.42 (threshold 0.60)")

	got, err = NewDecomposer(WithExtractor(vague), WithConfidenceThreshold(0.4)).
		Decompose(context.Background(), "tell me about it")
	require.NoError(t, err)
	assert.NotContains(t, got.Explanation, "low confidence")
}

func task(id string, deps ...string) toolweave.SubTask {
	return toolweave.SubTask{ID: id, ToolName: toolweave.ToolSearchCode, Dependencies: deps}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		tasks []toolweave.SubTask
		code  string
	}{
		{"ok", []toolweave.SubTask{task("a"), task("b", "a")}, ""},
		{"duplicate", []toolweave.SubTask{task("a"), task("a")}, toolweave.ErrCodeDecomposition},
		{"missing dependency", []toolweave.SubTask{task("a", "zzz")}, toolweave.ErrCodeScheduling},
		{"cycle", []toolweave.SubTask{task("a", "b"), task("b", "a")}, toolweave.ErrCodeScheduling},
		{"unknown reference", []toolweave.SubTask{{
			ID: "a", ToolName: toolweave.ToolGetClassDetails,
			Parameters: toolweave.Params{"className": toolweave.Ref("ghost", "className")},
		}}, toolweave.ErrCodeUnresolvedReference},
		{"reference without dependency", []toolweave.SubTask{task("a"), {
			ID: "b", ToolName: toolweave.ToolGetClassDetails,
			Parameters: toolweave.Params{"className": toolweave.Ref("a", "className")},
		}}, toolweave.ErrCodeUnresolvedReference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&toolweave.TaskDecomposition{Subtasks: tt.tasks})
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.code, toolweave.CodeOf(err))
		})
	}
}

func TestAddImpliedDependencies(t *testing.T) {
	tasks := []toolweave.SubTask{task("a"), {
		ID: "b", ToolName: toolweave.ToolGetClassDetails,
		Parameters: toolweave.Params{"className": toolweave.Ref("a", "className")},
	}}
	AddImpliedDependencies(tasks)
	assert.Equal(t, []string{"a"}, tasks[1].Dependencies)
	require.NoError(t, Validate(&toolweave.TaskDecomposition{Subtasks: tasks}))
}

func TestWavesAndCycles(t *testing.T) {
	tasks := []toolweave.SubTask{task("a"), task("b"), task("c", "a", "b"), task("d", "c"), task("x", "y"), task("y", "x")}
	waves, blocked := Waves(tasks)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}, {"d"}}, waves)
	assert.Equal(t, []string{"x", "y"}, blocked)

	cycle := FindCycle(tasks)
	require.NotNil(t, cycle)
	assert.Equal(t, cycle[0], cycle[len(cycle)-1])
}

func TestChooseStrategyAndEstimate(t *testing.T) {
	cost := func(string) int64 { return 100 }

	assert.Equal(t, toolweave.StrategySequential, ChooseStrategy([]toolweave.SubTask{task("a")}))
	assert.Equal(t, toolweave.StrategyParallel, ChooseStrategy([]toolweave.SubTask{task("a"), task("b")}))
	assert.Equal(t, toolweave.StrategySequential, ChooseStrategy([]toolweave.SubTask{task("a"), task("b", "a")}))

	tasks := []toolweave.SubTask{task("a"), task("b"), task("c", "a")}
	assert.Equal(t, int64(300), EstimateDuration(tasks, toolweave.StrategySequential, cost))
	assert.Equal(t, int64(100), EstimateDuration(tasks, toolweave.StrategyParallel, cost))
	assert.Equal(t, int64(200), EstimateDuration(tasks, toolweave.StrategyHybrid, cost))
}
