package executor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/toolweave"
	"github.com/ZanzyTHEbar/toolweave/internal/cache"
	"github.com/ZanzyTHEbar/toolweave/internal/selector"
)

type testRegistry map[string]toolweave.ToolMetadata

func (r testRegistry) ListToolNames() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r testRegistry) GetMetadata(name string) (toolweave.ToolMetadata, bool) {
	m, ok := r[name]
	return m, ok
}

func (r testRegistry) IsValidTool(name string) bool {
	_, ok := r[name]
	return ok
}

var registry = testRegistry{
	"search":  {Category: toolweave.CategorySearch, Complexity: toolweave.ComplexitySimple, NominalCost: "fast"},
	"analyze": {Category: toolweave.CategoryAnalysis, Complexity: toolweave.ComplexityModerate, RequiredParams: []string{"className"}},
	"fail":    {Category: toolweave.CategoryAnalysis, Complexity: toolweave.ComplexitySimple},
	"sleep":   {Category: toolweave.CategoryGeneration, Complexity: toolweave.ComplexitySimple},
}

type call struct {
	tool   string
	params toolweave.Params
}

// mockInvoker records calls and answers through handle.
type mockInvoker struct {
	mu     sync.Mutex
	calls  []call
	handle func(ctx context.Context, tool string, params toolweave.Params) (*toolweave.ToolResponse, error)
}

func (m *mockInvoker) Invoke(ctx context.Context, tool string, params toolweave.Params) (*toolweave.ToolResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, call{tool: tool, params: params})
	m.mu.Unlock()
	return m.handle(ctx, tool, params)
}

func (m *mockInvoker) callsTo(tool string) []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []call
	for _, c := range m.calls {
		if c.tool == tool {
			out = append(out, c)
		}
	}
	return out
}

func okResponse(meta toolweave.Params) *toolweave.ToolResponse {
	return &toolweave.ToolResponse{
		Success:  true,
		Data:     []toolweave.Item{{Content: "item", Metadata: meta}},
		Metadata: meta,
	}
}

func defaultHandler(ctx context.Context, tool string, params toolweave.Params) (*toolweave.ToolResponse, error) {
	switch tool {
	case "fail":
		return &toolweave.ToolResponse{Success: false, Error: "boom"}, nil
	case "search":
		return okResponse(toolweave.Params{"className": toolweave.String("PlayerController"), "count": toolweave.Int(3)}), nil
	default:
		return okResponse(toolweave.Params{"tool": toolweave.String(tool)}), nil
	}
}

func newTestExecutor(inv *mockInvoker, opts ...ExecutorOption) *DAGExecutor {
	sel := selector.New(registry, inv, selector.WithRetry(0, time.Millisecond))
	return NewExecutor(registry, sel, opts...)
}

func sequential(tasks ...toolweave.SubTask) *toolweave.TaskDecomposition {
	return &toolweave.TaskDecomposition{Subtasks: tasks, ExecutionStrategy: toolweave.StrategySequential}
}

func TestDAGExecutor_Sequential_ResolvesReferences(t *testing.T) {
	inv := &mockInvoker{handle: defaultHandler}
	exec := newTestExecutor(inv)

	d := sequential(
		toolweave.SubTask{ID: "t1", ToolName: "search"},
		toolweave.SubTask{ID: "t2", ToolName: "analyze", Dependencies: []string{"t1"},
			Parameters: toolweave.Params{"className": toolweave.RefOr("t1", "className", "Fallback")}},
	)
	result, err := exec.Execute(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || len(result.Results) != 2 {
		t.Fatalf("expected 2 successful results, got success=%v results=%d", result.Success, len(result.Results))
	}
	calls := inv.callsTo("analyze")
	if len(calls) != 1 {
		t.Fatalf("expected 1 analyze call, got %d", len(calls))
	}
	if got, _ := calls[0].params.GetString("className"); got != "PlayerController" {
		t.Errorf("expected className PlayerController, got %q", got)
	}
	if result.Context.State() != toolweave.WorkflowCompleted {
		t.Errorf("expected completed state, got %s", result.Context.State())
	}
}

func TestDAGExecutor_Sequential_FallbackWhenFieldMissing(t *testing.T) {
	inv := &mockInvoker{handle: defaultHandler}
	exec := newTestExecutor(inv)

	d := sequential(
		toolweave.SubTask{ID: "t1", ToolName: "sleep"},
		toolweave.SubTask{ID: "t2", ToolName: "analyze", Dependencies: []string{"t1"},
			Parameters: toolweave.Params{"className": toolweave.RefOr("t1", "className", "Fallback")}},
		toolweave.SubTask{ID: "t3", ToolName: "sleep", Dependencies: []string{"t1"},
			Parameters: toolweave.Params{"note": toolweave.Ref("t1", "missing")}},
	)
	if _, err := exec.Execute(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, _ := inv.callsTo("analyze")[0].params.GetString("className"); got != "Fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
	sleeps := inv.callsTo("sleep")
	if got, _ := sleeps[len(sleeps)-1].params.GetString("note"); got != "${t1.missing}" {
		t.Errorf("expected placeholder text, got %q", got)
	}
}

func TestDAGExecutor_Sequential_StopsAtFirstFailure(t *testing.T) {
	inv := &mockInvoker{handle: defaultHandler}
	exec := newTestExecutor(inv)

	d := sequential(
		toolweave.SubTask{ID: "t1", ToolName: "search"},
		toolweave.SubTask{ID: "t2", ToolName: "fail", Dependencies: []string{"t1"}},
		toolweave.SubTask{ID: "t3", ToolName: "sleep", Dependencies: []string{"t2"}},
	)
	result, err := exec.Execute(context.Background(), d)
	if err == nil {
		t.Fatal("expected error for failed task, got nil")
	}
	if result == nil || result.Success {
		t.Fatalf("expected an unsuccessful execution, got %+v", result)
	}
	if len(result.Results) != 2 {
		t.Errorf("expected partial results for 2 tasks, got %d", len(result.Results))
	}
	if len(inv.callsTo("sleep")) != 0 {
		t.Error("task after the failure must not run")
	}
	if result.Context.State() != toolweave.WorkflowFailed {
		t.Errorf("expected failed state, got %s", result.Context.State())
	}
	if info := result.Context.ErrorInfo(); info == nil || info.TaskID != "t2" {
		t.Errorf("expected error info for t2, got %+v", info)
	}
	if result.Metrics.FailedExecutions != 1 || result.Metrics.SuccessfulExecutions != 1 {
		t.Errorf("unexpected metrics: %+v", result.Metrics)
	}
}

func TestDAGExecutor_Sequential_PriorityOrder(t *testing.T) {
	inv := &mockInvoker{handle: defaultHandler}
	exec := newTestExecutor(inv)

	d := sequential(
		toolweave.SubTask{ID: "low", ToolName: "sleep", Priority: 5},
		toolweave.SubTask{ID: "high", ToolName: "sleep", Priority: 1},
		toolweave.SubTask{ID: "after", ToolName: "sleep", Priority: 0, Dependencies: []string{"low"}},
	)
	result, err := exec.Execute(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var order []string
	for _, o := range result.Results {
		order = append(order, o.TaskID)
	}
	want := []string{"high", "low", "after"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestDAGExecutor_Sequential_CycleDegrades(t *testing.T) {
	inv := &mockInvoker{handle: defaultHandler}
	exec := newTestExecutor(inv)

	d := sequential(
		toolweave.SubTask{ID: "a", ToolName: "sleep", Dependencies: []string{"b"}},
		toolweave.SubTask{ID: "b", ToolName: "sleep", Dependencies: []string{"a"}},
		toolweave.SubTask{ID: "c", ToolName: "sleep"},
	)
	result, err := exec.Execute(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Degraded {
		t.Error("expected a degraded run")
	}
	if len(result.Results) != 3 || result.Results[0].TaskID != "c" {
		t.Errorf("expected c first then the cycle, got %+v", result.Results)
	}
	if exec.GetMetrics().DegradedRuns != 1 {
		t.Errorf("expected 1 degraded run, got %d", exec.GetMetrics().DegradedRuns)
	}
}

func TestDAGExecutor_StrictDependencies(t *testing.T) {
	inv := &mockInvoker{handle: defaultHandler}
	exec := newTestExecutor(inv, WithStrictDependencies(true))

	d := sequential(
		toolweave.SubTask{ID: "a", ToolName: "sleep", Dependencies: []string{"b"}},
		toolweave.SubTask{ID: "b", ToolName: "sleep", Dependencies: []string{"a"}},
	)
	_, err := exec.Execute(context.Background(), d)
	if toolweave.CodeOf(err) != toolweave.ErrCodeScheduling {
		t.Fatalf("expected scheduling error, got %v", err)
	}
	if len(inv.callsTo("sleep")) != 0 {
		t.Error("no task may run when the graph is rejected")
	}
}

func TestDAGExecutor_Retry(t *testing.T) {
	var count atomic.Int32
	inv := &mockInvoker{handle: func(ctx context.Context, tool string, params toolweave.Params) (*toolweave.ToolResponse, error) {
		if count.Add(1) <= 2 {
			return nil, errors.New("connection reset")
		}
		return okResponse(toolweave.Params{"ok": toolweave.Bool(true)}), nil
	}}
	sel := selector.New(registry, inv, selector.WithRetry(3, time.Millisecond))
	exec := NewExecutor(registry, sel)

	result, err := exec.Execute(context.Background(), sequential(toolweave.SubTask{ID: "t1", ToolName: "sleep"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := result.Results[0].Result
	if !r.Success || r.RetryCount != 2 {
		t.Errorf("expected success with 2 retries, got success=%v retries=%d", r.Success, r.RetryCount)
	}
	if count.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", count.Load())
	}
	if result.Metrics.TotalRetries != 2 {
		t.Errorf("expected 2 total retries, got %d", result.Metrics.TotalRetries)
	}
}

func TestDAGExecutor_Parallel_CollectsAllResults(t *testing.T) {
	var running, peak atomic.Int32
	inv := &mockInvoker{handle: func(ctx context.Context, tool string, params toolweave.Params) (*toolweave.ToolResponse, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return defaultHandler(ctx, tool, params)
	}}
	exec := newTestExecutor(inv, WithMaxParallel(2))

	d := &toolweave.TaskDecomposition{
		ExecutionStrategy: toolweave.StrategyParallel,
		Subtasks: []toolweave.SubTask{
			{ID: "t1", ToolName: "sleep"},
			{ID: "t2", ToolName: "fail"},
			{ID: "t3", ToolName: "sleep"},
			{ID: "t4", ToolName: "search"},
		},
	}
	result, err := exec.Execute(context.Background(), d)
	if err != nil {
		t.Fatalf("parallel runs report failures through Success, got error %v", err)
	}
	if result.Success {
		t.Error("expected aggregate failure")
	}
	if len(result.Results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(result.Results))
	}
	for i, id := range []string{"t1", "t2", "t3", "t4"} {
		if result.Results[i].TaskID != id {
			t.Errorf("result %d: expected %s, got %s", i, id, result.Results[i].TaskID)
		}
	}
	if peak.Load() > 2 {
		t.Errorf("expected at most 2 concurrent calls, saw %d", peak.Load())
	}
	metrics := exec.GetMetrics()
	if metrics.TasksExecuted != 4 || metrics.TasksSuccessful != 3 || metrics.TasksFailed != 1 {
		t.Errorf("unexpected metrics: %+v", metrics)
	}
}

func TestDAGExecutor_MetricsSnapshotIsStable(t *testing.T) {
	inv := &mockInvoker{handle: defaultHandler}
	exec := newTestExecutor(inv)
	d := sequential(toolweave.SubTask{ID: "t1", ToolName: "search"})

	if _, err := exec.Execute(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := exec.GetMetrics()
	if _, err := exec.Execute(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second := exec.GetMetrics()

	if first.Workflows != 1 || first.TasksExecuted != 1 {
		t.Errorf("first snapshot changed after a later run: %+v", first)
	}
	if second.Workflows != 2 || second.TasksExecuted != 2 {
		t.Errorf("unexpected second snapshot: %+v", second)
	}
}

func TestDAGExecutor_Hybrid_Waves(t *testing.T) {
	inv := &mockInvoker{handle: defaultHandler}
	exec := newTestExecutor(inv)

	d := &toolweave.TaskDecomposition{
		ExecutionStrategy: toolweave.StrategyHybrid,
		Subtasks: []toolweave.SubTask{
			{ID: "a", ToolName: "search"},
			{ID: "b", ToolName: "sleep"},
			{ID: "c", ToolName: "analyze", Dependencies: []string{"a", "b"},
				Parameters: toolweave.Params{"className": toolweave.Ref("a", "className")}},
		},
	}
	result, err := exec.Execute(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || len(result.Results) != 3 || result.Results[2].TaskID != "c" {
		t.Fatalf("unexpected results: %+v", result.Results)
	}
	if got, _ := inv.callsTo("analyze")[0].params.GetString("className"); got != "PlayerController" {
		t.Errorf("expected resolved className, got %q", got)
	}
}

func TestDAGExecutor_Hybrid_StopsAfterFailingWave(t *testing.T) {
	inv := &mockInvoker{handle: defaultHandler}
	exec := newTestExecutor(inv)

	d := &toolweave.TaskDecomposition{
		ExecutionStrategy: toolweave.StrategyHybrid,
		Subtasks: []toolweave.SubTask{
			{ID: "a", ToolName: "fail"},
			{ID: "b", ToolName: "sleep"},
			{ID: "c", ToolName: "search", Dependencies: []string{"a"}},
		},
	}
	result, err := exec.Execute(context.Background(), d)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(result.Results) != 2 {
		t.Errorf("expected the first wave only, got %d results", len(result.Results))
	}
	if len(inv.callsTo("search")) != 0 {
		t.Error("second wave must not run")
	}
}

func TestDAGExecutor_CacheHit(t *testing.T) {
	engine, err := cache.NewEngine(toolweave.DefaultTiers())
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	inv := &mockInvoker{handle: defaultHandler}
	exec := newTestExecutor(inv, WithCache(engine))

	d := sequential(toolweave.SubTask{ID: "t1", ToolName: "search", Parameters: toolweave.Params{"query": toolweave.String("Player")}})
	if _, err := exec.Execute(context.Background(), d); err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := exec.Execute(context.Background(), d)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(inv.callsTo("search")) != 1 {
		t.Errorf("expected the tool to run once, ran %d times", len(inv.callsTo("search")))
	}
	r := second.Results[0].Result
	if !r.FromCache || r.RetryCount != 0 {
		t.Errorf("expected a cache hit with no retries, got %+v", r)
	}
	if second.Metrics.CacheHitRate != 0.5 {
		t.Errorf("expected lifetime hit rate 0.5, got %v", second.Metrics.CacheHitRate)
	}
	if len(engine.Keys(toolweave.TierSearch)) != 1 {
		t.Errorf("expected 1 entry in the search tier")
	}
}

func TestDAGExecutor_CachedResultIsolatedFromCallers(t *testing.T) {
	engine, err := cache.NewEngine(toolweave.DefaultTiers())
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	inv := &mockInvoker{handle: defaultHandler}
	exec := newTestExecutor(inv, WithCache(engine))

	d := sequential(toolweave.SubTask{ID: "t1", ToolName: "search", Parameters: toolweave.Params{"query": toolweave.String("Player")}})
	first, err := exec.Execute(context.Background(), d)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	mutated := first.Results[0].Result
	mutated.Data[0].Content = "changed by caller"
	mutated.Data[0].Metadata["className"] = toolweave.String("Other")
	mutated.Metadata["count"] = toolweave.Int(99)

	second, err := exec.Execute(context.Background(), d)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	r := second.Results[0].Result
	if !r.FromCache {
		t.Fatalf("expected a cache hit")
	}
	if r.Data[0].Content != "item" {
		t.Errorf("cached content was rewritten: %q", r.Data[0].Content)
	}
	if got := r.Data[0].Metadata.Get("className").Text(); got != "PlayerController" {
		t.Errorf("cached item metadata was rewritten: %s", got)
	}
	if got := r.Metadata.Get("count").Text(); got != "3" {
		t.Errorf("cached metadata was rewritten: %s", got)
	}

	// Hits hand out copies too.
	r.Data[0].Content = "changed again"
	third, _ := exec.Execute(context.Background(), d)
	if third.Results[0].Result.Data[0].Content != "item" {
		t.Errorf("cache hit shared its data with the caller")
	}
}

func TestDAGExecutor_FailuresAreNotCached(t *testing.T) {
	engine, err := cache.NewEngine(toolweave.DefaultTiers())
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	inv := &mockInvoker{handle: defaultHandler}
	exec := newTestExecutor(inv, WithCache(engine))

	d := sequential(toolweave.SubTask{ID: "t1", ToolName: "fail"})
	exec.Execute(context.Background(), d)
	exec.Execute(context.Background(), d)
	if len(inv.callsTo("fail")) != 2 {
		t.Errorf("expected failing tool to run twice, ran %d times", len(inv.callsTo("fail")))
	}
}

func TestDAGExecutor_ExpressionParameter(t *testing.T) {
	inv := &mockInvoker{handle: defaultHandler}
	exec := newTestExecutor(inv)

	d := sequential(
		toolweave.SubTask{ID: "t1", ToolName: "search"},
		toolweave.SubTask{ID: "t2", ToolName: "sleep", Dependencies: []string{"t1"},
			Parameters: toolweave.Params{"limit": toolweave.Expr("max($t1.count * 2, 4)")}},
	)
	if _, err := exec.Execute(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	limit, ok := inv.callsTo("sleep")[0].params["limit"].AsNumber()
	if !ok || limit != 6 {
		t.Errorf("expected limit 6, got %v", inv.callsTo("sleep")[0].params["limit"])
	}
}

func TestDAGExecutor_BadExpressionFailsTask(t *testing.T) {
	inv := &mockInvoker{handle: defaultHandler}
	exec := newTestExecutor(inv)

	d := sequential(toolweave.SubTask{ID: "t1", ToolName: "sleep",
		Parameters: toolweave.Params{"limit": toolweave.Expr("$ghost.count + 1")}})
	_, err := exec.Execute(context.Background(), d)
	if toolweave.CodeOf(err) != toolweave.ErrCodeInvalidParams {
		t.Fatalf("expected invalid parameters, got %v", err)
	}
	if len(inv.callsTo("sleep")) != 0 {
		t.Error("tool must not run with unresolved parameters")
	}
}

func TestDAGExecutor_Observer(t *testing.T) {
	inv := &mockInvoker{handle: defaultHandler}
	var mu sync.Mutex
	kinds := map[EventKind]int{}
	exec := newTestExecutor(inv, WithObserver(func(ev TaskEvent) {
		mu.Lock()
		kinds[ev.Kind]++
		mu.Unlock()
	}))

	exec.Execute(context.Background(), sequential(
		toolweave.SubTask{ID: "t1", ToolName: "search"},
		toolweave.SubTask{ID: "t2", ToolName: "fail", Dependencies: []string{"t1"}},
	))
	if kinds[TaskStarted] != 2 || kinds[TaskCompleted] != 1 || kinds[TaskFailed] != 1 {
		t.Errorf("unexpected events: %v", kinds)
	}
}

func TestDAGExecutor_ExecutePlan_Cancellation(t *testing.T) {
	inv := &mockInvoker{handle: func(ctx context.Context, tool string, params toolweave.Params) (*toolweave.ToolResponse, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
			return okResponse(nil), nil
		}
	}}
	exec := newTestExecutor(inv)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	result, err := exec.Execute(ctx, sequential(
		toolweave.SubTask{ID: "t1", ToolName: "sleep"},
		toolweave.SubTask{ID: "t2", ToolName: "sleep", Dependencies: []string{"t1"}},
	))
	if err == nil {
		t.Error("expected error due to cancellation, got nil")
	}
	if result.Success || len(result.Results) != 1 {
		t.Errorf("expected one unsuccessful result, got %+v", result.Results)
	}
}

func TestDAGExecutor_CancelledBeforeStart(t *testing.T) {
	inv := &mockInvoker{handle: defaultHandler}
	exec := newTestExecutor(inv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := exec.Execute(ctx, sequential(toolweave.SubTask{ID: "t1", ToolName: "sleep"}))
	if toolweave.CodeOf(err) != toolweave.ErrCodeCancelled {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if result.Context.State() != toolweave.WorkflowCancelled {
		t.Errorf("expected cancelled state, got %s", result.Context.State())
	}
}

func TestDAGExecutor_RejectsMalformedDecomposition(t *testing.T) {
	exec := newTestExecutor(&mockInvoker{handle: defaultHandler})
	for _, d := range []*toolweave.TaskDecomposition{
		nil,
		{},
		sequential(toolweave.SubTask{ID: "a", ToolName: "sleep"}, toolweave.SubTask{ID: "a", ToolName: "sleep"}),
	} {
		if _, err := exec.Execute(context.Background(), d); toolweave.CodeOf(err) != toolweave.ErrCodeDecomposition {
			t.Errorf("expected decomposition error, got %v", err)
		}
	}
}
