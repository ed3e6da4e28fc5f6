// Package executor runs task decompositions: sequential plans in dependency
// order, parallel plans on a bounded pool and hybrid plans wave by wave, with
// every tool call going through the cache and the retrying tool selector.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/ZanzyTHEbar/toolweave"
	"github.com/ZanzyTHEbar/toolweave/internal/cache"
	"github.com/ZanzyTHEbar/toolweave/internal/planner"
	"github.com/ZanzyTHEbar/toolweave/internal/selector"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/errgroup"
)

// EventKind names a task lifecycle event.
type EventKind string

const (
	TaskStarted   EventKind = "task_started"
	TaskCompleted EventKind = "task_completed"
	TaskFailed    EventKind = "task_failed"
)

// TaskEvent is delivered to the observer as subtasks start and finish.
type TaskEvent struct {
	Kind       EventKind
	WorkflowID string
	TaskID     string
	ToolName   string
	Result     *toolweave.ToolExecutionResult
	Err        error
}

// DAGExecutor handles the execution of task decompositions.
type DAGExecutor struct {
	registry    toolweave.Registry
	selector    *selector.Selector
	cache       *cache.Engine
	maxParallel int
	strict      bool
	learning    bool
	functions   map[string]govaluate.ExpressionFunction
	observer    func(TaskEvent)
	logger      zerolog.Logger

	metrics metricsRecorder
}

// Executor is the short name used by callers.
type Executor = DAGExecutor

// ExecutorOption represents an option for configuring the DAGExecutor.
type ExecutorOption func(*DAGExecutor)

// WithCache routes tool calls through the cache engine.
func WithCache(engine *cache.Engine) ExecutorOption {
	return func(e *DAGExecutor) { e.cache = engine }
}

// WithMaxParallel bounds concurrent tool calls.
func WithMaxParallel(n int) ExecutorOption {
	return func(e *DAGExecutor) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// WithStrictDependencies makes cycles and missing dependencies fail the run
// instead of degrading to unordered execution.
func WithStrictDependencies(strict bool) ExecutorOption {
	return func(e *DAGExecutor) { e.strict = strict }
}

// WithLearning feeds task outcomes back into the selector.
func WithLearning(enabled bool) ExecutorOption {
	return func(e *DAGExecutor) { e.learning = enabled }
}

// WithExpressionFunction makes fn callable from parameter expressions.
func WithExpressionFunction(name string, fn govaluate.ExpressionFunction) ExecutorOption {
	return func(e *DAGExecutor) { e.functions[name] = fn }
}

// WithObserver receives task lifecycle events. It is called synchronously
// from the goroutine running the task.
func WithObserver(fn func(TaskEvent)) ExecutorOption {
	return func(e *DAGExecutor) { e.observer = fn }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ExecutorOption {
	return func(e *DAGExecutor) { e.logger = logger }
}

// NewExecutor creates an executor invoking tools through sel.
func NewExecutor(registry toolweave.Registry, sel *selector.Selector, options ...ExecutorOption) *DAGExecutor {
	e := &DAGExecutor{
		registry:    registry,
		selector:    sel,
		maxParallel: 5,
		learning:    true,
		functions:   functionSet(nil),
		logger:      zerolog.Nop(),
	}
	for _, option := range options {
		option(e)
	}
	e.logger = e.logger.With().Str("component", "executor").Logger()
	return e
}

// Functions returns the expression functions available to plans.
func (e *DAGExecutor) Functions() map[string]govaluate.ExpressionFunction {
	return e.functions
}

// GetMetrics returns a snapshot of the lifetime execution metrics.
func (e *DAGExecutor) GetMetrics() ExecutorMetrics {
	return e.metrics.snapshot()
}

// run is the state of one Execute call.
type run struct {
	id      string
	d       *toolweave.TaskDecomposition
	wf      *toolweave.WorkflowContext
	results []toolweave.TaskOutcome
}

// Execute runs d with its execution strategy. The returned execution is never
// nil once d is well-formed; err is set when a sequential or hybrid run stopped
// at a failure, was cancelled, or hit a dependency problem in strict mode.
// Parallel runs report individual failures through Success only.
func (e *DAGExecutor) Execute(ctx context.Context, d *toolweave.TaskDecomposition) (*toolweave.WorkflowExecution, error) {
	if err := checkTasks(d); err != nil {
		return nil, err
	}

	start := time.Now()
	r := &run{id: uuid.NewString(), d: d, wf: toolweave.NewWorkflowContext()}
	exec := &toolweave.WorkflowExecution{ID: r.id, Decomposition: d, Context: r.wf}
	if err := r.wf.Transition(toolweave.WorkflowExecuting); err != nil {
		return nil, toolweave.NewInternalError("execution", "failed to start workflow", err)
	}

	e.logger.Info().Str("workflow_id", r.id).Int("total_tasks", len(d.Subtasks)).
		Str("strategy", string(d.ExecutionStrategy)).Msg("Starting workflow execution")

	var err error
	switch d.ExecutionStrategy {
	case toolweave.StrategyParallel:
		e.runParallel(ctx, r)
	case toolweave.StrategyHybrid:
		exec.Degraded, err = e.runHybrid(ctx, r)
	default:
		exec.Degraded, err = e.runSequential(ctx, r)
	}

	exec.Results = r.results
	exec.Success = err == nil && len(r.results) == len(d.Subtasks) && allSucceeded(r.results)
	if err == nil && ctx.Err() != nil {
		err = toolweave.NewCancelledError("execution", ctx.Err())
	}
	exec.Err = err
	exec.TotalTimeMs = time.Since(start).Milliseconds()

	hitRate := 0.0
	if e.cache != nil {
		hitRate = e.cache.GlobalHitRate()
	}
	exec.Metrics = summarize(r.results, hitRate)
	e.metrics.recordWorkflow(exec.Degraded)

	switch {
	case exec.Success:
		_ = r.wf.Transition(toolweave.WorkflowCompleted)
	case toolweave.CodeOf(err) == toolweave.ErrCodeCancelled:
		_ = r.wf.Transition(toolweave.WorkflowCancelled)
	default:
		taskID, msg := failureInfo(r.results, err)
		r.wf.Fail(taskID, msg)
	}

	e.logger.Info().Str("workflow_id", r.id).Bool("success", exec.Success).
		Int("tools_executed", exec.Metrics.ToolsExecuted).Int("failed", exec.Metrics.FailedExecutions).
		Int("total_retries", exec.Metrics.TotalRetries).Int64("total_ms", exec.TotalTimeMs).
		Msg("Workflow execution finished")
	return exec, err
}

func checkTasks(d *toolweave.TaskDecomposition) error {
	if d == nil || len(d.Subtasks) == 0 {
		return toolweave.NewDecompositionError("nothing to execute", nil)
	}
	seen := make(map[string]bool, len(d.Subtasks))
	for i, t := range d.Subtasks {
		if t.ID == "" {
			return toolweave.NewDecompositionError(fmt.Sprintf("subtask %d has no id", i), nil)
		}
		if seen[t.ID] {
			return toolweave.NewDecompositionError(fmt.Sprintf("duplicate subtask id '%s'", t.ID), nil)
		}
		seen[t.ID] = true
	}
	return nil
}

func allSucceeded(outcomes []toolweave.TaskOutcome) bool {
	for _, o := range outcomes {
		if o.Result == nil || !o.Result.Success {
			return false
		}
	}
	return true
}

func failureInfo(outcomes []toolweave.TaskOutcome, err error) (string, string) {
	for _, o := range outcomes {
		if o.Result != nil && !o.Result.Success {
			return o.TaskID, o.Result.Error
		}
	}
	if err != nil {
		return "", err.Error()
	}
	return "", "workflow did not complete"
}

// dependencyProblem logs a cycle or missing dependency and, in strict mode,
// turns it into an error.
func (e *DAGExecutor) dependencyProblem(r *run, blocked []*toolweave.SubTask) error {
	ids := make([]string, len(blocked))
	for i, t := range blocked {
		ids[i] = t.ID
	}
	if e.strict {
		detail := fmt.Sprintf("subtasks %v can never become ready", ids)
		if cycle := planner.FindCycle(r.d.Subtasks); cycle != nil {
			detail = fmt.Sprintf("dependency cycle %v", cycle)
		}
		return toolweave.NewSchedulingError(detail, nil)
	}
	e.logger.Warn().Str("workflow_id", r.id).Strs("task_ids", ids).
		Msg("Dependency cycle or missing dependency detected, executing remaining tasks unordered")
	return nil
}

// runSequential executes tasks one at a time in dependency order and stops
// at the first failure.
func (e *DAGExecutor) runSequential(ctx context.Context, r *run) (bool, error) {
	ordered, blocked := topoOrder(r.d.Subtasks)
	degraded := len(blocked) > 0
	if degraded {
		if err := e.dependencyProblem(r, blocked); err != nil {
			return false, err
		}
		ordered = append(ordered, blocked...)
	}

	for _, task := range ordered {
		if err := ctx.Err(); err != nil {
			return degraded, toolweave.NewCancelledError("execution", err)
		}
		result, err := e.executeTask(ctx, r, task)
		r.results = append(r.results, toolweave.TaskOutcome{TaskID: task.ID, ToolName: task.ToolName, Result: result})
		if !result.Success {
			if err == nil {
				err = toolweave.NewToolExecutionError("execution", task.ToolName, errors.New(result.Error))
			}
			e.logger.Error().Str("workflow_id", r.id).Str("task_id", task.ID).Str("tool", task.ToolName).
				Err(err).Msg("Task failed, stopping sequential workflow")
			return degraded, err
		}
	}
	return degraded, nil
}

// runParallel executes every task concurrently on a bounded pool. Failures
// never cancel siblings; results keep submission order.
func (e *DAGExecutor) runParallel(ctx context.Context, r *run) {
	if r.d.HasDependencies() {
		e.logger.Warn().Str("workflow_id", r.id).Msg("Parallel workflow declares dependencies; they are not awaited")
	}

	outcomes := make([]toolweave.TaskOutcome, len(r.d.Subtasks))
	p := pool.New().WithMaxGoroutines(e.maxParallel)
	for i := range r.d.Subtasks {
		task := &r.d.Subtasks[i]
		p.Go(func() {
			result, _ := e.executeTask(ctx, r, task)
			outcomes[i] = toolweave.TaskOutcome{TaskID: task.ID, ToolName: task.ToolName, Result: result}
		})
	}
	p.Wait()
	r.results = outcomes
}

// runHybrid executes dependency waves one after another, each wave in
// parallel, and stops after a wave that had a failure.
func (e *DAGExecutor) runHybrid(ctx context.Context, r *run) (bool, error) {
	waves, blocked := planner.Waves(r.d.Subtasks)
	degraded := len(blocked) > 0
	if degraded {
		tasks := make([]*toolweave.SubTask, len(blocked))
		for i, id := range blocked {
			tasks[i], _ = r.d.Task(id)
		}
		if err := e.dependencyProblem(r, tasks); err != nil {
			return false, err
		}
		waves = append(waves, blocked)
	}

	for n, wave := range waves {
		if err := ctx.Err(); err != nil {
			return degraded, toolweave.NewCancelledError("execution", err)
		}

		outcomes := make([]toolweave.TaskOutcome, len(wave))
		errs := make([]error, len(wave))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.maxParallel)
		for i, id := range wave {
			task, _ := r.d.Task(id)
			g.Go(func() error {
				result, err := e.executeTask(gctx, r, task)
				outcomes[i] = toolweave.TaskOutcome{TaskID: task.ID, ToolName: task.ToolName, Result: result}
				errs[i] = err
				if toolweave.CodeOf(err) == toolweave.ErrCodeCancelled {
					return err
				}
				return nil
			})
		}
		waitErr := g.Wait()
		r.results = append(r.results, outcomes...)

		if waitErr != nil {
			return degraded, waitErr
		}
		for i, o := range outcomes {
			if o.Result.Success {
				continue
			}
			err := errs[i]
			if err == nil {
				err = toolweave.NewToolExecutionError("execution", o.ToolName, errors.New(o.Result.Error))
			}
			e.logger.Error().Str("workflow_id", r.id).Int("wave", n).Str("task_id", o.TaskID).
				Err(err).Msg("Wave had failures, stopping hybrid workflow")
			return degraded, err
		}
	}
	return degraded, nil
}

// executeTask resolves parameters and runs one subtask through the cache and
// the selector. The result is never nil.
func (e *DAGExecutor) executeTask(ctx context.Context, r *run, task *toolweave.SubTask) (*toolweave.ToolExecutionResult, error) {
	r.wf.SetCurrentTask(task.ID)
	e.notify(TaskEvent{Kind: TaskStarted, WorkflowID: r.id, TaskID: task.ID, ToolName: task.ToolName})
	e.logger.Debug().Str("workflow_id", r.id).Str("task_id", task.ID).Str("tool", task.ToolName).Msg("Starting task execution")

	result, err := e.invoke(ctx, r, task)

	r.wf.Complete(task.ID, result)
	e.metrics.recordTask(result)
	if e.learning && r.d.Intent != nil {
		e.selector.RecordOutcome(r.d.Intent.Action, task.ToolName, result.Success)
	}

	kind := TaskCompleted
	if !result.Success {
		kind = TaskFailed
		e.logger.Warn().Str("workflow_id", r.id).Str("task_id", task.ID).Str("tool", task.ToolName).
			Int("retry_count", result.RetryCount).Str("error", result.Error).Msg("Task execution failed")
	} else {
		e.logger.Debug().Str("workflow_id", r.id).Str("task_id", task.ID).Str("tool", task.ToolName).
			Bool("from_cache", result.FromCache).Int64("duration_ms", result.ExecutionTimeMs).
			Msg("Task execution completed successfully")
	}
	e.notify(TaskEvent{Kind: kind, WorkflowID: r.id, TaskID: task.ID, ToolName: task.ToolName, Result: result, Err: err})
	return result, err
}

func (e *DAGExecutor) invoke(ctx context.Context, r *run, task *toolweave.SubTask) (*toolweave.ToolExecutionResult, error) {
	params, err := e.resolveParams(r.wf, task.Parameters)
	if err != nil {
		err = toolweave.NewInvalidParamsError("execution", task.ToolName, err)
		return &toolweave.ToolExecutionResult{Success: false, Error: err.Error()}, err
	}

	if e.cache == nil {
		return e.selector.ExecuteTool(ctx, task.ToolName, params)
	}

	tier := toolweave.TierAnalysis
	if meta, ok := e.registry.GetMetadata(task.ToolName); ok {
		tier = toolweave.TierForCategory(meta.Category)
	}
	key := task.ToolName + "?" + params.Canonical()

	var execErr error
	start := time.Now()
	v, source, err := e.cache.GetCachedOrExecute(ctx, tier, key, func(ctx context.Context) (any, error) {
		res, err := e.selector.ExecuteTool(ctx, task.ToolName, params)
		execErr = err
		return res, nil
	}, params)
	if err != nil {
		if ctx.Err() != nil {
			err = toolweave.NewCancelledError("execution", ctx.Err())
			return &toolweave.ToolExecutionResult{Success: false, Error: err.Error()}, err
		}
		e.logger.Warn().Err(err).Str("tier", tier).Str("tool", task.ToolName).Msg("Cache unavailable, invoking tool directly")
		return e.selector.ExecuteTool(ctx, task.ToolName, params)
	}

	result, ok := v.(*toolweave.ToolExecutionResult)
	if !ok || result == nil {
		err := toolweave.NewInternalError("execution", fmt.Sprintf("cache returned %T for tool '%s'", v, task.ToolName), nil)
		return &toolweave.ToolExecutionResult{Success: false, Error: err.Error()}, err
	}

	// The tier owns the stored result; callers always get their own copy.
	result = result.Clone()
	if source == cache.SourceHit {
		result.FromCache = true
		result.RetryCount = 0
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
	}
	return result, execErr
}

func (e *DAGExecutor) notify(ev TaskEvent) {
	if e.observer != nil {
		e.observer(ev)
	}
}
