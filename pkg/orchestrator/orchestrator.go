// Package orchestrator is the caller-facing API of the engine: it turns a
// request into a task decomposition, executes it against the registered
// tools through the cache and selector, and synthesizes the results.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Knetic/govaluate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/toolweave"
	"github.com/ZanzyTHEbar/toolweave/internal/cache"
	"github.com/ZanzyTHEbar/toolweave/internal/eventbus"
	"github.com/ZanzyTHEbar/toolweave/internal/executor"
	"github.com/ZanzyTHEbar/toolweave/internal/planner"
	"github.com/ZanzyTHEbar/toolweave/internal/selector"
	"github.com/ZanzyTHEbar/toolweave/internal/synthesis"
)

// Orchestrator owns one engine instance: its cache, learned statistics and
// background monitor live exactly as long as the Orchestrator.
type Orchestrator struct {
	config    toolweave.Config
	registry  toolweave.Registry
	invoker   toolweave.Invoker
	extractor toolweave.IntentExtractor

	decomposer  *planner.Decomposer
	selector    *selector.Selector
	executor    *executor.DAGExecutor
	cache       *cache.Engine
	synthesizer *synthesis.Synthesizer

	eventBus   eventbus.EventBus
	ownsBus    bool
	logger     zerolog.Logger
	registerer prometheus.Registerer
	functions  map[string]govaluate.ExpressionFunction

	stateMachine *StateMachine

	asyncExecutions      map[string]*ProcessContext
	asyncExecutionsMutex sync.RWMutex
	asyncWG              sync.WaitGroup

	closeOnce sync.Once
	closed    atomic.Bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig replaces the default configuration.
func WithConfig(config toolweave.Config) Option {
	return func(o *Orchestrator) {
		o.config = config
	}
}

// WithIntentExtractor replaces the pattern-based intent extractor.
func WithIntentExtractor(extractor toolweave.IntentExtractor) Option {
	return func(o *Orchestrator) {
		o.extractor = extractor
	}
}

// WithLogger sets the logger shared by all components.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithRegisterer registers the cache collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *Orchestrator) {
		o.registerer = reg
	}
}

// WithExpressionFunction makes fn available to expression parameters.
func WithExpressionFunction(name string, fn govaluate.ExpressionFunction) Option {
	return func(o *Orchestrator) {
		if o.functions == nil {
			o.functions = make(map[string]govaluate.ExpressionFunction)
		}
		o.functions[name] = fn
	}
}

// New creates an Orchestrator over the given tool boundary.
func New(registry toolweave.Registry, invoker toolweave.Invoker, options ...Option) (*Orchestrator, error) {
	if registry == nil || invoker == nil {
		return nil, toolweave.NewConfigurationError("registry and invoker are required", nil)
	}

	o := &Orchestrator{
		config:          toolweave.DefaultConfig(),
		registry:        registry,
		invoker:         invoker,
		logger:          zerolog.Nop(),
		asyncExecutions: make(map[string]*ProcessContext),
	}
	for _, option := range options {
		option(o)
	}
	cfg := o.config
	if cfg.MaxParallelTools <= 0 {
		return nil, toolweave.NewConfigurationError("max parallel tools must be positive", nil)
	}

	strategy, err := selector.ParseStrategy(cfg.SelectionStrategy)
	if err != nil {
		return nil, toolweave.NewConfigurationError("invalid selection strategy", err)
	}

	if cfg.EnableCaching {
		tiers := cfg.Tiers
		if len(tiers) == 0 {
			tiers = toolweave.DefaultTiers()
		}
		o.cache, err = cache.NewEngine(tiers,
			cache.WithLogger(o.logger),
			cache.WithLearning(cfg.EnableLearning),
			cache.WithRegisterer(o.registerer),
			cache.WithMemoryThreshold(cfg.MemoryThresholdPercent),
			cache.WithMonitorInterval(cfg.MonitorInterval),
			cache.WithBottleneckHandler(o.publishBottleneck),
		)
		if err != nil {
			return nil, err
		}
	}

	o.selector = selector.New(registry, invoker,
		selector.WithLogger(o.logger),
		selector.WithStrategy(strategy),
		selector.WithRetry(cfg.RetryAttempts, cfg.RetryBaseDelay),
		selector.WithTimeout(cfg.Timeout),
		selector.WithMaxParallel(cfg.MaxParallelTools),
		selector.WithLearning(cfg.EnableLearning),
	)

	o.decomposer = planner.NewDecomposer(
		planner.WithExtractor(o.extractor),
		planner.WithRegistry(registry),
		planner.WithMaxDepth(cfg.MaxWorkflowDepth),
		planner.WithConfidenceThreshold(cfg.ConfidenceThreshold),
		planner.WithLogger(o.logger),
	)

	execOpts := []executor.ExecutorOption{
		executor.WithMaxParallel(cfg.MaxParallelTools),
		executor.WithStrictDependencies(cfg.StrictDependencies),
		executor.WithLearning(cfg.EnableLearning),
		executor.WithObserver(o.publishTask),
		executor.WithLogger(o.logger),
	}
	if o.cache != nil {
		execOpts = append(execOpts, executor.WithCache(o.cache))
	}
	for name, fn := range o.functions {
		execOpts = append(execOpts, executor.WithExpressionFunction(name, fn))
	}
	o.executor = executor.NewExecutor(registry, o.selector, execOpts...)

	o.synthesizer, err = synthesis.New(
		synthesis.WithCacheSize(cfg.ResponseCacheSize),
		synthesis.WithQuickThreshold(cfg.QuickWorkflowThreshold),
		synthesis.WithConfidenceThreshold(cfg.ConfidenceThreshold),
		synthesis.WithLogger(o.logger),
	)
	if err != nil {
		return nil, toolweave.NewConfigurationError("failed to create synthesizer", err)
	}

	if o.eventBus == nil && cfg.EnableEventBus {
		o.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(cfg.EventBusBufferSize),
			eventbus.WithWorkerCount(cfg.EventBusWorkerCount),
			eventbus.WithLogger(o.logger),
		)
		o.ownsBus = true
	}

	o.logger = o.logger.With().Str("component", "orchestrator").Logger()
	o.stateMachine = o.createStateMachine()
	return o, nil
}

// Start launches the cache's background monitor. It returns immediately.
func (o *Orchestrator) Start(ctx context.Context) {
	if o.cache != nil {
		o.cache.Start(ctx)
	}
}

// Close stops the monitor, waits for async runs to finish and closes an
// event bus the Orchestrator created itself.
func (o *Orchestrator) Close() error {
	var err error
	o.closeOnce.Do(func() {
		o.closed.Store(true)
		if o.cache != nil {
			o.cache.Stop()
		}
		o.asyncExecutionsMutex.RLock()
		for _, pCtx := range o.asyncExecutions {
			if pCtx.cancel != nil {
				pCtx.cancel()
			}
		}
		o.asyncExecutionsMutex.RUnlock()
		o.asyncWG.Wait()
		if o.ownsBus && o.eventBus != nil {
			err = o.eventBus.Close()
		}
	})
	return err
}

// EventBus returns the bus events are published on, or nil.
func (o *Orchestrator) EventBus() eventbus.EventBus {
	return o.eventBus
}

// Cache returns the cache engine, or nil when caching is disabled.
func (o *Orchestrator) Cache() *cache.Engine {
	return o.cache
}

// Selector returns the tool selector.
func (o *Orchestrator) Selector() *selector.Selector {
	return o.selector
}

// Tools lists the registered tool names.
func (o *Orchestrator) Tools() []string {
	return o.registry.ListToolNames()
}

// Decompose turns request into a validated task decomposition.
func (o *Orchestrator) Decompose(ctx context.Context, request string) (*toolweave.TaskDecomposition, error) {
	o.publish(ctx, eventbus.EventDecompositionStarted, request, nil)

	d, err := o.decomposer.Decompose(ctx, request)
	if err != nil {
		o.publish(ctx, eventbus.EventDecompositionFailure, request, map[string]any{"error": err.Error()})
		return nil, err
	}

	o.publish(ctx, eventbus.EventDecompositionSuccess, d, map[string]any{
		"task_count": len(d.Subtasks),
		"strategy":   string(d.ExecutionStrategy),
	})
	return d, nil
}

// Execute runs a decomposition. Sequential and hybrid runs that stop at a
// failure return the partial execution together with the error; parallel runs
// report failures through the execution's Success flag.
func (o *Orchestrator) Execute(ctx context.Context, d *toolweave.TaskDecomposition) (*toolweave.WorkflowExecution, error) {
	if d != nil {
		o.publish(ctx, eventbus.EventWorkflowStarted, d, map[string]any{
			"task_count": len(d.Subtasks),
			"strategy":   string(d.ExecutionStrategy),
		})
	}

	exec, err := o.executor.Execute(ctx, d)
	if exec == nil {
		o.publish(ctx, eventbus.EventWorkflowFailure, workflowPayload(d, nil, err), nil)
		return nil, err
	}

	payload := workflowPayload(d, exec, err)
	if exec.Degraded {
		o.publish(ctx, eventbus.EventWorkflowDegraded, payload, nil)
	}
	if exec.Success {
		o.publish(ctx, eventbus.EventWorkflowSuccess, payload, nil)
	} else {
		o.publish(ctx, eventbus.EventWorkflowFailure, payload, nil)
	}
	return exec, err
}

// ExecutePlan loads a YAML plan file and executes it.
func (o *Orchestrator) ExecutePlan(ctx context.Context, path string) (*toolweave.WorkflowExecution, error) {
	d, err := executor.LoadPlanFile(path, o.executor.Functions())
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, d)
}

// Synthesize merges tool results into a report. It never fails: malformed
// input yields a failure-shaped report.
func (o *Orchestrator) Synthesize(results []*toolweave.ToolExecutionResult, toolNames []string, request string) *synthesis.Report {
	o.publish(context.Background(), eventbus.EventSynthesisStarted, request, map[string]any{"result_count": len(results)})
	report := o.synthesizer.Synthesize(results, toolNames, request)
	o.publishReport(report)
	return report
}

// SynthesizeWorkflow builds the report for a finished workflow execution.
func (o *Orchestrator) SynthesizeWorkflow(exec *toolweave.WorkflowExecution) *synthesis.Report {
	request := ""
	if exec != nil && exec.Decomposition != nil {
		request = exec.Decomposition.OriginalRequest
	}
	o.publish(context.Background(), eventbus.EventSynthesisStarted, request, nil)
	report := o.synthesizer.SynthesizeWorkflow(exec)
	o.publishReport(report)
	return report
}

func (o *Orchestrator) publishReport(report *synthesis.Report) {
	eventType := eventbus.EventSynthesisSuccess
	if !report.Success {
		eventType = eventbus.EventSynthesisFailure
	}
	o.publish(context.Background(), eventType, report, map[string]any{
		"quality": report.Quality,
		"issues":  len(report.Issues),
	})
}

// Process runs the full pipeline for request: decomposition, execution and
// synthesis. A workflow that ran but failed still produces a report; the
// error is set only when no report could be built or the run was cancelled.
func (o *Orchestrator) Process(ctx context.Context, request string) (*synthesis.Report, error) {
	pCtx := NewProcessContext(request)
	return o.run(ctx, "", pCtx)
}

func (o *Orchestrator) run(ctx context.Context, executionID string, pCtx *ProcessContext) (*synthesis.Report, error) {
	report, err := o.stateMachine.Execute(ctx, pCtx)

	meta := map[string]any{"duration_ms": pCtx.GetTotalDuration().Milliseconds()}
	if executionID != "" {
		meta["execution_id"] = executionID
	}
	switch pCtx.State() {
	case StateComplete:
		if report != nil && report.Success {
			o.publish(context.Background(), eventbus.EventRequestSuccess, pCtx.Request, meta)
		} else {
			o.publish(context.Background(), eventbus.EventRequestFailure, pCtx.Request, meta)
		}
	case StateCancelled:
		o.publish(context.Background(), eventbus.EventRequestCancelled, pCtx.Request, meta)
	default:
		if err != nil {
			meta["error"] = err.Error()
		}
		meta["stage"] = pCtx.ErrorStage
		o.publish(context.Background(), eventbus.EventRequestFailure, pCtx.Request, meta)
	}

	if err != nil {
		o.logger.Warn().Err(err).Str("request", pCtx.Request).Str("state", string(pCtx.State())).Msg("Request processing failed")
	}
	return report, err
}

// Metrics is a summary of the engine's lifetime statistics.
type Metrics struct {
	Executor     executor.ExecutorMetrics             `json:"executor"`
	Cache        *cache.Stats                         `json:"cache,omitempty"`
	Monitor      *cache.MonitorReport                 `json:"monitor,omitempty"`
	Tools        map[string]toolweave.ToolPerformance `json:"tools"`
	AsyncRunning int                                  `json:"asyncRunning"`
}

// Metrics returns current statistics.
func (o *Orchestrator) Metrics() Metrics {
	m := Metrics{
		Executor: o.executor.GetMetrics(),
		Tools:    make(map[string]toolweave.ToolPerformance),
	}
	if o.cache != nil {
		stats := o.cache.Stats()
		m.Cache = &stats
		m.Monitor = o.cache.LastReport()
	}
	for _, name := range o.registry.ListToolNames() {
		if perf, ok := o.selector.Performance(name); ok {
			m.Tools[name] = perf
		}
	}
	o.asyncExecutionsMutex.RLock()
	for _, pCtx := range o.asyncExecutions {
		if !pCtx.IsTerminal() {
			m.AsyncRunning++
		}
	}
	o.asyncExecutionsMutex.RUnlock()
	return m
}

func (o *Orchestrator) publish(ctx context.Context, eventType eventbus.EventType, payload any, metadata map[string]any) {
	if o.eventBus == nil {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := o.eventBus.Publish(ctx, eventbus.NewEvent(eventType, payload, "Orchestrator", metadata)); err != nil {
		o.logger.Debug().Err(err).Str("event", string(eventType)).Msg("Failed to publish event")
	}
}

func (o *Orchestrator) publishTask(evt executor.TaskEvent) {
	var eventType eventbus.EventType
	switch evt.Kind {
	case executor.TaskStarted:
		eventType = eventbus.EventSubtaskStarted
	case executor.TaskCompleted:
		eventType = eventbus.EventSubtaskSuccess
	default:
		eventType = eventbus.EventSubtaskFailure
	}

	payload := eventbus.SubtaskPayload{WorkflowID: evt.WorkflowID, TaskID: evt.TaskID, ToolName: evt.ToolName}
	if r := evt.Result; r != nil {
		payload.Success = r.Success
		payload.FromCache = r.FromCache
		payload.RetryCount = r.RetryCount
		payload.DurationMs = r.ExecutionTimeMs
		payload.Error = r.Error
	}
	if evt.Err != nil && payload.Error == "" {
		payload.Error = evt.Err.Error()
	}
	o.publish(context.Background(), eventType, payload, nil)
}

func (o *Orchestrator) publishBottleneck(b cache.Bottleneck) {
	o.logger.Warn().Str("kind", string(b.Kind)).Str("tier", b.Tier).Float64("value", b.Value).
		Float64("limit", b.Limit).Msg(b.Message)
	o.publish(context.Background(), eventbus.EventCacheBottleneck, eventbus.BottleneckPayload{
		Kind:     string(b.Kind),
		Tier:     b.Tier,
		Value:    b.Value,
		Limit:    b.Limit,
		Message:  b.Message,
		Detected: b.Detected,
	}, nil)
}

func workflowPayload(d *toolweave.TaskDecomposition, exec *toolweave.WorkflowExecution, err error) eventbus.WorkflowPayload {
	p := eventbus.WorkflowPayload{}
	if d != nil {
		p.Request = d.OriginalRequest
		p.Strategy = string(d.ExecutionStrategy)
		p.Tasks = len(d.Subtasks)
	}
	if exec != nil {
		p.WorkflowID = exec.ID
		p.Success = exec.Success
		p.Degraded = exec.Degraded
		p.DurationMs = exec.TotalTimeMs
	}
	if err != nil {
		p.Error = err.Error()
	}
	return p
}

// String describes the configuration for logs.
func (o *Orchestrator) String() string {
	return fmt.Sprintf("orchestrator(tools=%d, caching=%t, learning=%t, strategy=%s)",
		len(o.registry.ListToolNames()), o.cache != nil, o.config.EnableLearning, o.config.SelectionStrategy)
}
