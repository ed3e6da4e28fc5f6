package toolweave

import (
	"fmt"
	"sync"
	"time"
)

// Action is the high-level verb extracted from a request.
type Action string

const (
	ActionSearch   Action = "search"
	ActionFind     Action = "find"
	ActionAnalyze  Action = "analyze"
	ActionGenerate Action = "generate"
	ActionCompare  Action = "compare"
	ActionList     Action = "list"
)

// Family collapses find/list into the search family.
func (a Action) Family() Action {
	switch a {
	case ActionFind, ActionList:
		return ActionSearch
	default:
		return a
	}
}

// Intent is produced once per request and never mutated afterwards.
type Intent struct {
	Action     Action   `json:"action"`
	Target     string   `json:"target"`
	Type       string   `json:"type"`
	Filters    Params   `json:"filters,omitempty"`
	Confidence float64  `json:"confidence"`
	Keywords   []string `json:"keywords,omitempty"`
}

// UnknownTarget is used when no identifier could be extracted.
const UnknownTarget = "unknown"

// HasKeyword reports whether kw was extracted from the request.
func (i *Intent) HasKeyword(kw string) bool {
	for _, k := range i.Keywords {
		if k == kw {
			return true
		}
	}
	return false
}

// SubTask is one tool invocation within a decomposition.
type SubTask struct {
	ID           string   `json:"id" yaml:"id"`
	ToolName     string   `json:"toolName" yaml:"tool"`
	Parameters   Params   `json:"parameters" yaml:"-"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"depends_on"`
	// Priority orders ready tasks; lower runs first.
	Priority    int    `json:"priority" yaml:"priority"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// ExecutionStrategy selects how a decomposition is scheduled.
type ExecutionStrategy string

const (
	StrategySequential ExecutionStrategy = "sequential"
	StrategyParallel   ExecutionStrategy = "parallel"
	StrategyHybrid     ExecutionStrategy = "hybrid"
)

// TaskDecomposition is the subtask graph derived from one request.
type TaskDecomposition struct {
	OriginalRequest     string            `json:"originalRequest"`
	Intent              *Intent           `json:"intent,omitempty"`
	Subtasks            []SubTask         `json:"subtasks"`
	ExecutionStrategy   ExecutionStrategy `json:"executionStrategy"`
	EstimatedDurationMs int64             `json:"estimatedDurationMs"`
	Confidence          float64           `json:"confidence"`
	Explanation         string            `json:"explanation"`
}

// Task returns the subtask with the given id.
func (d *TaskDecomposition) Task(id string) (*SubTask, bool) {
	for i := range d.Subtasks {
		if d.Subtasks[i].ID == id {
			return &d.Subtasks[i], true
		}
	}
	return nil, false
}

// ToolNames lists tools in subtask order.
func (d *TaskDecomposition) ToolNames() []string {
	names := make([]string, len(d.Subtasks))
	for i, st := range d.Subtasks {
		names[i] = st.ToolName
	}
	return names
}

// HasDependencies reports whether any subtask declares a dependency.
func (d *TaskDecomposition) HasDependencies() bool {
	for _, st := range d.Subtasks {
		if len(st.Dependencies) > 0 {
			return true
		}
	}
	return false
}

// Item is one element of a tool's output.
type Item struct {
	Content  string `json:"content"`
	Metadata Params `json:"metadata,omitempty"`
}

// ToolExecutionResult is the outcome of invoking a tool.
type ToolExecutionResult struct {
	Success         bool   `json:"success"`
	Data            []Item `json:"data"`
	Metadata        Params `json:"metadata,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
	RetryCount      int    `json:"retryCount"`
	FromCache       bool   `json:"fromCache,omitempty"`
}

// Cacheable only admits successful results into the cache.
func (r *ToolExecutionResult) Cacheable() bool {
	return r != nil && r.Success
}

// SizeBytes estimates the memory held by the result.
func (r *ToolExecutionResult) SizeBytes() (int, error) {
	total := len(r.Error) + 32
	n, err := r.Metadata.Size()
	if err != nil {
		return 0, err
	}
	total += n
	for i, item := range r.Data {
		n, err := item.Metadata.Size()
		if err != nil {
			return 0, fmt.Errorf("item %d: %w", i, err)
		}
		total += len(item.Content) + n
	}
	return total, nil
}

// Clone copies the result so cached entries are never mutated by callers.
func (r *ToolExecutionResult) Clone() *ToolExecutionResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.Data != nil {
		out.Data = make([]Item, len(r.Data))
		for i, item := range r.Data {
			out.Data[i] = Item{Content: item.Content, Metadata: item.Metadata.DeepClone()}
		}
	}
	out.Metadata = r.Metadata.DeepClone()
	return &out
}

// Field looks up a field in the result metadata, falling back to the first
// item's metadata.
func (r *ToolExecutionResult) Field(name string) (Value, bool) {
	if r == nil {
		return Null(), false
	}
	if v, ok := r.Metadata[name]; ok && !v.IsNull() {
		return v, true
	}
	if len(r.Data) > 0 {
		if v, ok := r.Data[0].Metadata[name]; ok && !v.IsNull() {
			return v, true
		}
	}
	return Null(), false
}

// WorkflowState is the lifecycle of one workflow run.
type WorkflowState string

const (
	WorkflowInitializing WorkflowState = "initializing"
	WorkflowExecuting    WorkflowState = "executing"
	WorkflowCompleted    WorkflowState = "completed"
	WorkflowFailed       WorkflowState = "failed"
	WorkflowCancelled    WorkflowState = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s WorkflowState) IsTerminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCancelled
}

var workflowTransitions = map[WorkflowState][]WorkflowState{
	WorkflowInitializing: {WorkflowExecuting, WorkflowFailed, WorkflowCancelled},
	WorkflowExecuting:    {WorkflowCompleted, WorkflowFailed, WorkflowCancelled},
}

// ErrorInfo records why a workflow failed.
type ErrorInfo struct {
	TaskID  string `json:"taskId,omitempty"`
	Message string `json:"message"`
}

// WorkflowContext is the mutable run-state of a single workflow execution.
type WorkflowContext struct {
	mu             sync.RWMutex
	state          WorkflowState
	completedTasks map[string]*ToolExecutionResult
	sharedData     Params
	startTime      time.Time
	currentTaskID  string
	errorInfo      *ErrorInfo
}

// NewWorkflowContext returns a context in the initializing state.
func NewWorkflowContext() *WorkflowContext {
	return &WorkflowContext{
		state:          WorkflowInitializing,
		completedTasks: make(map[string]*ToolExecutionResult),
		sharedData:     make(Params),
		startTime:      time.Now(),
	}
}

// State returns the current state.
func (w *WorkflowContext) State() WorkflowState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Transition moves to next, rejecting moves out of terminal states.
func (w *WorkflowContext) Transition(next WorkflowState) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, allowed := range workflowTransitions[w.state] {
		if allowed == next {
			w.state = next
			return nil
		}
	}
	return fmt.Errorf("invalid workflow transition %s -> %s", w.state, next)
}

// Fail records the failure and moves to the failed state when possible.
func (w *WorkflowContext) Fail(taskID, message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errorInfo = &ErrorInfo{TaskID: taskID, Message: message}
	if !w.state.IsTerminal() {
		w.state = WorkflowFailed
	}
}

// Complete records a task result.
func (w *WorkflowContext) Complete(taskID string, result *ToolExecutionResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.completedTasks[taskID] = result
}

// Result returns the recorded result of a completed task.
func (w *WorkflowContext) Result(taskID string) (*ToolExecutionResult, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r, ok := w.completedTasks[taskID]
	return r, ok
}

// IsCompleted reports whether taskID has a recorded result.
func (w *WorkflowContext) IsCompleted(taskID string) bool {
	_, ok := w.Result(taskID)
	return ok
}

// CompletedCount returns the number of recorded results.
func (w *WorkflowContext) CompletedCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.completedTasks)
}

// SetCurrentTask records the task being executed.
func (w *WorkflowContext) SetCurrentTask(taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentTaskID = taskID
}

// CurrentTask returns the last task that started.
func (w *WorkflowContext) CurrentTask() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.currentTaskID
}

// Share stores a value visible to later tasks.
func (w *WorkflowContext) Share(key string, v Value) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sharedData[key] = v
}

// Shared returns a shared value.
func (w *WorkflowContext) Shared(key string) (Value, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, ok := w.sharedData[key]
	return v, ok
}

// ErrorInfo returns the recorded failure, if any.
func (w *WorkflowContext) ErrorInfo() *ErrorInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.errorInfo
}

// StartTime returns when the context was created.
func (w *WorkflowContext) StartTime() time.Time { return w.startTime }

// Elapsed returns the time since the context was created.
func (w *WorkflowContext) Elapsed() time.Duration { return time.Since(w.startTime) }

// TaskOutcome pairs a subtask with its result.
type TaskOutcome struct {
	TaskID   string               `json:"taskId"`
	ToolName string               `json:"toolName"`
	Result   *ToolExecutionResult `json:"result"`
}

// WorkflowMetrics summarises a workflow run.
type WorkflowMetrics struct {
	ToolsExecuted          int     `json:"toolsExecuted"`
	SuccessfulExecutions   int     `json:"successfulExecutions"`
	FailedExecutions       int     `json:"failedExecutions"`
	AverageExecutionTimeMs float64 `json:"averageExecutionTimeMs"`
	CacheHitRate           float64 `json:"cacheHitRate"`
	TotalRetries           int     `json:"totalRetries"`
}

// WorkflowExecution is the result of executing a decomposition.
type WorkflowExecution struct {
	ID            string             `json:"id"`
	Decomposition *TaskDecomposition `json:"decomposition"`
	Context       *WorkflowContext   `json:"-"`
	Results       []TaskOutcome      `json:"results"`
	Success       bool               `json:"success"`
	// Degraded is set when a dependency cycle or missing dependency forced
	// unordered execution of the remaining tasks.
	Degraded    bool            `json:"degraded,omitempty"`
	TotalTimeMs int64           `json:"totalTimeMs"`
	Metrics     WorkflowMetrics `json:"metrics"`
	Err         error           `json:"-"`
}

// TotalRetries sums retries across all results.
func (w *WorkflowExecution) TotalRetries() int {
	total := 0
	for _, o := range w.Results {
		if o.Result != nil {
			total += o.Result.RetryCount
		}
	}
	return total
}

// Complexity ranks how expensive a tool is to run.
type Complexity int

const (
	ComplexitySimple   Complexity = 1
	ComplexityModerate Complexity = 2
	ComplexityComplex  Complexity = 3
)

func (c Complexity) String() string {
	switch c {
	case ComplexitySimple:
		return "simple"
	case ComplexityModerate:
		return "moderate"
	case ComplexityComplex:
		return "complex"
	default:
		return fmt.Sprintf("complexity(%d)", int(c))
	}
}

// ToolMetadata is what the registry reports for a tool.
type ToolMetadata struct {
	Category       string     `json:"category" yaml:"category"`
	Complexity     Complexity `json:"complexity" yaml:"complexity"`
	RequiredParams []string   `json:"requiredParams" yaml:"required_params"`
	OptionalParams []string   `json:"optionalParams" yaml:"optional_params"`
	// NominalCost is a human-readable cost estimate, e.g. "fast", "~1.5s".
	NominalCost string `json:"nominalCost" yaml:"cost"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// ToolPerformance holds observed execution characteristics.
type ToolPerformance struct {
	AvgExecTimeMs  float64 `json:"avgExecTimeMs"`
	MemoryEstimate string  `json:"memoryEstimate"`
	SuccessRate    float64 `json:"successRate"`
}

// ToolRelationships links a tool to others.
type ToolRelationships struct {
	Complementary []string `json:"complementary,omitempty"`
	Alternatives  []string `json:"alternatives,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty"`
	FollowUp      []string `json:"followUp,omitempty"`
	Conflicts     []string `json:"conflicts,omitempty"`
}

// ToolCapability is the derived description of a tool.
type ToolCapability struct {
	Name           string            `json:"name"`
	Category       string            `json:"category"`
	Complexity     Complexity        `json:"complexity"`
	RequiredParams []string          `json:"requiredParams"`
	OptionalParams []string          `json:"optionalParams"`
	ParamTypes     map[string]Kind   `json:"paramTypes,omitempty"`
	OutputShape    string            `json:"outputShape"`
	Performance    ToolPerformance   `json:"performance"`
	Relationships  ToolRelationships `json:"relationships"`
}

// AllParams returns required followed by optional parameter names.
func (c *ToolCapability) AllParams() []string {
	return append(append([]string(nil), c.RequiredParams...), c.OptionalParams...)
}

// CacheTierConfig configures one named cache tier.
type CacheTierConfig struct {
	MaxSizeBytes      int64         `json:"maxSizeBytes" yaml:"max_size_bytes" mapstructure:"max_size_bytes"`
	BaseTTL           time.Duration `json:"baseTtl" yaml:"base_ttl" mapstructure:"base_ttl"`
	MaxEntries        int           `json:"maxEntries" yaml:"max_entries" mapstructure:"max_entries"`
	HitRatioThreshold float64       `json:"hitRatioThreshold" yaml:"hit_ratio_threshold" mapstructure:"hit_ratio_threshold"`
	AdaptiveTTL       bool          `json:"adaptiveTtl" yaml:"adaptive_ttl" mapstructure:"adaptive_ttl"`
}

// LearningPattern accumulates execution statistics per (tier, key).
type LearningPattern struct {
	TotalExecutions        int64     `json:"totalExecutions"`
	AverageExecutionTimeMs float64   `json:"averageExecutionTimeMs"`
	ExecutionTimeVariance  float64   `json:"executionTimeVariance"`
	AccessCount            int64     `json:"accessCount"`
	LastAccessed           time.Time `json:"lastAccessed"`
	SampleContexts         []Params  `json:"sampleContexts,omitempty"`
}

// CorrelationType classifies a ResultCorrelation.
type CorrelationType string

const (
	CorrelationEntityRelationship CorrelationType = "entity_relationship"
	CorrelationSemanticSimilarity CorrelationType = "semantic_similarity"
	CorrelationDataOverlap        CorrelationType = "data_overlap"
	CorrelationContextualLink     CorrelationType = "contextual_link"
)

// ResultCorrelation is a relationship detected between two tool results.
type ResultCorrelation struct {
	ID              string          `json:"id"`
	CorrelationType CorrelationType `json:"correlationType"`
	Entities        []string        `json:"entities"`
	SourceTools     []string        `json:"sourceTools"`
	Strength        float64         `json:"strength"`
	Confidence      float64         `json:"confidence"`
	Description     string          `json:"description"`
	Evidence        []string        `json:"evidence,omitempty"`
}
