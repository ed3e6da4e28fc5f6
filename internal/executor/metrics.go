package executor

import (
	"sync"
	"time"

	"github.com/ZanzyTHEbar/toolweave"
)

// ExecutorMetrics is a snapshot of lifetime statistics across workflow runs.
type ExecutorMetrics struct {
	Workflows        int           `json:"workflows"`
	DegradedRuns     int           `json:"degradedRuns"`
	TasksExecuted    int           `json:"tasksExecuted"`
	TasksSuccessful  int           `json:"tasksSuccessful"`
	TasksFailed      int           `json:"tasksFailed"`
	CacheHits        int           `json:"cacheHits"`
	TotalDuration    time.Duration `json:"totalDuration"`
	LongestTaskTime  time.Duration `json:"longestTaskTime"`
	ShortestTaskTime time.Duration `json:"shortestTaskTime"`
	TotalRetries     int           `json:"totalRetries"`
}

// metricsRecorder accumulates ExecutorMetrics from concurrent tasks.
type metricsRecorder struct {
	mu sync.Mutex
	m  ExecutorMetrics
}

func (r *metricsRecorder) snapshot() ExecutorMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m
}

func (r *metricsRecorder) recordTask(result *toolweave.ToolExecutionResult) {
	duration := time.Duration(result.ExecutionTimeMs) * time.Millisecond

	r.mu.Lock()
	defer r.mu.Unlock()

	m := &r.m
	m.TasksExecuted++
	m.TotalDuration += duration
	m.TotalRetries += result.RetryCount
	if result.FromCache {
		m.CacheHits++
	}
	if duration > m.LongestTaskTime {
		m.LongestTaskTime = duration
	}
	if duration > 0 && (m.ShortestTaskTime == 0 || duration < m.ShortestTaskTime) {
		m.ShortestTaskTime = duration
	}
	if result.Success {
		m.TasksSuccessful++
	} else {
		m.TasksFailed++
	}
}

func (r *metricsRecorder) recordWorkflow(degraded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m.Workflows++
	if degraded {
		r.m.DegradedRuns++
	}
}

// summarize builds the per-run metrics. cacheHitRate is the lifetime rate of
// the cache engine, not of this run.
func summarize(outcomes []toolweave.TaskOutcome, cacheHitRate float64) toolweave.WorkflowMetrics {
	m := toolweave.WorkflowMetrics{CacheHitRate: cacheHitRate}
	var total int64
	for _, o := range outcomes {
		if o.Result == nil {
			continue
		}
		m.ToolsExecuted++
		total += o.Result.ExecutionTimeMs
		m.TotalRetries += o.Result.RetryCount
		if o.Result.Success {
			m.SuccessfulExecutions++
		} else {
			m.FailedExecutions++
		}
	}
	if m.ToolsExecuted > 0 {
		m.AverageExecutionTimeMs = float64(total) / float64(m.ToolsExecuted)
	}
	return m
}
