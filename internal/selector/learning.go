package selector

import (
	"sync"
	"time"

	"github.com/ZanzyTHEbar/toolweave"
)

type toolCounters struct {
	executions int64
	successes  int64
	avgTimeMs  float64
}

// learningStats holds per-tool execution counters and, per action family,
// how often each tool produced a successful outcome.
type learningStats struct {
	mu         sync.RWMutex
	tools      map[string]*toolCounters
	prefs      map[toolweave.Action]map[string]int64
	prefTotals map[toolweave.Action]int64
}

func newLearningStats() *learningStats {
	return &learningStats{
		tools:      make(map[string]*toolCounters),
		prefs:      make(map[toolweave.Action]map[string]int64),
		prefTotals: make(map[toolweave.Action]int64),
	}
}

func (l *learningStats) recordExecution(tool string, success bool, elapsed time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.tools[tool]
	if !ok {
		c = &toolCounters{}
		l.tools[tool] = c
	}
	c.executions++
	if success {
		c.successes++
	}
	ms := float64(elapsed) / float64(time.Millisecond)
	c.avgTimeMs += (ms - c.avgTimeMs) / float64(c.executions)
}

func (l *learningStats) recordPreference(action toolweave.Action, tool string, success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prefTotals[action]++
	if !success {
		return
	}
	row, ok := l.prefs[action]
	if !ok {
		row = make(map[string]int64)
		l.prefs[action] = row
	}
	row[tool]++
}

func (l *learningStats) performance(tool string) (toolweave.ToolPerformance, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.tools[tool]
	if !ok || c.executions == 0 {
		return toolweave.ToolPerformance{}, false
	}
	return toolweave.ToolPerformance{
		AvgExecTimeMs: c.avgTimeMs,
		SuccessRate:   float64(c.successes) / float64(c.executions),
	}, true
}

func (l *learningStats) preference(action toolweave.Action, tool string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := l.prefTotals[action]
	if total == 0 {
		return 0
	}
	return float64(l.prefs[action][tool]) / float64(total)
}

// RecordOutcome feeds the result of running tool for an intent with the
// given action back into selection. It is a no-op when learning is disabled.
func (s *Selector) RecordOutcome(action toolweave.Action, tool string, success bool) {
	if !s.learning {
		return
	}
	s.stats.recordPreference(action.Family(), tool, success)
}

// Performance returns the learned performance of a tool, if it has run.
func (s *Selector) Performance(tool string) (toolweave.ToolPerformance, bool) {
	return s.stats.performance(tool)
}
