package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/toolweave"
)

// Waves groups subtasks into dependency levels: every task in wave n depends
// only on tasks in earlier waves. Tasks that can never become ready (because
// of a cycle or a missing dependency) are returned in blocked, in original order.
func Waves(tasks []toolweave.SubTask) (waves [][]string, blocked []string) {
	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		index[t.ID] = i
	}

	done := make(map[string]bool, len(tasks))
	remaining := make([]int, len(tasks))
	for i := range tasks {
		remaining[i] = i
	}

	for len(remaining) > 0 {
		var wave []string
		var next []int
		for _, i := range remaining {
			ready := true
			for _, dep := range tasks[i].Dependencies {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, tasks[i].ID)
			} else {
				next = append(next, i)
			}
		}
		if len(wave) == 0 {
			for _, i := range next {
				blocked = append(blocked, tasks[i].ID)
			}
			return waves, blocked
		}
		sort.SliceStable(wave, func(a, b int) bool {
			ta, tb := tasks[index[wave[a]]], tasks[index[wave[b]]]
			return ta.Priority < tb.Priority
		})
		for _, id := range wave {
			done[id] = true
		}
		waves = append(waves, wave)
		remaining = next
	}
	return waves, nil
}

// FindCycle returns the ids forming a dependency cycle, or nil.
func FindCycle(tasks []toolweave.SubTask) []string {
	byID := make(map[string]*toolweave.SubTask, len(tasks))
	for i := range tasks {
		byID[tasks[i].ID] = &tasks[i]
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(tasks))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case visiting:
			for i, s := range stack {
				if s == id {
					cycle = append(append([]string(nil), stack[i:]...), id)
					return true
				}
			}
			return true
		case visited:
			return false
		}
		state[id] = visiting
		stack = append(stack, id)
		if t, ok := byID[id]; ok {
			for _, dep := range t.Dependencies {
				if _, exists := byID[dep]; exists && visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = visited
		return false
	}

	for _, t := range tasks {
		if visit(t.ID) {
			return cycle
		}
	}
	return nil
}

// ancestors returns every task id id transitively depends on.
func ancestors(byID map[string]*toolweave.SubTask, id string) map[string]bool {
	out := make(map[string]bool)
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		t, ok := byID[cur]
		if !ok {
			continue
		}
		for _, dep := range t.Dependencies {
			if !out[dep] {
				out[dep] = true
				stack = append(stack, dep)
			}
		}
	}
	return out
}

// Validate checks that ids are unique, every dependency exists, every
// reference points at a task the referencing task depends on, and the graph
// is acyclic.
func Validate(d *toolweave.TaskDecomposition) error {
	if d == nil || len(d.Subtasks) == 0 {
		return toolweave.NewDecompositionError("decomposition has no subtasks", nil)
	}

	byID := make(map[string]*toolweave.SubTask, len(d.Subtasks))
	for i := range d.Subtasks {
		t := &d.Subtasks[i]
		if t.ID == "" {
			return toolweave.NewDecompositionError(fmt.Sprintf("subtask %d has no id", i), nil)
		}
		if t.ToolName == "" {
			return toolweave.NewDecompositionError(fmt.Sprintf("subtask '%s' has no tool", t.ID), nil)
		}
		if _, dup := byID[t.ID]; dup {
			return toolweave.NewDecompositionError(fmt.Sprintf("duplicate subtask id '%s'", t.ID), nil)
		}
		byID[t.ID] = t
	}

	for _, t := range d.Subtasks {
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; !ok {
				return toolweave.NewSchedulingError(fmt.Sprintf("subtask '%s' depends on missing subtask '%s'", t.ID, dep), nil)
			}
		}
	}

	if cycle := FindCycle(d.Subtasks); cycle != nil {
		return toolweave.NewSchedulingError("dependency cycle: "+strings.Join(cycle, " -> "), nil)
	}

	for _, t := range d.Subtasks {
		refs := t.Parameters.References()
		if len(refs) == 0 {
			continue
		}
		deps := ancestors(byID, t.ID)
		for _, ref := range refs {
			if _, ok := byID[ref.TaskID]; !ok || !deps[ref.TaskID] {
				return toolweave.NewUnresolvedReferenceError(t.ID, ref)
			}
		}
	}
	return nil
}

// AddImpliedDependencies makes every referenced task an explicit dependency.
func AddImpliedDependencies(tasks []toolweave.SubTask) {
	for i := range tasks {
		t := &tasks[i]
		for _, ref := range t.Parameters.References() {
			if ref.TaskID == t.ID || containsString(t.Dependencies, ref.TaskID) {
				continue
			}
			t.Dependencies = append(t.Dependencies, ref.TaskID)
		}
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ChooseStrategy is sequential when any subtask has dependencies, parallel
// when there are several independent subtasks, and sequential otherwise.
func ChooseStrategy(tasks []toolweave.SubTask) toolweave.ExecutionStrategy {
	for _, t := range tasks {
		if len(t.Dependencies) > 0 {
			return toolweave.StrategySequential
		}
	}
	if len(tasks) > 1 {
		return toolweave.StrategyParallel
	}
	return toolweave.StrategySequential
}

// EstimateDuration sums costs for sequential plans, takes the maximum for
// parallel plans, and sums per-wave maxima for hybrid plans.
func EstimateDuration(tasks []toolweave.SubTask, strategy toolweave.ExecutionStrategy, cost func(tool string) int64) int64 {
	switch strategy {
	case toolweave.StrategyParallel:
		var longest int64
		for _, t := range tasks {
			if c := cost(t.ToolName); c > longest {
				longest = c
			}
		}
		return longest
	case toolweave.StrategyHybrid:
		byID := make(map[string]string, len(tasks))
		for _, t := range tasks {
			byID[t.ID] = t.ToolName
		}
		waves, blocked := Waves(tasks)
		var total int64
		for _, wave := range waves {
			var longest int64
			for _, id := range wave {
				if c := cost(byID[id]); c > longest {
					longest = c
				}
			}
			total += longest
		}
		for _, id := range blocked {
			total += cost(byID[id])
		}
		return total
	default:
		var total int64
		for _, t := range tasks {
			total += cost(t.ToolName)
		}
		return total
	}
}
