package executor

import (
	"container/heap"

	"github.com/ZanzyTHEbar/toolweave"
)

// taskNode is a ready subtask waiting in the priority queue.
type taskNode struct {
	task     *toolweave.SubTask
	priority int // lower value runs first
	order    int // submission order, breaks priority ties
	index    int // index in the heap
}

// priorityQueue is a min-heap of ready subtasks.
type priorityQueue []*taskNode

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority < pq[j].priority
	}
	return pq[i].order < pq[j].order
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	node := x.(*taskNode)
	node.index = len(*pq)
	*pq = append(*pq, node)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	node := old[n-1]
	old[n-1] = nil
	node.index = -1
	*pq = old[:n-1]
	return node
}

// topoOrder orders subtasks so each runs after its dependencies, choosing
// among ready tasks by priority then submission order. Tasks that can never
// become ready (cycle or missing dependency) are returned separately in
// submission order.
func topoOrder(tasks []toolweave.SubTask) (ordered, blocked []*toolweave.SubTask) {
	pending := make([]int, len(tasks))
	dependents := make(map[string][]int, len(tasks))
	for i, t := range tasks {
		for _, dep := range t.Dependencies {
			pending[i]++
			dependents[dep] = append(dependents[dep], i)
		}
	}

	pq := make(priorityQueue, 0, len(tasks))
	heap.Init(&pq)
	for i := range tasks {
		if pending[i] == 0 {
			heap.Push(&pq, &taskNode{task: &tasks[i], priority: tasks[i].Priority, order: i})
		}
	}

	done := make([]bool, len(tasks))
	for pq.Len() > 0 {
		node := heap.Pop(&pq).(*taskNode)
		done[node.order] = true
		ordered = append(ordered, node.task)
		for _, i := range dependents[node.task.ID] {
			pending[i]--
			if pending[i] == 0 {
				heap.Push(&pq, &taskNode{task: &tasks[i], priority: tasks[i].Priority, order: i})
			}
		}
	}

	for i := range tasks {
		if !done[i] {
			blocked = append(blocked, &tasks[i])
		}
	}
	return ordered, blocked
}
