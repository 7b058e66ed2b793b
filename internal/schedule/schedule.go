// Package schedule chooses the emission order of bound tasks.
//
// The order is a topological sort of the dependency graph. Among ready tasks
// the smallest task id is preferred whose predecessor on the same physical
// queue, in program order, has already been emitted; if no ready task
// satisfies that, the smallest ready id is taken. The result is deterministic
// and every queue receives its tasks after all their dependencies.
package schedule

import (
	"container/heap"
	"fmt"

	berr "github.com/nem-lang/nembind/internal/errors"
	"github.com/nem-lang/nembind/internal/graph"
)

// Order is the emission order with per-queue sequence numbers assigned.
type Order struct {
	Tasks  []*graph.Task
	Queues map[graph.QueueKey][]*graph.Task
}

// Len returns the number of emitted tasks.
func (o *Order) Len() int { return len(o.Tasks) }

// Emit orders g. Every task must be bound.
func Emit(g *graph.Graph) (*Order, error) {
	n := len(g.Tasks)
	indeg := make([]int, n)
	emitted := make([]bool, n)
	queuePrev := make([]int, n)
	lastOnQueue := make(map[graph.QueueKey]int)

	for _, t := range g.Tasks {
		if !t.Bound {
			return nil, fmt.Errorf("schedule: task %s is not bound", t.Label())
		}

		indeg[t.ID] = len(g.Preds(t.ID))

		q := t.Queue()
		if prev, ok := lastOnQueue[q]; ok {
			queuePrev[t.ID] = prev
		} else {
			queuePrev[t.ID] = -1
		}

		lastOnQueue[q] = t.ID
	}

	ready := &idHeap{}

	for id := 0; id < n; id++ {
		if indeg[id] == 0 {
			heap.Push(ready, id)
		}
	}

	order := &Order{Queues: make(map[graph.QueueKey][]*graph.Task)}

	for ready.Len() > 0 {
		id := ready.take(func(id int) bool {
			p := queuePrev[id]
			return p < 0 || emitted[p]
		})

		t := g.Tasks[id]
		emitted[id] = true
		t.Position = len(order.Tasks)

		q := t.Queue()
		t.Seq = len(order.Queues[q])
		order.Queues[q] = append(order.Queues[q], t)
		order.Tasks = append(order.Tasks, t)

		for _, s := range g.Succs(id) {
			indeg[s]--
			if indeg[s] == 0 {
				heap.Push(ready, s)
			}
		}
	}

	if len(order.Tasks) != n {
		if cycle := g.FindCycle(); cycle != nil {
			return nil, berr.DependencyCycle(g.Labels(cycle))
		}

		return nil, fmt.Errorf("schedule: emitted %d of %d tasks", len(order.Tasks), n)
	}

	return order, nil
}

// idHeap is a min-heap of task ids.
type idHeap []int

func (h idHeap) Len() int            { return len(h) }
func (h idHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x interface{}) { *h = append(*h, x.(int)) }

func (h *idHeap) Pop() interface{} {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]

	return x
}

// take removes and returns the smallest id satisfying pref, or the smallest
// id when none does.
func (h *idHeap) take(pref func(int) bool) int {
	best := -1

	for i, id := range *h {
		if pref(id) && (best < 0 || id < (*h)[best]) {
			best = i
		}
	}

	if best < 0 {
		return heap.Pop(h).(int)
	}

	return heap.Remove(h, best).(int)
}
