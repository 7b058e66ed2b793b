// Package syncalloc assigns the hardware synchronization bits that carry
// dependencies between queues.
//
// The allocator walks the emission order once. A task waits on the bits of
// all its predecessors, takes the lowest free bit if anything depends on it,
// and then releases the bits of predecessors for which it is the last
// dependent. A bit is therefore live from its producer's emission through its
// last dependent's emission, inclusive, and is never reused by the task that
// retires it. This mirrors linear-scan allocation over live intervals.
package syncalloc

import (
	"fmt"
	"math/bits"

	berr "github.com/nem-lang/nembind/internal/errors"
	"github.com/nem-lang/nembind/internal/graph"
	"github.com/nem-lang/nembind/internal/schedule"
)

// LiveInterval is the emission range over which a task's bit is held.
type LiveInterval struct {
	Task  *graph.Task
	Start int
	End   int
	Tag   int
}

// Result reports the allocation.
type Result struct {
	Width     int
	Peak      int
	Intervals []LiveInterval
}

// Allocator hands out bits from a pool of fixed width.
type Allocator struct {
	width int
	free  uint64
	owner []*graph.Task
}

// NewAllocator creates a pool of width bits.
func NewAllocator(width int) (*Allocator, error) {
	if width < 1 || width > 32 {
		return nil, fmt.Errorf("syncalloc: tag width must be in 1..32, got %d", width)
	}

	return &Allocator{
		width: width,
		free:  (uint64(1) << width) - 1,
		owner: make([]*graph.Task, width),
	}, nil
}

// Acquire takes the lowest free bit for t, or returns false when none is free.
func (a *Allocator) Acquire(t *graph.Task) (int, bool) {
	if a.free == 0 {
		return -1, false
	}

	tag := bits.TrailingZeros64(a.free)
	a.free &^= 1 << tag
	a.owner[tag] = t

	return tag, true
}

// Release returns a bit to the pool.
func (a *Allocator) Release(tag int) {
	a.free |= 1 << tag
	a.owner[tag] = nil
}

// Live returns the number of bits currently held.
func (a *Allocator) Live() int {
	return a.width - bits.OnesCount64(a.free)
}

// Holders lists the labels of tasks holding bits, by bit.
func (a *Allocator) Holders() []string {
	var out []string

	for tag, t := range a.owner {
		if t != nil {
			out = append(out, fmt.Sprintf("%s:%d", t.Label(), tag))
		}
	}

	return out
}

// Allocate fills Tag, Wait and Produce for every task of the order.
func Allocate(g *graph.Graph, order *schedule.Order, width int) (*Result, error) {
	a, err := NewAllocator(width)
	if err != nil {
		return nil, err
	}

	last := make([]int, len(g.Tasks))

	for _, t := range g.Tasks {
		last[t.ID] = -1

		for _, s := range g.Succs(t.ID) {
			if p := g.Tasks[s].Position; p > last[t.ID] {
				last[t.ID] = p
			}
		}
	}

	res := &Result{Width: width}
	open := make(map[int]int)

	for _, t := range order.Tasks {
		t.Wait = 0

		for _, p := range g.Preds(t.ID) {
			pt := g.Tasks[p]
			if pt.Tag < 0 {
				return nil, fmt.Errorf("syncalloc: %s waits on %s, which holds no bit", t.Label(), pt.Label())
			}

			t.Wait |= 1 << pt.Tag
		}

		t.Tag = -1
		t.Produce = 0

		if len(g.Succs(t.ID)) > 0 {
			tag, ok := a.Acquire(t)
			if !ok {
				return nil, berr.TagPoolExhausted(t.Label(), width, a.Holders())
			}

			t.Tag = tag
			t.Produce = 1 << tag
			open[t.ID] = len(res.Intervals)
			res.Intervals = append(res.Intervals, LiveInterval{Task: t, Start: t.Position, End: last[t.ID], Tag: tag})

			if live := a.Live(); live > res.Peak {
				res.Peak = live
			}
		}

		for _, p := range g.Preds(t.ID) {
			if last[p] == t.Position {
				a.Release(g.Tasks[p].Tag)
				delete(open, p)
			}
		}
	}

	if len(open) > 0 {
		return nil, fmt.Errorf("syncalloc: %d bits were never released", len(open))
	}

	return res, nil
}
