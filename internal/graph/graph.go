// Package graph defines the binder's graph model: the program IR received
// from the NEM front end and the expanded task graph that every binder stage
// consumes and annotates in turn.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nem-lang/nembind/internal/position"
)

// Buffer is a named static allocation. Base is the byte offset assigned
// within its memory level by the layout pass.
type Buffer struct {
	Name         string
	Level        MemoryLevel
	Size         int64
	Align        int64
	Slots        int
	SlotSize     int64
	Base         int64
	Placed       bool
	Readonly     bool
	Materialized bool
	Location     position.Position
}

// IsRing reports whether the buffer is a ring of more than one slot.
func (b *Buffer) IsRing() bool {
	return b.Slots > 1
}

// Region is a resolved view into a buffer. Slot is -1 for plain buffers.
type Region struct {
	Name         string
	Buffer       *Buffer
	Offset       int64
	Extent       int64
	Slot         int
	Elem         ElementType
	Shape        []int64
	Layout       string
	Materialized bool
	Readonly     bool
}

// End returns the exclusive end offset of the region within its buffer.
func (r *Region) End() int64 {
	return r.Offset + r.Extent
}

// WriteBack reports whether stores into the region must be written back.
func (r *Region) WriteBack() bool {
	return r.Materialized || r.Buffer.Materialized
}

// Elements returns the product of the shape, or 0 without a shape.
func (r *Region) Elements() int64 {
	if len(r.Shape) == 0 {
		return 0
	}

	n := int64(1)
	for _, d := range r.Shape {
		n *= d
	}

	return n
}

func (r *Region) String() string {
	if r.Slot >= 0 {
		return fmt.Sprintf("%s@%s[slot %d][%d,+%d)", r.Name, r.Buffer.Name, r.Slot, r.Offset, r.Extent)
	}

	return fmt.Sprintf("%s@%s[%d,+%d)", r.Name, r.Buffer.Name, r.Offset, r.Extent)
}

// Task is one concrete unit-of-work instance.
type Task struct {
	ID          int
	Name        string
	Loop        string
	Iter        int
	Opcode      string
	Unit        UnitType
	Logical     int64
	HasResource bool
	Inputs      []*Region
	Outputs     []*Region
	Attrs       map[string]int64
	Location    position.Position

	// Annotations filled by later stages.
	Physical int
	Bound    bool
	Seq      int
	Position int
	Tag      int
	Wait     uint32
	Produce  uint32
}

// Label returns the task instance name, e.g. "compute[2]".
func (t *Task) Label() string {
	if t.Iter < 0 {
		return t.Name
	}

	return fmt.Sprintf("%s[%d]", t.Name, t.Iter)
}

// Queue returns the physical unit queue key, valid after binding.
func (t *Task) Queue() QueueKey {
	return QueueKey{Unit: t.Unit, Instance: t.Physical}
}

// QueueKey identifies one physical unit queue.
type QueueKey struct {
	Unit     UnitType
	Instance int
}

func (q QueueKey) String() string {
	return fmt.Sprintf("%s[%d]", q.Unit, q.Instance)
}

// EdgeKind distinguishes authored from inserted dependencies.
type EdgeKind int

const (
	EdgeExplicit EdgeKind = iota
	EdgeImplicit
)

func (k EdgeKind) String() string {
	if k == EdgeImplicit {
		return "implicit"
	}

	return "explicit"
}

// Edge means "To must not begin before From completes".
type Edge struct {
	From   int
	To     int
	Kind   EdgeKind
	Reason string
}

// Graph is the expanded task graph.
type Graph struct {
	Name    string
	Buffers []*Buffer
	Tasks   []*Task
	Edges   []Edge

	buffers map[string]*Buffer
	preds   [][]int
	succs   [][]int
	edgeIdx map[[2]int]int
}

// New creates an empty graph.
func New(name string) *Graph {
	return &Graph{
		Name:    name,
		buffers: make(map[string]*Buffer),
		edgeIdx: make(map[[2]int]int),
	}
}

// AddBuffer registers a buffer; it returns false if the name is taken.
func (g *Graph) AddBuffer(b *Buffer) bool {
	if _, dup := g.buffers[b.Name]; dup {
		return false
	}

	g.buffers[b.Name] = b
	g.Buffers = append(g.Buffers, b)

	return true
}

// Buffer looks up a buffer by name.
func (g *Graph) Buffer(name string) *Buffer {
	return g.buffers[name]
}

// AddTask appends a task, assigning its dense ID in program order.
func (g *Graph) AddTask(t *Task) *Task {
	t.ID = len(g.Tasks)
	t.Tag = -1
	t.Position = -1
	g.Tasks = append(g.Tasks, t)
	g.preds = append(g.preds, nil)
	g.succs = append(g.succs, nil)

	return t
}

// AddEdge inserts from->to. Duplicate edges are ignored and reported false.
func (g *Graph) AddEdge(from, to int, kind EdgeKind, reason string) bool {
	key := [2]int{from, to}
	if _, dup := g.edgeIdx[key]; dup {
		return false
	}

	g.edgeIdx[key] = len(g.Edges)
	g.Edges = append(g.Edges, Edge{From: from, To: to, Kind: kind, Reason: reason})
	g.succs[from] = append(g.succs[from], to)
	g.preds[to] = append(g.preds[to], from)

	return true
}

// HasEdge reports whether the direct edge from->to exists.
func (g *Graph) HasEdge(from, to int) bool {
	_, ok := g.edgeIdx[[2]int{from, to}]
	return ok
}

// EdgeBetween returns the direct edge from->to.
func (g *Graph) EdgeBetween(from, to int) (Edge, bool) {
	i, ok := g.edgeIdx[[2]int{from, to}]
	if !ok {
		return Edge{}, false
	}

	return g.Edges[i], true
}

// Preds returns the direct dependencies of task id.
func (g *Graph) Preds(id int) []int { return g.preds[id] }

// Succs returns the direct dependents of task id.
func (g *Graph) Succs(id int) []int { return g.succs[id] }

// CountEdges returns the number of edges of the given kind.
func (g *Graph) CountEdges(kind EdgeKind) int {
	n := 0

	for _, e := range g.Edges {
		if e.Kind == kind {
			n++
		}
	}

	return n
}

// Reachable reports whether to is reachable from from over existing edges.
// A task is reachable from itself.
func (g *Graph) Reachable(from, to int) bool {
	if from == to {
		return true
	}

	seen := make([]bool, len(g.Tasks))
	stack := []int{from}
	seen[from] = true

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, s := range g.succs[n] {
			if s == to {
				return true
			}

			if !seen[s] {
				seen[s] = true
				stack = append(stack, s)
			}
		}
	}

	return false
}

// FindCycle returns the task ids on one dependency cycle, or nil when the
// graph is a DAG. The cycle is reported starting at its smallest id.
func (g *Graph) FindCycle() []int {
	const (
		white = iota
		grey
		black
	)

	color := make([]int, len(g.Tasks))
	parent := make([]int, len(g.Tasks))

	for root := range g.Tasks {
		if color[root] != white {
			continue
		}

		type frame struct{ node, next int }

		stack := []frame{{node: root}}
		color[root] = grey
		parent[root] = -1

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next >= len(g.succs[top.node]) {
				color[top.node] = black
				stack = stack[:len(stack)-1]

				continue
			}

			s := g.succs[top.node][top.next]
			top.next++

			switch color[s] {
			case white:
				color[s] = grey
				parent[s] = top.node
				stack = append(stack, frame{node: s})
			case grey:
				cycle := []int{s}
				for n := top.node; n != s; n = parent[n] {
					cycle = append(cycle, n)
				}

				return rotateCycle(reverseInts(cycle[1:]), s)
			}
		}
	}

	return nil
}

// rotateCycle builds [s, path...] and rotates it to start at the smallest id.
func rotateCycle(path []int, s int) []int {
	cycle := append([]int{s}, path...)
	minAt := 0

	for i, v := range cycle {
		if v < cycle[minAt] {
			minAt = i
		}
	}

	return append(append([]int(nil), cycle[minAt:]...), cycle[:minAt]...)
}

func reverseInts(xs []int) []int {
	out := make([]int, len(xs))
	for i, v := range xs {
		out[len(xs)-1-i] = v
	}

	return out
}

// Labels maps task ids to task labels.
func (g *Graph) Labels(ids []int) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = g.Tasks[id].Label()
	}

	return out
}

// FindTask returns the task instance with the given name and iteration.
func (g *Graph) FindTask(name string, iter int) *Task {
	for _, t := range g.Tasks {
		if t.Name == name && t.Iter == iter {
			return t
		}
	}

	return nil
}

// String renders tasks and edges in a stable textual form for debugging.
func (g *Graph) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "graph %s\n", g.Name)

	for _, t := range g.Tasks {
		fmt.Fprintf(&b, "  t%d %s %s/%s", t.ID, t.Label(), t.Unit, t.Opcode)

		if t.Bound {
			fmt.Fprintf(&b, " -> %s", t.Queue())
		}

		b.WriteByte('\n')
	}

	edges := append([]Edge(nil), g.Edges...)
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].To != edges[j].To {
			return edges[i].To < edges[j].To
		}

		return edges[i].From < edges[j].From
	})

	for _, e := range edges {
		fmt.Fprintf(&b, "  %s -> %s (%s", g.Tasks[e.From].Label(), g.Tasks[e.To].Label(), e.Kind)

		if e.Reason != "" {
			fmt.Fprintf(&b, ": %s", e.Reason)
		}

		b.WriteString(")\n")
	}

	return b.String()
}
