package schedule

import (
	"testing"

	"github.com/nem-lang/nembind/internal/graph"
	"github.com/nem-lang/nembind/internal/testrunner/assert"
)

func bound(g *graph.Graph, name string, unit graph.UnitType, phys int) *graph.Task {
	return g.AddTask(&graph.Task{Name: name, Iter: -1, Unit: unit, Physical: phys, Bound: true})
}

func ids(o *Order) []int {
	out := make([]int, len(o.Tasks))
	for i, t := range o.Tasks {
		out[i] = t.ID
	}

	return out
}

func TestEmitRespectsDependencies(t *testing.T) {
	g := graph.New("diamond")
	a := bound(g, "a", graph.UnitDMA, 0)
	b := bound(g, "b", graph.UnitVPU, 0)
	c := bound(g, "c", graph.UnitNMU, 0)
	d := bound(g, "d", graph.UnitDMA, 0)

	g.AddEdge(a.ID, c.ID, graph.EdgeExplicit, "")
	g.AddEdge(b.ID, c.ID, graph.EdgeExplicit, "")
	g.AddEdge(c.ID, d.ID, graph.EdgeExplicit, "")

	o, err := Emit(g)
	assert.NoError(t, err)
	assert.SliceEqual(t, ids(o), []int{0, 1, 2, 3})
	assert.Equal(t, d.Seq, 1)
	assert.Equal(t, d.Position, 3)
	assert.Len(t, o.Queues[graph.QueueKey{Unit: graph.UnitDMA}], 2)
}

func TestEmitPrefersQueueOrder(t *testing.T) {
	g := graph.New("queue")
	t0 := bound(g, "t0", graph.UnitDMA, 0)
	t1 := bound(g, "t1", graph.UnitVPU, 0)
	t2 := bound(g, "t2", graph.UnitVPU, 0)
	t3 := bound(g, "t3", graph.UnitNMU, 0)

	g.AddEdge(t3.ID, t0.ID, graph.EdgeExplicit, "")
	g.AddEdge(t0.ID, t1.ID, graph.EdgeExplicit, "")

	o, err := Emit(g)
	assert.NoError(t, err)
	assert.SliceEqual(t, ids(o), []int{3, 0, 1, 2})
	assert.Equal(t, t1.Seq, 0)
	assert.Equal(t, t2.Seq, 1)
}

func TestEmitFallsBackWhenQueueOrderConflicts(t *testing.T) {
	g := graph.New("conflict")
	late := bound(g, "late", graph.UnitVPU, 0)
	early := bound(g, "early", graph.UnitVPU, 0)
	g.AddEdge(early.ID, late.ID, graph.EdgeExplicit, "")

	o, err := Emit(g)
	assert.NoError(t, err)
	assert.SliceEqual(t, ids(o), []int{1, 0})
	assert.Equal(t, early.Seq, 0)
	assert.Equal(t, late.Seq, 1)
}

func TestEmitSeparatesPhysicalQueues(t *testing.T) {
	g := graph.New("instances")
	a := bound(g, "a", graph.UnitNMU, 0)
	b := bound(g, "b", graph.UnitNMU, 1)
	c := bound(g, "c", graph.UnitNMU, 0)

	_, err := Emit(g)
	assert.NoError(t, err)
	assert.Equal(t, a.Seq, 0)
	assert.Equal(t, b.Seq, 0)
	assert.Equal(t, c.Seq, 1)
}

func TestEmitErrors(t *testing.T) {
	g := graph.New("unbound")
	g.AddTask(&graph.Task{Name: "x", Unit: graph.UnitVPU})

	_, err := Emit(g)
	assert.Error(t, err)

	g = graph.New("cycle")
	a := bound(g, "a", graph.UnitVPU, 0)
	b := bound(g, "b", graph.UnitVPU, 0)
	g.AddEdge(a.ID, b.ID, graph.EdgeExplicit, "")
	g.AddEdge(b.ID, a.ID, graph.EdgeExplicit, "")

	_, err = Emit(g)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "cycle")
	}
}
